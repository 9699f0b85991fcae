package connection

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/fbzhong/tuic/internal/metrics"
	"github.com/fbzhong/tuic/internal/protocol"
)

// maxPendingPackets bounds the fragmented packets buffered across all
// connections sharing a cache.
const maxPendingPackets = 16384

type fragmentKey struct {
	connID  uint32
	assocID uint16
	pktID   uint16
}

type fragmentBuffer struct {
	total    uint8
	received int
	addr     protocol.Address
	parts    [][]byte
	seen     []bool
	done     bool
}

// FragmentCache collects packet fragments until every fragment of a packet
// has arrived. Incomplete packets are evicted after a TTL. One cache is
// shared by every connection of a server.
type FragmentCache struct {
	mu      sync.Mutex
	pending *expirable.LRU[fragmentKey, *fragmentBuffer]
}

// NewFragmentCache creates a cache evicting incomplete packets after ttl.
func NewFragmentCache(ttl time.Duration, m *metrics.Metrics) *FragmentCache {
	onEvict := func(_ fragmentKey, buf *fragmentBuffer) {
		if !buf.done {
			m.RecordFragmentExpired()
		}
	}

	return &FragmentCache{
		pending: expirable.NewLRU[fragmentKey, *fragmentBuffer](maxPendingPackets, onEvict, ttl),
	}
}

// add stores pkt and returns the full payload and destination once the last
// missing fragment arrives.
func (r *FragmentCache) add(connID uint32, pkt *protocol.Packet) ([]byte, protocol.Address, bool) {
	if pkt.FragTotal <= 1 {
		return pkt.Payload, pkt.Addr, true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := fragmentKey{connID: connID, assocID: pkt.AssocID, pktID: pkt.PktID}

	buf, ok := r.pending.Get(key)
	if !ok || buf.total != pkt.FragTotal {
		buf = &fragmentBuffer{
			total: pkt.FragTotal,
			parts: make([][]byte, pkt.FragTotal),
			seen:  make([]bool, pkt.FragTotal),
		}
		r.pending.Add(key, buf)
	}

	if buf.seen[pkt.FragID] {
		return nil, protocol.Address{}, false
	}

	buf.seen[pkt.FragID] = true
	buf.parts[pkt.FragID] = pkt.Payload
	buf.received++
	if pkt.FragID == 0 {
		buf.addr = pkt.Addr
	}

	if buf.received < int(buf.total) {
		return nil, protocol.Address{}, false
	}

	buf.done = true
	r.pending.Remove(key)

	size := 0
	for _, p := range buf.parts {
		size += len(p)
	}
	payload := make([]byte, 0, size)
	for _, p := range buf.parts {
		payload = append(payload, p...)
	}

	return payload, buf.addr, true
}

// len returns the number of incomplete packets.
func (r *FragmentCache) len() int {
	return r.pending.Len()
}
