package protocol

import (
	"bytes"
	"errors"
	"net/netip"
	"testing"
)

func TestSplitPacket_SingleFragment(t *testing.T) {
	addr := SocketAddress(netip.MustParseAddrPort("203.0.113.5:9000"))
	frags, err := SplitPacket(1, 2, addr, []byte("hello"), 1200)
	if err != nil {
		t.Fatalf("SplitPacket() error = %v", err)
	}

	if len(frags) != 1 {
		t.Fatalf("got %d fragments, want 1", len(frags))
	}
	if frags[0].FragTotal != 1 || frags[0].FragID != 0 {
		t.Errorf("frag = %d/%d, want 0/1", frags[0].FragID, frags[0].FragTotal)
	}
	if frags[0].Addr != addr {
		t.Errorf("Addr = %v, want %v", frags[0].Addr, addr)
	}
}

func TestSplitPacket_MultipleFragments(t *testing.T) {
	addr := SocketAddress(netip.MustParseAddrPort("[2001:db8::1]:9000"))
	payload := bytes.Repeat([]byte{0xab}, 250)
	const maxDatagram = 100

	frags, err := SplitPacket(3, 4, addr, payload, maxDatagram)
	if err != nil {
		t.Fatalf("SplitPacket() error = %v", err)
	}

	if len(frags) < 2 {
		t.Fatalf("got %d fragments, want several", len(frags))
	}

	var joined []byte
	for i, f := range frags {
		if f.EncodedLen() > maxDatagram {
			t.Errorf("fragment %d encodes to %d bytes, limit %d", i, f.EncodedLen(), maxDatagram)
		}
		if int(f.FragID) != i || int(f.FragTotal) != len(frags) {
			t.Errorf("fragment %d header = %d/%d", i, f.FragID, f.FragTotal)
		}
		if i == 0 && f.Addr != addr {
			t.Errorf("first fragment addr = %v, want %v", f.Addr, addr)
		}
		if i > 0 && !f.Addr.IsNone() {
			t.Errorf("fragment %d addr = %v, want none", i, f.Addr)
		}
		joined = append(joined, f.Payload...)
	}

	if !bytes.Equal(joined, payload) {
		t.Error("reassembled payload differs from original")
	}
}

func TestSplitPacket_TooLarge(t *testing.T) {
	addr := SocketAddress(netip.MustParseAddrPort("203.0.113.5:9000"))

	if _, err := SplitPacket(1, 1, addr, []byte("x"), 10); !errors.Is(err, ErrPacketTooLarge) {
		t.Errorf("tiny datagram: error = %v, want ErrPacketTooLarge", err)
	}

	payload := make([]byte, 65535)
	if _, err := SplitPacket(1, 1, addr, payload, 40); !errors.Is(err, ErrPacketTooLarge) {
		t.Errorf("too many fragments: error = %v, want ErrPacketTooLarge", err)
	}
}
