package udp

import (
	"context"
	"log/slog"
	"net/netip"
	"sync"

	"github.com/fbzhong/tuic/internal/recovery"
)

// relayJob is a received datagram waiting to be relayed into the tunnel.
type relayJob struct {
	payload []byte
	from    netip.AddrPort
}

// dispatcher relays received datagrams on a fixed number of workers fed by a
// bounded queue. Jobs complete in no particular order.
type dispatcher struct {
	queue chan relayJob
	wg    sync.WaitGroup
}

func newDispatcher(ctx context.Context, workers, queueSize int, relay func(context.Context, relayJob), logger *slog.Logger) *dispatcher {
	d := &dispatcher{
		queue: make(chan relayJob, queueSize),
	}

	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer d.wg.Done()

			for {
				select {
				case <-ctx.Done():
					return
				case job := <-d.queue:
					runJob(ctx, job, relay, logger)
				}
			}
		}()
	}

	return d
}

// runJob isolates a panicking relay so the worker survives it.
func runJob(ctx context.Context, job relayJob, relay func(context.Context, relayJob), logger *slog.Logger) {
	defer recovery.RecoverWithLog(logger, "udp-relay")
	relay(ctx, job)
}

// submit queues job. When the queue is full the oldest queued job is
// discarded to make room, and submit reports true.
// Only the listening loop submits, so the retry below cannot starve.
func (d *dispatcher) submit(job relayJob) (dropped bool) {
	for {
		select {
		case d.queue <- job:
			return dropped
		default:
		}

		select {
		case <-d.queue:
			dropped = true
		default:
		}
	}
}

// wait blocks until every worker has returned. Workers return once the
// context passed to newDispatcher is cancelled.
func (d *dispatcher) wait() {
	d.wg.Wait()
}
