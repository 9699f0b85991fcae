package udp

import (
	"fmt"
	"time"
)

// Config is the per-session configuration snapshot. It is copied into the
// session at construction and never changes afterwards.
type Config struct {
	// RelayIPv6 enables the IPv6 socket. When false, sends to IPv6
	// destinations fail with ErrIPv6RelayDisabled.
	RelayIPv6 bool

	// MaxIdleTime is how long the listening loop may go without an
	// iteration before the parent connection is closed.
	// 0 disables the idle timer.
	MaxIdleTime time.Duration

	// MaxExternalPacketSize is the receive buffer size. Larger datagrams
	// are truncated by the kernel.
	MaxExternalPacketSize int

	// RelayWorkers is the number of goroutines relaying received datagrams
	// back into the tunnel.
	RelayWorkers int

	// RelayQueueSize bounds the datagrams waiting for a relay worker.
	// When full, the oldest queued datagram is dropped.
	RelayQueueSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RelayIPv6:             true,
		MaxIdleTime:           10 * time.Second,
		MaxExternalPacketSize: 1500,
		RelayWorkers:          4,
		RelayQueueSize:        256,
	}
}

// Validate checks the configuration for values a session cannot run with.
func (c Config) Validate() error {
	if c.MaxExternalPacketSize <= 0 || c.MaxExternalPacketSize > 65535 {
		return fmt.Errorf("max external packet size must be in 1..65535, got %d", c.MaxExternalPacketSize)
	}
	if c.MaxIdleTime < 0 {
		return fmt.Errorf("max idle time must not be negative, got %v", c.MaxIdleTime)
	}
	if c.RelayWorkers <= 0 {
		return fmt.Errorf("relay workers must be positive, got %d", c.RelayWorkers)
	}
	if c.RelayQueueSize <= 0 {
		return fmt.Errorf("relay queue size must be positive, got %d", c.RelayQueueSize)
	}
	return nil
}
