package udp

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.RelayIPv6 {
		t.Error("RelayIPv6 should be true by default")
	}
	if cfg.MaxIdleTime != 10*time.Second {
		t.Errorf("MaxIdleTime = %v, want 10s", cfg.MaxIdleTime)
	}
	if cfg.MaxExternalPacketSize != 1500 {
		t.Errorf("MaxExternalPacketSize = %d, want 1500", cfg.MaxExternalPacketSize)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"idle disabled", func(c *Config) { c.MaxIdleTime = 0 }, false},
		{"negative idle", func(c *Config) { c.MaxIdleTime = -time.Second }, true},
		{"zero packet size", func(c *Config) { c.MaxExternalPacketSize = 0 }, true},
		{"oversized packet size", func(c *Config) { c.MaxExternalPacketSize = 70000 }, true},
		{"no workers", func(c *Config) { c.RelayWorkers = 0 }, true},
		{"no queue", func(c *Config) { c.RelayQueueSize = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
