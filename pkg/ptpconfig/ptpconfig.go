// Package ptpconfig binds the protocol's operational constants (max
// transmissions, TIME_WAIT linger, ack fan-out buffering) to environment
// variables so they can be tuned for testing without touching code.
package ptpconfig

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds the tunables. Defaults match the protocol's built-in
// constants (3 total transmissions, ~2s linger).
type Config struct {
	// MaxTransmissions is the total number of times a single segment (SYN,
	// DATA chunk, or FIN) may be put on the wire before the sender gives up
	// and escalates to RESET: the original transmission plus 2 retransmits.
	MaxTransmissions int `env:"PTP_MAX_TRANSMISSIONS,default=3"`

	// LingerDuration is how long the sender holds its socket open after a
	// FIN is acknowledged, to absorb a retransmitted FIN.
	LingerDuration time.Duration `env:"PTP_LINGER_DURATION,default=2s"`

	// AckBusBuffer is the per-subscriber buffer depth of the sender's ACK
	// fan-out bus (pkg/ptp's demultiplexer). Purely a performance knob; it
	// does not change protocol semantics.
	AckBusBuffer int `env:"PTP_ACKBUS_BUFFER,default=8"`
}

// Load reads the Config from the environment, falling back to defaults.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the protocol's built-in constants without consulting the
// environment, for use in tests.
func Default() *Config {
	return &Config{
		MaxTransmissions: 3,
		LingerDuration:   2 * time.Second,
		AckBusBuffer:     8,
	}
}
