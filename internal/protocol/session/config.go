package session

import (
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultBufferSize = 4096
	DefaultMaxDrain   = 1 << 20
	// MinBufferSize leaves room for either fixed header in the buffer.
	MinBufferSize = 16
)

// BackoffConfig defines dial retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines the transfer buffer and deadline policy of one session.
type Config struct {
	// BufferSize is the transfer buffer capacity and the payload ceiling in
	// both directions. Both ends must agree on it.
	BufferSize int
	// ReadTimeout and WriteTimeout bound each read/write phase. Zero disables.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// IdleTimeout bounds the server-role wait for the next request header.
	IdleTimeout time.Duration
	// MaxDrain is the largest rejected frame the server role will discard to
	// keep the stream framed. Larger frames fail the session.
	MaxDrain int64

	ConnectTimeout  time.Duration
	ConnectAttempts int
	Backoff         BackoffConfig

	// Logger overrides the global logger when set.
	Logger *zerolog.Logger
}

// DefaultConfig returns a 4096-byte buffer and 30s phase deadlines.
func DefaultConfig() Config {
	return Config{
		BufferSize:      DefaultBufferSize,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     0,
		MaxDrain:        DefaultMaxDrain,
		ConnectTimeout:  5 * time.Second,
		ConnectAttempts: 1,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero-valued sizing fields. Timeouts stay as given since
// zero means "no deadline".
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	switch {
	case c.BufferSize <= 0:
		c.BufferSize = d.BufferSize
	case c.BufferSize < MinBufferSize:
		c.BufferSize = MinBufferSize
	}
	if c.MaxDrain <= 0 {
		c.MaxDrain = d.MaxDrain
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = 1
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = d.Backoff
	}
	return c
}
