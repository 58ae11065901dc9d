package session

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/danmuck/cileserver/internal/protocol"
)

// Dial connects to addr and wraps the connection in a Session. Connection
// attempts are retried with backoff up to cfg.ConnectAttempts; an exchange is
// never retried.
func Dial(ctx context.Context, addr string, cfg Config) (*Session, error) {
	cfg = cfg.WithDefaults()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}

	var lastErr error
	for attempt := 1; attempt <= cfg.ConnectAttempts; attempt++ {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return New(conn, cfg), nil
		}
		lastErr = err
		if attempt == cfg.ConnectAttempts {
			break
		}
		delay := NextBackoffDelay(cfg.Backoff, attempt, rng)
		cfg.logger().Warn().Err(err).Str("addr", addr).Int("attempt", attempt).Dur("retry_in", delay).Msg("session.Dial failed")
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: dial %s: %w", protocol.ErrTransport, addr, ctx.Err())
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("%w: dial %s after %d attempt(s): %w", protocol.ErrTransport, addr, cfg.ConnectAttempts, lastErr)
}

// NextBackoffDelay returns the wait before retry attempt+1, where attempt is
// the 1-based attempt that just failed. Jitter scales the delay into
// [delay/2, delay) and never exceeds MaxDelay.
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	mult := math.Max(cfg.Multiplier, 1)
	delay := float64(cfg.InitialDelay) * math.Pow(mult, float64(max(attempt, 1)-1))
	if cfg.MaxDelay > 0 {
		delay = math.Min(delay, float64(cfg.MaxDelay))
	}
	if cfg.Jitter && rng != nil {
		delay *= 0.5 + rng.Float64()/2
	}
	return time.Duration(delay)
}
