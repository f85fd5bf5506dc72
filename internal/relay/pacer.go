package relay

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// DefaultChunkDelay is the minimum spacing between outbound lines.
const DefaultChunkDelay = 100 * time.Millisecond

// Pacer spaces outbound sends. Wait blocks until the next send may proceed
// or ctx is done.
type Pacer interface {
	Wait(ctx context.Context) error
}

// RatePacer is a token bucket allowing one send per interval with no burst
// beyond a single line.
type RatePacer struct {
	limiter *rate.Limiter
}

// NewRatePacer creates a pacer that lets one line through every interval.
// A non-positive interval disables pacing.
func NewRatePacer(interval time.Duration) *RatePacer {
	if interval <= 0 {
		return &RatePacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &RatePacer{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until a token is available.
func (p *RatePacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}
