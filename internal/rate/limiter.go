// Package rate paces provider calls so a run stays inside per-account quotas.
package rate

import (
	"context"
	"fmt"
	"time"
)

// Limiter gates outbound provider calls.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Unlimited never blocks.
type Unlimited struct{}

// Wait only reports cancellation.
func (Unlimited) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rate wait canceled: %w", err)
	}
	return nil
}

// TokenBucket releases a fixed number of tokens per second and holds at
// most burst of them.
type TokenBucket struct {
	ticker   *time.Ticker
	tokens   chan struct{}
	done     chan struct{}
	stopDone chan struct{}
}

// NewTokenBucket returns a limiter allowing rps calls per second with
// bursts of up to burst calls. Non-positive values are raised to 1.
func NewTokenBucket(rps, burst int) *TokenBucket {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	tb := &TokenBucket{
		ticker:   time.NewTicker(time.Second / time.Duration(rps)),
		tokens:   make(chan struct{}, burst),
		done:     make(chan struct{}),
		stopDone: make(chan struct{}),
	}
	// first call proceeds immediately
	tb.tokens <- struct{}{}
	go tb.run()
	return tb
}

func (t *TokenBucket) run() {
	defer close(t.stopDone)
	for {
		select {
		case <-t.done:
			return
		case <-t.ticker.C:
			select {
			case t.tokens <- struct{}{}:
			default:
			}
		}
	}
}

// Wait blocks until a token is available or the context is canceled.
func (t *TokenBucket) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate wait canceled: %w", ctx.Err())
	case <-t.tokens:
		return nil
	}
}

// Stop releases the ticker goroutine. It must be called once.
func (t *TokenBucket) Stop() {
	t.ticker.Stop()
	close(t.done)
	<-t.stopDone
}

var (
	_ Limiter = (*TokenBucket)(nil)
	_ Limiter = Unlimited{}
)
