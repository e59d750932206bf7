package rate

import (
	"context"
	"fmt"
	"time"
)

// Limiter gates outbound calls so a sync cycle does not hammer the model API.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Bucket is a fixed-rate token bucket releasing n tokens per second.
type Bucket struct {
	ticker *time.Ticker
	tokens chan struct{}
	quit   chan struct{}
	done   chan struct{}
}

func NewBucket(perSecond int) *Bucket {
	if perSecond <= 0 {
		perSecond = 1
	}
	b := &Bucket{
		ticker: time.NewTicker(time.Second / time.Duration(perSecond)),
		tokens: make(chan struct{}, perSecond),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	// the first call never waits
	b.tokens <- struct{}{}
	go b.refill()
	return b
}

func (b *Bucket) refill() {
	defer close(b.done)
	for {
		select {
		case <-b.quit:
			return
		case <-b.ticker.C:
			select {
			case b.tokens <- struct{}{}:
			default:
			}
		}
	}
}

// Wait blocks until a token is available or the context ends.
func (b *Bucket) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate wait canceled: %w", ctx.Err())
	case <-b.tokens:
		return nil
	}
}

// Stop releases the refill goroutine.
func (b *Bucket) Stop() {
	b.ticker.Stop()
	close(b.quit)
	<-b.done
}

var _ Limiter = (*Bucket)(nil)

// Unlimited never blocks. Used where pacing is disabled.
type Unlimited struct{}

func (Unlimited) Wait(context.Context) error { return nil }
