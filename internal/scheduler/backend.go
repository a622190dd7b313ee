package scheduler

import (
	"context"
	"time"
)

// Backend supplies ticks only — it knows nothing about schedules,
// locks, or WorkSpecs. Swapping Backend lets the same Service run on an
// in-process ticker or (in a distributed deployment) on a shared beat
// signal so only one process ticks at a time even with several replicas
// of the scheduler binary running.
type Backend interface {
	// Ticks returns a channel that receives a value once per tick until
	// ctx is cancelled, at which point it is closed.
	Ticks(ctx context.Context) <-chan time.Time
}

// TickerBackend is the in-process implementation, backed by time.Ticker.
type TickerBackend struct {
	interval time.Duration
}

func NewTickerBackend(interval time.Duration) *TickerBackend {
	return &TickerBackend{interval: interval}
}

func (b *TickerBackend) Ticks(ctx context.Context) <-chan time.Time {
	out := make(chan time.Time)
	go func() {
		defer close(out)
		t := time.NewTicker(b.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case tm := <-t.C:
				select {
				case out <- tm:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
