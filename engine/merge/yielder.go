package merge

import (
	"context"
	"runtime"
	"time"
)

// Yielder is called by the snapshot collector every few mesh leaves so a long traversal
// gives other goroutines a chance to run. Returning an error aborts the traversal
// before anything is mutated.
type Yielder interface {
	// Yield suspends the traversal.
	//
	// Parameters:
	//   - ctx: the context of the running pass
	//
	// Returns:
	//   - error: non-nil to abort the pass
	Yield(ctx context.Context) error
}

// YieldFunc adapts a function to the Yielder interface.
type YieldFunc func(ctx context.Context) error

// Yield calls f(ctx).
func (f YieldFunc) Yield(ctx context.Context) error {
	return f(ctx)
}

// SchedulerYielder yields the processor and optionally sleeps for Delay.
type SchedulerYielder struct {
	Delay time.Duration
}

// Yield gives up the processor, waits for Delay if set, and reports ctx cancellation.
func (y SchedulerYielder) Yield(ctx context.Context) error {
	runtime.Gosched()
	if y.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(y.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
