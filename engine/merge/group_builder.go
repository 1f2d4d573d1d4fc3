package merge

import (
	"log/slog"

	"github.com/Carmen-Shannon/oxy-merge/engine/batch"
	"github.com/Carmen-Shannon/oxy-merge/engine/node"
)

// GroupBuilderOption is a functional option for configuring a Group.
type GroupBuilderOption func(*group)

// WithEngine sets the batch engine the group delegates buffer work to.
//
// Parameters:
//   - e: the engine
//
// Returns:
//   - GroupBuilderOption: a function that applies the engine
func WithEngine(e batch.Engine) GroupBuilderOption {
	return func(g *group) {
		g.engine = e
	}
}

// WithYieldEvery sets how many mesh leaves the collector processes between yields.
// Zero or less disables yielding.
//
// Parameters:
//   - n: the yield cadence
//
// Returns:
//   - GroupBuilderOption: a function that applies the cadence
func WithYieldEvery(n int) GroupBuilderOption {
	return func(g *group) {
		g.collector.yieldEvery = n
	}
}

// WithYielder replaces the default SchedulerYielder.
//
// Parameters:
//   - y: the yielder, ignored when nil
//
// Returns:
//   - GroupBuilderOption: a function that applies the yielder
func WithYielder(y Yielder) GroupBuilderOption {
	return func(g *group) {
		if y != nil {
			g.collector.yielder = y
		}
	}
}

// WithBakeWorkers sets how many pool workers bake snapshots. One or less bakes on the
// calling goroutine.
//
// Parameters:
//   - n: the number of workers
//
// Returns:
//   - GroupBuilderOption: a function that applies the worker count
func WithBakeWorkers(n int) GroupBuilderOption {
	return func(g *group) {
		g.bakeWorkers = n
	}
}

// WithAllocator sets the slot allocator, typically one with a known start for tests.
//
// Parameters:
//   - a: the allocator
//
// Returns:
//   - GroupBuilderOption: a function that applies the allocator
func WithAllocator(a *Allocator) GroupBuilderOption {
	return func(g *group) {
		g.alloc = a
	}
}

// WithOrigin bakes snapshots relative to origin's world space instead of world space,
// so the container can be attached under origin.
//
// Parameters:
//   - origin: the region root
//
// Returns:
//   - GroupBuilderOption: a function that applies the origin
func WithOrigin(origin node.Node) GroupBuilderOption {
	return func(g *group) {
		g.collector.origin = origin
	}
}

// WithCoalescing keeps one pending Merge behind the running one instead of dropping it.
//
// Parameters:
//   - enabled: true to queue instead of drop
//
// Returns:
//   - GroupBuilderOption: a function that applies the policy
func WithCoalescing(enabled bool) GroupBuilderOption {
	return func(g *group) {
		g.coalesce = enabled
	}
}

// WithLogger sets the group's logger.
//
// Parameters:
//   - logger: the logger, ignored when nil
//
// Returns:
//   - GroupBuilderOption: a function that applies the logger
func WithLogger(logger *slog.Logger) GroupBuilderOption {
	return func(g *group) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithShadows sets the shadow flags of the merged mesh nodes.
//
// Parameters:
//   - cast: true if merged meshes cast shadows
//   - receive: true if merged meshes receive shadows
//
// Returns:
//   - GroupBuilderOption: a function that applies the flags
func WithShadows(cast, receive bool) GroupBuilderOption {
	return func(g *group) {
		g.castShadow = cast
		g.receiveShadow = receive
	}
}
