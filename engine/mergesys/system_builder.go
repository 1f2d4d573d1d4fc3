package mergesys

import (
	"log/slog"
	"time"

	"github.com/Carmen-Shannon/oxy-merge/engine/merge"
)

// SystemBuilderOption is a functional option for configuring a System.
type SystemBuilderOption func(*system)

// WithWorkers sets how many pool workers run batch passes.
//
// Parameters:
//   - n: the number of workers
//
// Returns:
//   - SystemBuilderOption: a function that applies the worker count
func WithWorkers(n int) SystemBuilderOption {
	return func(s *system) {
		s.workers = n
	}
}

// WithStartupGrace sets how long after creation the system always counts as loading.
//
// Parameters:
//   - d: the grace period
//
// Returns:
//   - SystemBuilderOption: a function that applies the grace period
func WithStartupGrace(d time.Duration) SystemBuilderOption {
	return func(s *system) {
		s.startupGrace = d
	}
}

// WithLoadingThreshold sets how many loading or waiting children an owner may have
// before the system counts as loading.
//
// Parameters:
//   - n: the threshold
//
// Returns:
//   - SystemBuilderOption: a function that applies the threshold
func WithLoadingThreshold(n int) SystemBuilderOption {
	return func(s *system) {
		s.loadingThreshold = n
	}
}

// WithLoadingCounter sets the counter notified by Tick.
//
// Parameters:
//   - c: the counter
//
// Returns:
//   - SystemBuilderOption: a function that applies the counter
func WithLoadingCounter(c LoadingCounter) SystemBuilderOption {
	return func(s *system) {
		s.counter = c
	}
}

// WithClock replaces time.Now for timestamps and the startup reference.
//
// Parameters:
//   - clock: the time source
//
// Returns:
//   - SystemBuilderOption: a function that applies the clock
func WithClock(clock func() time.Time) SystemBuilderOption {
	return func(s *system) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithGroupOptions sets extra options for every owner's merge group.
//
// Parameters:
//   - options: the group options
//
// Returns:
//   - SystemBuilderOption: a function that applies the group options
func WithGroupOptions(options ...merge.GroupBuilderOption) SystemBuilderOption {
	return func(s *system) {
		s.groupOptions = append(s.groupOptions, options...)
	}
}

// WithLogger sets the system's logger. Groups created by the system share it.
//
// Parameters:
//   - logger: the logger, ignored when nil
//
// Returns:
//   - SystemBuilderOption: a function that applies the logger
func WithLogger(logger *slog.Logger) SystemBuilderOption {
	return func(s *system) {
		if logger != nil {
			s.logger = logger
		}
	}
}
