package batch

import "log/slog"

// EngineBuilderOption is a functional option for configuring an Engine.
type EngineBuilderOption func(*engine)

// WithEngineLogger sets the logger the engine reports to.
//
// Parameters:
//   - logger: the logger, ignored when nil
//
// Returns:
//   - EngineBuilderOption: a function that applies the logger
func WithEngineLogger(logger *slog.Logger) EngineBuilderOption {
	return func(e *engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}
