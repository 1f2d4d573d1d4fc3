package gpu

import "log/slog"

// UploaderBuilderOption is a functional option for configuring an Uploader.
type UploaderBuilderOption func(*uploader)

// WithMinCapacity sets the smallest buffer the uploader allocates.
//
// Parameters:
//   - bytes: the minimum capacity in bytes
//
// Returns:
//   - UploaderBuilderOption: a function that applies the capacity
func WithMinCapacity(bytes uint64) UploaderBuilderOption {
	return func(u *uploader) {
		u.minCapacity = align4(bytes)
	}
}

// WithLabelPrefix sets the prefix of buffer debug labels.
//
// Parameters:
//   - prefix: the label prefix
//
// Returns:
//   - UploaderBuilderOption: a function that applies the prefix
func WithLabelPrefix(prefix string) UploaderBuilderOption {
	return func(u *uploader) {
		u.labelPrefix = prefix
	}
}

// WithLogger sets the uploader's logger.
//
// Parameters:
//   - logger: the logger, ignored when nil
//
// Returns:
//   - UploaderBuilderOption: a function that applies the logger
func WithLogger(logger *slog.Logger) UploaderBuilderOption {
	return func(u *uploader) {
		if logger != nil {
			u.logger = logger
		}
	}
}
