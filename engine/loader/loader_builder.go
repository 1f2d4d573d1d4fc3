package loader

import (
	"log/slog"

	"github.com/viant/afs"
)

// LoaderBuilderOption is a functional option for configuring a Loader via NewLoader.
type LoaderBuilderOption func(*loader)

// WithFS is an option builder that sets the afs service used to read documents and buffers.
//
// Parameters:
//   - fs: the storage service
//
// Returns:
//   - LoaderBuilderOption: a function that applies the storage option to a loader
func WithFS(fs afs.Service) LoaderBuilderOption {
	return func(l *loader) {
		l.fs = fs
	}
}

// WithName is an option builder that fixes the asset name used in geometry identities
// ("<name>#mesh<i>/prim<j>"). By default Load uses the file name without extension.
//
// Parameters:
//   - name: the asset name
//
// Returns:
//   - LoaderBuilderOption: a function that applies the name option to a loader
func WithName(name string) LoaderBuilderOption {
	return func(l *loader) {
		l.name = name
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) LoaderBuilderOption {
	return func(l *loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}
