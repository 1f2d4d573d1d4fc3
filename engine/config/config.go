// Package config loads the settings of a merge deployment from a YAML or TOML file and
// turns them into builder options for the merge, mergesys and gpu packages.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/Carmen-Shannon/oxy-merge/common"
	"github.com/Carmen-Shannon/oxy-merge/engine/gpu"
	"github.com/Carmen-Shannon/oxy-merge/engine/merge"
	"github.com/Carmen-Shannon/oxy-merge/engine/mergesys"

	"github.com/pelletier/go-toml/v2"
	"github.com/viant/afs"
	"gopkg.in/yaml.v3"
)

// ErrUnknownFormat is returned for a file extension other than .yaml, .yml or .toml.
var ErrUnknownFormat = errors.New("unknown config format")

// Format identifies the encoding of a config document.
type Format int

const (
	FormatYAML Format = iota
	FormatTOML
)

// Duration is a time.Duration written as a string ("250ms", "3s") in config files.
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText writes the duration in Go notation.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config is the root of a config document.
type Config struct {
	LogLevel string       `yaml:"logLevel" toml:"logLevel"`
	Merge    MergeConfig  `yaml:"merge" toml:"merge"`
	System   SystemConfig `yaml:"system" toml:"system"`
	GPU      GPUConfig    `yaml:"gpu" toml:"gpu"`
	Bench    BenchConfig  `yaml:"bench" toml:"bench"`
}

// MergeConfig tunes a single merge group.
type MergeConfig struct {
	YieldEvery  int      `yaml:"yieldEvery" toml:"yieldEvery"`
	YieldDelay  Duration `yaml:"yieldDelay" toml:"yieldDelay"`
	BakeWorkers int      `yaml:"bakeWorkers" toml:"bakeWorkers"`
	Coalesce    bool     `yaml:"coalesce" toml:"coalesce"`
}

// SystemConfig tunes the owner-level merge system.
type SystemConfig struct {
	Workers          int      `yaml:"workers" toml:"workers"`
	StartupGrace     Duration `yaml:"startupGrace" toml:"startupGrace"`
	LoadingThreshold int      `yaml:"loadingThreshold" toml:"loadingThreshold"`
}

// GPUConfig controls the optional buffer upload.
type GPUConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled"`
	ForceFallback bool   `yaml:"forceFallback" toml:"forceFallback"`
	MinCapacity   uint64 `yaml:"minCapacity" toml:"minCapacity"`
}

// BenchConfig shapes the synthetic scene of the benchmark command.
type BenchConfig struct {
	GridSide        int     `yaml:"gridSide" toml:"gridSide"`
	Spacing         float32 `yaml:"spacing" toml:"spacing"`
	MovedFraction   float64 `yaml:"movedFraction" toml:"movedFraction"`
	RemovedFraction float64 `yaml:"removedFraction" toml:"removedFraction"`
}

// Default returns a Config with every field at its default. Parse decodes documents on
// top of it, so keys a document leaves out keep these values and explicit zeros stick.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Merge: MergeConfig{
			YieldEvery:  50,
			BakeWorkers: 4,
		},
		System: SystemConfig{
			Workers:          4,
			StartupGrace:     Duration(3 * time.Second),
			LoadingThreshold: 3,
		},
		GPU: GPUConfig{
			MinCapacity: 256,
		},
		Bench: BenchConfig{
			GridSide:        16,
			Spacing:         2,
			MovedFraction:   0.1,
			RemovedFraction: 0.05,
		},
	}
}

// Load reads a config document through fs. The format follows the extension.
//
// Parameters:
//   - ctx: the context for the download
//   - fs: the storage service; nil uses afs.New()
//   - URL: the document location
//
// Returns:
//   - *Config: the parsed config with defaults applied
//   - error: ErrUnknownFormat, a read error or a decode error
func Load(ctx context.Context, fs afs.Service, URL string) (*Config, error) {
	format, err := FormatOf(URL)
	if err != nil {
		return nil, err
	}
	if fs == nil {
		fs = afs.New()
	}
	data, err := fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", URL, err)
	}
	c, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", URL, err)
	}
	return c, nil
}

// FormatOf picks the format from a file extension.
func FormatOf(URL string) (Format, error) {
	switch strings.ToLower(path.Ext(URL)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownFormat, URL)
}

// Parse decodes a config document on top of Default. Keys the document sets, zeros
// included, replace the defaults.
//
// Parameters:
//   - data: the document bytes
//   - format: FormatYAML or FormatTOML
//
// Returns:
//   - *Config: the parsed config
//   - error: a decode error, or an error for out-of-range values
func Parse(data []byte, format Format) (*Config, error) {
	c := Default()
	var err error
	switch format {
	case FormatTOML:
		err = toml.Unmarshal(data, c)
	default:
		err = yaml.Unmarshal(data, c)
	}
	if err != nil {
		return nil, err
	}
	c.LogLevel = common.Coalesce(c.LogLevel, "info")
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.Merge.YieldEvery < 0 {
		return fmt.Errorf("merge.yieldEvery %d is negative", c.Merge.YieldEvery)
	}
	if c.Bench.MovedFraction < 0 || c.Bench.MovedFraction > 1 {
		return fmt.Errorf("bench.movedFraction %v outside [0,1]", c.Bench.MovedFraction)
	}
	if c.Bench.RemovedFraction < 0 || c.Bench.RemovedFraction > 1 {
		return fmt.Errorf("bench.removedFraction %v outside [0,1]", c.Bench.RemovedFraction)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel ("debug", "info", "warn", "error").
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("logLevel: %w", err)
	}
	return l, nil
}

// GroupOptions converts the merge section into group builder options.
func (c *Config) GroupOptions(logger *slog.Logger) []merge.GroupBuilderOption {
	return []merge.GroupBuilderOption{
		merge.WithYieldEvery(c.Merge.YieldEvery),
		merge.WithYielder(merge.SchedulerYielder{Delay: time.Duration(c.Merge.YieldDelay)}),
		merge.WithBakeWorkers(c.Merge.BakeWorkers),
		merge.WithCoalescing(c.Merge.Coalesce),
		merge.WithLogger(logger),
	}
}

// SystemOptions converts the system and merge sections into system builder options.
func (c *Config) SystemOptions(logger *slog.Logger) []mergesys.SystemBuilderOption {
	return []mergesys.SystemBuilderOption{
		mergesys.WithWorkers(c.System.Workers),
		mergesys.WithStartupGrace(time.Duration(c.System.StartupGrace)),
		mergesys.WithLoadingThreshold(c.System.LoadingThreshold),
		mergesys.WithGroupOptions(c.GroupOptions(logger)...),
		mergesys.WithLogger(logger),
	}
}

// UploaderOptions converts the gpu section into uploader builder options.
func (c *Config) UploaderOptions(logger *slog.Logger) []gpu.UploaderBuilderOption {
	return []gpu.UploaderBuilderOption{
		gpu.WithMinCapacity(c.GPU.MinCapacity),
		gpu.WithLogger(logger),
	}
}
