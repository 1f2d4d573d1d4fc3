// Command mergebench builds a grid of cube subtrees under one owner, merges them through
// the merge system, then moves and removes a share of them and reports batch statistics.
// With -gpu the final batches are uploaded to a headless device.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Carmen-Shannon/oxy-merge/engine/config"
	"github.com/Carmen-Shannon/oxy-merge/engine/geometry"
	"github.com/Carmen-Shannon/oxy-merge/engine/gpu"
	"github.com/Carmen-Shannon/oxy-merge/engine/loader"
	"github.com/Carmen-Shannon/oxy-merge/engine/material"
	"github.com/Carmen-Shannon/oxy-merge/engine/merge"
	"github.com/Carmen-Shannon/oxy-merge/engine/mergesys"
	"github.com/Carmen-Shannon/oxy-merge/engine/node"
	"github.com/Carmen-Shannon/oxy-merge/engine/profiler"
)

func main() {
	configURL := flag.String("config", "", "YAML or TOML config file (any afs URL)")
	gltfURL := flag.String("gltf", "", "optional glTF/GLB asset merged alongside the cube grid")
	useGPU := flag.Bool("gpu", false, "upload the merged batches to a headless GPU device")
	flag.Parse()

	if err := run(context.Background(), *configURL, *gltfURL, *useGPU); err != nil {
		slog.Error("[Bench] failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configURL, gltfURL string, useGPU bool) error {
	cfg := config.Default()
	if configURL != "" {
		var err error
		if cfg, err = config.Load(ctx, nil, configURL); err != nil {
			return err
		}
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	prof := profiler.NewProfiler(profiler.WithLogger(logger))
	sys := mergesys.NewSystem(cfg.SystemOptions(logger)...)
	defer sys.Close()

	owner := node.NewNode(node.WithName("region"))
	children := cubeGrid(cfg.Bench.GridSide, cfg.Bench.Spacing)
	if gltfURL != "" {
		roots, err := loader.NewLoader(loader.WithLogger(logger)).Load(ctx, gltfURL)
		if err != nil {
			return err
		}
		children = append(children, roots...)
	}
	owner.Add(children...)
	sys.AddMerge(owner)

	for _, c := range children {
		sys.AddLoadingChild(owner, c)
	}
	sys.Tick(time.Now())

	span := prof.Begin("merge")
	for _, c := range children {
		sys.SetChildLoaded(owner, c)
	}
	sys.Wait()
	logger.Info("[Bench] merged", "children", len(children), "duration", span.End())

	moved := children[:int(float64(len(children))*cfg.Bench.MovedFraction)]
	span = prof.Begin("update")
	for _, c := range moved {
		p := c.Position()
		c.SetPosition(p[0], p[1]+1, p[2])
		sys.UpdateChild(owner, c)
	}
	sys.Wait()
	logger.Info("[Bench] updated", "children", len(moved), "duration", span.End())

	removed := children[len(children)-int(float64(len(children))*cfg.Bench.RemovedFraction):]
	span = prof.Begin("clear")
	for _, c := range removed {
		sys.RemoveChild(owner, c)
	}
	sys.Wait()
	logger.Info("[Bench] cleared", "children", len(removed), "duration", span.End())
	sys.Tick(time.Now())

	if n, err := sys.Errors(); n > 0 {
		return fmt.Errorf("%d merge passes failed, last: %w", n, err)
	}

	g, ok := sys.Group(owner)
	if !ok {
		return fmt.Errorf("owner %q has no merge group", owner.Name())
	}
	if err := report(logger, g); err != nil {
		return err
	}

	if useGPU || cfg.GPU.Enabled {
		span = prof.Begin("upload")
		if err := upload(logger, cfg, g); err != nil {
			return err
		}
		logger.Info("[Bench] uploaded", "duration", span.End())
	}
	prof.Report()
	return nil
}

// cubeGrid lays out side*side unit cubes on the XZ plane. Every cube shares one geometry,
// so they all land in the same batch.
func cubeGrid(side int, spacing float32) []node.Node {
	cube := geometry.NewBox(1, 1, 1, geometry.WithID("cube"))
	stone := material.NewMaterial(material.WithName("stone"))

	out := make([]node.Node, 0, side*side)
	for x := range side {
		for z := range side {
			out = append(out, node.NewNode(
				node.WithName(fmt.Sprintf("cube_%d_%d", x, z)),
				node.WithPosition(float32(x)*spacing, 0, float32(z)*spacing),
				node.WithMesh(cube, stone),
			))
		}
	}
	return out
}

func report(logger *slog.Logger, g merge.Group) error {
	for _, st := range g.Stats() {
		b, _ := g.Batch(st.Key)
		sum, err := b.Checksum()
		if err != nil {
			return err
		}
		logger.Info("[Bench] batch",
			"key", st.Key,
			"slots", st.Slots,
			"vertices", st.Vertices,
			"indices", st.Indices,
			"version", st.Version,
			"checksum", fmt.Sprintf("%016x", sum),
		)
	}
	return nil
}

func upload(logger *slog.Logger, cfg *config.Config, g merge.Group) error {
	device, err := gpu.NewHeadlessDevice(cfg.GPU.ForceFallback)
	if err != nil {
		return err
	}
	defer device.Release()

	up := gpu.NewUploader(device, cfg.UploaderOptions(logger)...)
	defer up.ReleaseAll()

	for _, key := range g.Keys() {
		b, _ := g.Batch(key)
		if _, err := up.Sync(b); err != nil {
			return err
		}
	}
	st := up.Stats()
	logger.Info("[Bench] gpu", "batches", st.Batches, "uploads", st.Uploads, "reallocations", st.Reallocations, "bytes", st.BytesWritten)
	return nil
}
