package loader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/Carmen-Shannon/oxy-merge/engine/geometry"
	"github.com/Carmen-Shannon/oxy-merge/engine/material"
	"github.com/Carmen-Shannon/oxy-merge/engine/node"

	"github.com/viant/afs"
)

// asset is the format-independent result of one import: geometries per mesh primitive
// and the document's materials. Node forests built from the same asset share these
// pointers, so repeated loads of one file group into the same batches.
type asset struct {
	doc        *gltfDocument
	primitives [][]*geometry.Geometry
	materials  []material.Material
	fallback   material.Material
}

// loader is the implementation of the Loader interface.
type loader struct {
	mu sync.RWMutex

	fs     afs.Service
	logger *slog.Logger
	name   string

	cache map[string]*asset
}

// Loader imports glTF 2.0 files (JSON or GLB) into node forests ready for merging.
// Parsed geometry and materials are cached by URL; each Load builds fresh nodes that
// share the cached geometry, so instances of one asset carry one geometry identity.
type Loader interface {
	// Load imports the document at URL and returns its root nodes.
	// Relative buffer URIs are resolved next to the document through the afs service.
	//
	// Parameters:
	//   - ctx: the context for downloads
	//   - URL: the document location
	//
	// Returns:
	//   - []node.Node: the root nodes of the default scene (or every parentless node)
	//   - error: error if loading fails
	Load(ctx context.Context, URL string) ([]node.Node, error)

	// LoadReader imports a document from a reader. The result is not cached.
	//
	// Parameters:
	//   - r: the reader providing document data
	//   - isGLB: true if the reader provides GLB binary data
	//
	// Returns:
	//   - []node.Node: the root nodes
	//   - error: error if loading fails
	LoadReader(r io.Reader, isGLB bool) ([]node.Node, error)

	// Evict drops a cached import so the next Load reads the file again.
	Evict(URL string)
}

var _ Loader = &loader{}

// NewLoader creates a Loader. Without WithFS it reads through afs.New().
//
// Parameters:
//   - options: variadic list of LoaderBuilderOption functions
//
// Returns:
//   - Loader: the new loader
func NewLoader(options ...LoaderBuilderOption) Loader {
	l := &loader{
		logger: slog.Default(),
		cache:  make(map[string]*asset),
	}
	for _, opt := range options {
		opt(l)
	}
	if l.fs == nil {
		l.fs = afs.New()
	}
	return l
}

func (l *loader) Load(ctx context.Context, URL string) ([]node.Node, error) {
	l.mu.RLock()
	a, ok := l.cache[URL]
	l.mu.RUnlock()
	if ok {
		return a.forest(), nil
	}

	p := newGLTFParser(l.fs)
	if err := p.Parse(ctx, URL); err != nil {
		return nil, fmt.Errorf("load %s: %w", URL, err)
	}

	name := l.name
	if name == "" {
		base := path.Base(URL)
		name = strings.TrimSuffix(base, path.Ext(base))
	}
	a, err := l.build(p, name)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", URL, err)
	}

	l.mu.Lock()
	if cached, ok := l.cache[URL]; ok {
		a = cached
	} else {
		l.cache[URL] = a
	}
	l.mu.Unlock()

	l.logger.Info("[Loader] imported", "url", URL, "meshes", len(a.primitives), "materials", len(a.materials))
	return a.forest(), nil
}

func (l *loader) LoadReader(r io.Reader, isGLB bool) ([]node.Node, error) {
	p := newGLTFParser(l.fs)
	if err := p.ParseReader(r, isGLB); err != nil {
		return nil, err
	}
	a, err := l.build(p, l.nameOr("reader"))
	if err != nil {
		return nil, err
	}
	return a.forest(), nil
}

func (l *loader) Evict(URL string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cache, URL)
}

func (l *loader) nameOr(fallback string) string {
	if l.name != "" {
		return l.name
	}
	return fallback
}

// build converts the parsed document into geometry and materials.
func (l *loader) build(p gltfParser, name string) (*asset, error) {
	doc := p.Document()
	a := &asset{
		doc:        doc,
		primitives: make([][]*geometry.Geometry, len(doc.Meshes)),
		materials:  make([]material.Material, len(doc.Materials)),
		fallback:   material.NewMaterial(material.WithName(name + "#default")),
	}

	for i, gm := range doc.Materials {
		a.materials[i] = convertMaterial(gm, fmt.Sprintf("%s#material%d", name, i))
	}

	for i, mesh := range doc.Meshes {
		a.primitives[i] = make([]*geometry.Geometry, len(mesh.Primitives))
		for j, prim := range mesh.Primitives {
			if prim.Mode != nil && *prim.Mode != gltfPrimitiveModeTriangles {
				l.logger.Warn("[Loader] skipping non-triangle primitive", "mesh", i, "primitive", j, "mode", *prim.Mode)
				continue
			}
			g, err := readPrimitive(p, prim, fmt.Sprintf("%s#mesh%d/prim%d", name, i, j))
			if err != nil {
				return nil, fmt.Errorf("mesh %d primitive %d: %w", i, j, err)
			}
			a.primitives[i][j] = g
		}
	}
	return a, nil
}

func readPrimitive(p gltfParser, prim gltfPrimitive, id string) (*geometry.Geometry, error) {
	posIdx, ok := prim.Attributes["POSITION"]
	if !ok {
		return nil, fmt.Errorf("primitive has no POSITION attribute")
	}
	flat, err := p.ReadFloats(posIdx, 3)
	if err != nil {
		return nil, fmt.Errorf("POSITION: %w", err)
	}
	options := []geometry.GeometryBuilderOption{geometry.WithID(id), geometry.WithPositions(vec3s(flat))}

	if idx, ok := prim.Attributes["NORMAL"]; ok {
		flat, err := p.ReadFloats(idx, 3)
		if err != nil {
			return nil, fmt.Errorf("NORMAL: %w", err)
		}
		options = append(options, geometry.WithNormals(vec3s(flat)))
	}
	if idx, ok := prim.Attributes["TEXCOORD_0"]; ok {
		flat, err := p.ReadFloats(idx, 2)
		if err != nil {
			return nil, fmt.Errorf("TEXCOORD_0: %w", err)
		}
		uvs := make([][2]float32, len(flat)/2)
		for i := range uvs {
			uvs[i] = [2]float32{flat[i*2], flat[i*2+1]}
		}
		options = append(options, geometry.WithTexCoords(uvs))
	}
	if idx, ok := prim.Attributes["COLOR_0"]; ok {
		colors, err := readColors(p, idx)
		if err != nil {
			return nil, fmt.Errorf("COLOR_0: %w", err)
		}
		options = append(options, geometry.WithColors(colors))
	}
	if prim.Indices != nil {
		indices, err := p.ReadIndices(*prim.Indices)
		if err != nil {
			return nil, fmt.Errorf("indices: %w", err)
		}
		options = append(options, geometry.WithIndices(indices))
	}

	g := geometry.NewGeometry(options...)
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// readColors accepts VEC4 or VEC3 colors; VEC3 gets an alpha of 1.
func readColors(p gltfParser, idx int) ([][4]float32, error) {
	if flat, err := p.ReadFloats(idx, 4); err == nil {
		out := make([][4]float32, len(flat)/4)
		for i := range out {
			out[i] = [4]float32{flat[i*4], flat[i*4+1], flat[i*4+2], flat[i*4+3]}
		}
		return out, nil
	}
	flat, err := p.ReadFloats(idx, 3)
	if err != nil {
		return nil, err
	}
	out := make([][4]float32, len(flat)/3)
	for i := range out {
		out[i] = [4]float32{flat[i*3], flat[i*3+1], flat[i*3+2], 1}
	}
	return out, nil
}

func vec3s(flat []float32) [][3]float32 {
	out := make([][3]float32, len(flat)/3)
	for i := range out {
		out[i] = [3]float32{flat[i*3], flat[i*3+1], flat[i*3+2]}
	}
	return out
}

// convertMaterial maps the metallic-roughness factors, using the glTF defaults
// (white, metallic 1, roughness 1) for anything unset.
func convertMaterial(gm gltfMaterial, fallbackName string) material.Material {
	name := gm.Name
	if name == "" {
		name = fallbackName
	}
	color := [4]float32{1, 1, 1, 1}
	metallic, roughness := float32(1), float32(1)
	if pbr := gm.PbrMetallicRoughness; pbr != nil {
		if pbr.BaseColorFactor != nil {
			color = *pbr.BaseColorFactor
		}
		if pbr.MetallicFactor != nil {
			metallic = *pbr.MetallicFactor
		}
		if pbr.RoughnessFactor != nil {
			roughness = *pbr.RoughnessFactor
		}
	}
	return material.NewMaterial(
		material.WithName(name),
		material.WithBaseColor(color),
		material.WithMetallic(metallic),
		material.WithRoughness(roughness),
		material.WithDoubleSided(gm.DoubleSided),
		material.WithTransparent(gm.AlphaMode == gltfAlphaModeBlend),
	)
}

// forest builds a fresh node hierarchy from the asset.
func (a *asset) forest() []node.Node {
	doc := a.doc
	nodes := make([]node.Node, len(doc.Nodes))
	for i, gn := range doc.Nodes {
		nodes[i] = a.newNode(i, gn)
	}

	hasParent := make([]bool, len(nodes))
	for i, gn := range doc.Nodes {
		for _, c := range gn.Children {
			if c < 0 || c >= len(nodes) || c == i || hasParent[c] {
				continue
			}
			hasParent[c] = true
			nodes[i].Add(nodes[c])
		}
	}

	var roots []node.Node
	if len(doc.Scenes) > 0 {
		scene := 0
		if doc.Scene != nil && *doc.Scene >= 0 && *doc.Scene < len(doc.Scenes) {
			scene = *doc.Scene
		}
		for _, idx := range doc.Scenes[scene].Nodes {
			if idx >= 0 && idx < len(nodes) {
				roots = append(roots, nodes[idx])
			}
		}
		return roots
	}
	for i, n := range nodes {
		if !hasParent[i] {
			roots = append(roots, n)
		}
	}
	return roots
}

func (a *asset) newNode(index int, gn gltfNode) node.Node {
	name := gn.Name
	if name == "" {
		name = fmt.Sprintf("node%d", index)
	}
	n := node.NewNode(node.WithName(name))

	if gn.Matrix != nil {
		n.SetMatrix(*gn.Matrix)
	} else {
		if t := gn.Translation; t != nil {
			n.SetPosition(t[0], t[1], t[2])
		}
		if r := gn.Rotation; r != nil {
			n.SetRotation(*r)
		}
		if s := gn.Scale; s != nil {
			n.SetScale(s[0], s[1], s[2])
		}
	}

	if gn.Mesh == nil || *gn.Mesh < 0 || *gn.Mesh >= len(a.primitives) {
		return n
	}
	mesh := *gn.Mesh
	prims := a.doc.Meshes[mesh].Primitives

	var parts []node.Node
	for j, g := range a.primitives[mesh] {
		if g == nil {
			continue
		}
		m := a.fallback
		if idx := prims[j].Material; idx != nil && *idx >= 0 && *idx < len(a.materials) {
			m = a.materials[*idx]
		}
		parts = append(parts, node.NewNode(node.WithName(fmt.Sprintf("%s/prim%d", name, j)), node.WithMesh(g, m)))
	}

	if len(parts) == 1 {
		n.SetMesh(parts[0].Geometry(), parts[0].Material())
		return n
	}
	n.Add(parts...)
	return n
}
