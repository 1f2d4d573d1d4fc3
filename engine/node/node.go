package node

import (
	"slices"

	"github.com/Carmen-Shannon/oxy-merge/common"
	"github.com/Carmen-Shannon/oxy-merge/engine/geometry"
	"github.com/Carmen-Shannon/oxy-merge/engine/material"
)

type node struct {
	name     string
	parent   *node
	children []*node

	position [3]float32
	rotation [4]float32
	scale    [3]float32

	matrix      [16]float32
	matrixWorld [16]float32

	visible       bool
	castShadow    bool
	receiveShadow bool

	geom *geometry.Geometry
	mat  material.Material

	slot    uint32
	hasSlot bool
}

// Node defines the interface for a scene-graph entry: a transform with ordered children,
// optionally carrying a mesh (geometry + material) and a batching slot index.
//
// Local transforms are position, quaternion rotation and scale. World matrices are
// only refreshed by UpdateMatrixWorld/UpdateWorldMatrix, never implicitly.
// Nodes are not safe for concurrent mutation; concurrent reads of a settled
// hierarchy are fine.
type Node interface {
	// Name returns the node's debug name.
	//
	// Returns:
	//   - string: the name
	Name() string

	// SetName sets the node's debug name.
	//
	// Parameters:
	//   - name: the name to assign
	SetName(name string)

	// Parent returns the node this node is attached to, or nil for a root.
	//
	// Returns:
	//   - Node: the parent or nil
	Parent() Node

	// Children returns the ordered child list. The slice is a copy.
	//
	// Returns:
	//   - []Node: the children in insertion order
	Children() []Node

	// Add attaches children to this node, detaching each from any previous parent first.
	// Adding a node to itself or to one of its own descendants is ignored.
	//
	// Parameters:
	//   - children: the nodes to attach
	Add(children ...Node)

	// Remove detaches a direct child. Non-children are ignored.
	//
	// Parameters:
	//   - child: the node to detach
	//
	// Returns:
	//   - bool: true if the child was detached
	Remove(child Node) bool

	// Position returns the local translation.
	//
	// Returns:
	//   - [3]float32: the translation
	Position() [3]float32

	// SetPosition sets the local translation.
	//
	// Parameters:
	//   - x, y, z: translation components
	SetPosition(x, y, z float32)

	// Rotation returns the local rotation quaternion (x, y, z, w).
	//
	// Returns:
	//   - [4]float32: the rotation
	Rotation() [4]float32

	// SetRotation sets the local rotation from a quaternion (x, y, z, w). The quaternion
	// is used as given and should be normalized.
	//
	// Parameters:
	//   - q: the rotation quaternion
	SetRotation(q [4]float32)

	// SetRotationEuler sets the local rotation from Euler angles in radians (Y * X * Z order).
	//
	// Parameters:
	//   - rx, ry, rz: rotation angles around each axis
	SetRotationEuler(rx, ry, rz float32)

	// Scale returns the local scale.
	//
	// Returns:
	//   - [3]float32: the scale
	Scale() [3]float32

	// SetScale sets the local scale.
	//
	// Parameters:
	//   - sx, sy, sz: scale factors
	SetScale(sx, sy, sz float32)

	// SetMatrix sets the local transform from an explicit column-major matrix by
	// decomposing it into position, rotation and scale. Shear is not preserved.
	//
	// Parameters:
	//   - m: the local matrix (16 elements)
	SetMatrix(m [16]float32)

	// UpdateMatrix recomposes the local matrix from position, rotation and scale.
	UpdateMatrix()

	// Matrix returns the local matrix as of the last UpdateMatrix.
	//
	// Returns:
	//   - [16]float32: the local matrix
	Matrix() [16]float32

	// UpdateMatrixWorld recomposes this node's local matrix, multiplies it by the parent's
	// current world matrix and repeats for every descendant.
	UpdateMatrixWorld()

	// UpdateWorldMatrix is UpdateMatrixWorld, optionally refreshing every ancestor first
	// so the result does not depend on stale parent matrices.
	//
	// Parameters:
	//   - updateParents: true to refresh ancestors root-first before this subtree
	UpdateWorldMatrix(updateParents bool)

	// RefreshWorldMatrix recomputes the world matrices of this node's ancestors and of
	// the node itself, leaving descendants untouched.
	//
	// Returns:
	//   - [16]float32: the refreshed world matrix
	RefreshWorldMatrix() [16]float32

	// MatrixWorld returns the world matrix as of the last world update.
	//
	// Returns:
	//   - [16]float32: the world matrix
	MatrixWorld() [16]float32

	// WorldToLocal converts a world-space point into this node's local space using
	// the current world matrix.
	//
	// Parameters:
	//   - p: the world-space point
	//
	// Returns:
	//   - [3]float32: the point in local space (unchanged if the world matrix is singular)
	WorldToLocal(p [3]float32) [3]float32

	// Visible reports whether the node is drawn individually.
	//
	// Returns:
	//   - bool: true if visible
	Visible() bool

	// SetVisible shows or hides the node.
	//
	// Parameters:
	//   - visible: true to show
	SetVisible(visible bool)

	// CastShadow reports whether the node casts shadows.
	CastShadow() bool

	// ReceiveShadow reports whether the node receives shadows.
	ReceiveShadow() bool

	// SetShadows sets both shadow flags.
	//
	// Parameters:
	//   - cast: true to cast shadows
	//   - receive: true to receive shadows
	SetShadows(cast, receive bool)

	// IsMesh reports whether the node carries geometry.
	//
	// Returns:
	//   - bool: true for mesh leaves
	IsMesh() bool

	// Geometry returns the mesh geometry, or nil for non-mesh nodes.
	//
	// Returns:
	//   - *geometry.Geometry: the geometry or nil
	Geometry() *geometry.Geometry

	// Material returns the mesh material, or nil for non-mesh nodes.
	//
	// Returns:
	//   - material.Material: the material or nil
	Material() material.Material

	// SetMesh turns the node into a mesh leaf (or back into a plain node with nil geometry).
	//
	// Parameters:
	//   - g: the geometry to draw
	//   - m: the material to draw it with
	SetMesh(g *geometry.Geometry, m material.Material)

	// SlotIndex returns the batching slot index stored in the node's metadata.
	//
	// Returns:
	//   - uint32: the slot index
	//   - bool: false if no slot index has been assigned
	SlotIndex() (uint32, bool)

	// SetSlotIndex stores a batching slot index in the node's metadata.
	//
	// Parameters:
	//   - slot: the slot index
	SetSlotIndex(slot uint32)

	// ClearSlotIndex removes the batching slot index from the node's metadata.
	ClearSlotIndex()

	// Traverse visits this node and every descendant depth-first, pre-order.
	// Returning false from fn skips that node's descendants.
	//
	// Parameters:
	//   - fn: the visitor
	Traverse(fn func(Node) bool)
}

var _ Node = &node{}

// NewNode creates a new Node configured with the given options. Without options the
// node is a visible, identity-transformed group with no mesh.
//
// Parameters:
//   - options: functional options to configure the node
//
// Returns:
//   - Node: the newly created node
func NewNode(options ...NodeBuilderOption) Node {
	n := &node{
		rotation: [4]float32{0, 0, 0, 1},
		scale:    [3]float32{1, 1, 1},
		visible:  true,
	}
	common.Identity(n.matrix[:])
	common.Identity(n.matrixWorld[:])
	for _, option := range options {
		option(n)
	}
	n.UpdateMatrix()
	return n
}

func (n *node) Name() string {
	return n.name
}

func (n *node) SetName(name string) {
	n.name = name
}

func (n *node) Parent() Node {
	if n.parent == nil {
		return nil
	}
	return n.parent
}

func (n *node) Children() []Node {
	out := make([]Node, len(n.children))
	for i, c := range n.children {
		out[i] = c
	}
	return out
}

func (n *node) Add(children ...Node) {
	for _, c := range children {
		child, ok := c.(*node)
		if !ok || child == nil || child.isAncestorOf(n) {
			continue
		}
		if child.parent != nil {
			child.parent.Remove(child)
		}
		child.parent = n
		n.children = append(n.children, child)
	}
}

func (n *node) Remove(child Node) bool {
	c, ok := child.(*node)
	if !ok {
		return false
	}
	i := slices.Index(n.children, c)
	if i < 0 {
		return false
	}
	n.children = slices.Delete(n.children, i, i+1)
	c.parent = nil
	return true
}

func (n *node) Position() [3]float32 {
	return n.position
}

func (n *node) SetPosition(x, y, z float32) {
	n.position = [3]float32{x, y, z}
	n.UpdateMatrix()
}

func (n *node) Rotation() [4]float32 {
	return n.rotation
}

func (n *node) SetRotation(q [4]float32) {
	n.rotation = q
	n.UpdateMatrix()
}

func (n *node) SetRotationEuler(rx, ry, rz float32) {
	n.SetRotation(common.QuatFromEuler(rx, ry, rz))
}

func (n *node) Scale() [3]float32 {
	return n.scale
}

func (n *node) SetScale(sx, sy, sz float32) {
	n.scale = [3]float32{sx, sy, sz}
	n.UpdateMatrix()
}

func (n *node) SetMatrix(m [16]float32) {
	n.position, n.rotation, n.scale = common.DecomposeTRS(m[:])
	n.UpdateMatrix()
}

func (n *node) UpdateMatrix() {
	common.ComposeTRS(n.matrix[:], n.position, n.rotation, n.scale)
}

func (n *node) Matrix() [16]float32 {
	return n.matrix
}

func (n *node) UpdateMatrixWorld() {
	n.updateWorld()
	for _, c := range n.children {
		c.UpdateMatrixWorld()
	}
}

func (n *node) UpdateWorldMatrix(updateParents bool) {
	if updateParents && n.parent != nil {
		n.parent.updateAncestors()
	}
	n.UpdateMatrixWorld()
}

func (n *node) RefreshWorldMatrix() [16]float32 {
	n.updateAncestors()
	return n.matrixWorld
}

func (n *node) MatrixWorld() [16]float32 {
	return n.matrixWorld
}

func (n *node) WorldToLocal(p [3]float32) [3]float32 {
	var inv [16]float32
	if !common.Invert4(inv[:], n.matrixWorld[:]) {
		return p
	}
	return common.TransformPoint(inv[:], p)
}

func (n *node) Visible() bool {
	return n.visible
}

func (n *node) SetVisible(visible bool) {
	n.visible = visible
}

func (n *node) CastShadow() bool {
	return n.castShadow
}

func (n *node) ReceiveShadow() bool {
	return n.receiveShadow
}

func (n *node) SetShadows(cast, receive bool) {
	n.castShadow = cast
	n.receiveShadow = receive
}

func (n *node) IsMesh() bool {
	return n.geom != nil
}

func (n *node) Geometry() *geometry.Geometry {
	return n.geom
}

func (n *node) Material() material.Material {
	return n.mat
}

func (n *node) SetMesh(g *geometry.Geometry, m material.Material) {
	n.geom = g
	n.mat = m
}

func (n *node) SlotIndex() (uint32, bool) {
	return n.slot, n.hasSlot
}

func (n *node) SetSlotIndex(slot uint32) {
	n.slot = slot
	n.hasSlot = true
}

func (n *node) ClearSlotIndex() {
	n.slot = 0
	n.hasSlot = false
}

func (n *node) Traverse(fn func(Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.children {
		c.Traverse(fn)
	}
}

// updateWorld refreshes only this node's local and world matrices.
func (n *node) updateWorld() {
	n.UpdateMatrix()
	if n.parent == nil {
		n.matrixWorld = n.matrix
		return
	}
	common.Mul4(n.matrixWorld[:], n.parent.matrixWorld[:], n.matrix[:])
}

func (n *node) updateAncestors() {
	if n.parent != nil {
		n.parent.updateAncestors()
	}
	n.updateWorld()
}

func (n *node) isAncestorOf(other *node) bool {
	for p := other; p != nil; p = p.parent {
		if p == n {
			return true
		}
	}
	return false
}
