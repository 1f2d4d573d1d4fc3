package node

import (
	"github.com/Carmen-Shannon/oxy-merge/engine/geometry"
	"github.com/Carmen-Shannon/oxy-merge/engine/material"
)

// NodeBuilderOption is a functional option for configuring a Node via NewNode.
type NodeBuilderOption func(*node)

// WithName is an option builder that sets the debug name of the Node.
//
// Parameters:
//   - name: the node name
//
// Returns:
//   - NodeBuilderOption: a function that applies the name option to a node
func WithName(name string) NodeBuilderOption {
	return func(n *node) {
		n.name = name
	}
}

// WithPosition is an option builder that sets the initial local translation.
//
// Parameters:
//   - x, y, z: translation components
//
// Returns:
//   - NodeBuilderOption: a function that applies the position option to a node
func WithPosition(x, y, z float32) NodeBuilderOption {
	return func(n *node) {
		n.position = [3]float32{x, y, z}
	}
}

// WithRotation is an option builder that sets the initial local rotation quaternion (x, y, z, w).
//
// Parameters:
//   - q: the rotation quaternion
//
// Returns:
//   - NodeBuilderOption: a function that applies the rotation option to a node
func WithRotation(q [4]float32) NodeBuilderOption {
	return func(n *node) {
		n.rotation = q
	}
}

// WithScale is an option builder that sets the initial local scale.
//
// Parameters:
//   - sx, sy, sz: scale factors
//
// Returns:
//   - NodeBuilderOption: a function that applies the scale option to a node
func WithScale(sx, sy, sz float32) NodeBuilderOption {
	return func(n *node) {
		n.scale = [3]float32{sx, sy, sz}
	}
}

// WithMesh is an option builder that makes the Node a mesh leaf.
//
// Parameters:
//   - g: the geometry to draw
//   - m: the material to draw it with
//
// Returns:
//   - NodeBuilderOption: a function that applies the mesh option to a node
func WithMesh(g *geometry.Geometry, m material.Material) NodeBuilderOption {
	return func(n *node) {
		n.geom = g
		n.mat = m
	}
}

// WithShadows is an option builder that sets the cast/receive shadow flags.
//
// Parameters:
//   - cast: true to cast shadows
//   - receive: true to receive shadows
//
// Returns:
//   - NodeBuilderOption: a function that applies the shadow option to a node
func WithShadows(cast, receive bool) NodeBuilderOption {
	return func(n *node) {
		n.castShadow = cast
		n.receiveShadow = receive
	}
}

// WithChildren is an option builder that attaches initial children.
//
// Parameters:
//   - children: the nodes to attach, in order
//
// Returns:
//   - NodeBuilderOption: a function that applies the children option to a node
func WithChildren(children ...Node) NodeBuilderOption {
	return func(n *node) {
		n.Add(children...)
	}
}
