package node

// Clone deep-copies a hierarchy. Transforms, flags and slot metadata are copied;
// geometry and material are shared with the source, so a cloned mesh leaf still
// reports the source geometry's identity. The clone has no parent.
//
// Parameters:
//   - src: the root of the hierarchy to copy
//
// Returns:
//   - Node: the copied root, or nil if src is nil
func Clone(src Node) Node {
	s, ok := src.(*node)
	if !ok || s == nil {
		return nil
	}
	return cloneNode(s)
}

func cloneNode(s *node) *node {
	c := &node{
		name:          s.name,
		position:      s.position,
		rotation:      s.rotation,
		scale:         s.scale,
		matrix:        s.matrix,
		matrixWorld:   s.matrixWorld,
		visible:       s.visible,
		castShadow:    s.castShadow,
		receiveShadow: s.receiveShadow,
		geom:          s.geom,
		mat:           s.mat,
		slot:          s.slot,
		hasSlot:       s.hasSlot,
	}
	c.children = make([]*node, 0, len(s.children))
	for _, child := range s.children {
		cc := cloneNode(child)
		cc.parent = c
		c.children = append(c.children, cc)
	}
	return c
}
