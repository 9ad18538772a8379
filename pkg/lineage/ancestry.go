package lineage

import (
	"slices"

	"github.com/aixgo-dev/cortex/agent"
)

// FindClosest walks the parent chain upward from m and returns the nearest
// strict ancestor of the given kind.
func FindClosest(m *agent.Message, kind string) (*agent.Message, error) {
	if m == nil {
		return nil, &NoAncestorError{Message: "<nil>", Kind: kind}
	}
	for p := m.Parent(); p != nil; p = p.Parent() {
		if p.Is(kind) {
			return p, nil
		}
	}
	return nil, &NoAncestorError{Message: m.ID(), Kind: kind}
}

// MessagePath returns the lineage from `from` down to `to` using parent links
// alone. It fails with a *NoPathError unless `to` is `from` or one of its
// descendants.
func MessagePath(from, to *agent.Message) ([]*agent.Message, error) {
	if from == nil || to == nil {
		return nil, noPath(from, to)
	}
	var path []*agent.Message
	for m := to; m != nil; m = m.Parent() {
		path = append(path, m)
		if m.ID() == from.ID() {
			slices.Reverse(path)
			return path, nil
		}
	}
	return nil, noPath(from, to)
}
