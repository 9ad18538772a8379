// Package lineage folds streams of messages into causal graphs and answers
// ancestry queries over reply chains.
package lineage

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/dominikbraun/graph"

	"github.com/aixgo-dev/cortex/agent"
)

func messageID(m *agent.Message) string { return m.ID() }

// Graph is a directed graph with one edge parent -> child for every reply
// folded into it. Vertices are keyed by message ID.
type Graph struct {
	g graph.Graph[string, *agent.Message]

	mu  sync.RWMutex
	seq map[string]int
}

// New creates an empty lineage graph.
func New() *Graph {
	return &Graph{
		g:   graph.New(messageID, graph.Directed()),
		seq: make(map[string]int),
	}
}

// Build folds msgs into a new graph.
func Build(msgs iter.Seq[*agent.Message]) (*Graph, error) {
	g := New()
	for m := range msgs {
		if err := g.Add(m); err != nil {
			return g, err
		}
	}
	return g, nil
}

// BuildFrom folds a reply stream into a new graph. It stops at the first
// error in the stream and returns the graph built so far alongside it.
func BuildFrom(replies iter.Seq2[*agent.Message, error]) (*Graph, error) {
	g := New()
	for m, err := range replies {
		if err != nil {
			return g, err
		}
		if err := g.Add(m); err != nil {
			return g, err
		}
	}
	return g, nil
}

// Add records the edge m.Parent() -> m. A message without a parent adds
// nothing; it enters the graph only once a child references it. Adding the
// same reply twice is a no-op.
func (g *Graph) Add(m *agent.Message) error {
	if m == nil || m.Parent() == nil {
		return nil
	}
	p := m.Parent()
	if err := g.addVertex(p); err != nil {
		return err
	}
	if err := g.addVertex(m); err != nil {
		return err
	}
	err := g.g.AddEdge(p.ID(), m.ID(), graph.EdgeWeight(1))
	if err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
		return fmt.Errorf("add edge %s -> %s: %w", p.ID(), m.ID(), err)
	}
	return nil
}

func (g *Graph) addVertex(m *agent.Message) error {
	err := g.g.AddVertex(m)
	if errors.Is(err, graph.ErrVertexAlreadyExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("add message %s: %w", m.ID(), err)
	}
	g.mu.Lock()
	g.seq[m.ID()] = len(g.seq)
	g.mu.Unlock()
	return nil
}

// Contains reports whether m is a vertex of the graph.
func (g *Graph) Contains(m *agent.Message) bool {
	if m == nil {
		return false
	}
	_, err := g.g.Vertex(m.ID())
	return err == nil
}

// Order returns the number of messages in the graph.
func (g *Graph) Order() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.seq)
}

// Size returns the number of parent -> child edges in the graph.
func (g *Graph) Size() int {
	n, err := g.g.Size()
	if err != nil {
		return 0
	}
	return n
}

// Path returns the lineage from `from` down to `to`, both inclusive.
func (g *Graph) Path(from, to *agent.Message) ([]*agent.Message, error) {
	if !g.Contains(from) || !g.Contains(to) {
		return nil, noPath(from, to)
	}
	if from.ID() == to.ID() {
		return []*agent.Message{from}, nil
	}

	ids, err := graph.ShortestPath(g.g, from.ID(), to.ID())
	if errors.Is(err, graph.ErrTargetNotReachable) {
		return nil, noPath(from, to)
	}
	if err != nil {
		return nil, fmt.Errorf("lineage path %s -> %s: %w", from.ID(), to.ID(), err)
	}
	return g.vertices(ids)
}

// Children returns the direct replies to m in the order they were added.
func (g *Graph) Children(m *agent.Message) ([]*agent.Message, error) {
	adj, err := g.g.AdjacencyMap()
	if err != nil {
		return nil, err
	}
	edges, ok := adj[m.ID()]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", m.ID(), graph.ErrVertexNotFound)
	}
	ids := make([]string, 0, len(edges))
	for id := range edges {
		ids = append(ids, id)
	}
	return g.vertices(g.sorted(ids))
}

// Roots returns the messages with no parent in the graph, in the order they
// were added.
func (g *Graph) Roots() ([]*agent.Message, error) {
	pred, err := g.g.PredecessorMap()
	if err != nil {
		return nil, err
	}
	var ids []string
	for id, in := range pred {
		if len(in) == 0 {
			ids = append(ids, id)
		}
	}
	return g.vertices(g.sorted(ids))
}

func (g *Graph) sorted(ids []string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	slices.SortFunc(ids, func(a, b string) int { return g.seq[a] - g.seq[b] })
	return ids
}

func (g *Graph) vertices(ids []string) ([]*agent.Message, error) {
	out := make([]*agent.Message, 0, len(ids))
	for _, id := range ids {
		m, err := g.g.Vertex(id)
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", id, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func noPath(from, to *agent.Message) error {
	return &NoPathError{From: idOf(from), To: idOf(to)}
}

func idOf(m *agent.Message) string {
	if m == nil {
		return "<nil>"
	}
	return m.ID()
}
