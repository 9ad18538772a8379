package agents

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/dominikbraun/graph"

	"github.com/aixgo-dev/cortex/agent"
)

// Prediction is the loss recorded on a landscape edge from a percept to the
// percept predicted for one of its actions.
type Prediction struct {
	Previous  string
	Action    string
	Predicted string
	Loss      float64
	Actual    float64
	Error     float64
	Realized  bool
}

// LossLandscape maps (previous step -> predicted step) edges to predicted
// loss, later overwritten with the realized loss and the prediction error.
type LossLandscape struct {
	mu     sync.Mutex
	g      graph.Graph[string, *agent.Message]
	latest map[string]string
}

// NewLossLandscape creates an empty landscape.
func NewLossLandscape() *LossLandscape {
	return &LossLandscape{
		g:      graph.New(messageID, graph.Directed()),
		latest: make(map[string]string),
	}
}

// Predict records loss for predicted. An edge is recorded only when predicted
// replies to an action that itself replies to a percept; otherwise Predict
// reports false and records nothing.
func (l *LossLandscape) Predict(predicted *agent.Message, loss float64) (bool, error) {
	action := predicted.Parent()
	if !action.Is(agent.KindAction) || !action.Parent().Is(agent.KindPercept) {
		return false, nil
	}
	previous := action.Parent()

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := addVertices(l.g, previous, predicted); err != nil {
		return false, err
	}
	p := Prediction{
		Previous:  previous.ID(),
		Action:    action.ID(),
		Predicted: predicted.ID(),
		Loss:      loss,
	}
	if err := upsertEdge(l.g, previous.ID(), predicted.ID(), p); err != nil {
		return false, err
	}
	l.latest[action.ID()] = predicted.ID()
	return true, nil
}

// Realize overwrites the prediction matching realized with the actual loss
// and records the error predicted minus actual. realized matches the edge it
// terminates when it was itself predicted; a new percept replying to a
// predicted action matches the latest prediction made for that action.
func (l *LossLandscape) Realize(realized *agent.Message, actual float64) (Prediction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	from, to, ok := l.resolve(realized)
	if !ok {
		return Prediction{}, fmt.Errorf("%w: %s", ErrNoPrediction, realized.ID())
	}
	edge, err := l.g.Edge(from, to)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %s: %v", ErrNoPrediction, realized.ID(), err)
	}
	p, _ := edge.Properties.Data.(Prediction)
	p.Actual = actual
	p.Error = p.Loss - actual
	p.Realized = true
	if err := l.g.UpdateEdge(from, to, graph.EdgeData(p)); err != nil {
		return Prediction{}, fmt.Errorf("update prediction %s -> %s: %w", from, to, err)
	}
	return p, nil
}

func (l *LossLandscape) resolve(realized *agent.Message) (from, to string, ok bool) {
	action := realized.Parent()
	if !action.Is(agent.KindAction) || !action.Parent().Is(agent.KindPercept) {
		return "", "", false
	}
	from = action.Parent().ID()
	if _, err := l.g.Edge(from, realized.ID()); err == nil {
		return from, realized.ID(), true
	}
	to, ok = l.latest[action.ID()]
	return from, to, ok
}

// Lookup returns the prediction on the edge previous -> predicted.
func (l *LossLandscape) Lookup(previous, predicted *agent.Message) (Prediction, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	edge, err := l.g.Edge(previous.ID(), predicted.ID())
	if err != nil {
		return Prediction{}, false
	}
	p, ok := edge.Properties.Data.(Prediction)
	return p, ok
}

// Latest returns the most recent prediction made for action.
func (l *LossLandscape) Latest(action *agent.Message) (Prediction, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	to, ok := l.latest[action.ID()]
	if !ok {
		return Prediction{}, false
	}
	edge, err := l.g.Edge(action.Parent().ID(), to)
	if err != nil {
		return Prediction{}, false
	}
	p, ok := edge.Properties.Data.(Prediction)
	return p, ok
}

// Predictions returns every recorded prediction.
func (l *LossLandscape) Predictions() ([]Prediction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	edges, err := l.g.Edges()
	if err != nil {
		return nil, err
	}
	out := make([]Prediction, 0, len(edges))
	for _, e := range edges {
		if p, ok := e.Properties.Data.(Prediction); ok {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b Prediction) int {
		if c := strings.Compare(a.Previous, b.Previous); c != 0 {
			return c
		}
		return strings.Compare(a.Predicted, b.Predicted)
	})
	return out, nil
}

// RewardPath maps (grandparent step -> parent step) edges of a cost to the
// reward it earned.
type RewardPath struct {
	mu sync.Mutex
	g  graph.Graph[string, *agent.Message]
}

// NewRewardPath creates an empty reward path.
func NewRewardPath() *RewardPath {
	return &RewardPath{g: graph.New(messageID, graph.Directed())}
}

// Record stores reward.Value() on the edge from the grandparent to the parent
// of the cost reward replies to. It reports false when that lineage is too
// short.
func (r *RewardPath) Record(reward *agent.Message) (bool, error) {
	cost := reward.Parent()
	if cost == nil || cost.Parent() == nil || cost.Parent().Parent() == nil {
		return false, nil
	}
	parent := cost.Parent()
	grandparent := parent.Parent()

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := addVertices(r.g, grandparent, parent); err != nil {
		return false, err
	}
	if err := upsertEdge(r.g, grandparent.ID(), parent.ID(), reward.Value()); err != nil {
		return false, err
	}
	return true, nil
}

// Reward returns the reward recorded on the edge from -> to.
func (r *RewardPath) Reward(from, to *agent.Message) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	edge, err := r.g.Edge(from.ID(), to.ID())
	if err != nil {
		return 0, false
	}
	v, ok := edge.Properties.Data.(float64)
	return v, ok
}

// Len returns the number of recorded edges.
func (r *RewardPath) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.g.Size()
	if err != nil {
		return 0
	}
	return n
}

func messageID(m *agent.Message) string { return m.ID() }

func addVertices(g graph.Graph[string, *agent.Message], msgs ...*agent.Message) error {
	for _, m := range msgs {
		if err := g.AddVertex(m); err != nil && !errors.Is(err, graph.ErrVertexAlreadyExists) {
			return fmt.Errorf("add message %s: %w", m.ID(), err)
		}
	}
	return nil
}

func upsertEdge(g graph.Graph[string, *agent.Message], from, to string, data any) error {
	err := g.AddEdge(from, to, graph.EdgeData(data))
	if errors.Is(err, graph.ErrEdgeAlreadyExists) {
		err = g.UpdateEdge(from, to, graph.EdgeData(data))
	}
	if err != nil {
		return fmt.Errorf("record edge %s -> %s: %w", from, to, err)
	}
	return nil
}
