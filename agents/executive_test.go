package agents

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/cortex/agent"
)

// A percept's payload is the string of action names taken to reach it; its
// cost is looked up in a table.
type pathWorld struct {
	costs   map[string]float64
	actions []string

	cost   *Cost
	reward *Reward
	action *ActionProposer
	world  *World
}

func newPathWorld(costs map[string]float64, actions ...string) *pathWorld {
	w := &pathWorld{costs: costs, actions: actions}
	w.cost = NewCost(w.score)
	w.reward = NewReward(nil)
	w.action = NewActionProposer(w.propose)
	w.world = NewWorldModel(w.predict)
	return w
}

func (w *pathWorld) executive(opts ...Option) *Executive {
	return NewExecutive("exec", w.cost, w.reward, w.action, w.world, opts...)
}

func path(m *agent.Message) string {
	var p string
	if err := m.UnmarshalPayload(&p); err != nil {
		panic(err)
	}
	return p
}

func (w *pathWorld) score(_ context.Context, step *agent.Message) (float64, error) {
	c, ok := w.costs[path(step)]
	if !ok {
		return 0, fmt.Errorf("no cost for %q", path(step))
	}
	return c, nil
}

func (w *pathWorld) propose(context.Context, *agent.Message) ([]any, error) {
	out := make([]any, len(w.actions))
	for i, a := range w.actions {
		out[i] = a
	}
	return out, nil
}

func (w *pathWorld) predict(_ context.Context, action *agent.Message) (any, error) {
	return path(action.Parent()) + path(action), nil
}

func TestExecutive_Forward(t *testing.T) {
	ctx := context.Background()

	t.Run("depth one picks the cheapest candidate", func(t *testing.T) {
		w := newPathWorld(map[string]float64{"": 0, "a": 5, "b": 2, "c": 9}, "a", "b", "c")
		root := agent.NewPercept("")

		action, err := w.executive().Forward(ctx, root, 1)
		require.NoError(t, err)
		assert.True(t, action.Is(agent.KindAction))
		assert.Equal(t, "b", path(action))
		assert.Same(t, root, action.Parent())
	})

	t.Run("ties keep the first candidate", func(t *testing.T) {
		w := newPathWorld(map[string]float64{"": 0, "a": 3, "b": 1, "c": 1}, "a", "b", "c")
		action, err := w.executive().Forward(ctx, agent.NewPercept(""), 1)
		require.NoError(t, err)
		assert.Equal(t, "b", path(action))
	})

	t.Run("depth two returns the immediate next action", func(t *testing.T) {
		w := newPathWorld(map[string]float64{
			"": 0,
			"a": 5, "b": 2, "c": 9,
			"ba": 1, "bb": 7, "bc": 3,
		}, "a", "b", "c")
		root := agent.NewPercept("")

		action, err := w.executive().Forward(ctx, root, 2)
		require.NoError(t, err)
		assert.Equal(t, "b", path(action))
		assert.Same(t, root, action.Parent())
		assert.Equal(t, 1, action.Depth())
	})

	t.Run("deeper plans follow the winner at every level", func(t *testing.T) {
		w := newPathWorld(map[string]float64{
			"": 0,
			"x": 4, "y": 1,
			"yx": 2, "yy": 6,
			"yxx": 0, "yxy": 8,
		}, "x", "y")
		root := agent.NewPercept("")

		action, err := w.executive().Forward(ctx, root, 3)
		require.NoError(t, err)
		assert.Equal(t, "y", path(action))
		assert.Same(t, root, action.Parent())
		assert.Equal(t, 2, w.reward.Path().Len(), "priors of the two predicted percepts on the plan")
	})

	t.Run("invalid lookahead", func(t *testing.T) {
		w := newPathWorld(map[string]float64{"": 0}, "a")
		for _, depth := range []int{0, -1} {
			_, err := w.executive().Forward(ctx, agent.NewPercept(""), depth)
			assert.ErrorIs(t, err, ErrInvalidLookahead)

			var invalid *InvalidLookaheadError
			require.True(t, errors.As(err, &invalid))
			assert.Equal(t, depth, invalid.Depth)
		}
	})

	t.Run("no candidates", func(t *testing.T) {
		w := newPathWorld(map[string]float64{"": 0})
		_, err := w.executive().Forward(ctx, agent.NewPercept(""), 1)
		assert.ErrorIs(t, err, ErrNoCandidates)
	})

	t.Run("role failure stops the pass", func(t *testing.T) {
		w := newPathWorld(map[string]float64{"": 0, "a": 1}, "a", "b")
		_, err := w.executive().Forward(ctx, agent.NewPercept(""), 1)
		assert.ErrorContains(t, err, `no cost for "b"`)
	})

	t.Run("predictions land in the loss landscape", func(t *testing.T) {
		w := newPathWorld(map[string]float64{"": 0, "a": 5, "b": 2, "c": 9}, "a", "b", "c")
		_, err := w.executive().Forward(ctx, agent.NewPercept(""), 1)
		require.NoError(t, err)

		predictions, err := w.cost.Landscape().Predictions()
		require.NoError(t, err)
		losses := make([]float64, 0, len(predictions))
		for _, p := range predictions {
			assert.False(t, p.Realized)
			losses = append(losses, p.Loss)
		}
		assert.ElementsMatch(t, []float64{5, 2, 9}, losses)
	})
}

func TestExecutive_Backward(t *testing.T) {
	ctx := context.Background()
	w := newPathWorld(map[string]float64{"": 0, "a": 5, "b": 2, "c": 9}, "a", "b", "c")
	exec := w.executive()
	root := agent.NewPercept("")

	action, err := exec.Forward(ctx, root, 1)
	require.NoError(t, err)

	realized := agent.ReplyPercept(action, "b")
	require.NoError(t, exec.Backward(ctx, realized, 0.5))

	var settled []Prediction
	predictions, err := w.cost.Landscape().Predictions()
	require.NoError(t, err)
	for _, p := range predictions {
		if p.Realized {
			settled = append(settled, p)
		}
	}
	require.Len(t, settled, 1)
	assert.Equal(t, action.ID(), settled[0].Action)
	assert.Equal(t, 2.0, settled[0].Loss)
	assert.Equal(t, 0.5, settled[0].Actual)
	assert.Equal(t, 1.5, settled[0].Error)

	assert.Equal(t, map[string]float64{`"b"`: -0.5}, w.action.Credits())

	transitions := w.world.Transitions()
	require.Len(t, transitions, 1)
	assert.Same(t, root, transitions[0].From)
	assert.Same(t, action, transitions[0].Action)
	assert.Same(t, realized, transitions[0].To)
	assert.Equal(t, -0.5, transitions[0].Reward)

	reward, ok := w.reward.Path().Reward(action, realized)
	require.True(t, ok)
	assert.Equal(t, -0.5, reward)
}

func TestExecutive_BackwardWithoutPrediction(t *testing.T) {
	w := newPathWorld(map[string]float64{"": 0}, "a")
	err := w.executive().Backward(context.Background(), agent.NewPercept("stray"), 1)
	assert.ErrorIs(t, err, ErrNoPrediction)
}

func TestExecutive_AsAgent(t *testing.T) {
	ctx := context.Background()
	w := newPathWorld(map[string]float64{"": 0, "a": 5, "b": 2, "c": 9}, "a", "b", "c")
	exec := w.executive(WithLookahead(1))
	assert.Equal(t, []string{agent.KindOutcome, agent.KindPercept}, exec.Intents())

	env := agent.NewBase("env")
	env.Handle(agent.KindAction, func(_ context.Context, msg *agent.Message) (any, error) {
		realized := agent.ReplyPercept(msg, path(msg.Parent())+path(msg))
		return agent.NewOutcome(realized, 1, agent.WithReceiver(exec))
	})

	var seen []string
	exec.Events().On(agent.AllIntents, func(_ context.Context, ev agent.Event) error {
		seen = append(seen, ev.Intent)
		return nil
	})

	root := agent.NewPercept("", agent.WithSender(env), agent.WithReceiver(exec))
	replies, err := agent.Collect(agent.Propagate(ctx, root))
	require.NoError(t, err)
	require.Len(t, replies, 2)
	assert.True(t, replies[0].Is(agent.KindAction))
	assert.Equal(t, "b", path(replies[0]))
	assert.True(t, replies[1].Is(agent.KindOutcome))
	assert.Equal(t, []string{agent.KindPercept, agent.KindOutcome}, seen)

	require.Len(t, w.world.Transitions(), 1)
	assert.Equal(t, map[string]float64{`"b"`: -1}, w.action.Credits())
}

func TestExecutive_OutcomeMustReplyToPercept(t *testing.T) {
	w := newPathWorld(map[string]float64{"": 0}, "a")
	exec := w.executive()
	outcome := agent.NewMessage(agent.KindOutcome, nil, agent.WithValue(1))

	_, err := agent.Collect(agent.Receive(context.Background(), exec, outcome))
	assert.ErrorIs(t, err, agent.ErrInvalidLineage)
}
