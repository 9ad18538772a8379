package agents

import (
	"context"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"

	"github.com/aixgo-dev/cortex/agent"
	"github.com/aixgo-dev/cortex/pkg/lineage"
)

// Metadata keys set on the cost message returned by Cost.Backward.
const (
	MetaPredictedLoss   = "predicted_loss"
	MetaPredictionError = "prediction_error"
)

// ScoreFunc returns the loss of a percept. It must not be negative.
type ScoreFunc func(ctx context.Context, step *agent.Message) (float64, error)

// Cost is a CostModel backed by a ScoreFunc. It owns a loss landscape.
type Cost struct {
	score     ScoreFunc
	landscape *LossLandscape
}

// NewCost creates a cost role scoring percepts with score.
func NewCost(score ScoreFunc) *Cost {
	return &Cost{score: score, landscape: NewLossLandscape()}
}

// Landscape returns the role's loss landscape.
func (c *Cost) Landscape() *LossLandscape { return c.landscape }

// Forward scores step and records the prediction when step was predicted
// for an action.
func (c *Cost) Forward(ctx context.Context, step *agent.Message) (*agent.Message, error) {
	loss, err := c.score(ctx, step)
	if err != nil {
		return nil, fmt.Errorf("score %s: %w", step.ID(), err)
	}
	cost, err := agent.NewCost(step, loss)
	if err != nil {
		return nil, err
	}
	if _, err := c.landscape.Predict(step, loss); err != nil {
		return nil, err
	}
	return cost, nil
}

// Backward settles the prediction made for realized with the actual loss.
func (c *Cost) Backward(_ context.Context, realized *agent.Message, actual float64) (*agent.Message, error) {
	p, err := c.landscape.Realize(realized, actual)
	if err != nil {
		return nil, err
	}
	return agent.NewCost(realized, actual,
		agent.WithMetadata(MetaPredictedLoss, p.Loss),
		agent.WithMetadata(MetaPredictionError, p.Error),
	)
}

// RewardFunc maps a cost value to a reward.
type RewardFunc func(cost float64) float64

// NegativeCost rewards low cost.
func NegativeCost(cost float64) float64 { return -cost }

// Reward is a RewardModel backed by a RewardFunc. It owns a reward path.
type Reward struct {
	fn   RewardFunc
	path *RewardPath
}

// NewReward creates a reward role. A nil fn defaults to NegativeCost.
func NewReward(fn RewardFunc) *Reward {
	if fn == nil {
		fn = NegativeCost
	}
	return &Reward{fn: fn, path: NewRewardPath()}
}

// Path returns the role's reward path.
func (r *Reward) Path() *RewardPath { return r.path }

func (r *Reward) Forward(_ context.Context, cost *agent.Message) (*agent.Message, error) {
	return r.reply(cost)
}

func (r *Reward) Backward(_ context.Context, cost *agent.Message) (*agent.Message, error) {
	return r.reply(cost)
}

func (r *Reward) reply(cost *agent.Message) (*agent.Message, error) {
	reward, err := agent.NewReward(cost, r.fn(cost.Value()))
	if err != nil {
		return nil, err
	}
	if _, err := r.path.Record(reward); err != nil {
		return nil, err
	}
	return reward, nil
}

// ProposeFunc returns the payloads of the candidate actions for a percept.
type ProposeFunc func(ctx context.Context, percept *agent.Message) ([]any, error)

// ActionProposer is an ActionModel backed by a ProposeFunc. Backward credits
// the realized reward to the action that led to it, keyed by action payload.
type ActionProposer struct {
	propose ProposeFunc

	mu     sync.Mutex
	credit map[string]float64
}

// NewActionProposer creates an action role proposing with propose.
func NewActionProposer(propose ProposeFunc) *ActionProposer {
	return &ActionProposer{propose: propose, credit: make(map[string]float64)}
}

// Forward yields one action per proposed payload, each a reply to the
// closest percept above reward.
func (a *ActionProposer) Forward(ctx context.Context, reward *agent.Message) iter.Seq2[*agent.Message, error] {
	return func(yield func(*agent.Message, error) bool) {
		percept, err := lineage.FindClosest(reward, agent.KindPercept)
		if err != nil {
			yield(nil, err)
			return
		}
		payloads, err := a.propose(ctx, percept)
		if err != nil {
			yield(nil, fmt.Errorf("propose for %s: %w", percept.ID(), err))
			return
		}
		for _, p := range payloads {
			action, err := agent.NewAction(percept, p)
			if !yield(action, err) || err != nil {
				return
			}
		}
	}
}

func (a *ActionProposer) Backward(_ context.Context, reward *agent.Message) error {
	action, err := lineage.FindClosest(reward, agent.KindAction)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.credit[action.Payload()] += reward.Value()
	a.mu.Unlock()
	return nil
}

// Credits returns the accumulated reward per action payload.
func (a *ActionProposer) Credits() map[string]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return maps.Clone(a.credit)
}

// PredictFunc returns the payload of the percept an action is expected to
// produce.
type PredictFunc func(ctx context.Context, action *agent.Message) (any, error)

// Transition is a realized step of the world.
type Transition struct {
	From   *agent.Message
	Action *agent.Message
	To     *agent.Message
	Reward float64
}

// World is a WorldModel backed by a PredictFunc. Backward records realized
// transitions.
type World struct {
	predict PredictFunc

	mu          sync.Mutex
	transitions []Transition
}

// NewWorldModel creates a world model predicting with predict.
func NewWorldModel(predict PredictFunc) *World {
	return &World{predict: predict}
}

func (w *World) Forward(ctx context.Context, action *agent.Message) (*agent.Message, error) {
	payload, err := w.predict(ctx, action)
	if err != nil {
		return nil, fmt.Errorf("predict %s: %w", action.ID(), err)
	}
	return agent.ReplyPercept(action, payload), nil
}

func (w *World) Backward(_ context.Context, reward *agent.Message) error {
	to, err := lineage.FindClosest(reward, agent.KindPercept)
	if err != nil {
		return err
	}
	action, err := lineage.FindClosest(to, agent.KindAction)
	if err != nil {
		return err
	}
	from, err := lineage.FindClosest(action, agent.KindPercept)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.transitions = append(w.transitions, Transition{From: from, Action: action, To: to, Reward: reward.Value()})
	w.mu.Unlock()
	return nil
}

// Transitions returns the realized transitions in the order they were
// recorded.
func (w *World) Transitions() []Transition {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.transitions)
}
