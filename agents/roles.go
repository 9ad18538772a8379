// Package agents implements a model-predictive executive over four
// injectable roles: cost, reward, action proposal and world model.
package agents

import (
	"context"
	"iter"

	"github.com/aixgo-dev/cortex/agent"
)

// CostModel scores percepts.
type CostModel interface {
	// Forward predicts the cost of step and replies to it with a cost message.
	Forward(ctx context.Context, step *agent.Message) (*agent.Message, error)
	// Backward reports the actual loss of a realized step.
	Backward(ctx context.Context, realized *agent.Message, actual float64) (*agent.Message, error)
}

// RewardModel turns costs into rewards.
type RewardModel interface {
	Forward(ctx context.Context, cost *agent.Message) (*agent.Message, error)
	Backward(ctx context.Context, cost *agent.Message) (*agent.Message, error)
}

// ActionModel proposes candidate actions for the percept a reward refers to.
type ActionModel interface {
	// Forward yields a finite sequence of actions, each a reply to the
	// closest percept above reward.
	Forward(ctx context.Context, reward *agent.Message) iter.Seq2[*agent.Message, error]
	Backward(ctx context.Context, reward *agent.Message) error
}

// WorldModel predicts the percept an action leads to.
type WorldModel interface {
	Forward(ctx context.Context, action *agent.Message) (*agent.Message, error)
	Backward(ctx context.Context, reward *agent.Message) error
}
