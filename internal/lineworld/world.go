// Package lineworld is a small deterministic world for exercising the
// executive: an agent moves along the integer line towards a goal, and the
// loss of a position is its distance to the goal.
package lineworld

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aixgo-dev/cortex/agent"
	"github.com/aixgo-dev/cortex/agents"
)

// Moves an agent can make.
const (
	Left  = "left"
	Stay  = "stay"
	Right = "right"
)

// ErrUnknownMove is returned for action payloads that are not a move.
var ErrUnknownMove = errors.New("unknown move")

// State is the payload of every line world percept.
type State struct {
	Position int `json:"position"`
	Goal     int `json:"goal"`
}

// Loss is the distance to the goal.
func (s State) Loss() float64 {
	d := s.Goal - s.Position
	if d < 0 {
		d = -d
	}
	return float64(d)
}

// Done reports whether the goal is reached.
func (s State) Done() bool { return s.Position == s.Goal }

// Apply returns the state after move.
func (s State) Apply(move string) (State, error) {
	switch move {
	case Left:
		s.Position--
	case Right:
		s.Position++
	case Stay:
	default:
		return s, fmt.Errorf("%w: %q", ErrUnknownMove, move)
	}
	return s, nil
}

// Score is the cost role's scoring function.
func Score(_ context.Context, step *agent.Message) (float64, error) {
	var s State
	if err := step.UnmarshalPayload(&s); err != nil {
		return 0, fmt.Errorf("decode state: %w", err)
	}
	return s.Loss(), nil
}

// Propose offers every move from any state.
func Propose(context.Context, *agent.Message) ([]any, error) {
	return []any{Left, Stay, Right}, nil
}

// Predict applies the action's move to the state of the percept it replies
// to. The line world is deterministic, so predictions are exact.
func Predict(_ context.Context, action *agent.Message) (any, error) {
	var s State
	if err := action.Parent().UnmarshalPayload(&s); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	var move string
	if err := action.UnmarshalPayload(&move); err != nil {
		return nil, fmt.Errorf("decode move: %w", err)
	}
	return s.Apply(move)
}

// Models holds the executive roles for the line world so callers can
// inspect what they learned.
type Models struct {
	Cost   *agents.Cost
	Reward *agents.Reward
	Action *agents.ActionProposer
	World  *agents.World
}

// NewModels creates fresh line world roles.
func NewModels() *Models {
	return &Models{
		Cost:   agents.NewCost(Score),
		Reward: agents.NewReward(nil),
		Action: agents.NewActionProposer(Propose),
		World:  agents.NewWorldModel(Predict),
	}
}

// NewExecutive creates an executive planning over m.
func (m *Models) NewExecutive(name string, opts ...agents.Option) *agents.Executive {
	return agents.NewExecutive(name, m.Cost, m.Reward, m.Action, m.World, opts...)
}

// Environment is the agent that owns the real state. It applies every action
// it receives, reports the realized loss to the action's sender as an
// outcome, and sends the realized percept back for the next decision until
// the goal is reached or the step budget is spent.
type Environment struct {
	*agent.Base

	mu       sync.Mutex
	state    State
	steps    int
	maxSteps int
	last     time.Time
}

// NewEnvironment creates an environment starting at start. maxSteps <= 0
// means no step budget.
func NewEnvironment(name string, start State, maxSteps int, opts ...agent.BaseOption) *Environment {
	env := &Environment{
		Base:     agent.NewBase(name, opts...),
		state:    start,
		maxSteps: maxSteps,
	}
	env.Handle(agent.KindAction, env.handleAction)
	return env
}

func (e *Environment) handleAction(_ context.Context, action *agent.Message) (any, error) {
	var move string
	if err := action.UnmarshalPayload(&move); err != nil {
		return nil, fmt.Errorf("decode move: %w", err)
	}

	e.mu.Lock()
	next, err := e.state.Apply(move)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.state = next
	e.steps++
	e.last = time.Now()
	exhausted := e.maxSteps > 0 && e.steps >= e.maxSteps
	e.mu.Unlock()

	realized := agent.ReplyPercept(action, next)
	outcome, err := agent.NewOutcome(realized, next.Loss(),
		agent.WithSender(e), agent.WithReceiver(action.Sender()))
	if err != nil {
		return nil, err
	}
	if next.Done() || exhausted {
		return outcome, nil
	}
	return []*agent.Message{outcome, realized}, nil
}

// Percept returns a root percept of the current state addressed to to.
func (e *Environment) Percept(to agent.Agent) *agent.Message {
	return agent.NewPercept(e.State(), agent.WithSender(e), agent.WithReceiver(to))
}

// State returns the current state.
func (e *Environment) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Steps returns how many actions have been applied since the last reset.
func (e *Environment) Steps() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.steps
}

// LastStep returns when an action was last applied; zero if never.
func (e *Environment) LastStep() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Reset moves the environment to s and clears the step count.
func (e *Environment) Reset(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
	e.steps = 0
}

// SetGoal changes the goal without moving.
func (e *Environment) SetGoal(goal int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Goal = goal
	e.steps = 0
}
