package agents

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aixgo-dev/cortex/agent"
	"github.com/aixgo-dev/cortex/pkg/lineage"
	"github.com/aixgo-dev/cortex/pkg/observability"
)

const tracerName = "github.com/aixgo-dev/cortex/agents"

// Executive chooses actions by looking ahead through its world model and
// assigns credit once outcomes are realized.
//
// As an agent it handles two intents: a percept is planned for with the
// configured lookahead and answered with the chosen action, and an outcome
// (a reply to the realized percept carrying the actual loss) runs the
// backward pass without replying.
type Executive struct {
	*agent.Base

	cost   CostModel
	reward RewardModel
	action ActionModel
	world  WorldModel

	lookahead int
	bus       *agent.EventBus
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures an Executive.
type Option func(*Executive)

// WithLookahead sets how many steps the percept handler plans ahead.
func WithLookahead(n int) Option {
	return func(e *Executive) { e.lookahead = n }
}

// WithLogger sets the executive's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executive) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracer sets the tracer used for forward and backward spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Executive) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithEventBus shares bus with the executive instead of a private one.
func WithEventBus(bus *agent.EventBus) Option {
	return func(e *Executive) { e.bus = bus }
}

// NewExecutive composes an executive from its four roles.
func NewExecutive(name string, cost CostModel, reward RewardModel, action ActionModel, world WorldModel, opts ...Option) *Executive {
	e := &Executive{
		cost:      cost,
		reward:    reward,
		action:    action,
		world:     world,
		lookahead: 1,
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "executive", "executive", name)

	baseOpts := []agent.BaseOption{
		agent.WithHandler(agent.KindPercept, e.handlePercept),
		agent.WithHandler(agent.KindOutcome, e.handleOutcome),
	}
	if e.bus != nil {
		baseOpts = append(baseOpts, agent.WithEventBus(e.bus))
	}
	e.Base = agent.NewBase(name, baseOpts...)
	return e
}

// Lookahead returns the depth the percept handler plans with.
func (e *Executive) Lookahead() int { return e.lookahead }

func (e *Executive) handlePercept(ctx context.Context, msg *agent.Message) (any, error) {
	return e.Forward(ctx, msg, e.lookahead)
}

func (e *Executive) handleOutcome(ctx context.Context, msg *agent.Message) (any, error) {
	realized := msg.Parent()
	if !realized.Is(agent.KindPercept) {
		return nil, fmt.Errorf("%w: outcome %s does not reply to a percept", agent.ErrInvalidLineage, msg.ID())
	}
	return nil, e.Backward(ctx, realized, msg.Value())
}

// Forward returns the action to take now from step, planning depth steps
// ahead. Each level scores every candidate action by the cost of the percept
// the world model predicts for it and keeps the cheapest, the first one
// winning ties. Deeper levels plan from the winner's predicted percept; the
// result is the first action on the lineage from step to the deepest winner.
func (e *Executive) Forward(ctx context.Context, step *agent.Message, depth int) (*agent.Message, error) {
	if depth <= 0 {
		return nil, &InvalidLookaheadError{Depth: depth}
	}

	ctx, span := e.tracer.Start(ctx, "executive.forward",
		trace.WithAttributes(
			attribute.String("executive.name", e.Name()),
			attribute.String("percept.id", step.ID()),
			attribute.Int("lookahead", depth),
		),
	)
	defer span.End()

	next, cost, err := e.forward(ctx, step, depth)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	observability.RecordDecision(e.Name(), strconv.Itoa(depth), cost)
	span.SetAttributes(attribute.String("action.id", next.ID()), attribute.Float64("action.cost", cost))
	e.logger.Info("action chosen",
		"percept_id", step.ID(),
		"action_id", next.ID(),
		"action", next.Payload(),
		"predicted_cost", cost,
		"lookahead", depth,
	)
	return next, nil
}

func (e *Executive) forward(ctx context.Context, step *agent.Message, depth int) (*agent.Message, float64, error) {
	var trajectory []*agent.Message
	final, cost, err := e.plan(ctx, step, depth, &trajectory)
	if err != nil {
		return nil, 0, err
	}
	if depth == 1 {
		return final, cost, nil
	}

	g, err := lineage.Build(slices.Values(trajectory))
	if err != nil {
		return nil, 0, err
	}
	path, err := g.Path(step, final)
	if err != nil {
		return nil, 0, fmt.Errorf("trace plan from %s: %w", step.ID(), err)
	}
	for _, m := range path {
		if m.Is(agent.KindAction) {
			return m, cost, nil
		}
	}
	return nil, 0, fmt.Errorf("%w: plan from %s contains no action", ErrNoCandidates, step.ID())
}

// plan runs one level of lookahead and recurses from the chosen action's
// predicted percept. It returns the deepest chosen action and the predicted
// cost of this level's choice. Every message it creates is appended to
// trajectory.
func (e *Executive) plan(ctx context.Context, step *agent.Message, depth int, trajectory *[]*agent.Message) (*agent.Message, float64, error) {
	prior, err := e.cost.Forward(ctx, step)
	if err != nil {
		return nil, 0, err
	}
	reward, err := e.reward.Forward(ctx, prior)
	if err != nil {
		return nil, 0, err
	}
	*trajectory = append(*trajectory, prior, reward)

	var (
		best          *agent.Message
		bestPredicted *agent.Message
		bestCost      float64
	)
	for action, err := range e.action.Forward(ctx, reward) {
		if err != nil {
			return nil, 0, err
		}
		predicted, err := e.world.Forward(ctx, action)
		if err != nil {
			return nil, 0, err
		}
		loss, err := e.cost.Forward(ctx, predicted)
		if err != nil {
			return nil, 0, err
		}
		*trajectory = append(*trajectory, action, predicted, loss)

		if best == nil || loss.Value() < bestCost {
			best, bestPredicted, bestCost = action, predicted, loss.Value()
		}
	}
	if best == nil {
		return nil, 0, fmt.Errorf("%w: percept %s", ErrNoCandidates, step.ID())
	}
	if depth == 1 {
		return best, bestCost, nil
	}

	final, _, err := e.plan(ctx, bestPredicted, depth-1, trajectory)
	if err != nil {
		return nil, 0, err
	}
	return final, bestCost, nil
}

// Backward assigns credit for a realized percept whose actual loss is known.
// The cost role settles its prediction, its cost feeds the reward role, and
// the reward is passed to the action and world roles in that order.
func (e *Executive) Backward(ctx context.Context, realized *agent.Message, actual float64) error {
	ctx, span := e.tracer.Start(ctx, "executive.backward",
		trace.WithAttributes(
			attribute.String("executive.name", e.Name()),
			attribute.String("percept.id", realized.ID()),
			attribute.Float64("loss.actual", actual),
		),
	)
	defer span.End()

	err := e.backward(ctx, realized, actual)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (e *Executive) backward(ctx context.Context, realized *agent.Message, actual float64) error {
	loss, err := e.cost.Backward(ctx, realized, actual)
	if err != nil {
		return err
	}
	reward, err := e.reward.Backward(ctx, loss)
	if err != nil {
		return err
	}
	if err := e.action.Backward(ctx, reward); err != nil {
		return err
	}
	if err := e.world.Backward(ctx, reward); err != nil {
		return err
	}

	attrs := []any{"percept_id", realized.ID(), "actual_loss", actual, "reward", reward.Value()}
	if v, ok := loss.Metadata(MetaPredictionError); ok {
		if predErr, ok := v.(float64); ok {
			observability.SetPredictionError(e.Name(), predErr)
			attrs = append(attrs, "prediction_error", predErr)
		}
	}
	e.logger.Info("outcome assessed", attrs...)
	return nil
}
