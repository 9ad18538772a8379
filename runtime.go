package cortex

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/aixgo-dev/cortex/agent"
	"github.com/aixgo-dev/cortex/pkg/observability"
)

const tracerName = "github.com/aixgo-dev/cortex"

var (
	// ErrAgentExists is returned when registering a name twice.
	ErrAgentExists = errors.New("agent already registered")

	// ErrAgentNotFound is returned for names that are not registered.
	ErrAgentNotFound = errors.New("agent not found")
)

// Runtime is a registry of named agents that propagates messages between
// them through one engine. Listeners attached to the runtime are subscribed
// to the event bus of every registered agent.
type Runtime struct {
	engine      *agent.Engine
	logger      *slog.Logger
	tracer      trace.Tracer
	maxParallel int
	listeners   []listener

	mu       sync.RWMutex
	agents   map[string]agent.Agent
	attached map[*agent.EventBus]*attachment
}

type listener struct {
	intent string
	fn     agent.Listener
}

type attachment struct {
	ids  []agent.ListenerID
	refs int
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithEngine sets the engine used for propagation.
func WithEngine(e *agent.Engine) RuntimeOption {
	return func(r *Runtime) { r.engine = e }
}

// WithLogger sets the runtime's logger.
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTracer sets the tracer used for propagation spans.
func WithTracer(t trace.Tracer) RuntimeOption {
	return func(r *Runtime) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithMaxParallel bounds how many roots PropagateParallel runs at once.
func WithMaxParallel(n int) RuntimeOption {
	return func(r *Runtime) { r.maxParallel = n }
}

// WithListener subscribes fn to intent on every agent the runtime registers.
func WithListener(intent string, fn agent.Listener) RuntimeOption {
	return func(r *Runtime) { r.listeners = append(r.listeners, listener{intent: intent, fn: fn}) }
}

// NewRuntime creates an empty runtime.
func NewRuntime(opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		logger:      slog.Default(),
		tracer:      otel.Tracer(tracerName),
		maxParallel: 4,
		agents:      make(map[string]agent.Agent),
		attached:    make(map[*agent.EventBus]*attachment),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.engine == nil {
		r.engine = agent.NewEngine(agent.WithLogger(r.logger), agent.WithTracer(r.tracer))
	}
	r.logger = r.logger.With("component", "runtime")
	return r
}

// NewRuntimeFromConfig creates a runtime whose engine and parallelism follow
// cfg. opts are applied after the configured ones.
func NewRuntimeFromConfig(cfg *Config, logger *slog.Logger, opts ...RuntimeOption) *Runtime {
	engineOpts := append(cfg.EngineOptions(), agent.WithLogger(logger))
	base := []RuntimeOption{
		WithLogger(logger),
		WithEngine(agent.NewEngine(engineOpts...)),
		WithMaxParallel(cfg.Engine.MaxParallel),
	}
	return NewRuntime(append(base, opts...)...)
}

// Engine returns the runtime's engine.
func (r *Runtime) Engine() *agent.Engine { return r.engine }

// Register adds a under its name and subscribes the runtime's listeners to
// its event bus.
func (r *Runtime) Register(a agent.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := a.Name()
	if _, exists := r.agents[name]; exists {
		return fmt.Errorf("%w: %s", ErrAgentExists, name)
	}
	r.agents[name] = a
	r.attach(a.Events())
	r.logger.Debug("agent registered", "agent", name)
	return nil
}

// Unregister removes the agent registered under name.
func (r *Runtime) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, exists := r.agents[name]
	if !exists {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	delete(r.agents, name)
	r.detach(a.Events())
	return nil
}

// attach subscribes the listeners once per bus; agents may share a bus.
func (r *Runtime) attach(bus *agent.EventBus) {
	if bus == nil || len(r.listeners) == 0 {
		return
	}
	if att, ok := r.attached[bus]; ok {
		att.refs++
		return
	}
	att := &attachment{refs: 1}
	for _, l := range r.listeners {
		att.ids = append(att.ids, bus.On(l.intent, l.fn))
	}
	r.attached[bus] = att
}

func (r *Runtime) detach(bus *agent.EventBus) {
	att, ok := r.attached[bus]
	if !ok {
		return
	}
	att.refs--
	if att.refs > 0 {
		return
	}
	for i, l := range r.listeners {
		bus.Off(l.intent, att.ids[i])
	}
	delete(r.attached, bus)
}

// Get retrieves a registered agent by name
func (r *Runtime) Get(name string) (agent.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, exists := r.agents[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return a, nil
}

// List returns the registered agent names in sorted order
func (r *Runtime) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Message creates a root message addressed to the agent registered as
// target.
func (r *Runtime) Message(target, intent string, payload any, opts ...agent.MessageOption) (*agent.Message, error) {
	a, err := r.Get(target)
	if err != nil {
		return nil, err
	}
	return agent.NewMessage(intent, payload, append(opts, agent.WithReceiver(a))...), nil
}

// Propagate propagates root through the runtime's engine inside a span and
// records the propagation's outcome once the sequence ends.
func (r *Runtime) Propagate(ctx context.Context, root *agent.Message) iter.Seq2[*agent.Message, error] {
	return func(yield func(*agent.Message, error) bool) {
		ctx, span := r.tracer.Start(ctx, "runtime.propagate",
			trace.WithAttributes(
				attribute.String("message.id", root.ID()),
				attribute.String("message.intent", root.Intent()),
			),
		)
		defer span.End()

		start := time.Now()
		replies, failures := 0, 0
		status := "ok"
		defer func() {
			observability.RecordPropagation(status, replies, time.Since(start))
			span.SetAttributes(attribute.Int("replies.count", replies))
			r.logger.Debug("propagation finished",
				"root_id", root.ID(),
				"intent", root.Intent(),
				"status", status,
				"replies", replies,
				"errors", failures,
				"duration", time.Since(start),
			)
		}()

		for reply, err := range r.engine.Propagate(ctx, root) {
			if err != nil {
				failures++
				status = "error"
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				replies++
			}
			if !yield(reply, err) {
				if status == "ok" {
					status = "stopped"
				}
				return
			}
		}
	}
}

// Run propagates root to completion and returns its replies. It stops at
// the first error.
func (r *Runtime) Run(ctx context.Context, root *agent.Message) ([]*agent.Message, error) {
	return agent.Collect(r.Propagate(ctx, root))
}

// PropagateParallel runs each independent root to completion concurrently,
// at most MaxParallel at a time, and returns the replies of roots[i] in
// result[i]. The first failure cancels the remaining propagations. Agents
// shared between roots still run one handler step at a time.
func (r *Runtime) PropagateParallel(ctx context.Context, roots []*agent.Message) ([][]*agent.Message, error) {
	results := make([][]*agent.Message, len(roots))

	g, gctx := errgroup.WithContext(ctx)
	if r.maxParallel > 0 {
		g.SetLimit(r.maxParallel)
	}
	for i, root := range roots {
		if root == nil {
			continue
		}
		g.Go(func() error {
			replies, err := r.Run(gctx, root)
			results[i] = replies
			if err != nil {
				return fmt.Errorf("root %d (%s): %w", i, root.ID(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
