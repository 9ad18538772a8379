package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aixgo-dev/cortex"
	"github.com/aixgo-dev/cortex/agent"
	"github.com/aixgo-dev/cortex/agents"
	"github.com/aixgo-dev/cortex/internal/lineworld"
	tracing "github.com/aixgo-dev/cortex/internal/observability"
	"github.com/aixgo-dev/cortex/pkg/observability"
)

// app is the executive, the line world and the runtime connecting them.
type app struct {
	cfg     *cortex.Config
	logger  *slog.Logger
	tracing *tracing.Tracing
	runtime *cortex.Runtime
	env     *lineworld.Environment
	models  *lineworld.Models
	exec    *agents.Executive
}

func newApp(ctx context.Context, cfg *cortex.Config, logger *slog.Logger, spans io.Writer, extra ...cortex.RuntimeOption) (*app, error) {
	t, err := tracing.Setup(ctx, tracing.Config{
		ServiceName: cfg.Observability.Tracing.ServiceName,
		Exporter:    cfg.Observability.Tracing.Exporter,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		Insecure:    cfg.Observability.Tracing.Insecure,
		Writer:      spans,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	opts := []cortex.RuntimeOption{
		cortex.WithTracer(t.Tracer("github.com/aixgo-dev/cortex")),
		cortex.WithListener(agent.AllIntents, agents.EventLogger(logger)),
		cortex.WithListener(agent.AllIntents, observability.DispatchCounter()),
	}
	rt := cortex.NewRuntimeFromConfig(cfg, logger, append(opts, extra...)...)

	bus := agent.NewEventBus()
	models := lineworld.NewModels()
	exec := models.NewExecutive(cfg.Executive.Name,
		agents.WithLookahead(cfg.Executive.Lookahead),
		agents.WithLogger(logger),
		agents.WithTracer(t.Tracer("github.com/aixgo-dev/cortex/agents")),
		agents.WithEventBus(bus),
	)
	env := lineworld.NewEnvironment("world", startState(cfg), cfg.World.Steps, agent.WithEventBus(bus))

	if err := errors.Join(rt.Register(exec), rt.Register(env)); err != nil {
		return nil, errors.Join(err, t.Shutdown(ctx))
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		tracing: t,
		runtime: rt,
		env:     env,
		models:  models,
		exec:    exec,
	}, nil
}

func startState(cfg *cortex.Config) lineworld.State {
	return lineworld.State{Position: cfg.World.Start, Goal: cfg.World.Goal}
}

// step is one realized move of an episode.
type step struct {
	From      lineworld.State
	Move      string
	Predicted float64
	To        lineworld.State
}

// episode lets the executive act from the environment's current state until
// the goal is reached or the step budget is spent. Each realized move is
// passed to visit.
func (a *app) episode(ctx context.Context, visit func(step)) error {
	var pending *step
	for m, err := range a.runtime.Propagate(ctx, a.env.Percept(a.exec)) {
		if err != nil {
			return err
		}
		switch m.Intent() {
		case agent.KindAction:
			s := &step{}
			if err := m.Parent().UnmarshalPayload(&s.From); err != nil {
				return err
			}
			if err := m.UnmarshalPayload(&s.Move); err != nil {
				return err
			}
			if p, ok := a.models.Cost.Landscape().Latest(m); ok {
				s.Predicted = p.Loss
			}
			pending = s
		case agent.KindOutcome:
			if pending == nil {
				continue
			}
			if err := m.Parent().UnmarshalPayload(&pending.To); err != nil {
				return err
			}
			if visit != nil {
				visit(*pending)
			}
			pending = nil
		}
	}
	return nil
}

func (a *app) close(ctx context.Context) error {
	return a.tracing.Shutdown(ctx)
}
