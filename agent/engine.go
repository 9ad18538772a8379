package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const tracerName = "github.com/aixgo-dev/cortex/agent"

// Applicator produces the immediate replies to a message.
type Applicator func(ctx context.Context, msg *Message) iter.Seq2[*Message, error]

// Engine dispatches messages to agents and propagates their replies.
//
// The zero limits reproduce unbounded depth-first propagation; production
// callers should set WithMaxDepth or WithMaxMessages so that agents replying
// to each other forever cannot diverge.
type Engine struct {
	logger      *slog.Logger
	tracer      trace.Tracer
	limiter     *rate.Limiter
	apply       Applicator
	maxDepth    int
	maxMessages int
}

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracer sets the tracer used for dispatch spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithMaxDepth bounds how deep a reply may be below its root (0 = unlimited).
func WithMaxDepth(n int) Option {
	return func(e *Engine) { e.maxDepth = n }
}

// WithMaxMessages bounds the replies a single propagation may produce
// (0 = unlimited).
func WithMaxMessages(n int) Option {
	return func(e *Engine) { e.maxMessages = n }
}

// WithRateLimiter makes every dispatch wait on l before invoking a handler.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(e *Engine) { e.limiter = l }
}

// WithApplicator replaces the route-by-receiver applicator Propagate and
// PropagateAll use for each root. Replies below the root are always routed
// by receiver.
func WithApplicator(a Applicator) Option {
	return func(e *Engine) { e.apply = a }
}

// NewEngine creates an Engine with the given options.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "engine")
	if e.apply == nil {
		e.apply = e.Route
	}
	return e
}

// MaxDepth returns the configured depth limit (0 = unlimited).
func (e *Engine) MaxDepth() int { return e.maxDepth }

// MaxMessages returns the configured reply budget (0 = unlimited).
func (e *Engine) MaxMessages() int { return e.maxMessages }

// Receive dispatches msg to a and returns its immediate replies lazily.
//
// Observers on the agent's event bus are notified first; their failures are
// logged and otherwise ignored. The handler named by msg's intent is looked
// up, invoked, and its result normalized with Replies. Nothing runs until the
// returned sequence is consumed. When a implements sync.Locker, the handler
// invocation and each reply it produces run under that lock.
func (e *Engine) Receive(ctx context.Context, a Agent, msg *Message) iter.Seq2[*Message, error] {
	return func(yield func(*Message, error) bool) {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				yield(nil, fmt.Errorf("dispatch to %s: %w", a.Name(), err))
				return
			}
		}

		ctx, span := e.tracer.Start(ctx, "agent.receive",
			trace.WithAttributes(
				attribute.String("agent.name", a.Name()),
				attribute.String("message.intent", msg.Intent()),
				attribute.String("message.id", msg.ID()),
				attribute.Int("message.depth", msg.Depth()),
			),
		)
		defer span.End()

		fail := func(err error) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(nil, err)
		}

		e.notify(ctx, a, msg)

		h, ok := a.Handler(msg.Intent())
		if !ok {
			fail(&NoSuchCapabilityError{Agent: a.Name(), Intent: msg.Intent()})
			return
		}

		start := time.Now()
		unlock := lock(a)
		result, err := h(ctx, msg)
		unlock()
		if err != nil {
			fail(fmt.Errorf("agent %s handling %q: %w", a.Name(), msg.Intent(), err))
			return
		}

		replies, err := Replies(ctx, result)
		if err != nil {
			var malformed *MalformedHandlerResultError
			if errors.As(err, &malformed) {
				malformed.Agent = a.Name()
				malformed.Intent = msg.Intent()
			}
			fail(err)
			return
		}

		next, stop := iter.Pull2(replies)
		defer func() {
			unlock := lock(a)
			stop()
			unlock()
		}()

		count := 0
		for {
			if err := ctx.Err(); err != nil {
				fail(err)
				return
			}
			unlock := lock(a)
			reply, err, ok := next()
			unlock()
			if !ok {
				break
			}
			if err != nil {
				fail(fmt.Errorf("agent %s replying to %q: %w", a.Name(), msg.Intent(), err))
				return
			}
			if reply == nil {
				continue
			}
			if err := reply.PayloadErr(); err != nil {
				e.logger.Warn("reply payload not encoded",
					"agent", a.Name(),
					"intent", reply.Intent(),
					"message_id", reply.ID(),
					"error", err,
				)
			}
			count++
			if !yield(reply, nil) {
				return
			}
		}

		span.SetAttributes(attribute.Int("replies.count", count))
		e.logger.Debug("dispatch complete",
			"agent", a.Name(),
			"intent", msg.Intent(),
			"message_id", msg.ID(),
			"replies", count,
			"duration", time.Since(start),
		)
	}
}

// Route is the default applicator: it dispatches msg to its receiver. A
// message without a receiver has no effect and produces no replies.
func (e *Engine) Route(ctx context.Context, msg *Message) iter.Seq2[*Message, error] {
	a := msg.Receiver()
	if a == nil {
		return none
	}
	return e.Receive(ctx, a, msg)
}

func (e *Engine) notify(ctx context.Context, a Agent, msg *Message) {
	bus := a.Events()
	if bus == nil {
		return
	}
	ev := Event{Agent: a.Name(), Intent: msg.Intent(), Message: msg, Time: time.Now().UTC()}
	if err := bus.Emit(ctx, ev); err != nil {
		e.logger.Warn("event listener failed",
			"agent", a.Name(),
			"intent", msg.Intent(),
			"error", err,
		)
	}
}

func lock(a Agent) func() {
	if l, ok := a.(sync.Locker); ok {
		l.Lock()
		return l.Unlock
	}
	return func() {}
}
