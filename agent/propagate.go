package agent

import (
	"context"
	"fmt"
	"iter"
)

// frame is one pending dispatch on the propagation stack.
type frame struct {
	next  func() (*Message, error, bool)
	stop  func()
	depth int
}

// Propagate yields every reply transitively produced by msg using the
// engine's applicator.
func (e *Engine) Propagate(ctx context.Context, msg *Message) iter.Seq2[*Message, error] {
	return e.PropagateWith(ctx, msg, e.apply)
}

// PropagateWith yields every reply transitively produced by msg. apply
// produces msg's immediate replies; every reply below that is routed to its
// receiver, so PropagateWith(ctx, msg, e.Chain(a, b)) composes a and b for the
// root only.
//
// The traversal is depth-first pre-order: each reply is yielded, then its own
// replies are exhausted, before the next sibling is pulled. It runs on an
// explicit stack of pulled reply sequences rather than on recursion. When the
// consumer stops early, every open dispatch is stopped; side effects already
// performed by handlers are not undone.
//
// An error from one dispatch is yielded and that dispatch is abandoned; if the
// consumer keeps pulling, its siblings continue. Context cancellation and the
// engine's depth and message budgets end the whole traversal.
func (e *Engine) PropagateWith(ctx context.Context, msg *Message, apply Applicator) iter.Seq2[*Message, error] {
	return func(yield func(*Message, error) bool) {
		var stack []frame
		defer func() {
			for i := len(stack) - 1; i >= 0; i-- {
				stack[i].stop()
			}
		}()

		push := func(replies iter.Seq2[*Message, error], depth int) {
			next, stop := iter.Pull2(replies)
			stack = append(stack, frame{next: next, stop: stop, depth: depth})
		}
		pop := func() {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			top.stop()
		}

		push(apply(ctx, msg), 1)
		produced := 0

		for len(stack) > 0 {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			top := stack[len(stack)-1]
			reply, err, ok := top.next()
			if !ok {
				pop()
				continue
			}
			if err != nil {
				pop()
				if !yield(nil, err) {
					return
				}
				continue
			}
			if reply == nil {
				continue
			}

			if e.maxDepth > 0 && top.depth > e.maxDepth {
				yield(nil, fmt.Errorf("%w: reply %s at depth %d under root %s (limit %d)",
					ErrDepthExceeded, reply.ID(), top.depth, msg.ID(), e.maxDepth))
				return
			}
			produced++
			if e.maxMessages > 0 && produced > e.maxMessages {
				yield(nil, fmt.Errorf("%w: more than %d replies under root %s",
					ErrMessageBudgetExceeded, e.maxMessages, msg.ID()))
				return
			}

			if !yield(reply, nil) {
				return
			}
			push(e.Route(ctx, reply), top.depth+1)
		}
	}
}

// PropagateAll propagates each root in order, exhausting a root's entire
// reply tree before the next root is pulled from roots.
func (e *Engine) PropagateAll(ctx context.Context, roots iter.Seq[*Message]) iter.Seq2[*Message, error] {
	return func(yield func(*Message, error) bool) {
		for root := range roots {
			if root == nil {
				continue
			}
			for reply, err := range e.Propagate(ctx, root) {
				if !yield(reply, err) {
					return
				}
			}
		}
	}
}

// Chain returns an applicator that dispatches a message to first and, after
// each reply, dispatches that reply to second, yielding both levels in order.
func (e *Engine) Chain(first, second Agent) Applicator {
	return func(ctx context.Context, msg *Message) iter.Seq2[*Message, error] {
		return func(yield func(*Message, error) bool) {
			for reply, err := range e.Receive(ctx, first, msg) {
				if err != nil {
					yield(nil, err)
					return
				}
				if !yield(reply, nil) {
					return
				}
				for r, err := range e.Receive(ctx, second, reply) {
					if !yield(r, err) {
						return
					}
				}
			}
		}
	}
}

// Drain consumes replies for their side effects and returns the first error.
func Drain(replies iter.Seq2[*Message, error]) error {
	for _, err := range replies {
		if err != nil {
			return err
		}
	}
	return nil
}

// Collect gathers replies into a slice, stopping at the first error.
func Collect(replies iter.Seq2[*Message, error]) ([]*Message, error) {
	var out []*Message
	for m, err := range replies {
		if err != nil {
			return out, err
		}
		out = append(out, m)
	}
	return out, nil
}

var defaultEngine = NewEngine()

// Receive dispatches msg to a with an unbounded default engine.
func Receive(ctx context.Context, a Agent, msg *Message) iter.Seq2[*Message, error] {
	return defaultEngine.Receive(ctx, a, msg)
}

// Propagate propagates msg by receiver with an unbounded default engine.
func Propagate(ctx context.Context, msg *Message) iter.Seq2[*Message, error] {
	return defaultEngine.Propagate(ctx, msg)
}

// PropagateAll propagates roots in order with an unbounded default engine.
func PropagateAll(ctx context.Context, roots iter.Seq[*Message]) iter.Seq2[*Message, error] {
	return defaultEngine.PropagateAll(ctx, roots)
}
