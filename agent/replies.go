package agent

import (
	"context"
	"fmt"
	"iter"
)

// Deferred is a handler result that resolves to at most one reply. A nil
// resolved message produces no reply.
type Deferred func(ctx context.Context) (*Message, error)

// Replies normalizes a handler result into a uniform reply sequence.
//
// Recognized shapes, in precedence order:
//   - Deferred (or an unnamed func(context.Context) (*Message, error)): at most one reply
//   - *Message: exactly that message; a nil pointer yields nothing
//   - nil: nothing
//   - []*Message, iter.Seq[*Message], iter.Seq2[*Message, error]: each element in order
//   - <-chan *Message or chan *Message: each received message until the channel
//     is closed or ctx is done
//
// Any other type yields a *MalformedHandlerResultError. Nil elements inside a
// sequence are skipped by the Engine.
func Replies(ctx context.Context, result any) (iter.Seq2[*Message, error], error) {
	switch r := result.(type) {
	case Deferred:
		return deferred(ctx, r), nil
	case func(context.Context) (*Message, error):
		return deferred(ctx, r), nil
	case *Message:
		if r == nil {
			return none, nil
		}
		return one(r), nil
	case nil:
		return none, nil
	case []*Message:
		return func(yield func(*Message, error) bool) {
			for _, m := range r {
				if !yield(m, nil) {
					return
				}
			}
		}, nil
	case iter.Seq[*Message]:
		return withoutErrors(r), nil
	case func(func(*Message) bool):
		return withoutErrors(r), nil
	case iter.Seq2[*Message, error]:
		return r, nil
	case func(func(*Message, error) bool):
		return r, nil
	case <-chan *Message:
		return fromChannel(ctx, r), nil
	case chan *Message:
		return fromChannel(ctx, r), nil
	default:
		return nil, &MalformedHandlerResultError{Type: fmt.Sprintf("%T", result)}
	}
}

func none(func(*Message, error) bool) {}

func one(m *Message) iter.Seq2[*Message, error] {
	return func(yield func(*Message, error) bool) {
		yield(m, nil)
	}
}

func deferred(ctx context.Context, fn func(context.Context) (*Message, error)) iter.Seq2[*Message, error] {
	return func(yield func(*Message, error) bool) {
		m, err := fn(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		if m != nil {
			yield(m, nil)
		}
	}
}

func withoutErrors(seq iter.Seq[*Message]) iter.Seq2[*Message, error] {
	return func(yield func(*Message, error) bool) {
		for m := range seq {
			if !yield(m, nil) {
				return
			}
		}
	}
}

func fromChannel(ctx context.Context, ch <-chan *Message) iter.Seq2[*Message, error] {
	if ch == nil {
		return none
	}
	return func(yield func(*Message, error) bool) {
		for {
			select {
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				if !yield(m, nil) {
					return
				}
			}
		}
	}
}
