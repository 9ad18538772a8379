package agent

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func intents(msgs []*Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Intent()
	}
	return out
}

func payloads(t *testing.T, msgs []*Message) []string {
	t.Helper()
	out := make([]string, len(msgs))
	for i, m := range msgs {
		require.NoError(t, m.UnmarshalPayload(&out[i]))
	}
	return out
}

func TestEngine_Receive(t *testing.T) {
	ctx := context.Background()

	t.Run("notifies observers before handling", func(t *testing.T) {
		var order []string
		a := NewBase("a")
		a.Events().On("ping", func(_ context.Context, ev Event) error {
			order = append(order, "event:"+ev.Agent)
			return nil
		})
		a.Handle("ping", func(context.Context, *Message) (any, error) {
			order = append(order, "handler")
			return nil, nil
		})

		require.NoError(t, Drain(Receive(ctx, a, NewMessage("ping", nil))))
		assert.Equal(t, []string{"event:a", "handler"}, order)
	})

	t.Run("listener failure does not abort dispatch", func(t *testing.T) {
		a := NewBase("a")
		a.Events().On(AllIntents, func(context.Context, Event) error { return errors.New("sink down") })
		a.Handle("ping", func(_ context.Context, msg *Message) (any, error) {
			return ReplyTo(msg, "pong", nil), nil
		})

		replies, err := Collect(Receive(ctx, a, NewMessage("ping", nil)))
		require.NoError(t, err)
		assert.Equal(t, []string{"pong"}, intents(replies))
	})

	t.Run("missing handler", func(t *testing.T) {
		a := NewBase("a")
		_, err := Collect(Receive(ctx, a, NewMessage("unknown", nil)))

		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNoSuchCapability))
		var nsc *NoSuchCapabilityError
		require.True(t, errors.As(err, &nsc))
		assert.Equal(t, "a", nsc.Agent)
		assert.Equal(t, "unknown", nsc.Intent)
	})

	t.Run("malformed result", func(t *testing.T) {
		a := NewBase("a")
		a.Handle("ping", func(context.Context, *Message) (any, error) { return "pong", nil })

		_, err := Collect(Receive(ctx, a, NewMessage("ping", nil)))
		var malformed *MalformedHandlerResultError
		require.True(t, errors.As(err, &malformed))
		assert.Equal(t, "a", malformed.Agent)
		assert.Equal(t, "ping", malformed.Intent)
		assert.Equal(t, "string", malformed.Type)
	})

	t.Run("handler error is wrapped", func(t *testing.T) {
		boom := errors.New("boom")
		a := NewBase("a")
		a.Handle("ping", func(context.Context, *Message) (any, error) { return nil, boom })

		_, err := Collect(Receive(ctx, a, NewMessage("ping", nil)))
		assert.ErrorIs(t, err, boom)
	})

	t.Run("handler runs lazily", func(t *testing.T) {
		called := false
		a := NewBase("a")
		a.Handle("ping", func(context.Context, *Message) (any, error) {
			called = true
			return nil, nil
		})

		seq := Receive(ctx, a, NewMessage("ping", nil))
		assert.False(t, called)
		require.NoError(t, Drain(seq))
		assert.True(t, called)
	})
}

// newPingPong wires a client that sends "ping" to a server that answers with
// "pong", which the client handles with handler.
func newPingPong(handler Handler) (client, server *Base) {
	client = NewBase("client")
	server = NewBase("server")
	server.Handle("ping", func(_ context.Context, msg *Message) (any, error) {
		return ReplyTo(msg, "pong", nil), nil
	})
	client.Handle("pong", handler)
	return client, server
}

func TestEngine_Propagate(t *testing.T) {
	ctx := context.Background()

	t.Run("empty handler terminates after the immediate reply", func(t *testing.T) {
		client, server := newPingPong(noop)
		root := NewMessage("ping", nil, WithSender(client), WithReceiver(server))

		replies, err := Collect(Propagate(ctx, root))
		require.NoError(t, err)
		require.Len(t, replies, 1)
		assert.Equal(t, "pong", replies[0].Intent())
		assert.Same(t, root, replies[0].Parent())
		assert.Same(t, client, replies[0].Receiver())
	})

	t.Run("no receiver is silently discarded", func(t *testing.T) {
		replies, err := Collect(Propagate(ctx, NewMessage("ping", nil)))
		require.NoError(t, err)
		assert.Empty(t, replies)
	})

	t.Run("fan-out without recursion keeps handler order", func(t *testing.T) {
		sink := NewBase("sink")
		sink.Handle("item", noop)
		src := NewBase("src")
		src.Handle("start", func(_ context.Context, msg *Message) (any, error) {
			out := make([]*Message, 0, 5)
			for _, name := range []string{"a", "b", "c", "d", "e"} {
				out = append(out, ReplyTo(msg, "item", name, WithReceiver(sink)))
			}
			return out, nil
		})

		replies, err := Collect(Propagate(ctx, NewMessage("start", nil, WithReceiver(src))))
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c", "d", "e"}, payloads(t, replies))
	})

	t.Run("depth-first pre-order", func(t *testing.T) {
		leaf := NewBase("leaf")
		leaf.Handle("y", noop)
		mid := NewBase("mid")
		mid.Handle("x", func(_ context.Context, msg *Message) (any, error) {
			var name string
			if err := msg.UnmarshalPayload(&name); err != nil {
				return nil, err
			}
			return ReplyTo(msg, "y", name+"/y", WithReceiver(leaf)), nil
		})
		src := NewBase("src")
		src.Handle("start", func(_ context.Context, msg *Message) (any, error) {
			return slices.Values([]*Message{
				ReplyTo(msg, "x", "x1", WithReceiver(mid)),
				ReplyTo(msg, "x", "x2", WithReceiver(mid)),
			}), nil
		})

		replies, err := Collect(Propagate(ctx, NewMessage("start", nil, WithReceiver(src))))
		require.NoError(t, err)
		assert.Equal(t, []string{"x1", "x1/y", "x2", "x2/y"}, payloads(t, replies))
	})

	t.Run("reply k+1 is not produced before reply k is exhausted", func(t *testing.T) {
		var log []string
		leaf := NewBase("leaf")
		leaf.Handle("child", func(context.Context, *Message) (any, error) {
			log = append(log, "child handled")
			return nil, nil
		})
		src := NewBase("src")
		src.Handle("start", func(_ context.Context, msg *Message) (any, error) {
			return iter.Seq[*Message](func(yield func(*Message) bool) {
				log = append(log, "produce 1")
				if !yield(ReplyTo(msg, "child", nil, WithReceiver(leaf))) {
					return
				}
				log = append(log, "produce 2")
				yield(ReplyTo(msg, "child", nil, WithReceiver(leaf)))
			}), nil
		})

		require.NoError(t, Drain(Propagate(ctx, NewMessage("start", nil, WithReceiver(src)))))
		assert.Equal(t, []string{"produce 1", "child handled", "produce 2", "child handled"}, log)
	})

	t.Run("early stop abandons remaining branches", func(t *testing.T) {
		handled := 0
		sink := NewBase("sink")
		sink.Handle("item", func(context.Context, *Message) (any, error) {
			handled++
			return nil, nil
		})
		src := NewBase("src")
		src.Handle("start", func(_ context.Context, msg *Message) (any, error) {
			return []*Message{
				ReplyTo(msg, "item", nil, WithReceiver(sink)),
				ReplyTo(msg, "item", nil, WithReceiver(sink)),
			}, nil
		})

		for range Propagate(ctx, NewMessage("start", nil, WithReceiver(src))) {
			break
		}
		assert.Equal(t, 0, handled)
	})

	t.Run("error in one branch does not quarantine siblings", func(t *testing.T) {
		ok := NewBase("ok")
		ok.Handle("item", noop)
		broken := NewBase("broken")
		src := NewBase("src")
		src.Handle("start", func(_ context.Context, msg *Message) (any, error) {
			return []*Message{
				ReplyTo(msg, "item", "first", WithReceiver(broken)),
				ReplyTo(msg, "item", "second", WithReceiver(ok)),
			}, nil
		})

		var got []string
		var errs []error
		for reply, err := range Propagate(ctx, NewMessage("start", nil, WithReceiver(src))) {
			if err != nil {
				errs = append(errs, err)
				continue
			}
			got = append(got, reply.Payload())
		}
		require.Len(t, errs, 1)
		assert.ErrorIs(t, errs[0], ErrNoSuchCapability)
		assert.Equal(t, []string{`"first"`, `"second"`}, got)

		_, err := Collect(Propagate(ctx, NewMessage("start", nil, WithReceiver(src))))
		assert.ErrorIs(t, err, ErrNoSuchCapability)
	})

	t.Run("custom applicator covers the root only", func(t *testing.T) {
		twice := NewBase("twice")
		twice.Handle("step", func(_ context.Context, msg *Message) (any, error) {
			return ReplyTo(msg, "done", nil), nil
		})
		apply := func(_ context.Context, msg *Message) iter.Seq2[*Message, error] {
			return func(yield func(*Message, error) bool) {
				if !yield(ReplyTo(msg, "step", nil, WithReceiver(twice)), nil) {
					return
				}
				yield(ReplyTo(msg, "step", nil), nil)
			}
		}
		replies, err := Collect(NewEngine().PropagateWith(ctx, NewMessage("step", nil), apply))
		require.NoError(t, err)
		assert.Equal(t, []string{"step", "done", "step"}, intents(replies))
		assert.Equal(t, 2, replies[1].Depth())
	})

	t.Run("chained applicator yields both levels without rerouting", func(t *testing.T) {
		upper, echo := newShouters()
		eng := NewEngine()
		replies, err := Collect(eng.PropagateWith(ctx, NewMessage("word", nil), eng.Chain(upper, echo)))
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "AA", "B", "BB"}, payloads(t, replies))
	})
}

// newLooper returns two agents that reply to each other forever.
func newLooper() *Message {
	a := NewBase("a")
	b := NewBase("b")
	reply := func(_ context.Context, msg *Message) (any, error) {
		return ReplyTo(msg, "volley", nil), nil
	}
	a.Handle("volley", reply)
	b.Handle("volley", reply)
	return NewMessage("volley", nil, WithSender(a), WithReceiver(b))
}

func TestEngine_Limits(t *testing.T) {
	ctx := context.Background()

	t.Run("max depth", func(t *testing.T) {
		eng := NewEngine(WithMaxDepth(4))
		replies, err := Collect(eng.Propagate(ctx, newLooper()))

		assert.ErrorIs(t, err, ErrDepthExceeded)
		assert.Len(t, replies, 4)
		assert.Equal(t, 4, eng.MaxDepth())
	})

	t.Run("max messages", func(t *testing.T) {
		eng := NewEngine(WithMaxMessages(10))
		replies, err := Collect(eng.Propagate(ctx, newLooper()))

		assert.ErrorIs(t, err, ErrMessageBudgetExceeded)
		assert.Len(t, replies, 10)
	})

	t.Run("context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		count := 0
		var err error
		for _, e := range NewEngine().Propagate(ctx, newLooper()) {
			if e != nil {
				err = e
				break
			}
			count++
			if count == 5 {
				cancel()
			}
		}
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 5, count)
	})

	t.Run("rate limiter wait honors context", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		eng := NewEngine(WithRateLimiter(rate.NewLimiter(rate.Every(time.Hour), 1)))
		_, err := Collect(eng.Propagate(ctx, newLooper()))
		assert.Error(t, err)
	})
}

func TestEngine_PropagateAll(t *testing.T) {
	ctx := context.Background()
	sink := NewBase("sink")
	sink.Handle("leaf", noop)
	src := NewBase("src")
	src.Handle("root", func(_ context.Context, msg *Message) (any, error) {
		var name string
		if err := msg.UnmarshalPayload(&name); err != nil {
			return nil, err
		}
		return []*Message{
			ReplyTo(msg, "leaf", name+".1", WithReceiver(sink)),
			ReplyTo(msg, "leaf", name+".2", WithReceiver(sink)),
		}, nil
	})

	roots := []*Message{
		NewMessage("root", "r1", WithReceiver(src)),
		nil,
		NewMessage("root", "r2", WithReceiver(src)),
	}
	replies, err := Collect(PropagateAll(ctx, slices.Values(roots)))
	require.NoError(t, err)
	assert.Equal(t, []string{"r1.1", "r1.2", "r2.1", "r2.2"}, payloads(t, replies))
}

// newShouters returns an agent answering "word" with two shouts and one
// answering each shout with its doubled payload.
func newShouters() (upper, echo *Base) {
	upper = NewBase("upper")
	upper.Handle("word", func(_ context.Context, msg *Message) (any, error) {
		return []*Message{ReplyTo(msg, "shout", "A"), ReplyTo(msg, "shout", "B")}, nil
	})
	echo = NewBase("echo")
	echo.Handle("shout", func(_ context.Context, msg *Message) (any, error) {
		var s string
		if err := msg.UnmarshalPayload(&s); err != nil {
			return nil, err
		}
		return ReplyTo(msg, "echo", s+s), nil
	})
	return upper, echo
}

func TestEngine_Chain(t *testing.T) {
	ctx := context.Background()
	upper, echo := newShouters()

	eng := NewEngine()
	replies, err := Collect(eng.Chain(upper, echo)(ctx, NewMessage("word", nil)))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "AA", "B", "BB"}, payloads(t, replies))
}

func TestEngine_SerializesAgent(t *testing.T) {
	ctx := context.Background()
	var inFlight, maxInFlight atomic.Int32
	shared := NewBase("shared")
	shared.Handle("work", func(context.Context, *Message) (any, error) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		return nil, nil
	})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, Drain(Receive(ctx, shared, NewMessage("work", nil))))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestEngine_ReentrantReplyToSameAgent(t *testing.T) {
	// A reply routed back to the agent whose reply stream is still open must
	// not deadlock on the agent's lock.
	ctx := context.Background()
	self := NewBase("self")
	self.Handle("start", func(_ context.Context, msg *Message) (any, error) {
		return []*Message{
			ReplyTo(msg, "again", nil, WithReceiver(self)),
			ReplyTo(msg, "again", nil, WithReceiver(self)),
		}, nil
	})
	self.Handle("again", noop)

	replies, err := Collect(Propagate(ctx, NewMessage("start", nil, WithReceiver(self))))
	require.NoError(t, err)
	assert.Len(t, replies, 2)
}

func TestEngine_WarnsOnUnencodablePayload(t *testing.T) {
	var logs bytes.Buffer
	eng := NewEngine(WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	a := NewBase("a", WithHandler("ask", func(_ context.Context, msg *Message) (any, error) {
		return ReplyTo(msg, "answer", make(chan int)), nil
	}))

	replies, err := Collect(eng.Receive(t.Context(), a, NewMessage("ask", nil)))
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.ErrorIs(t, replies[0].PayloadErr(), ErrUnencodablePayload)
	assert.Contains(t, logs.String(), "reply payload not encoded")
	assert.Contains(t, logs.String(), replies[0].ID())
}
