// Package agent provides the message and dispatch core of Cortex.
//
// Agents exchange immutable messages. Every reply records the message it
// replies to, so the messages produced by a conversation form a causal
// lineage that package lineage can query.
//
// # Agents
//
// Embed *Base to declare one handler per intent:
//
//	type Echo struct{ *agent.Base }
//
//	func NewEcho() *Echo {
//	    e := &Echo{Base: agent.NewBase("echo")}
//	    e.Handle("ping", func(ctx context.Context, msg *agent.Message) (any, error) {
//	        return agent.ReplyTo(msg, "pong", nil), nil
//	    })
//	    return e
//	}
//
// A handler may return nothing, a single message, a slice, an iterator, a
// channel or a Deferred; see Replies.
//
// # Propagation
//
// The Engine dispatches a message to its receiver and then, depth first,
// dispatches every reply to its own receiver until no more replies are
// produced:
//
//	eng := agent.NewEngine(agent.WithMaxDepth(32))
//	root := agent.NewMessage("ping", nil, agent.WithReceiver(echo))
//	for reply, err := range eng.Propagate(ctx, root) {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(reply.Intent())
//	}
//
// Replies are produced lazily; breaking out of the loop abandons the rest of
// the traversal.
package agent
