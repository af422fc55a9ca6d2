// Package effects provides an effect-driven workflow engine for Go.
//
// Workflows never perform side effects directly. They describe them as
// effect values (Call, Put, Take, Fork, Spawn, Race, All, Delay, Cancel,
// Cancelled, Select, Join) and hand them to the Engine, which performs the
// effect and resumes the workflow with its result.
//
// # How does it work?
//
// An Engine owns a single loop goroutine. Every workflow runs on its own
// goroutine, but control is handed back and forth with the loop, so at most
// one of them runs at any time and task state is never shared concurrently.
//
//   - Events enter through Engine.Dispatch or a Put effect and are matched
//     against blocked Take effects in registration order.
//   - Call effects run on an executor. Calls sharing a Key run in order.
//   - Fork binds a child to its parent: cancelling the parent cancels the
//     child, and the parent only completes once its children have. Spawn
//     starts a detached task the parent's cancellation never reaches.
//   - Cancellation is cooperative. A suspended task is resumed with
//     ErrCancelled; afterwards it may only perform cleanup effects.
//
// Example:
//
//	engine := effects.New(ctx, effects.WithLogger(logger))
//	root, err := engine.Start(func(t *effects.Task, _ ...any) (any, error) {
//	    for {
//	        ev, err := t.Take(effects.Exact("PING"))
//	        if err != nil {
//	            return nil, err
//	        }
//	        if err := t.Put(effects.Event{Type: "PONG", Payload: ev.Payload}); err != nil {
//	            return nil, err
//	        }
//	    }
//	})
//	...
//	_ = engine.Stop(ctx, root)
package effects
