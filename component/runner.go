package component

import (
	"context"
	"sync"

	"github.com/c360/mediaflow/errors"
)

// Loop is the processing body of a component. It runs while the component is
// EXECUTING and must return promptly once ctx ends. Returning nil ends
// processing quietly; any other error invalidates the component.
type Loop func(ctx context.Context) error

// Finisher is implemented by components that can tell when their stream has
// ended, such as a sink that received the last buffer.
type Finisher interface {
	Finished() <-chan struct{}
}

// Runner runs a Loop on its own goroutine between the Start and Stop hooks.
// PAUSED stops the loop and resuming starts it again, so loops keep their
// progress in the component, not on the stack.
type Runner struct {
	loop Loop

	mu     sync.Mutex
	comp   *Base
	cancel context.CancelFunc
	done   chan struct{}

	finishOnce sync.Once
	finished   chan struct{}
}

// NewRunner creates a runner for loop. Pass its Hooks to NewBase, then Attach
// the created component.
func NewRunner(loop Loop) *Runner {
	return &Runner{loop: loop, finished: make(chan struct{})}
}

// Hooks returns h with Start, Stop, Pause and Resume bound to the runner.
// Load and Unload are kept.
func (r *Runner) Hooks(h Hooks) Hooks {
	h.Start = r.start
	h.Stop = r.stop
	h.Pause = r.stop
	h.Resume = r.start
	return h
}

// Attach binds the runner to its component. Invalidation cancels the loop
// without waiting for it.
func (r *Runner) Attach(c Component) {
	b := c.base()
	r.mu.Lock()
	r.comp = b
	r.mu.Unlock()
	b.OnStateChange(func(_, to State) {
		if to == StateInvalid {
			r.mu.Lock()
			if r.cancel != nil {
				r.cancel()
			}
			r.mu.Unlock()
		}
	})
}

// Running reports whether the loop goroutine is live.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// Finish marks the stream as ended. Later calls do nothing.
func (r *Runner) Finish() {
	r.finishOnce.Do(func() { close(r.finished) })
}

// Finished is closed once Finish has been called.
func (r *Runner) Finished() <-chan struct{} { return r.finished }

func (r *Runner) start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.comp == nil {
		return errors.Newf(errors.ErrorFatal, errors.ErrFatalFault, "Runner", "Start", "runner not attached")
	}
	if r.done != nil {
		select {
		case <-r.done:
		default:
			return nil
		}
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	r.cancel, r.done = cancel, done
	comp := r.comp
	go func() {
		defer close(done)
		err := r.run(loopCtx)
		if err == nil || loopCtx.Err() != nil {
			return
		}
		comp.Invalidate(errors.Wrap(err, "Runner", "loop", comp.Name()))
	}()
	return nil
}

func (r *Runner) run(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Newf(errors.ErrorFatal, errors.ErrFatalFault, "Runner", "loop", "loop panicked: %v", p)
		}
	}()
	return r.loop(ctx)
}

func (r *Runner) stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Runner", "Stop", "waiting for loop")
	}
}
