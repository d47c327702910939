package stream

import (
	"context"
	stderrors "errors"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/c360/mediaflow/metric"
	"github.com/c360/mediaflow/pkg/worker"
)

const notifierStopTimeout = 2 * time.Second

type threshold struct {
	n  int
	cb func()
	// wake closes a channel instead of queueing a callback
	direct bool
	token  *struct{}
}

// notifier delivers callbacks of one stream on a single worker so they never
// run on the goroutine that made the data available. Registration lists are
// guarded by the owning content's mutex.
type notifier struct {
	scheme  string
	logger  *slog.Logger
	metrics *metric.Metrics
	pool    *worker.Pool[delivery]

	reads      []threshold
	writes     []threshold
	eos        []func()
	disconnect []func(error)
	eosFired   bool
	discFired  bool
	discErr    error

	delivering atomic.Bool
	stopped    atomic.Bool
}

type delivery struct {
	event string
	fn    func()
}

func newNotifier(scheme string, queue int, logger *slog.Logger, metrics *metric.Metrics,
	opts ...worker.Option[delivery]) *notifier {
	n := &notifier{scheme: scheme, logger: logger, metrics: metrics}
	opts = append(opts, worker.WithErrorHandler(func(d delivery, err error) {
		logger.Warn("stream callback failed", "event", d.event, "error", err)
	}))
	n.pool = worker.NewPool(1, queue, n.deliver, opts...)
	_ = n.pool.Start(context.Background())
	return n
}

func (n *notifier) deliver(_ context.Context, d delivery) error {
	n.delivering.Store(true)
	defer n.delivering.Store(false)
	n.metrics.RecordStreamCallback(n.scheme, d.event)
	d.fn()
	return nil
}

// dispatch queues fns. A full queue hands the overflow to a goroutine that
// waits for room, so the caller never blocks.
func (n *notifier) dispatch(ds []delivery) {
	for i, d := range ds {
		err := n.pool.Submit(d)
		switch {
		case err == nil:
			continue
		case stderrors.Is(err, worker.ErrQueueFull):
			rest := ds[i:]
			go func() {
				for _, d := range rest {
					if err := n.pool.SubmitWait(context.Background(), d); err != nil {
						return
					}
				}
			}()
			return
		default:
			n.logger.Debug("stream callback dropped", "event", d.event, "error", err)
		}
	}
}

// onReadable moves read thresholds satisfied by avail into out.
func (n *notifier) onReadable(avail int, out []delivery) []delivery {
	var keep []threshold
	keep, out = fire(n.reads, avail, "read", out)
	n.reads = keep
	return out
}

func (n *notifier) onWritable(free int, out []delivery) []delivery {
	var keep []threshold
	keep, out = fire(n.writes, free, "write", out)
	n.writes = keep
	return out
}

func fire(list []threshold, avail int, event string, out []delivery) ([]threshold, []delivery) {
	keep := list[:0]
	for _, t := range list {
		switch {
		case t.n > avail:
			keep = append(keep, t)
		case t.direct:
			t.cb()
		default:
			out = append(out, delivery{event: event, fn: t.cb})
		}
	}
	return keep, out
}

func (n *notifier) onEOS(out []delivery) []delivery {
	if n.eosFired {
		return out
	}
	n.eosFired = true
	for _, cb := range n.eos {
		out = append(out, delivery{event: "eos", fn: cb})
	}
	n.eos = nil
	return out
}

func (n *notifier) onDisconnect(err error, out []delivery) []delivery {
	if n.discFired {
		return out
	}
	n.discFired = true
	n.discErr = err
	for _, cb := range n.disconnect {
		out = append(out, delivery{event: "disconnect", fn: func() { cb(err) }})
	}
	n.disconnect = nil
	return out
}

// reset drops every registration. Direct waiters are woken so they observe
// the closed stream.
func (n *notifier) reset() {
	for _, t := range append(n.reads, n.writes...) {
		if t.direct {
			t.cb()
		}
	}
	n.reads, n.writes, n.eos, n.disconnect = nil, nil, nil, nil
}

// stop ends the worker after queued callbacks ran. Called from inside a
// callback it cannot wait for itself and stops in the background.
func (n *notifier) stop() {
	if !n.stopped.CompareAndSwap(false, true) {
		return
	}
	if n.delivering.Load() {
		go func() { _ = n.pool.Stop(notifierStopTimeout) }()
		return
	}
	if err := n.pool.Stop(notifierStopTimeout); err != nil {
		n.logger.Warn("stream notifier did not stop in time", "error", err)
	}
}

// wakeReads releases direct read waiters so they re-evaluate.
func (n *notifier) wakeReads() {
	keep := n.reads[:0]
	for _, t := range n.reads {
		if t.direct {
			t.cb()
			continue
		}
		keep = append(keep, t)
	}
	n.reads = keep
}

// remove drops the direct waiter registered with token.
func (n *notifier) remove(token *struct{}) {
	drop := func(t threshold) bool { return t.token == token }
	n.reads = slices.DeleteFunc(n.reads, drop)
	n.writes = slices.DeleteFunc(n.writes, drop)
}
