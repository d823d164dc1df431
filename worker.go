package pace

import (
	"strconv"

	"github.com/loadtrace/pace/internal/queue"

	eq "github.com/eapache/queue"
)

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithVars attaches the variable store the worker publishes
// sequence ids to under VarSequenceID.
func WithVars(v VarPublisher) WorkerOption {
	return func(w *Worker) { w.vars = v }
}

// WithStopFunc sets the callback fired once when the worker's timestamps
// are exhausted. The host loop should stop scheduling the worker after the
// cycle the callback fires in.
func WithStopFunc(fn func()) WorkerOption {
	return func(w *Worker) { w.stop = fn }
}

// NewWorker creates the handle through which worker num draws its delays.
// Workers are expected to be created after StartRun. A Worker belongs to a
// single goroutine; only the Scheduler behind it is shared.
func (s *Scheduler) NewWorker(num int, opts ...WorkerOption) *Worker {
	w := &Worker{s: s, num: num}
	for _, o := range opts {
		o(w)
	}
	if s.mode == ModePerWorkerFull {
		w.cursor = eq.New()
		s.mu.Lock()
		for _, ts := range s.seq {
			w.cursor.Add(ts)
		}
		s.mu.Unlock()
	}
	return w
}

// Worker draws delays for one concurrent execution context.
type Worker struct {
	s    *Scheduler
	num  int
	vars VarPublisher
	stop func()

	// cursor is the worker's private walk of the full sequence,
	// ModePerWorkerFull only.
	cursor *eq.Queue

	exhausted bool
}

// Num returns the worker's ordinal within its group.
func (w *Worker) Num() int { return w.num }

// Exhausted reports whether the worker's assigned timestamps ran out.
// The condition is terminal.
func (w *Worker) Exhausted() bool { return w.exhausted }

// NextDelay returns how long the worker must wait before acting next, so
// that the action lands on its next assigned offset relative to the shared
// run-start instant. The caller is responsible for sleeping the returned
// duration. The consumed timestamp's sequence id is published to the
// worker's VarPublisher.
//
// Once the worker's timestamps are exhausted, the stop callback fires, "0"
// is published and every further call returns the delay until just past the
// run's final planned offset. The returned delay is never negative and the
// call never blocks beyond the scheduler's poll timeout.
func (w *Worker) NextDelay() Duration {
	ts, ok := w.next()
	now := w.s.provider.Now()

	if !ok {
		if w.vars != nil {
			w.vars.Set(VarSequenceID, "0")
		}
		return nonNegative(w.s.exhaustTarget().Sub(now))
	}

	if w.vars != nil {
		w.vars.Set(VarSequenceID, strconv.FormatUint(ts.Seq, 10))
	}
	target := w.s.startInstant().Add(ts.Offset)
	return nonNegative(target.Sub(now))
}

// next obtains the worker's next timestamp per the allocation mode.
func (w *Worker) next() (Timestamp, bool) {
	if w.exhausted {
		return Timestamp{}, false
	}

	var ts Timestamp
	var ok bool
	switch w.s.mode {
	case ModeShared:
		// The bounded poll tolerates a transient empty queue while the
		// enqueue phase races worker startup.
		if d := w.s.drain(); d != nil {
			var e queue.Entry
			if e, ok = d.Poll(w.s.pollTimeout); ok {
				ts = Timestamp{Seq: e.Seq, Offset: e.Offset}
			}
		}
	case ModePerWorkerFull:
		if w.cursor != nil && w.cursor.Length() > 0 {
			ts, ok = w.cursor.Remove().(Timestamp), true
		}
	}

	if !ok {
		w.exhausted = true
		w.s.logger.Debug("worker exhausted", "worker", w.num)
		if w.stop != nil {
			w.stop()
			w.stop = nil
		}
	}
	return ts, ok
}

func nonNegative(d Duration) Duration {
	if d < 0 {
		return 0
	}
	return d
}
