// Package task provides the single-goroutine run queue that drives
// stream processing: I/O handlers wake tasks, the loop drains them.
package task

import "github.com/eapache/queue"

// Reason describes why a task got woken. Multiple wake-ups before the
// task runs merge their reasons.
type Reason uint8

const (
	WokenIO Reason = 1 << iota
	WokenTimer
	WokenShut
	WokenOther
)

func (r Reason) Has(mask Reason) bool {
	return r&mask != 0
}

// Waker is the wake-up surface handed to code that needs to reschedule
// a task without seeing the run queue itself.
type Waker interface {
	Wake(reason Reason)
}

// Task is one unit of deferred work. It occupies at most one queue slot
// no matter how many times it is woken before running.
type Task struct {
	runner  *Runner
	run     func(Reason)
	queued  bool
	reasons Reason
}

// Runner is a run queue owned by a single goroutine. Wake and Drain
// must both be called from that goroutine.
type Runner struct {
	pending *queue.Queue
}

func NewRunner() *Runner {
	return &Runner{pending: queue.New()}
}

func (r *Runner) NewTask(run func(Reason)) *Task {
	return &Task{runner: r, run: run}
}

func (t *Task) Wake(reason Reason) {
	t.reasons |= reason
	if t.queued {
		return
	}
	t.queued = true
	t.runner.pending.Add(t)
}

// Drain runs queued tasks until the queue empties, including tasks
// woken while draining.
func (r *Runner) Drain() {
	for r.pending.Length() > 0 {
		t := r.pending.Remove().(*Task)
		t.queued = false
		reasons := t.reasons
		t.reasons = 0
		t.run(reasons)
	}
}

// Pending reports how many tasks wait to run.
func (r *Runner) Pending() int {
	return r.pending.Length()
}
