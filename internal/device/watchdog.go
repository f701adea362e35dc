package device

import (
	"context"
	"sync"

	"github.com/looplab/fsm"
)

// Watchdog health states.
const (
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
	StateFailed   = "failed"
)

const watchdogBudget = 6

// Failure weights. A missing vehicle handle is a structural problem and
// decays the budget twice as fast as a flaky call or a skipped poll.
const (
	WeightCommand = 1
	WeightNoLogin = 2
)

// Watchdog is the decaying health budget of a device. Any failure drains
// it by an explicit weight, any success refills it. Entering the failed
// state invokes the callback exactly once per exhaustion.
type Watchdog struct {
	mu      sync.Mutex
	counter int
	machine *fsm.FSM
}

// NewWatchdog creates a healthy watchdog. onFailed runs (in its own
// goroutine) when the budget is exhausted.
func NewWatchdog(onFailed func()) *Watchdog {
	w := &Watchdog{counter: watchdogBudget}
	w.machine = fsm.NewFSM(
		StateHealthy,
		fsm.Events{
			{Name: "degrade", Src: []string{StateHealthy}, Dst: StateDegraded},
			{Name: "fail", Src: []string{StateHealthy, StateDegraded}, Dst: StateFailed},
			{Name: "recover", Src: []string{StateDegraded, StateFailed}, Dst: StateHealthy},
		},
		fsm.Callbacks{
			"enter_" + StateFailed: func(ctx context.Context, e *fsm.Event) {
				if onFailed != nil {
					go onFailed()
				}
			},
		},
	)
	return w
}

// RecordFailure drains the budget by weight. Exhaustion transitions to
// failed and fires the callback; further failures while failed are
// absorbed silently.
func (w *Watchdog) RecordFailure(weight int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.counter -= weight
	if w.counter <= 0 {
		// no-op when already failed
		_ = w.machine.Event(context.Background(), "fail")
		return
	}
	_ = w.machine.Event(context.Background(), "degrade")
}

// RecordSuccess refills the budget and returns to healthy.
func (w *Watchdog) RecordSuccess() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.counter = watchdogBudget
	_ = w.machine.Event(context.Background(), "recover")
}

// Reset refills the budget without treating it as a success event, used
// when the queue is flushed at a restart boundary.
func (w *Watchdog) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.counter = watchdogBudget
	w.machine.SetState(StateHealthy)
}

// State returns the current health state.
func (w *Watchdog) State() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.machine.Current()
}

// Budget returns the remaining failure budget.
func (w *Watchdog) Budget() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.counter
}
