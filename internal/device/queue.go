package device

import (
	"log"
	"time"
)

// Command names accepted by the queue.
type Command string

const (
	CmdPoll             Command = "doPoll"
	CmdStartClimate     Command = "start"
	CmdStopClimate      Command = "stop"
	CmdLock             Command = "lock"
	CmdUnlock           Command = "unlock"
	CmdSetChargeTargets Command = "setChargeTargets"
	CmdStartCharge      Command = "startCharge"
	CmdStopCharge       Command = "stopCharge"
	CmdSetNavigation    Command = "setNavigation"
)

// settleTime is how long the consumer waits after dispatching a command
// before draining the next item. This absorbs backend propagation delay
// instead of hammering the API.
var settleTime = map[Command]time.Duration{
	CmdPoll:             5 * time.Second,
	CmdStartClimate:     65 * time.Second,
	CmdStopClimate:      5 * time.Second,
	CmdLock:             5 * time.Second,
	CmdUnlock:           5 * time.Second,
	CmdSetChargeTargets: 25 * time.Second,
	CmdStartCharge:      25 * time.Second,
	CmdStopCharge:       5 * time.Second,
	CmdSetNavigation:    65 * time.Second,
}

const queueCapacity = 10

// item is one queued command.
type item struct {
	cmd      Command
	args     any
	enqueued time.Time
}

// queue is a bounded FIFO of commands against one vehicle. The buffered
// channel is the queue: enqueue is a channel-full check, the single
// consumer goroutine drains head to tail.
type queue struct {
	items chan item
}

func newQueue() *queue {
	return &queue{items: make(chan item, queueCapacity)}
}

// enqueue appends to the tail. A full queue drops the item and reports
// overflow; it never blocks.
func (q *queue) enqueue(it item) bool {
	select {
	case q.items <- it:
		return true
	default:
		log.Printf("queue overflow, dropping %s", it.cmd)
		return false
	}
}

// flush discards all pending items.
func (q *queue) flush() {
	for {
		select {
		case <-q.items:
		default:
			return
		}
	}
}

func (q *queue) empty() bool {
	return len(q.items) == 0
}
