package agentmgr

import "sync"

// notifier is the single-waiter notify primitive spec §9 calls for: it lets
// queue insertions interrupt the runtime-iterator race in sendMessage.
// Grounded on the gateway's `resultCh := make(chan indexedResult, len(...))`
// fan-in pattern in internal/agent/loop.go, narrowed from "collect N tool
// results" to "wake at most one waiter per signal" — a buffered channel of
// size 1 where a full channel means a signal is already pending, so Notify
// never blocks and never piles up redundant wakeups.
type notifier struct {
	mu sync.Mutex
	ch chan struct{}
}

func newNotifier() *notifier {
	return &notifier{ch: make(chan struct{}, 1)}
}

// Notify wakes a waiter if one exists, or leaves a pending wakeup for the
// next call to Wait if none is currently blocked.
func (n *notifier) Notify() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

// Wait returns a channel that receives once Notify has been called at least
// once since the last successful Wait.
func (n *notifier) Wait() <-chan struct{} {
	return n.ch
}
