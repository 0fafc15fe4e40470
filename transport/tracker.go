package transport

import (
	"context"
	"sync"

	"github.com/fxsml/gomts/message"
)

// messageTracker counts accepted messages until they are forwarded or
// dropped, and collects dropped messages until the next flush.
//
// Thread-safe for concurrent use.
type messageTracker struct {
	mu      sync.Mutex
	count   int
	idle    chan struct{} // closed while count == 0
	dropped []*message.Message
}

func newMessageTracker() *messageTracker {
	idle := make(chan struct{})
	close(idle)
	return &messageTracker{idle: idle}
}

func (t *messageTracker) enter() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == 0 {
		t.idle = make(chan struct{})
	}
	t.count++
}

func (t *messageTracker) exit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exitLocked()
}

func (t *messageTracker) drop(msg *message.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropped = append(t.dropped, msg)
	t.exitLocked()
}

func (t *messageTracker) exitLocked() {
	if t.count == 0 {
		return
	}
	t.count--
	if t.count == 0 {
		close(t.idle)
	}
}

func (t *messageTracker) inFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// flush blocks until no message is in flight, then returns and clears the
// dropped messages.
func (t *messageTracker) flush(ctx context.Context) ([]*message.Message, error) {
	for {
		t.mu.Lock()
		if t.count == 0 {
			dropped := t.dropped
			t.dropped = nil
			t.mu.Unlock()
			return dropped, nil
		}
		idle := t.idle
		t.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
