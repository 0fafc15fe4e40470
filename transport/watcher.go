package transport

import (
	"slices"
	"sync"

	"github.com/fxsml/gomts/message"
)

// Watcher observes message outcomes. Callbacks run on pipeline workers and
// must not block. A panicking callback is logged and skipped.
type Watcher interface {
	// MessageSent is called after a link forwarded msg.
	MessageSent(msg *message.Message)
	// MessageReceived is called after msg was handed to a local client.
	MessageReceived(msg *message.Message)
	// MessageDropped is called once when msg is abandoned.
	MessageDropped(msg *message.Message, err error)
}

// WatcherFuncs adapts optional callbacks to Watcher.
// Register it by pointer so RemoveWatcher can find it.
type WatcherFuncs struct {
	Sent     func(msg *message.Message)
	Received func(msg *message.Message)
	Dropped  func(msg *message.Message, err error)
}

func (w *WatcherFuncs) MessageSent(msg *message.Message) {
	if w.Sent != nil {
		w.Sent(msg)
	}
}

func (w *WatcherFuncs) MessageReceived(msg *message.Message) {
	if w.Received != nil {
		w.Received(msg)
	}
}

func (w *WatcherFuncs) MessageDropped(msg *message.Message, err error) {
	if w.Dropped != nil {
		w.Dropped(msg, err)
	}
}

type watchers struct {
	mu     sync.RWMutex
	list   []Watcher
	logger Logger
}

func (w *watchers) add(watcher Watcher) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.list = append(w.list, watcher)
}

func (w *watchers) remove(watcher Watcher) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	i := slices.Index(w.list, watcher)
	if i < 0 {
		return false
	}
	w.list = slices.Delete(w.list, i, i+1)
	return true
}

func (w *watchers) snapshot() []Watcher {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.list)
}

func (w *watchers) sent(msg *message.Message) {
	for _, watcher := range w.snapshot() {
		w.call("sent", msg, func() { watcher.MessageSent(msg) })
	}
}

func (w *watchers) received(msg *message.Message) {
	for _, watcher := range w.snapshot() {
		w.call("received", msg, func() { watcher.MessageReceived(msg) })
	}
}

func (w *watchers) dropped(msg *message.Message, err error) {
	for _, watcher := range w.snapshot() {
		w.call("dropped", msg, func() { watcher.MessageDropped(msg, err) })
	}
}

func (w *watchers) call(event string, msg *message.Message, fn func()) {
	err := protect(func() error {
		fn()
		return nil
	})
	if err != nil && w.logger != nil {
		w.logger.Error("Watcher panicked", "event", event, "id", msg.ID(), "error", err)
	}
}
