package transport

import (
	"sync"

	"github.com/fxsml/gomts/aspect"
	"github.com/fxsml/gomts/message"
	"github.com/fxsml/gomts/queue"
)

// destinationQueue holds the messages of one destination.
type destinationQueue struct {
	dest  message.Address
	queue *queue.Queue[*message.Message]
}

func (q *destinationQueue) Destination() message.Address { return q.dest }

func (q *destinationQueue) Enqueue(msg *message.Message) error {
	added, err := q.queue.Push(msg)
	if err != nil {
		return queueError(err)
	}
	if !added {
		return ErrDuplicate
	}
	return nil
}

func (q *destinationQueue) Len() int { return q.queue.Len() }

type destinationEntry struct {
	raw   *destinationQueue
	woven DestinationQueue
}

// destinationQueueFactory is the find-or-make cache of destination queues.
// Each new queue is woven for the DestinationQueue capability and handed,
// undecorated, to spawn, which starts its link sender.
type destinationQueueFactory struct {
	newQueue func() *queue.Queue[*message.Message]
	chain    aspect.Chain
	spawn    func(*destinationQueue)

	mu      sync.RWMutex
	entries map[message.Address]*destinationEntry
	closed  bool
}

func newDestinationQueueFactory(cfg Config, chain aspect.Chain, spawn func(*destinationQueue)) *destinationQueueFactory {
	newQueue := func() *queue.Queue[*message.Message] {
		return queue.NewFIFOQueue[*message.Message](cfg.DestinationQueueCapacity)
	}
	if cfg.Ordering == OrderPriority {
		newQueue = func() *queue.Queue[*message.Message] {
			return queue.New[*message.Message](
				queue.NewSorted(message.ByPriority, (*message.Message).ID),
				cfg.DestinationQueueCapacity,
			)
		}
	}
	return &destinationQueueFactory{
		newQueue: newQueue,
		chain:    chain,
		spawn:    spawn,
		entries:  make(map[message.Address]*destinationEntry),
	}
}

// Get returns the queue for dest, creating it and its link sender on a miss.
func (f *destinationQueueFactory) Get(dest message.Address) (DestinationQueue, error) {
	f.mu.RLock()
	e, ok := f.entries[dest]
	closed := f.closed
	f.mu.RUnlock()
	if ok {
		return e.woven, nil
	}
	if closed {
		return nil, ErrStopped
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[dest]; ok {
		return e.woven, nil
	}
	if f.closed {
		return nil, ErrStopped
	}

	raw := &destinationQueue{dest: dest, queue: f.newQueue()}
	e = &destinationEntry{
		raw:   raw,
		woven: aspect.Weave[DestinationQueue](f.chain, DestinationQueueKey, "", raw),
	}
	f.entries[dest] = e
	f.spawn(raw)
	return e.woven, nil
}

// lengths returns the queue length per destination.
func (f *destinationQueueFactory) lengths() map[string]int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]int, len(f.entries))
	for dest, e := range f.entries {
		out[dest.String()] = e.raw.Len()
	}
	return out
}

// close stops creating queues and closes the existing ones.
func (f *destinationQueueFactory) close() []*destinationQueue {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	out := make([]*destinationQueue, 0, len(f.entries))
	for _, e := range f.entries {
		e.raw.queue.Close()
		out = append(out, e.raw)
	}
	return out
}
