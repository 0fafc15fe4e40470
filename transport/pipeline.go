package transport

import (
	"errors"
	"fmt"

	"github.com/fxsml/gomts/message"
	"github.com/fxsml/gomts/queue"
)

// sendQueue is the FIFO entry stage. One worker drains it into the router.
type sendQueue struct {
	queue *queue.Queue[*message.Message]
}

func newSendQueue(capacity int) *sendQueue {
	return &sendQueue{queue: queue.NewFIFOQueue[*message.Message](capacity)}
}

func (q *sendQueue) SendMessage(msg *message.Message) error {
	_, err := q.queue.Push(msg)
	return queueError(err)
}

func (q *sendQueue) Len() int { return q.queue.Len() }

// router hands messages to their destination queue, creating it on first use.
type router struct {
	destinations *destinationQueueFactory
}

func (r *router) RouteMessage(msg *message.Message) error {
	dq, err := r.destinations.Get(msg.Target())
	if err != nil {
		return err
	}
	return dq.Enqueue(msg)
}

func queueError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, queue.ErrFull):
		return fmt.Errorf("%w: %w", ErrQueueFull, err)
	case errors.Is(err, queue.ErrClosed):
		return fmt.Errorf("%w: %w", ErrStopped, err)
	default:
		return err
	}
}
