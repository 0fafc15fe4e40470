package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/fxsml/gomts/aspect"
	"github.com/fxsml/gomts/link"
	"github.com/fxsml/gomts/message"
	"github.com/fxsml/gomts/queue"
)

// linkSender is the single consumer of one destination queue. It selects a
// link for every message and forwards it, retrying or dropping on failure.
type linkSender struct {
	svc   *Service
	dest  message.Address
	queue *queue.Queue[*message.Message]

	// links caches the woven destination link per protocol name.
	// Only the sender goroutine touches it.
	links map[string]link.DestinationLink
}

func newLinkSender(svc *Service, q *destinationQueue) *linkSender {
	return &linkSender{
		svc:   svc,
		dest:  q.dest,
		queue: q.queue,
		links: make(map[string]link.DestinationLink),
	}
}

func (s *linkSender) run(ctx context.Context) {
	for {
		msg, err := s.queue.Pop(ctx)
		if err != nil {
			return
		}
		if ctx.Err() != nil {
			s.svc.drop(msg, ErrShutdownDropped)
			continue
		}
		s.dispatch(ctx, msg)
	}
}

// dispatch forwards msg and records the outcome. It never panics.
func (s *linkSender) dispatch(ctx context.Context, msg *message.Message) {
	if err := protect(func() error { return s.forward(ctx, msg) }); err != nil {
		s.svc.drop(msg, err)
		return
	}
	s.svc.forwarded(msg)
}

// forward returns nil once a link accepted msg, or the error to drop it with.
func (s *linkSender) forward(ctx context.Context, msg *message.Message) error {
	excluded := make(map[string]struct{})
	var lastErr error
	attempt := 0

	for {
		l, ok := s.selectLink(ctx, msg, excluded)
		if !ok {
			if lastErr != nil {
				return lastErr
			}
			noLink := fmt.Errorf("%w: %s", ErrNoLink, s.dest)
			if s.svc.cfg.Unreachable == UnreachableDrop {
				return noLink
			}
			attempt++
			message.SetStatus(msg, message.StatusHeld)
			if err := s.pause(ctx, msg, attempt, noLink); err != nil {
				return err
			}
			continue
		}

		attempt++
		msg.Attributes().Add(message.AttrAttempts, 1)
		msg.Attributes().Set(message.AttrProtocol, l.Protocol())
		err := protect(func() error { return l.ForwardMessage(ctx, msg) })
		if err == nil {
			return nil
		}

		switch link.Classify(err) {
		case link.TryNext:
			s.svc.logger.Debug("Link rejected destination, trying next",
				"id", msg.ID(), "destination", s.dest.String(), "protocol", l.Protocol(), "error", err)
			excluded[l.Protocol()] = struct{}{}
			lastErr = err
		case link.Retry:
			if !l.RetryFailedMessage(msg, attempt) {
				return err
			}
			if err := s.pause(ctx, msg, attempt, err); err != nil {
				return err
			}
			clear(excluded)
			lastErr = nil
		default:
			return err
		}
	}
}

// pause waits before the next attempt, or returns the drop error if the
// attempt budget is spent or the sender is stopping.
func (s *linkSender) pause(ctx context.Context, msg *message.Message, attempt int, cause error) error {
	if limit := s.svc.cfg.MaxAttempts; limit > 0 && attempt >= limit {
		return fmt.Errorf("%w (%d): %w", ErrMaxAttempts, attempt, cause)
	}
	delay := s.svc.cfg.Backoff(attempt)
	s.svc.logger.Warn("Retrying message",
		"id", msg.ID(), "destination", s.dest.String(), "attempt", attempt, "delay", delay, "error", cause)

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrShutdownDropped, cause)
	case <-t.C:
		return nil
	}
}

// selectLink collects the candidate links of all protocols that know the
// destination and asks the selection policy to choose.
func (s *linkSender) selectLink(ctx context.Context, msg *message.Message, excluded map[string]struct{}) (link.DestinationLink, bool) {
	var candidates []link.Candidate
	for _, p := range s.svc.protocols {
		if _, skip := excluded[p.Name()]; skip {
			continue
		}
		if !p.AddressKnown(ctx, s.dest) {
			continue
		}
		l, err := s.link(p)
		if err != nil {
			s.svc.logger.Warn("Destination link unavailable",
				"destination", s.dest.String(), "protocol", p.Name(), "error", err)
			continue
		}
		candidates = append(candidates, link.Candidate{Link: l, Cost: l.Cost(msg)})
	}
	return s.svc.policy.SelectLink(msg, candidates)
}

func (s *linkSender) link(p link.Protocol) (link.DestinationLink, error) {
	if l, ok := s.links[p.Name()]; ok {
		return l, nil
	}
	base, err := p.DestinationLink(s.dest)
	if err != nil {
		return nil, err
	}
	l := aspect.Weave(s.svc.chain, DestinationLinkKey, p.Name(), base)
	s.links[p.Name()] = l
	return l, nil
}
