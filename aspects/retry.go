package aspects

import (
	"github.com/fxsml/gomts/aspect"
	"github.com/fxsml/gomts/link"
	"github.com/fxsml/gomts/message"
	"github.com/fxsml/gomts/transport"
)

// RetryLimit bounds retries per destination link to at most n forwarding
// attempts for one message. Links that already decline to retry keep
// declining. A non-positive n disables retries.
func RetryLimit(n int) *aspect.Aspect {
	a := aspect.New(NameRetryLimit)
	aspect.Provide(a, transport.DestinationLinkKey, func(l link.DestinationLink) (link.DestinationLink, bool) {
		return &retryLimitLink{DestinationLink: l, limit: n}, true
	})
	return a
}

type retryLimitLink struct {
	link.DestinationLink
	limit int
}

func (l *retryLimitLink) RetryFailedMessage(msg *message.Message, attempt int) bool {
	if attempt >= l.limit {
		return false
	}
	return l.DestinationLink.RetryFailedMessage(msg, attempt)
}
