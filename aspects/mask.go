package aspects

import (
	"github.com/fxsml/gomts/aspect"
	"github.com/fxsml/gomts/link"
	"github.com/fxsml/gomts/message"
	"github.com/fxsml/gomts/transport"
)

// Mask disables the named protocols: their destination links report
// [link.MaxCost] so no selection policy chooses them. Links of other
// protocols are left unwrapped.
func Mask(protocols ...string) *aspect.Aspect {
	masked := make(map[string]struct{}, len(protocols))
	for _, p := range protocols {
		masked[p] = struct{}{}
	}

	a := aspect.New(NameMask)
	aspect.Provide(a, transport.DestinationLinkKey, func(l link.DestinationLink) (link.DestinationLink, bool) {
		return maskedLink{l}, true
	})
	return aspect.RejectTransports(a, func(protocol, _ string) bool {
		_, ok := masked[protocol]
		return !ok
	})
}

type maskedLink struct {
	link.DestinationLink
}

func (maskedLink) Cost(*message.Message) link.Cost { return link.MaxCost }
