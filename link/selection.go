package link

import (
	"sync/atomic"

	"github.com/fxsml/gomts/message"
)

// SelectionPolicy picks the link to forward a message over.
type SelectionPolicy interface {
	// SelectLink returns the chosen link, or false if no candidate qualifies.
	SelectLink(msg *message.Message, candidates []Candidate) (DestinationLink, bool)
}

// SelectionFunc adapts a function to SelectionPolicy.
type SelectionFunc func(msg *message.Message, candidates []Candidate) (DestinationLink, bool)

// SelectLink calls f.
func (f SelectionFunc) SelectLink(msg *message.Message, candidates []Candidate) (DestinationLink, bool) {
	return f(msg, candidates)
}

// MinCost selects the viable candidate with the lowest cost.
// Candidates at MaxCost are skipped. Among equal costs the first candidate
// in iteration order wins; callers must not rely on tie order.
type MinCost struct{}

// SelectLink implements SelectionPolicy.
func (MinCost) SelectLink(_ *message.Message, candidates []Candidate) (DestinationLink, bool) {
	var best DestinationLink
	lowest := MaxCost
	for _, c := range candidates {
		if c.Link == nil || !c.Cost.Viable() {
			continue
		}
		if best == nil || c.Cost < lowest {
			best = c.Link
			lowest = c.Cost
		}
	}
	return best, best != nil
}

// Provisioner holds the active selection policy and allows swapping it at
// runtime. It is safe for concurrent use.
type Provisioner struct {
	current atomic.Pointer[policyHolder]
}

type policyHolder struct {
	policy SelectionPolicy
}

// NewProvisioner creates a provisioner. A nil policy selects MinCost.
func NewProvisioner(policy SelectionPolicy) *Provisioner {
	p := &Provisioner{}
	p.Set(policy)
	return p
}

// Get returns the active policy.
func (p *Provisioner) Get() SelectionPolicy {
	return p.current.Load().policy
}

// Set replaces the active policy. A nil policy restores MinCost.
func (p *Provisioner) Set(policy SelectionPolicy) {
	if policy == nil {
		policy = MinCost{}
	}
	p.current.Store(&policyHolder{policy: policy})
}

// SelectLink delegates to the active policy.
func (p *Provisioner) SelectLink(msg *message.Message, candidates []Candidate) (DestinationLink, bool) {
	return p.Get().SelectLink(msg, candidates)
}
