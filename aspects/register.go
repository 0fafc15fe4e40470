package aspects

import (
	"github.com/fxsml/gomts/aspect"
)

// Aspect names accepted by [transport.Config.Aspects] after [Register].
const (
	NameTrace      = "trace"
	NameStats      = "stats"
	NameRetryLimit = "retrylimit"
	NameGuard      = "guard"
	NameMask       = "mask"
	NameDedupe     = "dedupe"
)

// Config holds the settings of the named aspects built by the registry.
type Config struct {
	Trace      TraceConfig
	Stats      *Stats
	RetryLimit int
	Guard      GuardConfig
	Mask       []string
	Dedupe     DedupeConfig
}

// Register adds factories for the standard aspects to reg.
// The stats aspect is only available when cfg.Stats is set, so that its
// collectors are registered once by their owner.
func Register(reg *aspect.Registry, cfg Config) error {
	factories := []struct {
		name string
		f    aspect.Factory
	}{
		{NameTrace, func() (*aspect.Aspect, error) { return Trace(cfg.Trace), nil }},
		{NameRetryLimit, func() (*aspect.Aspect, error) { return RetryLimit(cfg.RetryLimit), nil }},
		{NameGuard, func() (*aspect.Aspect, error) { return Guard(cfg.Guard) }},
		{NameMask, func() (*aspect.Aspect, error) { return Mask(cfg.Mask...), nil }},
		{NameDedupe, func() (*aspect.Aspect, error) { return Dedupe(cfg.Dedupe) }},
	}
	if cfg.Stats != nil {
		stats := cfg.Stats
		factories = append(factories, struct {
			name string
			f    aspect.Factory
		}{NameStats, func() (*aspect.Aspect, error) { return stats.Aspect(), nil }})
	}

	for _, entry := range factories {
		if err := reg.Register(entry.name, entry.f); err != nil {
			return err
		}
	}
	return nil
}
