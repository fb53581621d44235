package engine

import "log/slog"

// Option configures a Switchboard.
type Option func(*switchboardConfig)

type switchboardConfig struct {
	surface MessageSurface
	logger  *slog.Logger
	seeds   func() string
}

func defaultSwitchboardConfig() switchboardConfig {
	return switchboardConfig{
		seeds: NewSeed,
	}
}

// WithSurface sets where the fallback entry point shows its
// "no engine" notice.
func WithSurface(s MessageSurface) Option {
	return func(c *switchboardConfig) {
		c.surface = s
	}
}

// WithLogger sets the logger used for engine lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(c *switchboardConfig) {
		c.logger = l
	}
}

// WithSeedSource replaces the generator used for fresh random seeds.
func WithSeedSource(fn func() string) Option {
	return func(c *switchboardConfig) {
		if fn != nil {
			c.seeds = fn
		}
	}
}
