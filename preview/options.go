package preview

import (
	"context"
	"log/slog"

	"github.com/caffeineduck/mechanic/function"
)

// DefaultScalePadding is subtracted from each viewport dimension to get
// the scale-to-fit box.
const DefaultScalePadding = 100

// Observer is told about every change to the live values, once per
// update. It runs with the controller locked and must not call back
// into it.
type Observer func(fn string, values function.Values)

// ValueStore persists live values between sessions.
type ValueStore interface {
	Load(ctx context.Context, fn string) (function.Values, error)
	Save(ctx context.Context, fn string, values function.Values) error
}

// Option configures a Controller.
type Option func(*config)

type config struct {
	observers []Observer
	store     ValueStore
	padding   float64
	logger    *slog.Logger
}

func defaultConfig() config {
	return config{padding: DefaultScalePadding}
}

// WithObserver registers an observer of value changes.
func WithObserver(o Observer) Option {
	return func(c *config) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// WithStore makes the controller restore values on Select and save them
// on every change.
func WithStore(s ValueStore) Option {
	return func(c *config) {
		c.store = s
	}
}

// WithScalePadding overrides DefaultScalePadding.
func WithScalePadding(p float64) Option {
	return func(c *config) {
		if p >= 0 {
			c.padding = p
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}
