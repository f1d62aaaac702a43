package buffer

import (
	"github.com/c360/ntscope/metric"
)

// Option configures a Ring.
type Option[T any] func(*options[T])

type options[T any] struct {
	policy   OverflowPolicy
	onDrop   DropCallback[T]
	registry *metric.MetricsRegistry
	name     string
}

// WithOverflowPolicy sets the overflow behavior. Defaults to DropOldest.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(o *options[T]) {
		o.policy = policy
	}
}

// WithMetrics exports ring metrics labelled with name. A nil registry or
// empty name is ignored.
func WithMetrics[T any](registry *metric.MetricsRegistry, name string) Option[T] {
	return func(o *options[T]) {
		if registry != nil && name != "" {
			o.registry = registry
			o.name = name
		}
	}
}

// WithDropCallback sets a callback for items discarded by overflow.
func WithDropCallback[T any](callback DropCallback[T]) Option[T] {
	return func(o *options[T]) {
		o.onDrop = callback
	}
}

func applyOptions[T any](opts ...Option[T]) *options[T] {
	o := &options[T]{policy: DropOldest}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}
