package service

import (
	"time"

	"betledger/observability"
)

// Option customises a service beyond its required collaborators
type Option func(*serviceOptions)

type serviceOptions struct {
	now     func() time.Time
	metrics *observability.Metrics
}

func newServiceOptions(opts []Option) serviceOptions {
	o := serviceOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock replaces time.Now, mainly for expiry tests
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMetrics records service activity on m
func WithMetrics(m *observability.Metrics) Option {
	return func(o *serviceOptions) {
		o.metrics = m
	}
}
