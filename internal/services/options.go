package services

import (
	"crypto/rand"
	"io"
	"time"
)

type options struct {
	now     func() time.Time
	entropy io.Reader
}

// Option customises a service
type Option func(*options)

// WithClock replaces the wall clock
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithEntropy replaces crypto/rand as the pairing code source
func WithEntropy(r io.Reader) Option {
	return func(o *options) { o.entropy = r }
}

func buildOptions(opts []Option) options {
	o := options{
		now:     func() time.Time { return time.Now().UTC() },
		entropy: rand.Reader,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
