package reconcile

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/orris-inc/adfree/internal/shared/config"
)

const (
	defaultFetchTimeout    = 5 * time.Second
	defaultVerifyTimeout   = 10 * time.Second
	defaultRetryInitial    = 2 * time.Second
	defaultRetryMax        = time.Minute
	defaultRetryMaxElapsed = 15 * time.Minute
)

// Options bound the remote calls and the background retry.
type Options struct {
	FetchTimeout    time.Duration
	VerifyTimeout   time.Duration
	RetryInitial    time.Duration
	RetryMax        time.Duration
	RetryMaxElapsed time.Duration
}

// OptionsFromConfig reads the timeouts and retry policy of the remote client.
func OptionsFromConfig(cfg config.RemoteConfig) Options {
	return Options{
		FetchTimeout:    cfg.FetchTimeout,
		VerifyTimeout:   cfg.VerifyTimeout,
		RetryInitial:    cfg.RetryInitial,
		RetryMax:        cfg.RetryMax,
		RetryMaxElapsed: cfg.RetryMaxElapsed,
	}
}

func (o Options) withDefaults() Options {
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = defaultFetchTimeout
	}
	if o.VerifyTimeout <= 0 {
		o.VerifyTimeout = defaultVerifyTimeout
	}
	if o.RetryInitial <= 0 {
		o.RetryInitial = defaultRetryInitial
	}
	if o.RetryMax <= 0 {
		o.RetryMax = defaultRetryMax
	}
	if o.RetryMaxElapsed <= 0 {
		o.RetryMaxElapsed = defaultRetryMaxElapsed
	}
	return o
}

func (o Options) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.RetryInitial
	b.MaxInterval = o.RetryMax
	b.Reset()
	return b
}
