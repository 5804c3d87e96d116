package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/pool-sentry/sentry/types"
	"github.com/pool-sentry/sentry/utils"
)

type Upstream struct {
	Endpoints []string `yaml:"endpoints"`
	Kinds     []string `yaml:"kinds"`

	DialTimeout  time.Duration `yaml:"dial_timeout"`
	DialAttempts uint          `yaml:"dial_attempts"`
	BackoffMin   time.Duration `yaml:"backoff_min"`
	BackoffMax   time.Duration `yaml:"backoff_max"`
	CallTimeout  time.Duration `yaml:"call_timeout"`
}

var (
	errUpstreamInvalidEndpoint = errors.New("invalid upstream endpoint url")
	errUpstreamInvalidKind     = errors.New("invalid subscription kind")
	errUpstreamInvalidBackoff  = errors.New("invalid backoff configuration")
)

func (cfg *Upstream) Validate() error {
	errs := make([]error, 0)

	for _, endpoint := range cfg.Endpoints {
		u, err := url.Parse(endpoint)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %w",
				errUpstreamInvalidEndpoint, endpoint, err,
			))
			continue
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			errs = append(errs, fmt.Errorf("%w: %s: scheme must be ws or wss",
				errUpstreamInvalidEndpoint, endpoint,
			))
		}
	}

	for _, kind := range cfg.Kinds {
		if !types.SubscriptionKind(kind).Valid() {
			errs = append(errs, fmt.Errorf("%w: %s",
				errUpstreamInvalidKind, kind,
			))
		}
	}

	if cfg.BackoffMin <= 0 || cfg.BackoffMax < cfg.BackoffMin {
		errs = append(errs, fmt.Errorf("%w: min %s, max %s",
			errUpstreamInvalidBackoff, cfg.BackoffMin, cfg.BackoffMax,
		))
	}

	return utils.FlattenErrors(errs)
}

func (cfg *Upstream) SubscriptionKinds() []types.SubscriptionKind {
	kinds := make([]types.SubscriptionKind, 0, len(cfg.Kinds))
	for _, kind := range cfg.Kinds {
		kinds = append(kinds, types.SubscriptionKind(kind))
	}
	return kinds
}
