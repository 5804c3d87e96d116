package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/pool-sentry/sentry/utils"
)

type Mempool struct {
	TTL               time.Duration `yaml:"ttl"`
	ConfirmationGrace time.Duration `yaml:"confirmation_grace"`
	MaxEntries        int           `yaml:"max_entries"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
}

var (
	errMempoolInvalidTTL           = errors.New("invalid mempool ttl")
	errMempoolInvalidGrace         = errors.New("invalid confirmation grace period")
	errMempoolInvalidMaxEntries    = errors.New("invalid mempool max entries")
	errMempoolInvalidSweepInterval = errors.New("invalid mempool sweep interval")
)

func (cfg *Mempool) Validate() error {
	errs := make([]error, 0)

	if cfg.TTL <= 0 {
		errs = append(errs, fmt.Errorf("%w: %s",
			errMempoolInvalidTTL, cfg.TTL,
		))
	}

	if cfg.ConfirmationGrace < 0 || cfg.ConfirmationGrace > cfg.TTL {
		errs = append(errs, fmt.Errorf("%w: %s must be within [0, ttl]",
			errMempoolInvalidGrace, cfg.ConfirmationGrace,
		))
	}

	if cfg.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("%w: %d",
			errMempoolInvalidMaxEntries, cfg.MaxEntries,
		))
	}

	if cfg.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("%w: %s",
			errMempoolInvalidSweepInterval, cfg.SweepInterval,
		))
	}

	return utils.FlattenErrors(errs)
}
