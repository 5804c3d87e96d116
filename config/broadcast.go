package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/pool-sentry/sentry/utils"
)

type Broadcast struct {
	QueueDepth int    `yaml:"queue_depth"`
	Policy     string `yaml:"policy"`

	SocketPath      string        `yaml:"socket_path"`
	IPCWriteTimeout time.Duration `yaml:"ipc_write_timeout"`
}

var (
	errBroadcastInvalidQueueDepth = errors.New("invalid broadcast queue depth")
	errBroadcastInvalidPolicy     = errors.New("invalid slow-consumer policy")
)

func (cfg *Broadcast) Validate() error {
	errs := make([]error, 0)

	if cfg.QueueDepth <= 0 {
		errs = append(errs, fmt.Errorf("%w: %d",
			errBroadcastInvalidQueueDepth, cfg.QueueDepth,
		))
	}

	switch cfg.Policy {
	case "drop-oldest", "disconnect":
		// valid
	default:
		errs = append(errs, fmt.Errorf("%w: %s",
			errBroadcastInvalidPolicy, cfg.Policy,
		))
	}

	return utils.FlattenErrors(errs)
}
