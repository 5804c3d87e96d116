package config

import (
	"errors"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

type Verifier struct {
	// AllowAbsence makes provably-missing keys a valid (negative) result by
	// default; individual calls can still opt in explicitly.
	AllowAbsence bool `yaml:"allow_absence"`

	// ProbeAddress, when set, is the account whose state proof is fetched
	// and verified against every new header's state root.
	ProbeAddress string `yaml:"probe_address"`
}

var (
	errVerifierInvalidProbeAddress = errors.New("invalid probe address")
)

func (cfg *Verifier) Validate() error {
	if cfg.ProbeAddress != "" && !ethcommon.IsHexAddress(cfg.ProbeAddress) {
		return fmt.Errorf("%w: %s",
			errVerifierInvalidProbeAddress, cfg.ProbeAddress,
		)
	}

	return nil
}
