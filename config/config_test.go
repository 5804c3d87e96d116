package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pool-sentry/sentry/config"
)

func validConfig() *config.Config {
	cfg := config.New()

	cfg.Upstream.Endpoints = []string{"ws://127.0.0.1:8546"}
	cfg.Upstream.Kinds = []string{"pending_transactions", "new_headers"}
	cfg.Upstream.BackoffMin = time.Second
	cfg.Upstream.BackoffMax = time.Minute

	cfg.Mempool.TTL = time.Minute
	cfg.Mempool.ConfirmationGrace = 2 * time.Second
	cfg.Mempool.SweepInterval = time.Second

	cfg.Broadcast.QueueDepth = 16
	cfg.Broadcast.Policy = "drop-oldest"

	cfg.Metrics.ListenAddress = "0.0.0.0:6785"

	return cfg
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	{ // no upstreams is not a runnable configuration
		cfg := validConfig()
		cfg.Upstream.Endpoints = nil
		assert.Error(t, cfg.Validate())
	}

	{ // subscriptions ride a websocket, not plain http
		cfg := validConfig()
		cfg.Upstream.Endpoints = []string{"http://127.0.0.1:8545"}
		assert.Error(t, cfg.Validate())
	}

	{
		cfg := validConfig()
		cfg.Upstream.Kinds = []string{"logs"}
		assert.Error(t, cfg.Validate())
	}

	{
		cfg := validConfig()
		cfg.Upstream.BackoffMax = cfg.Upstream.BackoffMin / 2
		assert.Error(t, cfg.Validate())
	}

	{ // grace must fit within the ttl
		cfg := validConfig()
		cfg.Mempool.ConfirmationGrace = cfg.Mempool.TTL + time.Second
		assert.Error(t, cfg.Validate())
	}

	{
		cfg := validConfig()
		cfg.Broadcast.Policy = "block"
		assert.Error(t, cfg.Validate())
	}

	{
		cfg := validConfig()
		cfg.Verifier.ProbeAddress = "not-an-address"
		assert.Error(t, cfg.Validate())
	}

	{
		cfg := validConfig()
		cfg.Verifier.ProbeAddress = "0x00000000219ab540356cbb839cbe05303d7705fa"
		assert.NoError(t, cfg.Validate())
	}

	{
		cfg := validConfig()
		cfg.Metrics.ListenAddress = "not-listenable"
		assert.Error(t, cfg.Validate())
	}
}
