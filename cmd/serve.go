package main

import (
	"slices"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pool-sentry/sentry/config"
	"github.com/pool-sentry/sentry/server"
)

const (
	categoryUpstream  = "upstream"
	categoryMempool   = "mempool"
	categoryVerifier  = "verifier"
	categoryBroadcast = "broadcast"
	categoryMetrics   = "metrics"
)

func CommandServe(cfg *config.Config) *cli.Command {
	endpoints := &cli.StringSlice{}
	kinds := cli.NewStringSlice("pending_transactions", "new_headers")

	upstreamFlags := []cli.Flag{
		&cli.StringSliceFlag{
			Category:    strings.ToUpper(categoryUpstream),
			Destination: endpoints,
			EnvVars:     []string{envPrefix + strings.ToUpper(categoryUpstream) + "_ENDPOINTS"},
			Name:        categoryUpstream + "-endpoints",
			Usage:       "list of `urls` of upstream node websocket endpoints",
		},

		&cli.StringSliceFlag{
			Category:    strings.ToUpper(categoryUpstream),
			Destination: kinds,
			EnvVars:     []string{envPrefix + strings.ToUpper(categoryUpstream) + "_KINDS"},
			Name:        categoryUpstream + "-kinds",
			Usage:       "subscription `kinds`: pending_transactions, new_headers",
		},

		&cli.DurationFlag{
			Category:    strings.ToUpper(categoryUpstream),
			Destination: &cfg.Upstream.DialTimeout,
			EnvVars:     []string{envPrefix + strings.ToUpper(categoryUpstream) + "_DIAL_TIMEOUT"},
			Name:        categoryUpstream + "-dial-timeout",
			Usage:       "websocket handshake `timeout`",
			Value:       10 * time.Second,
		},

		&cli.UintFlag{
			Category:    strings.ToUpper(categoryUpstream),
			Destination: &cfg.Upstream.DialAttempts,
			EnvVars:     []string{envPrefix + strings.ToUpper(categoryUpstream) + "_DIAL_ATTEMPTS"},
			Name:        categoryUpstream + "-dial-attempts",
			Usage:       "`count` of initial connection attempts before giving up",
			Value:       3,
		},

		&cli.DurationFlag{
			Category:    strings.ToUpper(categoryUpstream),
			Destination: &cfg.Upstream.BackoffMin,
			EnvVars:     []string{envPrefix + strings.ToUpper(categoryUpstream) + "_BACKOFF_MIN"},
			Name:        categoryUpstream + "-backoff-min",
			Usage:       "minimum reconnect backoff `delay`",
			Value:       time.Second,
		},

		&cli.DurationFlag{
			Category:    strings.ToUpper(categoryUpstream),
			Destination: &cfg.Upstream.BackoffMax,
			EnvVars:     []string{envPrefix + strings.ToUpper(categoryUpstream) + "_BACKOFF_MAX"},
			Name:        categoryUpstream + "-backoff-max",
			Usage:       "maximum reconnect backoff `delay`",
			Value:       time.Minute,
		},

		&cli.DurationFlag{
			Category:    strings.ToUpper(categoryUpstream),
			Destination: &cfg.Upstream.CallTimeout,
			EnvVars:     []string{envPrefix + strings.ToUpper(categoryUpstream) + "_CALL_TIMEOUT"},
			Name:        categoryUpstream + "-call-timeout",
			Usage:       "`timeout` for one-shot calls on the subscription connection",
			Value:       30 * time.Second,
		},
	}

	mempoolFlags := []cli.Flag{
		&cli.DurationFlag{
			Category:    strings.ToUpper(categoryMempool),
			Destination: &cfg.Mempool.TTL,
			EnvVars:     []string{envPrefix + strings.ToUpper(categoryMempool) + "_TTL"},
			Name:        categoryMempool + "-ttl",
			Usage:       "`duration` an unconfirmed transaction stays indexed",
			Value:       5 * time.Minute,
		},

		&cli.DurationFlag{
			Category:    strings.ToUpper(categoryMempool),
			Destination: &cfg.Mempool.ConfirmationGrace,
			EnvVars:     []string{envPrefix + strings.ToUpper(categoryMempool) + "_CONFIRMATION_GRACE"},
			Name:        categoryMempool + "-confirmation-grace",
			Usage:       "`duration` a confirmed transaction stays indexed",
			Value:       30 * time.Second,
		},

		&cli.IntFlag{
			Category:    strings.ToUpper(categoryMempool),
			Destination: &cfg.Mempool.MaxEntries,
			EnvVars:     []string{envPrefix + strings.ToUpper(categoryMempool) + "_MAX_ENTRIES"},
			Name:        categoryMempool + "-max-entries",
			Usage:       "`count` of indexed transactions above which early eviction kicks in (0 disables)",
			Value:       100000,
		},

		&cli.DurationFlag{
			Category:    strings.ToUpper(categoryMempool),
			Destination: &cfg.Mempool.SweepInterval,
			EnvVars:     []string{envPrefix + strings.ToUpper(categoryMempool) + "_SWEEP_INTERVAL"},
			Name:        categoryMempool + "-sweep-interval",
			Usage:       "`interval` between expiry sweeps",
			Value:       time.Second,
		},
	}

	verifierFlags := []cli.Flag{
		&cli.BoolFlag{
			Category:    strings.ToUpper(categoryVerifier),
			Destination: &cfg.Verifier.AllowAbsence,
			EnvVars:     []string{envPrefix + strings.ToUpper(categoryVerifier) + "_ALLOW_ABSENCE"},
			Name:        categoryVerifier + "-allow-absence",
			Usage:       "treat provably missing keys as a valid (negative) result",
		},

		&cli.StringFlag{
			Category:    strings.ToUpper(categoryVerifier),
			Destination: &cfg.Verifier.ProbeAddress,
			EnvVars:     []string{envPrefix + strings.ToUpper(categoryVerifier) + "_PROBE_ADDRESS"},
			Name:        categoryVerifier + "-probe-address",
			Usage:       "`address` whose state proof is verified against every new header",
		},
	}

	broadcastFlags := []cli.Flag{
		&cli.IntFlag{
			Category:    strings.ToUpper(categoryBroadcast),
			Destination: &cfg.Broadcast.QueueDepth,
			EnvVars:     []string{envPrefix + strings.ToUpper(categoryBroadcast) + "_QUEUE_DEPTH"},
			Name:        categoryBroadcast + "-queue-depth",
			Usage:       "`count` of events buffered per subscriber",
			Value:       1024,
		},

		&cli.StringFlag{
			Category:    strings.ToUpper(categoryBroadcast),
			Destination: &cfg.Broadcast.Policy,
			EnvVars:     []string{envPrefix + strings.ToUpper(categoryBroadcast) + "_POLICY"},
			Name:        categoryBroadcast + "-policy",
			Usage:       "slow-consumer `policy`: drop-oldest or disconnect",
			Value:       "drop-oldest",
		},

		&cli.StringFlag{
			Category:    strings.ToUpper(categoryBroadcast),
			Destination: &cfg.Broadcast.SocketPath,
			EnvVars:     []string{envPrefix + strings.ToUpper(categoryBroadcast) + "_SOCKET_PATH"},
			Name:        categoryBroadcast + "-socket-path",
			Usage:       "`path` of the unix socket for local subscribers (empty disables)",
		},

		&cli.DurationFlag{
			Category:    strings.ToUpper(categoryBroadcast),
			Destination: &cfg.Broadcast.IPCWriteTimeout,
			EnvVars:     []string{envPrefix + strings.ToUpper(categoryBroadcast) + "_IPC_WRITE_TIMEOUT"},
			Name:        categoryBroadcast + "-ipc-write-timeout",
			Usage:       "write `timeout` per ipc record",
			Value:       5 * time.Second,
		},
	}

	metricsFlags := []cli.Flag{
		&cli.StringFlag{
			Category:    strings.ToUpper(categoryMetrics),
			Destination: &cfg.Metrics.ListenAddress,
			EnvVars:     []string{envPrefix + strings.ToUpper(categoryMetrics) + "_LISTEN_ADDRESS"},
			Name:        categoryMetrics + "-listen-address",
			Usage:       "`host:port` for the metrics server",
			Value:       "0.0.0.0:6785",
		},
	}

	flags := slices.Concat(
		upstreamFlags,
		mempoolFlags,
		verifierFlags,
		broadcastFlags,
		metricsFlags,
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "run sentry server",
		Flags: flags,

		Before: func(_ *cli.Context) error {
			cfg.Upstream.Endpoints = endpoints.Value()
			cfg.Upstream.Kinds = kinds.Value()

			return cfg.Validate()
		},

		Action: func(_ *cli.Context) error {
			s, err := server.New(cfg)
			if err != nil {
				return err
			}
			return s.Run()
		},
	}
}
