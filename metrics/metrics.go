package metrics

import (
	"context"

	"go.opentelemetry.io/otel/exporters/prometheus"
	otelapi "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const (
	metricsNamespace = "sentry"
)

var (
	meter otelapi.Meter
)

func Setup(
	ctx context.Context,
	observe func(ctx context.Context, o otelapi.Observer) error,
) error {
	for _, setup := range []func(context.Context) error{
		setupMeter, // must come first
		setupUpstreamNotificationsCount,
		setupUpstreamDecodeFailuresCount,
		setupUpstreamReconnectsCount,
		setupUpstreamGapsCount,
		setupMempoolSize,
		setupMempoolEvictedCount,
		setupVerifyCount,
		setupBroadcastSubscribersCount,
		setupBroadcastPublishedCount,
		setupBroadcastDroppedCount,
		setupBroadcastDisconnectsCount,
	} {
		if err := setup(ctx); err != nil {
			return err
		}
	}

	_, err := meter.RegisterCallback(observe,
		UpstreamGapsCount,
		MempoolSize,
		MempoolEvictedCount,
		BroadcastSubscribersCount,
		BroadcastPublishedCount,
		BroadcastDroppedCount,
		BroadcastDisconnectsCount,
	)
	if err != nil {
		return err
	}

	return nil
}

func setupMeter(ctx context.Context) error {
	res, err := resource.New(ctx)
	if err != nil {
		return err
	}

	exporter, err := prometheus.New(
		prometheus.WithNamespace(metricsNamespace),
		prometheus.WithoutScopeInfo(),
	)
	if err != nil {
		return err
	}

	provider := metric.NewMeterProvider(
		metric.WithReader(exporter),
		metric.WithResource(res),
	)

	meter = provider.Meter(metricsNamespace)

	return nil
}

func setupUpstreamNotificationsCount(ctx context.Context) error {
	m, err := meter.Int64Counter("upstream_notifications_count",
		otelapi.WithDescription("count of normalized notifications received from upstream nodes"),
	)
	if err != nil {
		return err
	}
	UpstreamNotificationsCount = m
	return nil
}

func setupUpstreamDecodeFailuresCount(ctx context.Context) error {
	m, err := meter.Int64Counter("upstream_decode_failures_count",
		otelapi.WithDescription("count of malformed upstream frames dropped"),
	)
	if err != nil {
		return err
	}
	UpstreamDecodeFailuresCount = m
	return nil
}

func setupUpstreamReconnectsCount(ctx context.Context) error {
	m, err := meter.Int64Counter("upstream_reconnects_count",
		otelapi.WithDescription("count of upstream connection re-establishments"),
	)
	if err != nil {
		return err
	}
	UpstreamReconnectsCount = m
	return nil
}

func setupUpstreamGapsCount(ctx context.Context) error {
	m, err := meter.Int64ObservableCounter("upstream_gaps_count",
		otelapi.WithDescription("count of notifications known to have been missed"),
	)
	if err != nil {
		return err
	}
	UpstreamGapsCount = m
	return nil
}

func setupMempoolSize(ctx context.Context) error {
	m, err := meter.Int64ObservableGauge("mempool_size",
		otelapi.WithDescription("count of currently indexed pending transactions"),
	)
	if err != nil {
		return err
	}
	MempoolSize = m
	return nil
}

func setupMempoolEvictedCount(ctx context.Context) error {
	m, err := meter.Int64ObservableCounter("mempool_evicted_count",
		otelapi.WithDescription("count of evicted mempool entries by reason"),
	)
	if err != nil {
		return err
	}
	MempoolEvictedCount = m
	return nil
}

func setupVerifyCount(ctx context.Context) error {
	m, err := meter.Int64Counter("verify_count",
		otelapi.WithDescription("count of state-proof verifications by outcome"),
	)
	if err != nil {
		return err
	}
	VerifyCount = m
	return nil
}

func setupBroadcastSubscribersCount(ctx context.Context) error {
	m, err := meter.Int64ObservableGauge("broadcast_subscribers_count",
		otelapi.WithDescription("count of live broadcast subscribers"),
	)
	if err != nil {
		return err
	}
	BroadcastSubscribersCount = m
	return nil
}

func setupBroadcastPublishedCount(ctx context.Context) error {
	m, err := meter.Int64ObservableCounter("broadcast_published_count",
		otelapi.WithDescription("count of events published to the broadcast hub"),
	)
	if err != nil {
		return err
	}
	BroadcastPublishedCount = m
	return nil
}

func setupBroadcastDroppedCount(ctx context.Context) error {
	m, err := meter.Int64ObservableCounter("broadcast_dropped_count",
		otelapi.WithDescription("count of events dropped for lagging subscribers"),
	)
	if err != nil {
		return err
	}
	BroadcastDroppedCount = m
	return nil
}

func setupBroadcastDisconnectsCount(ctx context.Context) error {
	m, err := meter.Int64ObservableCounter("broadcast_disconnects_count",
		otelapi.WithDescription("count of subscribers disconnected for falling behind"),
	)
	if err != nil {
		return err
	}
	BroadcastDisconnectsCount = m
	return nil
}
