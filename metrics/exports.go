package metrics

import (
	otelapi "go.opentelemetry.io/otel/metric"
)

var (
	UpstreamNotificationsCount  otelapi.Int64Counter
	UpstreamDecodeFailuresCount otelapi.Int64Counter
	UpstreamReconnectsCount     otelapi.Int64Counter
	UpstreamGapsCount           otelapi.Int64ObservableCounter

	MempoolSize         otelapi.Int64ObservableGauge
	MempoolEvictedCount otelapi.Int64ObservableCounter

	VerifyCount otelapi.Int64Counter

	BroadcastSubscribersCount otelapi.Int64ObservableGauge
	BroadcastPublishedCount   otelapi.Int64ObservableCounter
	BroadcastDroppedCount     otelapi.Int64ObservableCounter
	BroadcastDisconnectsCount otelapi.Int64ObservableCounter
)
