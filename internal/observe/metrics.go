// Package observe holds the bot's OpenTelemetry metrics and tracing helpers.
//
// Metrics are exported through a Prometheus bridge set up by [InitProvider]
// and scraped from /metrics. Tests should build their own [Metrics] with
// [NewMetrics] and a ManualReader instead of touching [DefaultMetrics].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/sonroyaalmerol/guildtune"

// Metrics holds every instrument the bot records. The OTel types handle their
// own synchronisation.
type Metrics struct {
	// Commands counts slash commands by "command" and "status".
	Commands metric.Int64Counter

	// TrackAdvances counts tracks started from the queue.
	TrackAdvances metric.Int64Counter

	// StaleCompletions counts completion callbacks that arrived for a stream
	// that was no longer active.
	StaleCompletions metric.Int64Counter

	// StreamErrors counts streams that failed to start or ended with an error.
	StreamErrors metric.Int64Counter

	ActiveStreams metric.Int64UpDownCounter
	Sessions      metric.Int64UpDownCounter

	// ResolveDuration tracks resolver latency by "kind" (single, playlist).
	ResolveDuration metric.Float64Histogram
}

var resolveBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Commands, err = m.Int64Counter("guildtune.commands",
		metric.WithDescription("Slash commands handled by command and status."),
	); err != nil {
		return nil, err
	}
	if met.TrackAdvances, err = m.Int64Counter("guildtune.track.advances",
		metric.WithDescription("Tracks started from a guild queue."),
	); err != nil {
		return nil, err
	}
	if met.StaleCompletions, err = m.Int64Counter("guildtune.stream.stale_completions",
		metric.WithDescription("Completion callbacks dropped because their stream was no longer active."),
	); err != nil {
		return nil, err
	}
	if met.StreamErrors, err = m.Int64Counter("guildtune.stream.errors",
		metric.WithDescription("Streams that failed to start or ended with an error."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("guildtune.stream.active",
		metric.WithDescription("Streams currently playing or paused."),
	); err != nil {
		return nil, err
	}
	if met.Sessions, err = m.Int64UpDownCounter("guildtune.sessions",
		metric.WithDescription("Guild sessions held in the registry."),
	); err != nil {
		return nil, err
	}
	if met.ResolveDuration, err = m.Float64Histogram("guildtune.resolve.duration",
		metric.WithDescription("Latency of query and playlist resolution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(resolveBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance built from the global
// meter provider on first use.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordCommand counts one handled command.
func (m *Metrics) RecordCommand(ctx context.Context, command, status string) {
	m.Commands.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("command", command),
			attribute.String("status", status),
		),
	)
}
