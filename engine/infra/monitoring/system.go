package monitoring

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/compozy/tutorrag/engine/infra/monitoring/metrics"
	"github.com/compozy/tutorrag/pkg/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Build variables set via ldflags:
// go build -ldflags "-X 'github.com/compozy/tutorrag/engine/infra/monitoring.Version=v1.0.0'"
var (
	Version    = "unknown"
	CommitHash = "unknown"
)

var (
	systemMu           sync.Mutex
	uptimeRegistration metric.Registration
)

// InitSystemMetrics records build info and registers the uptime gauge on meter.
func InitSystemMetrics(ctx context.Context, meter metric.Meter) {
	log := logger.FromContext(ctx)
	systemMu.Lock()
	defer systemMu.Unlock()
	if uptimeRegistration != nil {
		if err := uptimeRegistration.Unregister(); err != nil {
			log.Warn("Failed to unregister uptime callback", "error", err)
		}
		uptimeRegistration = nil
	}
	buildInfo, err := meter.Float64Gauge(
		metrics.MetricName("build_info"),
		metric.WithDescription("Build information (value=1)"),
	)
	if err != nil {
		log.Error("Failed to create build info gauge", "error", err)
	} else {
		version, commit, goVersion := getBuildInfo()
		buildInfo.Record(ctx, 1, metric.WithAttributes(
			attribute.String("version", version),
			attribute.String("commit_hash", commit),
			attribute.String("go_version", goVersion),
		))
	}
	uptime, err := meter.Float64ObservableGauge(
		metrics.MetricName("uptime_seconds"),
		metric.WithDescription("Service uptime in seconds"),
	)
	if err != nil {
		log.Error("Failed to create uptime gauge", "error", err)
		return
	}
	start := time.Now()
	uptimeRegistration, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveFloat64(uptime, time.Since(start).Seconds())
		return nil
	}, uptime)
	if err != nil {
		log.Error("Failed to register uptime callback", "error", err)
	}
}

func getBuildInfo() (version, commit, goVersion string) {
	version = Version
	commit = CommitHash
	if info, ok := debug.ReadBuildInfo(); ok {
		if version == "unknown" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
		if commit == "unknown" {
			for _, setting := range info.Settings {
				if setting.Key == "vcs.revision" {
					commit = setting.Value
					break
				}
			}
		}
	}
	return version, commit, runtime.Version()
}
