package otel

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	internalmetrics "github.com/shoplane/authcore/internal/metrics"
)

type fakeSource struct {
	metrics *internalmetrics.Metrics
	dropped uint64
}

func (s *fakeSource) MetricsSnapshot() internalmetrics.Snapshot { return s.metrics.Snapshot() }
func (s *fakeSource) AuditDropped() uint64                      { return s.dropped }

func TestExporterObservesCounters(t *testing.T) {
	source := &fakeSource{
		metrics: internalmetrics.New(internalmetrics.Config{Enabled: true}),
		dropped: 7,
	}
	source.metrics.Inc(internalmetrics.MetricLoginSuccess)
	source.metrics.Inc(internalmetrics.MetricLoginSuccess)
	source.metrics.Inc(internalmetrics.MetricRefreshReuse)

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	exporter, err := NewExporter(provider.Meter("authcore-test"), source)
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	t.Cleanup(func() { _ = exporter.Close() })

	var data metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &data); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	values := map[string]int64{}
	for _, scope := range data.ScopeMetrics {
		for _, m := range scope.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, point := range sum.DataPoints {
				values[m.Name] = point.Value
			}
		}
	}

	if values["authcore_login_success_total"] != 2 {
		t.Errorf("login success = %d, want 2", values["authcore_login_success_total"])
	}
	if values["authcore_refresh_reuse_total"] != 1 {
		t.Errorf("refresh reuse = %d, want 1", values["authcore_refresh_reuse_total"])
	}
	if values["authcore_audit_dropped_total"] != 7 {
		t.Errorf("audit dropped = %d, want 7", values["authcore_audit_dropped_total"])
	}
	if _, present := values["authcore_login_failure_total"]; !present {
		t.Error("untouched counters not exported")
	}
}

func TestExporterValidatesInputs(t *testing.T) {
	provider := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	if _, err := NewExporter(nil, &fakeSource{metrics: internalmetrics.New(internalmetrics.Config{})}); err != ErrNilMeter {
		t.Fatalf("nil meter: %v", err)
	}
	if _, err := NewExporter(provider.Meter("t"), nil); err != ErrNilSource {
		t.Fatalf("nil source: %v", err)
	}
}
