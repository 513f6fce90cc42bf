package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordNextFrame(ctx, 3*time.Millisecond)
	m.RecordNextFrame(ctx, 7*time.Millisecond)
	m.RecordConnect(ctx, "ok", 120*time.Millisecond)
	m.RecordConnect(ctx, "ok", 80*time.Millisecond)
	m.RecordResolve(ctx, "youtube", "ok", time.Second)
	m.RecordResolve(ctx, "youtube", "ok", 2*time.Second)

	rm := collect(t, reader)

	for _, name := range []string{
		"hertz.source.next_frame.duration",
		"hertz.voice.connect.duration",
		"hertz.resolve.duration",
	} {
		t.Run(name, func(t *testing.T) {
			met := findMetric(rm, name)
			if met == nil {
				t.Fatalf("metric %q not found", name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

// sumFor returns the value of the data point carrying key=value.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	t.Fatalf("metric %q: data point with %s=%s not found", name, key, value)
	return 0
}

func TestFrameCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	for range 3 {
		m.RecordFrameSent(ctx)
	}
	m.RecordFrameFailure(ctx, "source", "stalled")
	m.RecordFrameFailure(ctx, "source", "stalled")
	m.RecordFrameFailure(ctx, "transport", "transport")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "hertz.voice.frames_sent", "", ""); got != 3 {
		t.Errorf("frames_sent = %d, want 3", got)
	}
	if got := sumFor(t, rm, "hertz.voice.frame_failures", "origin", "source"); got != 2 {
		t.Errorf("frame_failures{origin=source} = %d, want 2", got)
	}
	if got := sumFor(t, rm, "hertz.voice.frame_failures", "origin", "transport"); got != 1 {
		t.Errorf("frame_failures{origin=transport} = %d, want 1", got)
	}
}

func TestTrackEventsAndCommands(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTrackEvent(ctx, "started")
	m.RecordTrackEvent(ctx, "started")
	m.RecordTrackEvent(ctx, "failed")
	m.RecordCommand(ctx, "play", "ok")
	m.RecordCommand(ctx, "pause", "error")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "hertz.playback.track_events", "event", "started"); got != 2 {
		t.Errorf("track_events{event=started} = %d, want 2", got)
	}
	if got := sumFor(t, rm, "hertz.commands", "command", "pause"); got != 1 {
		t.Errorf("commands{command=pause} = %d, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	// UpDownCounters are additive, so we simulate Set(n) as Add(n).
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveStreams.Add(ctx, 3)
	m.ActiveStreams.Add(ctx, -1)

	rm := collect(t, reader)

	gauges := []struct {
		name string
		want int64
	}{
		{"hertz.active_sessions", 2},
		{"hertz.active_streams", 2},
	}

	for _, tc := range gauges {
		t.Run(tc.name, func(t *testing.T) {
			if got := sumFor(t, rm, tc.name, "", ""); got != tc.want {
				t.Errorf("gauge value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "hertz.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
