package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics creates a Metrics instance backed by a manual reader so
// tests can collect recorded data points.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all exported metrics into a name-indexed map.
func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	m, _ := newTestMetrics(t)

	if m.CapturedFrames == nil || m.SentFrames == nil || m.PlayedFrames == nil {
		t.Error("audio frame counters not initialised")
	}
	if m.OverflowDrops == nil || m.Underruns == nil {
		t.Error("degradation counters not initialised")
	}
	if m.Turns == nil || m.ReconnectAttempts == nil {
		t.Error("conversation counters not initialised")
	}
	if m.TurnDuration == nil || m.ResponseLatency == nil || m.HTTPRequestDuration == nil {
		t.Error("histograms not initialised")
	}
	if m.ActiveSessions == nil {
		t.Error("session gauge not initialised")
	}
}

func TestRecordTurn_CountsAndMeasures(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, "answered", 1.5)
	m.RecordTurn(ctx, "barged_in", 0.3)

	data := collect(t, reader)

	turns, ok := data["parley.turns"].Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("parley.turns has unexpected data type %T", data["parley.turns"].Data)
	}
	var total int64
	for _, dp := range turns.DataPoints {
		total += dp.Value
	}
	if total != 2 {
		t.Errorf("turn count = %d, want 2", total)
	}

	hist, ok := data["parley.turn.duration"].Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("parley.turn.duration has unexpected data type %T", data["parley.turn.duration"].Data)
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 2 {
		t.Errorf("turn duration samples = %d, want 2", count)
	}
}

func TestRecordReconnectAttempt_LabelsStatus(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordReconnectAttempt(ctx, false)
	m.RecordReconnectAttempt(ctx, false)
	m.RecordReconnectAttempt(ctx, true)

	data := collect(t, reader)
	sum, ok := data["parley.session.reconnect_attempts"].Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("reconnect attempts metric missing")
	}
	if len(sum.DataPoints) != 2 {
		t.Errorf("distinct status series = %d, want 2 (success and failure)", len(sum.DataPoints))
	}
}

func TestDefaultMetrics_ReturnsStableInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different instances")
	}
}

func TestMiddleware_RecordsDuration(t *testing.T) {
	m, reader := newTestMetrics(t)

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418 passed through", rec.Code)
	}

	data := collect(t, reader)
	hist, ok := data["parley.http.request.duration"].Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("http request duration metric missing")
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 1 {
		t.Errorf("recorded requests = %d, want 1", count)
	}
}
