package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newTestMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.NewRegistry())
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatal(err)
	}
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatal(err)
	}
	return m.GetCounter().GetValue()
}

func TestRecordConnectAndDisconnect(t *testing.T) {
	m := newTestMetrics()
	m.RecordConnect()
	m.RecordConnect()
	if got := gaugeValue(t, m.ConnectionsActive); got != 2 {
		t.Fatalf("ConnectionsActive = %v, want 2", got)
	}
	if got := counterValue(t, m.ConnectionsTotal); got != 2 {
		t.Fatalf("ConnectionsTotal = %v, want 2", got)
	}

	m.RecordDisconnect()
	if got := gaugeValue(t, m.ConnectionsActive); got != 1 {
		t.Fatalf("ConnectionsActive = %v, want 1", got)
	}
}

func TestRecordRejected(t *testing.T) {
	m := newTestMetrics()
	m.RecordRejected()
	if got := counterValue(t, m.ConnectionsRejected); got != 1 {
		t.Fatalf("ConnectionsRejected = %v, want 1", got)
	}
}

func TestRecordRequestTracksErrorsByCommand(t *testing.T) {
	m := newTestMetrics()
	m.RecordRequest("ReadFile", true)
	m.RecordRequest("ReadFile", false)

	total := &dto.Metric{}
	m.RequestsTotal.WithLabelValues("ReadFile").Write(total)
	if total.GetCounter().GetValue() != 2 {
		t.Fatalf("RequestsTotal = %v, want 2", total.GetCounter().GetValue())
	}

	errs := &dto.Metric{}
	m.RequestErrors.WithLabelValues("ReadFile").Write(errs)
	if errs.GetCounter().GetValue() != 1 {
		t.Fatalf("RequestErrors = %v, want 1", errs.GetCounter().GetValue())
	}
}

func TestRecordHandshakeAndErrors(t *testing.T) {
	m := newTestMetrics()
	m.RecordHandshake(0.05)
	m.RecordHandshakeError("decryption_failed")

	errs := &dto.Metric{}
	m.HandshakeErrors.WithLabelValues("decryption_failed").Write(errs)
	if errs.GetCounter().GetValue() != 1 {
		t.Fatalf("HandshakeErrors = %v, want 1", errs.GetCounter().GetValue())
	}
}

func TestRecordBytesReadAndWritten(t *testing.T) {
	m := newTestMetrics()
	m.RecordBytesRead(100)
	m.RecordBytesRead(50)
	m.RecordBytesWritten(30)

	if got := counterValue(t, m.BytesRead); got != 150 {
		t.Fatalf("BytesRead = %v, want 150", got)
	}
	if got := counterValue(t, m.BytesWritten); got != 30 {
		t.Fatalf("BytesWritten = %v, want 30", got)
	}
}

func TestDefaultIsSingleton(t *testing.T) {
	if Default() != Default() {
		t.Fatal("expected Default() to return the same instance across calls")
	}
}
