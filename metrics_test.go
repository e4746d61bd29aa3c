package bidsession

import (
	"testing"
	"time"
)

func TestMetricsIncAndSnapshot(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricKeepAlive)

	snap := m.Snapshot()
	if snap.Counters[MetricLoginSuccess] != 2 {
		t.Fatalf("expected 2 login successes, got %d", snap.Counters[MetricLoginSuccess])
	}
	if snap.Counters[MetricKeepAlive] != 1 {
		t.Fatalf("expected 1 keep-alive, got %d", snap.Counters[MetricKeepAlive])
	}
	if snap.Counters[MetricLogout] != 0 {
		t.Fatalf("expected 0 logouts, got %d", snap.Counters[MetricLogout])
	}
}

func TestMetricsDisabledIsNoOp(t *testing.T) {
	m := NewMetrics(MetricsConfig{})
	m.Inc(MetricLoginSuccess)
	m.Observe(MetricPollLatency, time.Millisecond)

	snap := m.Snapshot()
	if len(snap.Counters) != 0 || len(snap.Histograms) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}

func TestMetricsNilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricLoginSuccess)
	m.Observe(MetricPollLatency, time.Millisecond)
	if m.LatencyEnabled() {
		t.Fatal("expected latency disabled on nil receiver")
	}
	_ = m.Snapshot()
}

func TestObserveBucketsLatency(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Observe(MetricPollLatency, 3*time.Millisecond)   // bucket 0 (<=5ms)
	m.Observe(MetricPollLatency, 60*time.Millisecond)  // bucket 4 (<=100ms)
	m.Observe(MetricPollLatency, 2*time.Second)        // overflow bucket
	m.Observe(MetricLoginSuccess, 10*time.Millisecond) // wrong id, ignored

	buckets, ok := m.Snapshot().Histograms[MetricPollLatency]
	if !ok {
		t.Fatal("expected latency histogram in snapshot")
	}
	if len(buckets) != HistogramBucketCount {
		t.Fatalf("expected %d buckets, got %d", HistogramBucketCount, len(buckets))
	}
	if buckets[0] != 1 || buckets[4] != 1 || buckets[HistogramBucketCount-1] != 1 {
		t.Fatalf("unexpected bucket distribution: %v", buckets)
	}
	var total uint64
	for _, v := range buckets {
		total += v
	}
	if total != 3 {
		t.Fatalf("expected 3 samples, got %d", total)
	}
}

func TestHistogramsOmittedWhenLatencyDisabled(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Observe(MetricPollLatency, time.Millisecond)

	if _, ok := m.Snapshot().Histograms[MetricPollLatency]; ok {
		t.Fatal("expected no histogram when latency recording is disabled")
	}
}
