package spdmmetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	spdmmetrics "github.com/spdm-core/spdm-core/internal/metrics"
)

// testEndpoint returns a representative endpoint identifier used across
// these tests.
func testEndpoint() string {
	return "10.0.0.1:4194"
}

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := spdmmetrics.NewCollector(reg)

	if c.Connections == nil {
		t.Error("Connections is nil")
	}
	if c.Sessions == nil {
		t.Error("Sessions is nil")
	}
	if c.NegotiationFailures == nil {
		t.Error("NegotiationFailures is nil")
	}
	if c.ConnStateTransitions == nil {
		t.Error("ConnStateTransitions is nil")
	}
	if c.SessionStateTransitions == nil {
		t.Error("SessionStateTransitions is nil")
	}
	if c.AuthFailures == nil {
		t.Error("AuthFailures is nil")
	}
	if c.DecryptFailures == nil {
		t.Error("DecryptFailures is nil")
	}
	if c.KeyUpdates == nil {
		t.Error("KeyUpdates is nil")
	}
	if c.MeasurementsServed == nil {
		t.Error("MeasurementsServed is nil")
	}
	if c.HandshakeDuration == nil {
		t.Error("HandshakeDuration is nil")
	}

	// Verify all metrics are registered by gathering them.
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	// No data yet, so families may be empty -- but registration must not panic.
	_ = families
}

func TestRegisterUnregisterConnection(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := spdmmetrics.NewCollector(reg)
	endpoint := testEndpoint()

	c.RegisterConnection(endpoint)
	if val := gaugeValue(t, c.Connections, endpoint); val != 1 {
		t.Errorf("after RegisterConnection: connections gauge = %v, want 1", val)
	}

	c.UnregisterConnection(endpoint)
	if val := gaugeValue(t, c.Connections, endpoint); val != 0 {
		t.Errorf("after UnregisterConnection: connections gauge = %v, want 0", val)
	}
}

func TestRegisterUnregisterSession(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := spdmmetrics.NewCollector(reg)
	endpoint := testEndpoint()

	c.RegisterSession(endpoint, "1.2")
	val := gaugeValue(t, c.Sessions, endpoint, "1.2")
	if val != 1 {
		t.Errorf("after RegisterSession: sessions gauge = %v, want 1", val)
	}

	c.RegisterSession(endpoint, "1.1")
	val = gaugeValue(t, c.Sessions, endpoint, "1.1")
	if val != 1 {
		t.Errorf("after second RegisterSession: 1.1 gauge = %v, want 1", val)
	}

	c.UnregisterSession(endpoint, "1.2")
	val = gaugeValue(t, c.Sessions, endpoint, "1.2")
	if val != 0 {
		t.Errorf("after UnregisterSession: 1.2 gauge = %v, want 0", val)
	}

	// The 1.1 session should still be registered.
	val = gaugeValue(t, c.Sessions, endpoint, "1.1")
	if val != 1 {
		t.Errorf("1.1 gauge = %v, want 1 (should be unaffected)", val)
	}
}

func TestNegotiationAndAuthFailures(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := spdmmetrics.NewCollector(reg)
	endpoint := testEndpoint()

	c.IncNegotiationFailure(endpoint, "no_common_version")
	c.IncNegotiationFailure(endpoint, "no_common_version")
	if val := counterValue(t, c.NegotiationFailures, endpoint, "no_common_version"); val != 2 {
		t.Errorf("NegotiationFailures = %v, want 2", val)
	}

	c.IncAuthFailure(endpoint, "verify_data_mismatch")
	if val := counterValue(t, c.AuthFailures, endpoint, "verify_data_mismatch"); val != 1 {
		t.Errorf("AuthFailures = %v, want 1", val)
	}
}

func TestStateTransitions(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := spdmmetrics.NewCollector(reg)
	endpoint := testEndpoint()

	c.RecordConnStateTransition(endpoint, "Idle", "AfterVersion")
	c.RecordConnStateTransition(endpoint, "Idle", "AfterVersion")
	if val := counterValue(t, c.ConnStateTransitions, endpoint, "Idle", "AfterVersion"); val != 2 {
		t.Errorf("ConnStateTransitions(Idle->AfterVersion) = %v, want 2", val)
	}

	c.RecordSessionStateTransition(endpoint, "Handshaking", "Established")
	if val := counterValue(t, c.SessionStateTransitions, endpoint, "Handshaking", "Established"); val != 1 {
		t.Errorf("SessionStateTransitions(Handshaking->Established) = %v, want 1", val)
	}
}

func TestDecryptFailuresAndKeyUpdates(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := spdmmetrics.NewCollector(reg)
	endpoint := testEndpoint()

	c.IncDecryptFailure(endpoint)
	c.IncDecryptFailure(endpoint)
	c.IncDecryptFailure(endpoint)
	if val := counterValue(t, c.DecryptFailures, endpoint); val != 3 {
		t.Errorf("DecryptFailures = %v, want 3", val)
	}

	c.IncKeyUpdate(endpoint)
	if val := counterValue(t, c.KeyUpdates, endpoint); val != 1 {
		t.Errorf("KeyUpdates = %v, want 1", val)
	}
}

func TestMeasurementsServed(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := spdmmetrics.NewCollector(reg)
	endpoint := testEndpoint()

	c.IncMeasurementsServed(endpoint, "all")
	c.IncMeasurementsServed(endpoint, "all")
	c.IncMeasurementsServed(endpoint, "total_number")

	if val := counterValue(t, c.MeasurementsServed, endpoint, "all"); val != 2 {
		t.Errorf("MeasurementsServed(all) = %v, want 2", val)
	}
	if val := counterValue(t, c.MeasurementsServed, endpoint, "total_number"); val != 1 {
		t.Errorf("MeasurementsServed(total_number) = %v, want 1", val)
	}
}

func TestHandshakeDuration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := spdmmetrics.NewCollector(reg)
	endpoint := testEndpoint()

	c.ObserveHandshakeDuration(endpoint, 0.05)
	c.ObserveHandshakeDuration(endpoint, 0.1)

	hist, err := c.HandshakeDuration.GetMetricWithLabelValues(endpoint)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	m := &dto.Metric{}
	if err := hist.(prometheus.Histogram).Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	if got := m.GetHistogram().GetSampleCount(); got != 2 {
		t.Errorf("HandshakeDuration sample count = %d, want 2", got)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

// gaugeValue reads the current value of a GaugeVec with the given labels.
func gaugeValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()

	gauge, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

// counterValue reads the current value of a CounterVec with the given labels.
func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}
