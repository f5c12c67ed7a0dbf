package server

import (
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsRegister(t *testing.T) {
	m := NewMetrics()
	m.TotalConnections.Add(3)
	m.BanCount.Add(1)

	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := m.Register(reg); err == nil {
		t.Fatal("second Register succeeded")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	values := map[string]float64{}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				values[f.GetName()] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[f.GetName()] = metric.GetGauge().GetValue()
			}
		}
	}
	if got := values["gorelay_connections_total"]; got != 3 {
		t.Errorf("gorelay_connections_total = %v, want 3", got)
	}
	if got := values["gorelay_bans_total"]; got != 1 {
		t.Errorf("gorelay_bans_total = %v, want 1", got)
	}
	if _, ok := values["gorelay_uptime_seconds"]; !ok {
		t.Error("uptime gauge missing")
	}
}

func TestMetricsJSON(t *testing.T) {
	m := NewMetrics()
	m.MessagesRouted.Add(7)
	var snap MetricsSnapshot
	if err := json.Unmarshal([]byte(m.JSON()), &snap); err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if snap.MessagesRouted != 7 {
		t.Errorf("MessagesRouted = %d, want 7", snap.MessagesRouted)
	}
}
