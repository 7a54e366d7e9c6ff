package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersAllCollectorsWithoutConflict(t *testing.T) {
	reg := prometheus.NewRegistry()
	assert.NotPanics(t, func() { New(reg) })
}

func TestNew_NilRegistererSkipsRegistration(t *testing.T) {
	assert.NotPanics(t, func() { New(nil) })
}

func TestMetrics_RecordTaskIncrementsCounterAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordTask("run", "Finished", 2*time.Second)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.True(t, hasCounterSample(families, "scotty_tasks_total", map[string]string{"kind": "run", "state": "Finished"}, 1))
}

func TestMetrics_EngineCallAndHTTPRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordEngineCall("compose_up", "success", 100*time.Millisecond)
	m.RecordHTTPRequest("POST", "/apps", "202")

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.True(t, hasCounterSample(families, "scotty_engine_calls_total", map[string]string{"operation": "compose_up", "outcome": "success"}, 1))
	assert.True(t, hasCounterSample(families, "scotty_http_requests_total", map[string]string{"method": "POST", "route": "/apps", "status": "202"}, 1))
}

func TestMetrics_BusBacklogSetAndDelete(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetBusBacklog("task-1", 5)
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.True(t, hasGaugeSample(families, "scotty_output_bus_backlog", map[string]string{"task_id": "task-1"}, 5))

	m.DeleteBusBacklog("task-1")
	families, err = reg.Gather()
	require.NoError(t, err)
	assert.False(t, hasGaugeSample(families, "scotty_output_bus_backlog", map[string]string{"task_id": "task-1"}, 5))
}

func hasCounterSample(families []*dto.MetricFamily, name string, labels map[string]string, want float64) bool {
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if labelsMatch(metric.GetLabel(), labels) && metric.GetCounter().GetValue() == want {
				return true
			}
		}
	}
	return false
}

func hasGaugeSample(families []*dto.MetricFamily, name string, labels map[string]string, want float64) bool {
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if labelsMatch(metric.GetLabel(), labels) && metric.GetGauge().GetValue() == want {
				return true
			}
		}
	}
	return false
}

func labelsMatch(pairs []*dto.LabelPair, want map[string]string) bool {
	got := make(map[string]string, len(pairs))
	for _, p := range pairs {
		got[p.GetName()] = p.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}
