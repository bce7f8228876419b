package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findMetric(t *testing.T, e *Exporter, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := e.Gatherer().Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			return m
		}
	}
	return nil
}

func TestExporterRecord(t *testing.T) {
	e := NewExporter()
	e.Record(Summary{
		Framework:         "gRPC",
		Scenario:          "Echo Latency",
		RequestsPerSecond: 1500,
		ThroughputMBps:    2.5,
		SuccessRate:       0.9,
		TotalRequests:     10,
		Successful:        9,
		Failed:            1,
		P99Ns:             2_000_000,
	})

	base := map[string]string{"framework": "gRPC", "scenario": "Echo Latency"}

	m := findMetric(t, e, "rpcbench_requests_per_second", base)
	require.NotNil(t, m)
	assert.Equal(t, 1500.0, m.GetGauge().GetValue())

	m = findMetric(t, e, "rpcbench_requests", map[string]string{"framework": "gRPC", "outcome": "failure"})
	require.NotNil(t, m)
	assert.Equal(t, 1.0, m.GetGauge().GetValue())

	m = findMetric(t, e, "rpcbench_latency_seconds", map[string]string{"quantile": "0.99"})
	require.NotNil(t, m)
	assert.InDelta(t, 0.002, m.GetGauge().GetValue(), 1e-9)

	// resource gauges are only set when measured
	assert.Nil(t, findMetric(t, e, "rpcbench_cpu_percent", base))

	m = findMetric(t, e, "rpcbench_results_total", nil)
	require.NotNil(t, m)
	assert.Equal(t, 1.0, m.GetCounter().GetValue())
}

func TestExportersAreIndependent(t *testing.T) {
	a, b := NewExporter(), NewExporter()
	a.Record(Summary{Framework: "x", Scenario: "y", RequestsPerSecond: 1})

	assert.NotNil(t, findMetric(t, a, "rpcbench_requests_per_second", nil))
	assert.Nil(t, findMetric(t, b, "rpcbench_requests_per_second", nil))
}

func TestExporterHandler(t *testing.T) {
	e := NewExporter()
	e.Record(Summary{Framework: "Framed (json)", Scenario: "Echo Latency", SuccessRate: 1})

	srv := httptest.NewServer(e.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `rpcbench_success_rate{framework="Framed (json)",scenario="Echo Latency"} 1`)
}

func TestExporterServe(t *testing.T) {
	e := NewExporter()
	addr, err := e.Serve("127.0.0.1:0", "/metrics")
	require.NoError(t, err)
	defer e.Shutdown(context.Background())

	_, err = e.Serve("127.0.0.1:0", "/metrics")
	assert.Error(t, err, "second Serve must fail")

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.True(t, strings.Contains(string(body), "rpcbench_results_total"))

	require.NoError(t, e.Shutdown(context.Background()))
	assert.NoError(t, e.Shutdown(context.Background()), "Shutdown is idempotent")
}
