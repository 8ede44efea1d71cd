package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryCollector(t *testing.T) {
	c := NewInMemoryCollector()

	c.CounterInc(JobsTotal.Name, "kind", "audit", "status", "completed")
	c.CounterAdd(JobsTotal.Name, 2, "kind", "audit", "status", "completed")
	assert.Equal(t, 3.0, c.GetCounter(JobsTotal.Name, "kind", "audit", "status", "completed"))
	assert.Equal(t, 0.0, c.GetCounter(JobsTotal.Name, "kind", "mitigation", "status", "completed"))

	c.GaugeInc(HostsInFlight.Name)
	c.GaugeInc(HostsInFlight.Name)
	c.GaugeDec(HostsInFlight.Name)
	c.GaugeInc(HostsInFlight.Name)
	c.GaugeDec(HostsInFlight.Name)
	c.GaugeDec(HostsInFlight.Name)
	assert.Equal(t, 0.0, c.GetGauge(HostsInFlight.Name))
	assert.Equal(t, 2.0, c.GetGaugePeak(HostsInFlight.Name))

	c.HistogramObserve(HostRunDuration.Name, 1.5, "kind", "audit")
	assert.Equal(t, []float64{1.5}, c.GetHistogram(HostRunDuration.Name, "kind", "audit"))
}

func TestTimer(t *testing.T) {
	c := NewInMemoryCollector()
	timer := NewTimer(c, HostRunDuration.Name, "kind", "mitigation")
	time.Sleep(5 * time.Millisecond)
	d := timer.ObserveDuration()

	assert.GreaterOrEqual(t, d, 5*time.Millisecond)
	require.Len(t, c.GetHistogram(HostRunDuration.Name, "kind", "mitigation"), 1)
}

func TestOrNop(t *testing.T) {
	assert.IsType(t, &NopCollector{}, OrNop(nil))
	c := NewInMemoryCollector()
	assert.Equal(t, Collector(c), OrNop(c))
}

func TestPrometheusCollector(t *testing.T) {
	c, err := NewPrometheusCollector(&PrometheusConfig{Namespace: "streamguard"})
	require.NoError(t, err)

	c.CounterInc(ContentFetchTotal.Name, "mode", "online", "result", "fallback")
	c.GaugeSet(HostsInFlight.Name, 4)
	c.HistogramObserve(HostRunDuration.Name, 42, "kind", "audit")
	c.CounterInc("not_registered")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	assert.True(t, strings.Contains(text, `streamguard_content_fetch_total{mode="online",result="fallback"} 1`))
	assert.True(t, strings.Contains(text, "streamguard_hosts_in_flight 4"))
	assert.True(t, strings.Contains(text, "streamguard_host_run_duration_seconds_count"))

	// Registering again is a no-op.
	assert.NoError(t, c.Register(JobsTotal))
}

func TestLabelsToValues(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		want   []string
	}{
		{"empty", nil, nil},
		{"pairs", []string{"kind", "audit", "status", "failed"}, []string{"audit", "failed"}},
		{"odd trailing name", []string{"kind", "audit", "status"}, []string{"audit"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, labelsToValues(tt.labels))
		})
	}
}
