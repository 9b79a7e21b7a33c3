package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Received()
		m.Skipped()
		m.Published("q1", "json")
		m.Committed(time.Millisecond)
		m.RolledBack()
		m.Workers(1, 2)
		m.WorkerExited("failed")
		m.Reloaded(3, nil)
	})
}

func TestMetrics_Envelopes(t *testing.T) {
	m := New()

	m.Received()
	m.Received()
	m.Skipped()
	m.Published("q1", "json")
	m.Published("q1", "json")
	m.Published("q2", "xml")
	m.Committed(10 * time.Millisecond)
	m.RolledBack()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.received))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.skipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.committed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rolledBack))

	expected := `
		# HELP grouper_dispatcher_envelopes_published_total Envelopes sent to a target queue
		# TYPE grouper_dispatcher_envelopes_published_total counter
		grouper_dispatcher_envelopes_published_total{format="json",queue="q1"} 2
		grouper_dispatcher_envelopes_published_total{format="xml",queue="q2"} 1
	`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"grouper_dispatcher_envelopes_published_total"))
}

func TestMetrics_Reloads(t *testing.T) {
	m := New()

	m.Reloaded(4, nil)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.rulesLoaded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lastReloadOK))

	m.Reloaded(0, errors.New("bad line"))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.rulesLoaded), "failed reload keeps the previous rule count")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.lastReloadOK))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reloads.WithLabelValues("failure")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Workers(2, 3)
	m.WorkerExited("retired")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "grouper_dispatcher_supervisor_workers_live 2")
	assert.Contains(t, body, "grouper_dispatcher_supervisor_workers_desired 3")
	assert.Contains(t, body, `grouper_dispatcher_supervisor_worker_exits_total{reason="retired"} 1`)
	assert.Contains(t, body, "go_goroutines")
}
