package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsRegistered(t *testing.T) {
	AnnounceAttempts.WithLabelValues(ResultAcknowledged)
	Commands.WithLabelValues("provision", ResultAccepted)
	InstallerRuns.WithLabelValues("provision", ResultSucceeded)

	problems, err := testutil.GatherAndLint(Registry,
		"node_bootstrap_announce_attempts_total",
		"node_bootstrap_commands_total",
		"node_bootstrap_installer_runs_total",
		"node_bootstrap_lifecycle_state",
	)
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestMetricsServerServesRegistry(t *testing.T) {
	before := testutil.ToFloat64(AnnounceAttempts.WithLabelValues(ResultFailed))
	AnnounceAttempts.WithLabelValues(ResultFailed).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(AnnounceAttempts.WithLabelValues(ResultFailed)))

	srv := New("127.0.0.1:0")
	rr := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `node_bootstrap_announce_attempts_total{result="failed"}`)
	assert.Contains(t, rr.Body.String(), "node_bootstrap_lifecycle_state")
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestMetricsServerUnknownPath(t *testing.T) {
	srv := New("127.0.0.1:0")
	rr := httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}
