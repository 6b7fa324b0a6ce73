package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestEnsureRegistered_Idempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		EnsureRegistered()
		EnsureRegistered()
	})
}

func TestMetricsExposed(t *testing.T) {
	RecordSessionOperation("create", 5*time.Millisecond, true)
	RecordSessionOperation("read", time.Millisecond, false)
	RecordSessionRename()
	SetStoredSessions(3, 1)
	RecordStreamRecord("applied")
	RecordAutosave("debounce", true)
	RecordHTTPRequest("getsessions", 200)
	SetEventClients(2)

	body := scrape(t)

	assert.Contains(t, body, `olmchat_session_operations_total{op="create",status="success"}`)
	assert.Contains(t, body, `olmchat_session_operations_total{op="read",status="error"}`)
	assert.Contains(t, body, "olmchat_session_operation_duration_seconds_bucket")
	assert.Contains(t, body, "olmchat_session_renames_total")
	assert.Contains(t, body, "olmchat_stored_sessions 3")
	assert.Contains(t, body, "olmchat_corrupt_sessions 1")
	assert.Contains(t, body, `olmchat_stream_records_total{result="applied"}`)
	assert.Contains(t, body, `olmchat_autosave_total{status="success",trigger="debounce"}`)
	assert.Contains(t, body, `olmchat_http_requests_total{code="200",route="getsessions"}`)
	assert.Contains(t, body, "olmchat_event_clients 2")
}
