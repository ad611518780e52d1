package metrics

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
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestHandler_ExposesMetrics(t *testing.T) {
	SetQueueDepth(7)
	SetStoreRecords("files", 3)
	RecordSubmitted("moved", true)
	RecordApplied("created", "applied", 3*time.Millisecond)
	RecordSweep(time.Second, 4, true)
	RecordUserAlert()

	body := scrape(t)
	assert.Contains(t, body, "osfsync_queue_depth 7")
	assert.Contains(t, body, `osfsync_store_records{type="files"} 3`)
	assert.Contains(t, body, `osfsync_notifications_submitted_total{kind="moved",source="sweep"}`)
	assert.Contains(t, body, `osfsync_notifications_applied_total{kind="created",result="applied"}`)
	assert.Contains(t, body, `osfsync_sweeps_total{status="success"}`)
	assert.Contains(t, body, "osfsync_user_alerts_total")
}
