package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsConcurrentCounters(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncConn()
			m.IncMessage()
			m.IncVote()
		}()
	}
	wg.Wait()
	m.DecConn()

	snap := m.Snapshot()
	assert.Equal(t, int64(49), snap["active_connections"])
	assert.Equal(t, uint64(50), snap["sessions_total"])
	assert.Equal(t, uint64(50), snap["messages_total"])
	assert.Equal(t, uint64(50), snap["votes_total"])
	_, hasRooms := snap["rooms"]
	assert.False(t, hasRooms)
}

func TestMetricsServeHTTP(t *testing.T) {
	m := NewMetrics()
	m.SetRoomGauge(func() int { return 3 })
	m.IncUploadFailure()

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body map[string]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(3), body["rooms"])
	assert.Equal(t, float64(1), body["upload_failures_total"])
}
