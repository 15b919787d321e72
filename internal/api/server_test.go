package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elkfinance/elk-v2-subgraph-2024/internal/aggregator"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/sync"
)

type fakeStore struct {
	err    error
	cursor aggregator.Cursor
	found  bool
}

func (s *fakeStore) Ping(context.Context) error { return s.err }

func (s *fakeStore) Cursor(context.Context) (aggregator.Cursor, bool, error) {
	return s.cursor, s.found, nil
}

type fakeChain struct {
	head uint64
	err  error
}

func (c *fakeChain) GetLatestBlockNumber(context.Context) (uint64, error) { return c.head, c.err }

type fakeSync sync.Status

func (s fakeSync) GetStatus() sync.Status { return sync.Status(s) }

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decodeHealth(t *testing.T, rec *httptest.ResponseRecorder) HealthStatus {
	t.Helper()
	var body struct {
		Data HealthStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Data
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		checks     func() HealthChecks
		wantCode   int
		wantStatus string
	}{
		{
			name: "healthy with cursor",
			checks: func() HealthChecks {
				store := &fakeStore{cursor: aggregator.Cursor{BlockNumber: 10, LogIndex: 2}, found: true}
				return HealthChecks{Store: store, Cursor: store, Chain: &fakeChain{head: 12}}
			},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name: "store down",
			checks: func() HealthChecks {
				return HealthChecks{Store: &fakeStore{err: errors.New("connection refused")}}
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
		},
		{
			name: "chain down",
			checks: func() HealthChecks {
				return HealthChecks{Store: &fakeStore{}, Chain: &fakeChain{err: errors.New("timeout")}}
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
		},
		{
			name: "far behind",
			checks: func() HealthChecks {
				return HealthChecks{Store: &fakeStore{}, Sync: fakeSync{BehindBy: 5000, IsSyncing: true}}
			},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewHealthServer(tt.checks(), prometheus.NewRegistry(), zerolog.Nop())
			rec := get(t, server.Handler(), "/health")

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantStatus, decodeHealth(t, rec).Status)
		})
	}
}

func TestHealthReportsCursor(t *testing.T) {
	store := &fakeStore{cursor: aggregator.Cursor{BlockNumber: 10, LogIndex: 2}, found: true}
	server := NewHealthServer(HealthChecks{Store: store, Cursor: store}, prometheus.NewRegistry(), zerolog.Nop())

	status := decodeHealth(t, get(t, server.Handler(), "/health"))
	require.NotNil(t, status.Cursor)
	assert.Equal(t, uint64(10), status.Cursor.BlockNumber)
	assert.Nil(t, status.Chain)
}

func TestProbes(t *testing.T) {
	down := NewHealthServer(HealthChecks{Store: &fakeStore{err: errors.New("down")}}, prometheus.NewRegistry(), zerolog.Nop())
	up := NewHealthServer(HealthChecks{Store: &fakeStore{}}, prometheus.NewRegistry(), zerolog.Nop())

	assert.Equal(t, http.StatusServiceUnavailable, get(t, down.Handler(), "/ready").Code)
	assert.Equal(t, http.StatusOK, get(t, up.Handler(), "/ready").Code)
	assert.Equal(t, http.StatusOK, get(t, down.Handler(), "/live").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "elk_v2_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Add(3)

	server := NewHealthServer(HealthChecks{Store: &fakeStore{}}, reg, zerolog.Nop())
	rec := get(t, server.Handler(), "/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "elk_v2_test_total 3"))
}
