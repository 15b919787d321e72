package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/elkfinance/elk-v2-subgraph-2024/internal/aggregator"
	"github.com/elkfinance/elk-v2-subgraph-2024/internal/sync"
)

// maxBehind is the lag in blocks after which the indexer reports degraded.
const maxBehind = 100

type Pinger interface {
	Ping(ctx context.Context) error
}

type CursorSource interface {
	Cursor(ctx context.Context) (aggregator.Cursor, bool, error)
}

type ChainHead interface {
	GetLatestBlockNumber(ctx context.Context) (uint64, error)
}

type SyncStatus interface {
	GetStatus() sync.Status
}

// HealthChecks are the dependencies probed by the health endpoints. Chain and
// Sync are nil when the feed is not RPC based.
type HealthChecks struct {
	Store  Pinger
	Cursor CursorSource
	Chain  ChainHead
	Sync   SyncStatus
}

type HealthStatus struct {
	Status    string             `json:"status"`
	Timestamp time.Time          `json:"timestamp"`
	Store     ComponentStatus    `json:"store"`
	Chain     *ChainStatus       `json:"chain,omitempty"`
	Cursor    *aggregator.Cursor `json:"cursor,omitempty"`
	Sync      *sync.Status       `json:"sync,omitempty"`
}

type ComponentStatus struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

type ChainStatus struct {
	ComponentStatus
	LatestBlock uint64 `json:"latest_block"`
}

type healthHandler struct {
	checks HealthChecks
	logger zerolog.Logger
}

func (h *healthHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.getHealthStatus(ctx)

	httpStatus := http.StatusOK
	if status.Status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}
	JSON(w, httpStatus, status)
}

func (h *healthHandler) getHealthStatus(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Timestamp: time.Now().UTC(),
		Status:    "healthy",
	}

	status.Store = h.checkStore(ctx)
	if !status.Store.Connected {
		status.Status = "unhealthy"
	}

	if h.checks.Cursor != nil && status.Store.Connected {
		cursor, found, err := h.checks.Cursor.Cursor(ctx)
		if err != nil {
			h.logger.Warn().Err(err).Msg("Failed to read cursor")
		} else if found {
			status.Cursor = &cursor
		}
	}

	if h.checks.Chain != nil {
		chain := h.checkChain(ctx)
		status.Chain = &chain
		if !chain.Connected {
			status.Status = "unhealthy"
		}
	}

	if h.checks.Sync != nil {
		syncStatus := h.checks.Sync.GetStatus()
		status.Sync = &syncStatus
		if syncStatus.BehindBy > maxBehind && status.Status == "healthy" {
			status.Status = "degraded"
		}
	}

	return status
}

func (h *healthHandler) checkStore(ctx context.Context) ComponentStatus {
	if err := h.checks.Store.Ping(ctx); err != nil {
		return ComponentStatus{Error: err.Error()}
	}
	return ComponentStatus{Connected: true}
}

func (h *healthHandler) checkChain(ctx context.Context) ChainStatus {
	latest, err := h.checks.Chain.GetLatestBlockNumber(ctx)
	if err != nil {
		return ChainStatus{ComponentStatus: ComponentStatus{Error: err.Error()}}
	}
	return ChainStatus{ComponentStatus: ComponentStatus{Connected: true}, LatestBlock: latest}
}

func (h *healthHandler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ready := h.checks.Store.Ping(ctx) == nil
	if ready && h.checks.Chain != nil {
		_, err := h.checks.Chain.GetLatestBlockNumber(ctx)
		ready = err == nil
	}

	if ready {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (h *healthHandler) handleLive(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}
