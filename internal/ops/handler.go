// Package ops serves the internal health and inspection endpoints of a
// pipeline process. It is not a tenant API.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/unclebandit/smsleopard-delivery/internal/ledger"
	"github.com/unclebandit/smsleopard-delivery/internal/queue"
)

// Pinger checks the storage connection.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// StatsSource reports queue counters.
type StatsSource interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

// LedgerVerifier compares a tenant balance with its ledger.
type LedgerVerifier interface {
	Verify(ctx context.Context, tenantID int) (ledger.Drift, error)
}

type Handler struct {
	DB     Pinger
	Queue  StatsSource
	Ledger LedgerVerifier
	Logger *logrus.Logger
}

// Router builds the ops routes.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", h.HealthHandler)
	r.Get("/queues/stats", h.QueueStatsHandler)
	r.Get("/ledger/{tenantID}/verify", h.VerifyLedgerHandler)
	return r
}

// HealthHandler reports 503 when storage is unreachable. A broker outage
// is reported but keeps the process healthy, the fallback carries the load.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]any{"status": "ok", "database": "ok"}
	if err := h.DB.PingContext(ctx); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "unhealthy"
		body["database"] = err.Error()
	}
	if stats, err := h.Queue.Stats(ctx); err == nil {
		body["broker_available"] = stats.BrokerAvailable
	}
	writeJSON(w, status, body)
}

func (h *Handler) QueueStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Queue.Stats(r.Context())
	if err != nil {
		h.Logger.WithField("module", "ops").WithError(err).Error("queue stats failed")
		writeError(w, http.StatusInternalServerError, "queue stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) VerifyLedgerHandler(w http.ResponseWriter, r *http.Request) {
	tenantID, err := strconv.Atoi(chi.URLParam(r, "tenantID"))
	if err != nil || tenantID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	d, err := h.Ledger.Verify(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id":  tenantID,
		"balance":    d.Balance,
		"ledger_sum": d.LedgerSum,
		"consistent": d.Consistent(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
