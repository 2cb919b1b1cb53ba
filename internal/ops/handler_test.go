package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/unclebandit/smsleopard-delivery/internal/ledger"
	"github.com/unclebandit/smsleopard-delivery/internal/logger"
	"github.com/unclebandit/smsleopard-delivery/internal/queue"
)

type MockDB struct{ err error }

func (m MockDB) PingContext(ctx context.Context) error { return m.err }

type MockStats struct{ stats queue.Stats }

func (m MockStats) Stats(ctx context.Context) (queue.Stats, error) { return m.stats, nil }

type MockVerifier struct{ drift ledger.Drift }

func (m MockVerifier) Verify(ctx context.Context, tenantID int) (ledger.Drift, error) {
	return m.drift, nil
}

func serve(h *Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func newHandler(dbErr error) *Handler {
	return &Handler{
		DB: MockDB{err: dbErr},
		Queue: MockStats{stats: queue.Stats{
			BrokerAvailable: false,
			Fallback:        map[string]queue.QueueStats{queue.QueueSend: {Waiting: 3, Completed: 7}},
		}},
		Ledger: MockVerifier{drift: ledger.Drift{Balance: 4, LedgerSum: 4}},
		Logger: logger.Discard(),
	}
}

func TestHealthReportsBrokerOutageButStaysHealthy(t *testing.T) {
	rec := serve(newHandler(nil), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["broker_available"] != false || body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestHealthFailsWithoutDatabase(t *testing.T) {
	rec := serve(newHandler(errors.New("connection refused")), "/healthz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestQueueStats(t *testing.T) {
	rec := serve(newHandler(nil), "/queues/stats")
	var stats queue.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := stats.Fallback[queue.QueueSend]; got.Waiting != 3 || got.Completed != 7 {
		t.Errorf("send stats = %+v", got)
	}
}

func TestVerifyLedger(t *testing.T) {
	rec := serve(newHandler(nil), "/ledger/12/verify")
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if rec.Code != http.StatusOK || body["consistent"] != true || body["tenant_id"] != float64(12) {
		t.Errorf("code = %d body = %v", rec.Code, body)
	}

	if rec := serve(newHandler(nil), "/ledger/abc/verify"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", rec.Code)
	}
}
