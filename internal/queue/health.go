package queue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Health tracks whether the broker is worth trying. Each process owns one.
type Health struct {
	pinger    Pinger
	available atomic.Bool
	limiter   *rate.Limiter
	timeout   time.Duration
	interval  time.Duration
	logger    *logrus.Logger
}

// NewHealth starts pessimistic; the first probe decides. A nil pinger means
// there is no broker and Available is always false.
func NewHealth(pinger Pinger, minProbeInterval, timeout time.Duration, log *logrus.Logger) *Health {
	return &Health{
		pinger:   pinger,
		limiter:  rate.NewLimiter(rate.Every(minProbeInterval), 1),
		timeout:  timeout,
		interval: minProbeInterval,
		logger:   log,
	}
}

func (h *Health) Available() bool {
	return h.available.Load()
}

// MarkDown records a live failure seen by a caller.
func (h *Health) MarkDown(err error) {
	if h.available.CompareAndSwap(true, false) {
		h.logger.WithFields(logrus.Fields{"module": "queue"}).WithError(err).Warn("broker marked unavailable, using fallback")
	}
}

func (h *Health) markUp() {
	if h.available.CompareAndSwap(false, true) {
		h.logger.WithFields(logrus.Fields{"module": "queue"}).Info("broker available")
	}
}

// Probe pings the broker unless a probe ran less than the minimum interval
// ago. It returns the flag after the probe.
func (h *Health) Probe(ctx context.Context) bool {
	if h.pinger == nil {
		return false
	}
	if !h.limiter.Allow() {
		return h.Available()
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if err := h.pinger.Ping(ctx); err != nil {
		h.MarkDown(err)
		return false
	}
	h.markUp()
	return true
}

// Run probes on every interval until ctx is done.
func (h *Health) Run(ctx context.Context) {
	if h.pinger == nil {
		return
	}
	h.Probe(ctx)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Probe(ctx)
		}
	}
}
