package queue

import (
	"math"
	"time"
)

// Queue names.
const (
	QueueSend              = "send"
	QueueCampaignDispatch  = "campaign-dispatch"
	QueueAutomationTrigger = "automation-trigger"
)

// Backoff kinds.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// Backoff computes the wait before a retry.
type Backoff struct {
	Kind  string
	Delay time.Duration
	Max   time.Duration
}

// For returns the wait after the given failed attempt (1-indexed).
// Exponential doubles from Delay and is capped at Max when Max is set.
func (b Backoff) For(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if b.Kind != BackoffExponential {
		return b.Delay
	}
	d := time.Duration(float64(b.Delay) * math.Pow(2, float64(attempt-1)))
	if d <= 0 || (b.Max > 0 && d > b.Max) {
		return b.Max
	}
	return d
}

// Policy is the per-queue retry, concurrency and retention setting.
type Policy struct {
	Attempts      int
	Backoff       Backoff
	Concurrency   int
	KeepCompleted int
	KeepFailed    int
}

type Policies map[string]Policy

var defaultPolicy = Policy{
	Attempts:      3,
	Backoff:       Backoff{Kind: BackoffFixed, Delay: 5 * time.Second},
	Concurrency:   1,
	KeepCompleted: 100,
	KeepFailed:    500,
}

func DefaultPolicies() Policies {
	return Policies{
		QueueSend: {
			Attempts:      5,
			Backoff:       Backoff{Kind: BackoffExponential, Delay: 2 * time.Second, Max: time.Minute},
			Concurrency:   10,
			KeepCompleted: 1000,
			KeepFailed:    5000,
		},
		QueueCampaignDispatch: {
			Attempts:      3,
			Backoff:       Backoff{Kind: BackoffFixed, Delay: 5 * time.Second},
			Concurrency:   2,
			KeepCompleted: 100,
			KeepFailed:    500,
		},
		QueueAutomationTrigger: {
			Attempts:      3,
			Backoff:       Backoff{Kind: BackoffExponential, Delay: 5 * time.Second, Max: 5 * time.Minute},
			Concurrency:   5,
			KeepCompleted: 500,
			KeepFailed:    1000,
		},
	}
}

// For returns the policy of queueName, or a conservative default.
func (p Policies) For(queueName string) Policy {
	if pol, ok := p[queueName]; ok {
		return pol
	}
	return defaultPolicy
}
