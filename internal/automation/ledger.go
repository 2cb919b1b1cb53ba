package automation

import (
	"context"
	"time"

	"github.com/unclebandit/smsleopard-delivery/internal/repository"
)

// Window bounds how far back a poll looks for events.
type Window struct {
	// Sample is how many recently processed events the low-water-mark is
	// taken over.
	Sample          int
	DefaultLookBack time.Duration
	MaxLookBack     time.Duration
}

// LowWaterMark is where the next poll of a (tenant, automation) pair starts:
// the oldest occurrence among the most recently processed events, so late
// arrivals inside that span are seen again and dropped by id. Without
// history it is now minus DefaultLookBack. It never goes further back than
// MaxLookBack.
func LowWaterMark(ctx context.Context, repo repository.ProcessedEventRepositoryInterface, w Window, tenantID int, automationType string, now time.Time) (time.Time, error) {
	floor := now.Add(-w.MaxLookBack)
	oldest, err := repo.RecentOccurredAt(ctx, tenantID, automationType, w.Sample)
	if err != nil {
		return time.Time{}, err
	}
	mark := now.Add(-w.DefaultLookBack)
	if oldest != nil {
		mark = *oldest
	}
	if mark.Before(floor) {
		mark = floor
	}
	return mark, nil
}
