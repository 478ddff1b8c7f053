package progress

import (
	"context"
	"time"
)

// CadenceRepository persists per-channel reporting schedules.
type CadenceRepository interface {
	Create(ctx context.Context, c *Cadence) error
	Get(ctx context.Context, channelID int64) (*Cadence, error)
	List(ctx context.Context) ([]*Cadence, error)
	// UpdateSchedule overwrites interval, time of day and the forward
	// deadline only, leaving PrevDeadline and PriorDeadline untouched.
	// Verification windows already produced under the old cadence stay
	// valid; the triple resynchronizes after one cycle.
	UpdateSchedule(ctx context.Context, c *Cadence) error
	Delete(ctx context.Context, channelID int64) error
	// ListWakeTimes returns the distinct custom times-of-day across all
	// cadences, for timetable recomputation.
	ListWakeTimes(ctx context.Context) ([]TimeOfDay, error)
}

// LedgerRepository persists member score sheets.
type LedgerRepository interface {
	Create(ctx context.Context, l *MemberLedger) error
	Get(ctx context.Context, channelID, userID int64) (*MemberLedger, error)
	ListByChannel(ctx context.Context, channelID int64) ([]*MemberLedger, error)
	// TopByScore returns at most limit ledgers among the given members,
	// ordered by score descending.
	TopByScore(ctx context.Context, channelID int64, userIDs []int64, limit int) ([]*MemberLedger, error)
	Delete(ctx context.Context, channelID, userID int64) error
}

// ReportRepository persists submitted report records.
type ReportRepository interface {
	Create(ctx context.Context, r *ReportRecord) error
	// ListWindow returns records for the channel with
	// from <= SubmittedAt < to.
	ListWindow(ctx context.Context, channelID int64, from, to time.Time) ([]*ReportRecord, error)
}

// CycleCommitter commits one channel's full tally step as a unit:
// ledger updates, the advanced deadline triple, and the prune of
// records older than the new prior deadline. Partial application must
// be impossible.
type CycleCommitter interface {
	CommitCycle(ctx context.Context, advanced *Cadence, ledgers []*MemberLedger, pruneBefore time.Time) error
}
