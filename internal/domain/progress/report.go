package progress

import "time"

// ReportRecord links a submitted report card to its author and the
// instant it was posted. Records are immutable; the tally prunes them
// once they fall behind the oldest retained window boundary.
type ReportRecord struct {
	ChannelID   int64
	UserID      int64
	CardRef     int64
	SubmittedAt time.Time
}
