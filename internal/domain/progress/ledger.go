package progress

// MemberLedger is the per-channel, per-member score sheet. Total,
// Escape and Denied only ever grow; Score and Streak are signed.
// A positive streak counts consecutive approved cycles, a negative one
// consecutive cycles without an approval.
type MemberLedger struct {
	ChannelID int64
	UserID    int64
	Score     int
	Total     int
	Streak    int
	Escape    int
	Denied    int
}

// CycleOutcome is the verification result for one member over one
// lookback window: how many of their reports were approved and how
// many denied by the peer quorum.
type CycleOutcome struct {
	Approved int
	Denied   int
}

// ApplyCycleOutcome folds one cycle's verification result into the
// ledger. The update is a pure function of (prior streak, approved,
// denied):
//
//	approved > 0: score += approved*100 - denied*50 + streak,
//	              total += approved, streak = max(streak+1, 1)
//	denied > 0:   score += streak - denied*50, streak = min(streak-1, -1)
//	both zero:    no change; a window with no records at all was already
//	              accounted for in a prior cycle.
func (l *MemberLedger) ApplyCycleOutcome(o CycleOutcome) {
	switch {
	case o.Approved > 0:
		l.Score += o.Approved*100 - o.Denied*50 + l.Streak
		l.Total += o.Approved
		if l.Streak+1 > 1 {
			l.Streak++
		} else {
			l.Streak = 1
		}
		l.Denied += o.Denied
	case o.Denied > 0:
		l.Score += l.Streak - o.Denied*50
		if l.Streak-1 < -1 {
			l.Streak--
		} else {
			l.Streak = -1
		}
		l.Denied += o.Denied
	}
}

// Approved reports whether a card's pending-reaction count clears the
// peer quorum: strictly fewer objections than half the active members.
func Approved(pendingCount, activeMemberCount int) bool {
	return float64(pendingCount) < float64(activeMemberCount)/2
}
