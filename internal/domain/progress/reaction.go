package progress

// ReactionKind classifies reactions observed on a report card at
// ingestion. Unrecognized reactions are ignorable noise; observing
// more than one distinct recognized kind on the same card is an
// invariant violation, never a silent pick.
type ReactionKind string

const (
	// ReactionPending is the single recognized "peer objection /
	// awaiting review" signal. Its count against the quorum threshold
	// decides approval.
	ReactionPending ReactionKind = "PENDING_REVIEW"
)

// Recognized reports whether the kind participates in verification.
func (k ReactionKind) Recognized() bool {
	return k == ReactionPending
}
