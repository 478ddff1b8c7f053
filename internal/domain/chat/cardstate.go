package chat

import (
	"context"

	"progress_report_bot/internal/domain/progress"
)

// CardState is the durable backing record of a published report card:
// the rendered body plus the per-kind voter sets behind the reaction
// control. It outlives the process so a restart cannot void a pending
// verification window.
type CardState struct {
	Ref       int64
	ChannelID int64
	AuthorID  int64
	Body      string
}

// CardStateStore persists card state and votes. Voters are distinct per
// (card, kind); toggling an existing vote removes it.
type CardStateStore interface {
	Save(ctx context.Context, state *CardState) error
	// Get returns the state or ErrCardNotFound.
	Get(ctx context.Context, ref int64) (*CardState, error)
	SetBody(ctx context.Context, ref int64, body string) error
	ToggleVote(ctx context.Context, ref, voterID int64, kind progress.ReactionKind) error
	// VoteCounts returns the distinct-voter count per kind that has at
	// least one voter.
	VoteCounts(ctx context.Context, ref int64) (map[progress.ReactionKind]int, error)
}
