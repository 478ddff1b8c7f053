package chat

import (
	"context"
	"fmt"
	"time"
)

// Self-healing conditions: stale configuration or upstream deletions
// are skipped or cleaned up, never surfaced as fatal.
var ErrChannelNotFound = fmt.Errorf("channel not found")
var ErrCardNotFound = fmt.Errorf("report card not found")

// ErrAmbiguousReactions signals more than one distinct recognized
// reaction kind on a single card. This is a data-corruption signal:
// the tally aborts the channel's cycle before any write.
var ErrAmbiguousReactions = fmt.Errorf("more than one recognized reaction kind on card")

// Channel is a resolved group chat.
type Channel struct {
	ID    int64
	Title string
}

// Card is a rendered report message in a channel.
type Card struct {
	ChannelID int64
	Ref       int64
	AuthorID  int64
}

// SummaryKind selects the visual treatment of a summary item.
type SummaryKind string

const (
	SummaryApproved    SummaryKind = "APPROVED"
	SummaryDenied      SummaryKind = "DENIED"
	SummaryReminder    SummaryKind = "REMINDER"
	SummaryAllReported SummaryKind = "ALL_REPORTED"
	SummaryRanking     SummaryKind = "RANKING"
)

// Summary is one item of a tally notification batch.
type Summary struct {
	Kind   SummaryKind
	Title  string
	Body   string
	Footer string
}

// Gateway abstracts the chat platform. Application logic never touches
// the bot library directly; the adapter in internal/infra/telegram
// implements this interface.
type Gateway interface {
	// ResolveChannel returns the channel or ErrChannelNotFound.
	ResolveChannel(ctx context.Context, channelID int64) (*Channel, error)
	// PresentMembers filters the candidate member IDs down to those
	// currently present in the channel, excluding the bot itself.
	PresentMembers(ctx context.Context, channel *Channel, candidates []int64) ([]int64, error)
	// MemberName resolves a display name; implementations fall back to
	// the numeric ID when the platform cannot resolve the member.
	MemberName(ctx context.Context, channel *Channel, userID int64) string

	// PublishCard renders and posts a report card with its pending
	// reaction control attached.
	PublishCard(ctx context.Context, channel *Channel, authorID int64, comment string, at time.Time) (*Card, error)
	// FetchCard returns the card or ErrCardNotFound if it was deleted
	// upstream.
	FetchCard(ctx context.Context, channel *Channel, ref int64) (*Card, error)
	// PendingCount returns the count of the single recognized pending
	// reaction on the card, or ErrAmbiguousReactions.
	PendingCount(ctx context.Context, card *Card) (int, error)
	MarkCardApproved(ctx context.Context, card *Card) error
	MarkCardDenied(ctx context.Context, card *Card) error

	// SendSummaries delivers one tally's notification items as a batch.
	SendSummaries(ctx context.Context, channel *Channel, items []Summary) error
	// RemoveMember kicks a member; invoked by threshold policies outside
	// the tally core.
	RemoveMember(ctx context.Context, channel *Channel, userID int64) error
}
