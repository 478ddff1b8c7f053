package telegram

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"progress_report_bot/internal/domain/chat"
	"progress_report_bot/internal/domain/progress"

	"gopkg.in/telebot.v3"
)

// TelebotAdapter implements the chat.Gateway interface on top of
// gopkg.in/telebot.v3.
//
// Telegram gives bots no API to enumerate reactions on a message, so
// the pending signal is rendered as an inline button on each report
// card and distinct voters are counted per recognized kind. Card state
// and votes live in the CardStateStore, not in process memory, so a
// restart does not void the pending verification windows.
type TelebotAdapter struct {
	bot         *telebot.Bot
	store       chat.CardStateStore
	displayZone *time.Location
}

func NewTelebotAdapter(b *telebot.Bot, store chat.CardStateStore, displayZone *time.Location) *TelebotAdapter {
	return &TelebotAdapter{
		bot:         b,
		store:       store,
		displayZone: displayZone,
	}
}

func (a *TelebotAdapter) ResolveChannel(ctx context.Context, channelID int64) (*chat.Channel, error) {
	tgChat, err := a.bot.ChatByID(channelID)
	if err != nil {
		if err == telebot.ErrChatNotFound {
			return nil, chat.ErrChannelNotFound
		}
		return nil, fmt.Errorf("resolve chat %d: %w", channelID, err)
	}
	return &chat.Channel{ID: tgChat.ID, Title: tgChat.Title}, nil
}

// PresentMembers filters candidates through per-member chat lookups.
// Bots cannot enumerate group members, so presence is checked member by
// member; the bot itself is always excluded.
func (a *TelebotAdapter) PresentMembers(ctx context.Context, channel *chat.Channel, candidates []int64) ([]int64, error) {
	present := make([]int64, 0, len(candidates))
	for _, id := range candidates {
		if id == a.bot.Me.ID {
			continue
		}
		member, err := a.bot.ChatMemberOf(&telebot.Chat{ID: channel.ID}, &telebot.User{ID: id})
		if err != nil {
			continue // left, unknown or unreachable: not present
		}
		switch member.Role {
		case telebot.Creator, telebot.Administrator, telebot.Member, telebot.Restricted:
			present = append(present, id)
		}
	}
	return present, nil
}

func (a *TelebotAdapter) MemberName(ctx context.Context, channel *chat.Channel, userID int64) string {
	member, err := a.bot.ChatMemberOf(&telebot.Chat{ID: channel.ID}, &telebot.User{ID: userID})
	if err != nil || member.User == nil {
		return strconv.FormatInt(userID, 10)
	}
	if member.User.Username != "" {
		return "@" + member.User.Username
	}
	return member.User.FirstName
}

func (a *TelebotAdapter) PublishCard(ctx context.Context, channel *chat.Channel, authorID int64, comment string, at time.Time) (*chat.Card, error) {
	name := a.MemberName(ctx, channel, authorID)
	text := fmt.Sprintf("🤔 Progress report from %s\n\n%s\n\n%s",
		name, comment, at.In(a.displayZone).Format("2006-01-02 15:04"))

	markup := &telebot.ReplyMarkup{}
	// Button data is completed with the message ID after sending.
	btn := markup.Data("🤔 Needs review (0)", "pgsvote", "0")
	markup.Inline(markup.Row(btn))

	msg, err := a.bot.Send(&telebot.Chat{ID: channel.ID}, text, &telebot.SendOptions{ReplyMarkup: markup})
	if err != nil {
		return nil, fmt.Errorf("send report card: %w", err)
	}

	markup = &telebot.ReplyMarkup{}
	btn = markup.Data("🤔 Needs review (0)", "pgsvote", strconv.Itoa(msg.ID))
	markup.Inline(markup.Row(btn))
	if _, err := a.bot.Edit(msg, text, &telebot.SendOptions{ReplyMarkup: markup}); err != nil {
		return nil, fmt.Errorf("attach reaction control: %w", err)
	}

	state := &chat.CardState{
		Ref:       int64(msg.ID),
		ChannelID: channel.ID,
		AuthorID:  authorID,
		Body:      text,
	}
	if err := a.store.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("persist card state: %w", err)
	}

	return &chat.Card{ChannelID: channel.ID, Ref: state.Ref, AuthorID: authorID}, nil
}

func (a *TelebotAdapter) FetchCard(ctx context.Context, channel *chat.Channel, ref int64) (*chat.Card, error) {
	state, err := a.store.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if state.ChannelID != channel.ID {
		return nil, chat.ErrCardNotFound
	}
	return &chat.Card{ChannelID: state.ChannelID, Ref: ref, AuthorID: state.AuthorID}, nil
}

// PendingCount returns the distinct-voter count of the pending kind.
// Votes under more than one recognized kind on the same card violate
// the classification contract.
func (a *TelebotAdapter) PendingCount(ctx context.Context, card *chat.Card) (int, error) {
	counts, err := a.store.VoteCounts(ctx, card.Ref)
	if err != nil {
		return 0, err
	}
	return classifyVotes(counts)
}

func classifyVotes(counts map[progress.ReactionKind]int) (int, error) {
	recognized := 0
	pending := 0
	for kind, n := range counts {
		if !kind.Recognized() || n == 0 {
			continue
		}
		recognized++
		if kind == progress.ReactionPending {
			pending = n
		}
	}
	if recognized > 1 {
		return 0, chat.ErrAmbiguousReactions
	}
	return pending, nil
}

// ToggleVote flips a member's pending vote on a card and refreshes the
// button label. Invoked from the vote callback handler.
func (a *TelebotAdapter) ToggleVote(ctx context.Context, ref int64, voterID int64) (int, error) {
	state, err := a.store.Get(ctx, ref)
	if err != nil {
		return 0, err
	}
	if err := a.store.ToggleVote(ctx, ref, voterID, progress.ReactionPending); err != nil {
		return 0, err
	}
	counts, err := a.store.VoteCounts(ctx, ref)
	if err != nil {
		return 0, err
	}
	count := counts[progress.ReactionPending]

	markup := &telebot.ReplyMarkup{}
	btn := markup.Data(fmt.Sprintf("🤔 Needs review (%d)", count), "pgsvote", strconv.FormatInt(ref, 10))
	markup.Inline(markup.Row(btn))
	stored := &telebot.StoredMessage{MessageID: strconv.FormatInt(ref, 10), ChatID: state.ChannelID}
	if _, err := a.bot.Edit(stored, state.Body, &telebot.SendOptions{ReplyMarkup: markup}); err != nil {
		return count, fmt.Errorf("refresh reaction control: %w", err)
	}
	return count, nil
}

func (a *TelebotAdapter) MarkCardApproved(ctx context.Context, card *chat.Card) error {
	return a.markCard(ctx, card, "✅")
}

func (a *TelebotAdapter) MarkCardDenied(ctx context.Context, card *chat.Card) error {
	return a.markCard(ctx, card, "❌")
}

func (a *TelebotAdapter) markCard(ctx context.Context, card *chat.Card, marker string) error {
	state, err := a.store.Get(ctx, card.Ref)
	if err != nil {
		return err
	}
	body := marker + state.Body[len("🤔"):]
	stored := &telebot.StoredMessage{MessageID: strconv.FormatInt(card.Ref, 10), ChatID: state.ChannelID}
	if _, err := a.bot.Edit(stored, body); err != nil {
		return fmt.Errorf("mark card %d: %w", card.Ref, err)
	}
	return a.store.SetBody(ctx, card.Ref, body)
}

func (a *TelebotAdapter) SendSummaries(ctx context.Context, channel *chat.Channel, items []chat.Summary) error {
	var b []byte
	for i, item := range items {
		if i > 0 {
			b = append(b, '\n', '\n')
		}
		b = append(b, summaryIcon(item.Kind)...)
		b = append(b, ' ')
		b = append(b, item.Title...)
		if item.Body != "" {
			b = append(b, '\n')
			b = append(b, item.Body...)
		}
		if item.Footer != "" {
			b = append(b, '\n')
			b = append(b, item.Footer...)
		}
	}
	if _, err := a.bot.Send(&telebot.Chat{ID: channel.ID}, string(b)); err != nil {
		return fmt.Errorf("send summaries: %w", err)
	}
	return nil
}

func summaryIcon(kind chat.SummaryKind) string {
	switch kind {
	case chat.SummaryApproved:
		return "🎉"
	case chat.SummaryDenied:
		return "😇"
	case chat.SummaryReminder:
		return "🤔"
	case chat.SummaryAllReported:
		return "🥳"
	case chat.SummaryRanking:
		return "🏆"
	}
	return "ℹ️"
}

func (a *TelebotAdapter) RemoveMember(ctx context.Context, channel *chat.Channel, userID int64) error {
	tgChat := &telebot.Chat{ID: channel.ID}
	user := &telebot.User{ID: userID}
	if err := a.bot.Ban(tgChat, &telebot.ChatMember{User: user}); err != nil {
		return fmt.Errorf("kick member %d: %w", userID, err)
	}
	// Unban immediately so the member may rejoin; the kick is a removal,
	// not a permanent ban.
	if err := a.bot.Unban(tgChat, user); err != nil {
		return fmt.Errorf("unban member %d: %w", userID, err)
	}
	return nil
}
