package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"progress_report_bot/internal/domain/chat"
	"progress_report_bot/internal/domain/progress"
	"progress_report_bot/internal/infra/schedule"

	"github.com/sirupsen/logrus"
)

// ErrInvariantViolation marks data-corruption signals (ambiguous
// reactions, broken deadline triples). The affected channel's cycle is
// aborted before any write and retried naturally on the next wake.
var ErrInvariantViolation = fmt.Errorf("tally invariant violation")

// TallyService fires at each wake time and settles every channel whose
// deadline is due: verifies the previous reporting window, updates
// member ledgers, nags or celebrates for the current window, and
// slides the deadline triple forward.
type TallyService struct {
	cadences    progress.CadenceRepository
	ledgers     progress.LedgerRepository
	reports     progress.ReportRepository
	cycles      progress.CycleCommitter
	gateway     chat.Gateway
	displayZone *time.Location
	logger      *logrus.Entry
}

func NewTallyService(
	cadences progress.CadenceRepository,
	ledgers progress.LedgerRepository,
	reports progress.ReportRepository,
	cycles progress.CycleCommitter,
	gateway chat.Gateway,
	displayZone *time.Location,
	logger *logrus.Entry,
) *TallyService {
	return &TallyService{
		cadences:    cadences,
		ledgers:     ledgers,
		reports:     reports,
		cycles:      cycles,
		gateway:     gateway,
		displayZone: displayZone,
		logger:      logger,
	}
}

// RunDue processes every cadence whose deadline is due at now. Channels
// are settled sequentially and independently: one channel's failure is
// logged and does not stop the others.
func (s *TallyService) RunDue(ctx context.Context, now time.Time) error {
	cadences, err := s.cadences.List(ctx)
	if err != nil {
		return fmt.Errorf("list cadences: %w", err)
	}

	var firstErr error
	for _, cad := range cadences {
		if !cad.DueAt(now) {
			continue
		}
		log := s.logger.WithFields(logrus.Fields{
			"channel_id": cad.ChannelID,
			"deadline":   cad.Deadline,
		})
		if err := s.settleChannel(ctx, cad, now, log); err != nil {
			log.WithError(err).Error("Channel tally aborted")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *TallyService) settleChannel(ctx context.Context, cad *progress.Cadence, now time.Time, log *logrus.Entry) error {
	if err := cad.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvariantViolation, err)
	}

	// Stale configuration heals itself: a channel that no longer
	// resolves loses its cadence row.
	channel, err := s.gateway.ResolveChannel(ctx, cad.ChannelID)
	if err != nil {
		if err == chat.ErrChannelNotFound {
			log.Warn("Channel no longer resolves, deleting cadence")
			return s.cadences.Delete(ctx, cad.ChannelID)
		}
		return fmt.Errorf("resolve channel: %w", err)
	}

	members, err := s.activeMembers(ctx, channel)
	if err != nil {
		return err
	}
	log.WithField("active_members", len(members)).Debug("Active member set resolved")

	outcomes, err := s.verifyPreviousWindow(ctx, channel, cad, members)
	if err != nil {
		return err
	}

	updated := make([]*progress.MemberLedger, 0, len(members))
	for _, m := range members {
		o := outcomes[m.UserID]
		if o.Approved == 0 && o.Denied == 0 {
			continue // nothing happened this window, already accounted for
		}
		m.ApplyCycleOutcome(o)
		updated = append(updated, m)
	}

	nextDeadline := schedule.NearestOccurrence(now, cad.TimeOfDay).Add(cad.Interval())

	advanced := *cad
	advanced.Advance(nextDeadline)
	if err := advanced.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvariantViolation, err)
	}
	if err := s.cycles.CommitCycle(ctx, &advanced, updated, advanced.PriorDeadline); err != nil {
		return fmt.Errorf("commit cycle: %w", err)
	}
	log.WithField("next_deadline", advanced.Deadline).Info("Channel tally committed")

	// Summaries come after the commit so the ranking reads the scores
	// this cycle just produced.
	items := s.verificationSummaries(ctx, channel, cad, members, outcomes)
	reminder, err := s.currentWindowSummary(ctx, channel, cad, members, nextDeadline)
	if err != nil {
		return err
	}
	items = append(items, reminder)
	ranking, err := s.rankingSummary(ctx, channel, members)
	if err != nil {
		return err
	}
	items = append(items, ranking)

	if err := s.gateway.SendSummaries(ctx, channel, items); err != nil {
		log.WithError(err).Error("Failed to send tally summaries")
	}
	return nil
}

// activeMembers intersects the channel's ledger rows with the members
// currently present in the channel.
func (s *TallyService) activeMembers(ctx context.Context, channel *chat.Channel) ([]*progress.MemberLedger, error) {
	ledgers, err := s.ledgers.ListByChannel(ctx, channel.ID)
	if err != nil {
		return nil, fmt.Errorf("list ledgers: %w", err)
	}
	candidates := make([]int64, 0, len(ledgers))
	byID := make(map[int64]*progress.MemberLedger, len(ledgers))
	for _, l := range ledgers {
		candidates = append(candidates, l.UserID)
		byID[l.UserID] = l
	}
	present, err := s.gateway.PresentMembers(ctx, channel, candidates)
	if err != nil {
		return nil, fmt.Errorf("list present members: %w", err)
	}
	active := make([]*progress.MemberLedger, 0, len(present))
	for _, id := range present {
		if l, ok := byID[id]; ok {
			active = append(active, l)
		}
	}
	return active, nil
}

// verifyPreviousWindow classifies every report in
// [PriorDeadline, PrevDeadline) by its pending-reaction count and marks
// the cards. Cards deleted upstream are skipped silently.
func (s *TallyService) verifyPreviousWindow(ctx context.Context, channel *chat.Channel, cad *progress.Cadence, members []*progress.MemberLedger) (map[int64]progress.CycleOutcome, error) {
	outcomes := make(map[int64]progress.CycleOutcome, len(members))
	active := make(map[int64]bool, len(members))
	for _, m := range members {
		outcomes[m.UserID] = progress.CycleOutcome{}
		active[m.UserID] = true
	}

	records, err := s.reports.ListWindow(ctx, channel.ID, cad.PriorDeadline, cad.PrevDeadline)
	if err != nil {
		return nil, fmt.Errorf("list previous window reports: %w", err)
	}
	for _, rec := range records {
		if !active[rec.UserID] {
			continue
		}
		card, err := s.gateway.FetchCard(ctx, channel, rec.CardRef)
		if err != nil {
			if err == chat.ErrCardNotFound {
				continue
			}
			return nil, fmt.Errorf("fetch card %d: %w", rec.CardRef, err)
		}
		pending, err := s.gateway.PendingCount(ctx, card)
		if err != nil {
			if err == chat.ErrAmbiguousReactions {
				return nil, fmt.Errorf("%w: card %d carries conflicting recognized reactions", ErrInvariantViolation, rec.CardRef)
			}
			return nil, fmt.Errorf("read pending count for card %d: %w", rec.CardRef, err)
		}
		o := outcomes[rec.UserID]
		if progress.Approved(pending, len(members)) {
			o.Approved++
			if err := s.gateway.MarkCardApproved(ctx, card); err != nil {
				s.logger.WithError(err).WithField("card_ref", rec.CardRef).Warn("Failed to mark card approved")
			}
		} else {
			o.Denied++
			if err := s.gateway.MarkCardDenied(ctx, card); err != nil {
				s.logger.WithError(err).WithField("card_ref", rec.CardRef).Warn("Failed to mark card denied")
			}
		}
		outcomes[rec.UserID] = o
	}
	return outcomes, nil
}

func (s *TallyService) verificationSummaries(ctx context.Context, channel *chat.Channel, cad *progress.Cadence, members []*progress.MemberLedger, outcomes map[int64]progress.CycleOutcome) []chat.Summary {
	var approvedNames, deniedNames []string
	for _, m := range members {
		o := outcomes[m.UserID]
		if o.Approved > 0 {
			approvedNames = append(approvedNames, s.gateway.MemberName(ctx, channel, m.UserID))
		}
		if o.Denied > 0 {
			deniedNames = append(deniedNames, s.gateway.MemberName(ctx, channel, m.UserID))
		}
	}

	window := fmt.Sprintf("%s — %s",
		cad.PriorDeadline.In(s.displayZone).Format("2006-01-02 15:04"),
		cad.PrevDeadline.In(s.displayZone).Format("2006-01-02 15:04"))

	var items []chat.Summary
	if len(approvedNames) > 0 {
		items = append(items, chat.Summary{
			Kind:   chat.SummaryApproved,
			Title:  "Progress reports approved",
			Body:   strings.Join(approvedNames, ", "),
			Footer: window,
		})
	}
	if len(deniedNames) > 0 {
		items = append(items, chat.Summary{
			Kind:   chat.SummaryDenied,
			Title:  "Progress reports denied",
			Body:   strings.Join(deniedNames, ", "),
			Footer: window,
		})
	}
	return items
}

// currentWindowSummary counts submissions in [PrevDeadline, Deadline)
// regardless of verification, which happens next cycle.
func (s *TallyService) currentWindowSummary(ctx context.Context, channel *chat.Channel, cad *progress.Cadence, members []*progress.MemberLedger, nextDeadline time.Time) (chat.Summary, error) {
	counts := make(map[int64]int, len(members))
	for _, m := range members {
		counts[m.UserID] = 0
	}
	records, err := s.reports.ListWindow(ctx, channel.ID, cad.PrevDeadline, cad.Deadline)
	if err != nil {
		return chat.Summary{}, fmt.Errorf("list current window reports: %w", err)
	}
	for _, rec := range records {
		if _, ok := counts[rec.UserID]; !ok {
			continue
		}
		if _, err := s.gateway.FetchCard(ctx, channel, rec.CardRef); err != nil {
			if err == chat.ErrCardNotFound {
				continue
			}
			return chat.Summary{}, fmt.Errorf("fetch card %d: %w", rec.CardRef, err)
		}
		counts[rec.UserID]++
	}

	var silent []string
	for _, m := range members {
		if counts[m.UserID] == 0 {
			silent = append(silent, s.gateway.MemberName(ctx, channel, m.UserID))
		}
	}
	next := fmt.Sprintf("Next deadline: %s", nextDeadline.In(s.displayZone).Format("2006-01-02 15:04"))
	if len(silent) > 0 {
		return chat.Summary{
			Kind:   chat.SummaryReminder,
			Title:  "How is your progress?",
			Body:   strings.Join(silent, " "),
			Footer: next,
		}, nil
	}
	return chat.Summary{
		Kind:   chat.SummaryAllReported,
		Title:  "Everyone reported!",
		Footer: next,
	}, nil
}

func (s *TallyService) rankingSummary(ctx context.Context, channel *chat.Channel, members []*progress.MemberLedger) (chat.Summary, error) {
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	top, err := s.ledgers.TopByScore(ctx, channel.ID, ids, 3)
	if err != nil {
		return chat.Summary{}, fmt.Errorf("top by score: %w", err)
	}
	sort.SliceStable(top, func(i, j int) bool { return top[i].Score > top[j].Score })

	var b strings.Builder
	for i, l := range top {
		fmt.Fprintf(&b, "%d. %s: %d\n", i+1, s.gateway.MemberName(ctx, channel, l.UserID), l.Score)
	}
	return chat.Summary{
		Kind:  chat.SummaryRanking,
		Title: "Current score ranking",
		Body:  strings.TrimRight(b.String(), "\n"),
	}, nil
}
