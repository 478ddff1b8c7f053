package app

import (
	"context"
	"fmt"
	"time"

	"progress_report_bot/internal/domain/chat"
	"progress_report_bot/internal/domain/progress"

	"github.com/sirupsen/logrus"
)

// ErrNoTrackedMembers rejects report submission in a channel with no
// member roster at all.
var ErrNoTrackedMembers = fmt.Errorf("channel has no tracked members")

// ReportService accepts report submissions: it publishes the rendered
// card with its pending-reaction control and records the submission for
// the tally to pick up.
type ReportService struct {
	ledgers progress.LedgerRepository
	reports progress.ReportRepository
	gateway chat.Gateway
	logger  *logrus.Entry
}

func NewReportService(
	ledgers progress.LedgerRepository,
	reports progress.ReportRepository,
	gateway chat.Gateway,
	logger *logrus.Entry,
) *ReportService {
	return &ReportService{
		ledgers: ledgers,
		reports: reports,
		gateway: gateway,
		logger:  logger,
	}
}

// Submit posts a report card for the author in the channel and records
// it. The comment becomes the card's display text; no further content
// validation is applied.
func (s *ReportService) Submit(ctx context.Context, channel *chat.Channel, authorID int64, comment string, now time.Time) (*progress.ReportRecord, error) {
	roster, err := s.ledgers.ListByChannel(ctx, channel.ID)
	if err != nil {
		return nil, fmt.Errorf("list channel roster: %w", err)
	}
	if len(roster) == 0 {
		return nil, ErrNoTrackedMembers
	}

	card, err := s.gateway.PublishCard(ctx, channel, authorID, comment, now)
	if err != nil {
		return nil, fmt.Errorf("publish report card: %w", err)
	}

	record := &progress.ReportRecord{
		ChannelID:   channel.ID,
		UserID:      authorID,
		CardRef:     card.Ref,
		SubmittedAt: now,
	}
	if err := s.reports.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("record report submission: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"channel_id": channel.ID,
		"user_id":    authorID,
		"card_ref":   card.Ref,
	}).Info("Report submitted")
	return record, nil
}
