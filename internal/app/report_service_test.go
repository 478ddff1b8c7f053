package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"progress_report_bot/internal/domain/chat"
	"progress_report_bot/internal/domain/progress"
)

func TestSubmitRejectsChannelWithoutRoster(t *testing.T) {
	ledgers := newFakeLedgerRepo()
	reports := &fakeReportRepo{}
	gateway := newFakeGateway()
	svc := NewReportService(ledgers, reports, gateway, testLogger())

	channel := &chat.Channel{ID: 7, Title: "dev"}
	_, err := svc.Submit(context.Background(), channel, 5, "shipped the parser", time.Now())
	if !errors.Is(err, ErrNoTrackedMembers) {
		t.Fatalf("err = %v, want no tracked members", err)
	}
	if len(gateway.cards) != 0 {
		t.Error("card published despite empty roster")
	}
}

func TestSubmitPublishesCardAndRecords(t *testing.T) {
	ledgers := newFakeLedgerRepo()
	reports := &fakeReportRepo{}
	gateway := newFakeGateway()
	svc := NewReportService(ledgers, reports, gateway, testLogger())

	ledgers.rows[ledgerKey{7, 5}] = progress.MemberLedger{ChannelID: 7, UserID: 5}
	channel := &chat.Channel{ID: 7, Title: "dev"}
	now := time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC)

	rec, err := svc.Submit(context.Background(), channel, 5, "shipped the parser", now)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rec.ChannelID != 7 || rec.UserID != 5 || !rec.SubmittedAt.Equal(now) {
		t.Errorf("record = %+v", rec)
	}
	if _, ok := gateway.cards[rec.CardRef]; !ok {
		t.Errorf("no published card for ref %d", rec.CardRef)
	}
	if len(reports.records) != 1 {
		t.Fatalf("records stored = %d, want 1", len(reports.records))
	}
}
