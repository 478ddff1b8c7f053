package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"progress_report_bot/internal/domain/chat"
	"progress_report_bot/internal/domain/progress"
	"progress_report_bot/internal/infra/schedule"
)

type sessionFixture struct {
	svc      *SessionService
	cadences *fakeCadenceRepo
	ledgers  *fakeLedgerRepo
	gateway  *fakeGateway
	registry *schedule.Registry
	zone     *time.Location
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	cadences := newFakeCadenceRepo()
	ledgers := newFakeLedgerRepo()
	gateway := newFakeGateway()
	zone := time.FixedZone("JST", 9*3600)
	registry := schedule.NewRegistry([]progress.TimeOfDay{{Hour: 0}}, cadences, nil, testLogger())
	if err := registry.Recompute(context.Background()); err != nil {
		t.Fatalf("prime registry: %v", err)
	}
	svc := NewSessionService(cadences, ledgers, gateway, registry, zone, testLogger())
	return &sessionFixture{svc, cadences, ledgers, gateway, registry, zone}
}

func TestOpenAndLookup(t *testing.T) {
	f := newSessionFixture(t)

	sess := f.svc.Open(10, 20)
	if sess.Screen != ScreenMenu {
		t.Errorf("screen = %s, want MENU", sess.Screen)
	}
	if got := f.svc.Lookup(10, 20); got != sess {
		t.Error("lookup did not return the open session")
	}
	if got := f.svc.Lookup(10, 21); got != nil {
		t.Error("lookup for another operator returned a session")
	}

	// Reopening replaces the session rather than resuming it.
	sess.Screen = ScreenSetting
	again := f.svc.Open(10, 20)
	if again == sess || again.Screen != ScreenMenu {
		t.Error("reopen did not start a fresh MENU session")
	}
}

func TestChooseChannelRoutesToAdd(t *testing.T) {
	f := newSessionFixture(t)
	sess := f.svc.Open(10, 20)
	f.svc.ToSetting(sess)

	if err := f.svc.ChooseChannel(context.Background(), sess, 7); err != nil {
		t.Fatalf("choose channel: %v", err)
	}
	if sess.Screen != ScreenAdd {
		t.Errorf("screen = %s, want ADD", sess.Screen)
	}
	if sess.ChosenChannelID != 7 {
		t.Errorf("chosen channel = %d, want 7", sess.ChosenChannelID)
	}
}

func TestChooseChannelRoutesToEditWithDisplayZonePrefill(t *testing.T) {
	f := newSessionFixture(t)
	// Deadline at midnight UTC shows as 09:00 in JST.
	deadline := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	f.cadences.rows[7] = *progress.NewCadence(7, 3, progress.TimeOfDay{}, deadline)

	sess := f.svc.Open(10, 20)
	f.svc.ToSetting(sess)
	if err := f.svc.ChooseChannel(context.Background(), sess, 7); err != nil {
		t.Fatalf("choose channel: %v", err)
	}
	if sess.Screen != ScreenEdit {
		t.Errorf("screen = %s, want EDIT", sess.Screen)
	}
	if sess.CurrentIntervalDays != 3 {
		t.Errorf("interval = %d, want 3", sess.CurrentIntervalDays)
	}
	if sess.CurrentTime != (progress.TimeOfDay{Hour: 9}) {
		t.Errorf("time = %s, want 09:00", sess.CurrentTime)
	}
	wantDate := time.Date(2024, 3, 10, 0, 0, 0, 0, f.zone)
	if !sess.CurrentNextDate.Equal(wantDate) {
		t.Errorf("next date = %s, want %s", sess.CurrentNextDate, wantDate)
	}
}

func TestSubmitAddRejectsIncompleteSelection(t *testing.T) {
	f := newSessionFixture(t)
	sess := f.svc.Open(10, 20)
	f.svc.ToSetting(sess)
	_ = f.svc.ChooseChannel(context.Background(), sess, 7)
	f.svc.SetInterval(sess, 1)
	f.svc.SetHour(sess, 9)
	// Minute and date deliberately unset.

	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	err := f.svc.SubmitAdd(context.Background(), sess, now)
	if !errors.Is(err, ErrSelectionIncomplete) {
		t.Fatalf("err = %v, want selection incomplete", err)
	}
	if sess.Screen != ScreenAdd {
		t.Errorf("screen = %s, want ADD retained", sess.Screen)
	}
	if sess.InputError == "" {
		t.Error("input error not set for inline display")
	}
	if len(f.cadences.rows) != 0 {
		t.Error("incomplete submission created a cadence")
	}
}

func TestSubmitAddRejectsPastOccurrence(t *testing.T) {
	f := newSessionFixture(t)
	sess := f.svc.Open(10, 20)
	f.svc.ToSetting(sess)
	_ = f.svc.ChooseChannel(context.Background(), sess, 7)
	f.svc.SetInterval(sess, 1)
	f.svc.SetHour(sess, 9)
	f.svc.SetMinute(sess, 0)
	f.svc.SetNextDate(sess, 2024, time.March, 10)

	now := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	err := f.svc.SubmitAdd(context.Background(), sess, now)
	if !errors.Is(err, ErrPastOccurrence) {
		t.Fatalf("err = %v, want past occurrence", err)
	}
	if sess.Screen != ScreenAdd {
		t.Errorf("screen = %s, want ADD retained", sess.Screen)
	}
	if len(f.cadences.rows) != 0 {
		t.Error("past submission created a cadence")
	}
}

func TestSubmitAddSeedsTripleAndRearms(t *testing.T) {
	f := newSessionFixture(t)
	sess := f.svc.Open(10, 20)
	f.svc.ToSetting(sess)
	_ = f.svc.ChooseChannel(context.Background(), sess, 7)
	f.svc.SetInterval(sess, 2)
	f.svc.SetHour(sess, 9) // 09:00 JST = 00:00 UTC
	f.svc.SetMinute(sess, 30)
	f.svc.SetNextDate(sess, 2024, time.March, 10)

	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := f.svc.SubmitAdd(context.Background(), sess, now); err != nil {
		t.Fatalf("submit add: %v", err)
	}
	if sess.Screen != ScreenAdded {
		t.Errorf("screen = %s, want ADDED", sess.Screen)
	}

	cad, ok := f.cadences.rows[7]
	if !ok {
		t.Fatal("cadence not created")
	}
	wantDeadline := time.Date(2024, 3, 10, 0, 30, 0, 0, time.UTC)
	if !cad.Deadline.Equal(wantDeadline) {
		t.Errorf("deadline = %s, want %s", cad.Deadline, wantDeadline)
	}
	if cad.TimeOfDay != (progress.TimeOfDay{Hour: 0, Minute: 30}) {
		t.Errorf("time of day = %s, want 00:30 UTC", cad.TimeOfDay)
	}
	if got := cad.Deadline.Sub(cad.PrevDeadline); got != 48*time.Hour {
		t.Errorf("deadline spacing = %s, want 48h", got)
	}
	if err := cad.Validate(); err != nil {
		t.Errorf("seeded cadence invalid: %v", err)
	}

	// The wake timetable picks up the new custom time alongside the
	// default.
	times := f.registry.Times()
	want := []progress.TimeOfDay{{Hour: 0}, {Hour: 0, Minute: 30}}
	if len(times) != len(want) {
		t.Fatalf("times = %v, want %v", times, want)
	}
	for i := range want {
		if times[i] != want[i] {
			t.Errorf("index %d: got %v, want %v", i, times[i], want[i])
		}
	}
}

func TestSubmitEditKeepsVerificationHistory(t *testing.T) {
	f := newSessionFixture(t)
	deadline := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	existing := progress.NewCadence(7, 1, progress.TimeOfDay{}, deadline)
	f.cadences.rows[7] = *existing

	sess := f.svc.Open(10, 20)
	f.svc.ToSetting(sess)
	_ = f.svc.ChooseChannel(context.Background(), sess, 7)
	if sess.Screen != ScreenEdit {
		t.Fatalf("screen = %s, want EDIT", sess.Screen)
	}
	f.svc.SetInterval(sess, 5)
	f.svc.SetHour(sess, 21) // 21:00 JST = 12:00 UTC
	f.svc.SetMinute(sess, 0)
	f.svc.SetNextDate(sess, 2024, time.March, 15)

	now := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	if err := f.svc.SubmitEdit(context.Background(), sess, now); err != nil {
		t.Fatalf("submit edit: %v", err)
	}
	if sess.Screen != ScreenEdited {
		t.Errorf("screen = %s, want EDITED", sess.Screen)
	}

	cad := f.cadences.rows[7]
	wantDeadline := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	if !cad.Deadline.Equal(wantDeadline) {
		t.Errorf("deadline = %s, want %s", cad.Deadline, wantDeadline)
	}
	if cad.IntervalDays != 5 {
		t.Errorf("interval = %d, want 5", cad.IntervalDays)
	}
	// Prev and prior stay on the old cadence so the pending windows are
	// still verified.
	if !cad.PrevDeadline.Equal(existing.PrevDeadline) {
		t.Errorf("prev = %s, want %s", cad.PrevDeadline, existing.PrevDeadline)
	}
	if !cad.PriorDeadline.Equal(existing.PriorDeadline) {
		t.Errorf("prior = %s, want %s", cad.PriorDeadline, existing.PriorDeadline)
	}
}

func TestDeleteCadence(t *testing.T) {
	f := newSessionFixture(t)
	deadline := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	f.cadences.rows[7] = *progress.NewCadence(7, 1, progress.TimeOfDay{}, deadline)

	sess := f.svc.Open(10, 20)
	f.svc.ToSetting(sess)
	_ = f.svc.ChooseChannel(context.Background(), sess, 7)

	if err := f.svc.Delete(context.Background(), sess); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if sess.Screen != ScreenDeleted {
		t.Errorf("screen = %s, want DELETED", sess.Screen)
	}
	if _, ok := f.cadences.rows[7]; ok {
		t.Error("cadence row survived delete")
	}
}

func TestShowMemberStatusWaitsForBothSelections(t *testing.T) {
	f := newSessionFixture(t)
	sess := f.svc.Open(10, 20)
	f.svc.ToMembers(sess)
	f.svc.SetStatusChannel(sess, 7)

	if err := f.svc.ShowMemberStatus(context.Background(), sess); err != nil {
		t.Fatalf("show member status: %v", err)
	}
	if sess.Screen != ScreenMembers {
		t.Errorf("screen = %s, want MEMBERS until member chosen", sess.Screen)
	}
}

func TestShowMemberStatusErrorBranches(t *testing.T) {
	f := newSessionFixture(t)
	deadline := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	setup := func(channelKnown, hasCadence, present, hasLedger bool) *Session {
		f.cadences.rows = map[int64]progress.Cadence{}
		f.ledgers.rows = map[ledgerKey]progress.MemberLedger{}
		f.gateway.channels = map[int64]*chat.Channel{}
		f.gateway.present = map[int64][]int64{}
		if channelKnown {
			f.gateway.channels[7] = &chat.Channel{ID: 7, Title: "dev"}
		}
		if hasCadence {
			f.cadences.rows[7] = *progress.NewCadence(7, 1, progress.TimeOfDay{}, deadline)
		}
		if present {
			f.gateway.present[7] = []int64{5}
		}
		if hasLedger {
			f.ledgers.rows[ledgerKey{7, 5}] = progress.MemberLedger{ChannelID: 7, UserID: 5, Score: 150}
		}
		sess := f.svc.Open(10, 20)
		f.svc.ToMembers(sess)
		f.svc.SetStatusChannel(sess, 7)
		f.svc.SetStatusMember(sess, 5)
		return sess
	}

	cases := []struct {
		name                                      string
		channelKnown, hasCadence, present, ledger bool
		wantScreen                                Screen
	}{
		{"unknown_channel", false, false, false, false, ScreenMemberError},
		{"channel_not_tracked", true, false, false, false, ScreenMemberError},
		{"member_not_present", true, true, false, false, ScreenMemberError},
		{"member_never_joined", true, true, true, false, ScreenMemberError},
		{"status_shown", true, true, true, true, ScreenMemberStatus},
	}
	for _, tc := range cases {
		sess := setup(tc.channelKnown, tc.hasCadence, tc.present, tc.ledger)
		if err := f.svc.ShowMemberStatus(context.Background(), sess); err != nil {
			t.Fatalf("%s: show member status: %v", tc.name, err)
		}
		if sess.Screen != tc.wantScreen {
			t.Errorf("%s: screen = %s, want %s", tc.name, sess.Screen, tc.wantScreen)
		}
		if tc.wantScreen == ScreenMemberError && sess.StatusMessage == "" {
			t.Errorf("%s: missing status message", tc.name)
		}
		if tc.wantScreen == ScreenMemberStatus {
			if sess.StatusLedger == nil || sess.StatusLedger.Score != 150 {
				t.Errorf("%s: ledger = %+v, want score 150", tc.name, sess.StatusLedger)
			}
		}
	}
}

func TestJoinIsIdempotentAndLeaveRemoves(t *testing.T) {
	f := newSessionFixture(t)
	deadline := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	f.gateway.channels[7] = &chat.Channel{ID: 7, Title: "dev"}
	f.gateway.present[7] = []int64{5}
	f.cadences.rows[7] = *progress.NewCadence(7, 1, progress.TimeOfDay{}, deadline)

	sess := f.svc.Open(10, 20)
	f.svc.ToMembers(sess)
	f.svc.SetStatusChannel(sess, 7)
	f.svc.SetStatusMember(sess, 5)

	if err := f.svc.Join(context.Background(), sess); err != nil {
		t.Fatalf("join: %v", err)
	}
	l, ok := f.ledgers.rows[ledgerKey{7, 5}]
	if !ok {
		t.Fatal("join did not create a ledger")
	}
	if l.Score != 0 || l.Streak != 0 {
		t.Errorf("fresh ledger not zeroed: %+v", l)
	}
	if sess.Screen != ScreenMemberStatus {
		t.Errorf("screen = %s, want MEMBER_STATUS after join", sess.Screen)
	}

	// Joining again keeps the existing ledger.
	f.ledgers.rows[ledgerKey{7, 5}] = progress.MemberLedger{ChannelID: 7, UserID: 5, Score: 300, Streak: 3}
	if err := f.svc.Join(context.Background(), sess); err != nil {
		t.Fatalf("second join: %v", err)
	}
	if got := f.ledgers.rows[ledgerKey{7, 5}]; got.Score != 300 {
		t.Errorf("second join reset the ledger: %+v", got)
	}

	if err := f.svc.Leave(context.Background(), sess); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if _, ok := f.ledgers.rows[ledgerKey{7, 5}]; ok {
		t.Error("leave did not remove the ledger")
	}
	if sess.Screen != ScreenMembers {
		t.Errorf("screen = %s, want MEMBERS after leave", sess.Screen)
	}
}
