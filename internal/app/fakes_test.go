package app

import (
	"context"
	"sort"
	"strconv"
	"time"

	"progress_report_bot/internal/domain/chat"
	"progress_report_bot/internal/domain/progress"
	idb "progress_report_bot/internal/infra/database"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

type fakeCadenceRepo struct {
	rows map[int64]progress.Cadence
}

func newFakeCadenceRepo() *fakeCadenceRepo {
	return &fakeCadenceRepo{rows: make(map[int64]progress.Cadence)}
}

func (r *fakeCadenceRepo) Create(_ context.Context, c *progress.Cadence) error {
	r.rows[c.ChannelID] = *c
	return nil
}

func (r *fakeCadenceRepo) Get(_ context.Context, channelID int64) (*progress.Cadence, error) {
	c, ok := r.rows[channelID]
	if !ok {
		return nil, idb.ErrCadenceNotFound
	}
	return &c, nil
}

func (r *fakeCadenceRepo) List(_ context.Context) ([]*progress.Cadence, error) {
	ids := make([]int64, 0, len(r.rows))
	for id := range r.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*progress.Cadence, 0, len(ids))
	for _, id := range ids {
		c := r.rows[id]
		out = append(out, &c)
	}
	return out, nil
}

func (r *fakeCadenceRepo) UpdateSchedule(_ context.Context, c *progress.Cadence) error {
	row, ok := r.rows[c.ChannelID]
	if !ok {
		return idb.ErrCadenceNotFound
	}
	row.IntervalDays = c.IntervalDays
	row.TimeOfDay = c.TimeOfDay
	row.Deadline = c.Deadline
	r.rows[c.ChannelID] = row
	return nil
}

func (r *fakeCadenceRepo) Delete(_ context.Context, channelID int64) error {
	delete(r.rows, channelID)
	return nil
}

func (r *fakeCadenceRepo) ListWakeTimes(_ context.Context) ([]progress.TimeOfDay, error) {
	seen := map[progress.TimeOfDay]bool{}
	var out []progress.TimeOfDay
	for _, c := range r.rows {
		if !seen[c.TimeOfDay] {
			seen[c.TimeOfDay] = true
			out = append(out, c.TimeOfDay)
		}
	}
	return out, nil
}

type ledgerKey struct {
	channelID, userID int64
}

type fakeLedgerRepo struct {
	rows map[ledgerKey]progress.MemberLedger
}

func newFakeLedgerRepo() *fakeLedgerRepo {
	return &fakeLedgerRepo{rows: make(map[ledgerKey]progress.MemberLedger)}
}

func (r *fakeLedgerRepo) Create(_ context.Context, l *progress.MemberLedger) error {
	key := ledgerKey{l.ChannelID, l.UserID}
	if _, ok := r.rows[key]; ok {
		return idb.ErrDuplicateLedger
	}
	r.rows[key] = *l
	return nil
}

func (r *fakeLedgerRepo) Get(_ context.Context, channelID, userID int64) (*progress.MemberLedger, error) {
	l, ok := r.rows[ledgerKey{channelID, userID}]
	if !ok {
		return nil, idb.ErrLedgerNotFound
	}
	return &l, nil
}

func (r *fakeLedgerRepo) ListByChannel(_ context.Context, channelID int64) ([]*progress.MemberLedger, error) {
	var keys []ledgerKey
	for k := range r.rows {
		if k.channelID == channelID {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].userID < keys[j].userID })
	out := make([]*progress.MemberLedger, 0, len(keys))
	for _, k := range keys {
		l := r.rows[k]
		out = append(out, &l)
	}
	return out, nil
}

func (r *fakeLedgerRepo) TopByScore(ctx context.Context, channelID int64, userIDs []int64, limit int) ([]*progress.MemberLedger, error) {
	wanted := map[int64]bool{}
	for _, id := range userIDs {
		wanted[id] = true
	}
	all, _ := r.ListByChannel(ctx, channelID)
	var filtered []*progress.MemberLedger
	for _, l := range all {
		if wanted[l.UserID] {
			filtered = append(filtered, l)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Score > filtered[j].Score })
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

func (r *fakeLedgerRepo) Delete(_ context.Context, channelID, userID int64) error {
	delete(r.rows, ledgerKey{channelID, userID})
	return nil
}

type fakeReportRepo struct {
	records []progress.ReportRecord
}

func (r *fakeReportRepo) Create(_ context.Context, rec *progress.ReportRecord) error {
	r.records = append(r.records, *rec)
	return nil
}

func (r *fakeReportRepo) ListWindow(_ context.Context, channelID int64, from, to time.Time) ([]*progress.ReportRecord, error) {
	var out []*progress.ReportRecord
	for i := range r.records {
		rec := r.records[i]
		if rec.ChannelID != channelID {
			continue
		}
		if rec.SubmittedAt.Before(from) || !rec.SubmittedAt.Before(to) {
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}

// fakeCycleCommitter applies commits into the fake repos, mimicking the
// transactional write, and records that it ran.
type fakeCycleCommitter struct {
	cadences *fakeCadenceRepo
	ledgers  *fakeLedgerRepo
	reports  *fakeReportRepo
	commits  int
}

func (c *fakeCycleCommitter) CommitCycle(ctx context.Context, advanced *progress.Cadence, ledgers []*progress.MemberLedger, pruneBefore time.Time) error {
	c.commits++
	c.cadences.rows[advanced.ChannelID] = *advanced
	for _, l := range ledgers {
		c.ledgers.rows[ledgerKey{l.ChannelID, l.UserID}] = *l
	}
	kept := c.reports.records[:0]
	for _, rec := range c.reports.records {
		if rec.ChannelID == advanced.ChannelID && rec.SubmittedAt.Before(pruneBefore) {
			continue
		}
		kept = append(kept, rec)
	}
	c.reports.records = kept
	return nil
}

type fakeCard struct {
	authorID  int64
	pending   int
	ambiguous bool
	deleted   bool
	marked    string
}

type fakeGateway struct {
	channels  map[int64]*chat.Channel
	present   map[int64][]int64
	cards     map[int64]*fakeCard
	summaries map[int64][]chat.Summary
	published int64 // next card ref
	removed   []int64
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		channels:  make(map[int64]*chat.Channel),
		present:   make(map[int64][]int64),
		cards:     make(map[int64]*fakeCard),
		summaries: make(map[int64][]chat.Summary),
		published: 1000,
	}
}

func (g *fakeGateway) ResolveChannel(_ context.Context, channelID int64) (*chat.Channel, error) {
	ch, ok := g.channels[channelID]
	if !ok {
		return nil, chat.ErrChannelNotFound
	}
	return ch, nil
}

func (g *fakeGateway) PresentMembers(_ context.Context, channel *chat.Channel, candidates []int64) ([]int64, error) {
	inChannel := map[int64]bool{}
	for _, id := range g.present[channel.ID] {
		inChannel[id] = true
	}
	var out []int64
	for _, id := range candidates {
		if inChannel[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (g *fakeGateway) MemberName(_ context.Context, _ *chat.Channel, userID int64) string {
	return "user" + strconv.FormatInt(userID, 10)
}

func (g *fakeGateway) PublishCard(_ context.Context, channel *chat.Channel, authorID int64, _ string, _ time.Time) (*chat.Card, error) {
	g.published++
	g.cards[g.published] = &fakeCard{authorID: authorID}
	return &chat.Card{ChannelID: channel.ID, Ref: g.published, AuthorID: authorID}, nil
}

func (g *fakeGateway) FetchCard(_ context.Context, channel *chat.Channel, ref int64) (*chat.Card, error) {
	c, ok := g.cards[ref]
	if !ok || c.deleted {
		return nil, chat.ErrCardNotFound
	}
	return &chat.Card{ChannelID: channel.ID, Ref: ref, AuthorID: c.authorID}, nil
}

func (g *fakeGateway) PendingCount(_ context.Context, card *chat.Card) (int, error) {
	c, ok := g.cards[card.Ref]
	if !ok {
		return 0, chat.ErrCardNotFound
	}
	if c.ambiguous {
		return 0, chat.ErrAmbiguousReactions
	}
	return c.pending, nil
}

func (g *fakeGateway) MarkCardApproved(_ context.Context, card *chat.Card) error {
	g.cards[card.Ref].marked = "approved"
	return nil
}

func (g *fakeGateway) MarkCardDenied(_ context.Context, card *chat.Card) error {
	g.cards[card.Ref].marked = "denied"
	return nil
}

func (g *fakeGateway) SendSummaries(_ context.Context, channel *chat.Channel, items []chat.Summary) error {
	g.summaries[channel.ID] = append(g.summaries[channel.ID], items...)
	return nil
}

func (g *fakeGateway) RemoveMember(_ context.Context, _ *chat.Channel, userID int64) error {
	g.removed = append(g.removed, userID)
	return nil
}
