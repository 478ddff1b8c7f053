package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"progress_report_bot/internal/domain/progress"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Tally is the job fired at each wake time.
type Tally interface {
	RunDue(ctx context.Context, now time.Time) error
}

// Registry owns the merged wake timetable and the cron engine backing
// it. Its mutex is the single coordination point of the system: a
// firing tally cycle and a configuration commit (which mutates cadence
// rows and rearms the timer) can never interleave.
type Registry struct {
	mu           sync.Mutex
	cronEngine   *cron.Cron
	entryIDs     []cron.EntryID
	defaultTimes []progress.TimeOfDay
	current      []progress.TimeOfDay
	cadenceRepo  progress.CadenceRepository
	tally        Tally
	logger       *logrus.Entry
	runTimeout   time.Duration
}

func NewRegistry(
	defaultTimes []progress.TimeOfDay,
	cadenceRepo progress.CadenceRepository,
	tally Tally,
	logger *logrus.Entry,
) *Registry {
	return &Registry{
		cronEngine:   cron.New(cron.WithLocation(time.UTC)),
		defaultTimes: defaultTimes,
		cadenceRepo:  cadenceRepo,
		tally:        tally,
		logger:       logger,
		runTimeout:   5 * time.Minute,
	}
}

// Start computes the initial timetable and starts the cron engine.
func (r *Registry) Start(ctx context.Context) error {
	if err := r.Recompute(ctx); err != nil {
		return fmt.Errorf("initial timetable computation: %w", err)
	}
	r.cronEngine.Start()
	r.logger.Info("Wake timetable scheduler started")
	return nil
}

// Stop halts the engine and waits for a running tally cycle to finish.
func (r *Registry) Stop() {
	stopCtx := r.cronEngine.Stop()
	<-stopCtx.Done()
	r.logger.Info("Wake timetable scheduler stopped")
}

// Recompute rebuilds the timetable from defaults plus every channel's
// custom time-of-day and swaps the cron entries in one critical
// section, so the old wake can neither double-fire nor mask the new
// earliest one.
func (r *Registry) Recompute(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recomputeLocked(ctx)
}

// CommitAndRearm runs a schedule-mutating commit and the timetable
// recomputation under the registry mutex. The commit is skipped for
// recomputation if it fails.
func (r *Registry) CommitAndRearm(ctx context.Context, commit func(context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := commit(ctx); err != nil {
		return err
	}
	return r.recomputeLocked(ctx)
}

func (r *Registry) recomputeLocked(ctx context.Context) error {
	custom, err := r.cadenceRepo.ListWakeTimes(ctx)
	if err != nil {
		return fmt.Errorf("list custom wake times: %w", err)
	}
	merged := MergeTimes(r.defaultTimes, custom)

	for _, id := range r.entryIDs {
		r.cronEngine.Remove(id)
	}
	r.entryIDs = r.entryIDs[:0]
	for _, t := range merged {
		spec := fmt.Sprintf("%d %d * * *", t.Minute, t.Hour)
		id, err := r.cronEngine.AddFunc(spec, r.fire)
		if err != nil {
			return fmt.Errorf("add cron entry %q: %w", spec, err)
		}
		r.entryIDs = append(r.entryIDs, id)
	}
	r.current = merged
	r.logger.WithField("wake_times", len(merged)).Info("Wake timetable recomputed")
	return nil
}

// Times returns the current timetable, for diagnostics.
func (r *Registry) Times() []progress.TimeOfDay {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.TimeOfDay, len(r.current))
	copy(out, r.current)
	return out
}

func (r *Registry) fire() {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), r.runTimeout)
	defer cancel()
	if err := r.tally.RunDue(ctx, time.Now().UTC()); err != nil {
		r.logger.WithError(err).Error("Tally cycle failed")
	}
}
