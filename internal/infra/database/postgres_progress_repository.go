package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"progress_report_bot/internal/domain/progress"

	"github.com/lib/pq"
)

var ErrCadenceNotFound = fmt.Errorf("cadence not found")
var ErrLedgerNotFound = fmt.Errorf("member ledger not found")
var ErrDuplicateLedger = fmt.Errorf("member ledger already exists")

// EnsureSchema creates the progress tables when missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS progress_cadences (
			channel_id BIGINT PRIMARY KEY,
			interval_days INTEGER NOT NULL,
			wake_hour SMALLINT NOT NULL,
			wake_minute SMALLINT NOT NULL,
			deadline TIMESTAMPTZ NOT NULL,
			prev_deadline TIMESTAMPTZ NOT NULL,
			prior_deadline TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS progress_members (
			channel_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			score INTEGER NOT NULL DEFAULT 0,
			total INTEGER NOT NULL DEFAULT 0,
			streak INTEGER NOT NULL DEFAULT 0,
			escape INTEGER NOT NULL DEFAULT 0,
			denied INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (channel_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS progress_reports (
			channel_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			card_ref BIGINT NOT NULL,
			submitted_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (channel_id, user_id, card_ref)
		)`,
		`CREATE TABLE IF NOT EXISTS progress_cards (
			card_ref BIGINT PRIMARY KEY,
			channel_id BIGINT NOT NULL,
			author_id BIGINT NOT NULL,
			body TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS progress_card_votes (
			card_ref BIGINT NOT NULL REFERENCES progress_cards (card_ref) ON DELETE CASCADE,
			voter_id BIGINT NOT NULL,
			kind TEXT NOT NULL,
			PRIMARY KEY (card_ref, voter_id, kind)
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

type PostgresCadenceRepository struct {
	db *sql.DB
}

func NewPostgresCadenceRepository(db *sql.DB) *PostgresCadenceRepository {
	return &PostgresCadenceRepository{db: db}
}

func (r *PostgresCadenceRepository) Create(ctx context.Context, c *progress.Cadence) error {
	query := `INSERT INTO progress_cadences
		(channel_id, interval_days, wake_hour, wake_minute, deadline, prev_deadline, prior_deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, query,
		c.ChannelID, c.IntervalDays, c.TimeOfDay.Hour, c.TimeOfDay.Minute,
		c.Deadline, c.PrevDeadline, c.PriorDeadline)
	if err != nil {
		return fmt.Errorf("error creating cadence: %w", err)
	}
	return nil
}

func (r *PostgresCadenceRepository) Get(ctx context.Context, channelID int64) (*progress.Cadence, error) {
	query := `SELECT channel_id, interval_days, wake_hour, wake_minute, deadline, prev_deadline, prior_deadline
		FROM progress_cadences WHERE channel_id = $1`
	c := &progress.Cadence{}
	err := r.db.QueryRowContext(ctx, query, channelID).Scan(
		&c.ChannelID, &c.IntervalDays, &c.TimeOfDay.Hour, &c.TimeOfDay.Minute,
		&c.Deadline, &c.PrevDeadline, &c.PriorDeadline)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrCadenceNotFound
		}
		return nil, fmt.Errorf("error getting cadence: %w", err)
	}
	return c, nil
}

func (r *PostgresCadenceRepository) List(ctx context.Context) ([]*progress.Cadence, error) {
	query := `SELECT channel_id, interval_days, wake_hour, wake_minute, deadline, prev_deadline, prior_deadline
		FROM progress_cadences ORDER BY channel_id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing cadences: %w", err)
	}
	defer rows.Close()

	cadences := make([]*progress.Cadence, 0)
	for rows.Next() {
		c := &progress.Cadence{}
		if err := rows.Scan(&c.ChannelID, &c.IntervalDays, &c.TimeOfDay.Hour, &c.TimeOfDay.Minute,
			&c.Deadline, &c.PrevDeadline, &c.PriorDeadline); err != nil {
			return nil, fmt.Errorf("error scanning cadence: %w", err)
		}
		cadences = append(cadences, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cadences: %w", err)
	}
	return cadences, nil
}

// UpdateSchedule overwrites the forward-looking schedule fields only.
// PrevDeadline and PriorDeadline keep the windows already produced
// under the old cadence.
func (r *PostgresCadenceRepository) UpdateSchedule(ctx context.Context, c *progress.Cadence) error {
	query := `UPDATE progress_cadences
		SET interval_days = $1, wake_hour = $2, wake_minute = $3, deadline = $4
		WHERE channel_id = $5`
	res, err := r.db.ExecContext(ctx, query,
		c.IntervalDays, c.TimeOfDay.Hour, c.TimeOfDay.Minute, c.Deadline, c.ChannelID)
	if err != nil {
		return fmt.Errorf("error updating cadence schedule: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrCadenceNotFound
	}
	return nil
}

func (r *PostgresCadenceRepository) Delete(ctx context.Context, channelID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM progress_cadences WHERE channel_id = $1`, channelID)
	if err != nil {
		return fmt.Errorf("error deleting cadence: %w", err)
	}
	return nil
}

func (r *PostgresCadenceRepository) ListWakeTimes(ctx context.Context) ([]progress.TimeOfDay, error) {
	query := `SELECT DISTINCT wake_hour, wake_minute FROM progress_cadences`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing wake times: %w", err)
	}
	defer rows.Close()

	times := make([]progress.TimeOfDay, 0)
	for rows.Next() {
		var t progress.TimeOfDay
		if err := rows.Scan(&t.Hour, &t.Minute); err != nil {
			return nil, fmt.Errorf("error scanning wake time: %w", err)
		}
		times = append(times, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wake times: %w", err)
	}
	return times, nil
}

type PostgresLedgerRepository struct {
	db *sql.DB
}

func NewPostgresLedgerRepository(db *sql.DB) *PostgresLedgerRepository {
	return &PostgresLedgerRepository{db: db}
}

func (r *PostgresLedgerRepository) Create(ctx context.Context, l *progress.MemberLedger) error {
	query := `INSERT INTO progress_members (channel_id, user_id, score, total, streak, escape, denied)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, query,
		l.ChannelID, l.UserID, l.Score, l.Total, l.Streak, l.Escape, l.Denied)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateLedger
		}
		return fmt.Errorf("error creating member ledger: %w", err)
	}
	return nil
}

func (r *PostgresLedgerRepository) Get(ctx context.Context, channelID, userID int64) (*progress.MemberLedger, error) {
	query := `SELECT channel_id, user_id, score, total, streak, escape, denied
		FROM progress_members WHERE channel_id = $1 AND user_id = $2`
	l := &progress.MemberLedger{}
	err := r.db.QueryRowContext(ctx, query, channelID, userID).Scan(
		&l.ChannelID, &l.UserID, &l.Score, &l.Total, &l.Streak, &l.Escape, &l.Denied)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrLedgerNotFound
		}
		return nil, fmt.Errorf("error getting member ledger: %w", err)
	}
	return l, nil
}

func (r *PostgresLedgerRepository) ListByChannel(ctx context.Context, channelID int64) ([]*progress.MemberLedger, error) {
	query := `SELECT channel_id, user_id, score, total, streak, escape, denied
		FROM progress_members WHERE channel_id = $1 ORDER BY user_id`
	rows, err := r.db.QueryContext(ctx, query, channelID)
	if err != nil {
		return nil, fmt.Errorf("error listing member ledgers: %w", err)
	}
	defer rows.Close()
	return scanLedgers(rows)
}

func (r *PostgresLedgerRepository) TopByScore(ctx context.Context, channelID int64, userIDs []int64, limit int) ([]*progress.MemberLedger, error) {
	query := `SELECT channel_id, user_id, score, total, streak, escape, denied
		FROM progress_members WHERE channel_id = $1 AND user_id = ANY($2)
		ORDER BY score DESC LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, channelID, pq.Array(userIDs), limit)
	if err != nil {
		return nil, fmt.Errorf("error listing top ledgers: %w", err)
	}
	defer rows.Close()
	return scanLedgers(rows)
}

func (r *PostgresLedgerRepository) Delete(ctx context.Context, channelID, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM progress_members WHERE channel_id = $1 AND user_id = $2`, channelID, userID)
	if err != nil {
		return fmt.Errorf("error deleting member ledger: %w", err)
	}
	return nil
}

func scanLedgers(rows *sql.Rows) ([]*progress.MemberLedger, error) {
	ledgers := make([]*progress.MemberLedger, 0)
	for rows.Next() {
		l := &progress.MemberLedger{}
		if err := rows.Scan(&l.ChannelID, &l.UserID, &l.Score, &l.Total, &l.Streak, &l.Escape, &l.Denied); err != nil {
			return nil, fmt.Errorf("error scanning member ledger: %w", err)
		}
		ledgers = append(ledgers, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating member ledgers: %w", err)
	}
	return ledgers, nil
}

type PostgresReportRepository struct {
	db *sql.DB
}

func NewPostgresReportRepository(db *sql.DB) *PostgresReportRepository {
	return &PostgresReportRepository{db: db}
}

func (r *PostgresReportRepository) Create(ctx context.Context, rec *progress.ReportRecord) error {
	query := `INSERT INTO progress_reports (channel_id, user_id, card_ref, submitted_at)
		VALUES ($1, $2, $3, $4)`
	_, err := r.db.ExecContext(ctx, query, rec.ChannelID, rec.UserID, rec.CardRef, rec.SubmittedAt)
	if err != nil {
		return fmt.Errorf("error creating report record: %w", err)
	}
	return nil
}

func (r *PostgresReportRepository) ListWindow(ctx context.Context, channelID int64, from, to time.Time) ([]*progress.ReportRecord, error) {
	query := `SELECT channel_id, user_id, card_ref, submitted_at FROM progress_reports
		WHERE channel_id = $1 AND $2 <= submitted_at AND submitted_at < $3
		ORDER BY submitted_at`
	rows, err := r.db.QueryContext(ctx, query, channelID, from, to)
	if err != nil {
		return nil, fmt.Errorf("error listing report records: %w", err)
	}
	defer rows.Close()

	records := make([]*progress.ReportRecord, 0)
	for rows.Next() {
		rec := &progress.ReportRecord{}
		if err := rows.Scan(&rec.ChannelID, &rec.UserID, &rec.CardRef, &rec.SubmittedAt); err != nil {
			return nil, fmt.Errorf("error scanning report record: %w", err)
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating report records: %w", err)
	}
	return records, nil
}

// PostgresCycleCommitter applies one tally step in a single
// transaction: ledger updates, the advanced deadline triple, and the
// prune of report records behind the new prior deadline.
type PostgresCycleCommitter struct {
	db *sql.DB
}

func NewPostgresCycleCommitter(db *sql.DB) *PostgresCycleCommitter {
	return &PostgresCycleCommitter{db: db}
}

func (c *PostgresCycleCommitter) CommitCycle(ctx context.Context, advanced *progress.Cadence, ledgers []*progress.MemberLedger, pruneBefore time.Time) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning cycle transaction: %w", err)
	}
	defer tx.Rollback()

	for _, l := range ledgers {
		_, err := tx.ExecContext(ctx,
			`UPDATE progress_members SET score = $1, total = $2, streak = $3, escape = $4, denied = $5
			WHERE channel_id = $6 AND user_id = $7`,
			l.Score, l.Total, l.Streak, l.Escape, l.Denied, l.ChannelID, l.UserID)
		if err != nil {
			return fmt.Errorf("error updating ledger for member %d: %w", l.UserID, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE progress_cadences SET deadline = $1, prev_deadline = $2, prior_deadline = $3
		WHERE channel_id = $4`,
		advanced.Deadline, advanced.PrevDeadline, advanced.PriorDeadline, advanced.ChannelID)
	if err != nil {
		return fmt.Errorf("error advancing deadline triple: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM progress_reports WHERE channel_id = $1 AND submitted_at < $2`,
		advanced.ChannelID, pruneBefore)
	if err != nil {
		return fmt.Errorf("error pruning report records: %w", err)
	}

	// Card state whose report record was just pruned has no reader left;
	// votes follow by cascade.
	_, err = tx.ExecContext(ctx,
		`DELETE FROM progress_cards WHERE channel_id = $1
		AND card_ref NOT IN (SELECT card_ref FROM progress_reports WHERE channel_id = $1)`,
		advanced.ChannelID)
	if err != nil {
		return fmt.Errorf("error pruning card state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing cycle transaction: %w", err)
	}
	return nil
}
