package database

import (
	"context"
	"database/sql"
	"fmt"

	"progress_report_bot/internal/domain/chat"
	"progress_report_bot/internal/domain/progress"
)

// PostgresCardStore persists report-card state and reaction votes, so a
// restart keeps every pending verification window intact. Rows are
// removed during the cycle commit once their report records are pruned.
type PostgresCardStore struct {
	db *sql.DB
}

func NewPostgresCardStore(db *sql.DB) *PostgresCardStore {
	return &PostgresCardStore{db: db}
}

func (s *PostgresCardStore) Save(ctx context.Context, state *chat.CardState) error {
	query := `INSERT INTO progress_cards (card_ref, channel_id, author_id, body)
		VALUES ($1, $2, $3, $4)`
	_, err := s.db.ExecContext(ctx, query, state.Ref, state.ChannelID, state.AuthorID, state.Body)
	if err != nil {
		return fmt.Errorf("error creating card state: %w", err)
	}
	return nil
}

func (s *PostgresCardStore) Get(ctx context.Context, ref int64) (*chat.CardState, error) {
	query := `SELECT card_ref, channel_id, author_id, body FROM progress_cards WHERE card_ref = $1`
	state := &chat.CardState{}
	err := s.db.QueryRowContext(ctx, query, ref).Scan(
		&state.Ref, &state.ChannelID, &state.AuthorID, &state.Body)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, chat.ErrCardNotFound
		}
		return nil, fmt.Errorf("error getting card state: %w", err)
	}
	return state, nil
}

func (s *PostgresCardStore) SetBody(ctx context.Context, ref int64, body string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE progress_cards SET body = $1 WHERE card_ref = $2`, body, ref)
	if err != nil {
		return fmt.Errorf("error updating card body: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return chat.ErrCardNotFound
	}
	return nil
}

// ToggleVote removes the voter's existing vote for the kind, or records
// it when absent.
func (s *PostgresCardStore) ToggleVote(ctx context.Context, ref, voterID int64, kind progress.ReactionKind) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM progress_card_votes WHERE card_ref = $1 AND voter_id = $2 AND kind = $3`,
		ref, voterID, string(kind))
	if err != nil {
		return fmt.Errorf("error clearing card vote: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO progress_card_votes (card_ref, voter_id, kind) VALUES ($1, $2, $3)`,
		ref, voterID, string(kind))
	if err != nil {
		return fmt.Errorf("error recording card vote: %w", err)
	}
	return nil
}

func (s *PostgresCardStore) VoteCounts(ctx context.Context, ref int64) (map[progress.ReactionKind]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM progress_card_votes WHERE card_ref = $1 GROUP BY kind`, ref)
	if err != nil {
		return nil, fmt.Errorf("error counting card votes: %w", err)
	}
	defer rows.Close()

	counts := make(map[progress.ReactionKind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("error scanning card vote count: %w", err)
		}
		counts[progress.ReactionKind(kind)] = n
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating card vote counts: %w", err)
	}
	return counts, nil
}
