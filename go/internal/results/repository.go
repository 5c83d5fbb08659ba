package results

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mcdev12/battlequiz/go/internal/models"
	"github.com/mcdev12/battlequiz/go/internal/sqlutil"
)

// Repository persists terminal match results to Postgres. Inserts are
// transactional: the match row and both player rows land together or not
// at all.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a match result repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// InsertMatchResult archives a finished match and its per-player outcomes.
func (r *Repository) InsertMatchResult(ctx context.Context, result models.MatchResult) error {
	return sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		const insertMatch = `
			INSERT INTO battle_match_results (match_id, category_id, state, forfeit, finished_at)
			VALUES ($1, $2, $3, $4, $5)
		`
		if _, err := tx.ExecContext(ctx, insertMatch,
			result.MatchID, result.CategoryID, string(result.State), result.Forfeit, result.FinishedAt,
		); err != nil {
			return fmt.Errorf("failed to insert match result: %w", err)
		}

		const insertPlayer = `
			INSERT INTO battle_player_results (match_id, user_id, score, outcome, finished_at)
			VALUES ($1, $2, $3, $4, $5)
		`
		for _, p := range result.Players {
			if _, err := tx.ExecContext(ctx, insertPlayer,
				result.MatchID, p.UserID, p.Score, string(p.Outcome), sqlutil.ToSqlTime(p.FinishedAt),
			); err != nil {
				return fmt.Errorf("failed to insert player result: %w", err)
			}
		}
		return nil
	})
}
