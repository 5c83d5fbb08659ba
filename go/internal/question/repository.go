package question

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/battlequiz/go/internal/models"
)

// Repository fetches question sets from the durable store. Both players of
// a match see the same set in the same order.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a question repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// QuestionSet returns count random questions for a category. An empty
// categoryID draws from all categories.
func (r *Repository) QuestionSet(ctx context.Context, categoryID string, count int) ([]models.Question, error) {
	const query = `
		SELECT id, category_id, prompt, choices, correct_choice
		FROM battle_questions
		WHERE $1 = '' OR category_id = $1
		ORDER BY random()
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, categoryID, count)
	if err != nil {
		return nil, fmt.Errorf("failed to query questions: %w", err)
	}
	defer rows.Close()

	var questions []models.Question
	for rows.Next() {
		var q models.Question
		if err := rows.Scan(&q.ID, &q.CategoryID, &q.Prompt, &q.Choices, &q.CorrectChoice); err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read questions: %w", err)
	}

	if len(questions) < count {
		return nil, fmt.Errorf("category %q has %d questions, need %d", categoryID, len(questions), count)
	}
	return questions, nil
}
