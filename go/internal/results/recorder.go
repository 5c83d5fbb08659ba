package results

import (
	"context"
	"errors"

	"github.com/mcdev12/battlequiz/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Recorder is the coordinator's result sink: it persists the result and
// publishes it to the battle stream. The two legs are independent; one
// failing does not stop the other.
type Recorder struct {
	repo      *Repository
	publisher *JetStreamPublisher
}

// NewRecorder creates a result recorder.
func NewRecorder(repo *Repository, publisher *JetStreamPublisher) *Recorder {
	return &Recorder{repo: repo, publisher: publisher}
}

// ArchiveResult persists and publishes a terminal match result.
func (r *Recorder) ArchiveResult(ctx context.Context, result models.MatchResult) error {
	var errs []error

	if err := r.repo.InsertMatchResult(ctx, result); err != nil {
		log.Error().
			Err(err).
			Str("match_id", result.MatchID.String()).
			Msg("failed to persist match result")
		errs = append(errs, err)
	}

	if err := r.publisher.PublishResult(ctx, result); err != nil {
		log.Error().
			Err(err).
			Str("match_id", result.MatchID.String()).
			Msg("failed to publish match result")
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
