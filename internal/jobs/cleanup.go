package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const cleanupTimeout = 30 * time.Second

// SessionPurger is satisfied by repository.AdminSessionRepository.
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// NewCleanupJob purges expired console sessions at start and then every
// interval.
func NewCleanupJob(sessions SessionPurger, interval time.Duration) *Job {
	return newJob("session-cleanup", interval, true, func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, cleanupTimeout)
		defer cancel()

		count, err := sessions.DeleteExpired(ctx)
		if err != nil {
			log.Error().Err(err).Msg("failed to purge expired admin sessions")
			return
		}
		if count > 0 {
			log.Info().Int64("count", count).Msg("purged expired admin sessions")
		}
	})
}
