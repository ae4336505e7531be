package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sitechat/wa-relay-go/internal/correlation"
)

// Sweeper is satisfied by correlation.Lifecycle.
type Sweeper interface {
	SweepInactive(ctx context.Context) (correlation.SweepResult, error)
}

// NewInactivityJob closes idle conversations. The first sweep runs one
// interval after Start.
func NewInactivityJob(sweeper Sweeper, interval time.Duration) *Job {
	return newJob("inactivity-sweep", interval, false, func(ctx context.Context) {
		result, err := sweeper.SweepInactive(ctx)
		switch {
		case err != nil:
			log.Error().Err(err).Int("closed", result.Closed).Msg("inactivity sweep failed")
		case result.Skipped:
			log.Debug().Msg("inactivity sweep skipped, previous sweep still running")
		case result.Closed > 0:
			log.Info().Int("closed", result.Closed).Msg("closed inactive conversations")
		}
	})
}
