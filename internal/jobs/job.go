// Package jobs runs the relay's periodic maintenance.
package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Job calls task every interval until Stop. Stop cancels the context handed
// to a task in flight and waits for it to return.
type Job struct {
	name      string
	interval  time.Duration
	immediate bool
	task      func(ctx context.Context)

	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

func newJob(name string, interval time.Duration, immediate bool, task func(ctx context.Context)) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	return &Job{
		name:      name,
		interval:  interval,
		immediate: immediate,
		task:      task,
		ctx:       ctx,
		cancel:    cancel,
		stopped:   make(chan struct{}),
	}
}

func (j *Job) Start() {
	go j.run()
	log.Info().Str("job", j.name).Dur("interval", j.interval).Msg("job started")
}

func (j *Job) Stop() {
	j.cancel()
	<-j.stopped
	log.Info().Str("job", j.name).Msg("job stopped")
}

func (j *Job) run() {
	defer close(j.stopped)

	if j.immediate {
		j.task(j.ctx)
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			j.task(j.ctx)
		}
	}
}
