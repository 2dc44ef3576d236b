package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mileusna/crontab"
	"github.com/rs/zerolog"

	"omnichannel-backend/internal/models"
	"omnichannel-backend/internal/pullsync"
)

const DefaultJobTimeout = 10 * time.Minute

// Runner is the part of the orchestrator the scheduler drives.
type Runner interface {
	Configured(ch models.Channel) bool
	Run(ctx context.Context, ch models.Channel) pullsync.Summary
}

// Scheduler runs a pull-sync for every configured channel on a cron
// expression. Each job gets its own deadline.
type Scheduler struct {
	ctab       *crontab.Crontab
	runner     Runner
	spec       string
	jobTimeout time.Duration
	log        zerolog.Logger
}

func New(runner Runner, spec string, jobTimeout time.Duration, log zerolog.Logger) *Scheduler {
	if jobTimeout <= 0 {
		jobTimeout = DefaultJobTimeout
	}
	return &Scheduler{
		ctab:       crontab.New(),
		runner:     runner,
		spec:       strings.TrimSpace(spec),
		jobTimeout: jobTimeout,
		log:        log,
	}
}

// Schedule registers one job per configured channel and returns the
// channels it scheduled. An empty spec schedules nothing.
func (s *Scheduler) Schedule() ([]models.Channel, error) {
	if s.spec == "" {
		s.log.Info().Msg("pull-sync schedule disabled")
		return nil, nil
	}
	var scheduled []models.Channel
	for _, ch := range models.Channels {
		if !s.runner.Configured(ch) {
			continue
		}
		if err := s.ctab.AddJob(s.spec, s.RunOnce, ch); err != nil {
			return scheduled, fmt.Errorf("schedule %s sync %q: %w", ch, s.spec, err)
		}
		scheduled = append(scheduled, ch)
	}
	s.log.Info().Str("cron", s.spec).Interface("channels", scheduled).Msg("pull-sync scheduled")
	return scheduled, nil
}

// RunOnce is the job body for one channel.
func (s *Scheduler) RunOnce(ch models.Channel) {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	sum := s.runner.Run(ctx, ch)
	if !sum.Success {
		s.log.Warn().
			Str("channel", string(ch)).
			Str("error", sum.Error).
			Int("errors", len(sum.Errors)).
			Msg("scheduled pull-sync incomplete")
	}
}

// Run blocks until ctx is done and then stops the cron loop.
func (s *Scheduler) Run(ctx context.Context) {
	<-ctx.Done()
	s.ctab.Shutdown()
}
