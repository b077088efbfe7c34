package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const DefaultReportSpec = "0 21 * * *"

// Scheduler runs the daily report job in UTC.
type Scheduler struct {
	cron       *cron.Cron
	spec       string
	ctx        context.Context
	cancel     context.CancelFunc
	reportFunc func(ctx context.Context) error
}

func New(spec string) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		spec:   spec,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Scheduler) SetReportFunction(f func(ctx context.Context) error) {
	s.reportFunc = f
}

// Start is a no-op when no report function or schedule is set.
func (s *Scheduler) Start() error {
	if s.reportFunc == nil || s.spec == "" {
		log.Warn().Msg("report function or schedule not set, daily reports disabled")
		return nil
	}

	_, err := s.cron.AddFunc(s.spec, s.runReport)
	if err != nil {
		return fmt.Errorf("schedule daily report %q: %w", s.spec, err)
	}

	s.cron.Start()
	log.Info().Str("schedule", s.spec).Msg("scheduler started, daily reports enabled (UTC)")
	return nil
}

func (s *Scheduler) runReport() {
	log.Info().Msg("daily report triggered")
	if err := s.reportFunc(s.ctx); err != nil {
		log.Error().Err(err).Msg("daily report failed")
	}
}

// Stop waits for a running job to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	if s.cancel != nil {
		s.cancel()
	}
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	return s.cron != nil && len(s.cron.Entries()) > 0
}
