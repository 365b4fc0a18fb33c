package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"pixbin/internal/queue"
)

const enqueueTimeout = 5 * time.Second

type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task) error
}

// Scheduler puts periodic maintenance on the task stream. The work
// itself runs in the worker.
type Scheduler struct {
	cron     *cron.Cron
	queue    Enqueuer
	schedule string
	log      zerolog.Logger
}

func NewScheduler(q Enqueuer, schedule string, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		queue:    q,
		schedule: schedule,
		log:      log,
	}
}

func (s *Scheduler) Start() error {
	if s.queue == nil || s.schedule == "" {
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, s.enqueueSweep); err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info().Str("schedule", s.schedule).Msg("maintenance scheduler started")
	return nil
}

// Stop halts the scheduler and waits up to timeout for a running job.
func (s *Scheduler) Stop(timeout time.Duration) {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(timeout):
		s.log.Warn().Msg("scheduler stop timed out")
	}
}

func (s *Scheduler) enqueueSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()

	if err := s.queue.Enqueue(ctx, queue.Task{Type: queue.TaskSweep}); err != nil {
		s.log.Error().Err(err).Msg("enqueue sweep failed")
	}
}
