package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Job is a unit of scheduled work.
type Job func(ctx context.Context) error

// Scheduler runs maintenance jobs on cron schedules. A job that is still
// running when its next tick fires is skipped, and a panicking job is
// recovered and logged.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	// Timeout bounds a single job run; zero means no bound.
	Timeout time.Duration
}

// NewScheduler returns a stopped scheduler evaluating schedules in loc.
func NewScheduler(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	cl := cronLogger{l: log.With().Str("component", "scheduler").Logger()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers job under a standard five-field cron spec or a descriptor
// such as "@every 5m".
func (s *Scheduler) Add(name, spec string, job Job) (cron.EntryID, error) {
	id, err := s.cron.AddJob(spec, s.wrap(name, job))
	if err != nil {
		return 0, fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	return id, nil
}

// AddReclamation schedules the daily reclamation run.
func (s *Scheduler) AddReclamation(spec string, r *ReclamationService) (cron.EntryID, error) {
	return s.Add("reclamation", spec, func(ctx context.Context) error {
		_, err := r.RunDailyReclamation(ctx)
		return err
	})
}

// AddSessionSweep schedules expired-session cleanup every interval.
func (s *Scheduler) AddSessionSweep(interval time.Duration, sessions *SessionService) (cron.EntryID, error) {
	return s.Add("session_sweep", "@every "+interval.String(), func(ctx context.Context) error {
		n, err := sessions.Sweep(ctx)
		if err == nil && n > 0 {
			log.Debug().Int64("deleted", n).Msg("expired sessions swept")
		}
		return err
	})
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }

// Start begins running jobs in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops scheduling, cancels running jobs' context, and waits for them
// to return or for ctx to be done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) wrap(name string, job Job) cron.Job {
	return cron.FuncJob(func() {
		ctx := s.ctx
		if s.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.Timeout)
			defer cancel()
		}
		start := time.Now()
		if err := job(ctx); err != nil {
			log.Error().Err(err).Str("job", name).Dur("took", time.Since(start)).Msg("scheduled job failed")
			return
		}
		log.Debug().Str("job", name).Dur("took", time.Since(start)).Msg("scheduled job done")
	})
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
