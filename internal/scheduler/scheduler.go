// Package scheduler runs the periodic maintenance jobs of the booking
// service on a cron schedule:
//
//   - reconcile: recount booked_count for today's slots.
//   - materialize: create daily slots for today and the next N days.
//   - purge: drop expired idempotency records.
//
// Both jobs are idempotent, so an overlapping or repeated run is harmless;
// overlapping runs of the same job are skipped regardless.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/clinic-booking/internal/services"
)

// Reconciler is the subset of services.ReconcileService the scheduler uses.
type Reconciler interface {
	Run(ctx context.Context, date string) (services.ReconcileReport, error)
}

// Materializer is the subset of services.SlotService the scheduler uses.
type Materializer interface {
	MaterializeAhead(ctx context.Context, days int) (int64, error)
}

// PurgeFunc deletes records that expired before now and reports how many.
type PurgeFunc func(ctx context.Context, now time.Time) (int64, error)

// Options configures New. An empty spec disables the corresponding job.
type Options struct {
	ReconcileSpec   string
	MaterializeSpec string
	PurgeSpec       string
	Purge           PurgeFunc
	AheadDays       int
	Location        *time.Location
	Today           func() string
	// JobTimeout bounds a single run; zero means one minute.
	JobTimeout time.Duration
}

// Scheduler owns the cron runner and its jobs.
type Scheduler struct {
	cron    *cron.Cron
	rec     Reconciler
	mat     Materializer
	opts    Options
	entries int
}

// New registers the enabled jobs. It fails on an unparsable spec.
func New(rec Reconciler, mat Materializer, opts Options) (*Scheduler, error) {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = time.Minute
	}
	if opts.Today == nil {
		loc := opts.Location
		opts.Today = func() string { return time.Now().In(loc).Format("2006-01-02") }
	}

	cl := cronLogger{l: log.With().Str("component", "scheduler").Logger()}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(opts.Location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		rec:  rec,
		mat:  mat,
		opts: opts,
	}

	if opts.ReconcileSpec != "" && rec != nil {
		if _, err := s.cron.AddFunc(opts.ReconcileSpec, s.reconcile); err != nil {
			return nil, fmt.Errorf("reconcile schedule %q: %w", opts.ReconcileSpec, err)
		}
		s.entries++
	}
	if opts.MaterializeSpec != "" && mat != nil {
		if _, err := s.cron.AddFunc(opts.MaterializeSpec, s.materialize); err != nil {
			return nil, fmt.Errorf("materialize schedule %q: %w", opts.MaterializeSpec, err)
		}
		s.entries++
	}
	if opts.PurgeSpec != "" && opts.Purge != nil {
		if _, err := s.cron.AddFunc(opts.PurgeSpec, s.purge); err != nil {
			return nil, fmt.Errorf("purge schedule %q: %w", opts.PurgeSpec, err)
		}
		s.entries++
	}
	return s, nil
}

// Jobs reports how many jobs are scheduled.
func (s *Scheduler) Jobs() int { return s.entries }

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info().Int("jobs", s.entries).Msg("scheduler started")
}

// Stop stops scheduling and waits for running jobs, or until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) reconcile() {
	ctx, cancel := s.jobContext("reconcile")
	defer cancel()
	if _, err := s.rec.Run(ctx, s.opts.Today()); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("scheduled reconcile failed")
	}
}

func (s *Scheduler) materialize() {
	ctx, cancel := s.jobContext("materialize")
	defer cancel()
	n, err := s.mat.MaterializeAhead(ctx, s.opts.AheadDays)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("scheduled materialize failed")
		return
	}
	zerolog.Ctx(ctx).Info().Int64("created", n).Int("days", s.opts.AheadDays).Msg("slots materialized")
}

func (s *Scheduler) purge() {
	ctx, cancel := s.jobContext("purge")
	defer cancel()
	n, err := s.opts.Purge(ctx, time.Now())
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("idempotency purge failed")
		return
	}
	if n > 0 {
		zerolog.Ctx(ctx).Info().Int64("deleted", n).Msg("expired idempotency keys purged")
	}
}

func (s *Scheduler) jobContext(job string) (context.Context, context.CancelFunc) {
	l := log.With().Str("component", "scheduler").Str("job", job).Logger()
	ctx := l.WithContext(context.Background())
	return context.WithTimeout(ctx, s.opts.JobTimeout)
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ l zerolog.Logger }

func (c cronLogger) Info(msg string, kv ...any) {
	c.l.Debug().Fields(kv).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error().Err(err).Fields(kv).Msg(msg)
}
