package application

import (
	"context"
	"sync"
	"time"

	"github.com/davarch/aerotiles/internal/domain"
	"github.com/davarch/aerotiles/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

type SchedulerState string

const (
	StateIdle     SchedulerState = "IDLE"
	StateChecking SchedulerState = "CHECKING"
	StateRunning  SchedulerState = "RUNNING"
	StateStopped  SchedulerState = "STOPPED"
)

var allStates = []string{string(StateIdle), string(StateChecking), string(StateRunning), string(StateStopped)}

// PassRunner is the part of Runner the scheduler drives.
type PassRunner interface {
	RunPass(ctx context.Context, date time.Time) []*domain.PipelineRun
	MissingPublished() []domain.ChartType
}

type SchedulerOptions struct {
	Every time.Duration
	// Hour is the local hour a due date is acted on; negative acts on every check.
	Hour int
	Now  func() time.Time
}

type Scheduler struct {
	log    *zap.Logger
	runner PassRunner
	every  time.Duration
	hour   int
	now    func() time.Time

	mu    sync.RWMutex
	cal   domain.Calendar
	state SchedulerState
}

func NewScheduler(l *zap.Logger, r PassRunner, cal domain.Calendar, opt SchedulerOptions) *Scheduler {
	if opt.Every <= 0 {
		opt.Every = time.Hour
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &Scheduler{
		log: l, runner: r, cal: cal,
		every: opt.Every, hour: opt.Hour, now: opt.Now,
		state: StateIdle,
	}
}

func (s *Scheduler) UpdateCalendar(cal domain.Calendar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cal = cal
	s.log.Info("calendar reloaded", zap.Int("dates", cal.Len()))
}

func (s *Scheduler) State() SchedulerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Scheduler) setState(st SchedulerState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	metrics.SetSchedulerState(string(st), allStates)
}

func (s *Scheduler) calendar() domain.Calendar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cal
}

// Bootstrap runs one pass for the latest edition on or before today when any
// enabled chart has never been published. It reports whether a pass ran.
func (s *Scheduler) Bootstrap(ctx context.Context) bool {
	missing := s.runner.MissingPublished()
	if len(missing) == 0 {
		s.log.Info("published tiles present, bootstrap not needed")
		return false
	}

	today := domain.Day(s.now())
	date, ok := s.calendar().LatestOnOrBefore(today)
	if !ok {
		s.log.Error("no edition on or before today, bootstrap skipped",
			zap.String("today", domain.FormatDate(today)),
		)
		return false
	}

	names := make([]string, 0, len(missing))
	for _, c := range missing {
		names = append(names, string(c))
	}
	s.log.Info("bootstrapping missing charts",
		zap.Strings("charts", names),
		zap.String("edition", domain.FormatDate(date)),
	)

	s.setState(StateRunning)
	s.runner.RunPass(ctx, date)
	s.setState(StateIdle)
	return true
}

// Run checks the calendar now and then every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	defer s.setState(StateStopped)
	s.setState(StateIdle)

	t := time.NewTicker(s.every)
	defer t.Stop()

	s.check(ctx, true)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-t.C:
			s.check(ctx, false)
		}
	}
}

// check runs a pass when today is due. The first check after start ignores
// the check hour.
func (s *Scheduler) check(ctx context.Context, first bool) {
	now := s.now()
	if !first && s.hour >= 0 && now.Hour() != s.hour {
		s.log.Debug("outside check hour", zap.Int("hour", now.Hour()))
		return
	}

	s.setState(StateChecking)
	defer s.setState(StateIdle)

	today := domain.Day(now)
	cal := s.calendar()
	if !cal.IsDue(today) {
		if next, ok := cal.NextDue(today); ok {
			s.log.Info("no update today", zap.String("next", domain.FormatDate(next)))
		} else {
			s.log.Warn("no future update dates in calendar")
		}
		return
	}

	s.log.Info("update due", zap.String("date", domain.FormatDate(today)))
	s.setState(StateRunning)
	s.runner.RunPass(ctx, today)
}
