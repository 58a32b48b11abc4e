// Package reminder fires one daily digest per user at a chosen time of day.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hpungsan/classmate/internal/errors"
	"github.com/hpungsan/classmate/internal/timetable"
)

// DateLayout is the layout of Job.LastFired.
const DateLayout = "2006-01-02"

// DefaultInterval is the tick period.
const DefaultInterval = time.Minute

// Job is the standing daily trigger for one user.
type Job struct {
	UserID string    `json:"user_id"`
	Time   TimeOfDay `json:"time"`
	// LastFired is the local date of the last firing, empty if never fired.
	LastFired string `json:"last_fired,omitempty"`
}

// Source reads a user's periods for one day. ok is false when the user has
// no timetable at all.
type Source interface {
	Day(userID, day string) (periods []timetable.Period, ok bool)
}

// Submitter accepts a reminder for delivery without waiting on it.
type Submitter interface {
	Submit(ctx context.Context, userID, text string) error
}

// FiredFunc is told after a job is marked fired for date.
type FiredFunc func(userID, date string)

// Scheduler holds the job set and runs the tick loop.
type Scheduler struct {
	source   Source
	submit   Submitter
	loc      *time.Location
	now      func() time.Time
	interval time.Duration
	onFired  FiredFunc
	logger   *slog.Logger

	mu   sync.Mutex
	jobs map[string]*Job
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the fixed zone jobs are evaluated in. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithInterval sets the tick period used by Run.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithFiredHook registers fn to be called for every job marked fired.
func WithFiredHook(fn FiredFunc) Option {
	return func(s *Scheduler) { s.onFired = fn }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Scheduler that reads digests from source and hands them
// to submit.
func New(source Source, submit Submitter, opts ...Option) *Scheduler {
	s := &Scheduler{
		source:   source,
		submit:   submit,
		loc:      time.UTC,
		now:      time.Now,
		interval: DefaultInterval,
		logger:   slog.Default(),
		jobs:     make(map[string]*Job),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "reminder")
	return s
}

// Location returns the scheduler's zone.
func (s *Scheduler) Location() *time.Location { return s.loc }

// Now returns the current time in the scheduler's zone.
func (s *Scheduler) Now() time.Time { return s.now().In(s.loc) }

// Set creates or replaces the user's job. If the time of day has already
// passed today the job is marked fired for today, so the first reminder
// comes tomorrow.
func (s *Scheduler) Set(userID string, at TimeOfDay) Job {
	now := s.Now()
	today := now.Format(DateLayout)

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[userID]
	if !ok {
		job = &Job{UserID: userID}
		s.jobs[userID] = job
	}
	job.Time = at
	if minuteOfDay(now) >= at.minutes() && job.LastFired < today {
		job.LastFired = today
	}
	s.logger.Info("reminder set", "user_id", userID, "time", at.String(), "last_fired", job.LastFired)
	return *job
}

// Restore registers a job exactly as persisted, without seeding.
func (s *Scheduler) Restore(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := job
	s.jobs[job.UserID] = &j
}

// Remove deletes the user's job. A firing already in flight may finish but
// the job never fires again.
func (s *Scheduler) Remove(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[userID]
	delete(s.jobs, userID)
	return ok
}

// Get returns a copy of the user's job.
func (s *Scheduler) Get(userID string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[userID]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Jobs returns copies of all jobs ordered by user id.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Tick fires every due job once and returns how many were fired. A job is
// due when its time of day has arrived and it has not fired today. Due jobs
// are marked in one critical section before any of them fire.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.Now()
	today := now.Format(DateLayout)
	current := minuteOfDay(now)

	s.mu.Lock()
	var due []Job
	for _, job := range s.jobs {
		if current >= job.Time.minutes() && job.LastFired < today {
			job.LastFired = today
			due = append(due, *job)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].UserID < due[j].UserID })
	for _, job := range due {
		if s.onFired != nil {
			s.onFired(job.UserID, today)
		}
		s.fire(ctx, job, now)
	}
	return len(due)
}

func (s *Scheduler) fire(ctx context.Context, job Job, now time.Time) {
	logger := s.logger.With("user_id", job.UserID, "time", job.Time.String())
	defer func() {
		if r := recover(); r != nil {
			logger.Error("reminder panicked", "panic", fmt.Sprint(r))
		}
	}()

	digest, ok := s.tomorrowDigest(job.UserID, now)
	if !ok {
		logger.Debug("no timetable, skipping reminder")
		return
	}
	if err := s.submit.Submit(ctx, job.UserID, ReminderMessage(digest, now)); err != nil {
		logger.Error("submit reminder", "error", err, "error_kind", errors.Kind(err))
		return
	}
	logger.Info("reminder queued")
}

// TomorrowSchedule formats tomorrow's digest for userID. ok is false when
// the user has no timetable; an absent or empty day yields the free-day
// digest.
func (s *Scheduler) TomorrowSchedule(userID string) (string, bool) {
	return s.tomorrowDigest(userID, s.Now())
}

// TomorrowDay is the weekday after now in the scheduler's zone.
func (s *Scheduler) TomorrowDay() string {
	return TomorrowDay(s.Now())
}

func (s *Scheduler) tomorrowDigest(userID string, now time.Time) (string, bool) {
	day := TomorrowDay(now)
	periods, ok := s.source.Day(userID, day)
	if !ok {
		return "", false
	}
	return timetable.FormatDay(day, periods), true
}

// TomorrowDay returns the English weekday name of the calendar day after t
// in t's location.
func TomorrowDay(t time.Time) string {
	return t.AddDate(0, 0, 1).Weekday().String()
}

// ReminderMessage wraps a digest as the daily push message.
func ReminderMessage(digest string, sentAt time.Time) string {
	return "*Daily Reminder*\n\n" + digest + "\n\nSent at: " + sentAt.Format("03:04 PM MST")
}

// Run ticks once immediately and then every interval until ctx is done.
// Overlapping ticks are skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug))
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() { s.Tick(ctx) }); err != nil {
		return fmt.Errorf("schedule tick: %w", err)
	}

	s.logger.Info("scheduler started", "interval", s.interval.String(), "zone", s.loc.String(), "jobs", len(s.Jobs()))
	s.Tick(ctx)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
