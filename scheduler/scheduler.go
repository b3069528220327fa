// Package scheduler runs registered tasks on intervals or at fixed times of
// day, with a night window that holds back non-exempt tasks and monitor
// triggers that can pull the main task forward.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/volition/monitor"
)

// PreemptThreshold is the urgency at or above which a trigger forces the
// main task to run on the next tick.
const PreemptThreshold = 0.6

// TaskFunc is a schedulable callback. Errors are logged and contained; they
// never stop the scheduler loop.
type TaskFunc func(ctx context.Context) error

// TriggerSource supplies the triggers consulted on every tick. Usually the
// internal monitor.
type TriggerSource interface {
	CheckState(ctx context.Context) []monitor.Trigger
}

type task struct {
	name       string
	fn         TaskFunc
	interval   time.Duration
	timesOfDay []timeOfDay
	nightOK    bool

	enabled bool
	lastRun time.Time
	nextRun time.Time
}

// timeOfDay is a wall-clock HH:MM moment.
type timeOfDay struct {
	hour   int
	minute int
}

// TaskOption configures a registered task.
type TaskOption func(*task)

// WithInterval schedules the task every d. The first run happens on the
// first tick after registration.
func WithInterval(d time.Duration) TaskOption {
	return func(t *task) { t.interval = d }
}

// WithTimesOfDay schedules the task at the given "HH:MM" wall-clock times.
// Malformed entries are dropped with a warning.
func WithTimesOfDay(times ...string) TaskOption {
	return func(t *task) {
		for _, raw := range times {
			tod, err := parseTimeOfDay(raw)
			if err != nil {
				slog.Warn("dropping malformed schedule time", "task", t.name, "time", raw, "error", err)
				continue
			}
			t.timesOfDay = append(t.timesOfDay, tod)
		}
	}
}

// RunsAtNight exempts the task from the night window.
func RunsAtNight() TaskOption {
	return func(t *task) { t.nightOK = true }
}

// WithDisabled registers the task disabled; it runs only after Enable.
func WithDisabled() TaskOption {
	return func(t *task) { t.enabled = false }
}

// Config holds the scheduler settings.
type Config struct {
	// CheckInterval is how often the loop wakes up to evaluate tasks.
	CheckInterval time.Duration

	// NightMode holds back non-exempt tasks between NightStart and NightEnd.
	// The window may wrap past midnight.
	NightMode  bool
	NightStart string // "HH:MM", default 22:00
	NightEnd   string // "HH:MM", default 08:00

	// MainTask is the task name triggers pull forward.
	MainTask string
}

// Scheduler owns the task table and the run loop. All exported methods are
// safe for concurrent use.
type Scheduler struct {
	cfg      Config
	triggers TriggerSource
	nowFunc  func() time.Time

	nightStart timeOfDay
	nightEnd   timeOfDay

	mu    sync.Mutex
	tasks map[string]*task
	order []string

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a scheduler. triggers may be nil, which disables preemption.
func New(cfg Config, triggers TriggerSource) *Scheduler {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}
	s := &Scheduler{
		cfg:        cfg,
		triggers:   triggers,
		nowFunc:    time.Now,
		nightStart: timeOfDay{22, 0},
		nightEnd:   timeOfDay{8, 0},
		tasks:      map[string]*task{},
	}
	if tod, err := parseTimeOfDay(cfg.NightStart); err == nil {
		s.nightStart = tod
	}
	if tod, err := parseTimeOfDay(cfg.NightEnd); err == nil {
		s.nightEnd = tod
	}
	return s
}

// AddTask registers a named task. A task needs either an interval or at
// least one time of day.
func (s *Scheduler) AddTask(name string, fn TaskFunc, opts ...TaskOption) error {
	t := &task{name: name, fn: fn, enabled: true}
	for _, opt := range opts {
		opt(t)
	}
	if t.interval <= 0 && len(t.timesOfDay) == 0 {
		return errors.Errorf("task %s has neither an interval nor schedule times", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[name]; exists {
		return errors.Errorf("task %s already registered", name)
	}
	s.tasks[name] = t
	s.order = append(s.order, name)
	return nil
}

// Enable re-enables a task and reschedules it from now.
func (s *Scheduler) Enable(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[name]; ok {
		t.enabled = true
		t.nextRun = time.Time{}
	}
}

// Disable stops a task from running until re-enabled.
func (s *Scheduler) Disable(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[name]; ok {
		t.enabled = false
	}
}

// SetNightMode reconfigures the night window. Malformed times keep the
// previous bounds.
func (s *Scheduler) SetNightMode(enabled bool, start, end string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.NightMode = enabled
	if tod, err := parseTimeOfDay(start); err == nil {
		s.nightStart = tod
	}
	if tod, err := parseTimeOfDay(end); err == nil {
		s.nightEnd = tod
	}
}

// RunNow pulls a task forward so it fires on the next tick. The night
// window still applies.
func (s *Scheduler) RunNow(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[name]; ok {
		t.nextRun = s.nowFunc()
	}
}

// Start runs the scheduler loop until Stop is called or ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.CheckInterval)
		defer ticker.Stop()

		slog.Info("scheduler started",
			"check_interval", s.cfg.CheckInterval,
			"night_mode", s.cfg.NightMode)
		for {
			select {
			case <-ctx.Done():
				slog.Info("scheduler stopped")
				return
			case <-ticker.C:
				s.tick(ctx, s.nowFunc())
			}
		}
	}()
}

// Stop cancels the loop and waits for any in-flight task to finish.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

// tick evaluates triggers and runs every task that is due at now. One tick
// runs tasks sequentially in registration order.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.checkTriggers(ctx, now)

	for _, t := range s.dueTasks(now) {
		slog.Info("running scheduled task", "task", t.name)
		if err := t.fn(ctx); err != nil {
			slog.Error("scheduled task failed", "task", t.name, "error", err)
		}
	}
}

// checkTriggers consults the trigger source and pulls the main task forward
// when an urgent trigger is present.
func (s *Scheduler) checkTriggers(ctx context.Context, now time.Time) {
	if s.triggers == nil || s.cfg.MainTask == "" {
		return
	}

	best := monitor.MostUrgent(s.triggers.CheckState(ctx))
	if best == nil || best.Urgency < PreemptThreshold {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[s.cfg.MainTask]
	if !ok || !t.enabled {
		return
	}
	// A zero nextRun means the task has not been seen yet; pulling it to now
	// makes it run this tick instead of waiting for its first slot.
	if t.nextRun.IsZero() || t.nextRun.After(now) {
		slog.Info("urgent trigger preempts schedule",
			"trigger", best.Name, "urgency", best.Urgency, "task", t.name)
		t.nextRun = now
	}
}

// dueTasks collects the tasks due at now, marks them run, and schedules
// their next occurrence. Collection happens under the lock; execution does
// not.
func (s *Scheduler) dueTasks(now time.Time) []*task {
	s.mu.Lock()
	defer s.mu.Unlock()

	night := s.cfg.NightMode && s.isNight(now)
	due := []*task{}
	for _, name := range s.order {
		t := s.tasks[name]
		if !t.enabled {
			continue
		}
		if t.nextRun.IsZero() {
			// Interval tasks are due immediately on first sight; time-of-day
			// tasks wait for their next occurrence.
			if t.interval > 0 {
				t.nextRun = now
			} else {
				t.nextRun = s.nextOccurrence(t, now)
				continue
			}
		}
		if t.nextRun.After(now) {
			continue
		}
		if night && !t.nightOK {
			slog.Debug("night window holds task back", "task", t.name)
			continue
		}
		t.lastRun = now
		t.nextRun = s.nextOccurrence(t, now)
		due = append(due, t)
	}
	return due
}

// nextOccurrence computes when the task should run after now.
func (s *Scheduler) nextOccurrence(t *task, now time.Time) time.Time {
	if t.interval > 0 {
		return now.Add(t.interval)
	}

	candidates := make([]time.Time, 0, len(t.timesOfDay)*2)
	for _, tod := range t.timesOfDay {
		at := time.Date(now.Year(), now.Month(), now.Day(), tod.hour, tod.minute, 0, 0, now.Location())
		candidates = append(candidates, at, at.AddDate(0, 0, 1))
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Before(candidates[j]) })
	for _, at := range candidates {
		if at.After(now) {
			return at
		}
	}
	return now.AddDate(0, 0, 1)
}

// isNight reports whether now falls inside the night window, which may wrap
// past midnight.
func (s *Scheduler) isNight(now time.Time) bool {
	minute := now.Hour()*60 + now.Minute()
	start := s.nightStart.hour*60 + s.nightStart.minute
	end := s.nightEnd.hour*60 + s.nightEnd.minute
	if start == end {
		return false
	}
	if start < end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

func parseTimeOfDay(raw string) (timeOfDay, error) {
	parsed, err := time.Parse("15:04", raw)
	if err != nil {
		return timeOfDay{}, errors.Wrapf(err, "invalid time of day %q", raw)
	}
	return timeOfDay{hour: parsed.Hour(), minute: parsed.Minute()}, nil
}
