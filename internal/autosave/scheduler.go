// Package autosave periodically persists the in-memory document of an
// editing session.
package autosave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/skillre/mindmap-qoder/internal/adapter"
	"github.com/skillre/mindmap-qoder/internal/clock"
	"github.com/skillre/mindmap-qoder/internal/revision"
)

// DefaultInterval is used when Enable is called with a non-positive interval.
const DefaultInterval = 30 * time.Second

// MessageTimeLayout formats the time in auto-save commit messages.
const MessageTimeLayout = "2006-01-02 15:04:05"

var (
	// ErrDisabled is returned by Trigger when no session is active.
	ErrDisabled = errors.New("auto-save is disabled")

	// ErrBusy is returned by Trigger when a save is already running.
	ErrBusy = errors.New("a save is already running")
)

// State of the scheduler.
type State int

const (
	Disabled State = iota
	Idle
	Saving
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Idle:
		return "idle"
	case Saving:
		return "saving"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Source supplies the current in-memory payload.
type Source interface {
	Payload(ctx context.Context) (json.RawMessage, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (json.RawMessage, error)

func (f SourceFunc) Payload(ctx context.Context) (json.RawMessage, error) { return f(ctx) }

// Saver persists one payload for a tracked document. document.Service
// implements it.
type Saver interface {
	Save(ctx context.Context, tr *revision.Tracker, payload json.RawMessage, message string) (*adapter.WriteResult, error)
}

// Reporter is told about the outcome of every save applied to a session.
type Reporter interface {
	Saved(path string, res *adapter.WriteResult, at time.Time)
	Failed(path string, err error)
}

// Ticker delivers periodic triggers.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker { return timeTicker{time.NewTicker(d)} }

// Session is the bookkeeping of one enabled auto-save.
type Session struct {
	Interval   time.Duration
	Active     bool
	InFlight   bool
	LastSaveAt time.Time
	Document   *revision.Tracker

	source Source
	gen    uint64
}

// Status is a snapshot of the scheduler.
type Status struct {
	State      string        `json:"state"`
	Interval   time.Duration `json:"interval"`
	Path       string        `json:"path,omitempty"`
	Token      string        `json:"sha,omitempty"`
	LastSaveAt time.Time     `json:"lastSaveAt,omitzero"`
	Saves      int           `json:"saves"`
	Failures   int           `json:"failures"`
	Skipped    int           `json:"skipped"`
	LastError  string        `json:"lastError,omitempty"`
}

// Config configures a Scheduler.
type Config struct {
	Saver    Saver
	Reporter Reporter
	Clock    clock.Clock
	Logger   hclog.Logger

	// NewTicker overrides the ticker; used by tests.
	NewTicker func(time.Duration) Ticker
}

// Scheduler runs at most one save at a time for the current session.
// Triggers that arrive while a save is running are skipped, not queued.
type Scheduler struct {
	saver     Saver
	reporter  Reporter
	clock     clock.Clock
	logger    hclog.Logger
	newTicker func(time.Duration) Ticker

	mu      sync.Mutex
	state   State
	session *Session
	gen     uint64
	cancel  context.CancelFunc
	base    context.Context

	saves, failures, skipped int
	lastErr                  string

	wg sync.WaitGroup
}

// New creates a disabled Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = newTimeTicker
	}
	if cfg.Reporter == nil {
		cfg.Reporter = LogReporter{Logger: cfg.Logger}
	}
	return &Scheduler{
		saver:     cfg.Saver,
		reporter:  cfg.Reporter,
		clock:     cfg.Clock,
		logger:    cfg.Logger.Named("autosave"),
		newTicker: cfg.NewTicker,
	}
}

// Enable starts auto-saving doc with payloads from src. Any previous session
// is disabled first. The ticker stops when ctx is done.
func (s *Scheduler) Enable(ctx context.Context, interval time.Duration, doc *revision.Tracker, src Source) error {
	if doc == nil || src == nil {
		return errors.New("document and source are required")
	}
	if s.saver == nil {
		return errors.New("scheduler has no saver")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	s.Disable()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.session = &Session{
		Interval: interval,
		Active:   true,
		Document: doc,
		source:   src,
		gen:      s.gen,
	}
	s.state = Idle
	s.base = ctx
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	t := s.newTicker(interval)
	go s.loop(loopCtx, s.gen, t)

	s.logger.Info("auto-save enabled", "path", doc.Path(), "interval", interval)
	return nil
}

// Disable stops the timer. A save already running completes on its own; its
// result is not applied to any session.
func (s *Scheduler) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Disabled {
		return
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.session != nil {
		s.session.Active = false
		s.logger.Info("auto-save disabled", "path", s.session.Document.Path())
	}
	s.session = nil
	s.state = Disabled
	s.gen++
}

// Trigger starts a save immediately, following the same skip rule as ticks.
func (s *Scheduler) Trigger() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(s.gen)
}

// Wait blocks until no save started by the scheduler is running.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Status returns a snapshot of the scheduler.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:     s.state.String(),
		Saves:     s.saves,
		Failures:  s.failures,
		Skipped:   s.skipped,
		LastError: s.lastErr,
	}
	if s.session != nil {
		st.Interval = s.session.Interval
		st.Path = s.session.Document.Path()
		st.Token = s.session.Document.Token()
		st.LastSaveAt = s.session.LastSaveAt
	}
	return st
}

func (s *Scheduler) loop(ctx context.Context, gen uint64, t Ticker) {
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			s.mu.Lock()
			err := s.startLocked(gen)
			s.mu.Unlock()
			if errors.Is(err, ErrDisabled) {
				return
			}
		}
	}
}

func (s *Scheduler) startLocked(gen uint64) error {
	if s.state == Disabled || s.session == nil || gen != s.gen {
		return ErrDisabled
	}
	if s.state == Saving {
		s.skipped++
		s.logger.Debug("save already running, skipping trigger", "path", s.session.Document.Path())
		return ErrBusy
	}
	s.state = Saving
	s.session.InFlight = true

	sess := s.session
	ctx := context.WithoutCancel(s.base)
	s.wg.Add(1)
	go s.save(ctx, sess)
	return nil
}

func (s *Scheduler) save(ctx context.Context, sess *Session) {
	defer s.wg.Done()

	path := sess.Document.Path()
	var res *adapter.WriteResult
	payload, err := sess.source.Payload(ctx)
	if err == nil {
		msg := "自动保存: " + s.clock.Now().Format(MessageTimeLayout)
		res, err = s.saver.Save(ctx, sess.Document, payload, msg)
	}
	s.finish(sess, path, res, err)
}

func (s *Scheduler) finish(sess *Session, path string, res *adapter.WriteResult, err error) {
	s.mu.Lock()
	applied := s.session == sess && sess.gen == s.gen && sess.Document.Path() == path
	// A write started by an earlier session on the same document is still
	// running; this tick counts as skipped like any other overlap.
	busy := errors.Is(err, revision.ErrInFlight)
	now := s.clock.Now()
	if applied {
		s.state = Idle
		sess.InFlight = false
		switch {
		case busy:
			s.skipped++
		case err == nil:
			sess.LastSaveAt = now
			s.saves++
			s.lastErr = ""
		default:
			s.failures++
			s.lastErr = err.Error()
		}
	}
	s.mu.Unlock()

	if !applied {
		s.logger.Debug("discarding save result for ended session", "path", path, "error", err)
		return
	}
	if busy {
		s.logger.Debug("previous write still running, skipping trigger", "path", path)
		return
	}
	if err != nil {
		s.reporter.Failed(path, err)
		return
	}
	s.reporter.Saved(path, res, now)
}

// LogReporter reports outcomes to a logger.
type LogReporter struct {
	Logger hclog.Logger
}

func (r LogReporter) Saved(path string, res *adapter.WriteResult, at time.Time) {
	r.Logger.Info("auto-saved", "path", path, "sha", res.Token, "at", at.Format(time.RFC3339))
}

func (r LogReporter) Failed(path string, err error) {
	r.Logger.Warn("auto-save failed", "path", path, "kind", adapter.KindOf(err), "error", err)
}
