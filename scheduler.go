package pace

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/loadtrace/pace/internal/queue"

	"github.com/segmentio/ksuid"
	"github.com/spf13/afero"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTimeProvider replaces the default wall clock.
func WithTimeProvider(p TimeProvider) Option {
	return func(s *Scheduler) { s.provider = p }
}

// WithFS replaces the filesystem timestamp files are read from.
func WithFS(fsys afero.Fs) Option {
	return func(s *Scheduler) { s.fsys = fsys }
}

// WithLogger replaces slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithDelimiter replaces DefaultDelimiter.
func WithDelimiter(d string) Option {
	return func(s *Scheduler) { s.delimiter = d }
}

// WithPollTimeout replaces DefaultPollTimeout.
func WithPollTimeout(d Duration) Option {
	return func(s *Scheduler) { s.pollTimeout = d }
}

// WithSafetyMargin replaces DefaultSafetyMargin.
func WithSafetyMargin(d Duration) Option {
	return func(s *Scheduler) { s.safetyMargin = d }
}

// WithStartStore attaches a store for the run-start instant shared across
// schedulers. The first scheduler to start a run publishes its instant;
// every other scheduler adopts it instead of reading its own clock.
func WithStartStore(st StartStore) Option {
	return func(s *Scheduler) { s.startStore = st }
}

// New creates a scheduler with the given allocation mode.
func New(mode Mode, opts ...Option) *Scheduler {
	s := &Scheduler{
		provider:     timeProvider{},
		fsys:         afero.NewOsFs(),
		logger:       slog.Default(),
		mode:         mode,
		delimiter:    DefaultDelimiter,
		pollTimeout:  DefaultPollTimeout,
		safetyMargin: DefaultSafetyMargin,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Scheduler holds a parsed timestamp sequence and releases workers to act
// at the parsed offsets, measured from a run-start instant all workers
// share. All methods are safe for concurrent use.
type Scheduler struct {
	provider     TimeProvider
	fsys         afero.Fs
	logger       *slog.Logger
	mode         Mode
	delimiter    string
	pollTimeout  Duration
	safetyMargin Duration
	startStore   StartStore

	mu         sync.Mutex
	filename   string
	seq        []Timestamp
	lastOffset Duration
	started    bool
	startAt    Time
	runID      ksuid.KSUID
	shared     *queue.Drain
}

// SetFilename sets the timestamp file and parses it immediately.
// A missing file is tolerated silently: the filename is kept and no
// timestamps are loaded until it is set again. A malformed or unreadable
// file also loads zero timestamps but is reported.
// Fails with ErrStarted once a run is in progress.
func (s *Scheduler) SetFilename(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrStarted
	}
	s.filename = name
	s.seq = nil
	s.lastOffset = 0

	seq, err := ParseFile(s.fsys, name, s.delimiter)
	switch {
	case errors.Is(err, ErrNotFound):
		s.logger.Debug("timestamp file not found", "file", name)
		return nil
	case err != nil:
		s.logger.Error("loading timestamp file",
			"file", name, "err", err)
		return err
	}

	s.seq = seq
	if n := len(seq); n > 0 {
		s.lastOffset = seq[n-1].Offset
	}
	s.logger.Debug("timestamp file loaded",
		"file", name, "timestamps", len(seq))
	return nil
}

// Filename returns the configured timestamp file.
func (s *Scheduler) Filename() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filename
}

// Mode returns the allocation mode.
func (s *Scheduler) Mode() Mode { return s.mode }

// Len returns the number of loaded timestamps.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seq)
}

// LastOffset returns the offset of the final loaded timestamp.
func (s *Scheduler) LastOffset() Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOffset
}

// StartedAt returns the resolved run-start instant
// and whether a run is in progress.
func (s *Scheduler) StartedAt() (Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startAt, s.started
}

// RunID returns the identifier minted for the current run.
func (s *Scheduler) RunID() ksuid.KSUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// StartRun fixes the run-start instant and makes workers eligible to draw
// timestamps. Repeated calls are no-ops. When a StartStore is attached,
// an instant already stored there is adopted instead of reading the clock,
// so workers starting in any order agree on one time origin.
func (s *Scheduler) StartRun() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true
	s.runID = ksuid.New()
	s.startAt = s.provider.Now()
	if s.startStore != nil {
		s.startAt = s.startStore.LoadOrStore(s.startAt)
	}
	if s.mode == ModeShared {
		d := queue.New()
		for _, ts := range s.seq {
			d.Push(queue.Entry{Seq: ts.Seq, Offset: ts.Offset})
		}
		s.shared = d
	}
	s.logger.Info("run started",
		"run", s.runID.String(),
		"mode", s.mode.String(),
		"file", s.filename,
		"timestamps", len(s.seq),
		"start", s.startAt)
}

// EndRun discards run state and re-allows configuration. The parsed
// sequence is kept, so another run can start from the same file.
func (s *Scheduler) EndRun() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.started = false
	s.startAt = Time{}
	if s.shared != nil {
		s.shared.Clear()
		s.shared = nil
	}
	s.logger.Debug("run ended", "run", s.runID.String())
}

// Clone derives a scheduler for an additional member of the worker group.
// Configuration and resolved run state are copied by value. In ModeShared
// the clone references the same drain, so a timestamp consumed through
// either scheduler is consumed for both; in ModePerWorkerFull the clone
// owns an independent copy of the full sequence.
func (s *Scheduler) Clone() *Scheduler {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := &Scheduler{
		provider:     s.provider,
		fsys:         s.fsys,
		logger:       s.logger,
		mode:         s.mode,
		delimiter:    s.delimiter,
		pollTimeout:  s.pollTimeout,
		safetyMargin: s.safetyMargin,
		startStore:   s.startStore,
		filename:     s.filename,
		lastOffset:   s.lastOffset,
		started:      s.started,
		startAt:      s.startAt,
		runID:        s.runID,
	}
	switch s.mode {
	case ModeShared:
		c.seq = s.seq
		c.shared = s.shared
	case ModePerWorkerFull:
		c.seq = append([]Timestamp(nil), s.seq...)
	}
	return c
}

func (s *Scheduler) drain() *queue.Drain {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shared
}

func (s *Scheduler) startInstant() Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startAt
}

// exhaustTarget is the instant an exhausted worker is parked at:
// just past the final planned offset of the run.
func (s *Scheduler) exhaustTarget() Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startAt.Add(s.lastOffset + s.safetyMargin)
}
