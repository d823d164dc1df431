package pace

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

type (
	Time     = time.Time
	Duration = time.Duration
)

const (
	Millisecond = time.Millisecond
	Second      = time.Second
	Minute      = time.Minute
	Hour        = time.Hour
)

const (
	// DefaultDelimiter terminates each entry of a timestamp file.
	DefaultDelimiter = ";"

	// DefaultPollTimeout bounds how long a shared-mode worker waits on an
	// empty drain before concluding its timestamps ran out.
	DefaultPollTimeout = 10 * Millisecond

	// DefaultSafetyMargin is added past the final planned offset when
	// parking an exhausted worker.
	DefaultSafetyMargin = Second
)

// VarSequenceID is the variable slot receiving the decimal sequence id of
// the timestamp consumed by the latest scheduling cycle,
// or "0" once the worker is exhausted.
const VarSequenceID = "pace.sequence_id"

// TimeProvider provides the current time.
type TimeProvider interface {
	Now() Time
}

type timeProvider struct{}

func (timeProvider) Now() Time { return time.Now() }

// Timestamp is one entry of a parsed timestamp sequence.
type Timestamp struct {
	// Seq is the 1-based position of the entry in the source file.
	Seq uint64

	// Offset is the delay relative to the run-start instant.
	Offset Duration
}

// Mode selects how the timestamp sequence is allocated to workers.
// It is fixed at construction and immutable for the scheduler's lifetime.
type Mode uint8

const (
	// ModeShared distributes one queue of timestamps across all workers
	// first come first served. Each timestamp is delivered to exactly one
	// worker; faster workers are never stalled behind slower ones.
	ModeShared Mode = iota

	// ModePerWorkerFull replays the full sequence independently in every
	// worker, each at its own pace, with no sharing.
	ModePerWorkerFull
)

func (m Mode) String() string {
	switch m {
	case ModeShared:
		return "shared"
	case ModePerWorkerFull:
		return "per-worker-full"
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// VarPublisher receives string-keyed values published by a worker for
// downstream correlation.
type VarPublisher interface {
	Set(key, value string)
}

// Vars is a plain map VarPublisher. It is not safe for concurrent use;
// give every worker its own.
type Vars map[string]string

func (v Vars) Set(key, value string) { v[key] = value }

// StartStore shares a resolved run-start instant between schedulers so
// workers racing through independent clones agree on one time origin.
type StartStore interface {
	// LoadOrStore returns the previously stored instant or,
	// if none was stored yet, stores and returns t.
	LoadOrStore(t Time) Time
}

// NewStartStore returns an empty in-process StartStore.
func NewStartStore() StartStore { return &startStore{} }

type startStore struct {
	mu  sync.Mutex
	t   Time
	set bool
}

func (s *startStore) LoadOrStore(t Time) Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		s.t, s.set = t, true
	}
	return s.t
}

var (
	// ErrNotFound is returned by ParseFile when the timestamp file
	// doesn't exist yet. The condition is expected at configuration time
	// and tolerated by Scheduler.SetFilename.
	ErrNotFound = errors.New("timestamp file not found")

	// ErrStarted is returned when a scheduler is reconfigured
	// while a run is in progress.
	ErrStarted = errors.New("run already started")
)

// MalformedEntryError reports a timestamp file line whose leading field
// isn't a decimal number. The whole parse is aborted, loading zero
// timestamps rather than a silently truncated schedule.
type MalformedEntryError struct {
	Line  int
	Field string
}

func (e *MalformedEntryError) Error() string {
	return fmt.Sprintf("malformed timestamp at line %d: %q", e.Line, e.Field)
}
