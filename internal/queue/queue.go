// Package queue provides the concurrent drain shared-mode workers
// dequeue timestamps from.
package queue

import (
	"sync"
	"time"

	"github.com/huandu/skiplist"
)

// Entry is one queued timestamp: its 1-based sequence id and its offset
// relative to the run-start instant.
type Entry struct {
	Seq    uint64
	Offset time.Duration
}

// New returns an empty drain.
func New() *Drain {
	return &Drain{
		list: skiplist.New(skiplist.Uint64),
		wake: make(chan struct{}, 1),
	}
}

// Drain is a multi-consumer FIFO ordered by sequence id. It is filled in a
// single enqueue phase and drained concurrently afterwards; each entry is
// delivered to exactly one caller, never duplicated, never re-inserted.
type Drain struct {
	mu   sync.Mutex
	list *skiplist.SkipList
	wake chan struct{}
}

// Push appends e. Safe for concurrent use with Poll.
func (d *Drain) Push(e Entry) {
	d.mu.Lock()
	d.list.Set(e.Seq, e)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Poll removes and returns the front entry. When the drain is empty it
// waits up to timeout for a concurrent Push before reporting ok == false.
func (d *Drain) Poll(timeout time.Duration) (e Entry, ok bool) {
	if e, ok = d.tryPop(); ok {
		return e, true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		select {
		case <-d.wake:
			if e, ok = d.tryPop(); ok {
				return e, true
			}
		case <-t.C:
			return Entry{}, false
		}
	}
}

func (d *Drain) tryPop() (Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	front := d.list.Front()
	if front == nil {
		return Entry{}, false
	}
	d.list.Remove(front.Key())
	return front.Value.(Entry), true
}

// Len returns the number of undelivered entries.
func (d *Drain) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.list.Len()
}

// Clear removes all undelivered entries.
func (d *Drain) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.list.Init()
}
