// event.go
// Dieses Modul enthaelt das CompletionEvent: Status und Zeitstempel
// eines Kernel-Starts. Ein Event ist nach Complete/Fail unveraenderlich.

package ml

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type EventStatus int

const (
	EventQueued EventStatus = iota
	EventRunning
	EventComplete
	EventFailed
)

func (s EventStatus) String() string {
	switch s {
	case EventQueued:
		return "queued"
	case EventRunning:
		return "running"
	case EventComplete:
		return "complete"
	case EventFailed:
		return "failed"
	default:
		return fmt.Sprintf("EventStatus(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s EventStatus) Terminal() bool {
	return s == EventComplete || s == EventFailed
}

// Event tracks one kernel launch.
type Event interface {
	ID() string
	Name() string
	Status() EventStatus

	// Wait blocks until the event is terminal or ctx is done. It returns
	// the launch error for failed events.
	Wait(ctx context.Context) error

	// Done is closed once the event is terminal.
	Done() <-chan struct{}

	Err() error

	SubmitTime() time.Time
	StartTime() time.Time
	EndTime() time.Time
}

// CompletionEvent is the Event implementation shared by all drivers.
type CompletionEvent struct {
	id   string
	name string
	now  func() time.Time

	mu     sync.Mutex
	status EventStatus
	submit time.Time
	start  time.Time
	end    time.Time
	err    error
	done   chan struct{}
}

// NewEvent returns a queued event stamped with the submit time.
func NewEvent(name string) *CompletionEvent {
	u, err := uuid.NewV7()
	if err != nil {
		u = uuid.New()
	}

	e := &CompletionEvent{
		id:   u.String(),
		name: name,
		now:  time.Now,
		done: make(chan struct{}),
	}
	e.submit = e.now()
	return e
}

// CompletedEvent returns an event that is already complete, for launches
// with nothing to run.
func CompletedEvent(name string) *CompletionEvent {
	e := NewEvent(name)
	e.Complete()
	return e
}

func (e *CompletionEvent) ID() string   { return e.id }
func (e *CompletionEvent) Name() string { return e.name }

func (e *CompletionEvent) Status() EventStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *CompletionEvent) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *CompletionEvent) SubmitTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.submit
}

func (e *CompletionEvent) StartTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.start
}

func (e *CompletionEvent) EndTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.end
}

func (e *CompletionEvent) Done() <-chan struct{} {
	return e.done
}

func (e *CompletionEvent) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		return e.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start moves a queued event to running.
func (e *CompletionEvent) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status == EventQueued {
		e.status = EventRunning
		e.start = e.now()
	}
}

// Complete marks the event complete. It is a no-op on terminal events.
func (e *CompletionEvent) Complete() {
	e.finish(EventComplete, nil)
}

// Fail marks the event failed with err. It is a no-op on terminal events.
func (e *CompletionEvent) Fail(err error) {
	e.finish(EventFailed, err)
}

func (e *CompletionEvent) finish(status EventStatus, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status.Terminal() {
		return
	}

	now := e.now()
	if e.start.IsZero() {
		e.start = now
	}
	e.end = now
	e.status = status
	e.err = err
	close(e.done)
}

// Duration is the time between start and end of a terminal event.
func (e *CompletionEvent) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.status.Terminal() {
		return 0
	}
	return e.end.Sub(e.start)
}
