package ml

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeClock liefert bei jedem Aufruf eine Sekunde spaeter
func fakeClock() func() time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestEventTransitions(t *testing.T) {
	e := NewEvent("vectorAdd")
	e.now = fakeClock()

	if e.Status() != EventQueued {
		t.Fatalf("status = %v, erwartet queued", e.Status())
	}
	if e.ID() == "" || e.Name() != "vectorAdd" {
		t.Errorf("id %q name %q", e.ID(), e.Name())
	}

	e.Start()
	if e.Status() != EventRunning {
		t.Fatalf("status = %v, erwartet running", e.Status())
	}

	e.Complete()
	if e.Status() != EventComplete {
		t.Fatalf("status = %v, erwartet complete", e.Status())
	}
	if got := e.Duration(); got != time.Second {
		t.Errorf("duration = %v, erwartet 1s", got)
	}

	// terminale Events bleiben unveraendert
	e.Fail(errors.New("zu spaet"))
	if e.Status() != EventComplete || e.Err() != nil {
		t.Errorf("terminales Event veraendert: %v %v", e.Status(), e.Err())
	}

	select {
	case <-e.Done():
	default:
		t.Error("Done nicht geschlossen")
	}
}

func TestEventFail(t *testing.T) {
	e := NewEvent("saxpy")
	boom := errors.New("boom")
	e.Fail(boom)

	if err := e.Wait(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Wait = %v, erwartet boom", err)
	}
	if e.StartTime().IsZero() || e.EndTime().Before(e.StartTime()) {
		t.Errorf("zeiten: start %v end %v", e.StartTime(), e.EndTime())
	}
}

func TestEventWaitCanceled(t *testing.T) {
	e := NewEvent("hscale")
	if e.Duration() != 0 {
		t.Errorf("duration eines laufenden Events = %v", e.Duration())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait = %v, erwartet context.Canceled", err)
	}
}

func TestCompletedEvent(t *testing.T) {
	e := CompletedEvent("noop")
	if !e.Status().Terminal() {
		t.Errorf("status = %v", e.Status())
	}
	if err := e.Wait(context.Background()); err != nil {
		t.Error(err)
	}
}

func TestUniqueEventIDs(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		id := NewEvent("k").ID()
		if seen[id] {
			t.Fatalf("doppelte id %s", id)
		}
		seen[id] = true
	}
}
