package autosave

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/debemdeboas/lectern/internal/model"
)

const waitTimeout = time.Second

var testRef = model.EntityRef{Kind: model.KindLesson, ID: "lesson-1"}

type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward and runs every timer that became due.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*manualTimer
	pending := c.timers[:0]
	for _, t := range c.timers {
		if t.stopped || t.fired {
			continue
		}
		if !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
			continue
		}
		pending = append(pending, t)
	}
	c.timers = pending
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

func (c *manualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type persistCall struct {
	ref    model.EntityRef
	patch  model.ContentPatch
	result chan error
}

func (c *persistCall) body() string {
	if c.patch.Body == nil {
		return ""
	}
	return *c.patch.Body
}

// scriptedPersister records every write. With hold set, each write blocks until the
// test sends its result on call.result.
type scriptedPersister struct {
	calls chan *persistCall
	hold  bool

	mu  sync.Mutex
	err error
}

func newScriptedPersister(hold bool) *scriptedPersister {
	return &scriptedPersister{calls: make(chan *persistCall, 32), hold: hold}
}

func (p *scriptedPersister) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *scriptedPersister) UpsertContent(ctx context.Context, ref model.EntityRef, patch model.ContentPatch) error {
	c := &persistCall{ref: ref, patch: patch, result: make(chan error, 1)}
	p.calls <- c
	if p.hold {
		select {
		case err := <-c.result:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func expectCall(t *testing.T, p *scriptedPersister) *persistCall {
	t.Helper()
	select {
	case c := <-p.calls:
		return c
	case <-time.After(waitTimeout):
		t.Fatal("Expected a persistence call, got none")
		return nil
	}
}

func expectNoCall(t *testing.T, p *scriptedPersister) {
	t.Helper()
	select {
	case c := <-p.calls:
		t.Fatalf("Expected no persistence call, got one with body %q", c.body())
	case <-time.After(50 * time.Millisecond):
	}
}

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Expected state %s, got %s", want, s.State())
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Publish(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) has(kind EventKind) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

var errBackendDown = errors.New("backend unavailable")

var errGone = errors.New("entity gone")

func newTestSession(p Persister, clock Clock, baseline string) *Session {
	return New(testRef, model.FieldBody, baseline, p, Options{
		Clock:      clock,
		IsNotFound: func(err error) bool { return errors.Is(err, errGone) },
	})
}

// saveAsync runs Save on its own goroutine and returns the eventual result.
func saveAsync(s *Session) <-chan bool {
	ch := make(chan bool, 1)
	go func() {
		ch <- s.Save(context.Background())
	}()
	return ch
}

func expectSaveResult(t *testing.T, ch <-chan bool, want bool) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("Expected Save to return %v, got %v", want, got)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Save did not return")
	}
}
