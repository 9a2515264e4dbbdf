// Package autosave keeps a locally edited content field in sync with the content store.
//
// A Session holds the draft of one field of one entity. Edits restart a debounce timer;
// once input stops, or on an explicit Save, the draft is written through the Persister.
// At most one write is in flight per session. Saves requested while a write is in flight
// are deferred until it resolves.
package autosave

import (
	"context"
	"sync"
	"time"

	"github.com/debemdeboas/lectern/internal/model"
)

const DefaultDebounce = 600 * time.Millisecond

// Persister is the write side of the content store.
type Persister interface {
	UpsertContent(ctx context.Context, ref model.EntityRef, patch model.ContentPatch) error
}

type Options struct {
	// Debounce is the quiescence window after the last edit. Zero means DefaultDebounce.
	Debounce time.Duration
	// SaveTimeout bounds a single persistence call. Zero means no timeout.
	SaveTimeout time.Duration

	Clock    Clock
	Notifier Notifier

	// IsNotFound reports whether a persistence error means the entity no longer exists.
	IsNotFound func(error) bool
}

type write struct {
	value   string
	rev     uint64
	gen     uint64
	started time.Time
}

type waiter struct {
	rev  uint64
	done chan bool
}

type Session struct {
	ref     model.EntityRef
	field   model.Field
	persist Persister

	debounce    time.Duration
	saveTimeout time.Duration
	clock       Clock
	notifier    Notifier
	isNotFound  func(error) bool

	mu sync.Mutex

	draft    string
	baseline string
	// rev counts draft changes; a write covers every edit up to its rev.
	rev uint64

	state       State
	lastSavedAt time.Time
	lastErr     error
	stale       bool

	timer    Timer
	timerSeq uint64

	inflight    *write
	retryNeeded bool
	waiters     []*waiter

	// gen is bumped on every confirmed cancel; results of older writes are ignored.
	gen    uint64
	closed bool
}

// New starts a session for field of ref whose remote value is baseline.
func New(ref model.EntityRef, field model.Field, baseline string, persist Persister, opts Options) *Session {
	s := &Session{
		ref:         ref,
		field:       field,
		persist:     persist,
		debounce:    opts.Debounce,
		saveTimeout: opts.SaveTimeout,
		clock:       opts.Clock,
		notifier:    opts.Notifier,
		isNotFound:  opts.IsNotFound,
		draft:       baseline,
		baseline:    baseline,
		state:       Idle,
	}
	if s.debounce <= 0 {
		s.debounce = DefaultDebounce
	}
	if s.clock == nil {
		s.clock = SystemClock
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.isNotFound == nil {
		s.isNotFound = func(error) bool { return false }
	}
	return s
}

func (s *Session) Ref() model.EntityRef { return s.ref }

func (s *Session) Field() model.Field { return s.field }

func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

func (s *Session) Baseline() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseline
}

func (s *Session) IsDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty()
}

func (s *Session) IsSaving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight != nil
}

func (s *Session) LastSavedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSavedAt
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) dirty() bool {
	return s.draft != s.baseline
}

// SetDraft replaces the draft and (re)starts the debounce timer. While a write is in
// flight the edit is only buffered; the timer restarts once the write resolves.
func (s *Session) SetDraft(value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if value == s.draft {
		return nil
	}

	s.draft = value
	s.rev++

	if s.inflight != nil {
		s.emit(EventDraftChanged)
		return nil
	}

	s.state = PendingSave
	s.emit(EventDraftChanged)
	s.startTimer()
	return nil
}

// ResetToBaseline reverts the draft without asking for confirmation.
func (s *Session) ResetToBaseline() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.revert()
}

// AdoptBaseline takes a freshly loaded remote value. It only replaces the draft when
// there are no unsaved changes and reports whether it did.
func (s *Session) AdoptBaseline(value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.dirty() {
		sessionLogger.Debug().
			Str("entity", s.ref.String()).
			Str("field", string(s.field)).
			Msg("Remote value ignored, session has unsaved changes")
		return false
	}

	if value != s.draft {
		s.rev++
	}
	s.draft = value
	s.baseline = value
	s.stale = false
	if s.inflight == nil {
		s.stopTimer()
		s.state = Idle
	}
	s.emit(EventBaseline)
	return true
}

// Save writes the draft now and reports whether it reached the store. A clean session
// returns true without a write. If a write is already in flight the request is deferred
// until that write resolves.
func (s *Session) Save(ctx context.Context) bool {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return false
	}
	if s.inflight == nil && !s.dirty() {
		if s.state == PendingSave || s.state == SaveFailed {
			s.stopTimer()
			s.state = Idle
			s.lastErr = nil
		}
		s.mu.Unlock()
		return true
	}

	w := &waiter{rev: s.rev, done: make(chan bool, 1)}
	s.waiters = append(s.waiters, w)

	if s.inflight != nil {
		if w.rev > s.inflight.rev {
			s.retryNeeded = true
		}
	} else {
		s.stopTimer()
		s.startWrite()
	}
	s.mu.Unlock()

	select {
	case ok := <-w.done:
		return ok
	case <-ctx.Done():
		return false
	}
}

// Cancel discards unsaved changes once confirm agrees. A nil confirm on a dirty session
// returns ErrConfirmationRequired. An in-flight write is not aborted; its result is
// ignored.
func (s *Session) Cancel(ctx context.Context, confirm Confirmer) (CancelOutcome, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return CancelClean, ErrClosed
	}
	if !s.dirty() {
		if s.inflight == nil {
			s.stopTimer()
			s.state = Idle
		}
		s.mu.Unlock()
		return CancelClean, nil
	}
	if confirm == nil {
		s.mu.Unlock()
		return CancelKept, ErrConfirmationRequired
	}
	s.mu.Unlock()

	if !confirm.ConfirmDiscard(ctx, s.ref, s.field) {
		return CancelKept, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return CancelClean, ErrClosed
	}
	if !s.dirty() {
		return CancelClean, nil
	}

	s.gen++
	s.resolveAll(false)
	s.revert()

	sessionLogger.Info().
		Str("entity", s.ref.String()).
		Str("field", string(s.field)).
		Bool("write_in_flight", s.inflight != nil).
		Msg("Unsaved changes discarded")

	return CancelDiscarded, nil
}

// Close stops the timer and releases pending Save callers. A write in flight still
// completes against the store.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.stopTimer()
	s.resolveAll(false)
	s.emit(EventClosed)
}

func (s *Session) revert() {
	s.stopTimer()
	if s.draft != s.baseline {
		s.rev++
	}
	s.draft = s.baseline
	s.lastErr = nil
	if s.inflight == nil {
		s.state = Idle
	}
	s.emit(EventReverted)
}

func (s *Session) startTimer() {
	s.stopTimer()
	s.timerSeq++
	seq := s.timerSeq
	s.timer = s.clock.AfterFunc(s.debounce, func() {
		s.onTimer(seq)
	})
	s.emit(EventSaveScheduled)
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	// Invalidate a callback that already fired and is waiting on the lock.
	s.timerSeq++
}

func (s *Session) onTimer(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || seq != s.timerSeq {
		return
	}
	s.timer = nil

	if s.state != PendingSave || s.inflight != nil {
		return
	}
	if !s.dirty() {
		s.state = Idle
		s.emit(EventReverted)
		return
	}
	s.startWrite()
}

// startWrite must be called with the lock held and no write in flight.
func (s *Session) startWrite() {
	w := &write{
		value:   s.draft,
		rev:     s.rev,
		gen:     s.gen,
		started: s.clock.Now(),
	}
	s.inflight = w
	s.retryNeeded = false
	s.state = Saving
	s.emit(EventSaveStarted)

	sessionLogger.Debug().
		Str("entity", s.ref.String()).
		Str("field", string(s.field)).
		Uint64("rev", w.rev).
		Msg("Saving draft")

	go s.run(w)
}

func (s *Session) run(w *write) {
	ctx := context.Background()
	if s.saveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.saveTimeout)
		defer cancel()
	}

	err := s.persist.UpsertContent(ctx, s.ref, model.PatchField(s.field, w.value))
	s.complete(w, err)
}

func (s *Session) complete(w *write, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inflight = nil
	log := sessionLogger.With().
		Str("entity", s.ref.String()).
		Str("field", string(s.field)).
		Uint64("rev", w.rev).
		Logger()

	if s.closed {
		log.Debug().Err(err).Msg("Write finished after session closed")
		return
	}

	if w.gen != s.gen {
		log.Warn().Err(err).Msg("Write finished after cancel, result ignored")
		s.lastErr = nil
		s.emit(EventSaveDiscarded)
		s.afterWrite()
		return
	}

	if err != nil {
		s.lastErr = err
		s.stale = s.isNotFound(err)
		s.resolveUpTo(w.rev, false)

		if s.stale {
			log.Warn().Err(err).Msg("Entity no longer exists")
			s.resolveAll(false)
			s.state = SaveFailed
			s.emit(EventEntityMissing)
			return
		}

		log.Error().Err(err).Msg("Save failed")
		switch {
		case !s.dirty():
			// The draft went back to the baseline mid-flight; the store still holds it.
			s.state = Idle
			s.emit(EventSaveFailed)
			s.lastErr = nil
			s.resolveAll(true)
		case len(s.waiters) > 0:
			s.startWrite()
		case s.rev > w.rev:
			// Edits arrived during the failed write: retry them like any other edit.
			s.state = PendingSave
			s.emit(EventSaveFailed)
			s.startTimer()
		default:
			s.state = SaveFailed
			s.emit(EventSaveFailed)
		}
		return
	}

	s.baseline = w.value
	s.lastSavedAt = s.clock.Now()
	s.lastErr = nil
	s.stale = false
	s.resolveUpTo(w.rev, true)

	log.Debug().Dur("took", s.lastSavedAt.Sub(w.started)).Msg("Draft saved")
	s.emit(EventSaveSucceeded)
	s.afterWrite()
}

// afterWrite decides what follows a resolved write: a deferred save, a restarted
// debounce timer for edits that arrived mid-flight, or Idle.
func (s *Session) afterWrite() {
	if !s.dirty() {
		s.resolveAll(true)
		s.state = Idle
		return
	}
	if s.retryNeeded || len(s.waiters) > 0 {
		s.startWrite()
		return
	}
	s.state = PendingSave
	s.startTimer()
}

func (s *Session) resolveUpTo(rev uint64, ok bool) {
	kept := s.waiters[:0]
	for _, w := range s.waiters {
		if w.rev <= rev {
			w.done <- ok
			continue
		}
		kept = append(kept, w)
	}
	s.waiters = kept
}

func (s *Session) resolveAll(ok bool) {
	for _, w := range s.waiters {
		w.done <- ok
	}
	s.waiters = nil
}

func (s *Session) emit(kind EventKind) {
	e := Event{
		Kind:  kind,
		Ref:   s.ref,
		Field: s.field,
		State: s.state,
		Dirty: s.dirty(),
		At:    s.clock.Now(),
	}
	if s.lastErr != nil {
		e.Error = s.lastErr.Error()
	}
	s.notifier.Publish(e)
}
