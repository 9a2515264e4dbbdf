package editor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/debemdeboas/lectern/internal/autosave"
	"github.com/debemdeboas/lectern/internal/cache"
	"github.com/debemdeboas/lectern/internal/model"
	"github.com/debemdeboas/lectern/internal/repository"
	"github.com/debemdeboas/lectern/internal/sse"
)

var editorLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	editorLogger = l
}

var ErrSessionNotFound = errors.New("edit session not found")

// Entry is one open session and its registry metadata.
type Entry struct {
	ID       string
	Session  *autosave.Session
	OpenedAt time.Time
}

type target struct {
	ref   model.EntityRef
	field model.Field
}

type ManagerOptions struct {
	Debounce    time.Duration
	SaveTimeout time.Duration
	Clock       autosave.Clock

	// OnClose runs with the id of every session the manager closes.
	OnClose func(id string)
}

// Manager owns every open session. Opening a field that already has a session closes
// the old one first, so each entity field has at most one draft.
type Manager struct {
	repo    repository.ContentRepository
	clients *sse.SSEClients
	opts    ManagerOptions

	sessions *cache.Cache[string, *Entry]
	targets  *cache.Cache[target, string]
	// Serializes Open and Close so sessions and targets stay consistent.
	mu sync.Mutex
}

func NewManager(repo repository.ContentRepository, clients *sse.SSEClients, opts ManagerOptions) *Manager {
	if clients == nil {
		clients = sse.NewSSEClients()
	}
	if opts.Clock == nil {
		opts.Clock = autosave.SystemClock
	}
	return &Manager{
		repo:     repo,
		clients:  clients,
		opts:     opts,
		sessions: cache.NewCache[string, *Entry](),
		targets:  cache.NewCache[target, string](),
	}
}

// Open loads the remote value of field and starts a session on it.
func (m *Manager) Open(ctx context.Context, ref model.EntityRef, field model.Field) (*Entry, error) {
	entity, err := m.repo.Get(ctx, ref)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	session := autosave.New(ref, field, entity.Field(field), m.repo, autosave.Options{
		Debounce:    m.opts.Debounce,
		SaveTimeout: m.opts.SaveTimeout,
		Clock:       m.opts.Clock,
		Notifier:    sseNotifier{clients: m.clients, sessionID: id},
		IsNotFound:  repository.IsNotFound,
	})
	entry := &Entry{ID: id, Session: session, OpenedAt: m.opts.Clock.Now()}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.targets.Swap(target{ref: ref, field: field}, id); ok {
		m.closeLocked(prev, "replaced")
	}
	m.sessions.Set(id, entry)

	editorLogger.Info().
		Str("session", id).
		Str("entity", ref.String()).
		Str("field", string(field)).
		Msg("Edit session opened")

	return entry, nil
}

func (m *Manager) Get(id string) (*Entry, error) {
	entry, ok := m.sessions.Get(id)
	if !ok {
		return nil, errors.Wrapf(ErrSessionNotFound, "%s", id)
	}
	return entry, nil
}

func (m *Manager) Close(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions.Get(id)
	if !ok {
		return errors.Wrapf(ErrSessionNotFound, "%s", id)
	}
	t := target{ref: entry.Session.Ref(), field: entry.Session.Field()}
	if current, ok := m.targets.Get(t); ok && current == id {
		m.targets.Delete(t)
	}
	m.closeLocked(id, "closed")
	return nil
}

func (m *Manager) closeLocked(id, reason string) {
	entry, ok := m.sessions.Pop(id)
	if !ok {
		return
	}
	entry.Session.Close()
	m.clients.CloseTopic(id)
	if m.opts.OnClose != nil {
		m.opts.OnClose(id)
	}

	editorLogger.Info().
		Str("session", id).
		Str("entity", entry.Session.Ref().String()).
		Str("reason", reason).
		Bool("dirty", entry.Session.IsDirty()).
		Msg("Edit session closed")
}

// Reload re-reads the remote value and adopts it when the session has no unsaved changes.
func (m *Manager) Reload(ctx context.Context, id string) (bool, error) {
	entry, err := m.Get(id)
	if err != nil {
		return false, err
	}
	entity, err := m.repo.Get(ctx, entry.Session.Ref())
	if err != nil {
		return false, err
	}
	return entry.Session.AdoptBaseline(entity.Field(entry.Session.Field())), nil
}

func (m *Manager) Len() int {
	return m.sessions.Len()
}

// Shutdown saves every dirty session and closes all of them. It returns the number of
// sessions whose changes could not be saved.
func (m *Manager) Shutdown(ctx context.Context) int {
	entries := m.sessions.Values()

	var wg sync.WaitGroup
	var mu sync.Mutex
	lost := 0
	for _, e := range entries {
		if !e.Session.IsDirty() && !e.Session.IsSaving() {
			continue
		}
		wg.Add(1)
		go func(e *Entry) {
			defer wg.Done()
			if !e.Session.Save(ctx) {
				mu.Lock()
				lost++
				mu.Unlock()
				editorLogger.Warn().
					Str("session", e.ID).
					Str("entity", e.Session.Ref().String()).
					Msg("Unsaved changes lost on shutdown")
			}
		}(e)
	}
	wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.closeLocked(e.ID, "shutdown")
	}
	m.targets.Clear()
	return lost
}
