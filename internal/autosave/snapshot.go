package autosave

import (
	"time"

	"github.com/debemdeboas/lectern/internal/model"
)

// Snapshot is a consistent view of a session at one instant.
type Snapshot struct {
	Ref         model.EntityRef
	Field       model.Field
	Draft       string
	Baseline    string
	State       State
	IsDirty     bool
	IsSaving    bool
	LastSavedAt time.Time
	LastError   error
	// Stale is set when the store reported the entity as gone.
	Stale    bool
	Revision uint64
	Closed   bool
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		Ref:         s.ref,
		Field:       s.field,
		Draft:       s.draft,
		Baseline:    s.baseline,
		State:       s.state,
		IsDirty:     s.dirty(),
		IsSaving:    s.inflight != nil,
		LastSavedAt: s.lastSavedAt,
		LastError:   s.lastErr,
		Stale:       s.stale,
		Revision:    s.rev,
		Closed:      s.closed,
	}
}
