package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/debemdeboas/lectern/internal/model"
	"github.com/debemdeboas/lectern/internal/util"
)

// MemoryContentRepository keeps entities in a sync.Map. Stored values are never mutated;
// updates swap in a modified copy.
type MemoryContentRepository struct {
	entities sync.Map // model.EntityRef -> *model.Entity

	clock func() time.Time
}

func NewMemoryContentRepository() *MemoryContentRepository {
	return &MemoryContentRepository{clock: time.Now}
}

func (m *MemoryContentRepository) Create(ctx context.Context, in model.NewEntity) (*model.Entity, error) {
	if parent, ok := parentRef(in); ok {
		if _, exists := m.entities.Load(parent); !exists {
			return nil, errors.Wrapf(ErrInvalidParent, "%s", parent)
		}
	}

	now := m.clock().UTC()
	e := &model.Entity{
		Ref:         model.EntityRef{Kind: in.Kind, ID: model.EntityID(uuid.New().String())},
		ParentID:    in.ParentID,
		Title:       in.Title,
		Description: in.Description,
		Body:        in.Body,
		BodyHash:    util.ContentHashString(in.Body),
		CreatedAt:   now,
		ModifiedAt:  now,
	}

	if _, loaded := m.entities.LoadOrStore(e.Ref, e); loaded {
		return nil, errors.Wrapf(ErrAlreadyExists, "%s", e.Ref)
	}

	copied := *e
	return &copied, nil
}

func (m *MemoryContentRepository) Get(ctx context.Context, ref model.EntityRef) (*model.Entity, error) {
	v, ok := m.entities.Load(ref)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%s", ref)
	}
	copied := *v.(*model.Entity)
	return &copied, nil
}

func (m *MemoryContentRepository) UpsertContent(ctx context.Context, ref model.EntityRef, patch model.ContentPatch) error {
	if patch.IsEmpty() {
		return errors.WithStack(ErrInvalidPatch)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		old, ok := m.entities.Load(ref)
		if !ok {
			return errors.Wrapf(ErrNotFound, "%s", ref)
		}

		updated := *old.(*model.Entity)
		patch.Apply(&updated)
		updated.BodyHash = util.ContentHashString(updated.Body)
		updated.ModifiedAt = m.clock().UTC()

		if m.entities.CompareAndSwap(ref, old, &updated) {
			return nil
		}
	}
}
