// Package repository stores course content entities.
package repository

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/debemdeboas/lectern/internal/model"
)

var (
	ErrNotFound      = errors.New("content entity not found")
	ErrInvalidPatch  = errors.New("content patch sets no fields")
	ErrInvalidParent = errors.New("parent entity not found")
	ErrAlreadyExists = errors.New("content entity already exists")
)

type ContentRepository interface {
	Create(ctx context.Context, in model.NewEntity) (*model.Entity, error)
	Get(ctx context.Context, ref model.EntityRef) (*model.Entity, error)

	// UpsertContent applies patch to an existing entity. Nil patch fields are left as
	// they are. Repeating the same patch is safe.
	UpsertContent(ctx context.Context, ref model.EntityRef, patch model.ContentPatch) error
}

var repoLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	repoLogger = l
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func parentRef(in model.NewEntity) (model.EntityRef, bool) {
	kind := in.Kind.ParentKind()
	if kind == "" {
		return model.EntityRef{}, false
	}
	return model.EntityRef{Kind: kind, ID: in.ParentID}, true
}
