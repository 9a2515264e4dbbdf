package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/debemdeboas/lectern/internal/db"
	"github.com/debemdeboas/lectern/internal/model"
	"github.com/debemdeboas/lectern/internal/util"
	"github.com/debemdeboas/lectern/internal/util/compression"
)

const (
	selectEntity = `SELECT kind, id, parent_id, title, description, body, body_hash, created_at, modified_at
FROM content_entities WHERE kind = ? AND id = ?`

	insertEntity = `INSERT INTO content_entities
(kind, id, parent_id, title, description, body, body_hash, created_at, modified_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	// COALESCE keeps the stored value for every NULL (unset) patch field.
	updateContent = `UPDATE content_entities SET
title = COALESCE(?, title),
description = COALESCE(?, description),
body = COALESCE(?, body),
body_hash = COALESCE(?, body_hash),
modified_at = ?
WHERE kind = ? AND id = ?`
)

type DBContentRepository struct { // implements ContentRepository
	db         db.DB
	compressor compression.Compressor

	clock func() time.Time
}

func NewDBContentRepository(db db.DB, compressor compression.Compressor) *DBContentRepository {
	if compressor == nil {
		compressor = compression.ZstdCompressor{}
	}
	return &DBContentRepository{
		db:         db,
		compressor: compressor,
		clock:      time.Now,
	}
}

func (r *DBContentRepository) Create(ctx context.Context, in model.NewEntity) (*model.Entity, error) {
	if parent, ok := parentRef(in); ok {
		if _, err := r.Get(ctx, parent); err != nil {
			if IsNotFound(err) {
				return nil, errors.Wrapf(ErrInvalidParent, "%s", parent)
			}
			return nil, err
		}
	}

	compressed, err := r.compressor.Compress([]byte(in.Body))
	if err != nil {
		return nil, errors.Wrap(err, "error compressing body")
	}

	now := r.clock().UTC()
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

	_, err = r.db.Exec(ctx, insertEntity,
		e.Ref.Kind, e.Ref.ID, e.ParentID, e.Title, e.Description, compressed, e.BodyHash, e.CreatedAt, e.ModifiedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "error inserting entity")
	}

	repoLogger.Debug().Str("entity", e.Ref.String()).Msg("Entity created")
	return e, nil
}

func (r *DBContentRepository) Get(ctx context.Context, ref model.EntityRef) (*model.Entity, error) {
	var e model.Entity
	var compressed []byte
	var modified sql.NullTime

	err := r.db.QueryRow(ctx, selectEntity, ref.Kind, ref.ID).Scan(
		&e.Ref.Kind, &e.Ref.ID, &e.ParentID, &e.Title, &e.Description, &compressed, &e.BodyHash, &e.CreatedAt, &modified,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "%s", ref)
	}
	if err != nil {
		return nil, errors.Wrap(err, "error scanning entity")
	}
	e.ModifiedAt = modified.Time

	if len(compressed) > 0 {
		body, err := r.compressor.Decompress(compressed)
		if err != nil {
			return nil, errors.Wrap(err, "error decompressing body")
		}
		e.Body = string(body)
	}

	return &e, nil
}

func (r *DBContentRepository) UpsertContent(ctx context.Context, ref model.EntityRef, patch model.ContentPatch) error {
	if patch.IsEmpty() {
		return errors.WithStack(ErrInvalidPatch)
	}

	var body, bodyHash any
	if patch.Body != nil {
		compressed, err := r.compressor.Compress([]byte(*patch.Body))
		if err != nil {
			return errors.Wrap(err, "error compressing body")
		}
		body = compressed
		bodyHash = util.ContentHashString(*patch.Body)
	}

	res, err := r.db.Exec(ctx, updateContent,
		nullable(patch.Title), nullable(patch.Description), body, bodyHash, r.clock().UTC(), ref.Kind, ref.ID,
	)
	if err != nil {
		return errors.Wrap(err, "error saving content")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "error reading affected rows")
	}
	if n == 0 {
		return errors.Wrapf(ErrNotFound, "%s", ref)
	}

	repoLogger.Debug().Str("entity", ref.String()).Msg("Content saved")
	return nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
