package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/debemdeboas/lectern/internal/model"
	"github.com/debemdeboas/lectern/internal/util"
)

// Conditional writes can lose a race with another writer; the update is retried this
// many times before giving up.
const s3MaxUpdateAttempts = 3

// S3API is the subset of the S3 client used by the repository.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Options struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// S3ContentRepository stores one JSON object per entity under prefix/kind/id.json.
type S3ContentRepository struct { // implements ContentRepository
	client S3API
	bucket string
	prefix string

	clock func() time.Time
}

type s3Entity struct {
	Kind        model.EntityKind `json:"kind"`
	ID          model.EntityID   `json:"id"`
	ParentID    model.EntityID   `json:"parent_id,omitempty"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Body        string           `json:"body"`
	BodyHash    string           `json:"body_hash"`
	CreatedAt   time.Time        `json:"created_at"`
	ModifiedAt  time.Time        `json:"modified_at"`
}

func NewS3ContentRepository(ctx context.Context, opts S3Options) (*S3ContentRepository, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "error initializing S3 client")
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3ContentRepositoryWithClient(client, opts.Bucket, opts.Prefix), nil
}

func NewS3ContentRepositoryWithClient(client S3API, bucket, prefix string) *S3ContentRepository {
	return &S3ContentRepository{
		client: client,
		bucket: bucket,
		prefix: prefix,
		clock:  time.Now,
	}
}

func (r *S3ContentRepository) objectKey(ref model.EntityRef) string {
	return path.Join(r.prefix, string(ref.Kind), string(ref.ID)+".json")
}

func (r *S3ContentRepository) Create(ctx context.Context, in model.NewEntity) (*model.Entity, error) {
	if parent, ok := parentRef(in); ok {
		if _, err := r.Get(ctx, parent); err != nil {
			if IsNotFound(err) {
				return nil, errors.Wrapf(ErrInvalidParent, "%s", parent)
			}
			return nil, err
		}
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

	if err := r.put(ctx, e, &s3.PutObjectInput{IfNoneMatch: aws.String("*")}); err != nil {
		if isPreconditionFailed(err) {
			return nil, errors.Wrapf(ErrAlreadyExists, "%s", e.Ref)
		}
		return nil, err
	}

	repoLogger.Debug().Str("entity", e.Ref.String()).Str("bucket", r.bucket).Msg("Entity created")
	return e, nil
}

func (r *S3ContentRepository) Get(ctx context.Context, ref model.EntityRef) (*model.Entity, error) {
	e, _, err := r.get(ctx, ref)
	return e, err
}

func (r *S3ContentRepository) UpsertContent(ctx context.Context, ref model.EntityRef, patch model.ContentPatch) error {
	if patch.IsEmpty() {
		return errors.WithStack(ErrInvalidPatch)
	}

	var err error
	for attempt := 1; attempt <= s3MaxUpdateAttempts; attempt++ {
		var e *model.Entity
		var etag *string
		e, etag, err = r.get(ctx, ref)
		if err != nil {
			return err
		}

		patch.Apply(e)
		e.BodyHash = util.ContentHashString(e.Body)
		e.ModifiedAt = r.clock().UTC()

		err = r.put(ctx, e, &s3.PutObjectInput{IfMatch: etag})
		if err == nil {
			return nil
		}
		if !isPreconditionFailed(err) {
			return err
		}

		repoLogger.Warn().
			Str("entity", ref.String()).
			Int("attempt", attempt).
			Msg("Concurrent S3 write detected, retrying")
	}
	return errors.Wrap(err, "giving up after concurrent writes")
}

func (r *S3ContentRepository) get(ctx context.Context, ref model.EntityRef) (*model.Entity, *string, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.objectKey(ref)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, nil, errors.Wrapf(ErrNotFound, "%s", ref)
		}
		return nil, nil, errors.Wrap(err, "error reading S3 object")
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, nil, errors.Wrap(err, "error reading S3 object body")
	}

	var obj s3Entity
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, nil, errors.Wrap(err, "error decoding S3 object")
	}

	return &model.Entity{
		Ref:         model.EntityRef{Kind: obj.Kind, ID: obj.ID},
		ParentID:    obj.ParentID,
		Title:       obj.Title,
		Description: obj.Description,
		Body:        obj.Body,
		BodyHash:    obj.BodyHash,
		CreatedAt:   obj.CreatedAt,
		ModifiedAt:  obj.ModifiedAt,
	}, out.ETag, nil
}

// put writes e using the conditional headers already set on in.
func (r *S3ContentRepository) put(ctx context.Context, e *model.Entity, in *s3.PutObjectInput) error {
	data, err := json.Marshal(s3Entity{
		Kind:        e.Ref.Kind,
		ID:          e.Ref.ID,
		ParentID:    e.ParentID,
		Title:       e.Title,
		Description: e.Description,
		Body:        e.Body,
		BodyHash:    e.BodyHash,
		CreatedAt:   e.CreatedAt,
		ModifiedAt:  e.ModifiedAt,
	})
	if err != nil {
		return errors.Wrap(err, "error encoding S3 object")
	}

	in.Bucket = aws.String(r.bucket)
	in.Key = aws.String(r.objectKey(e.Ref))
	in.Body = bytes.NewReader(data)
	in.ContentType = aws.String("application/json")

	if _, err := r.client.PutObject(ctx, in); err != nil {
		return errors.Wrap(err, "error writing S3 object")
	}
	return nil
}

func isNoSuchKey(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed"
}
