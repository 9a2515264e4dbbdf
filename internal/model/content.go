// Package model defines the course content entities edited through autosave sessions.
package model

import (
	"fmt"
	"time"
)

type EntityKind string

const (
	KindCourse EntityKind = "course"
	KindModule EntityKind = "module"
	KindLesson EntityKind = "lesson"
	KindQuiz   EntityKind = "quiz"
)

var kinds = []EntityKind{KindCourse, KindModule, KindLesson, KindQuiz}

func Kinds() []EntityKind {
	return append([]EntityKind(nil), kinds...)
}

func ParseKind(s string) (EntityKind, error) {
	for _, k := range kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown entity kind: %q", s)
}

// ParentKind returns the kind an entity of kind k is nested under, or "" for courses.
func (k EntityKind) ParentKind() EntityKind {
	switch k {
	case KindModule:
		return KindCourse
	case KindLesson, KindQuiz:
		return KindModule
	default:
		return ""
	}
}

type EntityID string

// EntityRef identifies one remote content record.
type EntityRef struct {
	Kind EntityKind
	ID   EntityID
}

func (r EntityRef) String() string {
	return string(r.Kind) + "/" + string(r.ID)
}

// Field names one editable text field of an entity.
type Field string

const (
	FieldTitle       Field = "title"
	FieldDescription Field = "description"
	FieldBody        Field = "body"
)

func ParseField(s string) (Field, error) {
	switch Field(s) {
	case FieldTitle, FieldDescription, FieldBody:
		return Field(s), nil
	}
	return "", fmt.Errorf("unknown field: %q", s)
}

// ContentPatch is a partial update. A nil field means "no change".
type ContentPatch struct {
	Title       *string
	Description *string
	Body        *string
}

// PatchField builds a patch that only sets f.
func PatchField(f Field, value string) ContentPatch {
	var p ContentPatch
	switch f {
	case FieldTitle:
		p.Title = &value
	case FieldDescription:
		p.Description = &value
	case FieldBody:
		p.Body = &value
	}
	return p
}

func (p ContentPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Body == nil
}

// Apply writes the non-nil fields of p onto e.
func (p ContentPatch) Apply(e *Entity) {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.Body != nil {
		e.Body = *p.Body
	}
}

type Entity struct {
	Ref      EntityRef
	ParentID EntityID

	Title       string
	Description string
	Body        string

	// Hash of the stored body, used as an ETag and for change detection.
	BodyHash string

	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Field returns the current value of f.
func (e *Entity) Field(f Field) string {
	switch f {
	case FieldTitle:
		return e.Title
	case FieldDescription:
		return e.Description
	case FieldBody:
		return e.Body
	}
	return ""
}

// NewEntity is the input for creating a content record.
type NewEntity struct {
	Kind        EntityKind
	ParentID    EntityID
	Title       string
	Description string
	Body        string
}
