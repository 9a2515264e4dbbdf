// Package editor exposes autosave sessions over HTTP and keeps one session per edited field.
package editor

import (
	"github.com/pkg/errors"

	"github.com/debemdeboas/lectern/internal/model"
)

var ErrUnknownKind = errors.New("unknown entity kind")

// Adapter binds an entity kind to the field its editor works on by default.
// The autosave protocol itself is the same for every kind.
type Adapter struct {
	Kind         model.EntityKind
	DefaultField model.Field
}

var adapters = map[model.EntityKind]Adapter{
	model.KindCourse: {Kind: model.KindCourse, DefaultField: model.FieldDescription},
	model.KindModule: {Kind: model.KindModule, DefaultField: model.FieldDescription},
	model.KindLesson: {Kind: model.KindLesson, DefaultField: model.FieldBody},
	model.KindQuiz:   {Kind: model.KindQuiz, DefaultField: model.FieldBody},
}

func AdapterFor(kind model.EntityKind) (Adapter, error) {
	a, ok := adapters[kind]
	if !ok {
		return Adapter{}, errors.Wrapf(ErrUnknownKind, "%q", kind)
	}
	return a, nil
}

// ResolveField returns the requested field, or the adapter default for "".
func (a Adapter) ResolveField(name string) (model.Field, error) {
	if name == "" {
		return a.DefaultField, nil
	}
	return model.ParseField(name)
}
