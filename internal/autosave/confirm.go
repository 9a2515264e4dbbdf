package autosave

import (
	"context"

	"github.com/debemdeboas/lectern/internal/model"
)

// Confirmer asks the user whether unsaved changes may be discarded.
type Confirmer interface {
	ConfirmDiscard(ctx context.Context, ref model.EntityRef, field model.Field) bool
}

type ConfirmFunc func(ctx context.Context, ref model.EntityRef, field model.Field) bool

func (f ConfirmFunc) ConfirmDiscard(ctx context.Context, ref model.EntityRef, field model.Field) bool {
	return f(ctx, ref, field)
}

// AlwaysConfirm is used when the caller already obtained consent, e.g. an explicit
// confirm=true on the request.
var AlwaysConfirm Confirmer = ConfirmFunc(func(context.Context, model.EntityRef, model.Field) bool {
	return true
})

type CancelOutcome int

const (
	// CancelClean means there was nothing to discard.
	CancelClean CancelOutcome = iota
	// CancelDiscarded means the user confirmed and the draft was reverted.
	CancelDiscarded
	// CancelKept means the user declined; the draft is untouched.
	CancelKept
)

func (o CancelOutcome) String() string {
	switch o {
	case CancelClean:
		return "clean"
	case CancelDiscarded:
		return "discarded"
	case CancelKept:
		return "kept"
	}
	return "unknown"
}
