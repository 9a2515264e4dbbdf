package autosave

import "github.com/pkg/errors"

var (
	ErrClosed               = errors.New("edit session is closed")
	ErrConfirmationRequired = errors.New("discarding unsaved changes requires confirmation")
)
