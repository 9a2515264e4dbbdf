package autosave

import "github.com/rs/zerolog"

var sessionLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	sessionLogger = l
}
