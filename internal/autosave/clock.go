package autosave

import "time"

// Timer is a pending callback scheduled by a Clock.
type Timer interface {
	Stop() bool
}

// Clock schedules the debounce timer. Tests swap it for a manual clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock is the wall clock backed by time.AfterFunc.
var SystemClock Clock = systemClock{}
