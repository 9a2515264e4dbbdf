package autosave

type State int

const (
	// Idle means there are no unsaved changes.
	Idle State = iota
	// PendingSave means the draft changed and the debounce timer is running.
	PendingSave
	// Saving means one persistence call is in flight.
	Saving
	// SaveFailed means the draft is dirty and the last attempt errored.
	SaveFailed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PendingSave:
		return "pending_save"
	case Saving:
		return "saving"
	case SaveFailed:
		return "save_failed"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
