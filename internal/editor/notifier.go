package editor

import (
	"encoding/json"

	"github.com/debemdeboas/lectern/internal/autosave"
	"github.com/debemdeboas/lectern/internal/sse"
)

// sseNotifier forwards the events of one session to the SSE clients subscribed to it.
type sseNotifier struct { // implements autosave.Notifier
	clients   *sse.SSEClients
	sessionID string
}

type eventPayload struct {
	SessionID  string `json:"session_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	autosave.Event
}

func (n sseNotifier) Publish(e autosave.Event) {
	data, err := json.Marshal(eventPayload{
		SessionID:  n.sessionID,
		EntityKind: string(e.Ref.Kind),
		EntityID:   string(e.Ref.ID),
		Event:      e,
	})
	if err != nil {
		editorLogger.Error().Err(err).Str("session", n.sessionID).Msg("Failed to encode session event")
		return
	}
	n.clients.Broadcast(n.sessionID, sse.Message{Event: string(e.Kind), Data: string(data)})
}
