package editor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/debemdeboas/lectern/internal/autosave"
	"github.com/debemdeboas/lectern/internal/config"
	"github.com/debemdeboas/lectern/internal/model"
	"github.com/debemdeboas/lectern/internal/render"
	"github.com/debemdeboas/lectern/internal/repository"
	"github.com/debemdeboas/lectern/internal/routes"
	"github.com/debemdeboas/lectern/internal/sse"
)

const (
	maxBodyBytes = 4 << 20

	sseBuffer = 16
)

type Handler struct {
	manager  *Manager
	repo     repository.ContentRepository
	clients  *sse.SSEClients
	renderer *render.Renderer // nil disables previews
}

func NewHandler(manager *Manager, repo repository.ContentRepository, clients *sse.SSEClients, renderer *render.Renderer) *Handler {
	return &Handler{
		manager:  manager,
		repo:     repo,
		clients:  clients,
		renderer: renderer,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc(routes.Health, h.serveHealth)

	mux.HandleFunc(routes.CreateEntity, requireEditor(h.serveCreateEntity))
	mux.HandleFunc(routes.GetEntity, h.serveGetEntity)
	mux.HandleFunc(routes.OpenSession, requireEditor(h.serveOpenSession))

	mux.HandleFunc(routes.GetSession, h.withSession(h.serveGetSession))
	mux.HandleFunc(routes.CloseSession, requireEditor(h.withSession(h.serveCloseSession)))
	mux.HandleFunc(routes.SetDraft, requireEditor(h.withSession(h.serveSetDraft)))
	mux.HandleFunc(routes.SaveSession, requireEditor(h.withSession(h.serveSave)))
	mux.HandleFunc(routes.CancelSession, requireEditor(h.withSession(h.serveCancel)))
	mux.HandleFunc(routes.ReloadSession, requireEditor(h.withSession(h.serveReload)))
	mux.HandleFunc(routes.SessionEvents, h.withSession(h.serveEvents))
	mux.HandleFunc(routes.PreviewSession, h.withSession(h.servePreview))

	mux.HandleFunc(routes.SyntaxCSS, h.serveSyntaxCSS)
}

// requireEditor rejects callers whose role may not change content.
func requireEditor(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get(config.HRole) {
		case config.RoleFaculty, config.RoleAdmin:
			next(w, r)
		default:
			writeError(w, http.StatusForbidden, "editing requires the faculty or admin role")
		}
	}
}

type sessionHandlerFunc func(w http.ResponseWriter, r *http.Request, entry *Entry)

func (h *Handler) withSession(next sessionHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, err := h.manager.Get(r.PathValue(routes.SessionID))
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		next(w, r, entry)
	}
}

func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": h.manager.Len()})
}

type createEntityRequest struct {
	ParentID    string `json:"parent_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Body        string `json:"body"`
}

func (h *Handler) serveCreateEntity(w http.ResponseWriter, r *http.Request) {
	kind, err := model.ParseKind(r.PathValue(routes.Kind))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var req createEntityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if kind.ParentKind() != "" && req.ParentID == "" {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("a %s needs a parent %s", kind, kind.ParentKind()))
		return
	}

	entity, err := h.repo.Create(r.Context(), model.NewEntity{
		Kind:        kind,
		ParentID:    model.EntityID(req.ParentID),
		Title:       req.Title,
		Description: req.Description,
		Body:        req.Body,
	})
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newEntityResponse(entity))
}

func (h *Handler) serveGetEntity(w http.ResponseWriter, r *http.Request) {
	kind, err := model.ParseKind(r.PathValue(routes.Kind))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	entity, err := h.repo.Get(r.Context(), model.EntityRef{Kind: kind, ID: model.EntityID(r.PathValue(routes.EntityID))})
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newEntityResponse(entity))
}

func (h *Handler) serveOpenSession(w http.ResponseWriter, r *http.Request) {
	kind, err := model.ParseKind(r.PathValue(routes.Kind))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	adapter, err := AdapterFor(kind)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	field, err := adapter.ResolveField(r.URL.Query().Get("field"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ref := model.EntityRef{Kind: kind, ID: model.EntityID(r.PathValue(routes.EntityID))}
	entry, err := h.manager.Open(r.Context(), ref, field)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSessionResponse(entry))
}

func (h *Handler) serveGetSession(w http.ResponseWriter, r *http.Request, entry *Entry) {
	writeJSON(w, http.StatusOK, newSessionResponse(entry))
}

func (h *Handler) serveCloseSession(w http.ResponseWriter, r *http.Request, entry *Entry) {
	if err := h.manager.Close(entry.ID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setDraftRequest struct {
	Draft *string `json:"draft"`
}

func (h *Handler) serveSetDraft(w http.ResponseWriter, r *http.Request, entry *Entry) {
	var req setDraftRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Draft == nil {
		writeError(w, http.StatusBadRequest, "draft is required")
		return
	}

	if err := entry.Session.SetDraft(*req.Draft); err != nil {
		writeError(w, http.StatusGone, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(entry))
}

type saveResponse struct {
	Saved bool `json:"saved"`
	sessionResponse
}

func (h *Handler) serveSave(w http.ResponseWriter, r *http.Request, entry *Entry) {
	saved := entry.Session.Save(r.Context())
	writeJSON(w, http.StatusOK, saveResponse{Saved: saved, sessionResponse: newSessionResponse(entry)})
}

type cancelResponse struct {
	Outcome string `json:"outcome"`
	sessionResponse
}

func (h *Handler) serveCancel(w http.ResponseWriter, r *http.Request, entry *Entry) {
	// The client confirms up front; without it a dirty session is left alone.
	var confirm autosave.Confirmer
	if r.URL.Query().Get("confirm") == "true" {
		confirm = autosave.AlwaysConfirm
	}

	outcome, err := entry.Session.Cancel(r.Context(), confirm)
	resp := cancelResponse{Outcome: outcome.String(), sessionResponse: newSessionResponse(entry)}
	switch {
	case errors.Is(err, autosave.ErrConfirmationRequired):
		writeJSON(w, http.StatusConflict, resp)
	case errors.Is(err, autosave.ErrClosed):
		writeError(w, http.StatusGone, err.Error())
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

type reloadResponse struct {
	Adopted bool `json:"adopted"`
	sessionResponse
}

func (h *Handler) serveReload(w http.ResponseWriter, r *http.Request, entry *Entry) {
	adopted, err := h.manager.Reload(r.Context(), entry.ID)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reloadResponse{Adopted: adopted, sessionResponse: newSessionResponse(entry)})
}

type previewRequest struct {
	Theme string `json:"theme"`
}

func (h *Handler) servePreview(w http.ResponseWriter, r *http.Request, entry *Entry) {
	if h.renderer == nil {
		writeError(w, http.StatusNotFound, "preview is disabled")
		return
	}

	// An empty body selects the default theme.
	var req previewRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Theme != "" && !render.IsSyntaxTheme(req.Theme) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown syntax theme %q", req.Theme))
		return
	}

	writeJSON(w, http.StatusOK, h.renderer.Render(entry.ID, []byte(entry.Session.Draft()), req.Theme))
}

func (h *Handler) serveSyntaxCSS(w http.ResponseWriter, r *http.Request) {
	theme := r.URL.Query().Get("theme")
	if !render.IsSyntaxTheme(theme) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown syntax theme %q", theme))
		return
	}
	w.Header().Set(config.HCType, "text/css")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, render.SyntaxCSS(theme))
}

func (h *Handler) serveEvents(w http.ResponseWriter, r *http.Request, entry *Entry) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	client := sse.NewClient(entry.ID, sseBuffer)
	h.clients.Add(client)
	defer h.clients.Delete(client)

	// The session may have closed between lookup and Add, after its topic was closed.
	if entry.Session.Snapshot().Closed {
		writeError(w, http.StatusNotFound, ErrSessionNotFound.Error())
		return
	}

	w.Header().Set(config.HCType, config.CTypeEventStream)
	w.Header().Set(config.HCacheControl, "no-cache")
	w.Header().Set(config.HConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)

	snapshot, _ := json.Marshal(newSessionResponse(entry))
	sse.Message{Event: "connected", Data: string(snapshot)}.WriteTo(w)
	flusher.Flush()

	editorLogger.Debug().Str("session", entry.ID).Msg("SSE client connected")
	defer func() {
		editorLogger.Debug().Str("session", entry.ID).Msg("SSE client disconnected")
	}()

	notify := r.Context().Done()
	for {
		select {
		case msg, ok := <-client.Msg:
			if !ok {
				return
			}
			if _, err := msg.WriteTo(w); err != nil {
				return
			}
			flusher.Flush()
		case <-notify:
			return
		}
	}
}

type sessionResponse struct {
	SessionID   string     `json:"session_id"`
	Kind        string     `json:"kind"`
	EntityID    string     `json:"entity_id"`
	Field       string     `json:"field"`
	Draft       string     `json:"draft"`
	Baseline    string     `json:"baseline"`
	State       string     `json:"state"`
	IsDirty     bool       `json:"is_dirty"`
	IsSaving    bool       `json:"is_saving"`
	LastSavedAt *time.Time `json:"last_saved_at"`
	LastError   string     `json:"last_error,omitempty"`
	Stale       bool       `json:"stale"`
	Revision    uint64     `json:"revision"`
}

func newSessionResponse(entry *Entry) sessionResponse {
	s := entry.Session.Snapshot()
	resp := sessionResponse{
		SessionID: entry.ID,
		Kind:      string(s.Ref.Kind),
		EntityID:  string(s.Ref.ID),
		Field:     string(s.Field),
		Draft:     s.Draft,
		Baseline:  s.Baseline,
		State:     s.State.String(),
		IsDirty:   s.IsDirty,
		IsSaving:  s.IsSaving,
		Stale:     s.Stale,
		Revision:  s.Revision,
	}
	if !s.LastSavedAt.IsZero() {
		t := s.LastSavedAt
		resp.LastSavedAt = &t
	}
	if s.LastError != nil {
		resp.LastError = s.LastError.Error()
	}
	return resp
}

type entityResponse struct {
	Kind        string    `json:"kind"`
	ID          string    `json:"id"`
	ParentID    string    `json:"parent_id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Body        string    `json:"body"`
	BodyHash    string    `json:"body_hash"`
	CreatedAt   time.Time `json:"created_at"`
	ModifiedAt  time.Time `json:"modified_at"`
}

func newEntityResponse(e *model.Entity) entityResponse {
	return entityResponse{
		Kind:        string(e.Ref.Kind),
		ID:          string(e.Ref.ID),
		ParentID:    string(e.ParentID),
		Title:       e.Title,
		Description: e.Description,
		Body:        e.Body,
		BodyHash:    e.BodyHash,
		CreatedAt:   e.CreatedAt,
		ModifiedAt:  e.ModifiedAt,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(config.HCType, config.CTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		editorLogger.Error().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeRepoError(w http.ResponseWriter, err error) {
	switch {
	case repository.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, repository.ErrInvalidParent):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, repository.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		editorLogger.Error().Stack().Err(err).Msg("Content store request failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "invalid request body")
	}
	return nil
}
