package editor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/debemdeboas/lectern/internal/config"
	"github.com/debemdeboas/lectern/internal/model"
	"github.com/debemdeboas/lectern/internal/render"
	"github.com/debemdeboas/lectern/internal/repository"
	"github.com/debemdeboas/lectern/internal/sse"
)

type testServer struct {
	mux      *http.ServeMux
	manager  *Manager
	repo     *repository.MemoryContentRepository
	renderer *render.Renderer
	clients  *sse.SSEClients
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	repo := repository.NewMemoryContentRepository()
	clients := sse.NewSSEClients()
	renderer := render.NewRenderer(render.EngineMmark, "github")
	manager := NewManager(repo, clients, ManagerOptions{Debounce: testDebounce, OnClose: renderer.Forget})
	t.Cleanup(func() { manager.Shutdown(context.Background()) })

	mux := http.NewServeMux()
	NewHandler(manager, repo, clients, renderer).Register(mux)
	return &testServer{mux: mux, manager: manager, repo: repo, renderer: renderer, clients: clients}
}

func (s *testServer) do(t *testing.T, method, path, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if role != "" {
		req.Header.Set(config.HRole, role)
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("Expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
}

func (s *testServer) openLessonSession(t *testing.T) (sessionResponse, *model.Entity) {
	t.Helper()
	lesson := seedLesson(t, s.repo)
	rec := s.do(t, http.MethodPost, "/api/lesson/"+string(lesson.Ref.ID)+"/sessions", config.RoleFaculty, nil)
	expectStatus(t, rec, http.StatusCreated)
	return decode[sessionResponse](t, rec), lesson
}

func TestCreateAndGetEntity(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/course", config.RoleAdmin, createEntityRequest{Title: "Go", Description: "Intro"})
	expectStatus(t, rec, http.StatusCreated)
	course := decode[entityResponse](t, rec)

	rec = s.do(t, http.MethodGet, "/api/course/"+course.ID, "", nil)
	expectStatus(t, rec, http.StatusOK)
	got := decode[entityResponse](t, rec)
	if got.Title != "Go" || got.Description != "Intro" {
		t.Errorf("Expected stored course, got %+v", got)
	}

	t.Run("Module needs a parent", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/module", config.RoleAdmin, createEntityRequest{Title: "Orphan"})
		expectStatus(t, rec, http.StatusBadRequest)
	})

	t.Run("Unknown parent", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/module", config.RoleAdmin, createEntityRequest{ParentID: "missing", Title: "Orphan"})
		expectStatus(t, rec, http.StatusUnprocessableEntity)
	})

	t.Run("Unknown kind", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/chapter/1", "", nil)
		expectStatus(t, rec, http.StatusNotFound)
	})

	t.Run("Missing entity", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/course/missing", "", nil)
		expectStatus(t, rec, http.StatusNotFound)
	})

	t.Run("Students cannot create", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/course", config.RoleStudent, createEntityRequest{Title: "Nope"})
		expectStatus(t, rec, http.StatusForbidden)
	})
}

func TestSessionSaveFlow(t *testing.T) {
	s := newTestServer(t)
	session, lesson := s.openLessonSession(t)
	base := "/api/sessions/" + session.SessionID

	if session.Field != "body" || session.Draft != "v1" || session.State != "idle" {
		t.Fatalf("Expected clean body session, got %+v", session)
	}

	rec := s.do(t, http.MethodPut, base+"/draft", config.RoleFaculty, map[string]string{"draft": "v2"})
	expectStatus(t, rec, http.StatusOK)
	edited := decode[sessionResponse](t, rec)
	if !edited.IsDirty || edited.State != "pending_save" {
		t.Errorf("Expected dirty pending session, got %+v", edited)
	}

	rec = s.do(t, http.MethodPost, base+"/save", config.RoleFaculty, nil)
	expectStatus(t, rec, http.StatusOK)
	saved := decode[saveResponse](t, rec)
	if !saved.Saved {
		t.Fatalf("Expected save to succeed, got %+v", saved)
	}
	if saved.IsDirty || saved.Baseline != "v2" || saved.LastSavedAt == nil {
		t.Errorf("Expected clean session with new baseline, got %+v", saved.sessionResponse)
	}

	got, _ := s.repo.Get(context.Background(), lesson.Ref)
	if got.Body != "v2" {
		t.Errorf("Expected stored body 'v2', got %q", got.Body)
	}
	if got.Title != "Vars" {
		t.Errorf("Expected title untouched, got %q", got.Title)
	}
}

func TestSessionFieldSelection(t *testing.T) {
	s := newTestServer(t)
	lesson := seedLesson(t, s.repo)

	rec := s.do(t, http.MethodPost, "/api/lesson/"+string(lesson.Ref.ID)+"/sessions?field=title", config.RoleFaculty, nil)
	expectStatus(t, rec, http.StatusCreated)
	session := decode[sessionResponse](t, rec)
	if session.Field != "title" || session.Draft != "Vars" {
		t.Errorf("Expected title session, got %+v", session)
	}

	rec = s.do(t, http.MethodPost, "/api/lesson/"+string(lesson.Ref.ID)+"/sessions?field=author", config.RoleFaculty, nil)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = s.do(t, http.MethodPost, "/api/lesson/missing/sessions", config.RoleFaculty, nil)
	expectStatus(t, rec, http.StatusNotFound)
}

func TestSessionCancel(t *testing.T) {
	s := newTestServer(t)
	session, _ := s.openLessonSession(t)
	base := "/api/sessions/" + session.SessionID

	t.Run("Clean cancel", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, base+"/cancel", config.RoleFaculty, nil)
		expectStatus(t, rec, http.StatusOK)
		if got := decode[cancelResponse](t, rec); got.Outcome != "clean" {
			t.Errorf("Expected outcome 'clean', got %q", got.Outcome)
		}
	})

	s.do(t, http.MethodPut, base+"/draft", config.RoleFaculty, map[string]string{"draft": "scratch"})

	t.Run("Dirty cancel needs confirmation", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, base+"/cancel", config.RoleFaculty, nil)
		expectStatus(t, rec, http.StatusConflict)
		got := decode[cancelResponse](t, rec)
		if got.Draft != "scratch" {
			t.Errorf("Expected draft kept, got %q", got.Draft)
		}
	})

	t.Run("Confirmed cancel reverts", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, base+"/cancel?confirm=true", config.RoleFaculty, nil)
		expectStatus(t, rec, http.StatusOK)
		got := decode[cancelResponse](t, rec)
		if got.Outcome != "discarded" || got.Draft != "v1" || got.IsDirty || got.State != "idle" {
			t.Errorf("Expected reverted idle session, got %+v", got)
		}
	})
}

func TestSessionRoleGating(t *testing.T) {
	s := newTestServer(t)
	session, _ := s.openLessonSession(t)
	base := "/api/sessions/" + session.SessionID

	for _, tc := range []struct {
		method, path string
	}{
		{http.MethodPut, base + "/draft"},
		{http.MethodPost, base + "/save"},
		{http.MethodPost, base + "/cancel"},
		{http.MethodPost, base + "/reload"},
		{http.MethodDelete, base},
	} {
		rec := s.do(t, tc.method, tc.path, config.RoleStudent, map[string]string{"draft": "x"})
		if rec.Code != http.StatusForbidden {
			t.Errorf("Expected %s %s to be forbidden for students, got %d", tc.method, tc.path, rec.Code)
		}
	}

	// Reading is allowed for everyone
	rec := s.do(t, http.MethodGet, base, config.RoleStudent, nil)
	expectStatus(t, rec, http.StatusOK)

	rec = s.do(t, http.MethodPost, base+"/reload", config.RoleFaculty, nil)
	expectStatus(t, rec, http.StatusOK)
}

func TestSessionEventsAfterClose(t *testing.T) {
	s := newTestServer(t)
	session, _ := s.openLessonSession(t)

	entry, err := s.manager.Get(session.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.manager.Close(session.SessionID); err != nil {
		t.Fatal(err)
	}

	// The entry was looked up before Close; subscribing now must not hang.
	h := NewHandler(s.manager, s.repo, s.clients, s.renderer)
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+session.SessionID+"/events", nil)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.serveEvents(rec, req, entry)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected event stream of a closed session to return")
	}

	expectStatus(t, rec, http.StatusNotFound)
	if n := s.clients.Count(session.SessionID); n != 0 {
		t.Errorf("Expected no subscribers left, got %d", n)
	}
}

func TestSessionCloseAndUnknown(t *testing.T) {
	s := newTestServer(t)
	session, _ := s.openLessonSession(t)
	base := "/api/sessions/" + session.SessionID

	rec := s.do(t, http.MethodDelete, base, config.RoleAdmin, nil)
	expectStatus(t, rec, http.StatusNoContent)

	rec = s.do(t, http.MethodGet, base, "", nil)
	expectStatus(t, rec, http.StatusNotFound)

	rec = s.do(t, http.MethodPut, "/api/sessions/unknown/draft", config.RoleAdmin, map[string]string{"draft": "x"})
	expectStatus(t, rec, http.StatusNotFound)
}

func TestSessionDraftValidation(t *testing.T) {
	s := newTestServer(t)
	session, _ := s.openLessonSession(t)
	path := "/api/sessions/" + session.SessionID + "/draft"

	rec := s.do(t, http.MethodPut, path, config.RoleFaculty, map[string]string{})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = s.do(t, http.MethodPut, path, config.RoleFaculty, map[string]string{"body": "wrong key"})
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestSessionPreview(t *testing.T) {
	s := newTestServer(t)
	session, _ := s.openLessonSession(t)
	base := "/api/sessions/" + session.SessionID

	s.do(t, http.MethodPut, base+"/draft", config.RoleFaculty, map[string]string{"draft": "# Heading\n\n```go\nx := 1\n```\n"})

	rec := s.do(t, http.MethodPost, base+"/preview", "", nil)
	expectStatus(t, rec, http.StatusOK)
	preview := decode[render.Preview](t, rec)
	if !strings.Contains(preview.HTML, "Heading") || !strings.Contains(preview.HTML, "highlight") {
		t.Errorf("Expected rendered draft, got %q", preview.HTML)
	}

	rec = s.do(t, http.MethodPost, base+"/preview", "", previewRequest{Theme: "not-a-theme"})
	expectStatus(t, rec, http.StatusBadRequest)

	t.Run("One cached preview per session", func(t *testing.T) {
		for _, draft := range []string{"# One\n", "# One\n\nTwo\n", "# One\n\nTwo\n\nThree\n"} {
			s.do(t, http.MethodPut, base+"/draft", config.RoleFaculty, map[string]string{"draft": draft})
			expectStatus(t, s.do(t, http.MethodPost, base+"/preview", "", nil), http.StatusOK)
		}
		if s.renderer.Len() != 1 {
			t.Errorf("Expected 1 cached preview, got %d", s.renderer.Len())
		}

		expectStatus(t, s.do(t, http.MethodDelete, base, config.RoleFaculty, nil), http.StatusNoContent)
		if s.renderer.Len() != 0 {
			t.Errorf("Expected preview dropped on close, got %d", s.renderer.Len())
		}
	})

	rec = s.do(t, http.MethodGet, "/api/preview/syntax.css?theme=monokai", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), ".chroma") {
		t.Error("Expected chroma CSS")
	}
}

func TestSessionEvents(t *testing.T) {
	s := newTestServer(t)
	session, _ := s.openLessonSession(t)
	base := "/api/sessions/" + session.SessionID

	srv := httptest.NewServer(s.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+base+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get(config.HCType); ct != config.CTypeEventStream {
		t.Fatalf("Expected %s, got %q", config.CTypeEventStream, ct)
	}

	events := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
				events <- name
			}
		}
		close(events)
	}()

	expectEvent := func(want string) {
		t.Helper()
		for {
			select {
			case got, ok := <-events:
				if !ok {
					t.Fatalf("Stream ended before %q", want)
				}
				if got == want {
					return
				}
			case <-ctx.Done():
				t.Fatalf("Timed out waiting for %q", want)
			}
		}
	}

	expectEvent("connected")

	s.do(t, http.MethodPut, base+"/draft", config.RoleFaculty, map[string]string{"draft": "live"})
	expectEvent("draft.changed")

	s.do(t, http.MethodPost, base+"/save", config.RoleFaculty, nil)
	expectEvent("save.succeeded")

	s.do(t, http.MethodDelete, base, config.RoleFaculty, nil)
	expectEvent("session.closed")

	// Closing the session ends the stream.
	for range events {
	}
}
