// Package routes defines HTTP route patterns for the application.
package routes

// Path wildcards
const (
	Kind      = "kind"
	EntityID  = "id"
	SessionID = "sid"
)

// API Routes
const (
	Health = "GET /healthz"

	// Content entities
	CreateEntity = "POST /api/{kind}"
	GetEntity    = "GET /api/{kind}/{id}"
	OpenSession  = "POST /api/{kind}/{id}/sessions"

	// Edit sessions
	GetSession     = "GET /api/sessions/{sid}"
	CloseSession   = "DELETE /api/sessions/{sid}"
	SetDraft       = "PUT /api/sessions/{sid}/draft"
	SaveSession    = "POST /api/sessions/{sid}/save"
	CancelSession  = "POST /api/sessions/{sid}/cancel"
	ReloadSession  = "POST /api/sessions/{sid}/reload"
	SessionEvents  = "GET /api/sessions/{sid}/events"
	PreviewSession = "POST /api/sessions/{sid}/preview"

	// Preview assets
	SyntaxCSS = "GET /api/preview/syntax.css"
)
