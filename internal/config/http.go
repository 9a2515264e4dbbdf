package config

const (
	HCType        = "Content-Type"
	HCacheControl = "Cache-Control"
	HConnection   = "Connection"

	// HRole carries the caller's role. Only faculty and admin may edit content.
	HRole = "X-Lectern-Role"

	CTypeJSON        = "application/json"
	CTypeHTML        = "text/html"
	CTypeEventStream = "text/event-stream"
)

const (
	RoleStudent = "student"
	RoleFaculty = "faculty"
	RoleAdmin   = "admin"
)

const (
	HTTPErrMethodNotAllowed = "Method not allowed"
)
