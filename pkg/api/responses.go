package api

import "github.com/openfunnel/maestro/pkg/session"

// HealthCheck is one component's health entry.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// SessionListResponse is the GET /api/v1/sessions body.
type SessionListResponse struct {
	Sessions []session.Info `json:"sessions"`
	Total    int            `json:"total"`
}

// SessionDetailResponse is the GET /api/v1/sessions/:id body.
type SessionDetailResponse struct {
	ThreadID       string `json:"thread_id"`
	Messages       int    `json:"messages"`
	ActiveWorkflow string `json:"active_workflow,omitempty"`
	Suspended      bool   `json:"suspended"`
	LastResponse   string `json:"last_response,omitempty"`
}
