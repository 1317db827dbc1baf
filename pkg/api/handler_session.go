package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// listSessionsHandler handles GET /api/v1/sessions.
func (s *Server) listSessionsHandler(c *echo.Context) error {
	infos, err := s.sessions.Sessions(c.Request().Context())
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, &SessionListResponse{
		Sessions: infos,
		Total:    len(infos),
	})
}

// getSessionHandler handles GET /api/v1/sessions/:id.
func (s *Server) getSessionHandler(c *echo.Context) error {
	threadID := c.Param("id")
	if threadID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	state, err := s.sessions.SessionState(c.Request().Context(), threadID)
	if err != nil {
		return mapStoreError(err)
	}

	detail := &SessionDetailResponse{
		ThreadID:       threadID,
		Messages:       len(state.Messages),
		ActiveWorkflow: state.ActiveWorkflow,
		Suspended:      state.Interrupt != nil,
		LastResponse:   state.FinalResponse,
	}
	return c.JSON(http.StatusOK, detail)
}

// deleteSessionHandler handles DELETE /api/v1/sessions/:id.
func (s *Server) deleteSessionHandler(c *echo.Context) error {
	threadID := c.Param("id")
	if threadID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}
	if err := s.sessions.Drop(c.Request().Context(), threadID); err != nil {
		return mapStoreError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
