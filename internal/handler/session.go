package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"pomelo/internal/repository"
	"pomelo/internal/service"
)

// SessionHandler session provisioning and removal
type SessionHandler struct {
	sessionService *service.SessionService
}

// NewSessionHandler creates the session handler
func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

// CreateSessionRequest session provisioning request
type CreateSessionRequest struct {
	Name   string `json:"name" binding:"required"`
	UserID string `json:"user_id"` // empty = shared/global session
}

// Create provisions a new channel session.
// @Summary      Provision a session
// @Tags         sessions
// @Accept       json
// @Produce      json
// @Param        request  body      CreateSessionRequest  true  "session"
// @Success      200      {object}  model.SuccessResponse
// @Failure      400      {object}  model.ErrorResponse
// @Router       /api/v1/sessions [post]
func (h *SessionHandler) Create(c *gin.Context) {
	tid, authorized := tenantID(c)
	if !authorized {
		return
	}

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	sess, err := h.sessionService.Provision(c.Request.Context(), tid, req.UserID, req.Name)
	if err != nil {
		internalError(c, err)
		return
	}

	// the webhook token is returned exactly once, at provisioning time
	ok(c, gin.H{
		"session":       sess,
		"webhook_token": sess.WebhookToken,
	})
}

// List returns the tenant's active sessions.
// @Summary      List sessions
// @Tags         sessions
// @Produce      json
// @Success      200  {object}  model.SuccessResponse
// @Router       /api/v1/sessions [get]
func (h *SessionHandler) List(c *gin.Context) {
	tid, authorized := tenantID(c)
	if !authorized {
		return
	}

	sessions, err := h.sessionService.List(c.Request.Context(), tid)
	if err != nil {
		internalError(c, err)
		return
	}
	ok(c, sessions)
}

// Get loads one session.
// @Summary      Get a session
// @Tags         sessions
// @Produce      json
// @Param        id   path      string  true  "session id"
// @Success      200  {object}  model.SuccessResponse
// @Failure      404  {object}  model.ErrorResponse
// @Router       /api/v1/sessions/{id} [get]
func (h *SessionHandler) Get(c *gin.Context) {
	tid, authorized := tenantID(c)
	if !authorized {
		return
	}

	sess, err := h.sessionService.Get(c.Request.Context(), tid, c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, service.ErrSessionNotFound) {
			notFound(c, "session not found")
			return
		}
		internalError(c, err)
		return
	}
	ok(c, sess)
}

// Remove soft-deletes a session.
// @Summary      Remove a session
// @Tags         sessions
// @Produce      json
// @Param        id   path      string  true  "session id"
// @Success      200  {object}  model.SuccessResponse
// @Failure      404  {object}  model.ErrorResponse
// @Router       /api/v1/sessions/{id} [delete]
func (h *SessionHandler) Remove(c *gin.Context) {
	tid, authorized := tenantID(c)
	if !authorized {
		return
	}

	if err := h.sessionService.Remove(c.Request.Context(), tid, c.Param("id")); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			notFound(c, "session not found")
			return
		}
		internalError(c, err)
		return
	}
	ok(c, nil)
}
