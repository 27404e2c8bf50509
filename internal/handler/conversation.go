package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"pomelo/internal/channel"
	"pomelo/internal/model"
	"pomelo/internal/repository"
	"pomelo/internal/service"
)

// ConversationHandler conversation listing, takeover and manual sends
type ConversationHandler struct {
	conversationService *service.ConversationService
	messageService      *service.MessageService
}

// NewConversationHandler creates the conversation handler
func NewConversationHandler(conversationService *service.ConversationService, messageService *service.MessageService) *ConversationHandler {
	return &ConversationHandler{
		conversationService: conversationService,
		messageService:      messageService,
	}
}

func conversationID(c *gin.Context) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid conversation id")
		return primitive.NilObjectID, false
	}
	return id, true
}

func pageParams(c *gin.Context) (limit, offset int64) {
	limit, _ = strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	offset, _ = strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 64)
	return limit, offset
}

// List returns a session's conversations.
// @Summary      List conversations
// @Tags         conversations
// @Produce      json
// @Param        sessionId  query     string  true   "session id"
// @Param        limit      query     int     false  "page size"
// @Param        offset     query     int     false  "page offset"
// @Success      200        {object}  model.SuccessResponse
// @Router       /api/v1/conversations [get]
func (h *ConversationHandler) List(c *gin.Context) {
	tid, authorized := tenantID(c)
	if !authorized {
		return
	}

	sessionID := c.Query("sessionId")
	if sessionID == "" {
		badRequest(c, "sessionId is required")
		return
	}

	limit, offset := pageParams(c)
	convs, err := h.conversationService.List(c.Request.Context(), tid, sessionID, limit, offset)
	if err != nil {
		internalError(c, err)
		return
	}
	ok(c, convs)
}

// Messages returns a page of a conversation's history, newest first.
// @Summary      List conversation messages
// @Tags         conversations
// @Produce      json
// @Param        id      path      string  true   "conversation id"
// @Param        limit   query     int     false  "page size"
// @Param        offset  query     int     false  "page offset"
// @Success      200     {object}  model.SuccessResponse
// @Router       /api/v1/conversations/{id}/messages [get]
func (h *ConversationHandler) Messages(c *gin.Context) {
	tid, authorized := tenantID(c)
	if !authorized {
		return
	}
	id, valid := conversationID(c)
	if !valid {
		return
	}

	limit, offset := pageParams(c)
	msgs, err := h.messageService.ListMessages(c.Request.Context(), tid, id, limit, offset)
	if err != nil {
		internalError(c, err)
		return
	}
	ok(c, msgs)
}

// SendRequest manual outbound text
type SendRequest struct {
	Text string `json:"text" binding:"required"`
}

// Send delivers a user-composed text into the conversation.
// @Summary      Send a message
// @Tags         conversations
// @Accept       json
// @Produce      json
// @Param        id       path      string       true  "conversation id"
// @Param        request  body      SendRequest  true  "message"
// @Success      200      {object}  model.SuccessResponse
// @Failure      409      {object}  model.ErrorResponse
// @Router       /api/v1/conversations/{id}/messages [post]
func (h *ConversationHandler) Send(c *gin.Context) {
	tid, authorized := tenantID(c)
	if !authorized {
		return
	}
	id, valid := conversationID(c)
	if !valid {
		return
	}

	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	conv, err := h.conversationService.Get(ctx, tid, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			notFound(c, "conversation not found")
			return
		}
		internalError(c, err)
		return
	}

	msg, err := h.messageService.SendText(ctx, tid, conv, req.Text)
	if err != nil {
		if errors.Is(err, channel.ErrUnresolvableRecipient) {
			c.JSON(http.StatusConflict, model.ErrorResponse{
				Code:    40901,
				Message: "recipient identity is not resolved yet, wait for their next message",
			})
			return
		}
		internalError(c, err)
		return
	}

	// a manual send is a human takeover: assign the conversation so the AI
	// stands down until it is explicitly released
	if !conv.HumanAssigned() {
		if uid := c.GetString("user_id"); uid != "" {
			if err := h.conversationService.Assign(ctx, tid, id, uid); err != nil {
				log.Error().Err(err).Str("conversation_id", id.Hex()).Msg("failed to assign conversation on manual send")
			}
		}
	}
	ok(c, msg)
}

// AssignRequest human takeover request
type AssignRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// Assign hands the conversation to a human operator.
// @Summary      Assign conversation to a human
// @Tags         conversations
// @Accept       json
// @Produce      json
// @Param        id       path      string         true  "conversation id"
// @Param        request  body      AssignRequest  true  "operator"
// @Success      200      {object}  model.SuccessResponse
// @Router       /api/v1/conversations/{id}/assign [post]
func (h *ConversationHandler) Assign(c *gin.Context) {
	tid, authorized := tenantID(c)
	if !authorized {
		return
	}
	id, valid := conversationID(c)
	if !valid {
		return
	}

	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := h.conversationService.Assign(c.Request.Context(), tid, id, req.UserID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			notFound(c, "conversation not found")
			return
		}
		internalError(c, err)
		return
	}
	ok(c, nil)
}

// Release returns the conversation to the AI.
// @Summary      Release conversation back to the AI
// @Tags         conversations
// @Produce      json
// @Param        id   path      string  true  "conversation id"
// @Success      200  {object}  model.SuccessResponse
// @Router       /api/v1/conversations/{id}/release [post]
func (h *ConversationHandler) Release(c *gin.Context) {
	tid, authorized := tenantID(c)
	if !authorized {
		return
	}
	id, valid := conversationID(c)
	if !valid {
		return
	}

	if err := h.conversationService.Release(c.Request.Context(), tid, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			notFound(c, "conversation not found")
			return
		}
		internalError(c, err)
		return
	}
	ok(c, nil)
}
