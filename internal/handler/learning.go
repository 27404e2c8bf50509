package handler

import (
	"github.com/gin-gonic/gin"

	"pomelo/internal/service"
)

// LearningHandler curated-knowledge management: memories an operator feeds
// the responder, and confidence reinforcement on the ones that work
type LearningHandler struct {
	learningService *service.LearningService
}

// NewLearningHandler creates the learning handler
func NewLearningHandler(learningService *service.LearningService) *LearningHandler {
	return &LearningHandler{learningService: learningService}
}

// CreateMemoryRequest one curated memory entry
type CreateMemoryRequest struct {
	Type    string `json:"type" binding:"required"`
	Key     string `json:"key" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// CreateMemory upserts a curated memory for the tenant.
// @Summary      Store a memory
// @Tags         learning
// @Accept       json
// @Produce      json
// @Param        request  body      CreateMemoryRequest  true  "memory"
// @Success      200      {object}  model.SuccessResponse
// @Failure      400      {object}  model.ErrorResponse
// @Router       /api/v1/memories [post]
func (h *LearningHandler) CreateMemory(c *gin.Context) {
	tid, authorized := tenantID(c)
	if !authorized {
		return
	}

	var req CreateMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := h.learningService.Remember(c.Request.Context(), tid, req.Type, req.Key, req.Content); err != nil {
		internalError(c, err)
		return
	}
	ok(c, nil)
}

// ReinforceMemoryRequest positive feedback on a stored memory
type ReinforceMemoryRequest struct {
	Type string `json:"type" binding:"required"`
	Key  string `json:"key" binding:"required"`
}

// ReinforceMemory raises a memory's confidence.
// @Summary      Reinforce a memory
// @Tags         learning
// @Accept       json
// @Produce      json
// @Param        request  body      ReinforceMemoryRequest  true  "memory reference"
// @Success      200      {object}  model.SuccessResponse
// @Failure      400      {object}  model.ErrorResponse
// @Router       /api/v1/memories/reinforce [post]
func (h *LearningHandler) ReinforceMemory(c *gin.Context) {
	tid, authorized := tenantID(c)
	if !authorized {
		return
	}

	var req ReinforceMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := h.learningService.BoostMemory(c.Request.Context(), tid, req.Type, req.Key); err != nil {
		internalError(c, err)
		return
	}
	ok(c, nil)
}
