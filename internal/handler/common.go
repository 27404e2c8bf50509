// Package handler holds the Gin HTTP handlers for the webhook endpoint and
// the management API.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pomelo/internal/model"
	"pomelo/internal/pkg/ctxutil"
)

// tenantID extracts the tenant injected by the auth middleware; a missing
// tenant aborts with 401
func tenantID(c *gin.Context) (string, bool) {
	tid, ok := ctxutil.GetTenantID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{
			Code:    40101,
			Message: "Authorization required",
		})
		return "", false
	}
	return tid, true
}

func badRequest(c *gin.Context, detail string) {
	c.JSON(http.StatusBadRequest, model.ErrorResponse{
		Code:    40001,
		Message: "Invalid request",
		Detail:  detail,
	})
}

func notFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, model.ErrorResponse{
		Code:    40401,
		Message: message,
	})
}

func internalError(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, model.ErrorResponse{
		Code:    50001,
		Message: "Internal error",
		Detail:  err.Error(),
	})
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, model.SuccessResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
	})
}
