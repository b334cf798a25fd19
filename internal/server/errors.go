package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ragchat/internal/domain"
	"ragchat/internal/logger"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindInvalidRequest,
		domain.KindUnsupportedType,
		domain.KindTooLarge,
		domain.KindEncoding,
		domain.KindUnknownModel:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {detail}. Server-side failures are logged with their
// cause; the caller only sees the kind-level message.
func respondError(c *gin.Context, err error) {
	status := statusFor(domain.KindOf(err))
	detail := domain.MessageOf(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).Error("request failed", "error", err)
		if domain.KindOf(err) == domain.KindInternal {
			detail = "internal server error"
		}
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, ErrorResponse{Detail: detail})
}
