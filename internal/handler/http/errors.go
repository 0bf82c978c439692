package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/vbud/ewb-server/internal/service"
)

// HandleServiceError 把服务层错误映射为 HTTP 状态码
func HandleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrWhiteboardNotFound):
		ErrorResponse(c, http.StatusNotFound, service.ErrWhiteboardNotFound.Error())
	case errors.Is(err, service.ErrInvalidRequest):
		ErrorResponse(c, http.StatusBadRequest, service.ErrInvalidRequest.Error())
	case errors.Is(err, service.ErrStoreUnavailable):
		logrus.WithError(err).Warn("Store unavailable while serving request")
		ErrorResponse(c, http.StatusServiceUnavailable, service.ErrStoreUnavailable.Error())
	default:
		logrus.WithError(err).Error("Unhandled internal server error")
		ErrorResponse(c, http.StatusInternalServerError, "An unexpected error occurred")
	}
}
