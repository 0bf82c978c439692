package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/vbud/ewb-server/internal/service"
)

// WhiteboardHandler 提供只读的白板 REST 接口，供不走 WebSocket 的工具使用
type WhiteboardHandler struct {
	whiteboards *service.WhiteboardService
	directory   *service.DirectoryService
}

// NewWhiteboardHandler 创建 WhiteboardHandler 实例
func NewWhiteboardHandler(whiteboards *service.WhiteboardService, directory *service.DirectoryService) *WhiteboardHandler {
	if whiteboards == nil {
		panic("WhiteboardService cannot be nil for WhiteboardHandler")
	}
	if directory == nil {
		panic("DirectoryService cannot be nil for WhiteboardHandler")
	}
	return &WhiteboardHandler{whiteboards: whiteboards, directory: directory}
}

// List 处理 GET /api/whiteboards，返回目录（不含 data）
func (h *WhiteboardHandler) List(c *gin.Context) {
	entries, err := h.directory.Snapshot(c.Request.Context())
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, entries)
}

// Get 处理 GET /api/whiteboards/:id，返回完整白板
func (h *WhiteboardHandler) Get(c *gin.Context) {
	id := c.Param("id")
	wb, err := h.whiteboards.Get(c.Request.Context(), id)
	if err != nil {
		logrus.WithField("whiteboard_id", id).WithError(err).Debug("Handler.Get: Failed to load whiteboard")
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, wb)
}
