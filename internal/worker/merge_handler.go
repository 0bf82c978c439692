package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/vbud/ewb-server/internal/service"
	"github.com/vbud/ewb-server/internal/tasks"
)

// MergeRetryHandler 重新执行已广播但未落库的元素操作。
// 合并是幂等的，重复执行不会破坏数据。
type MergeRetryHandler struct {
	elements *service.ElementService
}

// NewMergeRetryHandler 创建 Handler 实例
func NewMergeRetryHandler(elements *service.ElementService) *MergeRetryHandler {
	if elements == nil {
		panic("ElementService cannot be nil for MergeRetryHandler")
	}
	return &MergeRetryHandler{elements: elements}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *MergeRetryHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	currentRetry, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)

	logCtx := logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"retry":     currentRetry,
		"max_retry": maxRetry,
	})

	payload, err := tasks.ParseMergeRetryPayload(t)
	if err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	logCtx = logCtx.WithField("whiteboard_id", payload.WhiteboardID)

	wb, err := h.elements.Merge(ctx, payload.WhiteboardID, payload.Added, payload.Removed)
	switch {
	case err == nil:
		logCtx.WithField("element_count", len(wb.Data)).Info("Merge retry succeeded")
		return nil
	case errors.Is(err, service.ErrWhiteboardNotFound), errors.Is(err, service.ErrInvalidRequest):
		// 白板已删除或任务本身无效，重试没有意义
		logCtx.WithError(err).Warn("Merge retry dropped")
		return fmt.Errorf("merge whiteboard %s: %v: %w", payload.WhiteboardID, err, asynq.SkipRetry)
	default:
		logCtx.WithError(err).Warn("Merge retry failed, will retry")
		return fmt.Errorf("merge whiteboard %s: %w", payload.WhiteboardID, err)
	}
}
