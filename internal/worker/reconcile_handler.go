package worker

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/vbud/ewb-server/internal/service"
)

// refreshTimeout 是单个房间刷新的超时
const refreshTimeout = 10 * time.Second

// RoomRefresher 由 hub.Hub 实现
type RoomRefresher interface {
	ActiveRoomIDs(ctx context.Context) ([]string, error)
	RefreshRoom(ctx context.Context, id string) error
}

// ReconcileHandler 处理周期性的对账任务：把存储中的白板重新推给每个活跃房间，
// 修复广播成功但写入失败造成的客户端偏差。
type ReconcileHandler struct {
	rooms RoomRefresher
}

// NewReconcileHandler 创建 Handler 实例
func NewReconcileHandler(rooms RoomRefresher) *ReconcileHandler {
	if rooms == nil {
		panic("RoomRefresher cannot be nil for ReconcileHandler")
	}
	return &ReconcileHandler{rooms: rooms}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *ReconcileHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := logrus.WithField("task_type", t.Type())

	roomIDs, err := h.rooms.ActiveRoomIDs(ctx)
	if err != nil {
		logCtx.WithError(err).Error("Failed to get active rooms")
		return err
	}
	if len(roomIDs) == 0 {
		logCtx.Debug("No active rooms found, skipping reconcile")
		return nil
	}
	logCtx.Infof("Reconciling %d active rooms", len(roomIDs))

	failed := 0
	for _, id := range roomIDs {
		roomCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
		err := h.rooms.RefreshRoom(roomCtx, id)
		cancel()
		if err == nil {
			continue
		}
		roomLog := logCtx.WithField("whiteboard_id", id)
		if errors.Is(err, service.ErrWhiteboardNotFound) {
			roomLog.Warn("Active room refers to a deleted whiteboard")
			continue
		}
		failed++
		roomLog.WithError(err).Error("Failed to refresh room")
	}

	// 单个房间失败不让整个周期任务重试
	if failed > 0 {
		logCtx.Errorf("Reconcile completed with %d failed rooms", failed)
	}
	return nil
}
