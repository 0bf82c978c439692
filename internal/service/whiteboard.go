package service

import (
	"context"
	"errors"

	"github.com/vbud/ewb-server/internal/domain"
	"github.com/vbud/ewb-server/internal/repository"

	"github.com/sirupsen/logrus"
)

// WhiteboardService 负责白板本身的增删改查。
type WhiteboardService struct {
	repo repository.WhiteboardRepository
}

// NewWhiteboardService 创建 WhiteboardService 实例。
func NewWhiteboardService(repo repository.WhiteboardRepository) *WhiteboardService {
	if repo == nil {
		panic("WhiteboardRepository cannot be nil for WhiteboardService")
	}
	return &WhiteboardService{repo: repo}
}

// Get 返回完整白板（加入白板时使用）。
func (s *WhiteboardService) Get(ctx context.Context, id string) (*domain.Whiteboard, error) {
	if id == "" {
		return nil, ErrInvalidRequest
	}
	wb, err := s.repo.Get(ctx, id)
	if err != nil {
		logCtx := logrus.WithField("whiteboard_id", id)
		if errors.Is(err, repository.ErrNotFound) {
			logCtx.Warn("Get: Whiteboard not found")
		} else {
			logCtx.WithError(err).Error("Get: Repository error")
		}
		return nil, mapRepoError(err)
	}
	return wb, nil
}

// Create 创建一个新白板。
func (s *WhiteboardService) Create(ctx context.Context, name string) (*domain.Whiteboard, error) {
	logCtx := logrus.WithField("name", name)
	wb, err := s.repo.Create(ctx, name)
	if err != nil {
		logCtx.WithError(err).Error("Create: Failed to save new whiteboard")
		return nil, mapRepoError(err)
	}
	logCtx.WithField("whiteboard_id", wb.ID).Info("Whiteboard created")
	return wb, nil
}

// Delete 删除白板。
func (s *WhiteboardService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidRequest
	}
	logCtx := logrus.WithField("whiteboard_id", id)
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logCtx.Warn("Delete: Whiteboard not found")
		} else {
			logCtx.WithError(err).Error("Delete: Repository error")
		}
		return mapRepoError(err)
	}
	logCtx.Info("Whiteboard deleted")
	return nil
}

// Update 整体替换补丁中给出的字段（重命名或整体替换 data）。
func (s *WhiteboardService) Update(ctx context.Context, id string, patch domain.WhiteboardPatch) (*domain.Whiteboard, error) {
	if id == "" || patch.Empty() {
		return nil, ErrInvalidRequest
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"whiteboard_id": id,
		"rename":        patch.Name != nil,
		"replace_data":  patch.Data != nil,
	})
	wb, err := s.repo.SetFields(ctx, id, patch)
	if err != nil {
		logCtx.WithError(err).Warn("Update: Failed to set whiteboard fields")
		return nil, mapRepoError(err)
	}
	logCtx.Debug("Whiteboard fields updated")
	return wb, nil
}
