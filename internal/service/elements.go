package service

import (
	"context"

	"github.com/vbud/ewb-server/internal/domain"
	"github.com/vbud/ewb-server/internal/repository"

	"github.com/sirupsen/logrus"
)

// ElementService 把客户端的"添加/删除元素"意图转换为一次原子的 MergeData。
// 并集和差集可交换且幂等，重复投递或乱序到达都会收敛到同一个集合。
// 同一元素被并发地添加和删除时没有确定的胜者。
type ElementService struct {
	repo repository.WhiteboardRepository
}

// NewElementService 创建 ElementService 实例。
func NewElementService(repo repository.WhiteboardRepository) *ElementService {
	if repo == nil {
		panic("WhiteboardRepository cannot be nil for ElementService")
	}
	return &ElementService{repo: repo}
}

// ApplyAdd 将 elements 并入白板数据。
func (s *ElementService) ApplyAdd(ctx context.Context, id string, elements []domain.Element) (*domain.Whiteboard, error) {
	if id == "" || len(elements) == 0 {
		return nil, ErrInvalidRequest
	}
	return s.Merge(ctx, id, elements, nil)
}

// ApplyRemove 从白板数据中移除 elements。
func (s *ElementService) ApplyRemove(ctx context.Context, id string, elements []domain.Element) (*domain.Whiteboard, error) {
	if id == "" || len(elements) == 0 {
		return nil, ErrInvalidRequest
	}
	return s.Merge(ctx, id, nil, elements)
}

// Merge 执行 (data \ removed) ∪ added。重试任务也走这里。
func (s *ElementService) Merge(ctx context.Context, id string, added, removed []domain.Element) (*domain.Whiteboard, error) {
	if id == "" || (len(added) == 0 && len(removed) == 0) {
		return nil, ErrInvalidRequest
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"whiteboard_id": id,
		"added":         len(added),
		"removed":       len(removed),
	})

	wb, err := s.repo.MergeData(ctx, id, added, removed)
	if err != nil {
		logCtx.WithError(err).Error("Failed to merge elements into whiteboard")
		return nil, mapRepoError(err)
	}
	logCtx.WithField("element_count", len(wb.Data)).Debug("Elements merged")
	return wb, nil
}
