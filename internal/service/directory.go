package service

import (
	"context"

	"github.com/vbud/ewb-server/internal/domain"
	"github.com/vbud/ewb-server/internal/repository"

	"github.com/sirupsen/logrus"
)

// DirectoryService 提供白板目录（只有 id 和 name）。
type DirectoryService struct {
	repo repository.WhiteboardRepository
}

// NewDirectoryService 创建 DirectoryService 实例。
func NewDirectoryService(repo repository.WhiteboardRepository) *DirectoryService {
	if repo == nil {
		panic("WhiteboardRepository cannot be nil for DirectoryService")
	}
	return &DirectoryService{repo: repo}
}

// Snapshot 从存储拉取当前目录。
func (s *DirectoryService) Snapshot(ctx context.Context) ([]domain.DirectoryEntry, error) {
	entries, err := s.repo.List(ctx)
	if err != nil {
		logrus.WithError(err).Error("Failed to list whiteboards for directory")
		return nil, mapRepoError(err)
	}
	if entries == nil {
		entries = []domain.DirectoryEntry{}
	}
	return entries, nil
}
