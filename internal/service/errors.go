package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/vbud/ewb-server/internal/repository"
)

var (
	ErrWhiteboardNotFound = errors.New("whiteboard not found")
	ErrStoreUnavailable   = errors.New("whiteboard store unavailable")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInternalServer     = errors.New("internal server error")
)

// mapRepoError 将仓库层的错误映射到服务层定义的错误，原始错误保留在链上便于记录日志。
func mapRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return ErrWhiteboardNotFound
	case errors.Is(err, repository.ErrStoreUnavailable),
		errors.Is(err, repository.ErrOptimisticLock),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", ErrInternalServer, err)
	}
}
