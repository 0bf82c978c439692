package repository

import (
	"context"

	"github.com/vbud/ewb-server/internal/domain"
)

// WhiteboardRepository 定义了白板的持久化操作。
// 所有方法都可能返回 ErrStoreUnavailable；按 ID 操作的方法在白板不存在时返回 ErrNotFound。
type WhiteboardRepository interface {
	// List 返回所有白板的 (id, name) 列表，不包含元素数据。
	List(ctx context.Context) ([]domain.DirectoryEntry, error)

	// Get 根据 ID 获取完整白板。
	Get(ctx context.Context, id string) (*domain.Whiteboard, error)

	// Create 创建一个空白板，ID 由实现生成。
	Create(ctx context.Context, name string) (*domain.Whiteboard, error)

	// Delete 删除白板。
	Delete(ctx context.Context, id string) error

	// SetFields 整体替换补丁中给出的字段，返回更新后的白板。
	SetFields(ctx context.Context, id string, patch domain.WhiteboardPatch) (*domain.Whiteboard, error)

	// MergeData 原子地执行 data = (data \ removed) ∪ added，返回更新后的白板。
	// 实现必须保证并发的 MergeData 不会互相覆盖。
	MergeData(ctx context.Context, id string, added, removed []domain.Element) (*domain.Whiteboard, error)
}
