package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/vbud/ewb-server/internal/domain"
	"github.com/vbud/ewb-server/internal/repository"
)

// maxUpdateAttempts 是乐观锁更新的最大尝试次数
const maxUpdateAttempts = 8

// GormWhiteboardRepository 是 WhiteboardRepository 接口的 GORM 实现。
// 数据库本身不支持集合运算，MergeData 和 SetFields 通过版本号做乐观重试。
type GormWhiteboardRepository struct {
	db *gorm.DB
}

// NewGormWhiteboardRepository 创建 GormWhiteboardRepository 实例
func NewGormWhiteboardRepository(db *gorm.DB) *GormWhiteboardRepository {
	if db == nil {
		panic("database connection cannot be nil for GormWhiteboardRepository")
	}
	return &GormWhiteboardRepository{db: db}
}

// unavailable 把数据库错误包装为 ErrStoreUnavailable，保留原始错误
func unavailable(op string, err error) error {
	return fmt.Errorf("gorm: %s: %w: %w", op, repository.ErrStoreUnavailable, err)
}

// List 按创建时间返回白板目录
func (r *GormWhiteboardRepository) List(ctx context.Context) ([]domain.DirectoryEntry, error) {
	entries := make([]domain.DirectoryEntry, 0)
	err := r.db.WithContext(ctx).
		Model(&domain.Whiteboard{}).
		Select("id", "name").
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, unavailable("list whiteboards", err)
	}
	return entries, nil
}

// Get 根据 ID 查找白板
func (r *GormWhiteboardRepository) Get(ctx context.Context, id string) (*domain.Whiteboard, error) {
	var wb domain.Whiteboard
	err := r.db.WithContext(ctx).First(&wb, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrWhiteboardNotFound
		}
		return nil, unavailable(fmt.Sprintf("get whiteboard %s", id), err)
	}
	if wb.Data == nil {
		wb.Data = domain.ElementSet{}
	}
	return &wb, nil
}

// Create 插入一个新白板，ID 为随机 UUID
func (r *GormWhiteboardRepository) Create(ctx context.Context, name string) (*domain.Whiteboard, error) {
	wb := &domain.Whiteboard{
		ID:      uuid.NewString(),
		Name:    name,
		Data:    domain.ElementSet{},
		Version: 1,
	}
	if err := r.db.WithContext(ctx).Create(wb).Error; err != nil {
		// MySQL 唯一约束冲突
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return nil, repository.ErrDuplicateEntry
		}
		return nil, unavailable(fmt.Sprintf("create whiteboard %q", name), err)
	}
	return wb, nil
}

// Delete 删除白板，不存在时返回 ErrNotFound
func (r *GormWhiteboardRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&domain.Whiteboard{}, "id = ?", id)
	if result.Error != nil {
		return unavailable(fmt.Sprintf("delete whiteboard %s", id), result.Error)
	}
	if result.RowsAffected == 0 {
		return repository.ErrWhiteboardNotFound
	}
	return nil
}

// SetFields 整体替换 name 和/或 data
func (r *GormWhiteboardRepository) SetFields(ctx context.Context, id string, patch domain.WhiteboardPatch) (*domain.Whiteboard, error) {
	return r.updateWithRetry(ctx, id, "set fields", func(wb *domain.Whiteboard) {
		if patch.Name != nil {
			wb.Name = *patch.Name
		}
		if patch.Data != nil {
			wb.Data = domain.NewElementSet(*patch.Data...)
		}
	})
}

// MergeData 执行 (data \ removed) ∪ added
func (r *GormWhiteboardRepository) MergeData(ctx context.Context, id string, added, removed []domain.Element) (*domain.Whiteboard, error) {
	return r.updateWithRetry(ctx, id, "merge data", func(wb *domain.Whiteboard) {
		wb.Data = domain.MergeElements(wb.Data, added, removed)
	})
}

// updateWithRetry 读取当前行，应用 apply，再以 "WHERE version = 旧版本" 写回。
// 写入影响 0 行说明期间有其他写入者，重新读取后再试。
func (r *GormWhiteboardRepository) updateWithRetry(ctx context.Context, id, op string, apply func(wb *domain.Whiteboard)) (*domain.Whiteboard, error) {
	logCtx := logrus.WithFields(logrus.Fields{"whiteboard_id": id, "operation": op})

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		wb, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		readVersion := wb.Version
		apply(wb)
		wb.Version = readVersion + 1

		result := r.db.WithContext(ctx).
			Model(&domain.Whiteboard{}).
			Where("id = ? AND version = ?", id, readVersion).
			Updates(map[string]any{
				"name":    wb.Name,
				"data":    wb.Data,
				"version": wb.Version,
			})
		if result.Error != nil {
			return nil, unavailable(fmt.Sprintf("%s on whiteboard %s", op, id), result.Error)
		}
		if result.RowsAffected == 1 {
			return wb, nil
		}
		logCtx.WithField("attempt", attempt).Debug("Version conflict on whiteboard update, retrying")
	}
	return nil, fmt.Errorf("gorm: %s on whiteboard %s after %d attempts: %w", op, id, maxUpdateAttempts, repository.ErrOptimisticLock)
}
