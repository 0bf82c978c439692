package repository

import "errors"

// 通用的存储库错误
var (
	// ErrNotFound 表示请求的白板不存在
	ErrNotFound = errors.New("repository: record not found")
	// ErrDuplicateEntry 表示插入的数据违反了唯一约束
	ErrDuplicateEntry = errors.New("repository: duplicate entry")
	// ErrStoreUnavailable 表示后端暂时不可用（连接失败、超时等），实现会把原始错误一起包装
	ErrStoreUnavailable = errors.New("repository: store unavailable")
	// ErrOptimisticLock 表示并发更新时版本冲突，且重试次数已用完
	ErrOptimisticLock = errors.New("repository: optimistic lock conflict")
)

// 特定资源的错误
var (
	ErrWhiteboardNotFound = ErrNotFound
)
