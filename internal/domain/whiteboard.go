package domain

import "time"

// Whiteboard 表示一个协作白板。
type Whiteboard struct {
	ID        string     `gorm:"primaryKey;size:36" json:"id"`         // 创建时生成的 UUID，不可变
	Name      string     `gorm:"size:191;not null" json:"name"`         // 白板名称，可修改
	Data      ElementSet `gorm:"type:longtext" json:"data"`             // 元素集合，MySQL TEXT 只有 64KiB
	Version   uint       `gorm:"not null;default:1" json:"-"`           // 乐观锁版本号，不下发给客户端
	CreatedAt time.Time  `gorm:"autoCreateTime;index" json:"-"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"-"`
}

// DirectoryEntry 是白板列表中的一项，不包含 data。
type DirectoryEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// WhiteboardPatch 描述 SetFields 的部分更新，nil 字段保持不变。
type WhiteboardPatch struct {
	Name *string
	Data *ElementSet
}

// Empty 表示补丁没有任何需要更新的字段。
func (p WhiteboardPatch) Empty() bool {
	return p.Name == nil && p.Data == nil
}
