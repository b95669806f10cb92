package models

import (
	"strings"
	"time"
)

// Bookmark 用户保存的书签记录
// ID由持久化层（PostgreSQL/Supabase）分配；乐观插入期间使用本地占位ID
type Bookmark struct {
	ID        string    `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	URL       string    `json:"url" db:"url"`
	Owner     string    `json:"user_id" db:"user_id"` // 所属用户，创建时分配，不可变
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// Pending 标记尚未被服务端确认的乐观插入条目
	// 占位ID从不发送到持久化层；pending条目禁止删除，直到下一次Fetch换入真实记录
	Pending bool `json:"pending,omitempty" db:"-"`
}

// LocalIDPrefix 本地占位ID前缀，便于调试时一眼区分
const LocalIDPrefix = "local-"

// IsLocalID 判断是否为本地占位ID
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// CreateBookmarkRequest 创建书签的请求体
type CreateBookmarkRequest struct {
	Title string `json:"title" validate:"required"`
	URL   string `json:"url" validate:"required"`
}
