package database

import (
	"fmt"
	"os"

	"smart-bookmark-backend/pkg/models"
)

// Subscription 变更订阅句柄
// 每个已登录会话订阅一次，登出或会话销毁时取消
type Subscription interface {
	Unsubscribe() error
}

// DatabaseInterface 定义数据库访问接口
type DatabaseInterface interface {
	// 用户管理（OAuth find-or-create 所需）
	CreateUser(user *models.User) error
	GetUserByEmail(email string) (*models.User, error)
	GetUserByID(id string) (*models.User, error)
	UpdateUser(user *models.User) error

	// 书签管理
	// ListBookmarks 按 created_at 倒序返回指定用户的全部书签
	ListBookmarks(owner string) ([]models.Bookmark, error)
	// CreateBookmark 插入书签并回填服务端分配的 id/created_at
	// 本地占位ID从不发送到这里
	CreateBookmark(b *models.Bookmark) error
	// DeleteBookmark 按ID删除；ID不存在不算错误
	DeleteBookmark(id string) error

	// 变更订阅
	// 任何插入/更新/删除都触发 onChange，不区分事件类型——
	// 由调用方做一次全量Fetch来对账，而不是解析差量
	SubscribeChanges(table string, onChange func()) (Subscription, error)

	// 健康检查
	HealthCheck() error

	// 关闭连接
	Close() error
}

// DatabaseConfig 数据库配置（仅保留外部数据库）
type DatabaseConfig struct {
	PostgresDSN string
	SupabaseURL string
	SupabaseKey string
	Debug       bool
}

// NewDatabase 根据环境与配置选择数据库实现
func NewDatabase(config DatabaseConfig) DatabaseInterface {
	// 是否在 Vercel 生产环境
	isVercelProduction := IsVercelEnvironment()

	if isVercelProduction {
		fmt.Printf("🧭 Detected Vercel production environment\n")

		// Vercel 优先使用 Supabase（避免 IPv6）
		if config.SupabaseURL != "" && config.SupabaseKey != "" {
			fmt.Printf("🚀  Using Supabase REST API (Vercel optimized)\n")
			return NewSupabaseDatabase(config.SupabaseURL, config.SupabaseKey)
		}

		// 次选 PostgreSQL
		if config.PostgresDSN != "" {
			fmt.Printf("🌐  Using PostgreSQL in Vercel (may have IPv6 issues)\n")
			return NewPostgresDatabase(config.PostgresDSN)
		}

		// 未配置受支持的数据库，直接失败
		panic("No valid database configured for Vercel environment. Please set SUPABASE_URL+SUPABASE_SERVICE_KEY or POSTGRES_DSN")
	}

	// 非 Vercel 环境：PostgreSQL > Supabase
	if config.PostgresDSN != "" {
		fmt.Printf("🗄️  Using PostgreSQL database\n")
		return NewPostgresDatabase(config.PostgresDSN)
	}

	if config.SupabaseURL != "" && config.SupabaseKey != "" {
		fmt.Printf("🧰  Using Supabase REST API\n")
		return NewSupabaseDatabase(config.SupabaseURL, config.SupabaseKey)
	}

	panic("No valid database configuration found. Please configure POSTGRES_DSN or SUPABASE_URL+SUPABASE_SERVICE_KEY")
}

// IsVercelEnvironment 检查是否运行在 Vercel/Lambda 环境
func IsVercelEnvironment() bool {
	vercelEnv := os.Getenv("VERCEL_ENV")
	vercelURL := os.Getenv("VERCEL_URL")
	awsLambda := os.Getenv("AWS_LAMBDA_FUNCTION_NAME")
	return vercelEnv != "" || vercelURL != "" || awsLambda != ""
}
