package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"smart-bookmark-backend/pkg/models"

	"github.com/lib/pq"
)

// PostgresDatabase PostgreSQL数据库实现
type PostgresDatabase struct {
	db  *sql.DB
	dsn string // pq.Listener 需要原始DSN单独建立连接
}

// NewPostgresDatabase 创建PostgreSQL数据库实例
func NewPostgresDatabase(dsn string) DatabaseInterface {
	// 尝试多种连接策略来解决Vercel Lambda的IPv6问题
	// Sanitize DSN to avoid stray CR/LF from env values
	dsn = strings.TrimSpace(dsn)
	strategies := []string{
		addConnectionParams(dsn, "prefer_simple_protocol=true"),
		addConnectionParams(dsn, "prefer_simple_protocol=true&connect_timeout=10"),
		addConnectionParams(dsn, "sslmode=require&prefer_simple_protocol=true"),
		dsn, // 最后尝试原始DSN
	}

	var db *sql.DB
	var err error

	for i, strategy := range strategies {
		fmt.Printf("🔄 Trying connection strategy %d...\n", i+1)

		db, err = sql.Open("postgres", strategy)
		if err != nil {
			fmt.Printf("❌ Strategy %d failed to open: %v\n", i+1, err)
			continue
		}

		// 设置连接池参数，适合无服务器环境
		db.SetMaxOpenConns(5)                  // 限制最大连接数
		db.SetMaxIdleConns(2)                  // 限制空闲连接数
		db.SetConnMaxLifetime(5 * time.Minute) // 连接最大生命周期

		// 测试连接
		if err = db.Ping(); err != nil {
			fmt.Printf("❌ Strategy %d failed to ping: %v\n", i+1, err)
			db.Close()
			continue
		}

		fmt.Printf("✅ PostgreSQL connection established successfully with strategy %d\n", i+1)
		return &PostgresDatabase{db: db, dsn: strategy}
	}

	// 所有策略都失败了
	panic(fmt.Sprintf("Failed to connect to PostgreSQL with all strategies. Last error: %v", err))
}

// addConnectionParams 添加连接参数到DSN
func addConnectionParams(dsn, params string) string {
	if params == "" {
		return dsn
	}

	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}

	return dsn + separator + params
}

// CreateUser 创建用户
func (db *PostgresDatabase) CreateUser(user *models.User) error {
	if user.Provider == "" {
		user.Provider = "google"
	}
	query := `
        INSERT INTO public.users (email, name, avatar, provider, created_at, updated_at)
        VALUES ($1, $2, $3, $4, NOW(), NOW())
        RETURNING id, created_at, updated_at
    `
	var createdAt, updatedAt time.Time
	err := db.db.QueryRow(query, user.Email, user.Name, user.Avatar, user.Provider).
		Scan(&user.ID, &createdAt, &updatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	user.CreatedAt = createdAt
	user.UpdatedAt = updatedAt
	return nil
}

// GetUserByEmail 根据邮箱获取用户
func (db *PostgresDatabase) GetUserByEmail(email string) (*models.User, error) {
	query := `
        SELECT id, email, COALESCE(name,''), COALESCE(avatar,''), COALESCE(provider,'google'),
               created_at, updated_at
        FROM public.users
        WHERE email = $1
    `
	var u models.User
	var createdAt, updatedAt time.Time
	err := db.db.QueryRow(query, email).Scan(
		&u.ID, &u.Email, &u.Name, &u.Avatar, &u.Provider, &createdAt, &updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user not found")
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	u.CreatedAt = createdAt
	u.UpdatedAt = updatedAt
	return &u, nil
}

// GetUserByID 根据ID获取用户
func (db *PostgresDatabase) GetUserByID(id string) (*models.User, error) {
	query := `
        SELECT id, email, COALESCE(name,''), COALESCE(avatar,''), COALESCE(provider,'google'),
               created_at, updated_at
        FROM public.users
        WHERE id = $1
    `
	var user models.User
	err := db.db.QueryRow(query, id).Scan(
		&user.ID, &user.Email, &user.Name, &user.Avatar, &user.Provider,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("user not found")
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// UpdateUser 更新用户
func (db *PostgresDatabase) UpdateUser(user *models.User) error {
	if user.ID == "" {
		return fmt.Errorf("user ID is required for update")
	}
	query := `
        UPDATE public.users
        SET name = $1,
            avatar = $2,
            provider = COALESCE($3, provider),
            updated_at = NOW()
        WHERE id = $4
    `
	_, err := db.db.Exec(query, user.Name, user.Avatar, user.Provider, user.ID)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

// ================= Bookmarks =================

// ListBookmarks 列出用户的全部书签，按创建时间倒序
func (db *PostgresDatabase) ListBookmarks(owner string) ([]models.Bookmark, error) {
	query := `
        SELECT id, title, url, user_id, created_at
        FROM bookmarks
        WHERE user_id = $1
        ORDER BY created_at DESC
    `

	rows, err := db.db.Query(query, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookmarks: %w", err)
	}
	defer rows.Close()

	var bookmarks []models.Bookmark
	for rows.Next() {
		var b models.Bookmark
		if err := rows.Scan(&b.ID, &b.Title, &b.URL, &b.Owner, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bookmark: %w", err)
		}
		bookmarks = append(bookmarks, b)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bookmarks: %w", err)
	}

	return bookmarks, nil
}

// CreateBookmark 创建书签，回填服务端分配的ID和时间
func (db *PostgresDatabase) CreateBookmark(b *models.Bookmark) error {
	if models.IsLocalID(b.ID) {
		// 占位ID属于客户端状态，绝不入库
		b.ID = ""
	}
	query := `
        INSERT INTO bookmarks (title, url, user_id, created_at)
        VALUES ($1, $2, $3, NOW())
        RETURNING id, created_at
    `
	err := db.db.QueryRow(query, b.Title, b.URL, b.Owner).Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create bookmark: %w", err)
	}
	b.Pending = false
	return nil
}

// DeleteBookmark 按ID删除书签；记录不存在不视为错误
func (db *PostgresDatabase) DeleteBookmark(id string) error {
	result, err := db.db.Exec(`DELETE FROM bookmarks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete bookmark: %w", err)
	}

	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		// 删除不存在的ID静默通过——对账由下一次Fetch完成
		fmt.Printf("🗑️ Delete for unknown bookmark id %s (no-op)\n", id)
	}
	return nil
}

// ================= Change subscription =================

// pgSubscription 基于 LISTEN/NOTIFY 的变更订阅
type pgSubscription struct {
	listener *pq.Listener
}

// Unsubscribe 关闭监听连接；Notify通道随之关闭，派发goroutine退出
func (s *pgSubscription) Unsubscribe() error {
	return s.listener.Close()
}

// SubscribeChanges 监听表的变更通知
// bookmarks 表上的触发器对每次 INSERT/UPDATE/DELETE 执行
// pg_notify('<table>_changed', ...)；这里不解析载荷，统一回调 onChange
func (db *PostgresDatabase) SubscribeChanges(table string, onChange func()) (Subscription, error) {
	channel := table + "_changed"

	listener := pq.NewListener(db.dsn, 10*time.Second, time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				fmt.Printf("⚠️ Listener event %d on channel %s: %v\n", ev, channel, err)
			}
		})

	if err := listener.Listen(channel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", channel, err)
	}

	go func() {
		for {
			select {
			case n, ok := <-listener.Notify:
				if !ok {
					return // listener closed
				}
				// n == nil 表示连接重建，同样值得一次对账Fetch
				_ = n
				onChange()
			case <-time.After(90 * time.Second):
				// 长时间无事件时探活，pq会自动重连
				go listener.Ping()
			}
		}
	}()

	fmt.Printf("📡 Subscribed to channel %s\n", channel)
	return &pgSubscription{listener: listener}, nil
}

// HealthCheck 健康检查
func (db *PostgresDatabase) HealthCheck() error {
	return db.db.Ping()
}

// Close 关闭连接
func (db *PostgresDatabase) Close() error {
	return db.db.Close()
}
