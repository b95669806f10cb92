package session

import (
	"fmt"
	"sync"

	"smart-bookmark-backend/pkg/bookmarks"
	"smart-bookmark-backend/pkg/database"
	"smart-bookmark-backend/pkg/models"
)

// Session 单个已登录用户的会话状态
// 持有该用户的书签存储和变更订阅，二者同生同灭
type Session struct {
	User  *models.User
	Store *bookmarks.Store
	sub   database.Subscription
}

// Manager 按用户ID管理会话生命周期
// 挂载时初始化存储（首次Fetch）并订阅变更；登出时取消订阅、清空存储
type Manager struct {
	mu       sync.Mutex
	db       database.DatabaseInterface
	sessions map[string]*Session
}

// NewManager 创建会话管理器
func NewManager(db database.DatabaseInterface) *Manager {
	return &Manager{
		db:       db,
		sessions: make(map[string]*Session),
	}
}

// Init 初始化（或返回已存在的）用户会话
// 每个用户最多一个会话：重复Init直接复用，订阅不会叠加
func (m *Manager) Init(user *models.User) (*Session, error) {
	if user == nil || user.ID == "" {
		return nil, fmt.Errorf("user identity required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[user.ID]; ok {
		return sess, nil
	}

	store := bookmarks.New(m.db, user.ID)

	// 首次全量拉取；失败不阻止会话建立，存储保持空的Ready前状态
	if err := store.Fetch(); err != nil {
		fmt.Printf("⚠️ Initial fetch failed for user %s: %v\n", user.ID, err)
	}

	// 变更通知不区分插入/更新/删除，一律全量Fetch对账
	sub, err := m.db.SubscribeChanges("bookmarks", func() {
		if err := store.Fetch(); err != nil {
			fmt.Printf("⚠️ Reconciling fetch failed for user %s: %v\n", user.ID, err)
		}
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to subscribe to changes: %w", err)
	}

	sess := &Session{User: user, Store: store, sub: sub}
	m.sessions[user.ID] = sess

	fmt.Printf("👤 Session initialized for user %s (%s)\n", user.ID, user.Email)
	return sess, nil
}

// Get 返回用户会话（如果存在）
func (m *Manager) Get(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[userID]
	return sess, ok
}

// Teardown 销毁用户会话：取消订阅、关闭存储、移除登记
// 会话不存在时静默通过
func (m *Manager) Teardown(userID string) {
	m.mu.Lock()
	sess, ok := m.sessions[userID]
	if ok {
		delete(m.sessions, userID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	if sess.sub != nil {
		if err := sess.sub.Unsubscribe(); err != nil {
			fmt.Printf("⚠️ Failed to unsubscribe for user %s: %v\n", userID, err)
		}
	}
	sess.Store.Close()

	fmt.Printf("👋 Session torn down for user %s\n", userID)
}

// Count 当前活跃会话数（调试端点用）
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown 销毁所有会话（进程退出时）
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Teardown(id)
	}
}
