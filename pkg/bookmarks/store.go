package bookmarks

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"smart-bookmark-backend/pkg/models"

	"github.com/google/uuid"
)

// Gateway 书签存储的最小访问接口（database.DatabaseInterface 的子集）
type Gateway interface {
	ListBookmarks(owner string) ([]models.Bookmark, error)
	CreateBookmark(b *models.Bookmark) error
	DeleteBookmark(id string) error
}

// State 书签存储的状态机：Uninitialized → Loading → Ready
// 没有终态Error：失败保留上一份Ready快照，错误通过返回值上报
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
)

// String 返回状态名
func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

// ErrBookmarkPending 尝试删除尚未被服务端确认的乐观条目
// 占位ID对持久化层无意义，提前删除只会静默落空，所以直接拒绝
var ErrBookmarkPending = errors.New("bookmark is pending confirmation")

// Store 当前用户书签的内存状态
// 所有写操作走"乐观应用→对账"协议：本地先改，远端确认或失败后修正
// 每个已登录会话恰好一个Store，登出时销毁；绝不做成单例
type Store struct {
	mu      sync.Mutex
	gateway Gateway
	owner   string

	state     State
	bookmarks []models.Bookmark
	closed    bool

	// Fetch序号：后发起的Fetch一旦应用，先前在途的结果作废
	fetchSeq   uint64
	appliedSeq uint64
}

// New 为指定用户创建书签存储
func New(gateway Gateway, owner string) *Store {
	return &Store{
		gateway: gateway,
		owner:   owner,
		state:   StateUninitialized,
	}
}

// Owner 返回存储所属的用户ID
func (s *Store) Owner() string {
	return s.owner
}

// State 返回当前状态
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Bookmarks 返回当前列表的副本
func (s *Store) Bookmarks() []models.Bookmark {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Bookmark, len(s.bookmarks))
	copy(out, s.bookmarks)
	return out
}

// Count 返回当前书签数量
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bookmarks)
}

// Fetch 从持久化层拉取全量列表并整体替换
// 全量替换天然幂等，是乐观漂移的唯一对账权威；失败时保留旧快照并返回错误
func (s *Store) Fetch() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateLoading
	s.fetchSeq++
	seq := s.fetchSeq
	s.mu.Unlock()

	list, err := s.gateway.ListBookmarks(s.owner)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		// 会话已销毁，丢弃结果
		return nil
	}

	if err != nil {
		// 保留旧快照（可能过期但可用）；从未成功加载过则回到未初始化，
		// 不能让空列表冒充Ready
		if s.appliedSeq > 0 {
			s.state = StateReady
		} else {
			s.state = StateUninitialized
		}
		return fmt.Errorf("failed to fetch bookmarks: %w", err)
	}

	if seq <= s.appliedSeq {
		// 更新的Fetch已经落地，本次结果过期作废
		fmt.Printf("⏭️ Discarding stale fetch result (seq %d, applied %d)\n", seq, s.appliedSeq)
		s.state = StateReady
		return nil
	}

	s.bookmarks = list
	s.appliedSeq = seq
	s.state = StateReady
	return nil
}

// Add 乐观添加书签
// title/url任一为空或无用户身份时不执行（不算错误，按钮禁用是展示层的事）
// 协议：先用占位ID前插一条pending条目，再请求持久化层；
// 成功后pending条目保留到下一次Fetch换入真实记录，失败则按占位ID精确回滚
func (s *Store) Add(title, url string) error {
	title = strings.TrimSpace(title)
	url = strings.TrimSpace(url)
	if title == "" || url == "" || s.owner == "" {
		return nil
	}

	provisional := models.Bookmark{
		ID:        models.LocalIDPrefix + uuid.NewString(),
		Title:     title,
		URL:       url,
		Owner:     s.owner,
		CreatedAt: time.Now(),
		Pending:   true,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	// 前插保持created_at倒序不变
	s.bookmarks = append([]models.Bookmark{provisional}, s.bookmarks...)
	s.mu.Unlock()

	// 占位ID不发给持久化层，ID由服务端分配
	record := models.Bookmark{Title: title, URL: url, Owner: s.owner}
	if err := s.gateway.CreateBookmark(&record); err != nil {
		// 精确回滚：只移除本次的占位条目，不做全量刷新
		s.removeByID(provisional.ID)
		return fmt.Errorf("failed to add bookmark: %w", err)
	}

	return nil
}

// Delete 乐观删除书签
// 本地立即移除，随后通知持久化层；远端失败只记录日志，
// 被移除的条目保持消失直到下一次Fetch恢复真实状态
// pending条目拒绝删除：占位ID对远端无意义
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}

	found := false
	for _, b := range s.bookmarks {
		if b.ID != id {
			continue
		}
		if b.Pending {
			s.mu.Unlock()
			return ErrBookmarkPending
		}
		found = true
		break
	}

	if found {
		filtered := s.bookmarks[:0]
		for _, b := range s.bookmarks {
			if b.ID != id {
				filtered = append(filtered, b)
			}
		}
		s.bookmarks = filtered
	}
	s.mu.Unlock()

	if !found {
		// ID不存在：列表不变，也不打扰持久化层
		return nil
	}

	if err := s.gateway.DeleteBookmark(id); err != nil {
		// 不恢复本地状态——接受的不一致窗口，下一次Fetch会对账
		fmt.Printf("⚠️ Failed to delete bookmark %s remotely: %v\n", id, err)
	}
	return nil
}

// Close 销毁存储；之后的迟到结果和变更一律丢弃
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.bookmarks = nil
	s.state = StateUninitialized
}

// removeByID 按ID移除条目（回滚用）
func (s *Store) removeByID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	filtered := s.bookmarks[:0]
	for _, b := range s.bookmarks {
		if b.ID != id {
			filtered = append(filtered, b)
		}
	}
	s.bookmarks = filtered
}
