package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"smart-bookmark-backend/pkg/database"
	"smart-bookmark-backend/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSubscription 记录取消状态的订阅句柄
type fakeSubscription struct {
	mu           sync.Mutex
	unsubscribed bool
}

func (s *fakeSubscription) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribed = true
	return nil
}

func (s *fakeSubscription) isUnsubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribed
}

// fakeDB 内存版DatabaseInterface，捕获变更回调供测试触发
type fakeDB struct {
	mu           sync.Mutex
	bookmarks    []models.Bookmark
	nextID       int
	subscribeErr error
	onChange     func()
	subs         []*fakeSubscription
}

func (f *fakeDB) CreateUser(user *models.User) error { return nil }
func (f *fakeDB) GetUserByEmail(email string) (*models.User, error) {
	return nil, errors.New("not found")
}
func (f *fakeDB) GetUserByID(id string) (*models.User, error) {
	return nil, errors.New("not found")
}
func (f *fakeDB) UpdateUser(user *models.User) error { return nil }

func (f *fakeDB) ListBookmarks(owner string) ([]models.Bookmark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Bookmark, 0, len(f.bookmarks))
	for _, b := range f.bookmarks {
		if b.Owner == owner {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeDB) CreateBookmark(b *models.Bookmark) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	b.ID = fmt.Sprintf("srv-%d", f.nextID)
	b.CreatedAt = time.Now()
	f.bookmarks = append([]models.Bookmark{*b}, f.bookmarks...)
	return nil
}

func (f *fakeDB) DeleteBookmark(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	filtered := f.bookmarks[:0]
	for _, b := range f.bookmarks {
		if b.ID != id {
			filtered = append(filtered, b)
		}
	}
	f.bookmarks = filtered
	return nil
}

func (f *fakeDB) SubscribeChanges(table string, onChange func()) (database.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.onChange = onChange
	sub := &fakeSubscription{}
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeDB) HealthCheck() error { return nil }
func (f *fakeDB) Close() error       { return nil }

func (f *fakeDB) seed(owner, title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.bookmarks = append([]models.Bookmark{{
		ID:        fmt.Sprintf("srv-%d", f.nextID),
		Title:     title,
		URL:       "https://example.com/" + title,
		Owner:     owner,
		CreatedAt: time.Now(),
	}}, f.bookmarks...)
}

func (f *fakeDB) fireChange() {
	f.mu.Lock()
	cb := f.onChange
	f.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func testUser(id string) *models.User {
	return &models.User{ID: id, Email: id + "@example.com"}
}

func TestManagerInitLoadsInitialSnapshot(t *testing.T) {
	db := &fakeDB{}
	db.seed("user-1", "existing")

	mgr := NewManager(db)
	sess, err := mgr.Init(testUser("user-1"))
	require.NoError(t, err)
	require.NotNil(t, sess)

	assert.Equal(t, 1, sess.Store.Count())
	assert.Equal(t, 1, mgr.Count())
}

func TestManagerInitIdempotent(t *testing.T) {
	db := &fakeDB{}
	mgr := NewManager(db)

	first, err := mgr.Init(testUser("user-1"))
	require.NoError(t, err)
	second, err := mgr.Init(testUser("user-1"))
	require.NoError(t, err)

	// 同一个会话，订阅不叠加
	assert.Same(t, first, second)
	assert.Len(t, db.subs, 1)
	assert.Equal(t, 1, mgr.Count())
}

func TestManagerInitRequiresUser(t *testing.T) {
	mgr := NewManager(&fakeDB{})

	_, err := mgr.Init(nil)
	require.Error(t, err)

	_, err = mgr.Init(&models.User{})
	require.Error(t, err)
}

func TestManagerInitSubscribeFailure(t *testing.T) {
	db := &fakeDB{subscribeErr: errors.New("listener down")}
	mgr := NewManager(db)

	_, err := mgr.Init(testUser("user-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to subscribe")
	assert.Equal(t, 0, mgr.Count())
}

func TestManagerChangeNotificationTriggersFetch(t *testing.T) {
	db := &fakeDB{}
	mgr := NewManager(db)

	sess, err := mgr.Init(testUser("user-1"))
	require.NoError(t, err)
	require.Equal(t, 0, sess.Store.Count())

	// 远端出现新记录（可能来自另一台设备），通知驱动全量对账
	db.seed("user-1", "from-another-device")
	db.fireChange()

	list := sess.Store.Bookmarks()
	require.Len(t, list, 1)
	assert.Equal(t, "from-another-device", list[0].Title)
}

func TestManagerTeardown(t *testing.T) {
	db := &fakeDB{}
	db.seed("user-1", "existing")
	mgr := NewManager(db)

	sess, err := mgr.Init(testUser("user-1"))
	require.NoError(t, err)
	require.Equal(t, 1, sess.Store.Count())

	mgr.Teardown("user-1")

	// 订阅取消、存储清空、登记移除
	require.Len(t, db.subs, 1)
	assert.True(t, db.subs[0].isUnsubscribed())
	assert.Empty(t, sess.Store.Bookmarks())
	assert.Equal(t, 0, mgr.Count())

	// 不存在的用户静默通过
	mgr.Teardown("user-unknown")
}

func TestManagerShutdown(t *testing.T) {
	db := &fakeDB{}
	mgr := NewManager(db)

	_, err := mgr.Init(testUser("user-1"))
	require.NoError(t, err)
	_, err = mgr.Init(testUser("user-2"))
	require.NoError(t, err)
	require.Equal(t, 2, mgr.Count())

	mgr.Shutdown()

	assert.Equal(t, 0, mgr.Count())
	for _, sub := range db.subs {
		assert.True(t, sub.isUnsubscribed())
	}
}
