package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"smart-bookmark-backend/pkg/config"
	"smart-bookmark-backend/pkg/database"
	customMiddleware "smart-bookmark-backend/pkg/middleware"
	"smart-bookmark-backend/pkg/models"
	"smart-bookmark-backend/pkg/session"
	"smart-bookmark-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDB 内存版DatabaseInterface
type fakeDB struct {
	mu        sync.Mutex
	bookmarks []models.Bookmark
	nextID    int
	createErr error
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
	if f.createErr != nil {
		return f.createErr
	}
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
	return noopSubscription{}, nil
}

func (f *fakeDB) HealthCheck() error { return nil }
func (f *fakeDB) Close() error       { return nil }

func (f *fakeDB) seed(owner, title, rawURL string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.bookmarks = append([]models.Bookmark{{
		ID:        fmt.Sprintf("srv-%d", f.nextID),
		Title:     title,
		URL:       rawURL,
		Owner:     owner,
		CreatedAt: time.Now(),
	}}, f.bookmarks...)
}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() error { return nil }

// withUser 测试用中间件：直接注入已认证用户
func withUser(user *models.User) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if user != nil {
				ctx := context.WithValue(r.Context(), customMiddleware.UserContextKey, user)
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func newTestRouter(db *fakeDB, user *models.User) *chi.Mux {
	cfg := &config.Config{Environment: "development", JWTSecret: "test-secret"}
	sessions := session.NewManager(db)
	h := NewBookmarkHandler(cfg, db, sessions)

	router := chi.NewRouter()
	router.Use(withUser(user))
	router.Route("/api/bookmarks", func(r chi.Router) {
		r.Get("/", h.ListBookmarks)
		r.Post("/", h.CreateBookmark)
		r.Post("/refresh", h.RefreshBookmarks)
		r.Delete("/{id}", h.DeleteBookmark)
	})
	return router
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp utils.APIResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.True(t, resp.Success, "expected success response, got: %+v", resp.Error)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	return data
}

func bookmarkTitles(t *testing.T, data map[string]interface{}) []string {
	t.Helper()
	raw, ok := data["bookmarks"].([]interface{})
	require.True(t, ok)
	titles := make([]string, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]interface{})
		require.True(t, ok)
		titles = append(titles, entry["title"].(string))
	}
	return titles
}

func TestListBookmarks(t *testing.T) {
	db := &fakeDB{}
	db.seed("user-1", "Go Blog", "https://go.dev/blog")
	db.seed("user-1", "Postgres Docs", "https://postgresql.org/docs")
	db.seed("user-2", "Other users bookmark", "https://example.com")

	router := newTestRouter(db, &models.User{ID: "user-1", Email: "u@example.com"})

	req := httptest.NewRequest(http.MethodGet, "/api/bookmarks/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, float64(2), data["count"])
	assert.Equal(t, "ready", data["state"])
	assert.Equal(t, []string{"Postgres Docs", "Go Blog"}, bookmarkTitles(t, data))
}

func TestListBookmarksWithSearch(t *testing.T) {
	db := &fakeDB{}
	db.seed("user-1", "Go Blog", "https://go.dev/blog")
	db.seed("user-1", "Postgres Docs", "https://postgresql.org/docs")

	router := newTestRouter(db, &models.User{ID: "user-1", Email: "u@example.com"})

	req := httptest.NewRequest(http.MethodGet, "/api/bookmarks/?q=BLOG", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, float64(1), data["count"])
	assert.Equal(t, []string{"Go Blog"}, bookmarkTitles(t, data))
}

func TestListBookmarksUnauthenticated(t *testing.T) {
	router := newTestRouter(&fakeDB{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/bookmarks/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateBookmark(t *testing.T) {
	db := &fakeDB{}
	router := newTestRouter(db, &models.User{ID: "user-1", Email: "u@example.com"})

	body := strings.NewReader(`{"title":"Go Blog","url":"https://go.dev/blog"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/bookmarks/", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, float64(1), data["count"])

	// 乐观条目立即可见，pending直到下一次对账
	raw := data["bookmarks"].([]interface{})
	entry := raw[0].(map[string]interface{})
	assert.Equal(t, "Go Blog", entry["title"])
	assert.Equal(t, true, entry["pending"])
}

func TestCreateBookmarkRejectsBlankFields(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"blank title", `{"title":"  ","url":"https://go.dev"}`},
		{"blank url", `{"title":"Go","url":""}`},
		{"missing fields", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &fakeDB{}
			router := newTestRouter(db, &models.User{ID: "user-1", Email: "u@example.com"})

			req := httptest.NewRequest(http.MethodPost, "/api/bookmarks/", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCreateBookmarkRollsBackOnFailure(t *testing.T) {
	db := &fakeDB{createErr: errors.New("insert rejected")}
	router := newTestRouter(db, &models.User{ID: "user-1", Email: "u@example.com"})

	body := strings.NewReader(`{"title":"Doomed","url":"https://example.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/bookmarks/", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// 回滚后列表为空
	req = httptest.NewRequest(http.MethodGet, "/api/bookmarks/", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	data := decodeData(t, rec)
	assert.Equal(t, float64(0), data["count"])
}

func TestDeleteBookmark(t *testing.T) {
	db := &fakeDB{}
	db.seed("user-1", "victim", "https://example.com/victim")

	router := newTestRouter(db, &models.User{ID: "user-1", Email: "u@example.com"})

	req := httptest.NewRequest(http.MethodDelete, "/api/bookmarks/srv-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, "srv-1", data["deleted"])
	assert.Equal(t, float64(0), data["count"])
}

func TestDeletePendingBookmarkConflict(t *testing.T) {
	db := &fakeDB{}
	user := &models.User{ID: "user-1", Email: "u@example.com"}
	router := newTestRouter(db, user)

	// 创建成功但尚未对账：pending条目保留到下一次Fetch
	body := strings.NewReader(`{"title":"Pending","url":"https://example.com/pending"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/bookmarks/", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	data := decodeData(t, rec)
	raw := data["bookmarks"].([]interface{})
	pendingID := raw[0].(map[string]interface{})["id"].(string)
	require.True(t, models.IsLocalID(pendingID))

	req = httptest.NewRequest(http.MethodDelete, "/api/bookmarks/"+pendingID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRefreshBookmarks(t *testing.T) {
	db := &fakeDB{}
	user := &models.User{ID: "user-1", Email: "u@example.com"}
	router := newTestRouter(db, user)

	// 先触发会话建立
	req := httptest.NewRequest(http.MethodGet, "/api/bookmarks/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// 远端出现新记录，手动对账后可见
	db.seed("user-1", "late arrival", "https://example.com/late")

	req = httptest.NewRequest(http.MethodPost, "/api/bookmarks/refresh", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	assert.Equal(t, float64(1), data["count"])
	assert.Equal(t, []string{"late arrival"}, bookmarkTitles(t, data))
}
