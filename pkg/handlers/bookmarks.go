package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"smart-bookmark-backend/pkg/bookmarks"
	"smart-bookmark-backend/pkg/config"
	"smart-bookmark-backend/pkg/database"
	"smart-bookmark-backend/pkg/middleware"
	"smart-bookmark-backend/pkg/models"
	"smart-bookmark-backend/pkg/session"
	"smart-bookmark-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
)

// BookmarkHandler 书签处理器
// 所有读写都经过用户会话的Store，而不是直接打数据库：
// 列表反映乐观状态，写操作走乐观协议
type BookmarkHandler struct {
	config   *config.Config
	db       database.DatabaseInterface
	sessions *session.Manager
}

// NewBookmarkHandler 创建书签处理器
func NewBookmarkHandler(cfg *config.Config, db database.DatabaseInterface, sessions *session.Manager) *BookmarkHandler {
	return &BookmarkHandler{
		config:   cfg,
		db:       db,
		sessions: sessions,
	}
}

// getSession 获取（或冷启动后重建）当前用户的会话
func (h *BookmarkHandler) getSession(r *http.Request) (*session.Session, *models.User, error) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		return nil, nil, err
	}

	if sess, ok := h.sessions.Get(user.ID); ok {
		return sess, user, nil
	}

	// 进程重启后会话丢失，按JWT身份重建
	sess, err := h.sessions.Init(user)
	if err != nil {
		return nil, user, fmt.Errorf("failed to initialize session: %w", err)
	}
	return sess, user, nil
}

// ListBookmarks 列出当前用户的书签
// GET /api/bookmarks?q=搜索词
func (h *BookmarkHandler) ListBookmarks(w http.ResponseWriter, r *http.Request) {
	sess, _, err := h.getSession(r)
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required: "+err.Error())
		return
	}

	list := sess.Store.Bookmarks()

	// 搜索在内存快照上过滤，不回数据库
	query := utils.GetQueryParam(r, "q", "")
	list = bookmarks.Filter(list, query)

	utils.WriteSuccessResponse(w, map[string]interface{}{
		"bookmarks": list,
		"count":     len(list),
		"state":     sess.Store.State().String(),
	})
}

// CreateBookmark 添加书签（乐观写入）
// POST /api/bookmarks
func (h *BookmarkHandler) CreateBookmark(w http.ResponseWriter, r *http.Request) {
	sess, user, err := h.getSession(r)
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required: "+err.Error())
		return
	}

	var req models.CreateBookmarkRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}

	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.URL) == "" {
		utils.WriteBadRequestResponse(w, "Title and URL are required")
		return
	}

	if err := sess.Store.Add(req.Title, req.URL); err != nil {
		fmt.Printf("❌ Failed to add bookmark for user %s: %v\n", user.ID, err)
		utils.WriteInternalServerErrorResponse(w, "Failed to add bookmark: "+err.Error())
		return
	}

	utils.WriteCreatedResponse(w, map[string]interface{}{
		"bookmarks": sess.Store.Bookmarks(),
		"count":     sess.Store.Count(),
	})
}

// DeleteBookmark 删除书签（乐观移除）
// DELETE /api/bookmarks/{id}
func (h *BookmarkHandler) DeleteBookmark(w http.ResponseWriter, r *http.Request) {
	sess, _, err := h.getSession(r)
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required: "+err.Error())
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		utils.WriteBadRequestResponse(w, "Bookmark ID is required")
		return
	}

	if err := sess.Store.Delete(id); err != nil {
		if errors.Is(err, bookmarks.ErrBookmarkPending) {
			utils.WriteConflictResponse(w, "Bookmark is still pending confirmation, retry shortly")
			return
		}
		utils.WriteInternalServerErrorResponse(w, "Failed to delete bookmark: "+err.Error())
		return
	}

	utils.WriteSuccessResponse(w, map[string]interface{}{
		"deleted": id,
		"count":   sess.Store.Count(),
	})
}

// RefreshBookmarks 手动触发一次全量对账
// POST /api/bookmarks/refresh
func (h *BookmarkHandler) RefreshBookmarks(w http.ResponseWriter, r *http.Request) {
	sess, _, err := h.getSession(r)
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required: "+err.Error())
		return
	}

	if err := sess.Store.Fetch(); err != nil {
		utils.WriteInternalServerErrorResponse(w, "Failed to refresh bookmarks: "+err.Error())
		return
	}

	utils.WriteSuccessResponse(w, map[string]interface{}{
		"bookmarks": sess.Store.Bookmarks(),
		"count":     sess.Store.Count(),
		"state":     sess.Store.State().String(),
	})
}
