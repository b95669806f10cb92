package database

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"smart-bookmark-backend/pkg/models"
)

// SupabaseDatabase Supabase数据库实现（REST API）
type SupabaseDatabase struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	// 轮询间隔；PostgREST没有通知通道，变更订阅只能靠轮询模拟
	pollInterval time.Duration
}

// NewSupabaseDatabase 创建Supabase数据库实例
func NewSupabaseDatabase(rawURL, key string) DatabaseInterface {
	// 确保URL格式正确
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "https://" + rawURL
	}

	return &SupabaseDatabase{
		baseURL: rawURL,
		apiKey:  key,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		pollInterval: 10 * time.Second,
	}
}

// SetPollInterval 覆盖默认轮询间隔
func (db *SupabaseDatabase) SetPollInterval(d time.Duration) {
	if d > 0 {
		db.pollInterval = d
	}
}

// makeRequest 发送HTTP请求到Supabase
func (db *SupabaseDatabase) makeRequest(method, endpoint string, body interface{}) ([]byte, error) {
	var reqBody io.Reader

	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	reqURL := db.baseURL + "/rest/v1" + endpoint
	req, err := http.NewRequest(method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// 设置请求头
	req.Header.Set("apikey", db.apiKey)
	req.Header.Set("Authorization", "Bearer "+db.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	resp, err := db.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// ================= Users =================

// CreateUser 创建用户
func (db *SupabaseDatabase) CreateUser(user *models.User) error {
	if user.Provider == "" {
		user.Provider = "google"
	}
	payload := map[string]interface{}{
		"email":    user.Email,
		"name":     user.Name,
		"avatar":   user.Avatar,
		"provider": user.Provider,
	}
	data, err := db.makeRequest("POST", "/users", payload)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	var rows []models.User
	if err := json.Unmarshal(data, &rows); err == nil && len(rows) > 0 {
		user.ID = rows[0].ID
		user.CreatedAt = rows[0].CreatedAt
		user.UpdatedAt = rows[0].UpdatedAt
	}
	return nil
}

// GetUserByEmail 根据邮箱获取用户
func (db *SupabaseDatabase) GetUserByEmail(email string) (*models.User, error) {
	data, err := db.makeRequest("GET", "/users?email=eq."+url.QueryEscape(email)+"&select=*", nil)
	if err != nil {
		return nil, err
	}
	var rows []models.User
	if err := json.Unmarshal(data, &rows); err != nil || len(rows) == 0 {
		return nil, fmt.Errorf("user not found")
	}
	return &rows[0], nil
}

// GetUserByID 根据ID获取用户
func (db *SupabaseDatabase) GetUserByID(id string) (*models.User, error) {
	data, err := db.makeRequest("GET", "/users?id=eq."+url.QueryEscape(id)+"&select=*", nil)
	if err != nil {
		return nil, err
	}
	var rows []models.User
	if err := json.Unmarshal(data, &rows); err != nil || len(rows) == 0 {
		return nil, fmt.Errorf("user not found")
	}
	return &rows[0], nil
}

// UpdateUser 更新用户
func (db *SupabaseDatabase) UpdateUser(user *models.User) error {
	if user.ID == "" {
		return fmt.Errorf("user ID is required for update")
	}
	payload := map[string]interface{}{
		"name":     user.Name,
		"avatar":   user.Avatar,
		"provider": user.Provider,
	}
	_, err := db.makeRequest("PATCH", "/users?id=eq."+url.QueryEscape(user.ID), payload)
	return err
}

// ================= Bookmarks =================

// ListBookmarks 列出用户书签，created_at倒序由PostgREST排序
func (db *SupabaseDatabase) ListBookmarks(owner string) ([]models.Bookmark, error) {
	endpoint := "/bookmarks?user_id=eq." + url.QueryEscape(owner) + "&select=*&order=created_at.desc"
	data, err := db.makeRequest("GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookmarks: %w", err)
	}
	var bookmarks []models.Bookmark
	if err := json.Unmarshal(data, &bookmarks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bookmarks: %w", err)
	}
	return bookmarks, nil
}

// CreateBookmark 创建书签；Prefer: return=representation 回传完整记录
func (db *SupabaseDatabase) CreateBookmark(b *models.Bookmark) error {
	payload := map[string]interface{}{
		"title":   b.Title,
		"url":     b.URL,
		"user_id": b.Owner,
	}
	data, err := db.makeRequest("POST", "/bookmarks", payload)
	if err != nil {
		return fmt.Errorf("failed to create bookmark: %w", err)
	}
	var rows []models.Bookmark
	if err := json.Unmarshal(data, &rows); err == nil && len(rows) > 0 {
		b.ID = rows[0].ID
		b.CreatedAt = rows[0].CreatedAt
	}
	b.Pending = false
	return nil
}

// DeleteBookmark 按ID删除书签
func (db *SupabaseDatabase) DeleteBookmark(id string) error {
	_, err := db.makeRequest("DELETE", "/bookmarks?id=eq."+url.QueryEscape(id), nil)
	if err != nil {
		return fmt.Errorf("failed to delete bookmark: %w", err)
	}
	return nil
}

// ================= Change subscription =================

// pollSubscription 轮询式变更订阅
type pollSubscription struct {
	stop     chan struct{}
	stopOnce sync.Once
}

// Unsubscribe 停止轮询；重复调用安全
func (s *pollSubscription) Unsubscribe() error {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	return nil
}

// SubscribeChanges 用定时轮询模拟变更通知
// 每个tick都回调一次onChange；全量Fetch是幂等的，多余的刷新只是浪费、不是错误
func (db *SupabaseDatabase) SubscribeChanges(table string, onChange func()) (Subscription, error) {
	sub := &pollSubscription{stop: make(chan struct{})}

	go func() {
		ticker := time.NewTicker(db.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				onChange()
			case <-sub.stop:
				return
			}
		}
	}()

	fmt.Printf("📡 Polling %s every %s for changes\n", table, db.pollInterval)
	return sub, nil
}

// HealthCheck 健康检查
func (db *SupabaseDatabase) HealthCheck() error {
	_, err := db.makeRequest("GET", "/users?select=id&limit=1", nil)
	return err
}

// Close 关闭连接（REST实现无持久连接）
func (db *SupabaseDatabase) Close() error {
	return nil
}
