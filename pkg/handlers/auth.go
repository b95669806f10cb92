package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"smart-bookmark-backend/pkg/config"
	"smart-bookmark-backend/pkg/database"
	"smart-bookmark-backend/pkg/middleware"
	"smart-bookmark-backend/pkg/models"
	"smart-bookmark-backend/pkg/session"
	"smart-bookmark-backend/pkg/utils"
)

// AuthHandler 认证处理器
type AuthHandler struct {
	config   *config.Config
	db       database.DatabaseInterface
	sessions *session.Manager
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(cfg *config.Config, db database.DatabaseInterface, sessions *session.Manager) *AuthHandler {
	return &AuthHandler{
		config:   cfg,
		db:       db,
		sessions: sessions,
	}
}

// GoogleUser Google用户信息结构
type GoogleUser struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// GoogleTokenResponse Google令牌响应结构
type GoogleTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// OAuthRequest OAuth请求结构
type OAuthRequest struct {
	Code  string `json:"code"`
	State string `json:"state,omitempty"`
}

// GitHubUser GitHub用户信息结构
type GitHubUser struct {
	ID        int    `json:"id"`
	Login     string `json:"login"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// SignIn 发起OAuth登录：重定向到提供商的授权页面
// GET /api/auth/signin/{provider}
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request, provider string) {
	state, err := utils.GenerateURLToken(24)
	if err != nil {
		utils.WriteInternalServerErrorResponse(w, "Failed to generate state: "+err.Error())
		return
	}

	var authorizeURL string
	switch provider {
	case "google":
		params := url.Values{}
		params.Set("client_id", h.config.GoogleClientID)
		params.Set("redirect_uri", h.config.OAuthRedirectURI)
		params.Set("response_type", "code")
		params.Set("scope", "openid email profile")
		params.Set("state", state)
		authorizeURL = "https://accounts.google.com/o/oauth2/v2/auth?" + params.Encode()
	case "github":
		params := url.Values{}
		params.Set("client_id", h.config.GitHubClientID)
		params.Set("redirect_uri", h.config.OAuthRedirectURI)
		params.Set("scope", "read:user user:email")
		params.Set("state", state)
		authorizeURL = "https://github.com/login/oauth/authorize?" + params.Encode()
	default:
		utils.WriteBadRequestResponse(w, "Unsupported provider: "+provider)
		return
	}

	fmt.Printf("🔄 Redirecting to %s OAuth authorize page\n", provider)
	http.Redirect(w, r, authorizeURL, http.StatusFound)
}

// GoogleOAuth Google OAuth登录 - 处理前端发送的授权码
func (h *AuthHandler) GoogleOAuth(w http.ResponseWriter, r *http.Request) {
	var req OAuthRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}

	if req.Code == "" {
		utils.WriteBadRequestResponse(w, "Authorization code is required")
		return
	}

	fmt.Printf("🔄 Google OAuth token exchange request received\n")
	fmt.Printf("   - Code length: %d\n", len(req.Code))

	h.handleGoogleOAuthFlow(w, r, req.Code)
}

// GitHubOAuth GitHub OAuth登录
func (h *AuthHandler) GitHubOAuth(w http.ResponseWriter, r *http.Request) {
	var req OAuthRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}

	if req.Code == "" {
		utils.WriteBadRequestResponse(w, "Authorization code is required")
		return
	}

	h.handleGitHubOAuthFlow(w, r, req.Code)
}

// GoogleOAuthCallback Google OAuth回调
func (h *AuthHandler) GoogleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	errorParam := r.URL.Query().Get("error")

	if errorParam != "" {
		utils.WriteBadRequestResponse(w, "Google OAuth error: "+errorParam)
		return
	}

	if code == "" {
		utils.WriteBadRequestResponse(w, "Missing Google authorization code")
		return
	}

	h.handleGoogleOAuthFlow(w, r, code)
}

// GitHubOAuthCallback GitHub OAuth回调
func (h *AuthHandler) GitHubOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	errorParam := r.URL.Query().Get("error")

	if errorParam != "" {
		utils.WriteBadRequestResponse(w, "GitHub OAuth error: "+errorParam)
		return
	}

	if code == "" {
		utils.WriteBadRequestResponse(w, "Missing GitHub authorization code")
		return
	}

	h.handleGitHubOAuthFlow(w, r, code)
}

// handleGoogleOAuthFlow 处理Google OAuth流程
func (h *AuthHandler) handleGoogleOAuthFlow(w http.ResponseWriter, r *http.Request, code string) {
	// 1. 使用授权码换取访问令牌
	accessToken, err := h.exchangeGoogleCode(code)
	if err != nil {
		fmt.Printf("❌ Failed to exchange Google code: %v\n", err)
		h.handleOAuthError(w, r, "token_exchange_failed", "Failed to exchange code for token: "+err.Error())
		return
	}

	// 2. 使用访问令牌获取用户信息
	googleUser, err := h.getGoogleUserInfo(accessToken)
	if err != nil {
		h.handleOAuthError(w, r, "user_info_failed", "Failed to get user info: "+err.Error())
		return
	}

	// 3. 在数据库中查找或创建用户
	user, err := h.findOrCreateUser(googleUser.Email, googleUser.Name, googleUser.Picture, "google")
	if err != nil {
		h.handleOAuthError(w, r, "user_creation_failed", "Failed to create user: "+err.Error())
		return
	}

	h.completeLogin(w, r, user)
}

// handleGitHubOAuthFlow 处理GitHub OAuth流程
func (h *AuthHandler) handleGitHubOAuthFlow(w http.ResponseWriter, r *http.Request, code string) {
	fmt.Printf("🔄 GitHub OAuth token exchange request received\n")
	fmt.Printf("   - Code length: %d\n", len(code))

	// 1. 交换授权码为访问令牌
	accessToken, err := h.exchangeGitHubCodeForToken(code)
	if err != nil {
		h.handleOAuthError(w, r, "token_exchange_failed", "Failed to exchange code for token: "+err.Error())
		return
	}

	// 2. 获取用户信息
	githubUser, err := h.getGitHubUserInfo(accessToken)
	if err != nil {
		h.handleOAuthError(w, r, "user_info_failed", "Failed to get user info: "+err.Error())
		return
	}

	// 3. 查找或创建用户
	user, err := h.findOrCreateUser(githubUser.Email, githubUser.Name, githubUser.AvatarURL, "github")
	if err != nil {
		h.handleOAuthError(w, r, "user_creation_failed", "Failed to create user: "+err.Error())
		return
	}

	h.completeLogin(w, r, user)
}

// completeLogin 登录收尾：初始化会话、签发JWT、返回响应
func (h *AuthHandler) completeLogin(w http.ResponseWriter, r *http.Request, user *models.User) {
	// 初始化用户会话：首次全量拉取书签并订阅远端变更
	if _, err := h.sessions.Init(user); err != nil {
		fmt.Printf("⚠️ Failed to initialize session for %s: %v\n", user.Email, err)
	}

	jwtService := utils.NewJWTService(h.config.JWTSecret)
	accessToken, refreshToken, expiresIn, err := jwtService.GenerateTokenPair(user.ID, user.Email)
	if err != nil {
		h.handleOAuthError(w, r, "token_generation_failed", "Failed to generate tokens: "+err.Error())
		return
	}

	h.handleOAuthSuccess(w, r, user, accessToken, refreshToken, expiresIn)
}

// handleOAuthSuccess 处理OAuth成功响应
// POST请求返回JSON；GET回调重定向到前端并携带令牌
func (h *AuthHandler) handleOAuthSuccess(w http.ResponseWriter, r *http.Request, user *models.User, accessToken, refreshToken string, expiresIn int64) {
	if r.Method == http.MethodPost {
		response := models.UserLoginResponse{
			User:         *user,
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
			ExpiresIn:    expiresIn,
		}
		utils.WriteSuccessResponse(w, response)
		return
	}

	frontendURL := h.getFrontendCallbackURL()

	// 同源Web客户端写入HttpOnly cookie，后续请求无需手动注入头
	http.SetCookie(w, &http.Cookie{
		Name:     "access_token",
		Value:    accessToken,
		Path:     "/",
		MaxAge:   int(expiresIn),
		HttpOnly: true,
		Secure:   strings.HasPrefix(strings.ToLower(h.config.BaseURL), "https://"),
		SameSite: http.SameSiteLaxMode,
	})

	redirectURL := fmt.Sprintf("%s?success=true&access_token=%s&refresh_token=%s&expires_in=%d&user_id=%s&email=%s&name=%s",
		frontendURL,
		accessToken,
		refreshToken,
		expiresIn,
		user.ID,
		url.QueryEscape(user.Email),
		url.QueryEscape(user.Name),
	)

	http.Redirect(w, r, redirectURL, http.StatusFound)
	fmt.Printf("🔄 Redirected web client to frontend: %s\n", frontendURL)
}

// handleOAuthError 处理OAuth错误响应
func (h *AuthHandler) handleOAuthError(w http.ResponseWriter, r *http.Request, errorCode, errorMessage string) {
	if r.Method == http.MethodPost {
		utils.WriteInternalServerErrorResponse(w, errorMessage)
		return
	}

	frontendURL := h.getFrontendCallbackURL()
	redirectURL := fmt.Sprintf("%s?error=%s&error_description=%s",
		frontendURL,
		errorCode,
		url.QueryEscape(errorMessage),
	)

	http.Redirect(w, r, redirectURL, http.StatusFound)
	fmt.Printf("🔄 Redirected web client to frontend error page: %s\n", errorCode)
}

// getFrontendCallbackURL 获取前端回调URL
func (h *AuthHandler) getFrontendCallbackURL() string {
	if frontendURL := os.Getenv("FRONTEND_CALLBACK_URL"); frontendURL != "" {
		return strings.TrimSpace(frontendURL)
	}
	return "http://localhost:3000/auth/callback"
}

// findOrCreateUser 查找或创建用户
func (h *AuthHandler) findOrCreateUser(email, name, avatar, provider string) (*models.User, error) {
	if strings.TrimSpace(email) == "" {
		return nil, fmt.Errorf("provider did not return an email address")
	}

	// 先尝试查找现有用户
	user, err := h.db.GetUserByEmail(email)
	if err == nil {
		// 用户已存在，更新OAuth信息
		user.Name = name
		user.Avatar = avatar
		user.Provider = provider
		user.UpdatedAt = time.Now()

		if err := h.db.UpdateUser(user); err != nil {
			return nil, fmt.Errorf("failed to update user: %w", err)
		}

		fmt.Printf("👤 Found existing user %s, updated OAuth info (provider: %s)\n", user.Email, provider)
		return user, nil
	}

	// 用户不存在，创建新用户
	newUser := &models.User{
		// ID will be auto-generated by PostgreSQL
		Email:     email,
		Name:      name,
		Provider:  provider,
		Avatar:    avatar,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := h.db.CreateUser(newUser); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Printf("👤 Created new OAuth user %s (provider: %s)\n", newUser.Email, provider)
	return newUser, nil
}

// exchangeGoogleCode 使用授权码换取访问令牌
func (h *AuthHandler) exchangeGoogleCode(code string) (string, error) {
	data := url.Values{}
	data.Set("client_id", h.config.GoogleClientID)
	data.Set("client_secret", h.config.GoogleClientSecret)
	data.Set("code", code)
	data.Set("grant_type", "authorization_code")
	data.Set("redirect_uri", h.config.OAuthRedirectURI)

	fmt.Printf("🔄 Exchanging code with Google OAuth:\n")
	fmt.Printf("   - Redirect URI: %s\n", h.config.OAuthRedirectURI)
	fmt.Printf("   - Code length: %d\n", len(code))

	resp, err := http.PostForm("https://oauth2.googleapis.com/token", data)
	if err != nil {
		return "", fmt.Errorf("failed to exchange code: %w", err)
	}
	defer resp.Body.Close()

	fmt.Printf("📡 Google OAuth response status: %d\n", resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		fmt.Printf("❌ Google OAuth error response: %s\n", string(body))
		return "", fmt.Errorf("Google token exchange failed: %s", string(body))
	}

	var tokenResp GoogleTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	fmt.Printf("✅ Successfully obtained access token from Google\n")
	return tokenResp.AccessToken, nil
}

// getGoogleUserInfo 使用访问令牌获取用户信息
func (h *AuthHandler) getGoogleUserInfo(accessToken string) (*GoogleUser, error) {
	req, err := http.NewRequest("GET", "https://www.googleapis.com/oauth2/v2/userinfo", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("Google user info request failed: %s", string(body))
	}

	var user GoogleUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}

	return &user, nil
}

// exchangeGitHubCodeForToken 交换GitHub授权码为访问令牌
func (h *AuthHandler) exchangeGitHubCodeForToken(code string) (string, error) {
	data := url.Values{}
	data.Set("client_id", h.config.GitHubClientID)
	data.Set("client_secret", h.config.GitHubClientSecret)
	data.Set("code", code)

	resp, err := http.PostForm("https://github.com/login/oauth/access_token", data)
	if err != nil {
		return "", fmt.Errorf("failed to exchange code: %w", err)
	}
	defer resp.Body.Close()

	fmt.Printf("📡 GitHub OAuth response status: %d\n", resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("GitHub OAuth failed with status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	// GitHub返回的是URL编码格式，需要解析
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	accessToken := values.Get("access_token")
	if accessToken == "" {
		return "", fmt.Errorf("no access token in response: %s", string(body))
	}

	fmt.Printf("✅ Successfully obtained GitHub access token\n")
	return accessToken, nil
}

// getGitHubUserInfo 获取GitHub用户信息
func (h *AuthHandler) getGitHubUserInfo(accessToken string) (*GitHubUser, error) {
	req, err := http.NewRequest("GET", "https://api.github.com/user", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("GitHub API failed with status %d: %s", resp.StatusCode, string(body))
	}

	var githubUser GitHubUser
	if err := json.NewDecoder(resp.Body).Decode(&githubUser); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}

	// 如果用户没有公开邮箱，需要单独获取
	if githubUser.Email == "" {
		email, err := h.getGitHubUserEmail(accessToken)
		if err != nil {
			fmt.Printf("⚠️ Failed to get GitHub user email: %v\n", err)
		} else {
			githubUser.Email = email
		}
	}

	fmt.Printf("👤 Retrieved GitHub user info: %s (%s)\n", githubUser.Login, githubUser.Email)
	return &githubUser, nil
}

// getGitHubUserEmail 获取GitHub用户的主邮箱
func (h *AuthHandler) getGitHubUserEmail(accessToken string) (string, error) {
	req, err := http.NewRequest("GET", "https://api.github.com/user/emails", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get user emails: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GitHub emails API failed with status %d", resp.StatusCode)
	}

	var emails []struct {
		Email   string `json:"email"`
		Primary bool   `json:"primary"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&emails); err != nil {
		return "", fmt.Errorf("failed to decode emails: %w", err)
	}

	// 查找主邮箱
	for _, email := range emails {
		if email.Primary {
			return email.Email, nil
		}
	}

	if len(emails) > 0 {
		return emails[0].Email, nil
	}

	return "", fmt.Errorf("no email found")
}

// RefreshToken 刷新令牌
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshTokenRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		utils.WriteBadRequestResponse(w, "refresh_token is required")
		return
	}

	jwtService := utils.NewJWTService(h.config.JWTSecret)
	accessToken, expiresIn, err := jwtService.RefreshAccessToken(req.RefreshToken)
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Invalid or expired refresh token: "+err.Error())
		return
	}

	utils.WriteSuccessResponse(w, map[string]interface{}{
		"access_token": accessToken,
		"expires_in":   expiresIn,
	})
}

// Logout 用户登出：销毁会话（取消订阅、清空书签存储）
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.RequireUser(r.Context())
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Authentication required")
		return
	}

	h.sessions.Teardown(user.ID)

	// 清除cookie
	http.SetCookie(w, &http.Cookie{
		Name:     "access_token",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	utils.WriteSuccessResponse(w, map[string]interface{}{
		"message": "Logged out",
	})
}

// Register 用户注册（仅支持OAuth登录）
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	utils.WriteErrorResponseWithCode(w, http.StatusNotImplemented, "NOT_IMPLEMENTED",
		"Password registration not supported, use OAuth sign-in", "")
}

// Login 用户登录（仅支持OAuth登录）
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	utils.WriteErrorResponseWithCode(w, http.StatusNotImplemented, "NOT_IMPLEMENTED",
		"Password login not supported, use OAuth sign-in", "")
}

// HealthCheck 健康检查
func (h *AuthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "healthy"
	if err := h.db.HealthCheck(); err != nil {
		dbStatus = "unhealthy: " + err.Error()
	}

	utils.WriteSuccessResponse(w, map[string]interface{}{
		"service":     "smart-bookmark-backend",
		"version":     "1.0.0",
		"environment": h.config.Environment,
		"database":    h.getDatabaseType(),
		"db_status":   dbStatus,
		"timestamp":   time.Now().Unix(),
		"status":      "healthy",
	})
}

// getDatabaseType 获取数据库类型
func (h *AuthHandler) getDatabaseType() string {
	if h.config.PostgresDSN != "" {
		return "postgresql"
	} else if h.config.SupabaseURL != "" && h.config.SupabaseKey != "" {
		return "supabase"
	}
	return "unknown"
}
