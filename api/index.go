package handler

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"smart-bookmark-backend/pkg/config"
	"smart-bookmark-backend/pkg/database"
	"smart-bookmark-backend/pkg/handlers"
	customMiddleware "smart-bookmark-backend/pkg/middleware"
	"smart-bookmark-backend/pkg/session"
	"smart-bookmark-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// 会话管理器必须跨请求存活：每个用户的书签Store和变更订阅
// 在登录时建立，进程内复用，登出时销毁
var (
	sessionsOnce sync.Once
	sessions     *session.Manager
)

// getSessionManager 返回进程级会话管理器
func getSessionManager(db database.DatabaseInterface) *session.Manager {
	sessionsOnce.Do(func() {
		sessions = session.NewManager(db)
	})
	return sessions
}

// Handler 是Vercel函数的入口点
// 这个函数实现了"单体路由模式"，将所有API端点集中在一个Chi路由器中管理
func Handler(w http.ResponseWriter, r *http.Request) {
	// 加载配置
	cfg := config.GetCached()

	// 验证配置
	if err := cfg.Validate(); err != nil {
		utils.WriteInternalServerErrorResponse(w, "Configuration error: "+err.Error())
		return
	}

	// 获取复用的数据库连接
	db := database.GetDatabase(database.DatabaseConfig{
		PostgresDSN: cfg.PostgresDSN,
		SupabaseURL: cfg.SupabaseURL,
		SupabaseKey: cfg.SupabaseKey,
		Debug:       cfg.Debug,
	})
	// 注意：连接由连接池管理，无需手动关闭

	// Supabase没有通知通道，轮询间隔可调
	if sb, ok := db.(*database.SupabaseDatabase); ok {
		sb.SetPollInterval(cfg.SupabasePollInterval)
	}

	// 创建Chi路由器
	router := chi.NewRouter()

	// 设置全局中间件
	setupMiddleware(router, cfg)

	// 设置路由
	setupRoutes(router, cfg, db, getSessionManager(db))

	// 将请求传递给Chi路由器处理
	router.ServeHTTP(w, r)
}

// Shutdown 进程退出前销毁所有会话（取消订阅、关闭存储）
func Shutdown() {
	if sessions != nil {
		sessions.Shutdown()
	}
}

// setupMiddleware 设置全局中间件
func setupMiddleware(router *chi.Mux, cfg *config.Config) {
	// 基础中间件
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	// Normalize path and restore scheme/host before logging and routing
	router.Use(customMiddleware.Normalize())
	router.Use(customMiddleware.Logger(cfg))
	router.Use(customMiddleware.Recovery(cfg))

	// CORS中间件
	router.Use(customMiddleware.CORS(cfg))

	// 超时中间件（Vercel函数有时间限制）
	router.Use(middleware.Timeout(25 * time.Second)) // 留5秒缓冲

	// 压缩中间件
	router.Use(middleware.Compress(5))

	// 请求体限制与Content-Type校验
	router.Use(customMiddleware.MaxBodySize(1 << 20)) // 1MB
	router.Use(customMiddleware.ContentTypeJSON)

	// 开发环境额外中间件
	if cfg.IsDevelopment() {
		router.Use(middleware.Heartbeat("/ping"))
	}
}

// setupRoutes 设置所有API路由
func setupRoutes(router *chi.Mux, cfg *config.Config, db database.DatabaseInterface, sessions *session.Manager) {
	// 创建处理器
	authHandler := handlers.NewAuthHandler(cfg, db, sessions)
	bookmarkHandler := handlers.NewBookmarkHandler(cfg, db, sessions)

	// 健康检查端点
	router.Get("/", authHandler.HealthCheck)

	// 调试端点（仅开发环境）
	if cfg.IsDevelopment() {
		router.Get("/debug/db-pool", func(w http.ResponseWriter, r *http.Request) {
			stats := database.GetConnectionStats()
			utils.WriteSuccessResponse(w, stats)
		})

		router.Get("/debug/sessions", func(w http.ResponseWriter, r *http.Request) {
			utils.WriteSuccessResponse(w, map[string]interface{}{
				"active_sessions": sessions.Count(),
			})
		})

		router.Get("/debug/env-check", func(w http.ResponseWriter, r *http.Request) {
			envStatus := map[string]interface{}{
				"google_client_id":     cfg.GoogleClientID != "",
				"google_client_secret": cfg.GoogleClientSecret != "",
				"github_client_id":     cfg.GitHubClientID != "",
				"oauth_redirect_uri":   cfg.OAuthRedirectURI,
				"jwt_secret":           cfg.JWTSecret != "",
				"postgres_configured":  cfg.PostgresDSN != "",
				"supabase_configured":  cfg.SupabaseURL != "" && cfg.SupabaseKey != "",
			}
			utils.WriteSuccessResponse(w, envStatus)
		})
	}

	// API路由组
	router.Route("/api", func(r chi.Router) {
		// 公开路由（不需要认证）
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.RefreshToken)

			// OAuth路由
			r.Get("/signin/{provider}", func(w http.ResponseWriter, req *http.Request) {
				authHandler.SignIn(w, req, chi.URLParam(req, "provider"))
			})
			r.Post("/oauth/google", authHandler.GoogleOAuth)
			r.Post("/oauth/github", authHandler.GitHubOAuth)
		})

		// OAuth回调路由（在API路由组内）
		r.Route("/oauth", func(r chi.Router) {
			r.Get("/google/callback", authHandler.GoogleOAuthCallback)
			r.Get("/github/callback", authHandler.GitHubOAuthCallback)
		})

		// 需要认证的路由
		r.Group(func(r chi.Router) {
			// 应用认证中间件
			r.Use(customMiddleware.AuthMiddleware(cfg))

			// 登出需要知道登出的是谁
			r.Post("/auth/logout", authHandler.Logout)

			// 书签管理路由
			r.Route("/bookmarks", func(r chi.Router) {
				r.Get("/", bookmarkHandler.ListBookmarks)       // 列出/搜索书签
				r.Post("/", bookmarkHandler.CreateBookmark)     // 添加书签
				r.Post("/refresh", bookmarkHandler.RefreshBookmarks) // 手动对账
				r.Delete("/{id}", bookmarkHandler.DeleteBookmark)    // 删除书签
			})
		})
	})

	// 404处理
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteNotFoundResponse(w, fmt.Sprintf("Route not found: %s %s", r.Method, r.URL.Path))
	})

	// 405处理
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteErrorResponseWithCode(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			fmt.Sprintf("Method %s not allowed for %s", r.Method, r.URL.Path), "")
	})
}
