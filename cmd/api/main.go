// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/esobb/internal/account"
	"github.com/yourusername/esobb/internal/auth"
	"github.com/yourusername/esobb/internal/config"
	"github.com/yourusername/esobb/internal/flood"
	"github.com/yourusername/esobb/internal/logging"
	"github.com/yourusername/esobb/internal/mail"
	"github.com/yourusername/esobb/internal/password"
	"github.com/yourusername/esobb/internal/plugin"
	"github.com/yourusername/esobb/internal/roles"
	"github.com/yourusername/esobb/internal/session"
	"github.com/yourusername/esobb/internal/store"
	"github.com/yourusername/esobb/internal/store/memory"
	"github.com/yourusername/esobb/internal/store/postgres"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.Error(context.Background(), "server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	st, limiter, err := setupStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	hooks := plugin.NewRegistry()
	if err := hooks.Register(plugin.NewAuditLog(logger)); err != nil {
		return err
	}

	verifier := password.NewVerifier(password.Scheme(cfg.HashingMethod), cfg.BcryptCost)
	authManager, err := auth.NewManager(auth.Deps{
		Config:   cfg,
		Members:  st.Members(),
		Bindings: session.NewStore(st.Logins()),
		Sessions: session.NewRegistry(st.Sessions()),
		Verifier: verifier,
		Limiter:  limiter,
		Hooks:    hooks,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	var mailQueue *mail.Queue
	if cfg.SendEmail {
		mailQueue, err = setupMail(cfg, logger)
		if err != nil {
			return fmt.Errorf("setup mail: %w", err)
		}
		mailQueue.StartWorkers()
		defer mailQueue.Shutdown(context.Background())
	}

	router := newRouter(cfg, logger)
	setupRoutes(router, authManager, newAccountService(authManager, verifier, mailQueue, logger), roles.NewResolver(authManager, logger), mailQueue)

	// サーバーの起動
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "starting API server", "addr", srv.Addr, "mode", cfg.GinMode, "store", cfg.StoreDriver, "flood", cfg.FloodBackend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info(shutdownCtx, "shutting down API server")
	return srv.Shutdown(shutdownCtx)
}

// newAccountService は送信キューの有無に応じて account.Service を作成します。
func newAccountService(m *auth.Manager, verifier *password.Verifier, q *mail.Queue, logger logging.Logger) *account.Service {
	if q == nil {
		return account.NewService(m, verifier, nil, logger)
	}
	return account.NewService(m, verifier, q, logger)
}

// setupStorage は設定に応じてストアとフラッドコントロールを組み立てます。
func setupStorage(ctx context.Context, cfg *config.Config) (store.Store, flood.Limiter, error) {
	var (
		st store.Store
		pg *postgres.Store
	)
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		var err error
		pg, err = postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		st = pg
	default:
		st = memory.New()
	}

	switch cfg.FloodBackend {
	case config.DriverRedis:
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			_ = st.Close()
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		return st, flood.NewRedisLimiter(redis.NewClient(opt)), nil
	case config.DriverSQL:
		if pg == nil {
			_ = st.Close()
			return nil, nil, errors.New("sql flood backend requires the postgres store")
		}
		return st, flood.NewSQLLimiter(pg.Conn()), nil
	default:
		return st, flood.NewMemoryLimiter(), nil
	}
}

// newRouter はミドルウェアを設定した gin.Engine を返します。
func newRouter(cfg *config.Config, logger logging.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), logging.Middleware(logger))

	// セッションストアの設定（クッキーは署名と暗号化の両方を行う）
	sessionStore := cookie.NewStore(auth.SessionKeys(cfg.SessionSecret)...)
	sessionStore.Options(auth.SessionOptions(cfg))
	router.Use(sessions.Sessions(auth.SessionCookieName(cfg), sessionStore))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		auth.CSRFHeader,
		logging.RequestIDHeader,
	}
	// フロントエンドがレスポンスヘッダーから CSRF トークンを読み取れるように公開
	corsConfig.ExposeHeaders = []string{auth.CSRFHeader, logging.RequestIDHeader, "Retry-After"}
	router.Use(cors.New(corsConfig))
	return router
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "esobb-api",
		"version": "0.1.0",
	})
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(router *gin.Engine, authManager *auth.Manager, accounts *account.Service, resolver *roles.Resolver, mailQueue *mail.Queue) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)

	api := router.Group("/api")
	api.Use(authManager.Middleware())
	{
		authRoutes := api.Group("/auth")
		{
			// ログインはセッション確立前でも受け付けるため CSRF 検証は行わない
			authRoutes.POST("/login", authManager.LoginHandler)
			authRoutes.GET("/me", authManager.MeHandler)
			authRoutes.POST("/logout", authManager.VerifyCSRF(), authManager.LogoutHandler)
		}

		accounts.RegisterRoutes(api)

		members := api.Group("/members")
		members.Use(authManager.RequireLogin())
		{
			members.GET("/:id/groups", resolver.GroupsHandler)
			members.PUT("/:id/group", authManager.VerifyCSRF(), resolver.ChangeGroupHandler)
		}

		if mailQueue != nil {
			api.GET("/admin/mail/:id", authManager.RequireLogin(), requireAdmin(), mailStatusHandler(mailQueue))
		}
	}
}
