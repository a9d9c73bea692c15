package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/langchou/odosync/internal/api/handlers"
	"github.com/langchou/odosync/internal/repository"
	"github.com/langchou/odosync/internal/service"
	"github.com/langchou/odosync/pkg/ws"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server with scheduled syncs and the OAuth callback",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(true)
	if err != nil {
		return err
	}

	logger.Info("Starting odosync", zap.String("port", cfg.ServerPort), zap.String("version", Version))

	// 创建 context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 授权码由 /oauth/callback 送回
	prompter := service.NewCallbackPrompter()
	a := newApp(cfg, logger, prompter)
	defer a.close()

	// 创建 WebSocket Hub
	wsHub := ws.NewHub(logger.Named("ws"))
	go wsHub.Run()
	defer wsHub.Close()

	opts := []service.ReconcilerOption{service.WithNotifier(wsHub)}

	// 同步账本（可选）
	var runs handlers.RunStore
	if cfg.DatabaseURL != "" {
		db, err := repository.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			return err
		}
		logger.Info("Database migrated successfully")

		repo := repository.NewSyncRepository(db)
		opts = append(opts, service.WithRecorder(repo))
		runs = repo
	} else {
		logger.Info("DATABASE_URL not set, sync ledger disabled")
	}

	locker, err := a.locker(ctx)
	if err != nil {
		return err
	}

	reconciler := a.reconciler(opts...)
	syncer := service.NewSyncer(reconciler, locker, logger.Named("syncer"))

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(ctx, logger.Named("http"), syncer, reconciler.States(), runs, prompter, wsHub)
	wsHub.SetInitDataProvider(handler.InitData)

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 定时同步
	if cfg.SyncInterval > 0 {
		syncer.Start(ctx, cfg.SyncInterval)
	} else {
		logger.Info("SYNC_INTERVAL is 0, sync only runs when triggered via POST /api/sync")
	}

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 取消正在进行的同步（包括等待中的授权）
	cancel()
	syncer.Stop()

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
	return nil
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
