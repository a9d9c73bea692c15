package main

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/langchou/odosync/internal/api/fleetio"
	"github.com/langchou/odosync/internal/api/smartcar"
	"github.com/langchou/odosync/internal/config"
	"github.com/langchou/odosync/internal/credstore"
	"github.com/langchou/odosync/internal/lock"
	"github.com/langchou/odosync/internal/service"
)

var _ service.FleetAPI = (*fleetio.CircuitBreakerClient)(nil)

// app 各命令共用的依赖
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	smartcar *smartcar.Client
	fleet    *fleetio.CircuitBreakerClient
	tokens   *service.TokenManager
	redis    *redis.Client
}

func newApp(cfg *config.Config, logger *zap.Logger, prompter service.Prompter) *app {
	sc := smartcar.NewClient(smartcar.Config{
		AuthURL:      cfg.Smartcar.AuthURL,
		TokenURL:     cfg.Smartcar.TokenURL,
		APIHost:      cfg.Smartcar.APIHost,
		ClientID:     cfg.Smartcar.ClientID,
		ClientSecret: cfg.Smartcar.ClientSecret,
		RedirectURI:  cfg.Smartcar.RedirectURI,
		Timeout:      cfg.HTTPTimeout,
	})

	fleet := fleetio.NewCircuitBreakerClient(fleetio.NewClient(fleetio.Config{
		APIHost:      cfg.Fleetio.APIHost,
		APIToken:     cfg.Fleetio.APIToken,
		AccountToken: cfg.Fleetio.AccountToken,
		RateLimit:    cfg.Fleetio.RateLimit,
		Timeout:      cfg.HTTPTimeout,
	}), logger)

	store := credstore.New(cfg.CredentialFile)
	tokens := service.NewTokenManager(store, sc, sc, prompter, logger.Named("token"))
	tokens.SetPromptTimeout(cfg.AuthTimeout)

	return &app{
		cfg:      cfg,
		logger:   logger,
		smartcar: sc,
		fleet:    fleet,
		tokens:   tokens,
	}
}

// reconciler 组装单车同步流程
func (a *app) reconciler(opts ...service.ReconcilerOption) *service.Reconciler {
	reader := service.NewSourceReader(a.smartcar, a.logger.Named("reader"))
	matcher := service.NewMatcher(a.fleet, a.logger.Named("matcher"))
	return service.NewReconciler(a.tokens, reader, matcher, a.fleet, a.logger.Named("sync"), opts...)
}

// locker 配置了 Redis 时返回跨进程锁，否则为 nil
func (a *app) locker(ctx context.Context) (service.Locker, error) {
	if a.cfg.RedisAddr == "" {
		return nil, nil
	}
	client, err := lock.NewRedisClient(ctx, a.cfg.RedisAddr, a.cfg.RedisPassword)
	if err != nil {
		return nil, err
	}
	a.redis = client

	runLock := lock.NewRunLock(client, lock.KeyFor(a.cfg.Fleetio.AccountToken), a.cfg.LockTTL)
	a.logger.Info("Using redis run lock", zap.String("key", runLock.Key()))
	return runLock, nil
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	_ = a.logger.Sync()
}
