package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/odosync/internal/lock"
	"github.com/langchou/odosync/internal/models"
)

// Runner 执行一轮同步
type Runner interface {
	Run(ctx context.Context) (*models.SyncReport, error)
}

// Locker 跨进程互斥（可选）
type Locker interface {
	Acquire(ctx context.Context) (func(context.Context) error, error)
}

// Syncer 保证同一时刻只有一轮同步，并负责定时执行
// 匹配后创建不是原子操作，并发运行会导致重复创建车辆
type Syncer struct {
	runner Runner
	locker Locker
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	last    *models.SyncReport

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSyncer 创建同步调度器，locker 可为 nil
func NewSyncer(runner Runner, locker Locker, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		runner: runner,
		locker: locker,
		logger: logger,
	}
}

// RunOnce 执行一轮同步；已有同步在进行时返回 ErrSyncInProgress
func (s *Syncer) RunOnce(ctx context.Context) (*models.SyncReport, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx)
		if err != nil {
			if errors.Is(err, lock.ErrLocked) {
				return nil, ErrSyncInProgress
			}
			return nil, fmt.Errorf("acquire sync lock: %w", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("Failed to release sync lock", zap.Error(err))
			}
		}()
	}

	report, err := s.runner.Run(ctx)
	if report != nil {
		s.mu.Lock()
		s.last = report
		s.mu.Unlock()
	}
	return report, err
}

// Running 是否正在同步
func (s *Syncer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastReport 最近一轮同步结果
func (s *Syncer) LastReport() *models.SyncReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Start 立即同步一次，之后按 interval 定时同步
func (s *Syncer) Start(ctx context.Context, interval time.Duration) {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		s.logger.Info("Sync scheduler already running, skipping start")
		return
	}
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx, interval, stopCh)
	s.logger.Info("Sync scheduler started", zap.Duration("interval", interval))
}

// Stop 停止定时同步并等待当前一轮结束
func (s *Syncer) Stop() {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Sync scheduler stopped")
}

func (s *Syncer) loop(ctx context.Context, interval time.Duration, stopCh chan struct{}) {
	defer s.wg.Done()

	s.scheduledRun(ctx)
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.scheduledRun(ctx)
		}
	}
}

func (s *Syncer) scheduledRun(ctx context.Context) {
	_, err := s.RunOnce(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrSyncInProgress):
		s.logger.Info("Skipping scheduled sync, another run is in progress")
	default:
		s.logger.Error("Scheduled sync failed", zap.Error(err))
	}
}
