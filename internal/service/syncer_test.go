package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/langchou/odosync/internal/lock"
	"github.com/langchou/odosync/internal/models"
)

// blockingRunner 在 release 关闭前阻塞
type blockingRunner struct {
	calls   int32
	started chan struct{}
	release chan struct{}
}

func (b *blockingRunner) Run(ctx context.Context) (*models.SyncReport, error) {
	atomic.AddInt32(&b.calls, 1)
	if b.started != nil {
		b.started <- struct{}{}
	}
	if b.release != nil {
		select {
		case <-b.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &models.SyncReport{RunID: uuid.New()}, nil
}

type fakeLocker struct {
	mu       sync.Mutex
	held     bool
	err      error
	releases int
}

func (l *fakeLocker) Acquire(context.Context) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if l.held {
		return nil, lock.ErrLocked
	}
	l.held = true
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.held = false
		l.releases++
		return nil
	}, nil
}

func TestRunOnceRejectsConcurrentRun(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}, 1), release: make(chan struct{})}
	s := NewSyncer(runner, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := s.RunOnce(context.Background())
		done <- err
	}()
	<-runner.started

	if !s.Running() {
		t.Fatal("expected running")
	}
	if _, err := s.RunOnce(context.Background()); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}

	close(runner.release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}
	if s.Running() || s.LastReport() == nil {
		t.Fatal("expected finished run with a report")
	}
}

func TestRunOnceUsesLock(t *testing.T) {
	locker := &fakeLocker{}
	s := NewSyncer(&blockingRunner{}, locker, nil)

	if _, err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if locker.releases != 1 || locker.held {
		t.Fatalf("lock must be released after the run, releases=%d held=%v", locker.releases, locker.held)
	}

	locker.held = true
	if _, err := s.RunOnce(context.Background()); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("lock held elsewhere should look like a run in progress, got %v", err)
	}

	locker.held = false
	locker.err = errors.New("redis down")
	if _, err := s.RunOnce(context.Background()); err == nil || errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("expected lock error, got %v", err)
	}
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}, 4)}
	s := NewSyncer(runner, nil, nil)

	s.Start(context.Background(), time.Hour)
	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not run immediately")
	}

	s.Start(context.Background(), time.Hour) // 重复启动无效
	s.Stop()
	s.Stop()

	if got := atomic.LoadInt32(&runner.calls); got != 1 {
		t.Fatalf("expected exactly one run, got %d", got)
	}
}

func TestRunOnceUnfinishedAuthorizationFailsInsideLock(t *testing.T) {
	sc := newFakeSmartcar("fresh")
	sc.add("v-1", camry())
	fleet := newFakeFleet()

	tokens := NewTokenManager(&memStore{}, sc, sc, NewCallbackPrompter(), nil)
	tokens.SetPromptTimeout(30 * time.Millisecond)
	r := NewReconciler(tokens, NewSourceReader(sc, nil), NewMatcher(fleet, nil), fleet, nil)

	locker := &fakeLocker{}
	s := NewSyncer(r, locker, nil)

	done := make(chan error, 1)
	go func() {
		_, err := s.RunOnce(context.Background())
		done <- err
	}()

	select {
	case err := <-done:
		var authErr *AuthError
		if !errors.As(err, &authErr) {
			t.Fatalf("expected AuthError, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run blocked on an authorization nobody completed")
	}

	if locker.held || locker.releases != 1 {
		t.Fatalf("lock must be released, held=%v releases=%d", locker.held, locker.releases)
	}
	if sc.listCalls != 0 || fleet.creates != 0 {
		t.Fatal("no vehicle work without a credential")
	}
}
