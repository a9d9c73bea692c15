package repository

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/langchou/odosync/internal/models"
)

// 需要 PostgreSQL：DATABASE_URL=postgres://... go test ./internal/repository/
func newTestRepo(t *testing.T) *SyncRepository {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(db.Close)

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewSyncRepository(db)
}

func TestSyncLedgerRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Microsecond)
	run := &models.SyncRun{ID: uuid.New(), StartedAt: started}
	if err := repo.StartRun(ctx, run); err != nil {
		t.Fatalf("start run: %v", err)
	}

	miles := 10000.0
	results := []models.SyncResult{
		{SourceID: "v-1", TargetID: "42", Outcome: models.OutcomeUpdated, Stage: "done", Match: models.MatchVIN, VIN: "1HGCM82633A004352", Miles: &miles, Measured: true, RecordedAt: started},
		{SourceID: "v-2", Outcome: models.OutcomeSkipped, Stage: "skipped", Error: "attributes unavailable", RecordedAt: started},
	}
	for i := range results {
		if err := repo.RecordResult(ctx, run.ID, &results[i]); err != nil {
			t.Fatalf("record result: %v", err)
		}
	}

	finished := started.Add(time.Minute)
	run.FinishedAt = &finished
	run.Updated, run.Skipped = 1, 1
	if err := repo.FinishRun(ctx, run); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	got, err := repo.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.FinishedAt == nil || got.Updated != 1 || got.Skipped != 1 {
		t.Fatalf("unexpected run %+v", got)
	}

	stored, err := repo.ListResults(ctx, run.ID)
	if err != nil {
		t.Fatalf("list results: %v", err)
	}
	if len(stored) != 2 || stored[0].TargetID != "42" || stored[0].Miles == nil || *stored[0].Miles != miles {
		t.Fatalf("unexpected results %+v", stored)
	}
	if stored[1].Match != models.MatchNone || stored[1].Miles != nil {
		t.Fatalf("skipped result should have no match or miles: %+v", stored[1])
	}
}

func TestGetRunNotFound(t *testing.T) {
	repo := newTestRepo(t)
	if _, err := repo.GetRun(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordResultAcceptsLongVIN(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	run := &models.SyncRun{ID: uuid.New(), StartedAt: time.Now().UTC()}
	if err := repo.StartRun(ctx, run); err != nil {
		t.Fatalf("start run: %v", err)
	}

	vin := "JH4KA8260MC000000-EXPORT"
	res := &models.SyncResult{SourceID: "v-long", Outcome: models.OutcomeCreated, Stage: "done", VIN: vin, RecordedAt: time.Now().UTC()}
	if err := repo.RecordResult(ctx, run.ID, res); err != nil {
		t.Fatalf("record result with %d-char vin: %v", len(vin), err)
	}

	got, err := repo.ListResults(ctx, run.ID)
	if err != nil {
		t.Fatalf("list results: %v", err)
	}
	if len(got) != 1 || got[0].VIN != vin {
		t.Fatalf("unexpected results %+v", got)
	}
}

func TestMigrateDeclaresVINAsText(t *testing.T) {
	if strings.Contains(migrationCreateSyncResults, "VARCHAR(17)") {
		t.Fatal("vin column must not be length-limited")
	}
	if !strings.Contains(migrationWidenResultVIN, "vin TYPE TEXT") {
		t.Fatal("existing tables must be widened")
	}
}
