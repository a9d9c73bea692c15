package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/langchou/odosync/internal/api/fleetio"
	"github.com/langchou/odosync/internal/metrics"
	"github.com/langchou/odosync/internal/models"
	"github.com/langchou/odosync/internal/state"
	"github.com/langchou/odosync/pkg/ws"
)

// CredentialProvider 提供可用的 Smartcar 凭证
type CredentialProvider interface {
	EnsureValid(ctx context.Context) (models.Credential, error)
}

// RunRecorder 同步记录持久化（可选）
type RunRecorder interface {
	StartRun(ctx context.Context, run *models.SyncRun) error
	RecordResult(ctx context.Context, runID uuid.UUID, result *models.SyncResult) error
	FinishRun(ctx context.Context, run *models.SyncRun) error
}

// Notifier 同步进度推送（可选）
type Notifier interface {
	BroadcastMessage(msgType string, data interface{})
}

// Reconciler 逐车执行 Fleetio 的创建/更新与读数追加
type Reconciler struct {
	tokens   CredentialProvider
	reader   *SourceReader
	matcher  *Matcher
	fleet    FleetAPI
	states   *state.Manager
	recorder RunRecorder
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// ReconcilerOption 可选依赖
type ReconcilerOption func(*Reconciler)

// WithRecorder 写入同步账本
func WithRecorder(rec RunRecorder) ReconcilerOption {
	return func(r *Reconciler) { r.recorder = rec }
}

// WithNotifier 推送同步进度
func WithNotifier(n Notifier) ReconcilerOption {
	return func(r *Reconciler) { r.notifier = n }
}

// WithClock 替换时间来源
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

// NewReconciler 创建协调器
func NewReconciler(tokens CredentialProvider, reader *SourceReader, matcher *Matcher, fleet FleetAPI, logger *zap.Logger, opts ...ReconcilerOption) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reconciler{
		tokens:  tokens,
		reader:  reader,
		matcher: matcher,
		fleet:   fleet,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.states = state.NewManager(r.onStageChange)
	return r
}

// States 各车辆当前同步阶段
func (r *Reconciler) States() *state.Manager {
	return r.states
}

func (r *Reconciler) onStageChange(sourceID, from, to string) {
	r.logger.Debug("Vehicle sync stage changed",
		zap.String("vehicle_id", sourceID),
		zap.String("from", from),
		zap.String("stage", to))

	if r.notifier == nil {
		return
	}
	if machine, ok := r.states.Get(sourceID); ok {
		r.notifier.BroadcastMessage(ws.MsgTypeVehicleState, machine.GetState())
	}
}

// Run 执行一轮完整同步
// 只有凭证获取失败会中止整轮，单车失败不影响其他车辆
func (r *Reconciler) Run(ctx context.Context) (*models.SyncReport, error) {
	report := &models.SyncReport{
		RunID:     uuid.New(),
		StartedAt: r.now(),
		Results:   []models.SyncResult{},
	}
	logger := r.logger.With(zap.String("run_id", report.RunID.String()))
	logger.Info("Starting sync run")

	run := &models.SyncRun{ID: report.RunID, StartedAt: report.StartedAt}
	if r.recorder != nil {
		if err := r.recorder.StartRun(ctx, run); err != nil {
			logger.Warn("Failed to record sync run start", zap.Error(err))
		}
	}
	r.notify(ws.MsgTypeSyncStarted, report)

	// Fleetio 认证预检，失败只告警
	if err := r.fleet.Ping(ctx); err != nil {
		logger.Warn("Fleetio authentication check failed", errorFields(err)...)
	} else {
		logger.Info("Fleetio authentication successful")
	}

	cred, err := r.tokens.EnsureValid(ctx)
	if err != nil {
		logger.Error("Failed to obtain Smartcar credential, aborting run", zap.Error(err))
		report.Error = err.Error()
		r.finish(ctx, logger, report, run, err)
		return report, err
	}

	ids, err := r.reader.ListVehicleIDs(ctx, cred)
	if err != nil {
		logger.Error("Failed to list Smartcar vehicles, continuing with none", errorFields(err)...)
	}
	logger.Info("Vehicles to sync", zap.Int("count", len(ids)))

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		result := r.SyncVehicle(ctx, cred, id)
		report.Results = append(report.Results, result)

		metrics.RecordVehicleSync(string(result.Outcome), result.Measured)
		if r.recorder != nil {
			if err := r.recorder.RecordResult(ctx, report.RunID, &result); err != nil {
				logger.Warn("Failed to record sync result", zap.Error(err), zap.String("vehicle_id", id))
			}
		}
		r.notify(ws.MsgTypeSyncResult, result)
	}

	err = ctx.Err()
	if err != nil {
		report.Error = err.Error()
	}
	r.finish(ctx, logger, report, run, err)
	return report, err
}

func (r *Reconciler) finish(ctx context.Context, logger *zap.Logger, report *models.SyncReport, run *models.SyncRun, runErr error) {
	report.FinishedAt = r.now()
	metrics.RecordSyncRun(report.FinishedAt.Sub(report.StartedAt), runErr)

	finished := report.FinishedAt
	run.FinishedAt = &finished
	run.Created = report.Count(models.OutcomeCreated)
	run.Updated = report.Count(models.OutcomeUpdated)
	run.Skipped = report.Count(models.OutcomeSkipped)
	run.Failed = report.Count(models.OutcomeFailed)
	run.Error = report.Error

	if r.recorder != nil {
		// 取消的上下文也要把结束状态写进去
		if err := r.recorder.FinishRun(context.WithoutCancel(ctx), run); err != nil {
			logger.Warn("Failed to record sync run finish", zap.Error(err))
		}
	}
	r.notify(ws.MsgTypeSyncFinished, report)

	logger.Info("Sync run finished",
		zap.Int("created", run.Created),
		zap.Int("updated", run.Updated),
		zap.Int("skipped", run.Skipped),
		zap.Int("failed", run.Failed),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)))
}

func (r *Reconciler) notify(msgType string, data interface{}) {
	if r.notifier != nil {
		r.notifier.BroadcastMessage(msgType, data)
	}
}

// SyncVehicle 同步单辆车
// fetch → match → create|update → measure → done
func (r *Reconciler) SyncVehicle(ctx context.Context, cred models.Credential, vehicleID string) models.SyncResult {
	machine := r.states.GetOrCreate(vehicleID)
	logger := r.logger.With(zap.String("vehicle_id", vehicleID))
	result := models.SyncResult{SourceID: vehicleID, Match: models.MatchNone}

	r.trigger(machine, logger, state.EventStart)

	data, err := r.reader.FetchVehicle(ctx, cred, vehicleID)
	if err != nil {
		logger.Warn("Skipping vehicle, attributes unavailable", errorFields(err)...)
		result.Outcome = models.OutcomeSkipped
		result.Error = err.Error()
		r.trigger(machine, logger, state.EventSkip)
		return r.done(machine, result)
	}

	vehicle := data.Vehicle
	name := vehicle.Name()
	result.VIN = vehicle.VIN
	result.Name = name
	if miles, ok := data.Miles(); ok {
		result.Miles = &miles
	}
	machine.UpdateState(func(s *state.SyncState) {
		s.Name = name
		s.VIN = vehicle.VIN
		s.Miles = result.Miles
	})
	logger = logger.With(zap.String("vin", vehicle.VIN), zap.String("name", name))
	r.trigger(machine, logger, state.EventFetched)

	match, err := r.matcher.Find(ctx, vehicle.VIN, name)
	if err != nil {
		logger.Error("Fleetio lookup failed", errorFields(err)...)
		return r.fail(machine, logger, result, err)
	}
	result.Match = match.Kind

	payload := fleetio.NewVehiclePayload(&vehicle)
	var targetID models.TargetID
	var updateErr error

	if !match.Found() {
		r.trigger(machine, logger, state.EventMatchedNone)
		created, err := r.fleet.CreateVehicle(ctx, payload.WithDefaults())
		if err != nil {
			logger.Error("Failed to create vehicle in Fleetio", errorFields(err)...)
			return r.fail(machine, logger, result, err)
		}
		targetID = created.ID
		result.Outcome = models.OutcomeCreated
		logger.Info("Created vehicle in Fleetio", zap.String("target_id", string(targetID)))
	} else {
		r.trigger(machine, logger, state.EventMatched)
		targetID = match.ID
		if err := r.fleet.UpdateVehicle(ctx, targetID, payload); err != nil {
			// ID 仍然有效，继续写读数
			logger.Error("Failed to update vehicle in Fleetio",
				append(errorFields(err), zap.String("target_id", string(targetID)))...)
			updateErr = err
			result.Outcome = models.OutcomeFailed
			result.Error = err.Error()
		} else {
			result.Outcome = models.OutcomeUpdated
			logger.Info("Updated vehicle in Fleetio",
				zap.String("target_id", string(targetID)),
				zap.String("match", string(match.Kind)))
		}
	}
	result.TargetID = targetID
	machine.UpdateState(func(s *state.SyncState) { s.TargetID = string(targetID) })
	r.trigger(machine, logger, state.EventMeasure)

	if result.Miles != nil {
		entry := models.MeterEntry{VehicleID: targetID, Value: *result.Miles, Date: r.now()}
		if err := r.fleet.CreateMeterEntry(ctx, entry); err != nil {
			logger.Error("Failed to append meter entry",
				append(errorFields(err), zap.String("target_id", string(targetID)))...)
			return r.fail(machine, logger, result, errors.Join(updateErr, err))
		}
		result.Measured = true
		logger.Info("Appended meter entry",
			zap.String("target_id", string(targetID)),
			zap.Float64("miles", entry.Value))
	} else {
		logger.Info("No odometer reading, meter entry skipped")
	}

	if updateErr != nil {
		return r.fail(machine, logger, result, updateErr)
	}
	r.trigger(machine, logger, state.EventFinish)
	return r.done(machine, result)
}

func (r *Reconciler) fail(machine *state.Machine, logger *zap.Logger, result models.SyncResult, err error) models.SyncResult {
	result.Outcome = models.OutcomeFailed
	result.Error = err.Error()
	machine.UpdateState(func(s *state.SyncState) { s.Error = err.Error() })
	r.trigger(machine, logger, state.EventFail)
	return r.done(machine, result)
}

func (r *Reconciler) done(machine *state.Machine, result models.SyncResult) models.SyncResult {
	result.Stage = machine.CurrentStage()
	result.RecordedAt = r.now()
	return result
}

func (r *Reconciler) trigger(machine *state.Machine, logger *zap.Logger, event string) {
	if err := machine.Trigger(event); err != nil {
		logger.Warn("Invalid sync stage transition", zap.Error(err))
	}
}
