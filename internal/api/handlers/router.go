package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/langchou/odosync/internal/models"
	"github.com/langchou/odosync/internal/state"
	"github.com/langchou/odosync/pkg/ws"
)

// SyncRunner 同步调度
type SyncRunner interface {
	RunOnce(ctx context.Context) (*models.SyncReport, error)
	Running() bool
	LastReport() *models.SyncReport
}

// RunStore 同步账本查询，未配置数据库时为 nil
type RunStore interface {
	ListRuns(ctx context.Context, limit, offset int) ([]*models.SyncRun, error)
	GetRun(ctx context.Context, id uuid.UUID) (*models.SyncRun, error)
	LatestRun(ctx context.Context) (*models.SyncRun, error)
	ListResults(ctx context.Context, runID uuid.UUID) ([]models.SyncResult, error)
}

// StateSource 车辆同步阶段
type StateSource interface {
	GetAllStates() []*state.SyncState
}

// AuthCallback serve 模式下接收 OAuth 回调
type AuthCallback interface {
	Deliver(state, code, errMsg string) error
	PendingAuthURL() string
}

// Handler HTTP 处理器
type Handler struct {
	logger   *zap.Logger
	baseCtx  context.Context
	syncer   SyncRunner
	states   StateSource
	runs     RunStore
	callback AuthCallback
	wsHub    *ws.Hub
	upgrader websocket.Upgrader
}

// NewHandler 创建处理器；runs 和 callback 可为 nil
// baseCtx 用于 POST /api/sync 触发的后台同步
func NewHandler(
	baseCtx context.Context,
	logger *zap.Logger,
	syncer SyncRunner,
	states StateSource,
	runs RunStore,
	callback AuthCallback,
	wsHub *ws.Hub,
) *Handler {
	return &Handler{
		logger:   logger,
		baseCtx:  baseCtx,
		syncer:   syncer,
		states:   states,
		runs:     runs,
		callback: callback,
		wsHub:    wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		// 同步
		api.POST("/sync", h.TriggerSync)
		api.GET("/vehicles", h.ListVehicleStates)

		// 同步记录
		api.GET("/runs", h.ListRuns)
		api.GET("/runs/latest", h.LatestRun)
		api.GET("/runs/:id", h.GetRun)
	}

	// Smartcar 授权
	r.GET("/oauth/callback", h.OAuthCallback)
	r.GET("/oauth/authorize", h.OAuthAuthorize)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if h.wsHub != nil {
		r.GET("/ws", h.HandleWebSocket)
	}

	// 健康检查
	r.GET("/health", h.HealthCheck)
}

// HandleWebSocket WebSocket 处理
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	client.Register()

	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	resp := gin.H{
		"status":  "ok",
		"syncing": h.syncer.Running(),
	}
	if h.wsHub != nil {
		resp["ws_clients"] = h.wsHub.ClientCount()
	}
	if h.callback != nil && h.callback.PendingAuthURL() != "" {
		resp["authorization_pending"] = true
	}
	c.JSON(http.StatusOK, resp)
}

// InitData WebSocket 新连接的初始数据
func (h *Handler) InitData() *ws.InitData {
	return &ws.InitData{
		States:     h.states.GetAllStates(),
		LastReport: h.syncer.LastReport(),
		Running:    h.syncer.Running(),
	}
}
