// Package metrics Prometheus 指标，serve 模式下通过 /metrics 暴露
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 外部 API 请求
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "odosync_upstream_requests_total",
			Help: "Total number of requests sent to Smartcar and Fleetio",
		},
		[]string{"api", "operation", "status"},
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "odosync_upstream_request_duration_seconds",
			Help:    "Duration of upstream API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"api", "operation"},
	)

	// 令牌获取方式: stored, refresh, authorize
	TokenAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "odosync_token_acquisitions_total",
			Help: "Credential acquisitions by method and result",
		},
		[]string{"method", "result"},
	)

	// 单车同步结果
	VehicleSyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "odosync_vehicle_sync_total",
			Help: "Per-vehicle sync outcomes",
		},
		[]string{"outcome"},
	)

	MeterEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "odosync_meter_entries_total",
			Help: "Meter entries appended to the fleet system",
		},
	)

	SyncRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "odosync_sync_run_duration_seconds",
			Help:    "Duration of a full sync run",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "odosync_sync_last_success_timestamp",
			Help: "Unix timestamp of the last sync run that acquired a credential",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "odosync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)
)

// RecordUpstreamRequest 记录一次外部 API 请求；status 为 0 表示传输失败
func RecordUpstreamRequest(api, operation string, status int, duration time.Duration) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	UpstreamRequestsTotal.WithLabelValues(api, operation, code).Inc()
	UpstreamRequestDuration.WithLabelValues(api, operation).Observe(duration.Seconds())
}

// RecordTokenAcquisition 记录令牌获取
func RecordTokenAcquisition(method string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	TokenAcquisitions.WithLabelValues(method, result).Inc()
}

// RecordVehicleSync 记录单车同步结果
func RecordVehicleSync(outcome string, measured bool) {
	VehicleSyncTotal.WithLabelValues(outcome).Inc()
	if measured {
		MeterEntriesTotal.Inc()
	}
}

// RecordSyncRun 记录一次完整同步
func RecordSyncRun(duration time.Duration, err error) {
	SyncRunDuration.Observe(duration.Seconds())
	if err == nil {
		SyncLastSuccess.SetToCurrentTime()
	}
}
