package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncOutcome 单车同步结果
type SyncOutcome string

const (
	OutcomeCreated SyncOutcome = "created"
	OutcomeUpdated SyncOutcome = "updated"
	OutcomeSkipped SyncOutcome = "skipped"
	OutcomeFailed  SyncOutcome = "failed"
)

// MatchKind 目标车辆匹配方式
type MatchKind string

const (
	MatchNone MatchKind = "none"
	MatchVIN  MatchKind = "vin"
	MatchName MatchKind = "name"
)

// SyncResult 单车同步记录
type SyncResult struct {
	SourceID   string      `json:"source_id"`
	TargetID   TargetID    `json:"target_id,omitempty"`
	Outcome    SyncOutcome `json:"outcome"`
	Stage      string      `json:"stage"` // 结束时所处阶段
	Match      MatchKind   `json:"match,omitempty"`
	VIN        string      `json:"vin,omitempty"`
	Name       string      `json:"name,omitempty"`
	Miles      *float64    `json:"miles,omitempty"`
	Measured   bool        `json:"measured"`
	Error      string      `json:"error,omitempty"`
	RecordedAt time.Time   `json:"recorded_at"`
}

// SyncReport 一次完整同步的汇总
type SyncReport struct {
	RunID      uuid.UUID    `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Results    []SyncResult `json:"results"`
	Error      string       `json:"error,omitempty"` // 致命错误（认证失败）
}

// Count 统计某种结果的数量
func (r *SyncReport) Count(outcome SyncOutcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

// SyncRun 数据库中的同步运行记录
type SyncRun struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	Created    int        `json:"created" db:"created"`
	Updated    int        `json:"updated" db:"updated"`
	Skipped    int        `json:"skipped" db:"skipped"`
	Failed     int        `json:"failed" db:"failed"`
	Error      string     `json:"error,omitempty" db:"error"`
}
