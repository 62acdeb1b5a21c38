package task

import (
	"time"

	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
)

// Trigger records who asked for a settlement run.
const (
	TriggerScheduler = "scheduler"
	TriggerManual    = "manual"
)

// Job is an execution record of one campaign settlement run.
type Job struct {
	ID          string         `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	Type        string         `gorm:"column:type;type:varchar(100);not null" json:"type"`
	CampaignID  string         `gorm:"column:campaign_id;type:varchar(32);index;not null" json:"campaign_id"`
	Trigger     string         `gorm:"column:triggered_by;type:varchar(20)" json:"trigger"`
	RequestedBy *string        `gorm:"column:requested_by;type:varchar(32)" json:"requested_by,omitempty"`
	Status      JobStatus      `gorm:"column:status;type:varchar(20);default:'pending'" json:"status"` // pending|running|success|failed
	Attempts    int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	ErrorMsg    string         `gorm:"column:error_msg;type:text" json:"error_msg,omitempty"`
	StartedAt   *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	Metadata    datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
}

func (Job) TableName() string {
	return "settlement_jobs"
}

type SettlePayload struct {
	JobID      string `json:"job_id"`
	CampaignID string `json:"campaign_id"`
}

func Models() []any {
	return []any{&Job{}}
}
