package submission

import (
	"time"

	"ambassador-controlplane/pkg/db/pagination"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// Submission is unique per (user, task, subtask). SubTaskKey mirrors
// SubTaskID with "" for task level submissions so the unique index also
// covers rows without a subtask.
type Submission struct {
	ID          string         `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	UserID      string         `gorm:"column:user_id;type:varchar(32);not null;uniqueIndex:idx_submission_key;index" json:"user_id"`
	TaskID      string         `gorm:"column:task_id;type:varchar(32);not null;uniqueIndex:idx_submission_key;index" json:"task_id"`
	SubTaskID   *string        `gorm:"column:sub_task_id;type:varchar(32)" json:"sub_task_id,omitempty"`
	SubTaskKey  string         `gorm:"column:sub_task_key;type:varchar(32);not null;default:'';uniqueIndex:idx_submission_key" json:"-"`
	Evidence    datatypes.JSON `gorm:"column:evidence" json:"evidence,omitempty"`
	Status      Status         `gorm:"column:status;type:varchar(20);not null;default:'PENDING';index" json:"status"`
	SubmittedAt time.Time      `gorm:"column:submitted_at;not null" json:"submitted_at"`
	ReviewedAt  *time.Time     `gorm:"column:reviewed_at" json:"reviewed_at,omitempty"`
	ReviewedBy  *string        `gorm:"column:reviewed_by;type:varchar(32)" json:"reviewed_by,omitempty"`
	ReviewNotes *string        `gorm:"column:review_notes;type:text" json:"review_notes,omitempty"`
	XPAwarded   *int64         `gorm:"column:xp_awarded" json:"xp_awarded,omitempty"`
	CreatedAt   time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"column:updated_at" json:"updated_at"`
}

func (Submission) TableName() string {
	return "submissions"
}

func subTaskKey(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}

type UpsertRequest struct {
	UserID    string         `json:"-"`
	TaskID    string         `json:"-"`
	SubTaskID *string        `json:"sub_task_id"`
	Evidence  datatypes.JSON `json:"evidence"`
}

type ReviewRequest struct {
	SubmissionID string   `json:"-"`
	Decision     Decision `json:"decision" binding:"required"`
	Notes        string   `json:"notes"`
	ActorID      string   `json:"-"`
}

type ListRequest struct {
	TaskID string `form:"task_id"`
	UserID string `form:"user_id"`
	Status Status `form:"status"`
	pagination.Pagination
}

type ListResponse struct {
	Submissions []*Submission        `json:"submissions"`
	PageInfo    *pagination.PageInfo `json:"page_info"`
}

func Models() []any {
	return []any{&Submission{}}
}
