package campaign

import (
	"time"

	"github.com/shopspring/decimal"
)

type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "DRAFT"
	CampaignStatusActive    CampaignStatus = "ACTIVE"
	CampaignStatusPaused    CampaignStatus = "PAUSED"
	CampaignStatusCompleted CampaignStatus = "COMPLETED"
	CampaignStatusCancelled CampaignStatus = "CANCELLED"
)

type ParticipationStatus string

const (
	ParticipationPending  ParticipationStatus = "PENDING"
	ParticipationApproved ParticipationStatus = "APPROVED"
	ParticipationRejected ParticipationStatus = "REJECTED"
)

type TaskStatus string

const (
	TaskStatusDraft    TaskStatus = "draft"
	TaskStatusActive   TaskStatus = "active"
	TaskStatusArchived TaskStatus = "archived"
)

type VerificationMethod string

const (
	VerificationAIAuto VerificationMethod = "AI_AUTO"
	VerificationManual VerificationMethod = "MANUAL"
	VerificationHybrid VerificationMethod = "HYBRID"
)

type SubTaskType string

const (
	SubTaskFollow  SubTaskType = "FOLLOW"
	SubTaskLike    SubTaskType = "LIKE"
	SubTaskRetweet SubTaskType = "RETWEET"
	SubTaskComment SubTaskType = "COMMENT"
	SubTaskJoin    SubTaskType = "JOIN"
	SubTaskVisit   SubTaskType = "VISIT"
	SubTaskPost    SubTaskType = "POST"
)

// Campaign is owned by an Organization, or by the platform when
// OrganizationID is nil.
type Campaign struct {
	ID               string          `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	OrganizationID   *string         `gorm:"column:organization_id;type:varchar(32);index" json:"organization_id,omitempty"`
	Name             string          `gorm:"column:name;type:varchar(255);not null" json:"name"`
	Description      string          `gorm:"column:description;type:text" json:"description,omitempty"`
	Status           CampaignStatus  `gorm:"column:status;type:varchar(20);not null;default:'DRAFT'" json:"status"`
	RewardPool       decimal.Decimal `gorm:"column:reward_pool;type:numeric(38,18);not null;default:0" json:"reward_pool"`
	RewardToken      string          `gorm:"column:reward_token;type:varchar(20);not null" json:"reward_token"`
	StartDate        *time.Time      `gorm:"column:start_date" json:"start_date,omitempty"`
	EndDate          *time.Time      `gorm:"column:end_date;index" json:"end_date,omitempty"`
	ModerationHold   bool            `gorm:"column:moderation_hold;not null;default:false" json:"-"`
	StatusBeforeHold *CampaignStatus `gorm:"column:status_before_hold;type:varchar(20)" json:"-"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Campaign) TableName() string {
	return "campaigns"
}

// IsActive checks if campaign is currently active based on time range & status.
func (c *Campaign) IsActive(now time.Time) bool {
	if c.Status != CampaignStatusActive {
		return false
	}
	if c.StartDate != nil && now.Before(*c.StartDate) {
		return false
	}
	if c.EndDate != nil && now.After(*c.EndDate) {
		return false
	}
	return true
}

type Participation struct {
	ID         string              `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	UserID     string              `gorm:"column:user_id;type:varchar(32);not null;uniqueIndex:idx_participation_user_campaign" json:"user_id"`
	CampaignID string              `gorm:"column:campaign_id;type:varchar(32);not null;uniqueIndex:idx_participation_user_campaign;index" json:"campaign_id"`
	Status     ParticipationStatus `gorm:"column:status;type:varchar(20);not null;default:'PENDING'" json:"status"`
	JoinedAt   time.Time           `gorm:"column:joined_at;autoCreateTime" json:"joined_at"`
}

func (Participation) TableName() string {
	return "campaign_participations"
}

type Task struct {
	ID                 string             `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	CampaignID         string             `gorm:"column:campaign_id;type:varchar(32);not null;index" json:"campaign_id"`
	Title              string             `gorm:"column:title;type:varchar(255)" json:"title"`
	XPReward           int64              `gorm:"column:xp_reward;not null;default:0" json:"xp_reward"`
	Status             TaskStatus         `gorm:"column:status;type:varchar(20);not null;default:'draft'" json:"status"`
	IsActive           bool               `gorm:"column:is_active;not null;default:false" json:"is_active"`
	VerificationMethod VerificationMethod `gorm:"column:verification_method;type:varchar(20);not null;default:'MANUAL'" json:"verification_method"`
	ModerationHold     bool               `gorm:"column:moderation_hold;not null;default:false" json:"-"`
	StatusBeforeHold   *TaskStatus        `gorm:"column:status_before_hold;type:varchar(20)" json:"-"`
	ActiveBeforeHold   *bool              `gorm:"column:active_before_hold" json:"-"`
	SubTasks           []SubTask          `gorm:"foreignKey:TaskID" json:"sub_tasks,omitempty"`
	CreatedAt          time.Time          `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time          `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Task) TableName() string {
	return "tasks"
}

// Open reports whether the task still accepts submissions.
func (t *Task) Open() bool {
	return t.IsActive && t.Status == TaskStatusActive
}

type SubTask struct {
	ID       string      `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	TaskID   string      `gorm:"column:task_id;type:varchar(32);not null;index" json:"task_id"`
	Order    int         `gorm:"column:sort_order;not null;default:0" json:"order"`
	XPReward int64       `gorm:"column:xp_reward;not null;default:0" json:"xp_reward"`
	Type     SubTaskType `gorm:"column:type;type:varchar(20);not null" json:"type"`
}

func (SubTask) TableName() string {
	return "sub_tasks"
}

// Models lists every table owned by the campaign package.
func Models() []any {
	return []any{&Campaign{}, &Participation{}, &Task{}, &SubTask{}}
}
