package organization

import (
	"slices"
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusInactive  Status = "INACTIVE"
	StatusCancelled Status = "CANCELLED"
)

type MemberRole string

const (
	MemberRoleOwner  MemberRole = "owner"
	MemberRoleAdmin  MemberRole = "admin"
	MemberRoleMember MemberRole = "member"
)

// PermissionApproveSubmissions lets a member review submissions of the
// organization's campaigns.
const PermissionApproveSubmissions = "approve_submissions"

type Organization struct {
	ID           string     `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
	Name         string     `gorm:"column:name;type:varchar(255)" json:"name"`
	Slug         string     `gorm:"column:slug;type:varchar(255);uniqueIndex" json:"slug"`
	Status       Status     `gorm:"column:status;type:varchar(20);not null;default:'ACTIVE'" json:"status"`
	IsBanned     bool       `gorm:"column:is_banned;not null;default:false" json:"is_banned"`
	BannedAt     *time.Time `gorm:"column:banned_at" json:"banned_at,omitempty"`
	BannedBy     *string    `gorm:"column:banned_by;type:varchar(32)" json:"banned_by,omitempty"`
	BannedReason *string    `gorm:"column:banned_reason;type:text" json:"banned_reason,omitempty"`
	IsDeleted    bool       `gorm:"column:is_deleted;not null;default:false" json:"is_deleted"`
	DeletedAt    *time.Time `gorm:"column:deleted_at_time" json:"deleted_at,omitempty"`
	DeletedBy    *string    `gorm:"column:deleted_by;type:varchar(32)" json:"deleted_by,omitempty"`
}

func (Organization) TableName() string {
	return "organizations"
}

type Membership struct {
	ID             string                      `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	OrganizationID string                      `gorm:"column:organization_id;type:varchar(32);not null;uniqueIndex:idx_membership_org_user" json:"organization_id"`
	UserID         string                      `gorm:"column:user_id;type:varchar(32);not null;uniqueIndex:idx_membership_org_user;index" json:"user_id"`
	Role           MemberRole                  `gorm:"column:role;type:varchar(20);not null;default:'member'" json:"role"`
	Permissions    datatypes.JSONSlice[string] `gorm:"column:permissions" json:"permissions"`
	CreatedAt      time.Time                   `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (Membership) TableName() string {
	return "memberships"
}

func (m *Membership) Can(permission string) bool {
	return slices.Contains([]string(m.Permissions), permission)
}

type Action string

const (
	ActionBan    Action = "BAN"
	ActionUnban  Action = "UNBAN"
	ActionDelete Action = "DELETE"
)

func (a Action) Valid() bool {
	switch a {
	case ActionBan, ActionUnban, ActionDelete:
		return true
	default:
		return false
	}
}

// Entity classes touched by a moderation cascade, in the order they are
// updated.
const (
	ClassOrganization = "organization"
	ClassCampaigns    = "campaigns"
	ClassTasks        = "tasks"
	ClassUsers        = "users"
)

var cascadeOrder = []string{ClassOrganization, ClassCampaigns, ClassTasks, ClassUsers}

type ModerationRequest struct {
	OrganizationID string `json:"-"`
	Action         Action `json:"action" binding:"required"`
	ActorID        string `json:"-"`
	Reason         string `json:"reason"`
}

type State struct {
	Status    Status `json:"status"`
	IsBanned  bool   `json:"is_banned"`
	IsDeleted bool   `json:"is_deleted"`
}

type ModerationResult struct {
	OrganizationID string   `json:"organization_id"`
	Action         Action   `json:"action"`
	NewState       State    `json:"new_state"`
	Completed      []string `json:"completed"`
	Failed         string   `json:"failed,omitempty"`
}

func Models() []any {
	return []any{&Organization{}, &Membership{}}
}
