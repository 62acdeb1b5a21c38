package user

import (
	"strings"
	"time"
)

type Role string

const (
	RoleAmbassador   Role = "AMBASSADOR"
	RoleOrganization Role = "ORGANIZATION"
	RoleAdmin        Role = "ADMIN"
)

func (r Role) String() string {
	switch r {
	case RoleAmbassador, RoleOrganization, RoleAdmin:
		return string(r)
	default:
		return ""
	}
}

// TokenUSDT is the only token with a dedicated balance column. Every other
// campaign reward token is tracked in token_balance.
const TokenUSDT = "USDT"

type User struct {
	ID            string     `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
	Name          string     `gorm:"column:name;type:varchar(255)" json:"name"`
	Email         string     `gorm:"column:email;type:varchar(255);uniqueIndex" json:"email"`
	WalletAddress *string    `gorm:"column:wallet_address;type:varchar(128)" json:"wallet_address,omitempty"`
	Role          Role       `gorm:"column:role;type:varchar(20);not null;default:'AMBASSADOR'" json:"role"`
	XP            int64      `gorm:"column:xp;not null;default:0" json:"xp"`
	TokenBalance  int64      `gorm:"column:token_balance;not null;default:0" json:"token_balance"`
	UsdtBalance   int64      `gorm:"column:usdt_balance;not null;default:0" json:"usdt_balance"`
	IsBanned      bool       `gorm:"column:is_banned;not null;default:false" json:"is_banned"`
	BannedAt      *time.Time `gorm:"column:banned_at" json:"banned_at,omitempty"`
	BannedBy      *string    `gorm:"column:banned_by;type:varchar(32)" json:"banned_by,omitempty"`
	BannedReason  *string    `gorm:"column:banned_reason;type:text" json:"banned_reason,omitempty"`
}

func (User) TableName() string {
	return "users"
}

// BalanceColumn returns the users column credited for a reward token.
func BalanceColumn(token string) string {
	if strings.EqualFold(token, TokenUSDT) {
		return "usdt_balance"
	}
	return "token_balance"
}

// BalanceOf returns the balance tracked for token.
func (u *User) BalanceOf(token string) int64 {
	if strings.EqualFold(token, TokenUSDT) {
		return u.UsdtBalance
	}
	return u.TokenBalance
}
