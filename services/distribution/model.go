package distribution

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"ambassador-controlplane/pkg/db/pagination"
	"ambassador-controlplane/pkg/payout"
)

// Distribution is the persisted outcome of paying one allocation. The
// idempotency key makes a re-run of the same allocation land on this row.
type Distribution struct {
	ID             string         `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	IdempotencyKey string         `gorm:"column:idempotency_key;type:varchar(96);not null;uniqueIndex" json:"idempotency_key"`
	BatchID        string         `gorm:"column:batch_id;type:varchar(32);index" json:"batch_id"`
	CampaignID     string         `gorm:"column:campaign_id;type:varchar(32);not null;index" json:"campaign_id"`
	UserID         string         `gorm:"column:user_id;type:varchar(32);not null;index" json:"user_id"`
	Amount         int64          `gorm:"column:amount;not null" json:"amount"`
	Token          string         `gorm:"column:token;type:varchar(20);not null" json:"token"`
	Destination    *string        `gorm:"column:destination;type:varchar(128)" json:"destination,omitempty"`
	Outcome        payout.Outcome `gorm:"column:outcome;type:varchar(20);not null;index" json:"outcome"`
	TxRef          *string        `gorm:"column:tx_ref;type:varchar(128)" json:"tx_ref,omitempty"`
	Error          *string        `gorm:"column:error;type:text" json:"error,omitempty"`
	Attempts       int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	CreatedAt      time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"column:updated_at" json:"updated_at"`
}

func (Distribution) TableName() string {
	return "distributions"
}

// Allocation is one payout request of a distribution batch.
type Allocation struct {
	UserID         string  `json:"user_id" binding:"required"`
	Amount         int64   `json:"amount"`
	Token          string  `json:"token"`
	Destination    *string `json:"destination"`
	DistributionID string  `json:"distribution_id"`
}

func (a Allocation) key(campaignID string) string {
	if a.DistributionID != "" {
		return a.DistributionID
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s", campaignID, a.UserID, a.Amount, a.Token)))
	return hex.EncodeToString(sum[:])
}

// SettlementKey is the distribution id of a campaign settlement payout, one
// per recipient and campaign whatever the computed amount.
func SettlementKey(campaignID, userID string) string {
	return fmt.Sprintf("settle:%s:%s", campaignID, userID)
}

type ItemResult struct {
	UserID         string         `json:"user_id"`
	DistributionID string         `json:"distribution_id,omitempty"`
	Outcome        payout.Outcome `json:"outcome"`
	TxRef          string         `json:"tx_ref,omitempty"`
	Error          string         `json:"error,omitempty"`
}

type Summary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

type Result struct {
	BatchID    string       `json:"batch_id"`
	CampaignID string       `json:"campaign_id"`
	Results    []ItemResult `json:"results"`
	Summary    Summary      `json:"summary"`
}

func summarize(results []ItemResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Outcome {
		case payout.OutcomeSuccess:
			s.Succeeded++
		case payout.OutcomePending:
			s.Pending++
		default:
			s.Failed++
		}
	}
	return s
}

type DistributeRequest struct {
	Allocations []Allocation `json:"allocations" binding:"required,dive"`
}

type SettleRequest struct {
	DistributionID string         `json:"-"`
	Outcome        payout.Outcome `json:"outcome" binding:"required"`
	TxRef          string         `json:"tx_ref"`
	Reason         string         `json:"reason"`
}

type ListRequest struct {
	CampaignID string         `form:"-"`
	UserID     string         `form:"user_id"`
	Outcome    payout.Outcome `form:"outcome"`
	pagination.Pagination
}

type ListResponse struct {
	Distributions []*Distribution      `json:"distributions"`
	PageInfo      *pagination.PageInfo `json:"page_info"`
}

// Failure reasons recorded on FAILED distributions.
const (
	ReasonNoDestination = "no destination"
	ReasonZeroAmount    = "zero amount"
	ReasonPoolExhausted = "reward pool exhausted"
	ReasonUnknownUser   = "unknown user"
	ReasonTimeout       = "timeout"
	ReasonRailError     = "payout rail unavailable"
	ReasonDeclined      = "declined"
	ReasonLockFailed    = "recipient busy"
	ReasonPersistFailed = "persist failed"
)

func Models() []any {
	return []any{&Distribution{}}
}
