package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type EntryType string

const (
	EntryXPCredit    EntryType = "XP_CREDIT"
	EntryTokenCredit EntryType = "TOKEN_CREDIT"
)

const (
	ReferenceSubmission   = "submission"
	ReferenceDistribution = "distribution"
)

const genesisHash = "GENESIS"

// AssetXP is the asset of XP entries; token entries use the token symbol.
const AssetXP = "XP"

// LedgerEntry is one credit in a user's append-only hash chain.
type LedgerEntry struct {
	ID            string         `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	CreatedAt     time.Time      `gorm:"column:created_at" json:"created_at"`
	UserID        string         `gorm:"column:user_id;type:varchar(32);not null;uniqueIndex:idx_ledger_user_seq" json:"user_id"`
	Seq           int64          `gorm:"column:seq;not null;uniqueIndex:idx_ledger_user_seq" json:"seq"`
	Type          EntryType      `gorm:"column:type;type:varchar(20);not null;uniqueIndex:idx_ledger_reference" json:"type"`
	Asset         string         `gorm:"column:asset;type:varchar(20);not null" json:"asset"`
	Amount        int64          `gorm:"column:amount;not null" json:"amount"`
	BalanceAfter  int64          `gorm:"column:balance_after;not null" json:"balance_after"`
	ReferenceType string         `gorm:"column:reference_type;type:varchar(30);not null;uniqueIndex:idx_ledger_reference" json:"reference_type"`
	ReferenceID   string         `gorm:"column:reference_id;type:varchar(64);not null;uniqueIndex:idx_ledger_reference" json:"reference_id"`
	Description   string         `gorm:"column:description;type:text" json:"description,omitempty"`
	PreviousHash  string         `gorm:"column:previous_hash;type:varchar(64);not null" json:"previous_hash"`
	Hash          string         `gorm:"column:hash;type:varchar(64);not null" json:"hash"`
	Metadata      datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

func (m *LedgerEntry) HashFields() map[string]string {
	return map[string]string{
		"id":             m.ID,
		"user_id":        m.UserID,
		"seq":            fmt.Sprintf("%d", m.Seq),
		"type":           string(m.Type),
		"asset":          m.Asset,
		"amount":         fmt.Sprintf("%d", m.Amount),
		"balance_after":  fmt.Sprintf("%d", m.BalanceAfter),
		"reference_type": m.ReferenceType,
		"reference_id":   m.ReferenceID,
		"created_at":     m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash":  m.PreviousHash,
	}
}

func (m *LedgerEntry) GenerateHash() string {
	fields := m.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

// Entry describes a credit to append.
type Entry struct {
	UserID        string
	Type          EntryType
	Asset         string
	Amount        int64
	BalanceAfter  int64
	ReferenceType string
	ReferenceID   string
	Description   string
	Metadata      map[string]any
}

type VerifyResult struct {
	UserID   string `json:"user_id"`
	Valid    bool   `json:"valid"`
	Entries  int    `json:"entries"`
	BrokenAt string `json:"broken_at,omitempty"`
}
