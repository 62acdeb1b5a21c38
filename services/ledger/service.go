package ledger

import (
	"context"
	"encoding/json"
	"time"

	"ambassador-controlplane/pkg/db/option"
	"ambassador-controlplane/pkg/db/pagination"
	"ambassador-controlplane/pkg/errutil"
	"ambassador-controlplane/pkg/logger"
	"ambassador-controlplane/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	ledger repository.Repository[LedgerEntry]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		node:   p.Node,
		ledger: repository.ProvideStore[LedgerEntry](p.DB),
	}
}

func (s *Service) getLastEntry(ctx context.Context, tx *gorm.DB, userID string) (*LedgerEntry, error) {
	return s.ledger.WithTrx(tx).FindOne(ctx, &LedgerEntry{UserID: userID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "seq",
			OrderBy: "desc",
			Allow:   map[string]bool{"seq": true},
		}),
		option.WithLockingUpdate(),
	)
}

// Record appends a credit to the user's chain on tx. Callers run it after
// the balance increment on the same transaction; the users row lock taken
// by that UPDATE keeps appends for one user ordered.
func (s *Service) Record(ctx context.Context, tx *gorm.DB, e Entry) (*LedgerEntry, error) {
	if e.Amount <= 0 {
		return nil, errutil.ValidationFailed("ledger amount must be > 0", nil)
	}

	last, err := s.getLastEntry(ctx, tx, e.UserID)
	if err != nil {
		logger.FromContext(ctx).Error("failed to query last ledger entry", zap.String("user_id", e.UserID), zap.Error(err))
		return nil, err
	}

	previousHash := genesisHash
	var seq int64 = 1
	if last != nil {
		previousHash = last.Hash
		seq = last.Seq + 1
	}

	var meta datatypes.JSON
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, err
		}
		meta = datatypes.JSON(b)
	}

	entry := &LedgerEntry{
		ID:            s.node.Generate().String(),
		CreatedAt:     time.Now().UTC().Truncate(time.Microsecond),
		UserID:        e.UserID,
		Seq:           seq,
		Type:          e.Type,
		Asset:         e.Asset,
		Amount:        e.Amount,
		BalanceAfter:  e.BalanceAfter,
		ReferenceType: e.ReferenceType,
		ReferenceID:   e.ReferenceID,
		Description:   e.Description,
		PreviousHash:  previousHash,
		Metadata:      meta,
	}
	entry.Hash = entry.GenerateHash()

	if err := s.ledger.WithTrx(tx).Create(ctx, entry); err != nil {
		return nil, err
	}

	return entry, nil
}

type ListRequest struct {
	UserID string
	pagination.Pagination
}

type ListResponse struct {
	Entries  []*LedgerEntry       `json:"entries"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

func (s *Service) List(ctx context.Context, req ListRequest) (*ListResponse, error) {
	rows, err := s.ledger.Find(ctx, &LedgerEntry{UserID: req.UserID}, option.ApplyPagination(req.Pagination))
	if err != nil {
		logger.FromContext(ctx).Error("failed to list ledger entries", zap.Error(err))
		return nil, errutil.Internal("failed to list ledger entries", err)
	}

	page, info := pagination.Page(rows, req.Limit, func(e *LedgerEntry) string {
		return pagination.CursorOf(e.CreatedAt, e.ID)
	})

	return &ListResponse{Entries: page, PageInfo: info}, nil
}

// Verify walks the user's chain from genesis and recomputes every hash.
func (s *Service) Verify(ctx context.Context, userID string) (*VerifyResult, error) {
	entries, err := s.ledger.Find(ctx, &LedgerEntry{UserID: userID},
		option.WithSortBy(option.QuerySortBy{SortBy: "seq", OrderBy: "asc", Allow: map[string]bool{"seq": true}}),
	)
	if err != nil {
		return nil, errutil.Internal("failed to load ledger", err)
	}

	result := &VerifyResult{UserID: userID, Valid: true, Entries: len(entries)}
	previous := genesisHash
	for i, e := range entries {
		if e.Seq != int64(i+1) || e.PreviousHash != previous || e.GenerateHash() != e.Hash {
			result.Valid = false
			result.BrokenAt = e.ID
			logger.FromContext(ctx).Warn("ledger chain broken", zap.String("user_id", userID), zap.String("entry_id", e.ID))
			break
		}
		previous = e.Hash
	}

	return result, nil
}
