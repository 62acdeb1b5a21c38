package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"ambassador-controlplane/pkg/db/option"
	"ambassador-controlplane/pkg/db/pagination"
	"ambassador-controlplane/pkg/errutil"
	"ambassador-controlplane/pkg/repository"
	"ambassador-controlplane/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type repoMock[T any] struct {
	findFn    func(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	findOneFn func(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	createFn  func(ctx context.Context, resource *T) error
}

func (m *repoMock[T]) WithTrx(tx *gorm.DB) repository.Repository[T] {
	return m
}

func (m *repoMock[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	if m.findFn != nil {
		return m.findFn(ctx, query, opts...)
	}
	return nil, nil
}

func (m *repoMock[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	if m.findOneFn != nil {
		return m.findOneFn(ctx, query, opts...)
	}
	return nil, nil
}

func (m *repoMock[T]) Create(ctx context.Context, resource *T) error {
	if m.createFn != nil {
		return m.createFn(ctx, resource)
	}
	return nil
}

func (m *repoMock[T]) Update(ctx context.Context, resourceID string, resource any) error {
	return nil
}

func (m *repoMock[T]) BatchCreate(ctx context.Context, resources []*T) error {
	return nil
}

func (m *repoMock[T]) BatchUpdate(ctx context.Context, resources []*T) error {
	return nil
}

func (m *repoMock[T]) Count(ctx context.Context, query *T) (int64, error) {
	return 0, nil
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t, &LedgerEntry{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewService(ServiceParams{DB: db, Node: node}), db
}

func TestRecordChainsEntries(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	var first, second *LedgerEntry
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		first, err = svc.Record(ctx, tx, Entry{
			UserID: "u1", Type: EntryXPCredit, Asset: AssetXP, Amount: 50, BalanceAfter: 50,
			ReferenceType: ReferenceSubmission, ReferenceID: "s1",
		})
		return err
	}))
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		second, err = svc.Record(ctx, tx, Entry{
			UserID: "u1", Type: EntryTokenCredit, Asset: "TON", Amount: 600, BalanceAfter: 600,
			ReferenceType: ReferenceDistribution, ReferenceID: "d1",
			Metadata: map[string]any{"campaign_id": "c1"},
		})
		return err
	}))

	require.Equal(t, genesisHash, first.PreviousHash)
	require.Equal(t, int64(1), first.Seq)
	require.Equal(t, first.Hash, second.PreviousHash)
	require.Equal(t, int64(2), second.Seq)

	res, err := svc.Verify(ctx, "u1")
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Equal(t, 2, res.Entries)
}

func TestRecordDuplicateReference(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	entry := Entry{
		UserID: "u1", Type: EntryXPCredit, Asset: AssetXP, Amount: 10, BalanceAfter: 10,
		ReferenceType: ReferenceSubmission, ReferenceID: "s1",
	}
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.Record(ctx, tx, entry)
		return err
	}))

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := svc.Record(ctx, tx, entry)
		return err
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&LedgerEntry{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestRecordRejectsNonPositiveAmount(t *testing.T) {
	svc := &Service{ledger: &repoMock[LedgerEntry]{}}

	_, err := svc.Record(context.Background(), nil, Entry{UserID: "u1", Amount: 0})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
}

func TestRecordLastEntryError(t *testing.T) {
	svc := &Service{
		ledger: &repoMock[LedgerEntry]{
			findOneFn: func(ctx context.Context, _ *LedgerEntry, opts ...option.QueryOption) (*LedgerEntry, error) {
				return nil, errors.New("boom")
			},
		},
	}

	_, err := svc.Record(context.Background(), nil, Entry{UserID: "u1", Amount: 5})
	require.EqualError(t, err, "boom")
}

func TestVerifyChainInvalid(t *testing.T) {
	first := &LedgerEntry{
		ID:           "entry-1",
		UserID:       "u1",
		Seq:          1,
		Type:         EntryXPCredit,
		Amount:       100,
		PreviousHash: genesisHash,
		CreatedAt:    time.Now(),
	}
	first.Hash = first.GenerateHash()

	second := &LedgerEntry{
		ID:           "entry-2",
		UserID:       "u1",
		Seq:          2,
		Type:         EntryXPCredit,
		Amount:       50,
		PreviousHash: first.Hash,
		Hash:         "invalid",
		CreatedAt:    time.Now().Add(time.Minute),
	}

	svc := &Service{
		ledger: &repoMock[LedgerEntry]{
			findFn: func(ctx context.Context, _ *LedgerEntry, opts ...option.QueryOption) ([]*LedgerEntry, error) {
				return []*LedgerEntry{first, second}, nil
			},
		},
	}

	res, err := svc.Verify(context.Background(), "u1")
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.Equal(t, "entry-2", res.BrokenAt)
}

func TestListPaginates(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	for _, ref := range []string{"s1", "s2", "s3"} {
		ref := ref
		require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
			_, err := svc.Record(ctx, tx, Entry{
				UserID: "u1", Type: EntryXPCredit, Asset: AssetXP, Amount: 1,
				ReferenceType: ReferenceSubmission, ReferenceID: ref,
			})
			return err
		}))
	}

	out, err := svc.List(ctx, ListRequest{UserID: "u1", Pagination: pagination.Pagination{Limit: 2}})
	require.NoError(t, err)
	require.Len(t, out.Entries, 2)
	require.True(t, out.PageInfo.HasMore)
	require.NotEmpty(t, out.PageInfo.NextCursor)

	out, err = svc.List(ctx, ListRequest{UserID: "u1", Pagination: pagination.Pagination{Limit: 2, Cursor: out.PageInfo.NextCursor}})
	require.NoError(t, err)
	require.Len(t, out.Entries, 1)
	require.False(t, out.PageInfo.HasMore)
}
