package distribution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ambassador-controlplane/pkg/authz"
	"ambassador-controlplane/pkg/config"
	"ambassador-controlplane/pkg/errutil"
	"ambassador-controlplane/pkg/lock"
	"ambassador-controlplane/pkg/payout"
	"ambassador-controlplane/services/campaign"
	"ambassador-controlplane/services/ledger"
	"ambassador-controlplane/services/reward"
	"ambassador-controlplane/services/submission"
	"ambassador-controlplane/services/testutil"
	"ambassador-controlplane/services/user"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func strPtr(s string) *string { return &s }

type fakeRail struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(ctx context.Context, req payout.TransferRequest) (*payout.TransferResult, error)
}

func newFakeRail() *fakeRail {
	return &fakeRail{calls: map[string]int{}}
}

func (r *fakeRail) Name() string { return "fake" }

func (r *fakeRail) Transfer(ctx context.Context, req payout.TransferRequest) (*payout.TransferResult, error) {
	r.mu.Lock()
	r.calls[req.UserID]++
	fn := r.fn
	r.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return &payout.TransferResult{Outcome: payout.OutcomeSuccess, TxRef: "tx-" + req.IdempotencyKey[:8]}, nil
}

func (r *fakeRail) callsFor(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[userID]
}

func (r *fakeRail) set(fn func(ctx context.Context, req payout.TransferRequest) (*payout.TransferResult, error)) {
	r.mu.Lock()
	r.fn = fn
	r.mu.Unlock()
}

type fixture struct {
	svc  *Service
	db   *gorm.DB
	rail *fakeRail
}

func setup(t *testing.T, mutate func(cfg *config.Config)) *fixture {
	t.Helper()

	models := []any{&user.User{}, &ledger.LedgerEntry{}}
	models = append(models, campaign.Models()...)
	models = append(models, submission.Models()...)
	models = append(models, Models()...)
	db := testutil.NewTestDB(t, models...)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	az, err := authz.NewDefault()
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Settlement.XPWeight = 0.7
	cfg.Settlement.TaskWeight = 0.3
	cfg.Distribution.Timeout = time.Second
	if mutate != nil {
		mutate(cfg)
	}

	require.NoError(t, db.Create(&[]user.User{
		{ID: "admin", Email: "admin@example.com", Role: user.RoleAdmin},
		{ID: "u1", Email: "u1@example.com", WalletAddress: strPtr("wallet-1")},
		{ID: "u2", Email: "u2@example.com", WalletAddress: strPtr("wallet-2")},
		{ID: "u3", Email: "u3@example.com"},
	}).Error)
	require.NoError(t, db.Create(&campaign.Campaign{
		ID: "c1", Name: "Launch", Status: campaign.CampaignStatusCompleted,
		RewardPool: decimal.NewFromInt(1000), RewardToken: "TON",
	}).Error)

	campaignSvc := campaign.NewService(campaign.ServiceParams{DB: db})
	rewardSvc, err := reward.NewService(reward.ServiceParams{DB: db, Config: cfg, Campaign: campaignSvc})
	require.NoError(t, err)

	rail := newFakeRail()
	svc := NewService(ServiceParams{
		DB:       db,
		Node:     node,
		Config:   cfg,
		Rail:     rail,
		Locker:   lock.NewLocal(),
		Authz:    az,
		Campaign: campaignSvc,
		Reward:   rewardSvc,
		Ledger:   ledger.NewService(ledger.ServiceParams{DB: db, Node: node}),
	})

	return &fixture{svc: svc, db: db, rail: rail}
}

func (f *fixture) balance(t *testing.T, id string) int64 {
	t.Helper()
	var u user.User
	require.NoError(t, f.db.First(&u, "id = ?", id).Error)
	return u.TokenBalance
}

func batch() []Allocation {
	return []Allocation{
		{UserID: "u1", Amount: 600, Destination: strPtr("wallet-1")},
		{UserID: "u2", Amount: 300, Destination: strPtr("wallet-2")},
		{UserID: "u3", Amount: 100},
	}
}

func TestDistributePartialFailureAndRerun(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	f.rail.set(func(ctx context.Context, req payout.TransferRequest) (*payout.TransferResult, error) {
		if req.UserID == "u2" {
			return &payout.TransferResult{Outcome: payout.OutcomeFailed, Reason: "insufficient liquidity"}, nil
		}
		return &payout.TransferResult{Outcome: payout.OutcomeSuccess, TxRef: "tx-" + req.UserID}, nil
	})

	out, err := f.svc.Distribute(ctx, "c1", batch())
	require.NoError(t, err)
	require.Equal(t, Summary{Total: 3, Succeeded: 1, Failed: 2}, out.Summary)

	require.Equal(t, payout.OutcomeSuccess, out.Results[0].Outcome)
	require.Equal(t, "tx-u1", out.Results[0].TxRef)
	require.Equal(t, payout.OutcomeFailed, out.Results[1].Outcome)
	require.Equal(t, "insufficient liquidity", out.Results[1].Error)
	require.Equal(t, payout.OutcomeFailed, out.Results[2].Outcome)
	require.Equal(t, ReasonNoDestination, out.Results[2].Error)

	require.Zero(t, f.rail.callsFor("u3"))
	require.Equal(t, int64(600), f.balance(t, "u1"))
	require.Zero(t, f.balance(t, "u2"))
	require.Zero(t, f.balance(t, "u3"))

	f.rail.set(nil)

	out, err = f.svc.Distribute(ctx, "c1", batch())
	require.NoError(t, err)
	require.Equal(t, Summary{Total: 3, Succeeded: 2, Failed: 1}, out.Summary)

	require.Equal(t, 1, f.rail.callsFor("u1"))
	require.Equal(t, 2, f.rail.callsFor("u2"))
	require.Equal(t, int64(600), f.balance(t, "u1"))
	require.Equal(t, int64(300), f.balance(t, "u2"))

	var rows int64
	require.NoError(t, f.db.Model(&Distribution{}).Count(&rows).Error)
	require.Equal(t, int64(3), rows)

	var u2 Distribution
	require.NoError(t, f.db.First(&u2, "user_id = ?", "u2").Error)
	require.Equal(t, 2, u2.Attempts)

	var credits int64
	require.NoError(t, f.db.Model(&ledger.LedgerEntry{}).Where("type = ?", ledger.EntryTokenCredit).Count(&credits).Error)
	require.Equal(t, int64(2), credits)
}

func TestDistributeTimeout(t *testing.T) {
	f := setup(t, func(cfg *config.Config) { cfg.Distribution.Timeout = 50 * time.Millisecond })

	f.rail.set(func(ctx context.Context, req payout.TransferRequest) (*payout.TransferResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	out, err := f.svc.Distribute(context.Background(), "c1", batch()[:1])
	require.NoError(t, err)
	require.Equal(t, payout.OutcomeFailed, out.Results[0].Outcome)
	require.Equal(t, ReasonTimeout, out.Results[0].Error)
	require.Zero(t, f.balance(t, "u1"))
}

func TestDistributeRailError(t *testing.T) {
	f := setup(t, nil)

	f.rail.set(func(ctx context.Context, req payout.TransferRequest) (*payout.TransferResult, error) {
		return nil, errors.New("connection refused")
	})

	out, err := f.svc.Distribute(context.Background(), "c1", batch()[:1])
	require.NoError(t, err)
	require.Equal(t, ReasonRailError, out.Results[0].Error)
}

func TestDistributeRespectsRewardPool(t *testing.T) {
	f := setup(t, nil)

	out, err := f.svc.Distribute(context.Background(), "c1", []Allocation{
		{UserID: "u1", Amount: 700, Destination: strPtr("wallet-1")},
		{UserID: "u2", Amount: 400, Destination: strPtr("wallet-2")},
		{UserID: "u2", Amount: 300, Destination: strPtr("wallet-2")},
	})
	require.NoError(t, err)
	require.Equal(t, payout.OutcomeSuccess, out.Results[0].Outcome)
	require.Equal(t, payout.OutcomeFailed, out.Results[1].Outcome)
	require.Equal(t, ReasonPoolExhausted, out.Results[1].Error)
	require.Equal(t, payout.OutcomeSuccess, out.Results[2].Outcome)
	require.Equal(t, 1, f.rail.callsFor("u2"))
	require.Equal(t, int64(300), f.balance(t, "u2"))
}

func TestDistributePendingThenSettle(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	f.rail.set(func(ctx context.Context, req payout.TransferRequest) (*payout.TransferResult, error) {
		return &payout.TransferResult{Outcome: payout.OutcomePending, TxRef: "pending-ref"}, nil
	})

	out, err := f.svc.Distribute(ctx, "c1", batch()[:1])
	require.NoError(t, err)
	require.Equal(t, Summary{Total: 1, Pending: 1}, out.Summary)
	require.Zero(t, f.balance(t, "u1"))

	// a pending distribution is not sent again
	_, err = f.svc.Distribute(ctx, "c1", batch()[:1])
	require.NoError(t, err)
	require.Equal(t, 1, f.rail.callsFor("u1"))

	id := out.Results[0].DistributionID
	settled, err := f.svc.Settle(ctx, SettleRequest{DistributionID: id, Outcome: payout.OutcomeSuccess})
	require.NoError(t, err)
	require.Equal(t, payout.OutcomeSuccess, settled.Outcome)
	require.Equal(t, "pending-ref", *settled.TxRef)
	require.Equal(t, int64(600), f.balance(t, "u1"))

	_, err = f.svc.Settle(ctx, SettleRequest{DistributionID: id, Outcome: payout.OutcomeSuccess})
	require.NoError(t, err)
	require.Equal(t, int64(600), f.balance(t, "u1"))

	_, err = f.svc.Settle(ctx, SettleRequest{DistributionID: id, Outcome: payout.OutcomeFailed})
	require.True(t, errutil.Is(err, errutil.StatusConflict))

	_, err = f.svc.Settle(ctx, SettleRequest{DistributionID: "missing", Outcome: payout.OutcomeFailed})
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
}

func TestDistributeExplicitIDsInParallel(t *testing.T) {
	f := setup(t, func(cfg *config.Config) { cfg.Distribution.Concurrency = 4 })

	allocations := make([]Allocation, 10)
	for i := range allocations {
		allocations[i] = Allocation{UserID: "u1", Amount: 10, Destination: strPtr("wallet-1"), DistributionID: fmt.Sprintf("payout-%d", i)}
	}

	out, err := f.svc.Distribute(context.Background(), "c1", allocations)
	require.NoError(t, err)
	require.Equal(t, 10, out.Summary.Succeeded)
	require.Equal(t, int64(100), f.balance(t, "u1"))

	res, err := f.svc.List(context.Background(), ListRequest{CampaignID: "c1"})
	require.NoError(t, err)
	require.Len(t, res.Distributions, 10)
}

func TestDistributeValidation(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	_, err := f.svc.Distribute(ctx, "missing", batch())
	require.True(t, errutil.Is(err, errutil.StatusNotFound))

	_, err = f.svc.Distribute(ctx, "c1", []Allocation{{UserID: "u1", Amount: -5, Destination: strPtr("w")}})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	_, err = f.svc.Distribute(ctx, "c1", []Allocation{{UserID: "u1", Amount: 5, Token: "USDT", Destination: strPtr("w")}})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	_, err = f.svc.Distribute(ctx, "c1", []Allocation{{Amount: 5}})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))

	out, err := f.svc.Distribute(ctx, "c1", []Allocation{
		{UserID: "u1", Destination: strPtr("wallet-1")},
		{UserID: "ghost", Amount: 5, Destination: strPtr("wallet-x")},
	})
	require.NoError(t, err)
	require.Equal(t, ReasonZeroAmount, out.Results[0].Error)
	require.Equal(t, ReasonUnknownUser, out.Results[1].Error)
	require.Zero(t, f.rail.callsFor("u1"))

	var count int64
	require.NoError(t, f.db.Model(&Distribution{}).Count(&count).Error)
	require.Equal(t, int64(2), count)
}

func TestSettleCampaign(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	xp := func(v int64) *int64 { return &v }
	require.NoError(t, f.db.Create(&campaign.Task{ID: "t1", CampaignID: "c1", XPReward: 10}).Error)
	require.NoError(t, f.db.Create(&[]campaign.Participation{
		{ID: "p1", UserID: "u1", CampaignID: "c1", Status: campaign.ParticipationApproved},
		{ID: "p3", UserID: "u3", CampaignID: "c1", Status: campaign.ParticipationApproved},
	}).Error)
	require.NoError(t, f.db.Create(&[]submission.Submission{
		{ID: "s1", UserID: "u1", TaskID: "t1", Status: submission.StatusApproved, XPAwarded: xp(30)},
		{ID: "s3", UserID: "u3", TaskID: "t1", Status: submission.StatusApproved, XPAwarded: xp(10)},
	}).Error)

	out, err := f.svc.SettleCampaign(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, 2, out.Summary.Total)

	// u1: 0.7*30/40 + 0.3*1/2 = 0.675
	require.Equal(t, int64(675), f.balance(t, "u1"))
	for _, r := range out.Results {
		if r.UserID == "u3" {
			require.Equal(t, ReasonNoDestination, r.Error)
		}
	}

	again, err := f.svc.SettleCampaign(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, 1, again.Summary.Succeeded)
	require.Equal(t, int64(675), f.balance(t, "u1"))
	require.Equal(t, 1, f.rail.callsFor("u1"))

	require.NoError(t, f.db.Model(&campaign.Campaign{}).Where("id = ?", "c1").Update("status", campaign.CampaignStatusActive).Error)
	_, err = f.svc.SettleCampaign(ctx, "c1")
	require.True(t, errutil.Is(err, errutil.StatusConflict))
}

func TestSettleCampaignPaysRecipientOnce(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	xp := func(v int64) *int64 { return &v }
	require.NoError(t, f.db.Create(&[]campaign.Task{
		{ID: "t1", CampaignID: "c1", XPReward: 10},
		{ID: "t2", CampaignID: "c1", XPReward: 30},
	}).Error)
	require.NoError(t, f.db.Create(&[]campaign.Participation{
		{ID: "p1", UserID: "u1", CampaignID: "c1", Status: campaign.ParticipationApproved},
		{ID: "p3", UserID: "u3", CampaignID: "c1", Status: campaign.ParticipationApproved},
	}).Error)
	require.NoError(t, f.db.Create(&[]submission.Submission{
		{ID: "s1", UserID: "u1", TaskID: "t1", Status: submission.StatusApproved, XPAwarded: xp(30)},
		{ID: "s3", UserID: "u3", TaskID: "t1", Status: submission.StatusApproved, XPAwarded: xp(10)},
	}).Error)

	_, err := f.svc.SettleCampaign(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, int64(675), f.balance(t, "u1"))

	// approvals landing after the first run change every share
	require.NoError(t, f.db.Create(&submission.Submission{
		ID: "s4", UserID: "u3", TaskID: "t2", Status: submission.StatusApproved, XPAwarded: xp(30),
	}).Error)
	require.NoError(t, f.db.Model(&user.User{}).Where("id = ?", "u3").Update("wallet_address", "wallet-3").Error)

	out, err := f.svc.SettleCampaign(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, int64(675), f.balance(t, "u1"))
	require.Equal(t, 1, f.rail.callsFor("u1"))

	for _, r := range out.Results {
		switch r.UserID {
		case "u1":
			require.Equal(t, payout.OutcomeSuccess, r.Outcome)
			require.Equal(t, SettlementKey("c1", "u1"), mustGet(t, f, r.DistributionID).IdempotencyKey)
		case "u3":
			require.Equal(t, payout.OutcomeFailed, r.Outcome)
			require.Equal(t, ReasonPoolExhausted, r.Error)
		}
	}

	var rows int64
	require.NoError(t, f.db.Model(&Distribution{}).Where("campaign_id = ?", "c1").Count(&rows).Error)
	require.Equal(t, int64(2), rows)
}

func mustGet(t *testing.T, f *fixture, id string) *Distribution {
	t.Helper()
	d, err := f.svc.Get(context.Background(), id)
	require.NoError(t, err)
	return d
}

func TestAuthorize(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	require.NoError(t, f.svc.Authorize(ctx, "admin"))
	require.True(t, errutil.Is(f.svc.Authorize(ctx, "u1"), errutil.StatusForbidden))
	require.True(t, errutil.Is(f.svc.Authorize(ctx, ""), errutil.StatusUnauthorized))
}
