package reward

import (
	"context"
	"testing"

	"ambassador-controlplane/pkg/cache"
	"ambassador-controlplane/pkg/config"
	"ambassador-controlplane/pkg/errutil"
	"ambassador-controlplane/services/campaign"
	"ambassador-controlplane/services/submission"
	"ambassador-controlplane/services/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func int64Ptr(v int64) *int64 { return &v }

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	models := append(campaign.Models(), submission.Models()...)
	db := testutil.NewTestDB(t, models...)

	cfg := &config.Config{}
	cfg.Settlement.XPWeight = 0.7
	cfg.Settlement.TaskWeight = 0.3

	svc, err := NewService(ServiceParams{
		DB:       db,
		Config:   cfg,
		Campaign: campaign.NewService(campaign.ServiceParams{DB: db}),
	})
	require.NoError(t, err)
	return svc, db
}

func approved(id, userID, taskID string, xp int64) *submission.Submission {
	return &submission.Submission{
		ID: id, UserID: userID, TaskID: taskID, SubTaskKey: id,
		Status: submission.StatusApproved, XPAwarded: int64Ptr(xp),
	}
}

func TestComputeAllocations(t *testing.T) {
	svc, db := newTestService(t)

	require.NoError(t, db.Create(&campaign.Campaign{ID: "c1", Name: "Launch", Status: campaign.CampaignStatusCompleted, RewardPool: decimal.NewFromInt(10000), RewardToken: "TON"}).Error)
	require.NoError(t, db.Create(&campaign.Campaign{ID: "c2", Name: "Other", Status: campaign.CampaignStatusActive, RewardPool: decimal.NewFromInt(10), RewardToken: "TON"}).Error)
	require.NoError(t, db.Create(&[]campaign.Task{
		{ID: "t1", CampaignID: "c1", XPReward: 100},
		{ID: "t2", CampaignID: "c1", XPReward: 100},
		{ID: "other", CampaignID: "c2", XPReward: 1000},
	}).Error)
	require.NoError(t, db.Create(&[]campaign.Participation{
		{ID: "p1", UserID: "u1", CampaignID: "c1", Status: campaign.ParticipationApproved},
		{ID: "p2", UserID: "u2", CampaignID: "c1", Status: campaign.ParticipationApproved},
		{ID: "p3", UserID: "u3", CampaignID: "c1", Status: campaign.ParticipationApproved},
		{ID: "p4", UserID: "u4", CampaignID: "c1", Status: campaign.ParticipationRejected},
	}).Error)

	require.NoError(t, db.Create(approved("s1", "u1", "t1", 100)).Error)
	require.NoError(t, db.Create(approved("s2", "u1", "t2", 50)).Error)
	require.NoError(t, db.Create(approved("s3", "u2", "t1", 50)).Error)
	require.NoError(t, db.Create(approved("s4", "u2", "other", 1000)).Error)
	require.NoError(t, db.Create(&submission.Submission{ID: "s5", UserID: "u3", TaskID: "t1", Status: submission.StatusPending}).Error)
	require.NoError(t, db.Create(approved("s6", "u4", "t1", 100)).Error)

	out, err := svc.ComputeAllocations(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, "TON", out.RewardToken)
	require.Len(t, out.Allocations, 3)

	byUser := map[string]Allocation{}
	for _, a := range out.Allocations {
		byUser[a.UserID] = a
	}

	// totals: xp 200, tasks 3
	require.Equal(t, int64(150), byUser["u1"].XP)
	require.Equal(t, int64(2), byUser["u1"].CompletedTasks)
	require.Equal(t, int64(7250), byUser["u1"].TokenAmount)
	require.Equal(t, int64(50), byUser["u2"].XP)
	require.Equal(t, int64(1), byUser["u2"].CompletedTasks)
	require.Equal(t, int64(2750), byUser["u2"].TokenAmount)
	require.Zero(t, byUser["u3"].TokenAmount)
}

func TestComputeAllocationsUnknownCampaign(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ComputeAllocations(context.Background(), "missing")
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
}

func TestNewServiceRejectsWeights(t *testing.T) {
	cfg := &config.Config{}
	cfg.Settlement.XPWeight = 0.9
	cfg.Settlement.TaskWeight = 0.9

	_, err := NewService(ServiceParams{Config: cfg})
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
}

func TestCachedAllocations(t *testing.T) {
	svc, db := newTestService(t)
	svc.cache = cache.New(cache.Params{})
	ctx := context.Background()

	require.NoError(t, db.Create(&campaign.Campaign{ID: "c1", Name: "Launch", Status: campaign.CampaignStatusCompleted, RewardPool: decimal.NewFromInt(1000), RewardToken: "TON"}).Error)
	require.NoError(t, db.Create(&campaign.Task{ID: "t1", CampaignID: "c1", XPReward: 10}).Error)
	require.NoError(t, db.Create(&campaign.Participation{ID: "p1", UserID: "u1", CampaignID: "c1", Status: campaign.ParticipationApproved}).Error)
	require.NoError(t, db.Create(approved("s1", "u1", "t1", 10)).Error)

	first, err := svc.CachedAllocations(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, int64(1000), first.Allocations[0].TokenAmount)

	require.NoError(t, db.Create(&campaign.Participation{ID: "p2", UserID: "u2", CampaignID: "c1", Status: campaign.ParticipationApproved}).Error)
	require.NoError(t, db.Create(approved("s2", "u2", "t1", 10)).Error)

	cached, err := svc.CachedAllocations(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, cached.Allocations, 1)
	require.True(t, cached.RewardPool.Equal(decimal.NewFromInt(1000)))

	fresh, err := svc.ComputeAllocations(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, fresh.Allocations, 2)

	_, err = svc.CachedAllocations(ctx, "missing")
	require.True(t, errutil.Is(err, errutil.StatusNotFound))
}
