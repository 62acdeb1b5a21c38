package reward

import (
	"context"
	"time"

	"ambassador-controlplane/pkg/cache"
	"ambassador-controlplane/pkg/config"
	"ambassador-controlplane/pkg/errutil"
	"ambassador-controlplane/pkg/logger"
	"ambassador-controlplane/pkg/rediskey"
	"ambassador-controlplane/pkg/repository"
	"ambassador-controlplane/services/campaign"
	"ambassador-controlplane/services/submission"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const allocationsTTL = time.Minute

type Service struct {
	db         *gorm.DB
	calculator *Calculator
	cache      cache.Cache

	campaign      *campaign.Service
	participation repository.Repository[campaign.Participation]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Config   *config.Config
	Campaign *campaign.Service
	Cache    cache.Cache `optional:"true"`
}

func NewService(p ServiceParams) (*Service, error) {
	calc, err := NewCalculator(p.Config.Settlement.XPWeight, p.Config.Settlement.TaskWeight)
	if err != nil {
		return nil, err
	}

	return &Service{
		db:            p.DB,
		calculator:    calc,
		cache:         p.Cache,
		campaign:      p.Campaign,
		participation: repository.ProvideStore[campaign.Participation](p.DB),
	}, nil
}

type CampaignAllocations struct {
	CampaignID  string          `json:"campaign_id"`
	RewardPool  decimal.Decimal `json:"reward_pool"`
	RewardToken string          `json:"reward_token"`
	Allocations []Allocation    `json:"allocations"`
}

type activity struct {
	UserID string `gorm:"column:user_id"`
	XP     int64  `gorm:"column:xp"`
	Tasks  int64  `gorm:"column:tasks"`
}

// ComputeAllocations splits the campaign pool between its approved
// participants, weighted by the XP and the number of distinct tasks they
// got approved inside the campaign.
func (s *Service) ComputeAllocations(ctx context.Context, campaignID string) (*CampaignAllocations, error) {
	c, err := s.campaign.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	participations, err := s.participation.Find(ctx, &campaign.Participation{
		CampaignID: campaignID,
		Status:     campaign.ParticipationApproved,
	})
	if err != nil {
		logger.FromContext(ctx).Error("failed to list participations", zap.String("campaign_id", campaignID), zap.Error(err))
		return nil, errutil.Internal("failed to load participants", err)
	}

	var rows []activity
	err = s.db.WithContext(ctx).
		Model(&submission.Submission{}).
		Select("submissions.user_id AS user_id, COALESCE(SUM(submissions.xp_awarded), 0) AS xp, COUNT(DISTINCT submissions.task_id) AS tasks").
		Joins("JOIN tasks ON tasks.id = submissions.task_id").
		Where("tasks.campaign_id = ? AND submissions.status = ?", campaignID, submission.StatusApproved).
		Group("submissions.user_id").
		Scan(&rows).Error
	if err != nil {
		logger.FromContext(ctx).Error("failed to aggregate activity", zap.String("campaign_id", campaignID), zap.Error(err))
		return nil, errutil.Internal("failed to aggregate activity", err)
	}

	byUser := make(map[string]activity, len(rows))
	for _, r := range rows {
		byUser[r.UserID] = r
	}

	participants := make([]Participant, 0, len(participations))
	for _, p := range participations {
		a := byUser[p.UserID]
		participants = append(participants, Participant{UserID: p.UserID, XP: a.XP, CompletedTasks: a.Tasks})
	}

	allocations, err := s.calculator.Allocate(c.RewardPool, participants)
	if err != nil {
		return nil, err
	}

	return &CampaignAllocations{
		CampaignID:  c.ID,
		RewardPool:  c.RewardPool,
		RewardToken: c.RewardToken,
		Allocations: allocations,
	}, nil
}

// CachedAllocations serves ComputeAllocations through the cache for read
// only callers. Settlement always computes fresh allocations.
func (s *Service) CachedAllocations(ctx context.Context, campaignID string) (*CampaignAllocations, error) {
	if s.cache == nil {
		return s.ComputeAllocations(ctx, campaignID)
	}

	return cache.UseCache(ctx, s.cache, rediskey.BuildAllocationsKey(campaignID), allocationsTTL, func() (*CampaignAllocations, error) {
		return s.ComputeAllocations(ctx, campaignID)
	})
}
