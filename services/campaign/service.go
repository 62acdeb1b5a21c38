package campaign

import (
	"context"
	"errors"
	"time"

	"ambassador-controlplane/pkg/db/option"
	"ambassador-controlplane/pkg/errutil"
	"ambassador-controlplane/pkg/logger"
	"ambassador-controlplane/pkg/repository"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db *gorm.DB

	campaign repository.Repository[Campaign]
	task     repository.Repository[Task]
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		campaign: repository.ProvideStore[Campaign](p.DB),
		task:     repository.ProvideStore[Task](p.DB),
	}
}

func (s *Service) Get(ctx context.Context, id string) (*Campaign, error) {
	c, err := s.campaign.FindOne(ctx, &Campaign{ID: id})
	if err != nil {
		logger.FromContext(ctx).Error("failed to query campaign", zap.String("campaign_id", id), zap.Error(err))
		return nil, errutil.Internal("failed to load campaign", err)
	}
	if c == nil {
		return nil, errutil.NotFound("campaign not found", nil)
	}
	return c, nil
}

// GetTask loads a task with its subtasks ordered by sort key.
func (s *Service) GetTask(ctx context.Context, id string) (*Task, error) {
	var t Task
	err := s.db.WithContext(ctx).
		Preload("SubTasks", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC").Order("id ASC") }).
		Take(&t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errutil.NotFound("task not found", nil)
	}
	if err != nil {
		return nil, errutil.Internal("failed to load task", err)
	}
	return &t, nil
}

// ListEnded returns ACTIVE campaigns whose end date is before now.
func (s *Service) ListEnded(ctx context.Context, now time.Time, limit int) ([]*Campaign, error) {
	return s.campaign.Find(ctx, &Campaign{Status: CampaignStatusActive},
		option.ApplyOperator(option.Condition{Field: "end_date", Operator: option.LT, Value: now}),
		option.WithSortBy(option.QuerySortBy{SortBy: "end_date", OrderBy: "asc", Allow: map[string]bool{"end_date": true}}),
		option.WithLimit(limit),
	)
}

// Complete moves an ACTIVE campaign to COMPLETED. It returns false when the
// campaign was not ACTIVE anymore, so exactly one caller wins.
func (s *Service) Complete(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&Campaign{}).
		Where("id = ? AND status = ?", id, CampaignStatusActive).
		Update("status", CampaignStatusCompleted)
	if res.Error != nil {
		return false, errutil.Internal("failed to complete campaign", res.Error)
	}
	return res.RowsAffected == 1, nil
}
