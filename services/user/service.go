package user

import (
	"context"

	"ambassador-controlplane/pkg/errutil"
	"ambassador-controlplane/pkg/logger"
	"ambassador-controlplane/pkg/repository"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	repo repository.Repository[User]
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		repo: repository.ProvideStore[User](p.DB),
	}
}

func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	u, err := s.repo.FindOne(ctx, &User{ID: id})
	if err != nil {
		logger.FromContext(ctx).Error("failed to query user", zap.String("user_id", id), zap.Error(err))
		return nil, errutil.Internal("failed to load user", err)
	}
	if u == nil {
		return nil, errutil.NotFound("user not found", nil)
	}
	return u, nil
}
