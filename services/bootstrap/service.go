package bootstrap

import (
	"context"
	"fmt"

	"ambassador-controlplane/pkg/config"
	"ambassador-controlplane/pkg/repository"
	"ambassador-controlplane/services/campaign"
	"ambassador-controlplane/services/distribution"
	"ambassador-controlplane/services/ledger"
	"ambassador-controlplane/services/organization"
	"ambassador-controlplane/services/submission"
	"ambassador-controlplane/services/task"
	"ambassador-controlplane/services/user"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db     *gorm.DB
	config *config.Config
	user   repository.Repository[user.User]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		config: p.Config,
		user:   repository.ProvideStore[user.User](p.DB),
	}
}

// Models lists every table owned by the control plane.
func Models() []any {
	models := []any{&user.User{}, &ledger.LedgerEntry{}}
	models = append(models, organization.Models()...)
	models = append(models, campaign.Models()...)
	models = append(models, submission.Models()...)
	models = append(models, distribution.Models()...)
	models = append(models, task.Models()...)
	return models
}

func (s *Service) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		zap.L().Error("[bootstrap] failed to migrate schema", zap.Error(err))
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	zap.L().Info("[bootstrap] schema migrated")
	return s.seedPlatformAdmin(ctx)
}

// seedPlatformAdmin creates the configured platform administrator once.
func (s *Service) seedPlatformAdmin(ctx context.Context) error {
	platform := s.config.Platform
	if platform.AdminID == "" || platform.AdminEmail == "" {
		zap.L().Warn("[bootstrap] Platform admin is not configured. Skipping admin creation.")
		return nil
	}

	existing, err := s.user.FindOne(ctx, &user.User{ID: platform.AdminID})
	if err != nil {
		return fmt.Errorf("failed to look up platform admin: %w", err)
	}
	if existing != nil {
		zap.L().Info("[bootstrap] Platform admin already exists, skipping", zap.String("user_id", existing.ID))
		return nil
	}

	admin := &user.User{
		ID:    platform.AdminID,
		Name:  platform.AdminName,
		Email: platform.AdminEmail,
		Role:  user.RoleAdmin,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(admin).Error; err != nil {
		zap.L().Error("[bootstrap] failed to create platform admin", zap.Error(err))
		return fmt.Errorf("failed to create platform admin: %w", err)
	}

	zap.L().Info("[bootstrap] Platform admin created", zap.String("user_id", admin.ID))
	return nil
}
