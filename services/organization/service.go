package organization

import (
	"context"
	"errors"
	"time"

	"ambassador-controlplane/pkg/authz"
	"ambassador-controlplane/pkg/errutil"
	"ambassador-controlplane/pkg/logger"
	"ambassador-controlplane/pkg/repository"
	"ambassador-controlplane/services/campaign"
	"ambassador-controlplane/services/user"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	authz authz.Authorizer

	organization repository.Repository[Organization]
	membership   repository.Repository[Membership]
	user         repository.Repository[user.User]
}

type ServiceParams struct {
	fx.In
	DB    *gorm.DB
	Authz authz.Authorizer
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:           p.DB,
		authz:        p.Authz,
		organization: repository.ProvideStore[Organization](p.DB),
		membership:   repository.ProvideStore[Membership](p.DB),
		user:         repository.ProvideStore[user.User](p.DB),
	}
}

func (s *Service) Get(ctx context.Context, id string) (*Organization, error) {
	org, err := s.organization.FindOne(ctx, &Organization{ID: id})
	if err != nil {
		return nil, errutil.Internal("failed to load organization", err)
	}
	if org == nil {
		return nil, errutil.NotFound("organization not found", nil)
	}
	return org, nil
}

// Membership returns the membership of userID in orgID, nil when absent.
func (s *Service) Membership(ctx context.Context, orgID, userID string) (*Membership, error) {
	m, err := s.membership.FindOne(ctx, &Membership{OrganizationID: orgID, UserID: userID})
	if err != nil {
		return nil, errutil.Internal("failed to load membership", err)
	}
	return m, nil
}

type cascadeStep func(ctx context.Context, tx *gorm.DB, req ModerationRequest, now time.Time) error

// ApplyModeration propagates a moderation action from the organization to
// its campaigns, their tasks and the member users. Each entity class is
// written in its own transaction and in that order; every step is
// idempotent so an interrupted call is completed by calling it again.
func (s *Service) ApplyModeration(ctx context.Context, req ModerationRequest) (*ModerationResult, error) {
	if !req.Action.Valid() {
		return nil, errutil.ValidationFailed("unknown moderation action", nil,
			errutil.WithDetails(errutil.Detail{Field: "action", Message: "must be one of BAN, UNBAN, DELETE"}))
	}

	if err := s.authorize(ctx, req.ActorID); err != nil {
		return nil, err
	}

	org, err := s.Get(ctx, req.OrganizationID)
	if err != nil {
		return nil, err
	}

	if org.IsDeleted && req.Action != ActionDelete {
		return nil, errutil.Conflict("organization is deleted", nil,
			errutil.WithDetails(errutil.Detail{Field: "organization_id", Message: org.ID}))
	}

	steps := s.stepsFor(req.Action)
	result := &ModerationResult{
		OrganizationID: org.ID,
		Action:         req.Action,
		Completed:      make([]string, 0, len(cascadeOrder)),
	}

	log := logger.FromContext(ctx).With(
		zap.String("organization_id", org.ID),
		zap.String("action", string(req.Action)),
		zap.String("actor_id", req.ActorID),
	)

	now := time.Now().UTC()
	for _, class := range cascadeOrder {
		step := steps[class]
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return step(ctx, tx, req, now)
		})
		if err != nil {
			log.Error("moderation cascade interrupted", zap.String("class", class), zap.Strings("completed", result.Completed), zap.Error(err))
			result.Failed = class
			result.NewState = s.state(ctx, org.ID)

			details := make([]errutil.Detail, 0, len(result.Completed)+1)
			for _, c := range result.Completed {
				details = append(details, errutil.Detail{Field: c, Message: "completed"})
			}
			details = append(details, errutil.Detail{Field: class, Message: "failed"})
			return result, errutil.PartialFailure("moderation cascade interrupted, retry to complete", err, errutil.WithDetails(details...))
		}
		result.Completed = append(result.Completed, class)
	}

	result.NewState = s.state(ctx, org.ID)
	log.Info("moderation applied")
	return result, nil
}

func (s *Service) authorize(ctx context.Context, actorID string) error {
	if actorID == "" {
		return errutil.Unauthorized("missing actor", nil)
	}

	actor, err := s.user.FindOne(ctx, &user.User{ID: actorID})
	if err != nil {
		return errutil.Internal("failed to load actor", err)
	}
	if actor == nil || actor.IsBanned || !s.authz.Allow(string(actor.Role), authz.ResourceOrganization, authz.ActionModerate) {
		return errutil.Forbidden("actor is not allowed to moderate organizations", nil)
	}
	return nil
}

func (s *Service) state(ctx context.Context, orgID string) State {
	org, err := s.organization.FindOne(ctx, &Organization{ID: orgID})
	if err != nil || org == nil {
		return State{}
	}
	return State{Status: org.Status, IsBanned: org.IsBanned, IsDeleted: org.IsDeleted}
}

func (s *Service) stepsFor(action Action) map[string]cascadeStep {
	switch action {
	case ActionBan:
		return map[string]cascadeStep{
			ClassOrganization: banOrganization,
			ClassCampaigns:    holdCampaigns,
			ClassTasks:        holdTasks,
			ClassUsers:        banMembers,
		}
	case ActionUnban:
		return map[string]cascadeStep{
			ClassOrganization: unbanOrganization,
			ClassCampaigns:    releaseCampaigns,
			ClassTasks:        releaseTasks,
			ClassUsers:        unbanMembers,
		}
	default:
		return map[string]cascadeStep{
			ClassOrganization: deleteOrganization,
			ClassCampaigns:    cancelCampaigns,
			ClassTasks:        archiveTasks,
			ClassUsers:        deleteOwners,
		}
	}
}

func campaignIDs(tx *gorm.DB, orgID string) *gorm.DB {
	return tx.Model(&campaign.Campaign{}).Select("id").Where("organization_id = ?", orgID)
}

func memberIDs(tx *gorm.DB, orgID string) *gorm.DB {
	return tx.Model(&Membership{}).Select("user_id").Where("organization_id = ?", orgID)
}

func banOrganization(ctx context.Context, tx *gorm.DB, req ModerationRequest, now time.Time) error {
	return tx.Model(&Organization{}).
		Where("id = ? AND is_banned = ?", req.OrganizationID, false).
		Updates(map[string]any{
			"is_banned":     true,
			"banned_at":     now,
			"banned_by":     req.ActorID,
			"banned_reason": nullable(req.Reason),
			"status":        StatusInactive,
		}).Error
}

func unbanOrganization(ctx context.Context, tx *gorm.DB, req ModerationRequest, now time.Time) error {
	return tx.Model(&Organization{}).
		Where("id = ? AND is_banned = ?", req.OrganizationID, true).
		Updates(map[string]any{
			"is_banned":     false,
			"banned_at":     nil,
			"banned_by":     nil,
			"banned_reason": nil,
			"status":        StatusActive,
		}).Error
}

func deleteOrganization(ctx context.Context, tx *gorm.DB, req ModerationRequest, now time.Time) error {
	return tx.Model(&Organization{}).
		Where("id = ? AND is_deleted = ?", req.OrganizationID, false).
		Updates(map[string]any{
			"is_deleted":      true,
			"deleted_at_time": now,
			"deleted_by":      req.ActorID,
			"status":          StatusCancelled,
		}).Error
}

// holdCampaigns remembers the current status of every campaign that is not
// cancelled yet, then cancels all held campaigns.
func holdCampaigns(ctx context.Context, tx *gorm.DB, req ModerationRequest, now time.Time) error {
	err := tx.Model(&campaign.Campaign{}).
		Where("organization_id = ? AND moderation_hold = ? AND status <> ?", req.OrganizationID, false, campaign.CampaignStatusCancelled).
		Updates(map[string]any{
			"status_before_hold": gorm.Expr("status"),
			"moderation_hold":    true,
		}).Error
	if err != nil {
		return err
	}

	return tx.Model(&campaign.Campaign{}).
		Where("organization_id = ? AND status <> ?", req.OrganizationID, campaign.CampaignStatusCancelled).
		Update("status", campaign.CampaignStatusCancelled).Error
}

func releaseCampaigns(ctx context.Context, tx *gorm.DB, req ModerationRequest, now time.Time) error {
	err := tx.Model(&campaign.Campaign{}).
		Where("organization_id = ? AND moderation_hold = ?", req.OrganizationID, true).
		Update("status", gorm.Expr("COALESCE(status_before_hold, ?)", campaign.CampaignStatusActive)).Error
	if err != nil {
		return err
	}

	return tx.Model(&campaign.Campaign{}).
		Where("organization_id = ? AND moderation_hold = ?", req.OrganizationID, true).
		Updates(map[string]any{
			"moderation_hold":    false,
			"status_before_hold": nil,
		}).Error
}

func cancelCampaigns(ctx context.Context, tx *gorm.DB, req ModerationRequest, now time.Time) error {
	return tx.Model(&campaign.Campaign{}).
		Where("organization_id = ? AND status <> ?", req.OrganizationID, campaign.CampaignStatusCancelled).
		Update("status", campaign.CampaignStatusCancelled).Error
}

// holdTasks remembers the state of every task that is not archived yet,
// then archives all tasks of the organization.
func holdTasks(ctx context.Context, tx *gorm.DB, req ModerationRequest, now time.Time) error {
	err := tx.Model(&campaign.Task{}).
		Where("campaign_id IN (?) AND moderation_hold = ? AND status <> ?", campaignIDs(tx, req.OrganizationID), false, campaign.TaskStatusArchived).
		Updates(map[string]any{
			"status_before_hold": gorm.Expr("status"),
			"active_before_hold": gorm.Expr("is_active"),
			"moderation_hold":    true,
		}).Error
	if err != nil {
		return err
	}
	return archiveTasks(ctx, tx, req, now)
}

func releaseTasks(ctx context.Context, tx *gorm.DB, req ModerationRequest, now time.Time) error {
	err := tx.Model(&campaign.Task{}).
		Where("campaign_id IN (?) AND moderation_hold = ?", campaignIDs(tx, req.OrganizationID), true).
		Updates(map[string]any{
			"status":    gorm.Expr("COALESCE(status_before_hold, ?)", campaign.TaskStatusActive),
			"is_active": gorm.Expr("COALESCE(active_before_hold, ?)", true),
		}).Error
	if err != nil {
		return err
	}

	return tx.Model(&campaign.Task{}).
		Where("campaign_id IN (?) AND moderation_hold = ?", campaignIDs(tx, req.OrganizationID), true).
		Updates(map[string]any{
			"moderation_hold":    false,
			"status_before_hold": nil,
			"active_before_hold": nil,
		}).Error
}

func archiveTasks(ctx context.Context, tx *gorm.DB, req ModerationRequest, now time.Time) error {
	return tx.Model(&campaign.Task{}).
		Where("campaign_id IN (?) AND (status <> ? OR is_active = ?)", campaignIDs(tx, req.OrganizationID), campaign.TaskStatusArchived, true).
		Updates(map[string]any{
			"status":    campaign.TaskStatusArchived,
			"is_active": false,
		}).Error
}

func banMembers(ctx context.Context, tx *gorm.DB, req ModerationRequest, now time.Time) error {
	return tx.Model(&user.User{}).
		Where("id IN (?) AND is_banned = ?", memberIDs(tx, req.OrganizationID), false).
		Updates(map[string]any{
			"is_banned":     true,
			"banned_at":     now,
			"banned_by":     req.ActorID,
			"banned_reason": nullable(req.Reason),
		}).Error
}

func unbanMembers(ctx context.Context, tx *gorm.DB, req ModerationRequest, now time.Time) error {
	return tx.Model(&user.User{}).
		Where("id IN (?) AND is_banned = ?", memberIDs(tx, req.OrganizationID), true).
		Updates(map[string]any{
			"is_banned":     false,
			"banned_at":     nil,
			"banned_by":     nil,
			"banned_reason": nil,
		}).Error
}

// deleteOwners removes the owner accounts and every membership of the
// organization. It runs last since account removal cannot be undone.
func deleteOwners(ctx context.Context, tx *gorm.DB, req ModerationRequest, now time.Time) error {
	var owners []string
	err := tx.Model(&Membership{}).
		Where("organization_id = ? AND role = ?", req.OrganizationID, MemberRoleOwner).
		Pluck("user_id", &owners).Error
	if err != nil {
		return err
	}

	if err := tx.Where("organization_id = ?", req.OrganizationID).Delete(&Membership{}).Error; err != nil {
		return err
	}

	if len(owners) == 0 {
		return nil
	}

	// platform admins keep their account and their other memberships
	var removed []string
	err = tx.Model(&user.User{}).
		Where("id IN ? AND role <> ?", owners, user.RoleAdmin).
		Pluck("id", &removed).Error
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		return nil
	}

	if err := tx.Where("user_id IN ?", removed).Delete(&Membership{}).Error; err != nil {
		return err
	}

	res := tx.Where("id IN ?", removed).Delete(&user.User{})
	if res.Error != nil {
		return res.Error
	}

	logger.FromContext(ctx).Info("organization owners removed", zap.Strings("user_ids", removed), zap.Int64("deleted", res.RowsAffected))
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// IsPartialFailure reports whether err is an interrupted cascade.
func IsPartialFailure(err error) bool {
	var be errutil.BaseError
	return errors.As(err, &be) && be.Code == errutil.StatusPartialFailure
}
