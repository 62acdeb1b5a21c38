package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ambassador-controlplane/pkg/authz"
	"ambassador-controlplane/pkg/db/option"
	"ambassador-controlplane/pkg/db/pagination"
	"ambassador-controlplane/pkg/errutil"
	"ambassador-controlplane/pkg/logger"
	"ambassador-controlplane/pkg/repository"
	"ambassador-controlplane/services/campaign"
	"ambassador-controlplane/services/ledger"
	"ambassador-controlplane/services/organization"
	"ambassador-controlplane/services/user"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errStaleStatus = errors.New("submission is no longer pending")

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	authz authz.Authorizer

	campaign     *campaign.Service
	organization *organization.Service
	ledger       *ledger.Service

	submission    repository.Repository[Submission]
	participation repository.Repository[campaign.Participation]
	user          repository.Repository[user.User]
}

type ServiceParams struct {
	fx.In
	DB           *gorm.DB
	Node         *snowflake.Node
	Authz        authz.Authorizer
	Campaign     *campaign.Service
	Organization *organization.Service
	Ledger       *ledger.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:            p.DB,
		node:          p.Node,
		authz:         p.Authz,
		campaign:      p.Campaign,
		organization:  p.Organization,
		ledger:        p.Ledger,
		submission:    repository.ProvideStore[Submission](p.DB),
		participation: repository.ProvideStore[campaign.Participation](p.DB),
		user:          repository.ProvideStore[user.User](p.DB),
	}
}

func (s *Service) Get(ctx context.Context, id string) (*Submission, error) {
	sub, err := s.submission.FindOne(ctx, &Submission{ID: id})
	if err != nil {
		logger.FromContext(ctx).Error("failed to query submission", zap.String("submission_id", id), zap.Error(err))
		return nil, errutil.Internal("failed to load submission", err)
	}
	if sub == nil {
		return nil, errutil.NotFound("submission not found", nil)
	}
	return sub, nil
}

func (s *Service) List(ctx context.Context, req ListRequest) (*ListResponse, error) {
	rows, err := s.submission.Find(ctx, &Submission{TaskID: req.TaskID, UserID: req.UserID, Status: req.Status},
		option.ApplyPagination(req.Pagination),
	)
	if err != nil {
		logger.FromContext(ctx).Error("failed to list submissions", zap.Error(err))
		return nil, errutil.Internal("failed to list submissions", err)
	}

	page, info := pagination.Page(rows, req.Limit, func(sub *Submission) string {
		return pagination.CursorOf(sub.CreatedAt, sub.ID)
	})
	return &ListResponse{Submissions: page, PageInfo: info}, nil
}

// Upsert creates the PENDING submission of (user, task, subtask) or
// refreshes its evidence in place. A REJECTED submission is reopened; an
// APPROVED one is final.
func (s *Service) Upsert(ctx context.Context, req UpsertRequest) (*Submission, error) {
	if req.UserID == "" {
		return nil, errutil.Unauthorized("missing actor", nil)
	}
	if len(req.Evidence) == 0 || !json.Valid(req.Evidence) {
		return nil, errutil.ValidationFailed("evidence must be a JSON document", nil,
			errutil.WithDetails(errutil.Detail{Field: "evidence", Message: "invalid"}))
	}

	task, err := s.campaign.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	if req.SubTaskID != nil && subTaskOf(task, *req.SubTaskID) == nil {
		return nil, errutil.NotFound("subtask not found", nil)
	}

	u, err := s.user.FindOne(ctx, &user.User{ID: req.UserID})
	if err != nil {
		return nil, errutil.Internal("failed to load user", err)
	}
	if u == nil || u.IsBanned {
		return nil, errutil.Forbidden("user cannot submit", nil)
	}

	c, err := s.campaign.Get(ctx, task.CampaignID)
	if err != nil {
		return nil, err
	}

	p, err := s.participation.FindOne(ctx, &campaign.Participation{UserID: req.UserID, CampaignID: c.ID})
	if err != nil {
		return nil, errutil.Internal("failed to load participation", err)
	}
	if p == nil || p.Status == campaign.ParticipationRejected {
		return nil, errutil.Forbidden("user does not participate in the campaign", nil)
	}

	now := time.Now().UTC()
	if !task.Open() || !c.IsActive(now) {
		return nil, errutil.Conflict("task is not accepting submissions", nil)
	}

	key := subTaskKey(req.SubTaskID)
	existing, err := s.findByKey(ctx, s.db, req.UserID, req.TaskID, key)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status == StatusApproved {
		return nil, conflictWithStatus(existing.Status)
	}

	sub := &Submission{
		ID:          s.node.Generate().String(),
		UserID:      req.UserID,
		TaskID:      req.TaskID,
		SubTaskID:   req.SubTaskID,
		SubTaskKey:  key,
		Evidence:    req.Evidence,
		Status:      StatusPending,
		SubmittedAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "task_id"}, {Name: "sub_task_key"}},
		DoUpdates: reopenAssignments(s.db.Dialector.Name(), map[string]any{
			"evidence":     req.Evidence,
			"submitted_at": now,
			"status":       StatusPending,
			"reviewed_at":  nil,
			"reviewed_by":  nil,
			"review_notes": nil,
			"updated_at":   now,
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Neq{Column: clause.Column{Table: "submissions", Name: "status"}, Value: StatusApproved},
		}},
	}).Create(sub)
	if res.Error != nil {
		logger.FromContext(ctx).Error("failed to upsert submission", zap.String("task_id", req.TaskID), zap.Error(res.Error))
		return nil, errutil.Internal("failed to save submission", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, conflictWithStatus(StatusApproved)
	}

	return s.findByKey(ctx, s.db, req.UserID, req.TaskID, key)
}

// reopenAssignments builds the upsert SET list. MySQL ignores the
// ON CONFLICT WHERE guard, so there every column keeps its value while the
// stored row is APPROVED.
func reopenAssignments(dialect string, values map[string]any) clause.Set {
	set := clause.Assignments(values)
	if dialect != "mysql" {
		return set
	}
	for i, a := range set {
		set[i].Value = gorm.Expr(fmt.Sprintf("IF(status = ?, %s, ?)", a.Column.Name), StatusApproved, a.Value)
	}
	return set
}

func (s *Service) findByKey(ctx context.Context, db *gorm.DB, userID, taskID, key string) (*Submission, error) {
	var sub Submission
	err := db.WithContext(ctx).
		Where("user_id = ? AND task_id = ? AND sub_task_key = ?", userID, taskID, key).
		Take(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errutil.Internal("failed to load submission", err)
	}
	return &sub, nil
}

// Review moves a PENDING submission to APPROVED or REJECTED. Approval
// credits XP on the same transaction as the status change and is
// idempotent: approving an already approved submission returns it as is.
func (s *Service) Review(ctx context.Context, req ReviewRequest) (*Submission, error) {
	if !req.Decision.Valid() {
		return nil, errutil.ValidationFailed("unknown review decision", nil,
			errutil.WithDetails(errutil.Detail{Field: "decision", Message: "must be APPROVE or REJECT"}))
	}

	sub, err := s.Get(ctx, req.SubmissionID)
	if err != nil {
		return nil, err
	}

	task, err := s.campaign.GetTask(ctx, sub.TaskID)
	if err != nil {
		return nil, err
	}

	if err := s.authorizeReview(ctx, req.ActorID, task); err != nil {
		return nil, err
	}

	if sub.Status != StatusPending {
		return s.settled(sub, req.Decision)
	}

	if req.Decision == DecisionApprove {
		if err := s.ensureOpen(ctx, task.CampaignID); err != nil {
			return nil, err
		}
	}

	log := logger.FromContext(ctx).With(
		zap.String("submission_id", sub.ID),
		zap.String("decision", string(req.Decision)),
		zap.String("actor_id", req.ActorID),
	)

	now := time.Now().UTC()
	switch req.Decision {
	case DecisionApprove:
		err = s.approve(ctx, sub, task, req, now)
	default:
		err = s.reject(ctx, sub, req, now)
	}

	if errors.Is(err, errStaleStatus) {
		current, gerr := s.Get(ctx, sub.ID)
		if gerr != nil {
			return nil, gerr
		}
		log.Info("review lost the race", zap.String("status", string(current.Status)))
		return s.settled(current, req.Decision)
	}
	if err != nil {
		if errutil.StatusOf(err) != errutil.StatusUnknown {
			return nil, err
		}
		log.Error("failed to review submission", zap.Error(err))
		return nil, errutil.Internal("failed to review submission", err)
	}

	log.Info("submission reviewed")
	return s.Get(ctx, sub.ID)
}

// ensureOpen rejects approvals once the campaign is settled or cancelled;
// XP credited after settlement would never be paid out.
func (s *Service) ensureOpen(ctx context.Context, campaignID string) error {
	c, err := s.campaign.Get(ctx, campaignID)
	if err != nil {
		return err
	}
	if c.Status == campaign.CampaignStatusCompleted || c.Status == campaign.CampaignStatusCancelled {
		return errutil.Conflict(fmt.Sprintf("campaign is %s", c.Status), nil,
			errutil.WithDetails(errutil.Detail{Field: "campaign_status", Message: string(c.Status)}))
	}
	return nil
}

// settled answers a review on a submission that is no longer PENDING.
func (s *Service) settled(sub *Submission, decision Decision) (*Submission, error) {
	if decision == DecisionApprove && sub.Status == StatusApproved && sub.XPAwarded != nil {
		return sub, nil
	}
	return nil, conflictWithStatus(sub.Status)
}

func (s *Service) approve(ctx context.Context, sub *Submission, task *campaign.Task, req ReviewRequest, now time.Time) error {
	amount := xpReward(task, sub.SubTaskID)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Submission{}).
			Where("id = ? AND status = ? AND xp_awarded IS NULL", sub.ID, StatusPending).
			Updates(map[string]any{
				"status":       StatusApproved,
				"reviewed_at":  now,
				"reviewed_by":  req.ActorID,
				"review_notes": nullable(req.Notes),
				"xp_awarded":   amount,
				"updated_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errStaleStatus
		}

		if amount == 0 {
			return nil
		}

		if err := user.IncrementXP(tx, sub.UserID, amount); err != nil {
			return err
		}

		snapshot, err := user.Snapshot(tx, sub.UserID)
		if err != nil {
			return err
		}

		_, err = s.ledger.Record(ctx, tx, ledger.Entry{
			UserID:        sub.UserID,
			Type:          ledger.EntryXPCredit,
			Asset:         ledger.AssetXP,
			Amount:        amount,
			BalanceAfter:  snapshot.XP,
			ReferenceType: ledger.ReferenceSubmission,
			ReferenceID:   sub.ID,
			Description:   fmt.Sprintf("task %s approved", task.ID),
			Metadata:      map[string]any{"task_id": task.ID, "reviewed_by": req.ActorID},
		})
		return err
	})
}

func (s *Service) reject(ctx context.Context, sub *Submission, req ReviewRequest, now time.Time) error {
	res := s.db.WithContext(ctx).Model(&Submission{}).
		Where("id = ? AND status = ?", sub.ID, StatusPending).
		Updates(map[string]any{
			"status":       StatusRejected,
			"reviewed_at":  now,
			"reviewed_by":  req.ActorID,
			"review_notes": nullable(req.Notes),
			"updated_at":   now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errStaleStatus
	}
	return nil
}

// authorizeReview allows platform admins and members of the campaign's
// organization holding the approve_submissions permission.
func (s *Service) authorizeReview(ctx context.Context, actorID string, task *campaign.Task) error {
	if actorID == "" {
		return errutil.Unauthorized("missing actor", nil)
	}

	actor, err := s.user.FindOne(ctx, &user.User{ID: actorID})
	if err != nil {
		return errutil.Internal("failed to load actor", err)
	}
	if actor == nil || actor.IsBanned {
		return errutil.Forbidden("reviewer is not allowed", nil)
	}

	if s.authz.Allow(string(actor.Role), authz.ResourceSubmission, authz.ActionReview) {
		return nil
	}

	c, err := s.campaign.Get(ctx, task.CampaignID)
	if err != nil {
		return err
	}
	if c.OrganizationID == nil {
		return errutil.Forbidden("only platform admins review platform campaigns", nil)
	}

	m, err := s.organization.Membership(ctx, *c.OrganizationID, actor.ID)
	if err != nil {
		return err
	}
	if m == nil || !m.Can(organization.PermissionApproveSubmissions) {
		return errutil.Forbidden("reviewer lacks approve_submissions permission", nil)
	}
	return nil
}

func subTaskOf(task *campaign.Task, id string) *campaign.SubTask {
	for i := range task.SubTasks {
		if task.SubTasks[i].ID == id {
			return &task.SubTasks[i]
		}
	}
	return nil
}

// xpReward is the subtask reward for subtask submissions, the task reward
// otherwise.
func xpReward(task *campaign.Task, subTaskID *string) int64 {
	if subTaskID != nil {
		if st := subTaskOf(task, *subTaskID); st != nil {
			return st.XPReward
		}
	}
	return task.XPReward
}

func conflictWithStatus(status Status) error {
	return errutil.Conflict(fmt.Sprintf("submission is %s", status), nil,
		errutil.WithDetails(errutil.Detail{Field: "status", Message: string(status)}))
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
