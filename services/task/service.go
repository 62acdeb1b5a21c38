package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ambassador-controlplane/pkg/errutil"
	"ambassador-controlplane/pkg/logger"
	"ambassador-controlplane/pkg/repository"
	queue "ambassador-controlplane/pkg/task"
	"ambassador-controlplane/pkg/taskname"
	"ambassador-controlplane/services/campaign"
	"ambassador-controlplane/services/distribution"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	endedBatchSize = 100
	maxRetry       = 5
)

// Settler pays out a completed campaign.
type Settler interface {
	Authorize(ctx context.Context, actorID string) error
	SettleCampaign(ctx context.Context, campaignID string) (*distribution.Result, error)
}

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	enqueuer queue.Enqueuer

	campaign *campaign.Service
	settler  Settler

	job repository.Repository[Job]
}

type Params struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Enqueuer queue.Enqueuer
	Campaign *campaign.Service
	Settler  Settler `optional:"true"`
}

func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		enqueuer: p.Enqueuer,
		campaign: p.Campaign,
		settler:  p.Settler,
		job:      repository.ProvideStore[Job](p.DB),
	}
}

// EnqueueEndedCampaigns completes every ACTIVE campaign whose end date has
// passed and enqueues one settlement job per campaign it completed.
// Completed campaigns whose settlement job never reached the queue are
// enqueued again first.
func (s *Service) EnqueueEndedCampaigns(ctx context.Context, now time.Time) (int, error) {
	log := logger.FromContext(ctx)

	enqueued, err := s.enqueueStranded(ctx)
	if err != nil {
		return enqueued, err
	}

	for {
		ended, err := s.campaign.ListEnded(ctx, now, endedBatchSize)
		if err != nil {
			return enqueued, err
		}
		if len(ended) == 0 {
			break
		}

		for _, c := range ended {
			won, err := s.campaign.Complete(ctx, c.ID)
			if err != nil {
				return enqueued, err
			}
			if !won {
				continue
			}

			if _, err := s.EnqueueSettlement(ctx, c.ID, TriggerScheduler, ""); err != nil {
				log.Error("failed enqueue settlement job", zap.String("campaign_id", c.ID), zap.Error(err))
				continue
			}
			enqueued++
		}

		if len(ended) < endedBatchSize {
			break
		}
	}

	log.Info("finished enqueue ended campaigns", zap.Int("enqueued", enqueued))
	return enqueued, nil
}

// enqueueStranded retries completed campaigns whose only settlement jobs
// failed before running, i.e. the enqueue itself failed.
func (s *Service) enqueueStranded(ctx context.Context) (int, error) {
	live := s.db.Model(&Job{}).Select("1").
		Where("settlement_jobs.campaign_id = campaigns.id").
		Where("(settlement_jobs.status IN ? OR settlement_jobs.attempts > 0)", []JobStatus{JobPending, JobRunning, JobSuccess})
	failed := s.db.Model(&Job{}).Select("1").
		Where("settlement_jobs.campaign_id = campaigns.id").
		Where("settlement_jobs.status = ? AND settlement_jobs.attempts = 0", JobFailed)

	var stranded []campaign.Campaign
	err := s.db.WithContext(ctx).Model(&campaign.Campaign{}).
		Select("id").
		Where("status = ?", campaign.CampaignStatusCompleted).
		Where("EXISTS (?)", failed).
		Where("NOT EXISTS (?)", live).
		Order("id").
		Limit(endedBatchSize).
		Find(&stranded).Error
	if err != nil {
		return 0, errutil.Internal("failed to list stranded settlements", err)
	}

	enqueued := 0
	for _, c := range stranded {
		if _, err := s.EnqueueSettlement(ctx, c.ID, TriggerScheduler, ""); err != nil {
			logger.FromContext(ctx).Error("failed re-enqueue settlement job", zap.String("campaign_id", c.ID), zap.Error(err))
			continue
		}
		enqueued++
	}
	return enqueued, nil
}

// EnqueueSettlement creates a Job record and sends it to the settlement queue.
func (s *Service) EnqueueSettlement(ctx context.Context, campaignID, trigger, requestedBy string) (*Job, error) {
	job := Job{
		ID:         s.node.Generate().String(),
		Type:       taskname.CampaignSettle,
		CampaignID: campaignID,
		Trigger:    trigger,
		Status:     JobPending,
	}
	if requestedBy != "" {
		job.RequestedBy = &requestedBy
	}
	if err := s.job.Create(ctx, &job); err != nil {
		return nil, errutil.Internal("failed to create settlement job", err)
	}

	t, err := NewSettleTask(SettlePayload{JobID: job.ID, CampaignID: campaignID})
	if err != nil {
		return nil, errutil.Internal("failed to build settlement task", err)
	}

	if _, err := s.enqueuer.Enqueue(ctx, t,
		asynq.Queue(queue.QueueSettlement),
		asynq.TaskID(job.ID),
		asynq.MaxRetry(maxRetry),
	); err != nil {
		s.finish(ctx, job.ID, JobFailed, err.Error(), nil)
		return nil, errutil.Internal("failed to enqueue settlement job", err)
	}

	logger.FromContext(ctx).Info("enqueued settlement job",
		zap.String("campaign_id", campaignID),
		zap.String("queue", queue.QueueSettlement),
		zap.String("job_id", job.ID),
		zap.String("trigger", trigger),
	)
	return &job, nil
}

// RequestSettlement enqueues a settlement run on behalf of an operator.
func (s *Service) RequestSettlement(ctx context.Context, actorID, campaignID string) (*Job, error) {
	if err := s.settler.Authorize(ctx, actorID); err != nil {
		return nil, err
	}

	c, err := s.campaign.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status != campaign.CampaignStatusCompleted {
		return nil, errutil.Conflict("campaign is not completed", nil,
			errutil.WithDetails(errutil.Detail{Field: "status", Message: string(c.Status)}))
	}

	return s.EnqueueSettlement(ctx, c.ID, TriggerManual, actorID)
}

func NewSettleTask(p SettlePayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.CampaignSettle, payload), nil
}

// HandleSettleTask is used by the asynq worker. It only decodes the payload
// and delegates to RunSettlement.
func (s *Service) HandleSettleTask(ctx context.Context, t *asynq.Task) error {
	var payload SettlePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logger.FromContext(ctx).Error("invalid settlement payload", zap.Error(err))
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}

	return s.RunSettlement(ctx, payload)
}

func (s *Service) RunSettlement(ctx context.Context, p SettlePayload) error {
	log := logger.FromContext(ctx).With(zap.String("campaign_id", p.CampaignID), zap.String("job_id", p.JobID))

	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", p.JobID).
		Updates(map[string]any{
			"status":     JobRunning,
			"started_at": now,
			"attempts":   gorm.Expr("attempts + 1"),
		}).Error
	if err != nil {
		log.Warn("failed to mark job running", zap.Error(err))
	}

	log.Info("processing settlement job")

	result, err := s.settler.SettleCampaign(ctx, p.CampaignID)
	if err != nil {
		s.finish(ctx, p.JobID, JobFailed, err.Error(), nil)
		log.Error("settlement job failed", zap.Error(err))

		switch errutil.StatusOf(err) {
		case errutil.StatusNotFound, errutil.StatusConflict, errutil.StatusValidationFailed:
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	summary, _ := json.Marshal(map[string]any{"batch_id": result.BatchID, "summary": result.Summary})
	s.finish(ctx, p.JobID, JobSuccess, "", summary)

	log.Info("settlement job finished",
		zap.Int("succeeded", result.Summary.Succeeded),
		zap.Int("failed", result.Summary.Failed),
		zap.Int("pending", result.Summary.Pending),
	)
	return nil
}

func (s *Service) finish(ctx context.Context, jobID string, status JobStatus, msg string, metadata []byte) {
	updates := map[string]any{
		"status":       status,
		"error_msg":    msg,
		"completed_at": time.Now().UTC(),
	}
	if metadata != nil {
		updates["metadata"] = datatypes.JSON(metadata)
	}

	if err := s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", jobID).Updates(updates).Error; err != nil {
		logger.FromContext(ctx).Error("failed to update settlement job", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	job, err := s.job.FindOne(ctx, &Job{ID: id})
	if err != nil {
		return nil, errutil.Internal("failed to load settlement job", err)
	}
	if job == nil {
		return nil, errutil.NotFound("settlement job not found", nil)
	}
	return job, nil
}

func RegisterHandlers(mux *asynq.ServeMux, s *Service) {
	mux.HandleFunc(taskname.CampaignSettle, s.HandleSettleTask)
}
