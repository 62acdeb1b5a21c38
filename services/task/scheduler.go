package task

import (
	"context"
	"time"

	"ambassador-controlplane/pkg/config"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Scheduler struct {
	service  *Service
	cron     *cron.Cron
	schedule string
}

func NewScheduler(cfg *config.Config, svc *Service) *Scheduler {
	schedule := cfg.Settlement.Schedule
	if schedule == "" {
		schedule = "*/15 * * * *"
	}
	return &Scheduler{
		service:  svc,
		cron:     cron.New(cron.WithLocation(time.UTC)),
		schedule: schedule,
	}
}

// StartScheduler registers the settlement sweep with the fx lifecycle.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) error {
	if _, err := s.cron.AddFunc(s.schedule, s.runOnce); err != nil {
		zap.L().Error("[Scheduler] invalid settlement schedule", zap.String("schedule", s.schedule), zap.Error(err))
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			s.cron.Start()
			zap.L().Info("[Scheduler] started settlement scheduler", zap.String("schedule", s.schedule))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			stopped := s.cron.Stop()
			select {
			case <-stopped.Done():
			case <-ctx.Done():
			}
			zap.L().Warn("[Scheduler] stopped")
			return nil
		},
	})
	return nil
}

func (s *Scheduler) runOnce() {
	ctx := context.Background()
	start := time.Now()

	n, err := s.service.EnqueueEndedCampaigns(ctx, start.UTC())
	if err != nil {
		zap.L().Error("[Scheduler] failed enqueue ended campaigns", zap.Error(err))
		return
	}

	zap.L().Info("[Scheduler] finished settlement sweep",
		zap.Int("enqueued", n),
		zap.Duration("duration", time.Since(start)),
	)
}
