package task

import (
	"ambassador-controlplane/services/distribution"

	"go.uber.org/fx"
)

func provideSettler(s *distribution.Service) Settler {
	return s
}

// Module serves settlement requests over HTTP.
var Module = fx.Module("task.service",
	fx.Provide(
		provideSettler,
		NewService,
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
)

// WorkerModule runs settlement jobs from the queue.
var WorkerModule = fx.Module("task.worker",
	fx.Provide(
		provideSettler,
		NewService,
	),
	fx.Invoke(RegisterHandlers),
)

// SchedulerModule completes ended campaigns and enqueues their settlement.
var SchedulerModule = fx.Module("task.scheduler",
	fx.Provide(
		NewService,
		NewScheduler,
	),
	fx.Invoke(StartScheduler),
)
