package worker

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/vbud/ewb-server/internal/tasks"
)

// Scheduler 周期性地投递对账任务
type Scheduler struct {
	scheduler *asynq.Scheduler
	log       *logrus.Entry
}

// NewScheduler 创建 Scheduler 并注册 whiteboard:reconcile 任务
func NewScheduler(redisOpt asynq.RedisClientOpt, schedule string, logger *logrus.Logger) (*Scheduler, error) {
	logEntry := logger.WithField("component", "scheduler")
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Logger: logEntry})

	entryID, err := scheduler.Register(schedule, tasks.NewReconcileTask())
	if err != nil {
		return nil, fmt.Errorf("register %s with schedule %q: %w", tasks.TypeReconcile, schedule, err)
	}
	logEntry.Infof("Periodic reconcile task registered with schedule '%s' (EntryID: %s)", schedule, entryID)

	return &Scheduler{scheduler: scheduler, log: logEntry}, nil
}

// Start 运行 Scheduler，应该在单独的 goroutine 中调用
func (s *Scheduler) Start() {
	s.log.Info("Asynq scheduler starting...")
	if err := s.scheduler.Run(); err != nil {
		if !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, asynq.ErrServerClosed) {
			s.log.Errorf("Asynq scheduler Run() failed: %v", err)
			return
		}
	}
	s.log.Info("Asynq scheduler stopped.")
}

// Shutdown 停止 Scheduler
func (s *Scheduler) Shutdown() {
	s.scheduler.Shutdown()
}
