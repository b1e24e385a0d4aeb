// internal/common/camunda/worker.go
package camunda

import (
	"time"

	"placement-broker/internal/common/config"
	"placement-broker/internal/common/logger"
	"placement-broker/internal/common/metrics"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// JobHandler processes one job and is responsible for completing or failing it.
type JobHandler func(client worker.JobClient, job entities.Job)

// CamundaWorker is one open job subscription for a task type.
type CamundaWorker struct {
	worker   worker.JobWorker
	logger   logger.Logger
	taskType string
}

// NewWorker opens a job worker for taskType. The handler is wrapped with the
// active-jobs gauge and the duration histogram.
func NewWorker(client zbc.Client, taskType string, cfg config.WorkerConfig, handler JobHandler, log logger.Logger) *CamundaWorker {
	log = log.WithFields(map[string]interface{}{"taskType": taskType})

	builder := client.NewJobWorker().
		JobType(taskType).
		Handler(instrument(taskType, handler)).
		MaxJobsActive(cfg.MaxJobsActive).
		Name(taskType)
	if cfg.Timeout > 0 {
		builder = builder.Timeout(time.Duration(cfg.Timeout) * time.Millisecond)
	}

	w := &CamundaWorker{
		worker:   builder.Open(),
		logger:   log,
		taskType: taskType,
	}
	log.Info("worker started", map[string]interface{}{"maxJobsActive": cfg.MaxJobsActive})
	return w
}

func instrument(taskType string, handler JobHandler) worker.JobHandler {
	return func(client worker.JobClient, job entities.Job) {
		metrics.WorkerJobsActive.WithLabelValues(taskType).Inc()
		start := time.Now()
		defer func() {
			metrics.WorkerJobsActive.WithLabelValues(taskType).Dec()
			metrics.WorkerJobDuration.WithLabelValues(taskType).Observe(time.Since(start).Seconds())
		}()
		handler(client, job)
	}
}

// Stop closes the subscription and waits for in-flight jobs. The shared
// Zeebe client is closed by its owner.
func (w *CamundaWorker) Stop() {
	w.logger.Info("stopping worker", nil)
	w.worker.Close()
	w.worker.AwaitClose()
}
