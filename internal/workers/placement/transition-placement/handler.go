// internal/workers/placement/transition-placement/handler.go
package transitionplacement

import (
	"context"
	"encoding/json"

	apperrors "placement-broker/internal/common/errors"
	"placement-broker/internal/common/logger"
	"placement-broker/internal/common/metrics"
	"placement-broker/internal/common/validation"
	"placement-broker/internal/models"
	"placement-broker/internal/workflow"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "transition-placement"
)

var schema = validation.MustCompile(TaskType, inputSchema)

// Transitioner applies lifecycle events. Implemented by *workflow.Service.
type Transitioner interface {
	TransitionPlacement(ctx context.Context, placementID string, event workflow.Event) (*models.Placement, error)
	ForceFail(ctx context.Context, placementID, reason string) (*models.Placement, error)
}

type Handler struct {
	config       *Config
	placements   Transitioner
	logger       logger.Logger
	errorHandler *apperrors.ErrorHandler
}

func NewHandler(config *Config, placements Transitioner, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		placements:   placements,
		logger:       log,
		errorHandler: apperrors.NewErrorHandler(log),
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.handle(ctx, job.Variables)
	if err != nil {
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(apperrors.Normalize(err).Code)).Inc()
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
}

func (h *Handler) handle(ctx context.Context, variables string) (*Output, error) {
	if err := schema.Validate(variables); err != nil {
		return nil, err
	}
	var input Input
	if err := json.Unmarshal([]byte(variables), &input); err != nil {
		return nil, apperrors.NewValidationError("", err.Error())
	}
	return h.Execute(ctx, &input)
}

// Execute applies one event. force_fail carries the operator's reason into
// the settlement note.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	var (
		placement *models.Placement
		err       error
	)
	event := workflow.Event(input.Event)
	if event == workflow.EventForceFail {
		placement, err = h.placements.ForceFail(ctx, input.PlacementID, input.Reason)
	} else {
		placement, err = h.placements.TransitionPlacement(ctx, input.PlacementID, event)
	}
	if err != nil {
		return nil, err
	}

	return &Output{
		PlacementID:     placement.ID,
		PlacementStatus: string(placement.Status),
		Substatus:       placement.Substatus,
		Version:         placement.Version,
	}, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
}
