// internal/workers/placement/create-placement/handler.go
package createplacement

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
	TaskType = "create-placement"
)

var schema = validation.MustCompile(TaskType, inputSchema)

// PlacementCreator opens placements. Implemented by *workflow.Service.
type PlacementCreator interface {
	CreatePlacement(ctx context.Context, req workflow.CreatePlacementRequest) (*models.Placement, error)
}

type Handler struct {
	config       *Config
	placements   PlacementCreator
	logger       logger.Logger
	errorHandler *apperrors.ErrorHandler
}

func NewHandler(config *Config, placements PlacementCreator, log logger.Logger) *Handler {
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

// Execute opens the placement. Balance and availability failures come back
// as domain errors the process model branches on.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	placement, err := h.placements.CreatePlacement(ctx, workflow.CreatePlacementRequest{
		AgencyID:       input.AgencyID,
		MaidID:         input.MaidID,
		SponsorID:      input.SponsorID,
		JobID:          input.JobID,
		SponsorCountry: input.SponsorCountry,
	})
	if err != nil {
		return nil, err
	}

	h.logger.Info("placement created", map[string]interface{}{
		"placementId": placement.ID,
		"agencyId":    placement.AgencyID,
		"maidId":      placement.MaidID,
	})

	return &Output{
		PlacementID:     placement.ID,
		PlacementStatus: string(placement.Status),
		FeeAmount:       placement.FeeAmount.StringFixed(2),
		Currency:        placement.Currency,
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
