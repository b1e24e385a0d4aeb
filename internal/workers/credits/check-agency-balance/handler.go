// internal/workers/credits/check-agency-balance/handler.go
package checkagencybalance

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"placement-broker/internal/balancegate"
	apperrors "placement-broker/internal/common/errors"
	"placement-broker/internal/common/logger"
	"placement-broker/internal/common/metrics"
	"placement-broker/internal/common/validation"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "check-agency-balance"
)

var schema = validation.MustCompile(TaskType, inputSchema)

// BalanceChecker is the read-only balance gate.
type BalanceChecker interface {
	CheckBalance(ctx context.Context, agencyID, sponsorCountry string) (*balancegate.BalanceCheck, error)
	CheckDefault(ctx context.Context, agencyID string) (*balancegate.BalanceCheck, error)
}

type Handler struct {
	config       *Config
	balance      BalanceChecker
	logger       logger.Logger
	errorHandler *apperrors.ErrorHandler
}

func NewHandler(config *Config, balance BalanceChecker, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		balance:      balance,
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

// Execute reports whether the agency can afford the placement fee. An
// insufficient balance is a normal outcome here, not a job failure; the
// process gateway branches on Sufficient.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	var (
		check *balancegate.BalanceCheck
		err   error
	)
	if strings.TrimSpace(input.SponsorCountry) == "" {
		check, err = h.balance.CheckDefault(ctx, input.AgencyID)
	} else {
		check, err = h.balance.CheckBalance(ctx, input.AgencyID, input.SponsorCountry)
		var unknown *apperrors.UnknownCountryError
		if errors.As(err, &unknown) {
			h.logger.Warn("no fee rule for sponsor country, using default fee", map[string]interface{}{
				"country": unknown.Country,
			})
			check, err = h.balance.CheckDefault(ctx, input.AgencyID)
		}
	}
	if err != nil {
		return nil, err
	}

	return &Output{
		Sufficient:      check.Sufficient,
		RequiredAmount:  check.Required.StringFixed(2),
		AvailableAmount: check.Available.StringFixed(2),
		Currency:        check.Currency,
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
