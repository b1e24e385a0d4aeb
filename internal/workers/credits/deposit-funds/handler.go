// internal/workers/credits/deposit-funds/handler.go
package depositfunds

import (
	"context"
	"encoding/json"

	apperrors "placement-broker/internal/common/errors"
	"placement-broker/internal/common/logger"
	"placement-broker/internal/common/metrics"
	"placement-broker/internal/common/validation"
	"placement-broker/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/shopspring/decimal"
)

const (
	TaskType = "deposit-funds"
)

var schema = validation.MustCompile(TaskType, inputSchema)

// Depositor credits confirmed payments. Implemented by *ledger.Ledger.
type Depositor interface {
	Deposit(ctx context.Context, agencyID string, amount decimal.Decimal, currency, reference, note string) (*models.AgencyCredits, error)
}

type Handler struct {
	config       *Config
	ledger       Depositor
	logger       logger.Logger
	errorHandler *apperrors.ErrorHandler
}

func NewHandler(config *Config, ledger Depositor, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		ledger:       ledger,
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

// Execute applies a confirmed payment. Jobs are delivered at least once, so
// a replayed payment reference completes with the unchanged balance.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	amount, err := decimal.NewFromString(input.Amount)
	if err != nil {
		return nil, apperrors.NewValidationError("amount", err.Error())
	}

	credits, err := h.ledger.Deposit(ctx, input.AgencyID, amount, input.Currency, input.PaymentReference, input.Note)
	if err != nil {
		return nil, err
	}

	h.logger.Info("deposit applied", map[string]interface{}{
		"agencyId":  input.AgencyID,
		"reference": input.PaymentReference,
		"available": credits.AvailableCredits.StringFixed(2),
	})

	return &Output{
		AvailableCredits: credits.AvailableCredits.StringFixed(2),
		TotalCredits:     credits.TotalCredits.StringFixed(2),
		Currency:         credits.Currency,
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
