package leadnotify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"churn-calc/internal/common/config"
	"churn-calc/internal/common/errors"
	"churn-calc/internal/common/logger"
	"churn-calc/internal/common/metrics"
	"churn-calc/internal/common/observability"
	"churn-calc/internal/lead"
	"churn-calc/internal/narrative"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "lead-notify"

// Notifier is satisfied by *lead.Notifier.
type Notifier interface {
	Notify(ctx context.Context, l *lead.Lead, analysis *narrative.Analysis) (*lead.Notification, error)
}

type Handler struct {
	config       *Config
	notifier     Notifier
	logger       logger.Logger
	errorHandler *errors.ErrorHandler
	obs          *observability.Observability
	now          func() time.Time
}

type HandlerOptions struct {
	AppConfig     *config.Config
	CustomConfig  *Config
	Notifier      Notifier
	Logger        logger.Logger
	Observability *observability.Observability
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	workerConfig := createConfigFromAppConfig(opts.AppConfig, opts.CustomConfig)
	if err := workerConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", TaskType, err)
	}
	if opts.Notifier == nil {
		return nil, fmt.Errorf("%s requires a notifier", TaskType)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewStructured("info", "json")
	}
	log = log.With(map[string]interface{}{"taskType": TaskType})

	return &Handler{
		config:       workerConfig,
		notifier:     opts.Notifier,
		logger:       log,
		errorHandler: errors.NewErrorHandler(log),
		obs:          opts.Observability,
		now:          time.Now,
	}, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	h.logger.Info("Notifying lead", map[string]interface{}{
		"jobKey":             job.GetKey(),
		"processInstanceKey": job.GetProcessInstanceKey(),
		"retries":            job.GetRetries(),
	})

	input, err := h.parseInput(job)
	if err != nil {
		h.failJob(ctx, client, job, err, start)
		return
	}
	input.withProcessDefaults(job.GetProcessInstanceKey())

	output, err := h.Execute(ctx, input)
	if err != nil {
		h.failJob(ctx, client, job, err, start)
		return
	}

	h.completeJob(ctx, client, job, output, start)
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, errors.NewInvalidRequestBodyError(err)
	}

	if result := inputSchema.ValidateInput(variables); !result.Valid {
		return nil, errors.NewValidationError(result.Summary())
	}

	var input Input
	if err := json.Unmarshal([]byte(job.GetVariables()), &input); err != nil {
		return nil, errors.NewInvalidRequestBodyError(err)
	}
	return &input, nil
}

// Execute fails only when nothing was delivered. A retry after a partial
// delivery would resend the message that already went out.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	l, err := input.toLead(h.now())
	if err != nil {
		return nil, err
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}

	notification, err := h.notifier.Notify(ctx, l, input.Narrative)
	if err != nil {
		if notification == nil || (!notification.LeadEmailed && !notification.SalesAlerted) {
			return nil, err
		}
		h.logger.Warn("Completing with partial notification", map[string]interface{}{
			"leadId":       l.ID,
			"leadEmailed":  notification.LeadEmailed,
			"salesAlerted": notification.SalesAlerted,
			"error":        err.Error(),
		})
	}

	return &Output{
		LeadEmailed:    notification.LeadEmailed,
		SalesAlerted:   notification.SalesAlerted,
		EmailMessageID: notification.EmailMessageID,
		AlertMessageID: notification.AlertMessageID,
	}, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output, start time.Time) {
	cmd, err := client.NewCompleteJobCommand().JobKey(job.GetKey()).VariablesFromObject(output)
	if err != nil {
		h.logger.Error("Failed to create complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return
	}

	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("Failed to complete job", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return
	}

	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	h.obs.RecordJobProcessed(ctx, TaskType, "completed")
	h.obs.RecordJobDuration(ctx, TaskType, time.Since(start), "completed")
	h.logger.Info("Lead notified", map[string]interface{}{
		"jobKey":       job.GetKey(),
		"leadEmailed":  output.LeadEmailed,
		"salesAlerted": output.SalesAlerted,
	})
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error, start time.Time) {
	code := string(errors.Normalize(err).Code)
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, code).Inc()
	h.obs.RecordJobProcessed(ctx, TaskType, "failed")
	h.obs.RecordJobDuration(ctx, TaskType, time.Since(start), "failed")
	h.errorHandler.HandleJobError(ctx, client, job, err)
}

func (h *Handler) GetTaskType() string {
	return TaskType
}

func (h *Handler) WorkerConfig() config.WorkerConfig {
	return config.WorkerConfig{
		Enabled:       h.config.Enabled,
		MaxJobsActive: h.config.MaxJobsActive,
		Timeout:       int(h.config.Timeout / time.Millisecond),
	}
}
