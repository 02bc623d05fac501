package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/orgtrain-api/internal/models"
	"github.com/noah-isme/orgtrain-api/pkg/jobs"
)

// NotificationJobType identifies approval notification jobs on the queue.
const NotificationJobType = "approval.notification"

// ApprovalEventType names the notification produced by a decision.
type ApprovalEventType string

const (
	EventStepApproved        ApprovalEventType = "STEP_APPROVED"
	EventEnrollmentApproved  ApprovalEventType = "ENROLLMENT_APPROVED"
	EventEnrollmentFinalized ApprovalEventType = "ENROLLMENT_FINAL_APPROVED"
	EventEnrollmentRejected  ApprovalEventType = "ENROLLMENT_REJECTED"
)

// ApprovalEvent is the payload carried by a notification job.
type ApprovalEvent struct {
	Type         ApprovalEventType      `json:"type"`
	EnrollmentID string                 `json:"enrollmentId"`
	StepID       string                 `json:"stepId"`
	StepOrder    int                    `json:"stepOrder"`
	Decision     models.StepDecision    `json:"decision"`
	Status       models.AggregateStatus `json:"status"`
	ActorID      string                 `json:"actorId"`
	OccurredAt   time.Time              `json:"occurredAt"`
}

// EventFromDecision classifies a successful decision.
func EventFromDecision(result *models.DecisionResult, actorID string) ApprovalEvent {
	event := ApprovalEvent{
		Type:         EventStepApproved,
		EnrollmentID: result.EnrollmentID,
		StepID:       result.UpdatedStep.ID,
		StepOrder:    result.UpdatedStep.Order,
		Decision:     result.UpdatedStep.Decision,
		Status:       result.NewAggregateStatus,
		ActorID:      actorID,
		OccurredAt:   time.Now().UTC(),
	}
	if result.UpdatedStep.DecidedAt != nil {
		event.OccurredAt = *result.UpdatedStep.DecidedAt
	}
	switch result.NewAggregateStatus {
	case models.AggregateStatusFinalApproved:
		event.Type = EventEnrollmentFinalized
	case models.AggregateStatusRejected:
		event.Type = EventEnrollmentRejected
	case models.AggregateStatusApproved:
		event.Type = EventEnrollmentApproved
	}
	return event
}

type notificationDispatcher interface {
	TryEnqueue(job jobs.Job) error
}

// NotificationService publishes decision events to the background queue.
type NotificationService struct {
	queue   notificationDispatcher
	metrics *MetricsService
	logger  *zap.Logger
}

// NewNotificationService constructs NotificationService.
func NewNotificationService(queue notificationDispatcher, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{queue: queue, metrics: metrics, logger: logger}
}

// PublishDecision enqueues the event for a decision without blocking the caller. A full queue
// drops the notification; the decision itself is already committed.
func (s *NotificationService) PublishDecision(result *models.DecisionResult, actorID string) {
	if s == nil || s.queue == nil || result == nil {
		return
	}
	event := EventFromDecision(result, actorID)
	job := jobs.Job{
		ID:      fmt.Sprintf("%s:%s", event.EnrollmentID, event.StepID),
		Type:    NotificationJobType,
		Payload: event,
	}
	if err := s.queue.TryEnqueue(job); err != nil {
		s.metrics.RecordNotification("dropped")
		s.logger.Warn("approval notification dropped",
			zap.String("enrollment_id", event.EnrollmentID),
			zap.String("event", string(event.Type)),
			zap.Error(err))
	}
}

// NotificationWorker delivers approval events by recording them in the audit trail.
type NotificationWorker struct {
	audit   auditWriter
	metrics *MetricsService
	logger  *zap.Logger
}

// NewNotificationWorker constructs a worker.
func NewNotificationWorker(audit auditWriter, metrics *MetricsService, logger *zap.Logger) *NotificationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationWorker{audit: audit, metrics: metrics, logger: logger}
}

// Handle processes a queue job.
func (w *NotificationWorker) Handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(ApprovalEvent)
	if !ok {
		w.metrics.RecordNotification("failed")
		w.logger.Error("unexpected notification payload", zap.String("job_id", job.ID), zap.String("type", fmt.Sprintf("%T", job.Payload)))
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode approval event: %w", err)
	}
	entry := &models.AuditLog{
		Action:     auditActionForEvent(event.Type),
		Resource:   "enrollment",
		ResourceID: &event.EnrollmentID,
		NewValues:  payload,
	}
	if event.ActorID != "" {
		actor := event.ActorID
		entry.UserID = &actor
	}
	if err := w.audit.CreateAuditLog(ctx, entry); err != nil {
		w.metrics.RecordNotification("failed")
		return fmt.Errorf("record approval event: %w", err)
	}

	w.metrics.RecordNotification("delivered")
	w.logger.Info("approval event delivered",
		zap.String("event", string(event.Type)),
		zap.String("enrollment_id", event.EnrollmentID),
		zap.Int("step_order", event.StepOrder),
		zap.Int("attempt", job.Attempt))
	return nil
}

func auditActionForEvent(t ApprovalEventType) string {
	switch t {
	case EventEnrollmentFinalized:
		return models.AuditActionEnrollmentFinal
	case EventEnrollmentRejected:
		return models.AuditActionEnrollmentRejected
	default:
		return models.AuditActionStepNotified
	}
}
