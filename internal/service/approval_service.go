package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/orgtrain-api/internal/models"
	"github.com/noah-isme/orgtrain-api/internal/repository"
	appErrors "github.com/noah-isme/orgtrain-api/pkg/errors"
)

type approvalStepStore interface {
	LoadSteps(ctx context.Context, enrollmentID string) ([]models.ApprovalStep, error)
	CreateChain(ctx context.Context, enrollmentID string, steps []models.ApprovalStep, status models.AggregateStatus) error
	CompareAndSetStep(ctx context.Context, t repository.StepTransition, verify repository.StepVerifier, resolve repository.AggregateResolver) (*repository.StepTransitionResult, error)
}

type stepDefinitionReader interface {
	ListDefinitions(ctx context.Context, courseTabID string) ([]models.StepDefinition, error)
}

type enrollmentReader interface {
	FindByID(ctx context.Context, id string) (*models.CourseEnrollment, error)
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// DecideRequest carries an approver's decision on one step.
type DecideRequest struct {
	EnrollmentID string            `validate:"required"`
	StepID       string            `validate:"required"`
	PrincipalID  string            `validate:"required"`
	Action       models.StepAction `validate:"required,oneof=APPROVE REJECT"`
	Comment      *string           `validate:"omitempty,max=2000"`
}

// ApprovalService runs the sequential approval workflow of enrollments.
type ApprovalService struct {
	steps       approvalStepStore
	definitions stepDefinitionReader
	enrollments enrollmentReader
	resolver    RoleResolver
	audit       auditWriter
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewApprovalService constructs the workflow service.
func NewApprovalService(steps approvalStepStore, definitions stepDefinitionReader, enrollments enrollmentReader, resolver RoleResolver, audit auditWriter, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *ApprovalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ApprovalService{
		steps:       steps,
		definitions: definitions,
		enrollments: enrollments,
		resolver:    resolver,
		audit:       audit,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// InstantiateChain snapshots the course tab's definitions into the enrollment's step list.
func (s *ApprovalService) InstantiateChain(ctx context.Context, courseTabID, enrollmentID, actorID string) ([]models.ApprovalStep, error) {
	enrollment, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if courseTabID == "" {
		courseTabID = enrollment.CourseTabID
	}
	if enrollment.CourseTabID != courseTabID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "enrollment belongs to another course tab")
	}

	defs, err := s.definitions.ListDefinitions(ctx, courseTabID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load step definitions")
	}
	chain, err := BuildChain(enrollmentID, defs)
	if err != nil {
		return nil, err
	}
	status := ResolveAggregate(chain)

	if err := s.steps.CreateChain(ctx, enrollmentID, chain, status); err != nil {
		switch {
		case errors.Is(err, repository.ErrChainExists):
			return nil, appErrors.Clone(appErrors.ErrConflict, "approval chain already instantiated")
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to instantiate approval chain")
	}

	s.recordAudit(ctx, actorID, models.AuditActionChainInstantiate, enrollmentID, nil, map[string]interface{}{
		"courseTabId": courseTabID,
		"steps":       len(chain),
		"status":      status,
	})
	s.logger.Info("approval chain instantiated",
		zap.String("enrollment_id", enrollmentID),
		zap.String("course_tab_id", courseTabID),
		zap.Int("steps", len(chain)),
		zap.String("status", string(status)))
	return chain, nil
}

// Decide applies an approve or reject decision to one step of an enrollment's chain.
func (s *ApprovalService) Decide(ctx context.Context, req DecideRequest) (*models.DecisionResult, error) {
	req.Action = models.StepAction(strings.ToUpper(strings.TrimSpace(string(req.Action))))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}
	decision, _ := req.Action.Decision()

	steps, err := s.loadChain(ctx, req.EnrollmentID)
	if err != nil {
		return nil, err
	}
	idx := indexOfStep(steps, req.StepID)
	if idx < 0 {
		s.metrics.RecordGateDenial(models.GateDenialStepNotFound)
		return nil, GateError(models.GateDenialStepNotFound)
	}

	actor, err := s.resolveActor(ctx, req.PrincipalID, steps[idx:idx+1])
	if err != nil {
		return nil, err
	}
	if gate := CanAct(steps, req.StepID, actor); !gate.Allowed {
		return nil, s.deny(req, gate.Reason)
	}

	start := time.Now()
	var lockedDenial models.GateDenial
	result, err := s.steps.CompareAndSetStep(ctx, repository.StepTransition{
		EnrollmentID: req.EnrollmentID,
		StepID:       req.StepID,
		Expected:     models.StepDecisionPending,
		Decision:     decision,
		DecidedBy:    req.PrincipalID,
		Clock:        s.now,
		Comment:      trimComment(req.Comment),
	}, func(locked []models.ApprovalStep) error {
		// The unlocked gate saw the target pending, so any decision found now won the race.
		if i := indexOfStep(locked, req.StepID); i >= 0 && locked[i].Decision != models.StepDecisionPending {
			lockedDenial = models.GateDenialAlreadyDecided
			return GateError(lockedDenial)
		}
		if gate := CanAct(locked, req.StepID, actor); !gate.Allowed {
			lockedDenial = gate.Reason
			return GateError(gate.Reason)
		}
		return nil
	}, ResolveAggregate)
	if err != nil {
		if lockedDenial != models.GateDenialNone {
			if lockedDenial == models.GateDenialAlreadyDecided {
				s.metrics.RecordCASConflict()
			}
			return nil, s.deny(req, lockedDenial)
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record decision")
	}
	if !result.Applied {
		s.metrics.RecordCASConflict()
		return nil, s.deny(req, models.GateDenialAlreadyDecided)
	}

	s.metrics.RecordDecision(decision, result.Status, time.Since(start))
	action := models.AuditActionStepApprove
	if decision == models.StepDecisionRejected {
		action = models.AuditActionStepReject
	}
	s.recordAudit(ctx, req.PrincipalID, action, req.EnrollmentID,
		map[string]interface{}{"stepId": req.StepID, "decision": models.StepDecisionPending, "status": result.PreviousStatus},
		map[string]interface{}{"stepId": req.StepID, "decision": decision, "status": result.Status, "comment": result.Step.Comment},
	)
	s.logger.Info("approval step decided",
		zap.String("enrollment_id", req.EnrollmentID),
		zap.String("step_id", req.StepID),
		zap.Int("order", result.Step.Order),
		zap.String("actor_id", req.PrincipalID),
		zap.String("decision", string(decision)),
		zap.String("status", string(result.Status)))

	return &models.DecisionResult{
		EnrollmentID:       req.EnrollmentID,
		NewAggregateStatus: result.Status,
		PreviousStatus:     result.PreviousStatus,
		UpdatedStep:        result.Step,
	}, nil
}

// Steps returns the enrollment's chain with the principal's gate evaluation per step.
func (s *ApprovalService) Steps(ctx context.Context, enrollmentID, principalID string) ([]models.StepView, models.AggregateStatus, error) {
	steps, err := s.loadChain(ctx, enrollmentID)
	if err != nil {
		return nil, "", err
	}
	actor, err := s.resolveActor(ctx, principalID, steps)
	if err != nil {
		return nil, "", err
	}
	views := make([]models.StepView, 0, len(steps))
	for _, step := range steps {
		views = append(views, models.StepView{ApprovalStep: step, Gate: CanAct(steps, step.ID, actor)})
	}
	return views, ResolveAggregate(steps), nil
}

// AuthorizeView admits the enrolled user, anyone who decided one of its steps and anyone holding
// the authority a step requires. Everyone else gets FORBIDDEN.
func (s *ApprovalService) AuthorizeView(ctx context.Context, enrollmentID, principalID string) error {
	enrollment, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if principalID != "" && enrollment.UserID == principalID {
		return nil
	}
	steps, err := s.steps.LoadSteps(ctx, enrollmentID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval steps")
	}
	for _, step := range steps {
		if step.DecidedBy != nil && *step.DecidedBy == principalID {
			return nil
		}
	}
	actor, err := s.resolveActor(ctx, principalID, steps)
	if err != nil {
		return err
	}
	for _, step := range steps {
		approver := step.Approver()
		if approver.Kind == models.ApproverKindHead && actor.HeadAuthority {
			return nil
		}
		if approver.Kind == models.ApproverKindRole && actor.HasRole(approver.RoleID) {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrForbidden, "not a participant of this enrollment")
}

// Chain returns the enrollment's persisted steps ordered by step order.
func (s *ApprovalService) Chain(ctx context.Context, enrollmentID string) ([]models.ApprovalStep, error) {
	return s.loadChain(ctx, enrollmentID)
}

// loadChain reads the step list, distinguishing an unknown enrollment from an empty chain.
func (s *ApprovalService) loadChain(ctx context.Context, enrollmentID string) ([]models.ApprovalStep, error) {
	steps, err := s.steps.LoadSteps(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval steps")
	}
	if len(steps) > 0 {
		return steps, nil
	}
	if _, err := s.enrollments.FindByID(ctx, enrollmentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return []models.ApprovalStep{}, nil
}

// resolveActor queries head authority and each distinct role required by the given steps.
func (s *ApprovalService) resolveActor(ctx context.Context, principalID string, steps []models.ApprovalStep) (models.ApprovalActor, error) {
	actor := models.ApprovalActor{PrincipalID: principalID, Roles: map[string]struct{}{}}
	checked := make(map[string]struct{}, len(steps))
	needHead := false
	for _, step := range steps {
		approver := step.Approver()
		if approver.Kind == models.ApproverKindHead {
			needHead = true
			continue
		}
		role := normalizeRole(approver.RoleID)
		if role == "" {
			continue
		}
		if _, seen := checked[role]; seen {
			continue
		}
		checked[role] = struct{}{}
		ok, err := s.resolver.HasRole(ctx, principalID, role)
		if err != nil {
			return actor, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve role")
		}
		if ok {
			actor.Roles[role] = struct{}{}
		}
	}
	if needHead {
		head, err := s.resolver.HasHeadApprovalAuthority(ctx, principalID)
		if err != nil {
			return actor, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve head authority")
		}
		actor.HeadAuthority = head
	}
	return actor, nil
}

func (s *ApprovalService) deny(req DecideRequest, reason models.GateDenial) error {
	s.metrics.RecordGateDenial(reason)
	s.logger.Debug("approval action denied",
		zap.String("enrollment_id", req.EnrollmentID),
		zap.String("step_id", req.StepID),
		zap.String("actor_id", req.PrincipalID),
		zap.String("reason", string(reason)))
	return GateError(reason)
}

func (s *ApprovalService) recordAudit(ctx context.Context, actorID, action, enrollmentID string, oldValues, newValues interface{}) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		Action:     action,
		Resource:   "enrollment",
		ResourceID: &enrollmentID,
	}
	if actorID != "" {
		entry.UserID = &actorID
	}
	if oldValues != nil {
		entry.OldValues, _ = json.Marshal(oldValues)
	}
	if newValues != nil {
		entry.NewValues, _ = json.Marshal(newValues)
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to write approval audit log", zap.String("enrollment_id", enrollmentID), zap.Error(err))
	}
}

func trimComment(comment *string) *string {
	if comment == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*comment)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
