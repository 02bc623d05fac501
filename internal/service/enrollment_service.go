package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/orgtrain-api/internal/dto"
	"github.com/noah-isme/orgtrain-api/internal/models"
	"github.com/noah-isme/orgtrain-api/internal/repository"
	appErrors "github.com/noah-isme/orgtrain-api/pkg/errors"
)

type enrollmentRepository interface {
	CreateWithChain(ctx context.Context, enrollment *models.CourseEnrollment, steps []models.ApprovalStep) error
	FindByID(ctx context.Context, id string) (*models.CourseEnrollment, error)
	ExistsForUser(ctx context.Context, courseTabID, userID string) (bool, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.CourseEnrollment, int, error)
}

type courseTabReader interface {
	FindByID(ctx context.Context, id string) (*models.CourseTab, error)
	ListDefinitions(ctx context.Context, courseTabID string) ([]models.StepDefinition, error)
}

type chainReader interface {
	LoadSteps(ctx context.Context, enrollmentID string) ([]models.ApprovalStep, error)
}

// EnrollmentService registers users to course tabs and instantiates their approval chains.
type EnrollmentService struct {
	repo      enrollmentRepository
	tabs      courseTabReader
	steps     chainReader
	audit     auditWriter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, tabs courseTabReader, steps chainReader, audit auditWriter, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, tabs: tabs, steps: steps, audit: audit, validator: validate, logger: logger}
}

// Enroll creates the enrollment and its snapshot chain in one transaction.
func (s *EnrollmentService) Enroll(ctx context.Context, req dto.CreateEnrollmentRequest, actorID string) (*models.CourseEnrollmentDetail, error) {
	req.CourseTabID = strings.TrimSpace(req.CourseTabID)
	req.UserID = strings.TrimSpace(req.UserID)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	if _, err := s.tabs.FindByID(ctx, req.CourseTabID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course tab not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course tab")
	}

	exists, err := s.repo.ExistsForUser(ctx, req.CourseTabID, req.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "user is already enrolled in this course tab")
	}

	defs, err := s.tabs.ListDefinitions(ctx, req.CourseTabID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load step definitions")
	}
	chain, err := BuildChain("", defs)
	if err != nil {
		return nil, err
	}

	enrollment := &models.CourseEnrollment{
		CourseTabID:     req.CourseTabID,
		UserID:          req.UserID,
		AggregateStatus: ResolveAggregate(chain),
	}
	if err := s.repo.CreateWithChain(ctx, enrollment, chain); err != nil {
		if errors.Is(err, repository.ErrDuplicateEnrollment) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "user is already enrolled in this course tab")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}

	s.writeAudit(ctx, actorID, enrollment.ID, map[string]interface{}{
		"courseTabId": enrollment.CourseTabID,
		"userId":      enrollment.UserID,
		"steps":       len(chain),
		"status":      enrollment.AggregateStatus,
	})
	s.logger.Info("enrollment created",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("course_tab_id", enrollment.CourseTabID),
		zap.String("user_id", enrollment.UserID),
		zap.Int("steps", len(chain)))

	return &models.CourseEnrollmentDetail{CourseEnrollment: *enrollment, Steps: chain}, nil
}

// Get returns the enrollment with its chain.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.CourseEnrollmentDetail, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	steps, err := s.steps.LoadSteps(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval steps")
	}
	if steps == nil {
		steps = []models.ApprovalStep{}
	}
	return &models.CourseEnrollmentDetail{CourseEnrollment: *enrollment, Steps: steps}, nil
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.CourseEnrollment, *models.Pagination, error) {
	if filter.Status != "" {
		filter.Status = models.AggregateStatus(strings.ToUpper(string(filter.Status)))
		if !validAggregateStatus(filter.Status) {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown aggregate status")
		}
	}
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 20
	}
	if enrollments == nil {
		enrollments = []models.CourseEnrollment{}
	}
	return enrollments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

func (s *EnrollmentService) writeAudit(ctx context.Context, actorID, enrollmentID string, newValues interface{}) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{Action: models.AuditActionEnrollmentCreate, Resource: "enrollment", ResourceID: &enrollmentID}
	if actorID != "" {
		entry.UserID = &actorID
	}
	entry.NewValues, _ = json.Marshal(newValues)
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to write enrollment audit log", zap.String("enrollment_id", enrollmentID), zap.Error(err))
	}
}

func validAggregateStatus(status models.AggregateStatus) bool {
	switch status {
	case models.AggregateStatusPending, models.AggregateStatusInProgress, models.AggregateStatusRejected,
		models.AggregateStatusApproved, models.AggregateStatusFinalApproved:
		return true
	}
	return false
}
