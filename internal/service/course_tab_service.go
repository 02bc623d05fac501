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
	appErrors "github.com/noah-isme/orgtrain-api/pkg/errors"
)

type courseTabStore interface {
	Create(ctx context.Context, tab *models.CourseTab) error
	FindByID(ctx context.Context, id string) (*models.CourseTab, error)
	List(ctx context.Context, courseID string) ([]models.CourseTab, error)
	ListDefinitions(ctx context.Context, courseTabID string) ([]models.StepDefinition, error)
	ReplaceDefinitions(ctx context.Context, courseTabID string, defs []models.StepDefinition) error
}

// CourseTabService manages course tabs and their approval chain definitions.
type CourseTabService struct {
	repo      courseTabStore
	audit     auditWriter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseTabService constructs CourseTabService.
func NewCourseTabService(repo courseTabStore, audit auditWriter, validate *validator.Validate, logger *zap.Logger) *CourseTabService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseTabService{repo: repo, audit: audit, validator: validate, logger: logger}
}

// Create stores a new course tab with an empty chain definition.
func (s *CourseTabService) Create(ctx context.Context, req dto.CreateCourseTabRequest, actorID string) (*models.CourseTab, error) {
	req.CourseID = strings.TrimSpace(req.CourseID)
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course tab payload")
	}
	tab := &models.CourseTab{CourseID: req.CourseID, Name: req.Name}
	if err := s.repo.Create(ctx, tab); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course tab")
	}
	s.writeAudit(ctx, actorID, models.AuditActionCourseTabCreate, tab.ID, tab)
	return tab, nil
}

// Get returns the tab with its definitions ordered by step order.
func (s *CourseTabService) Get(ctx context.Context, id string) (*models.CourseTabDetail, error) {
	tab, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	defs, err := s.repo.ListDefinitions(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load step definitions")
	}
	if defs == nil {
		defs = []models.StepDefinition{}
	}
	return &models.CourseTabDetail{CourseTab: *tab, Steps: defs}, nil
}

// List returns course tabs, optionally of one course.
func (s *CourseTabService) List(ctx context.Context, courseID string) ([]models.CourseTab, error) {
	tabs, err := s.repo.List(ctx, strings.TrimSpace(courseID))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list course tabs")
	}
	return tabs, nil
}

// Definitions returns the tab's step definitions.
func (s *CourseTabService) Definitions(ctx context.Context, id string) ([]models.StepDefinition, error) {
	detail, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return detail.Steps, nil
}

// ReplaceDefinitions validates and stores a new chain definition. Existing enrollments keep their snapshot.
func (s *CourseTabService) ReplaceDefinitions(ctx context.Context, id string, req dto.ReplaceStepDefinitionsRequest, actorID string) ([]models.StepDefinition, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid step definitions payload")
	}
	defs := make([]models.StepDefinition, 0, len(req.Steps))
	for _, in := range req.Steps {
		def := models.StepDefinition{Order: in.Order, IsHeadApproval: in.IsHeadApproval, IsFinalApproval: in.IsFinalApproval}
		if in.RequiredRole != nil {
			if role := strings.TrimSpace(*in.RequiredRole); role != "" {
				def.RequiredRole = &role
			}
		}
		defs = append(defs, def)
	}
	if err := ValidateStepDefinitions(defs); err != nil {
		return nil, err
	}

	previous, err := s.repo.ListDefinitions(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load step definitions")
	}
	if err := s.repo.ReplaceDefinitions(ctx, id, defs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course tab not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store step definitions")
	}

	s.writeAuditDiff(ctx, actorID, models.AuditActionChainDefine, id, previous, defs)
	s.logger.Info("approval chain defined", zap.String("course_tab_id", id), zap.Int("steps", len(defs)))
	return defs, nil
}

func (s *CourseTabService) find(ctx context.Context, id string) (*models.CourseTab, error) {
	tab, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course tab not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course tab")
	}
	return tab, nil
}

func (s *CourseTabService) writeAudit(ctx context.Context, actorID, action, tabID string, newValues interface{}) {
	s.writeAuditDiff(ctx, actorID, action, tabID, nil, newValues)
}

func (s *CourseTabService) writeAuditDiff(ctx context.Context, actorID, action, tabID string, oldValues, newValues interface{}) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{Action: action, Resource: "course_tab", ResourceID: &tabID}
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
		s.logger.Warn("failed to write course tab audit log", zap.String("course_tab_id", tabID), zap.Error(err))
	}
}
