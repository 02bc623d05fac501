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

type userRoleStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	ListRoleGrants(ctx context.Context, userID string) ([]models.UserRoleGrant, error)
	GrantRole(ctx context.Context, grant *models.UserRoleGrant) (bool, error)
	RevokeRole(ctx context.Context, userID, role string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type roleCacheInvalidator interface {
	Invalidate(ctx context.Context, principalID string)
}

// UserRoleService manages the approval roles held by users.
type UserRoleService struct {
	repo      userRoleStore
	cache     roleCacheInvalidator
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserRoleService constructs UserRoleService.
func NewUserRoleService(repo userRoleStore, cache roleCacheInvalidator, validate *validator.Validate, logger *zap.Logger) *UserRoleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserRoleService{repo: repo, cache: cache, validator: validate, logger: logger}
}

// List returns the user's role grants.
func (s *UserRoleService) List(ctx context.Context, userID string) ([]models.UserRoleGrant, error) {
	if err := s.ensureUser(ctx, userID); err != nil {
		return nil, err
	}
	grants, err := s.repo.ListRoleGrants(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list roles")
	}
	if grants == nil {
		grants = []models.UserRoleGrant{}
	}
	return grants, nil
}

// Grant assigns a role to the user. Granting a held role is a no-op.
func (s *UserRoleService) Grant(ctx context.Context, userID string, req dto.GrantRoleRequest, actorID string) (*models.UserRoleGrant, error) {
	req.Role = normalizeRole(req.Role)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid role payload")
	}
	if err := s.ensureUser(ctx, userID); err != nil {
		return nil, err
	}
	grant := &models.UserRoleGrant{UserID: userID, Role: req.Role}
	if actorID != "" {
		grant.GrantedBy = &actorID
	}
	created, err := s.repo.GrantRole(ctx, grant)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to grant role")
	}
	if created {
		s.afterChange(ctx, actorID, models.AuditActionRoleGrant, userID, req.Role)
	}
	return grant, nil
}

// Revoke removes a role from the user.
func (s *UserRoleService) Revoke(ctx context.Context, userID, role, actorID string) error {
	role = normalizeRole(role)
	if role == "" {
		return appErrors.Clone(appErrors.ErrValidation, "role is required")
	}
	if err := s.repo.RevokeRole(ctx, userID, role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "role grant not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke role")
	}
	s.afterChange(ctx, actorID, models.AuditActionRoleRevoke, userID, role)
	return nil
}

func (s *UserRoleService) ensureUser(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "user id is required")
	}
	if _, err := s.repo.FindByID(ctx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return nil
}

func (s *UserRoleService) afterChange(ctx context.Context, actorID, action, userID, role string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, userID)
	}
	entry := &models.AuditLog{Action: action, Resource: "user_role", ResourceID: &userID}
	if actorID != "" {
		entry.UserID = &actorID
	}
	entry.NewValues, _ = json.Marshal(map[string]string{"role": role})
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to write role audit log", zap.String("user_id", userID), zap.Error(err))
	}
	s.logger.Info("approval role changed", zap.String("user_id", userID), zap.String("role", role), zap.String("action", action))
}
