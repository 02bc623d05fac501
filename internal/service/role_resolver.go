package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/orgtrain-api/pkg/errors"
)

const (
	roleCacheKeyPrefix      = "approval:roles:"
	roleGenerationKeyPrefix = "approval:role-gen:"
	roleGenerationTTLFactor = 2
)

type roleLister interface {
	ListRoles(ctx context.Context, userID string) ([]string, error)
}

// RoleResolver answers authority questions for approval actions.
type RoleResolver interface {
	HasRole(ctx context.Context, principalID, roleID string) (bool, error)
	HasHeadApprovalAuthority(ctx context.Context, principalID string) (bool, error)
}

// CachedRoleResolver resolves principal roles from user_roles through a Redis read-through cache.
// Head authority is granted by holding any of the configured head roles.
type CachedRoleResolver struct {
	repo      roleLister
	cache     *CacheService
	headRoles map[string]struct{}
	ttl       time.Duration
	logger    *zap.Logger
}

// NewCachedRoleResolver constructs the resolver.
func NewCachedRoleResolver(repo roleLister, cache *CacheService, headRoles []string, ttl time.Duration, logger *zap.Logger) *CachedRoleResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	heads := make(map[string]struct{}, len(headRoles))
	for _, role := range headRoles {
		if role = normalizeRole(role); role != "" {
			heads[role] = struct{}{}
		}
	}
	return &CachedRoleResolver{repo: repo, cache: cache, headRoles: heads, ttl: ttl, logger: logger}
}

// Roles returns the set of roles held by the principal.
func (r *CachedRoleResolver) Roles(ctx context.Context, principalID string) (map[string]struct{}, error) {
	key := roleCacheKey(principalID, r.generation(ctx, principalID))
	var cached []string
	hit, err := r.cache.Get(ctx, key, &cached)
	if err != nil {
		r.logger.Debug("role cache unavailable, reading database", zap.String("principal_id", principalID), zap.Error(err))
	}
	if hit {
		return toRoleSet(cached), nil
	}

	roles, err := r.repo.ListRoles(ctx, principalID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve principal roles")
	}
	if roles == nil {
		roles = []string{}
	}
	_ = r.cache.Set(ctx, key, roles, r.ttl)
	return toRoleSet(roles), nil
}

// HasRole reports whether the principal holds the role.
func (r *CachedRoleResolver) HasRole(ctx context.Context, principalID, roleID string) (bool, error) {
	roles, err := r.Roles(ctx, principalID)
	if err != nil {
		return false, err
	}
	_, ok := roles[normalizeRole(roleID)]
	return ok, nil
}

// HasHeadApprovalAuthority reports whether the principal holds any head role.
func (r *CachedRoleResolver) HasHeadApprovalAuthority(ctx context.Context, principalID string) (bool, error) {
	roles, err := r.Roles(ctx, principalID)
	if err != nil {
		return false, err
	}
	for role := range roles {
		if _, ok := r.headRoles[role]; ok {
			return true, nil
		}
	}
	return false, nil
}

// Invalidate moves the principal to a fresh cache generation and drops the current entry. A
// lookup that read the database before the change writes back under the old generation, which
// no later lookup reads.
func (r *CachedRoleResolver) Invalidate(ctx context.Context, principalID string) {
	previous := r.generation(ctx, principalID)
	if err := r.cache.Set(ctx, roleGenerationKey(principalID), uuid.NewString(), r.ttl*roleGenerationTTLFactor); err != nil {
		r.logger.Warn("failed to rotate role cache generation", zap.String("principal_id", principalID), zap.Error(err))
	}
	if err := r.cache.Delete(ctx, roleCacheKey(principalID, previous)); err != nil {
		r.logger.Warn("failed to invalidate role cache", zap.String("principal_id", principalID), zap.Error(err))
	}
}

// generation returns the principal's current cache generation, empty until the first invalidation.
func (r *CachedRoleResolver) generation(ctx context.Context, principalID string) string {
	var gen string
	if hit, _ := r.cache.Get(ctx, roleGenerationKey(principalID), &gen); !hit {
		return ""
	}
	return gen
}

func roleCacheKey(principalID, generation string) string {
	if generation == "" {
		return fmt.Sprintf("%s%s", roleCacheKeyPrefix, principalID)
	}
	return fmt.Sprintf("%s%s:%s", roleCacheKeyPrefix, principalID, generation)
}

func roleGenerationKey(principalID string) string {
	return fmt.Sprintf("%s%s", roleGenerationKeyPrefix, principalID)
}

func normalizeRole(role string) string {
	return strings.ToUpper(strings.TrimSpace(role))
}

func toRoleSet(roles []string) map[string]struct{} {
	set := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if role = normalizeRole(role); role != "" {
			set[role] = struct{}{}
		}
	}
	return set
}
