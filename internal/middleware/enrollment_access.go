package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/orgtrain-api/internal/models"
	appErrors "github.com/noah-isme/orgtrain-api/pkg/errors"
	"github.com/noah-isme/orgtrain-api/pkg/response"
)

// EnrollmentViewer decides whether a principal may read an enrollment's chain.
type EnrollmentViewer interface {
	AuthorizeView(ctx context.Context, enrollmentID, principalID string) error
}

// EnrollmentParticipant guards routes keyed by an enrollment :id. Admins pass; every other
// principal must be a participant of the enrollment.
func EnrollmentParticipant(viewer EnrollmentViewer) gin.HandlerFunc {
	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			return
		}
		claims, ok := claimsValue.(*models.JWTClaims)
		if !ok || claims.UserID == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			return
		}
		if claims.Role == models.RoleAdmin || claims.Role == models.RoleSuperAdmin {
			c.Next()
			return
		}
		if err := viewer.AuthorizeView(c.Request.Context(), c.Param("id"), claims.UserID); err != nil {
			response.Error(c, err)
			return
		}
		c.Next()
	}
}
