package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/orgtrain-api/internal/dto"
	"github.com/noah-isme/orgtrain-api/internal/models"
	appErrors "github.com/noah-isme/orgtrain-api/pkg/errors"
	"github.com/noah-isme/orgtrain-api/pkg/response"
)

type userRoleService interface {
	List(ctx context.Context, userID string) ([]models.UserRoleGrant, error)
	Grant(ctx context.Context, userID string, req dto.GrantRoleRequest, actorID string) (*models.UserRoleGrant, error)
	Revoke(ctx context.Context, userID, role, actorID string) error
}

// UserRoleHandler manages approval roles assigned to users.
type UserRoleHandler struct {
	service userRoleService
}

// NewUserRoleHandler constructs UserRoleHandler.
func NewUserRoleHandler(svc userRoleService) *UserRoleHandler {
	return &UserRoleHandler{service: svc}
}

// List godoc
// @Summary List approval roles of a user
// @Tags Roles
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /users/{id}/roles [get]
func (h *UserRoleHandler) List(c *gin.Context) {
	grants, err := h.service.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, grants, nil)
}

// Grant godoc
// @Summary Grant an approval role
// @Tags Roles
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Param payload body dto.GrantRoleRequest true "Role"
// @Success 201 {object} response.Envelope
// @Router /users/{id}/roles [post]
func (h *UserRoleHandler) Grant(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.GrantRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid role payload"))
		return
	}
	grant, err := h.service.Grant(c.Request.Context(), c.Param("id"), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, grant)
}

// Revoke godoc
// @Summary Revoke an approval role
// @Tags Roles
// @Security BearerAuth
// @Param id path string true "User ID"
// @Param role path string true "Role"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /users/{id}/roles/{role} [delete]
func (h *UserRoleHandler) Revoke(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	if err := h.service.Revoke(c.Request.Context(), c.Param("id"), c.Param("role"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
