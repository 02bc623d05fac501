package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/orgtrain-api/internal/dto"
	"github.com/noah-isme/orgtrain-api/internal/models"
	appErrors "github.com/noah-isme/orgtrain-api/pkg/errors"
	"github.com/noah-isme/orgtrain-api/pkg/response"
)

type enrollmentService interface {
	Enroll(ctx context.Context, req dto.CreateEnrollmentRequest, actorID string) (*models.CourseEnrollmentDetail, error)
	Get(ctx context.Context, id string) (*models.CourseEnrollmentDetail, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.CourseEnrollment, *models.Pagination, error)
}

type chainInstantiator interface {
	InstantiateChain(ctx context.Context, courseTabID, enrollmentID, actorID string) ([]models.ApprovalStep, error)
}

// EnrollmentHandler exposes enrollment endpoints.
type EnrollmentHandler struct {
	enrollments enrollmentService
	chains      chainInstantiator
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments enrollmentService, chains chainInstantiator) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments, chains: chains}
}

// List godoc
// @Summary List enrollments
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param courseTabId query string false "Filter by course tab"
// @Param userId query string false "Filter by user"
// @Param status query string false "Filter by aggregate status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	var filter models.EnrollmentFilter
	filter.CourseTabID = c.Query("courseTabId")
	filter.UserID = c.Query("userId")
	filter.Status = models.AggregateStatus(strings.ToUpper(c.Query("status")))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortOrder = c.Query("order")

	enrollments, pagination, err := h.enrollments.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// Create godoc
// @Summary Enroll a user into a course tab
// @Description Snapshots the tab's approval chain. Members may only enroll themselves.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateEnrollmentRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Create(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.CreateEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if !isAdmin(claims) && strings.TrimSpace(req.UserID) != claims.UserID {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "members may only enroll themselves"))
		return
	}
	enrollment, err := h.enrollments.Enroll(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// Get godoc
// @Summary Get enrollment with its approval steps
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	enrollment, err := h.enrollments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// InstantiateChain godoc
// @Summary Instantiate the approval chain of an enrollment
// @Description Copies the course tab's step definitions into the enrollment. Fails with 409 when a chain exists.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Param payload body dto.InstantiateChainRequest false "Course tab override"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments/{id}/chain [post]
func (h *EnrollmentHandler) InstantiateChain(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.InstantiateChainRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	steps, err := h.chains.InstantiateChain(c.Request.Context(), req.CourseTabID, c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, steps)
}

func isAdmin(claims *models.JWTClaims) bool {
	return claims.Role == models.RoleAdmin || claims.Role == models.RoleSuperAdmin
}
