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

type courseTabService interface {
	Create(ctx context.Context, req dto.CreateCourseTabRequest, actorID string) (*models.CourseTab, error)
	Get(ctx context.Context, id string) (*models.CourseTabDetail, error)
	List(ctx context.Context, courseID string) ([]models.CourseTab, error)
	Definitions(ctx context.Context, id string) ([]models.StepDefinition, error)
	ReplaceDefinitions(ctx context.Context, id string, req dto.ReplaceStepDefinitionsRequest, actorID string) ([]models.StepDefinition, error)
}

// CourseTabHandler manages course tabs and their approval chain definitions.
type CourseTabHandler struct {
	service courseTabService
}

// NewCourseTabHandler constructs the handler.
func NewCourseTabHandler(svc courseTabService) *CourseTabHandler {
	return &CourseTabHandler{service: svc}
}

// List godoc
// @Summary List course tabs
// @Tags CourseTabs
// @Produce json
// @Security BearerAuth
// @Param courseId query string false "Course filter"
// @Success 200 {object} response.Envelope
// @Router /course-tabs [get]
func (h *CourseTabHandler) List(c *gin.Context) {
	tabs, err := h.service.List(c.Request.Context(), c.Query("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tabs, nil)
}

// Create godoc
// @Summary Create course tab
// @Tags CourseTabs
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateCourseTabRequest true "Course tab payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /course-tabs [post]
func (h *CourseTabHandler) Create(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.CreateCourseTabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid course tab payload"))
		return
	}
	tab, err := h.service.Create(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, tab)
}

// Get godoc
// @Summary Get course tab with its step definitions
// @Tags CourseTabs
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course tab ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /course-tabs/{id} [get]
func (h *CourseTabHandler) Get(c *gin.Context) {
	detail, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Steps godoc
// @Summary List step definitions
// @Tags CourseTabs
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course tab ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /course-tabs/{id}/steps [get]
func (h *CourseTabHandler) Steps(c *gin.Context) {
	defs, err := h.service.Definitions(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, defs, nil)
}

// ReplaceSteps godoc
// @Summary Replace the approval chain definition
// @Description Existing enrollments keep the chain they were instantiated with.
// @Tags CourseTabs
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course tab ID"
// @Param payload body dto.ReplaceStepDefinitionsRequest true "Step definitions"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /course-tabs/{id}/steps [put]
func (h *CourseTabHandler) ReplaceSteps(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.ReplaceStepDefinitionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid step definitions payload"))
		return
	}
	defs, err := h.service.ReplaceDefinitions(c.Request.Context(), c.Param("id"), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, defs, nil)
}
