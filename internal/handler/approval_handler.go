package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/orgtrain-api/internal/dto"
	"github.com/noah-isme/orgtrain-api/internal/models"
	"github.com/noah-isme/orgtrain-api/internal/service"
	appErrors "github.com/noah-isme/orgtrain-api/pkg/errors"
	"github.com/noah-isme/orgtrain-api/pkg/response"
)

type approvalService interface {
	Decide(ctx context.Context, req service.DecideRequest) (*models.DecisionResult, error)
	Steps(ctx context.Context, enrollmentID, principalID string) ([]models.StepView, models.AggregateStatus, error)
}

type decisionPublisher interface {
	PublishDecision(result *models.DecisionResult, actorID string)
}

type trailExporter interface {
	ApprovalTrail(ctx context.Context, enrollmentID, format string) (*service.ExportResult, error)
}

// ApprovalHandler exposes step listing, decisions and the approval trail.
type ApprovalHandler struct {
	approvals approvalService
	notifier  decisionPublisher
	exporter  trailExporter
}

// NewApprovalHandler constructs ApprovalHandler.
func NewApprovalHandler(approvals approvalService, notifier decisionPublisher, exporter trailExporter) *ApprovalHandler {
	return &ApprovalHandler{approvals: approvals, notifier: notifier, exporter: exporter}
}

// Steps godoc
// @Summary List approval steps with the caller's gate evaluation
// @Tags Approvals
// @Produce json
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id}/steps [get]
func (h *ApprovalHandler) Steps(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	enrollmentID := c.Param("id")
	steps, status, err := h.approvals.Steps(c.Request.Context(), enrollmentID, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.StepsResponse{EnrollmentID: enrollmentID, AggregateStatus: status, Steps: steps}, nil)
}

// Decide godoc
// @Summary Approve or reject an approval step
// @Tags Approvals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Param stepId path string true "Step ID"
// @Param payload body dto.DecisionRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments/{id}/steps/{stepId}/decision [post]
func (h *ApprovalHandler) Decide(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid decision payload"))
		return
	}

	result, err := h.approvals.Decide(c.Request.Context(), service.DecideRequest{
		EnrollmentID: c.Param("id"),
		StepID:       c.Param("stepId"),
		PrincipalID:  claims.UserID,
		Action:       req.Decision,
		Comment:      req.Comment,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	if h.notifier != nil {
		h.notifier.PublishDecision(result, claims.UserID)
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Trail godoc
// @Summary Download the approval trail
// @Tags Approvals
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id}/approval-trail [get]
func (h *ApprovalHandler) Trail(c *gin.Context) {
	result, err := h.exporter.ApprovalTrail(c.Request.Context(), c.Param("id"), c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, result.Format.ContentType(), result.Content)
}
