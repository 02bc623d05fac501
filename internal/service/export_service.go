package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/orgtrain-api/internal/models"
	appErrors "github.com/noah-isme/orgtrain-api/pkg/errors"
	"github.com/noah-isme/orgtrain-api/pkg/export"
)

var trailHeaders = []string{"Order", "Approver", "Final", "Decision", "Decided By", "Decided At", "Comment"}

// ExportResult is a rendered approval trail.
type ExportResult struct {
	Filename string
	Format   export.Format
	Content  []byte
}

// ExportService renders the per-step approval trail of an enrollment.
type ExportService struct {
	enrollments enrollmentReader
	steps       chainReader
	renderers   map[export.Format]export.Renderer
	logger      *zap.Logger
	now         func() time.Time
}

// NewExportService constructs an ExportService. Missing renderers fall back to the pkg/export defaults.
func NewExportService(enrollments enrollmentReader, steps chainReader, logger *zap.Logger, renderers map[export.Format]export.Renderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	resolved := make(map[export.Format]export.Renderer, 2)
	for _, format := range []export.Format{export.FormatCSV, export.FormatPDF} {
		if r, ok := renderers[format]; ok && r != nil {
			resolved[format] = r
			continue
		}
		r, _ := export.RendererFor(format)
		resolved[format] = r
	}
	return &ExportService{
		enrollments: enrollments,
		steps:       steps,
		renderers:   resolved,
		logger:      logger,
		now:         time.Now,
	}
}

// ApprovalTrail renders the enrollment's chain in the requested format.
func (s *ExportService) ApprovalTrail(ctx context.Context, enrollmentID, rawFormat string) (*ExportResult, error) {
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unsupported export format")
	}
	enrollment, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	steps, err := s.steps.LoadSteps(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval steps")
	}

	generated := s.now().UTC()
	payload, err := s.renderers[format].Render(buildTrailDataset(enrollment, steps, generated))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render approval trail")
	}

	s.logger.Debug("approval trail exported",
		zap.String("enrollment_id", enrollmentID),
		zap.String("format", string(format)),
		zap.Int("bytes", len(payload)))

	return &ExportResult{
		Filename: fmt.Sprintf("approval_trail_%s_%s.%s", sanitizeFilename(enrollmentID), generated.Format("20060102_150405"), format.Extension()),
		Format:   format,
		Content:  payload,
	}, nil
}

func buildTrailDataset(enrollment *models.CourseEnrollment, steps []models.ApprovalStep, generated time.Time) export.Dataset {
	rows := make([]map[string]string, 0, len(steps))
	for _, step := range steps {
		approver := "Head approval"
		if step.Approver().Kind == models.ApproverKindRole {
			approver = "Role " + valueOr(step.RequiredRole, "-")
		}
		decidedAt := ""
		if step.DecidedAt != nil {
			decidedAt = step.DecidedAt.UTC().Format(time.RFC3339)
		}
		final := ""
		if step.IsFinalApproval {
			final = "yes"
		}
		rows = append(rows, map[string]string{
			"Order":      strconv.Itoa(step.Order),
			"Approver":   approver,
			"Final":      final,
			"Decision":   string(step.Decision),
			"Decided By": valueOr(step.DecidedBy, ""),
			"Decided At": decidedAt,
			"Comment":    valueOr(step.Comment, ""),
		})
	}
	return export.Dataset{
		Title: "Approval Trail",
		Meta: []string{
			"Enrollment: " + enrollment.ID,
			"Course tab: " + enrollment.CourseTabID,
			"User: " + enrollment.UserID,
			"Status: " + string(enrollment.AggregateStatus),
			"Generated: " + generated.Format(time.RFC3339),
		},
		Headers: trailHeaders,
		Rows:    rows,
	}
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func valueOr(v *string, fallback string) string {
	if v == nil || *v == "" {
		return fallback
	}
	return *v
}
