package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/orgtrain-api/internal/models"
	appErrors "github.com/noah-isme/orgtrain-api/pkg/errors"
	"github.com/noah-isme/orgtrain-api/pkg/export"
)

type captureRenderer struct {
	data export.Dataset
}

func (c *captureRenderer) Render(data export.Dataset) ([]byte, error) {
	c.data = data
	return []byte("rendered"), nil
}

func newExportFixture() (*ExportService, *captureRenderer) {
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	store := newMemoryStepStore()
	store.seed("e1",
		decided(roleStep("s1", 1, "REVIEWER"), models.StepDecisionApproved, at),
		final(headStep("s2", 2)),
	)
	store.chains["e1"][0].Comment = strPtr("looks good")
	enrollments := &enrollmentStub{items: map[string]*models.CourseEnrollment{
		"e1": {ID: "e1", CourseTabID: "tab-1", UserID: "learner", AggregateStatus: models.AggregateStatusInProgress},
	}}
	csv := &captureRenderer{}
	svc := NewExportService(enrollments, store, nil, map[export.Format]export.Renderer{export.FormatCSV: csv})
	svc.now = func() time.Time { return time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC) }
	return svc, csv
}

func TestExportServiceApprovalTrail(t *testing.T) {
	svc, csv := newExportFixture()

	result, err := svc.ApprovalTrail(context.Background(), "e1", "")
	require.NoError(t, err)
	assert.Equal(t, export.FormatCSV, result.Format)
	assert.Equal(t, "approval_trail_e1_20240302_000000.csv", result.Filename)
	assert.Equal(t, []byte("rendered"), result.Content)

	require.Len(t, csv.data.Rows, 2)
	first := csv.data.Rows[0]
	assert.Equal(t, "1", first["Order"])
	assert.Equal(t, "Role REVIEWER", first["Approver"])
	assert.Equal(t, "APPROVED", first["Decision"])
	assert.Equal(t, "2024-03-01T09:30:00Z", first["Decided At"])
	assert.Equal(t, "looks good", first["Comment"])

	second := csv.data.Rows[1]
	assert.Equal(t, "Head approval", second["Approver"])
	assert.Equal(t, "yes", second["Final"])
	assert.Equal(t, "PENDING", second["Decision"])
	assert.Contains(t, csv.data.Meta, "Status: IN_PROGRESS")
}

func TestExportServiceApprovalTrailPDF(t *testing.T) {
	svc, _ := newExportFixture()

	result, err := svc.ApprovalTrail(context.Background(), "e1", "PDF")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(result.Filename, ".pdf"))
	assert.True(t, strings.HasPrefix(string(result.Content), "%PDF"))
}

func TestExportServiceApprovalTrailErrors(t *testing.T) {
	svc, _ := newExportFixture()

	_, err := svc.ApprovalTrail(context.Background(), "e1", "xlsx")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.ApprovalTrail(context.Background(), "missing", "csv")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}
