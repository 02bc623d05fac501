package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/orgtrain-api/internal/models"
)

var stepRowColumns = []string{"id", "enrollment_id", "definition_id", "step_order", "required_role", "is_head_approval", "is_final_approval", "decision", "decided_by", "decided_at", "comment"}

func twoStepRows() *sqlmock.Rows {
	return sqlmock.NewRows(stepRowColumns).
		AddRow("s1", "e1", "d1", 1, "REVIEWER", false, false, "PENDING", nil, nil, nil).
		AddRow("s2", "e1", "d2", 2, "MANAGER", false, true, "PENDING", nil, nil, nil)
}

func countStatus(steps []models.ApprovalStep) models.AggregateStatus {
	for _, s := range steps {
		if s.Decision == models.StepDecisionApproved {
			return models.AggregateStatusInProgress
		}
	}
	return models.AggregateStatusPending
}

func TestLoadSteps(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewApprovalStepRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollment_approval_steps WHERE enrollment_id = $1 ORDER BY step_order ASC")).
		WithArgs("e1").
		WillReturnRows(twoStepRows())

	steps, err := repo.LoadSteps(context.Background(), "e1")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, 1, steps[0].Order)
	require.NotNil(t, steps[0].RequiredRole)
	assert.Equal(t, "REVIEWER", *steps[0].RequiredRole)
	assert.True(t, steps[1].IsFinalApproval)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateChainInsertsSteps(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewApprovalStepRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT aggregate_status FROM course_enrollments WHERE id = $1 FOR UPDATE")).
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"aggregate_status"}).AddRow("PENDING"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollment_approval_steps WHERE enrollment_id = $1")).
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO enrollment_approval_steps").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO enrollment_approval_steps").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE course_enrollments SET aggregate_status = $1")).
		WithArgs(models.AggregateStatusPending, sqlmock.AnyArg(), "e1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	steps := []models.ApprovalStep{{Order: 1}, {Order: 2}}
	err := repo.CreateChain(context.Background(), "e1", steps, models.AggregateStatusPending)
	require.NoError(t, err)
	assert.NotEmpty(t, steps[0].ID)
	assert.Equal(t, "e1", steps[1].EnrollmentID)
	assert.Equal(t, models.StepDecisionPending, steps[1].Decision)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateChainRejectsSecondInstantiation(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewApprovalStepRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"aggregate_status"}).AddRow("PENDING"))
	mock.ExpectQuery("SELECT COUNT").WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectRollback()

	err := repo.CreateChain(context.Background(), "e1", []models.ApprovalStep{{Order: 1}}, models.AggregateStatusPending)
	assert.ErrorIs(t, err, ErrChainExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateChainRejectsSettledEmptyChain(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewApprovalStepRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"aggregate_status"}).AddRow("APPROVED"))
	mock.ExpectRollback()

	err := repo.CreateChain(context.Background(), "e1", []models.ApprovalStep{{Order: 1}}, models.AggregateStatusPending)
	assert.ErrorIs(t, err, ErrChainExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompareAndSetStepApplies(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewApprovalStepRepository(db)

	decidedAt := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"aggregate_status"}).AddRow("PENDING"))
	mock.ExpectQuery("FROM enrollment_approval_steps").WithArgs("e1").WillReturnRows(twoStepRows())
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollment_approval_steps SET decision = $1")).
		WithArgs(models.StepDecisionApproved, "u1", decidedAt, nil, "s1", "e1", models.StepDecisionPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE course_enrollments SET aggregate_status = $1")).
		WithArgs(models.AggregateStatusInProgress, decidedAt, "e1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	verified := 0
	result, err := repo.CompareAndSetStep(context.Background(), StepTransition{
		EnrollmentID: "e1",
		StepID:       "s1",
		Expected:     models.StepDecisionPending,
		Decision:     models.StepDecisionApproved,
		DecidedBy:    "u1",
		DecidedAt:    decidedAt,
	}, func(steps []models.ApprovalStep) error {
		verified = len(steps)
		return nil
	}, countStatus)
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, 2, verified)
	assert.Equal(t, models.AggregateStatusPending, result.PreviousStatus)
	assert.Equal(t, models.AggregateStatusInProgress, result.Status)
	assert.Equal(t, models.StepDecisionApproved, result.Step.Decision)
	require.NotNil(t, result.Step.DecidedBy)
	assert.Equal(t, "u1", *result.Step.DecidedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompareAndSetStepNotAppliedWhenDecisionChanged(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewApprovalStepRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"aggregate_status"}).AddRow("IN_PROGRESS"))
	mock.ExpectQuery("FROM enrollment_approval_steps").WithArgs("e1").WillReturnRows(twoStepRows())
	mock.ExpectExec("UPDATE enrollment_approval_steps").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	result, err := repo.CompareAndSetStep(context.Background(), StepTransition{
		EnrollmentID: "e1", StepID: "s1", Expected: models.StepDecisionPending, Decision: models.StepDecisionRejected, DecidedBy: "u2", DecidedAt: time.Now(),
	}, nil, countStatus)
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Equal(t, models.AggregateStatusInProgress, result.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompareAndSetStepVerifyFailureWritesNothing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewApprovalStepRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"aggregate_status"}).AddRow("PENDING"))
	mock.ExpectQuery("FROM enrollment_approval_steps").WithArgs("e1").WillReturnRows(twoStepRows())
	mock.ExpectRollback()

	denied := errors.New("denied")
	_, err := repo.CompareAndSetStep(context.Background(), StepTransition{EnrollmentID: "e1", StepID: "s2"}, func([]models.ApprovalStep) error {
		return denied
	}, countStatus)
	assert.ErrorIs(t, err, denied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompareAndSetStepUnknownEnrollment(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewApprovalStepRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("missing").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.CompareAndSetStep(context.Background(), StepTransition{EnrollmentID: "missing"}, nil, countStatus)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompareAndSetStepStampsDecisionUnderLock(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewApprovalStepRepository(db)

	stamped := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"aggregate_status"}).AddRow("PENDING"))
	mock.ExpectQuery("FROM enrollment_approval_steps").WithArgs("e1").WillReturnRows(twoStepRows())
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollment_approval_steps SET decision = $1")).
		WithArgs(models.StepDecisionApproved, "u1", stamped, nil, "s1", "e1", models.StepDecisionPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE course_enrollments SET aggregate_status = $1")).
		WithArgs(models.AggregateStatusInProgress, stamped, "e1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	verified := false
	clockReadAfterVerify := false
	result, err := repo.CompareAndSetStep(context.Background(), StepTransition{
		EnrollmentID: "e1",
		StepID:       "s1",
		Expected:     models.StepDecisionPending,
		Decision:     models.StepDecisionApproved,
		DecidedBy:    "u1",
		Clock: func() time.Time {
			clockReadAfterVerify = verified
			return stamped
		},
	}, func([]models.ApprovalStep) error {
		verified = true
		return nil
	}, countStatus)
	require.NoError(t, err)
	assert.True(t, clockReadAfterVerify)
	require.NotNil(t, result.Step.DecidedAt)
	assert.Equal(t, stamped, *result.Step.DecidedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
