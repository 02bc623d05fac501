package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/orgtrain-api/internal/models"
)

// ErrChainExists is returned when an enrollment already took its approval chain snapshot.
var ErrChainExists = errors.New("approval chain already instantiated")

const approvalStepColumns = `id, enrollment_id, definition_id, step_order, required_role, is_head_approval, is_final_approval,
       decision, decided_by, decided_at, comment`

const insertApprovalStepQuery = `INSERT INTO enrollment_approval_steps
	(id, enrollment_id, definition_id, step_order, required_role, is_head_approval, is_final_approval, decision, decided_by, decided_at, comment)
	VALUES (:id, :enrollment_id, :definition_id, :step_order, :required_role, :is_head_approval, :is_final_approval, :decision, :decided_by, :decided_at, :comment)`

// StepTransition describes a guarded write of one step decision.
type StepTransition struct {
	EnrollmentID string
	StepID       string
	Expected     models.StepDecision
	Decision     models.StepDecision
	DecidedBy    string
	DecidedAt    time.Time
	// Clock, when set, stamps DecidedAt after the enrollment lock is held so decision times
	// follow commit order.
	Clock   func() time.Time
	Comment *string
}

// StepVerifier re-checks a transition against the locked, freshly read step list.
type StepVerifier func(steps []models.ApprovalStep) error

// AggregateResolver derives the enrollment status from a step list.
type AggregateResolver func(steps []models.ApprovalStep) models.AggregateStatus

// StepTransitionResult reports the outcome of CompareAndSetStep. Applied is false when the
// step no longer held the expected decision.
type StepTransitionResult struct {
	Applied        bool
	Step           models.ApprovalStep
	PreviousStatus models.AggregateStatus
	Status         models.AggregateStatus
}

// ApprovalStepRepository persists per-enrollment approval steps.
type ApprovalStepRepository struct {
	db *sqlx.DB
}

// NewApprovalStepRepository constructs the repository.
func NewApprovalStepRepository(db *sqlx.DB) *ApprovalStepRepository {
	return &ApprovalStepRepository{db: db}
}

// LoadSteps returns the enrollment's steps ordered by step order.
func (r *ApprovalStepRepository) LoadSteps(ctx context.Context, enrollmentID string) ([]models.ApprovalStep, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollment_approval_steps WHERE enrollment_id = $1 ORDER BY step_order ASC`, approvalStepColumns)
	var steps []models.ApprovalStep
	if err := r.db.SelectContext(ctx, &steps, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("load approval steps: %w", err)
	}
	return steps, nil
}

// CreateChain inserts the steps for an enrollment that has not been instantiated and stores the
// initial status. An enrollment counts as instantiated once it has steps or has left PENDING,
// which covers an empty chain that resolved to APPROVED.
func (r *ApprovalStepRepository) CreateChain(ctx context.Context, enrollmentID string, steps []models.ApprovalStep, status models.AggregateStatus) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin approval chain transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current models.AggregateStatus
	if err = lockEnrollment(ctx, tx, enrollmentID, &current); err != nil {
		return err
	}
	if current != models.AggregateStatusPending {
		err = ErrChainExists
		return err
	}

	var existing int
	if err = tx.GetContext(ctx, &existing, `SELECT COUNT(*) FROM enrollment_approval_steps WHERE enrollment_id = $1`, enrollmentID); err != nil {
		return fmt.Errorf("count approval steps: %w", err)
	}
	if existing > 0 {
		err = ErrChainExists
		return err
	}

	if err = insertApprovalSteps(ctx, tx, enrollmentID, steps); err != nil {
		return err
	}

	const updateQuery = `UPDATE course_enrollments SET aggregate_status = $1, updated_at = $2 WHERE id = $3`
	if _, err = tx.ExecContext(ctx, updateQuery, status, time.Now().UTC(), enrollmentID); err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit approval chain: %w", err)
	}
	return nil
}

// CompareAndSetStep records a decision on one step only if the step still holds the expected
// decision. The enrollment row is locked for the duration so concurrent decisions on the same
// chain serialize, verify runs against the locked step list, and the aggregate status is
// rewritten in the same transaction.
func (r *ApprovalStepRepository) CompareAndSetStep(ctx context.Context, t StepTransition, verify StepVerifier, resolve AggregateResolver) (result *StepTransitionResult, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin step transition: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var previous models.AggregateStatus
	if err = lockEnrollment(ctx, tx, t.EnrollmentID, &previous); err != nil {
		return nil, err
	}

	var steps []models.ApprovalStep
	query := fmt.Sprintf(`SELECT %s FROM enrollment_approval_steps WHERE enrollment_id = $1 ORDER BY step_order ASC`, approvalStepColumns)
	if err = tx.SelectContext(ctx, &steps, query, t.EnrollmentID); err != nil {
		return nil, fmt.Errorf("reload approval steps: %w", err)
	}

	if verify != nil {
		if err = verify(steps); err != nil {
			return nil, err
		}
	}
	if t.Clock != nil {
		t.DecidedAt = t.Clock()
	}

	const updateStepQuery = `UPDATE enrollment_approval_steps SET decision = $1, decided_by = $2, decided_at = $3, comment = $4
	WHERE id = $5 AND enrollment_id = $6 AND decision = $7`
	res, err := tx.ExecContext(ctx, updateStepQuery, t.Decision, t.DecidedBy, t.DecidedAt, t.Comment, t.StepID, t.EnrollmentID, t.Expected)
	if err != nil {
		return nil, fmt.Errorf("update approval step: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check approval step update rows: %w", err)
	}
	if rows == 0 {
		_ = tx.Rollback()
		return &StepTransitionResult{Applied: false, PreviousStatus: previous, Status: previous}, nil
	}

	idx := -1
	for i := range steps {
		if steps[i].ID == t.StepID {
			idx = i
			break
		}
	}
	if idx < 0 {
		err = fmt.Errorf("approval step %s missing from locked chain", t.StepID)
		return nil, err
	}
	decidedBy := t.DecidedBy
	decidedAt := t.DecidedAt
	steps[idx].Decision = t.Decision
	steps[idx].DecidedBy = &decidedBy
	steps[idx].DecidedAt = &decidedAt
	steps[idx].Comment = t.Comment

	status := previous
	if resolve != nil {
		status = resolve(steps)
	}
	const updateEnrollmentQuery = `UPDATE course_enrollments SET aggregate_status = $1, updated_at = $2 WHERE id = $3`
	if _, err = tx.ExecContext(ctx, updateEnrollmentQuery, status, t.DecidedAt, t.EnrollmentID); err != nil {
		return nil, fmt.Errorf("update enrollment status: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit step transition: %w", err)
	}
	return &StepTransitionResult{Applied: true, Step: steps[idx], PreviousStatus: previous, Status: status}, nil
}

// lockEnrollment takes the row lock that serializes every write to an enrollment's chain.
func lockEnrollment(ctx context.Context, tx *sqlx.Tx, enrollmentID string, status *models.AggregateStatus) error {
	const query = `SELECT aggregate_status FROM course_enrollments WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, status, query, enrollmentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sql.ErrNoRows
		}
		return fmt.Errorf("lock enrollment: %w", err)
	}
	return nil
}

func insertApprovalSteps(ctx context.Context, tx *sqlx.Tx, enrollmentID string, steps []models.ApprovalStep) error {
	for i := range steps {
		if steps[i].ID == "" {
			steps[i].ID = uuid.NewString()
		}
		steps[i].EnrollmentID = enrollmentID
		if steps[i].Decision == "" {
			steps[i].Decision = models.StepDecisionPending
		}
		if _, err := tx.NamedExecContext(ctx, insertApprovalStepQuery, steps[i]); err != nil {
			return fmt.Errorf("insert approval step %d: %w", steps[i].Order, err)
		}
	}
	return nil
}
