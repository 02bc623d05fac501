package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/orgtrain-api/internal/models"
)

// ErrDuplicateEnrollment is returned when the user is already enrolled in the course tab.
var ErrDuplicateEnrollment = errors.New("enrollment already exists")

const uniqueViolation = "23505"

const enrollmentColumns = `id, course_tab_id, user_id, aggregate_status, created_at, updated_at`

// CourseEnrollmentRepository persists enrollments.
type CourseEnrollmentRepository struct {
	db *sqlx.DB
}

// NewCourseEnrollmentRepository constructs the repository.
func NewCourseEnrollmentRepository(db *sqlx.DB) *CourseEnrollmentRepository {
	return &CourseEnrollmentRepository{db: db}
}

// CreateWithChain inserts the enrollment together with its instantiated step list.
func (r *CourseEnrollmentRepository) CreateWithChain(ctx context.Context, enrollment *models.CourseEnrollment, steps []models.ApprovalStep) (err error) {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}
	enrollment.UpdatedAt = enrollment.CreatedAt

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enrollment transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insertQuery = `INSERT INTO course_enrollments (id, course_tab_id, user_id, aggregate_status, created_at, updated_at)
	VALUES (:id, :course_tab_id, :user_id, :aggregate_status, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertQuery, enrollment); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			err = ErrDuplicateEnrollment
			return err
		}
		return fmt.Errorf("create enrollment: %w", err)
	}

	if err = insertApprovalSteps(ctx, tx, enrollment.ID, steps); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit enrollment: %w", err)
	}
	return nil
}

// FindByID fetches an enrollment.
func (r *CourseEnrollmentRepository) FindByID(ctx context.Context, id string) (*models.CourseEnrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM course_enrollments WHERE id = $1`, enrollmentColumns)
	var enrollment models.CourseEnrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ExistsForUser reports whether the user is already enrolled in the tab.
func (r *CourseEnrollmentRepository) ExistsForUser(ctx context.Context, courseTabID, userID string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM course_enrollments WHERE course_tab_id = $1 AND user_id = $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, courseTabID, userID); err != nil {
		return false, fmt.Errorf("check enrollment exists: %w", err)
	}
	return exists, nil
}

// List returns enrollments matching the filter with the total count.
func (r *CourseEnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.CourseEnrollment, int, error) {
	conditions := []string{"1=1"}
	args := make([]interface{}, 0, 3)
	if filter.CourseTabID != "" {
		args = append(args, filter.CourseTabID)
		conditions = append(conditions, fmt.Sprintf("course_tab_id = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("aggregate_status = $%d", len(args)))
	}
	where := strings.Join(conditions, " AND ")

	order := "DESC"
	if strings.EqualFold(filter.SortOrder, "asc") {
		order = "ASC"
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 20
	}

	query := fmt.Sprintf("SELECT %s FROM course_enrollments WHERE %s ORDER BY created_at %s LIMIT %d OFFSET %d",
		enrollmentColumns, where, order, size, (page-1)*size)
	var enrollments []models.CourseEnrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf("SELECT COUNT(*) FROM course_enrollments WHERE %s", where), args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}
