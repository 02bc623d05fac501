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

// CourseTabRepository persists course tabs and their approval step definitions.
type CourseTabRepository struct {
	db *sqlx.DB
}

// NewCourseTabRepository constructs the repository.
func NewCourseTabRepository(db *sqlx.DB) *CourseTabRepository {
	return &CourseTabRepository{db: db}
}

// Create inserts a course tab.
func (r *CourseTabRepository) Create(ctx context.Context, tab *models.CourseTab) error {
	if tab.ID == "" {
		tab.ID = uuid.NewString()
	}
	if tab.CreatedAt.IsZero() {
		tab.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO course_tabs (id, course_id, name, created_at) VALUES (:id, :course_id, :name, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, tab); err != nil {
		return fmt.Errorf("create course tab: %w", err)
	}
	return nil
}

// FindByID fetches a course tab.
func (r *CourseTabRepository) FindByID(ctx context.Context, id string) (*models.CourseTab, error) {
	const query = `SELECT id, course_id, name, created_at FROM course_tabs WHERE id = $1`
	var tab models.CourseTab
	if err := r.db.GetContext(ctx, &tab, query, id); err != nil {
		return nil, err
	}
	return &tab, nil
}

// List returns course tabs, optionally restricted to one course.
func (r *CourseTabRepository) List(ctx context.Context, courseID string) ([]models.CourseTab, error) {
	query := `SELECT id, course_id, name, created_at FROM course_tabs`
	args := []interface{}{}
	if courseID != "" {
		query += ` WHERE course_id = $1`
		args = append(args, courseID)
	}
	query += ` ORDER BY created_at ASC`
	var tabs []models.CourseTab
	if err := r.db.SelectContext(ctx, &tabs, query, args...); err != nil {
		return nil, fmt.Errorf("list course tabs: %w", err)
	}
	return tabs, nil
}

// ListDefinitions returns a tab's step definitions ordered by step order.
func (r *CourseTabRepository) ListDefinitions(ctx context.Context, courseTabID string) ([]models.StepDefinition, error) {
	const query = `SELECT id, course_tab_id, step_order, required_role, is_head_approval, is_final_approval, created_at
	FROM approval_step_definitions WHERE course_tab_id = $1 ORDER BY step_order ASC`
	var defs []models.StepDefinition
	if err := r.db.SelectContext(ctx, &defs, query, courseTabID); err != nil {
		return nil, fmt.Errorf("list step definitions: %w", err)
	}
	return defs, nil
}

// ReplaceDefinitions swaps a tab's definitions atomically. Chains already instantiated keep their
// snapshot and are not touched.
func (r *CourseTabRepository) ReplaceDefinitions(ctx context.Context, courseTabID string, defs []models.StepDefinition) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin step definition transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var id string
	if err = tx.GetContext(ctx, &id, `SELECT id FROM course_tabs WHERE id = $1 FOR UPDATE`, courseTabID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sql.ErrNoRows
		}
		return fmt.Errorf("lock course tab: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM approval_step_definitions WHERE course_tab_id = $1`, courseTabID); err != nil {
		return fmt.Errorf("clear step definitions: %w", err)
	}

	now := time.Now().UTC()
	const insertQuery = `INSERT INTO approval_step_definitions (id, course_tab_id, step_order, required_role, is_head_approval, is_final_approval, created_at)
	VALUES (:id, :course_tab_id, :step_order, :required_role, :is_head_approval, :is_final_approval, :created_at)`
	for i := range defs {
		if defs[i].ID == "" {
			defs[i].ID = uuid.NewString()
		}
		defs[i].CourseTabID = courseTabID
		defs[i].CreatedAt = now
		if _, err = tx.NamedExecContext(ctx, insertQuery, defs[i]); err != nil {
			return fmt.Errorf("insert step definition %d: %w", defs[i].Order, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit step definitions: %w", err)
	}
	return nil
}
