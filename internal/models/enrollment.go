package models

import "time"

// CourseTab is the configurable container owning an approval chain definition.
type CourseTab struct {
	ID        string    `db:"id" json:"id"`
	CourseID  string    `db:"course_id" json:"courseId"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// CourseTabDetail includes the current step definitions.
type CourseTabDetail struct {
	CourseTab
	Steps []StepDefinition `json:"steps"`
}

// CourseEnrollment is a user's registration to a course tab. AggregateStatus is a cached
// projection of the step list and is rewritten with every step transition.
type CourseEnrollment struct {
	ID              string          `db:"id" json:"id"`
	CourseTabID     string          `db:"course_tab_id" json:"courseTabId"`
	UserID          string          `db:"user_id" json:"userId"`
	AggregateStatus AggregateStatus `db:"aggregate_status" json:"aggregateStatus"`
	CreatedAt       time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updatedAt"`
}

// CourseEnrollmentDetail enriches an enrollment with its chain.
type CourseEnrollmentDetail struct {
	CourseEnrollment
	Steps []ApprovalStep `json:"steps"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	CourseTabID string
	UserID      string
	Status      AggregateStatus
	Page        int
	PageSize    int
	SortOrder   string
}
