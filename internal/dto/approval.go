package dto

import "github.com/noah-isme/orgtrain-api/internal/models"

// CreateEnrollmentRequest enrolls a user into a course tab.
type CreateEnrollmentRequest struct {
	CourseTabID string `json:"courseTabId" validate:"required"`
	UserID      string `json:"userId" validate:"required"`
}

// InstantiateChainRequest optionally pins the course tab whose definitions are snapshotted.
type InstantiateChainRequest struct {
	CourseTabID string `json:"courseTabId"`
}

// DecisionRequest is an approver's decision on one step.
type DecisionRequest struct {
	Decision models.StepAction `json:"decision"`
	Comment  *string           `json:"comment,omitempty"`
}

// StepsResponse lists a chain with the caller's gate evaluation per step.
type StepsResponse struct {
	EnrollmentID    string                 `json:"enrollmentId"`
	AggregateStatus models.AggregateStatus `json:"aggregateStatus"`
	Steps           []models.StepView      `json:"steps"`
}

// GrantRoleRequest assigns an approval role to a user.
type GrantRoleRequest struct {
	Role string `json:"role" validate:"required,max=64"`
}
