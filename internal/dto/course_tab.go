package dto

// CreateCourseTabRequest payload for creating a course tab.
type CreateCourseTabRequest struct {
	CourseID string `json:"courseId" validate:"required,max=64"`
	Name     string `json:"name" validate:"required,max=200"`
}

// StepDefinitionInput is one approval step template of a course tab.
type StepDefinitionInput struct {
	Order           int     `json:"order"`
	RequiredRole    *string `json:"requiredRole,omitempty" validate:"omitempty,max=64"`
	IsHeadApproval  bool    `json:"isHeadApproval"`
	IsFinalApproval bool    `json:"isFinalApproval"`
}

// ReplaceStepDefinitionsRequest replaces a tab's whole chain definition.
type ReplaceStepDefinitionsRequest struct {
	Steps []StepDefinitionInput `json:"steps" validate:"dive"`
}
