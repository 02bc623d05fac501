package models

import (
	"strings"
	"time"
)

// StepDecision is the recorded outcome of a single approval step.
type StepDecision string

const (
	StepDecisionPending  StepDecision = "PENDING"
	StepDecisionApproved StepDecision = "APPROVED"
	StepDecisionRejected StepDecision = "REJECTED"
)

// AggregateStatus is the enrollment-level status derived from its steps.
type AggregateStatus string

const (
	AggregateStatusPending       AggregateStatus = "PENDING"
	AggregateStatusInProgress    AggregateStatus = "IN_PROGRESS"
	AggregateStatusRejected      AggregateStatus = "REJECTED"
	AggregateStatusApproved      AggregateStatus = "APPROVED"
	AggregateStatusFinalApproved AggregateStatus = "FINAL_APPROVED"
)

// IsTerminal reports whether the chain accepts no further decisions.
func (s AggregateStatus) IsTerminal() bool {
	return s == AggregateStatusRejected || s == AggregateStatusFinalApproved
}

// ApproverKind distinguishes how a step's authority is resolved.
type ApproverKind string

const (
	ApproverKindRole ApproverKind = "ROLE"
	ApproverKindHead ApproverKind = "HEAD"
)

// Approver is the resolved authority variant of a step: either head approval or a role gate.
type Approver struct {
	Kind   ApproverKind
	RoleID string
}

// StepDefinition is a course tab's approval step template.
type StepDefinition struct {
	ID              string    `db:"id" json:"id"`
	CourseTabID     string    `db:"course_tab_id" json:"courseTabId"`
	Order           int       `db:"step_order" json:"order"`
	RequiredRole    *string   `db:"required_role" json:"requiredRole,omitempty"`
	IsHeadApproval  bool      `db:"is_head_approval" json:"isHeadApproval"`
	IsFinalApproval bool      `db:"is_final_approval" json:"isFinalApproval"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
}

// Approver returns the tagged authority variant for the definition.
func (d StepDefinition) Approver() Approver {
	if d.IsHeadApproval {
		return Approver{Kind: ApproverKindHead}
	}
	if d.RequiredRole == nil {
		return Approver{Kind: ApproverKindRole}
	}
	return Approver{Kind: ApproverKindRole, RoleID: *d.RequiredRole}
}

// ApprovalStep is the per-enrollment runtime state of a step. The definition columns are a
// snapshot taken at instantiation and never follow later edits of the course tab.
type ApprovalStep struct {
	ID              string       `db:"id" json:"id"`
	EnrollmentID    string       `db:"enrollment_id" json:"enrollmentId"`
	DefinitionID    string       `db:"definition_id" json:"definitionId"`
	Order           int          `db:"step_order" json:"order"`
	RequiredRole    *string      `db:"required_role" json:"requiredRole,omitempty"`
	IsHeadApproval  bool         `db:"is_head_approval" json:"isHeadApproval"`
	IsFinalApproval bool         `db:"is_final_approval" json:"isFinalApproval"`
	Decision        StepDecision `db:"decision" json:"decision"`
	DecidedBy       *string      `db:"decided_by" json:"decidedBy,omitempty"`
	DecidedAt       *time.Time   `db:"decided_at" json:"decidedAt,omitempty"`
	Comment         *string      `db:"comment" json:"comment,omitempty"`
}

// Approver returns the tagged authority variant captured in the snapshot.
func (s ApprovalStep) Approver() Approver {
	if s.IsHeadApproval {
		return Approver{Kind: ApproverKindHead}
	}
	if s.RequiredRole == nil {
		return Approver{Kind: ApproverKindRole}
	}
	return Approver{Kind: ApproverKindRole, RoleID: *s.RequiredRole}
}

// ApprovalActor is the acting principal with its resolved authority.
type ApprovalActor struct {
	PrincipalID   string
	Roles         map[string]struct{}
	HeadAuthority bool
}

// HasRole reports whether the actor holds the role. Role keys are upper case.
func (a ApprovalActor) HasRole(role string) bool {
	role = strings.ToUpper(strings.TrimSpace(role))
	if role == "" {
		return false
	}
	_, ok := a.Roles[role]
	return ok
}

// GateDenial names why the gate refused an action.
type GateDenial string

const (
	GateDenialNone           GateDenial = ""
	GateDenialAlreadyDecided GateDenial = "ALREADY_DECIDED"
	GateDenialOutOfOrder     GateDenial = "OUT_OF_ORDER"
	GateDenialUnauthorized   GateDenial = "UNAUTHORIZED"
	GateDenialChainTerminal  GateDenial = "CHAIN_TERMINAL"
	GateDenialStepNotFound   GateDenial = "STEP_NOT_FOUND"
)

// GateDecision is the gate result: allowed, or denied with a reason.
type GateDecision struct {
	Allowed bool       `json:"allowed"`
	Reason  GateDenial `json:"reason,omitempty"`
}

// StepAction is the decision requested by an approver.
type StepAction string

const (
	StepActionApprove StepAction = "APPROVE"
	StepActionReject  StepAction = "REJECT"
)

// Decision maps the action to the step decision it records.
func (a StepAction) Decision() (StepDecision, bool) {
	switch a {
	case StepActionApprove:
		return StepDecisionApproved, true
	case StepActionReject:
		return StepDecisionRejected, true
	default:
		return "", false
	}
}

// StepView pairs a step with the caller's gate evaluation.
type StepView struct {
	ApprovalStep
	Gate GateDecision `json:"gate"`
}

// DecisionResult is returned after a successful transition.
type DecisionResult struct {
	EnrollmentID       string          `json:"enrollmentId"`
	NewAggregateStatus AggregateStatus `json:"newAggregateStatus"`
	PreviousStatus     AggregateStatus `json:"previousStatus"`
	UpdatedStep        ApprovalStep    `json:"updatedStep"`
}
