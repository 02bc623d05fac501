package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin              = "LOGIN"
	AuditActionCourseTabCreate    = "COURSE_TAB_CREATE"
	AuditActionChainDefine        = "APPROVAL_CHAIN_DEFINE"
	AuditActionEnrollmentCreate   = "ENROLLMENT_CREATE"
	AuditActionChainInstantiate   = "APPROVAL_CHAIN_INSTANTIATE"
	AuditActionStepApprove        = "APPROVAL_STEP_APPROVE"
	AuditActionStepReject         = "APPROVAL_STEP_REJECT"
	AuditActionEnrollmentFinal    = "ENROLLMENT_FINAL_APPROVED"
	AuditActionEnrollmentRejected = "ENROLLMENT_REJECTED"
	AuditActionStepNotified       = "APPROVAL_STEP_NOTIFIED"
	AuditActionTrailExport        = "APPROVAL_TRAIL_EXPORT"
	AuditActionRoleGrant          = "ROLE_GRANT"
	AuditActionRoleRevoke         = "ROLE_REVOKE"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
