package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/noah-isme/orgtrain-api/internal/models"
	appErrors "github.com/noah-isme/orgtrain-api/pkg/errors"
)

// ValidateStepDefinitions enforces the chain definition rules of a course tab.
func ValidateStepDefinitions(defs []models.StepDefinition) error {
	seen := make(map[int]struct{}, len(defs))
	finals := 0
	for _, def := range defs {
		if def.Order <= 0 {
			return appErrors.Clone(appErrors.ErrInvalidChainDefinition, fmt.Sprintf("step order must be positive, got %d", def.Order))
		}
		if _, dup := seen[def.Order]; dup {
			return appErrors.Clone(appErrors.ErrInvalidChainDefinition, fmt.Sprintf("duplicate step order %d", def.Order))
		}
		seen[def.Order] = struct{}{}

		role := ""
		if def.RequiredRole != nil {
			role = strings.TrimSpace(*def.RequiredRole)
		}
		if def.IsHeadApproval && role != "" {
			return appErrors.Clone(appErrors.ErrInvalidChainDefinition, fmt.Sprintf("step %d cannot require a role and head approval", def.Order))
		}
		if !def.IsHeadApproval && role == "" {
			return appErrors.Clone(appErrors.ErrInvalidChainDefinition, fmt.Sprintf("step %d requires a role or head approval", def.Order))
		}
		if def.IsFinalApproval {
			finals++
		}
	}
	if finals > 1 {
		return appErrors.Clone(appErrors.ErrInvalidChainDefinition, "at most one final approval step is allowed")
	}
	return nil
}

// BuildChain snapshots the definitions into pending steps for the enrollment, ordered by step order.
func BuildChain(enrollmentID string, defs []models.StepDefinition) ([]models.ApprovalStep, error) {
	if err := ValidateStepDefinitions(defs); err != nil {
		return nil, err
	}
	ordered := append([]models.StepDefinition(nil), defs...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	steps := make([]models.ApprovalStep, 0, len(ordered))
	for _, def := range ordered {
		step := models.ApprovalStep{
			EnrollmentID:    enrollmentID,
			DefinitionID:    def.ID,
			Order:           def.Order,
			IsHeadApproval:  def.IsHeadApproval,
			IsFinalApproval: def.IsFinalApproval,
			Decision:        models.StepDecisionPending,
		}
		if def.RequiredRole != nil && !def.IsHeadApproval {
			role := strings.TrimSpace(*def.RequiredRole)
			step.RequiredRole = &role
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// ResolveAggregate derives the enrollment status from its step list.
func ResolveAggregate(steps []models.ApprovalStep) models.AggregateStatus {
	if len(steps) == 0 {
		return models.AggregateStatusApproved
	}
	decided := 0
	finalApproved := false
	for _, step := range steps {
		switch step.Decision {
		case models.StepDecisionRejected:
			return models.AggregateStatusRejected
		case models.StepDecisionApproved:
			decided++
			if step.IsFinalApproval {
				finalApproved = true
			}
		}
	}
	switch {
	case decided == len(steps) && finalApproved:
		return models.AggregateStatusFinalApproved
	case decided == len(steps):
		return models.AggregateStatusApproved
	case decided > 0:
		return models.AggregateStatusInProgress
	default:
		return models.AggregateStatusPending
	}
}

// CanAct decides whether the actor may approve or reject the step right now.
func CanAct(steps []models.ApprovalStep, stepID string, actor models.ApprovalActor) models.GateDecision {
	idx := indexOfStep(steps, stepID)
	if idx < 0 {
		return denied(models.GateDenialStepNotFound)
	}
	target := steps[idx]

	if ResolveAggregate(steps).IsTerminal() {
		// Re-deciding the step that closed the chain is a repeat of that decision.
		if target.Decision != models.StepDecisionPending && idx == closingStep(steps) {
			return denied(models.GateDenialAlreadyDecided)
		}
		return denied(models.GateDenialChainTerminal)
	}
	if target.Decision != models.StepDecisionPending {
		return denied(models.GateDenialAlreadyDecided)
	}

	approver := target.Approver()
	if approver.Kind == models.ApproverKindHead {
		if !actor.HeadAuthority {
			return denied(models.GateDenialUnauthorized)
		}
		return models.GateDecision{Allowed: true}
	}

	for _, step := range steps {
		if step.Order < target.Order && step.Decision != models.StepDecisionApproved {
			return denied(models.GateDenialOutOfOrder)
		}
	}
	if !actor.HasRole(approver.RoleID) {
		return denied(models.GateDenialUnauthorized)
	}
	return models.GateDecision{Allowed: true}
}

// GateError converts a gate denial into the typed error surfaced to callers.
func GateError(reason models.GateDenial) error {
	switch reason {
	case models.GateDenialNone:
		return nil
	case models.GateDenialAlreadyDecided:
		return appErrors.ErrAlreadyDecided
	case models.GateDenialOutOfOrder:
		return appErrors.ErrOutOfOrder
	case models.GateDenialUnauthorized:
		return appErrors.ErrStepUnauthorized
	case models.GateDenialChainTerminal:
		return appErrors.ErrChainTerminal
	case models.GateDenialStepNotFound:
		return appErrors.Clone(appErrors.ErrNotFound, "approval step not found")
	default:
		return appErrors.Clone(appErrors.ErrInternal, fmt.Sprintf("unknown gate denial %q", reason))
	}
}

func denied(reason models.GateDenial) models.GateDecision {
	return models.GateDecision{Allowed: false, Reason: reason}
}

func indexOfStep(steps []models.ApprovalStep, stepID string) int {
	for i := range steps {
		if steps[i].ID == stepID {
			return i
		}
	}
	return -1
}

// closingStep returns the index of the decision that made a terminal chain terminal: the
// rejected step, or the most recently decided step of a fully approved chain.
func closingStep(steps []models.ApprovalStep) int {
	closing := -1
	for i, step := range steps {
		if step.Decision == models.StepDecisionRejected {
			return i
		}
		if step.Decision != models.StepDecisionApproved {
			continue
		}
		if closing < 0 || decidedAfter(step, steps[closing]) {
			closing = i
		}
	}
	return closing
}

func decidedAfter(a, b models.ApprovalStep) bool {
	switch {
	case a.DecidedAt == nil:
		return false
	case b.DecidedAt == nil:
		return true
	case a.DecidedAt.Equal(*b.DecidedAt):
		return a.Order > b.Order
	default:
		return a.DecidedAt.After(*b.DecidedAt)
	}
}
