package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/orgtrain-api/internal/models"
	appErrors "github.com/noah-isme/orgtrain-api/pkg/errors"
)

func strPtr(s string) *string { return &s }

func roleStep(id string, order int, role string) models.ApprovalStep {
	return models.ApprovalStep{ID: id, Order: order, RequiredRole: strPtr(role), Decision: models.StepDecisionPending}
}

func headStep(id string, order int) models.ApprovalStep {
	return models.ApprovalStep{ID: id, Order: order, IsHeadApproval: true, Decision: models.StepDecisionPending}
}

func decided(step models.ApprovalStep, d models.StepDecision, at time.Time) models.ApprovalStep {
	step.Decision = d
	step.DecidedAt = &at
	step.DecidedBy = strPtr("someone")
	return step
}

func final(step models.ApprovalStep) models.ApprovalStep {
	step.IsFinalApproval = true
	return step
}

func actorWith(head bool, roles ...string) models.ApprovalActor {
	set := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return models.ApprovalActor{PrincipalID: "actor", Roles: set, HeadAuthority: head}
}

func TestValidateStepDefinitions(t *testing.T) {
	cases := []struct {
		name    string
		defs    []models.StepDefinition
		wantErr bool
	}{
		{name: "empty", defs: nil},
		{name: "valid", defs: []models.StepDefinition{
			{Order: 1, RequiredRole: strPtr("REVIEWER")},
			{Order: 2, IsHeadApproval: true, IsFinalApproval: true},
		}},
		{name: "duplicate order", wantErr: true, defs: []models.StepDefinition{
			{Order: 1, RequiredRole: strPtr("REVIEWER")},
			{Order: 1, RequiredRole: strPtr("MANAGER")},
		}},
		{name: "two finals", wantErr: true, defs: []models.StepDefinition{
			{Order: 1, RequiredRole: strPtr("REVIEWER"), IsFinalApproval: true},
			{Order: 2, RequiredRole: strPtr("MANAGER"), IsFinalApproval: true},
		}},
		{name: "role and head", wantErr: true, defs: []models.StepDefinition{
			{Order: 1, RequiredRole: strPtr("REVIEWER"), IsHeadApproval: true},
		}},
		{name: "neither role nor head", wantErr: true, defs: []models.StepDefinition{
			{Order: 1, RequiredRole: strPtr("  ")},
		}},
		{name: "non-positive order", wantErr: true, defs: []models.StepDefinition{
			{Order: 0, RequiredRole: strPtr("REVIEWER")},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateStepDefinitions(tc.defs)
			if !tc.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, appErrors.ErrInvalidChainDefinition)
		})
	}
}

func TestBuildChainSnapshotsInOrder(t *testing.T) {
	defs := []models.StepDefinition{
		{ID: "d3", Order: 30, IsHeadApproval: true},
		{ID: "d1", Order: 10, RequiredRole: strPtr(" REVIEWER ")},
		{ID: "d2", Order: 20, RequiredRole: strPtr("MANAGER"), IsFinalApproval: true},
	}

	steps, err := BuildChain("e1", defs)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, []int{10, 20, 30}, []int{steps[0].Order, steps[1].Order, steps[2].Order})
	assert.Equal(t, "d1", steps[0].DefinitionID)
	assert.Equal(t, "REVIEWER", *steps[0].RequiredRole)
	assert.True(t, steps[1].IsFinalApproval)
	assert.Nil(t, steps[2].RequiredRole)
	for _, s := range steps {
		assert.Equal(t, "e1", s.EnrollmentID)
		assert.Equal(t, models.StepDecisionPending, s.Decision)
		assert.Nil(t, s.DecidedBy)
	}

	// later edits to the definitions do not leak into the snapshot
	*defs[1].RequiredRole = "AUDITOR"
	assert.Equal(t, "REVIEWER", *steps[0].RequiredRole)
}

func TestBuildChainRejectsInvalidDefinitions(t *testing.T) {
	_, err := BuildChain("e1", []models.StepDefinition{
		{Order: 1, RequiredRole: strPtr("A")},
		{Order: 1, RequiredRole: strPtr("B")},
	})
	assert.ErrorIs(t, err, appErrors.ErrInvalidChainDefinition)
}

func TestResolveAggregate(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name  string
		steps []models.ApprovalStep
		want  models.AggregateStatus
	}{
		{name: "no steps", steps: nil, want: models.AggregateStatusApproved},
		{name: "none decided", steps: []models.ApprovalStep{roleStep("a", 1, "R"), roleStep("b", 2, "M")}, want: models.AggregateStatusPending},
		{name: "some decided", steps: []models.ApprovalStep{decided(roleStep("a", 1, "R"), models.StepDecisionApproved, now), roleStep("b", 2, "M")}, want: models.AggregateStatusInProgress},
		{name: "all approved with final", steps: []models.ApprovalStep{
			decided(roleStep("a", 1, "R"), models.StepDecisionApproved, now),
			final(decided(roleStep("b", 2, "M"), models.StepDecisionApproved, now)),
		}, want: models.AggregateStatusFinalApproved},
		{name: "all approved without final", steps: []models.ApprovalStep{
			decided(roleStep("a", 1, "R"), models.StepDecisionApproved, now),
			decided(headStep("b", 2), models.StepDecisionApproved, now),
		}, want: models.AggregateStatusApproved},
		{name: "any rejected", steps: []models.ApprovalStep{
			decided(roleStep("a", 1, "R"), models.StepDecisionApproved, now),
			decided(roleStep("b", 2, "M"), models.StepDecisionRejected, now),
			final(roleStep("c", 3, "D")),
		}, want: models.AggregateStatusRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ResolveAggregate(tc.steps))
		})
	}
}

func TestCanAct(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	cases := []struct {
		name   string
		steps  []models.ApprovalStep
		target string
		actor  models.ApprovalActor
		want   models.GateDecision
	}{
		{
			name:   "first step with role",
			steps:  []models.ApprovalStep{roleStep("s1", 1, "R"), roleStep("s2", 2, "M")},
			target: "s1", actor: actorWith(false, "R"),
			want: models.GateDecision{Allowed: true},
		},
		{
			name:   "role match ignores case",
			steps:  []models.ApprovalStep{roleStep("s1", 1, "reviewer")},
			target: "s1", actor: actorWith(false, "REVIEWER"),
			want: models.GateDecision{Allowed: true},
		},
		{
			name:   "missing role",
			steps:  []models.ApprovalStep{roleStep("s1", 1, "R")},
			target: "s1", actor: actorWith(true, "M"),
			want: models.GateDecision{Reason: models.GateDenialUnauthorized},
		},
		{
			name:   "out of order is reported before authorization",
			steps:  []models.ApprovalStep{roleStep("s1", 1, "R"), roleStep("s2", 2, "M")},
			target: "s2", actor: actorWith(false),
			want: models.GateDecision{Reason: models.GateDenialOutOfOrder},
		},
		{
			name:   "upstream head step gates ordinary step",
			steps:  []models.ApprovalStep{headStep("s1", 1), roleStep("s2", 2, "M")},
			target: "s2", actor: actorWith(false, "M"),
			want: models.GateDecision{Reason: models.GateDenialOutOfOrder},
		},
		{
			name:   "head bypasses order",
			steps:  []models.ApprovalStep{roleStep("s1", 1, "R"), headStep("s2", 2)},
			target: "s2", actor: actorWith(true),
			want: models.GateDecision{Allowed: true},
		},
		{
			name:   "head step without authority",
			steps:  []models.ApprovalStep{headStep("s1", 1)},
			target: "s1", actor: actorWith(false, "HEAD_OF_SOMETHING"),
			want: models.GateDecision{Reason: models.GateDenialUnauthorized},
		},
		{
			name:   "already decided",
			steps:  []models.ApprovalStep{decided(roleStep("s1", 1, "R"), models.StepDecisionApproved, t0), roleStep("s2", 2, "M")},
			target: "s1", actor: actorWith(false, "R"),
			want: models.GateDecision{Reason: models.GateDenialAlreadyDecided},
		},
		{
			name:   "rejected chain is terminal for pending steps",
			steps:  []models.ApprovalStep{decided(roleStep("s1", 1, "R"), models.StepDecisionRejected, t0), roleStep("s2", 2, "M")},
			target: "s2", actor: actorWith(true, "M"),
			want: models.GateDecision{Reason: models.GateDenialChainTerminal},
		},
		{
			name:   "rejected chain blocks head steps",
			steps:  []models.ApprovalStep{decided(roleStep("s1", 1, "R"), models.StepDecisionRejected, t0), headStep("s2", 2)},
			target: "s2", actor: actorWith(true),
			want: models.GateDecision{Reason: models.GateDenialChainTerminal},
		},
		{
			name:   "re-deciding the rejected step",
			steps:  []models.ApprovalStep{decided(roleStep("s1", 1, "R"), models.StepDecisionRejected, t0), roleStep("s2", 2, "M")},
			target: "s1", actor: actorWith(false, "R"),
			want: models.GateDecision{Reason: models.GateDenialAlreadyDecided},
		},
		{
			name: "earlier step of a final approved chain",
			steps: []models.ApprovalStep{
				decided(roleStep("s1", 1, "R"), models.StepDecisionApproved, t0),
				final(decided(roleStep("s2", 2, "M"), models.StepDecisionApproved, t1)),
			},
			target: "s1", actor: actorWith(false, "R"),
			want: models.GateDecision{Reason: models.GateDenialChainTerminal},
		},
		{
			name: "closing step of a final approved chain",
			steps: []models.ApprovalStep{
				decided(roleStep("s1", 1, "R"), models.StepDecisionApproved, t0),
				final(decided(roleStep("s2", 2, "M"), models.StepDecisionApproved, t1)),
			},
			target: "s2", actor: actorWith(false, "M"),
			want: models.GateDecision{Reason: models.GateDenialAlreadyDecided},
		},
		{
			name: "fully approved chain without final step stays open",
			steps: []models.ApprovalStep{
				decided(roleStep("s1", 1, "R"), models.StepDecisionApproved, t0),
			},
			target: "s1", actor: actorWith(false, "R"),
			want: models.GateDecision{Reason: models.GateDenialAlreadyDecided},
		},
		{
			name:   "unknown step",
			steps:  []models.ApprovalStep{roleStep("s1", 1, "R")},
			target: "nope", actor: actorWith(true, "R"),
			want: models.GateDecision{Reason: models.GateDenialStepNotFound},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CanAct(tc.steps, tc.target, tc.actor))
		})
	}
}

func TestGateErrorMapping(t *testing.T) {
	assert.NoError(t, GateError(models.GateDenialNone))
	assert.ErrorIs(t, GateError(models.GateDenialAlreadyDecided), appErrors.ErrAlreadyDecided)
	assert.ErrorIs(t, GateError(models.GateDenialOutOfOrder), appErrors.ErrOutOfOrder)
	assert.ErrorIs(t, GateError(models.GateDenialUnauthorized), appErrors.ErrStepUnauthorized)
	assert.ErrorIs(t, GateError(models.GateDenialChainTerminal), appErrors.ErrChainTerminal)
	assert.ErrorIs(t, GateError(models.GateDenialStepNotFound), appErrors.ErrNotFound)
}

// Every reachable state of a small chain keeps ordinary approvals behind their predecessors.
func TestApprovalsNeverSkipAnEarlierStep(t *testing.T) {
	base := []models.ApprovalStep{roleStep("s1", 1, "R"), headStep("s2", 2), final(roleStep("s3", 3, "M"))}
	actor := actorWith(true, "R", "M")
	type move struct {
		step     string
		decision models.StepDecision
	}
	moves := []move{}
	for _, id := range []string{"s1", "s2", "s3"} {
		moves = append(moves, move{id, models.StepDecisionApproved}, move{id, models.StepDecisionRejected})
	}

	var walk func(steps []models.ApprovalStep, depth int, clock time.Time)
	walk = func(steps []models.ApprovalStep, depth int, clock time.Time) {
		assertApprovedInOrder(t, steps)
		assertSingleRejection(t, steps)
		if depth == 0 {
			return
		}
		for _, m := range moves {
			if !CanAct(steps, m.step, actor).Allowed {
				continue
			}
			next := append([]models.ApprovalStep(nil), steps...)
			idx := indexOfStep(next, m.step)
			next[idx] = decided(next[idx], m.decision, clock)
			walk(next, depth-1, clock.Add(time.Minute))
		}
	}
	walk(base, 4, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
}

func assertApprovedInOrder(t *testing.T, steps []models.ApprovalStep) {
	t.Helper()
	for _, s := range steps {
		if s.IsHeadApproval || s.Decision != models.StepDecisionApproved {
			continue
		}
		for _, prior := range steps {
			if prior.Order < s.Order {
				require.Equal(t, models.StepDecisionApproved, prior.Decision, "step %d approved before step %d", s.Order, prior.Order)
			}
		}
	}
}

func assertSingleRejection(t *testing.T, steps []models.ApprovalStep) {
	t.Helper()
	rejected := 0
	for _, s := range steps {
		if s.Decision == models.StepDecisionRejected {
			rejected++
		}
	}
	require.LessOrEqual(t, rejected, 1)
}
