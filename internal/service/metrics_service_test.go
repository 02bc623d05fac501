package service

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/orgtrain-api/internal/models"
)

func TestMetricsServiceApprovalCounters(t *testing.T) {
	m := NewMetricsService()

	m.RecordDecision(models.StepDecisionApproved, models.AggregateStatusInProgress, 5*time.Millisecond)
	m.RecordDecision(models.StepDecisionRejected, models.AggregateStatusRejected, 5*time.Millisecond)
	m.RecordGateDenial(models.GateDenialOutOfOrder)
	m.RecordCASConflict()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("APPROVED", "IN_PROGRESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.gateDenials.WithLabelValues("OUT_OF_ORDER")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.casConflicts))

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.DecisionsTotal)
	assert.Equal(t, uint64(1), snap.GateDenialsTotal)
}

func TestMetricsServiceCacheRatio(t *testing.T) {
	m := NewMetricsService()
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)

	snap := m.Snapshot()
	assert.InDelta(t, 0.5, snap.CacheHitRatio, 0.0001)
}

func TestMetricsServiceNilSafe(t *testing.T) {
	var m *MetricsService
	assert.NotPanics(t, func() {
		m.RecordDecision(models.StepDecisionApproved, models.AggregateStatusApproved, 0)
		m.RecordGateDenial(models.GateDenialUnauthorized)
		m.RecordCASConflict()
		m.RecordNotification("delivered")
	})
	assert.Equal(t, models.SystemMetrics{}, m.Snapshot())
}
