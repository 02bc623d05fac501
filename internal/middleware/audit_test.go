package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/orgtrain-api/internal/models"
)

type auditRecorder struct {
	logs []*models.AuditLog
}

func (a *auditRecorder) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func TestAuditRecordsSuccessfulRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := &auditRecorder{}
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(ContextUserKey, &models.JWTClaims{UserID: "admin"})
		c.Next()
	})
	r.GET("/enrollments/:id/approval-trail", Audit(recorder, models.AuditActionTrailExport, "enrollment"), func(c *gin.Context) {
		if c.Query("format") == "bad" {
			c.Status(http.StatusBadRequest)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/enrollments/e1/approval-trail?format=pdf", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, recorder.logs, 1)
	entry := recorder.logs[0]
	assert.Equal(t, models.AuditActionTrailExport, entry.Action)
	assert.Equal(t, "e1", *entry.ResourceID)
	assert.Equal(t, "admin", *entry.UserID)
	assert.Contains(t, string(entry.NewValues), "format=pdf")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/enrollments/e1/approval-trail?format=bad", nil))
	assert.Len(t, recorder.logs, 1)
}
