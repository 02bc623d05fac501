package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/orgtrain-api/internal/dto"
	"github.com/noah-isme/orgtrain-api/internal/middleware"
	"github.com/noah-isme/orgtrain-api/internal/models"
	appErrors "github.com/noah-isme/orgtrain-api/pkg/errors"
)

type courseTabServiceMock struct {
	created     dto.CreateCourseTabRequest
	replaced    dto.ReplaceStepDefinitionsRequest
	replaceErr  error
	getErr      error
	listCourse  string
	createActor string
}

func (m *courseTabServiceMock) Create(ctx context.Context, req dto.CreateCourseTabRequest, actorID string) (*models.CourseTab, error) {
	m.created = req
	m.createActor = actorID
	return &models.CourseTab{ID: "tab-1", CourseID: req.CourseID, Name: req.Name}, nil
}

func (m *courseTabServiceMock) Get(ctx context.Context, id string) (*models.CourseTabDetail, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return &models.CourseTabDetail{CourseTab: models.CourseTab{ID: id}}, nil
}

func (m *courseTabServiceMock) List(ctx context.Context, courseID string) ([]models.CourseTab, error) {
	m.listCourse = courseID
	return []models.CourseTab{{ID: "tab-1"}}, nil
}

func (m *courseTabServiceMock) Definitions(ctx context.Context, id string) ([]models.StepDefinition, error) {
	return []models.StepDefinition{{ID: "d1", Order: 1}}, nil
}

func (m *courseTabServiceMock) ReplaceDefinitions(ctx context.Context, id string, req dto.ReplaceStepDefinitionsRequest, actorID string) ([]models.StepDefinition, error) {
	m.replaced = req
	if m.replaceErr != nil {
		return nil, m.replaceErr
	}
	return []models.StepDefinition{{ID: "d1", Order: 1}}, nil
}

func newCourseTabRouter(svc *courseTabServiceMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewCourseTabHandler(svc)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin})
		c.Next()
	})
	r.GET("/course-tabs", h.List)
	r.POST("/course-tabs", h.Create)
	r.GET("/course-tabs/:id", h.Get)
	r.GET("/course-tabs/:id/steps", h.Steps)
	r.PUT("/course-tabs/:id/steps", h.ReplaceSteps)
	return r
}

func TestCourseTabHandlerCreate(t *testing.T) {
	svc := &courseTabServiceMock{}
	router := newCourseTabRouter(svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/course-tabs", bytes.NewBufferString(`{"courseId":"c1","name":"Onboarding"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Onboarding", svc.created.Name)
	assert.Equal(t, "admin", svc.createActor)
}

func TestCourseTabHandlerReplaceSteps(t *testing.T) {
	svc := &courseTabServiceMock{}
	router := newCourseTabRouter(svc)

	body := `{"steps":[{"order":1,"requiredRole":"REVIEWER"},{"order":2,"isHeadApproval":true,"isFinalApproval":true}]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/course-tabs/tab-1/steps", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, svc.replaced.Steps, 2)
	assert.True(t, svc.replaced.Steps[1].IsHeadApproval)
}

func TestCourseTabHandlerReplaceStepsInvalidChain(t *testing.T) {
	svc := &courseTabServiceMock{replaceErr: appErrors.Clone(appErrors.ErrInvalidChainDefinition, "duplicate step order 1")}
	router := newCourseTabRouter(svc)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/course-tabs/tab-1/steps", bytes.NewBufferString(`{"steps":[]}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_CHAIN_DEFINITION")
}

func TestCourseTabHandlerReads(t *testing.T) {
	svc := &courseTabServiceMock{}
	router := newCourseTabRouter(svc)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/course-tabs?courseId=c9", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "c9", svc.listCourse)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/course-tabs/tab-1/steps", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"order":1`)

	svc.getErr = appErrors.Clone(appErrors.ErrNotFound, "course tab not found")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/course-tabs/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
