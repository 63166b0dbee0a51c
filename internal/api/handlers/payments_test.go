package handlers

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"autoprint/internal/api/middleware"
)

func TestStaffActorDerivesFromClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// No claims at all: fall back to the role literal.
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, middleware.RoleStaff, staffActor(c))

	// Bare staff token: the shared password carries no identity beyond
	// the role.
	c, _ = gin.CreateTestContext(httptest.NewRecorder())
	c.Set("claims", &middleware.Claims{Role: middleware.RoleStaff})
	assert.Equal(t, middleware.RoleStaff, staffActor(c))

	// A session with a student id audits as that id.
	c, _ = gin.CreateTestContext(httptest.NewRecorder())
	c.Set("claims", &middleware.Claims{Role: middleware.RoleStudent, StudentID: "S1234567"})
	assert.Equal(t, "S1234567", staffActor(c))
}
