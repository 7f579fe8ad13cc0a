package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/aprovamais/studyplan-api/internal/models"
	"github.com/aprovamais/studyplan-api/internal/service"
)

const testSecret = "middleware-test-secret"

func signToken(t *testing.T, secret string, role models.UserRole) string {
	t.Helper()
	claims := &models.JWTClaims{
		UserID: "student-1",
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func protectedRouter(roles ...string) *gin.Engine {
	auth := service.NewAuthService(testSecret, nil)
	router := gin.New()
	group := router.Group("/", JWT(auth))
	if len(roles) > 0 {
		group.Use(RBAC(roles...))
	}
	group.GET("/plans", func(c *gin.Context) {
		claims := c.MustGet(ContextUserKey).(*models.JWTClaims)
		c.String(http.StatusOK, claims.UserID)
	})
	return router
}

func TestJWTAcceptsValidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := protectedRouter()

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/plans", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, models.RoleStudent))
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
	if recorder.Body.String() != "student-1" {
		t.Fatalf("unexpected body: %s", recorder.Body.String())
	}
}

func TestJWTRejectsMissingHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := protectedRouter()

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/plans", nil)
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}

func TestJWTRejectsWrongSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := protectedRouter()

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/plans", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "other-secret", models.RoleStudent))
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}

func TestJWTRejectsMalformedHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := protectedRouter()

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/plans", nil)
	req.Header.Set("Authorization", "Token abc")
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}

func TestRBACAllowsMatchingRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := protectedRouter(string(models.RoleAdmin), string(models.RoleStudent))

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/plans", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, models.RoleStudent))
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}

func TestRBACForbidsOtherRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := protectedRouter(string(models.RoleAdmin))

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/plans", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, models.RoleStudent))
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusForbidden {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}
