package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

const testSecret = "test-secret"

func newRouter(audience string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/whoami", JWTMiddleware(testSecret, audience), func(c *gin.Context) {
		subject, _ := Subject(c.Request.Context())
		c.String(http.StatusOK, subject)
	})
	return router
}

func TestMiddlewareAcceptsIssuedToken(t *testing.T) {
	token, err := IssueToken(testSecret, "user-123", "overlay", time.Hour)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	newRouter("overlay").ServeHTTP(resp, req)

	if resp.Code != http.StatusOK || resp.Body.String() != "user-123" {
		t.Fatalf("expected subject, got %d %q", resp.Code, resp.Body.String())
	}
}

func TestMiddlewareRejects(t *testing.T) {
	expired, _ := IssueToken(testSecret, "user-123", "", -time.Minute)
	wrongKey, _ := IssueToken("other-secret", "user-123", "", time.Hour)
	wrongAudience, _ := IssueToken(testSecret, "user-123", "elsewhere", time.Hour)
	noSubject, _ := IssueToken(testSecret, "", "overlay", time.Hour)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"empty token", "Bearer  "},
		{"expired", "Bearer " + expired},
		{"wrong key", "Bearer " + wrongKey},
		{"wrong audience", "Bearer " + wrongAudience},
		{"no subject", "Bearer " + noSubject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp := httptest.NewRecorder()
			newRouter("overlay").ServeHTTP(resp, req)
			if resp.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", resp.Code)
			}
		})
	}
}

func TestSubjectFromEmptyContext(t *testing.T) {
	if _, ok := Subject(nil); ok { //nolint:staticcheck
		t.Fatal("expected no subject")
	}
}
