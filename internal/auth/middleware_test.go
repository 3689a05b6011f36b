package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newTestRouter(m *JWTManager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/who", Middleware(m), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"operator": GetOperatorID(c), "admin": IsAdmin(c)})
	})
	r.GET("/admin", Middleware(m), RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestMiddleware(t *testing.T) {
	m := NewJWTManager("secret", "appliance-license", time.Minute)
	router := newTestRouter(m)

	operator, _ := m.GenerateAccessToken(OperatorClaims{OperatorID: "op-1"})
	admin, _ := m.GenerateAccessToken(OperatorClaims{OperatorID: "root", IsAdmin: true})

	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
		wantCode   string
	}{
		{"missing header", "/who", "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"wrong scheme", "/who", "Basic abc", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"bad token", "/who", "Bearer nope", http.StatusUnauthorized, "INVALID_TOKEN"},
		{"valid token", "/who", "Bearer " + operator, http.StatusOK, ""},
		{"non admin", "/admin", "Bearer " + operator, http.StatusForbidden, "FORBIDDEN"},
		{"admin", "/admin", "bearer " + admin, http.StatusNoContent, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if tt.wantCode == "" {
				return
			}
			var body map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("Response is not JSON: %v", err)
			}
			if body["error"] != tt.wantCode {
				t.Errorf("Expected error %s, got %s", tt.wantCode, body["error"])
			}
		})
	}
}

func TestMiddlewareSetsOperator(t *testing.T) {
	m := NewJWTManager("secret", "appliance-license", time.Minute)
	token, _ := m.GenerateAccessToken(OperatorClaims{OperatorID: "op-7"})

	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	newTestRouter(m).ServeHTTP(w, req)

	var body struct {
		Operator string `json:"operator"`
		Admin    bool   `json:"admin"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Operator != "op-7" || body.Admin {
		t.Errorf("Unexpected context values: %+v", body)
	}
}
