package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"appliance-license/internal/auth"
	"appliance-license/internal/database"
	"appliance-license/internal/events"
	"appliance-license/internal/issuer"
	"appliance-license/internal/license"
	"appliance-license/internal/vault"
)

type apiResponse struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data"`
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
}

const scenarioBody = `{
	"model": "Z50",
	"system_serial": "A1-3333333333333",
	"contract_type": "gold",
	"contract_hardware": "four_hour",
	"contract_software": "integral",
	"contract_start": "2024-01-01",
	"duration": 300,
	"customer_name": "ACME",
	"features": ["dedup", "jails"],
	"addhw": [[2, 1]]
}`

func newTestServer(t *testing.T, jwt *auth.JWTManager, checks map[string]HealthCheck) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc, err := issuer.NewService(issuer.Options{
		Registry:            issuer.NewMemoryRegistry(),
		Escrow:              vault.NewMockClient(),
		Bus:                 events.NewEventBus(),
		DefaultDurationDays: 365,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return NewServer(ServerConfig{DecodeRateLimit: 100}, svc, jwt, checks)
}

func doRequest(t *testing.T, s *Server, method, path, body, token string) (int, apiResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var resp apiResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response %q: %v", w.Body.String(), err)
	}
	return w.Code, resp
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, nil, map[string]HealthCheck{
		"database": func(ctx context.Context) error { return nil },
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if w.Header().Get("X-Trace-ID") == "" {
		t.Error("Expected trace id header on response")
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if response["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got '%v'", response["status"])
	}
}

func TestHealthEndpointUnhealthy(t *testing.T) {
	s := newTestServer(t, nil, map[string]HealthCheck{
		"redis": func(ctx context.Context) error { return errors.New("down") },
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"redis":"unhealthy"`) {
		t.Errorf("Expected redis marked unhealthy, got %s", w.Body.String())
	}
}

func TestEncodeThenDecode(t *testing.T) {
	s := newTestServer(t, nil, nil)

	code, resp := doRequest(t, s, http.MethodPost, "/api/licenses/encode", scenarioBody, "")
	if code != http.StatusOK || !resp.Success {
		t.Fatalf("Expected 200 from encode, got %d: %+v", code, resp)
	}
	key, _ := resp.Data["license_key"].(string)
	if key == "" {
		t.Fatal("Expected license_key in response")
	}

	code, resp = doRequest(t, s, http.MethodPost, "/api/licenses/decode", `{"key": "`+key+`\n"}`, "")
	if code != http.StatusOK {
		t.Fatalf("Expected 200 from decode, got %d: %+v", code, resp)
	}

	view, _ := resp.Data["license"].(map[string]interface{})
	if view["contract_type"] != "GOLD" || view["contract_end"] != "20241027" || view["customer_name"] != "ACME" {
		t.Errorf("Unexpected view: %v", view)
	}
	if resp.Data["proactive_support"] != true {
		t.Errorf("Expected gold license to get proactive support")
	}
}

func TestDecodeErrors(t *testing.T) {
	s := newTestServer(t, nil, nil)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"not base64", `{"key": "!!!"}`, "MALFORMED_INPUT"},
		{"too short", `{"key": "AQ=="}`, "INVALID_LENGTH"},
		{"bad version", `{"key": "Ag=="}`, "UNSUPPORTED_VERSION"},
		{"missing key", `{}`, "MALFORMED_INPUT"},
		{"not json", `key=abc`, "MALFORMED_INPUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := doRequest(t, s, http.MethodPost, "/api/licenses/decode", tt.body, "")
			if code != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d", code)
			}
			if resp.Error != tt.want {
				t.Errorf("Expected error %s, got %s (%s)", tt.want, resp.Error, resp.Message)
			}
		})
	}
}

func TestEncodeErrors(t *testing.T) {
	s := newTestServer(t, nil, nil)

	tests := []struct {
		name   string
		mutate func(string) string
		want   string
	}{
		{"unknown contract type", func(b string) string { return strings.Replace(b, `"gold"`, `"platinum"`, 1) }, "UNKNOWN_ENUM_VALUE"},
		{"unknown feature", func(b string) string { return strings.Replace(b, `"jails"`, `"raid"`, 1) }, "UNKNOWN_ENUM_VALUE"},
		{"model too long", func(b string) string { return strings.Replace(b, `"Z50"`, `"ABCDEFGHIJKLMNOPQ"`, 1) }, "FIELD_TOO_LONG"},
		{"bad date", func(b string) string { return strings.Replace(b, `"2024-01-01"`, `"2024-02-30"`, 1) }, "DATE_PARSE_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := doRequest(t, s, http.MethodPost, "/api/licenses/encode", tt.mutate(scenarioBody), "")
			if code != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d: %+v", code, resp)
			}
			if resp.Error != tt.want {
				t.Errorf("Expected error %s, got %s (%s)", tt.want, resp.Error, resp.Message)
			}
		})
	}
}

func TestIssueAndLookup(t *testing.T) {
	s := newTestServer(t, nil, nil)

	code, resp := doRequest(t, s, http.MethodPost, "/api/licenses", scenarioBody, "")
	if code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %+v", code, resp)
	}
	if resp.Data["id"] == "" {
		t.Error("Expected issued id")
	}

	code, resp = doRequest(t, s, http.MethodGet, "/api/licenses/A1-3333333333333", "", "")
	if code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %+v", code, resp)
	}
	record, _ := resp.Data["record"].(map[string]interface{})
	if record["issued_by"] != "anonymous" || record["contract_type"] != "gold" {
		t.Errorf("Unexpected record: %v", record)
	}

	code, resp = doRequest(t, s, http.MethodGet, "/api/licenses?contract_type=GOLD", "", "")
	if code != http.StatusOK || resp.Data["total"] != float64(1) {
		t.Errorf("Expected one gold license, got %d: %+v", code, resp)
	}

	code, resp = doRequest(t, s, http.MethodGet, "/api/licenses/NOPE", "", "")
	if code != http.StatusNotFound || resp.Error != "NOT_FOUND" {
		t.Errorf("Expected 404 NOT_FOUND, got %d %s", code, resp.Error)
	}
}

func TestOperatorAuth(t *testing.T) {
	jwt := auth.NewJWTManager("secret", "appliance-license", time.Minute)
	s := newTestServer(t, jwt, nil)

	operator, _ := jwt.GenerateAccessToken(auth.OperatorClaims{OperatorID: "op-1"})
	admin, _ := jwt.GenerateAccessToken(auth.OperatorClaims{OperatorID: "root", IsAdmin: true})

	if code, _ := doRequest(t, s, http.MethodPost, "/api/licenses/encode", scenarioBody, ""); code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", code)
	}
	if code, _ := doRequest(t, s, http.MethodPost, "/api/licenses/encode", scenarioBody, operator); code != http.StatusOK {
		t.Errorf("Expected 200 for operator encode, got %d", code)
	}
	if code, _ := doRequest(t, s, http.MethodPost, "/api/licenses", scenarioBody, operator); code != http.StatusForbidden {
		t.Errorf("Expected 403 for non-admin issue, got %d", code)
	}

	code, resp := doRequest(t, s, http.MethodPost, "/api/licenses", scenarioBody, admin)
	if code != http.StatusCreated {
		t.Fatalf("Expected 201 for admin issue, got %d: %+v", code, resp)
	}

	_, resp = doRequest(t, s, http.MethodGet, "/api/licenses/A1-3333333333333", "", operator)
	record, _ := resp.Data["record"].(map[string]interface{})
	if record["issued_by"] != "root" {
		t.Errorf("Expected issued_by root, got %v", record["issued_by"])
	}

	// Decode stays public
	key, _ := resp.Data["record"].(map[string]interface{})["license_key"].(string)
	if code, _ := doRequest(t, s, http.MethodPost, "/api/licenses/decode", `{"key": "`+key+`"}`, ""); code != http.StatusOK {
		t.Errorf("Expected public decode to succeed, got %d", code)
	}
}

func TestProactiveSupportEndpoint(t *testing.T) {
	s := newTestServer(t, nil, nil)

	tests := map[string]bool{
		"gold":                true,
		"SILVER":              true,
		"bronze":              false,
		"silverinternational": false,
	}
	for ctype, want := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/policy/proactive-support/"+ctype, nil)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)

		var body struct {
			Allowed bool `json:"allowed"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if body.Allowed != want {
			t.Errorf("proactive support for %s = %v, want %v", ctype, body.Allowed, want)
		}
	}
}

func TestDecodeRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, _ := issuer.NewService(issuer.Options{Registry: issuer.NewMemoryRegistry()})
	s := NewServer(ServerConfig{DecodeRateLimit: 2}, svc, nil, nil)

	var last int
	for i := 0; i < 3; i++ {
		last, _ = doRequest(t, s, http.MethodPost, "/api/licenses/decode", `{"key": "AQ=="}`, "")
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("Expected 429 on third request, got %d", last)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("Expected first two requests to pass")
	}
	if rl.Allow("a") {
		t.Error("Expected third request to be limited")
	}
	if !rl.Allow("b") {
		t.Error("Expected separate key to pass")
	}
}

func TestEncodeDuration(t *testing.T) {
	s := newTestServer(t, nil, nil)

	tests := []struct {
		name     string
		duration string
		want     uint64
	}{
		{"explicit zero is kept", `"duration": 0,`, 0},
		{"explicit value", `"duration": 30,`, 30},
		{"missing takes default", ``, 365},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{` + tt.duration + `
				"system_serial": "A1-1",
				"contract_type": "standard",
				"contract_hardware": "parts",
				"contract_software": "none",
				"contract_start": "2024-01-01"
			}`
			code, resp := doRequest(t, s, http.MethodPost, "/api/licenses/encode", body, "")
			if code != http.StatusOK {
				t.Fatalf("Expected 200, got %d: %+v", code, resp)
			}

			key, _ := resp.Data["license_key"].(string)
			l, err := license.Decode(key)
			if err != nil {
				t.Fatalf("Encoded key does not decode: %v", err)
			}
			if l.Duration() != tt.want {
				t.Errorf("Expected duration %d in key, got %d", tt.want, l.Duration())
			}
		})
	}
}

func TestGetLicenseCorruptRecord(t *testing.T) {
	gin.SetMode(gin.TestMode)

	reg := issuer.NewMemoryRegistry()
	if err := reg.CreateIssuedLicense(context.Background(), &database.IssuedLicense{
		SystemSerial: "A1-BROKEN",
		ContractType: "gold",
		LicenseKey:   "AgAA",
	}); err != nil {
		t.Fatal(err)
	}
	svc, err := issuer.NewService(issuer.Options{Registry: reg})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	s := NewServer(ServerConfig{}, svc, nil, nil)

	code, resp := doRequest(t, s, http.MethodGet, "/api/licenses/A1-BROKEN", "", "")
	if code != http.StatusInternalServerError || resp.Error != "INTERNAL_ERROR" {
		t.Errorf("Expected 500 INTERNAL_ERROR, got %d %s", code, resp.Error)
	}
}
