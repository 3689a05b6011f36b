package auth

import (
	"errors"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	m := NewJWTManager("secret", "appliance-license", time.Minute)

	token, err := m.GenerateAccessToken(OperatorClaims{OperatorID: "op-1", IsAdmin: true})
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	claims, err := m.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("ValidateAccessToken() error = %v", err)
	}
	if claims.OperatorID != "op-1" || !claims.IsAdmin {
		t.Errorf("Unexpected claims: %+v", claims)
	}
}

func TestTokenErrors(t *testing.T) {
	m := NewJWTManager("secret", "appliance-license", time.Minute)
	token, err := m.GenerateAccessToken(OperatorClaims{OperatorID: "op-1"})
	if err != nil {
		t.Fatal(err)
	}

	expired, err := NewJWTManager("secret", "appliance-license", -time.Minute).GenerateAccessToken(OperatorClaims{OperatorID: "op-1"})
	if err != nil {
		t.Fatal(err)
	}
	otherSecret, _ := NewJWTManager("other", "appliance-license", time.Minute).GenerateAccessToken(OperatorClaims{OperatorID: "op-1"})
	otherIssuer, _ := NewJWTManager("secret", "someone-else", time.Minute).GenerateAccessToken(OperatorClaims{OperatorID: "op-1"})

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"expired", expired, ErrTokenExpired},
		{"wrong secret", otherSecret, ErrInvalidToken},
		{"wrong issuer", otherIssuer, ErrInvalidToken},
		{"garbage", "not.a.token", ErrInvalidToken},
		{"truncated", token[:len(token)-4], ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.ValidateAccessToken(tt.token); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestGenerateRequiresOperator(t *testing.T) {
	m := NewJWTManager("secret", "appliance-license", time.Minute)
	if _, err := m.GenerateAccessToken(OperatorClaims{}); err == nil {
		t.Error("Expected error for empty operator id")
	}
}

func TestIssueToken(t *testing.T) {
	m := NewJWTManager("secret", "appliance-license", 15*time.Minute)
	resp, err := m.IssueToken(OperatorClaims{OperatorID: "op-1"})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if resp.TokenType != "Bearer" || resp.ExpiresIn != 900 || resp.AccessToken == "" {
		t.Errorf("Unexpected response: %+v", resp)
	}
}
