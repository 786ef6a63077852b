package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestJWTRoundTrip(t *testing.T) {
	userID := uuid.New()
	token, err := GenerateJWT("test-secret", userID, "user@example.com", "client", time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}

	claims, err := ParseJWT("test-secret", token)
	if err != nil {
		t.Fatalf("ParseJWT: %v", err)
	}
	if claims.UserID != userID {
		t.Errorf("user id = %s, want %s", claims.UserID, userID)
	}
	if claims.Email != "user@example.com" {
		t.Errorf("email = %q", claims.Email)
	}
	if claims.Role != "client" {
		t.Errorf("role = %q", claims.Role)
	}
}

func TestJWTWrongSecret(t *testing.T) {
	token, err := GenerateJWT("secret-a", uuid.New(), "user@example.com", "client", time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	if _, err := ParseJWT("secret-b", token); err == nil {
		t.Error("expected error for wrong secret")
	}
}

func TestJWTExpired(t *testing.T) {
	token, err := GenerateJWT("test-secret", uuid.New(), "user@example.com", "client", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	// Negative expiration falls back to the 24h default, so the token is valid.
	if _, err := ParseJWT("test-secret", token); err != nil {
		t.Errorf("expected fallback expiration to produce a valid token, got %v", err)
	}
}

func TestPasswordHashAndCheck(t *testing.T) {
	hash, err := HashPassword("correct horse battery", 4)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword(hash, "correct horse battery") {
		t.Error("expected matching password to verify")
	}
	if CheckPassword(hash, "wrong password!") {
		t.Error("expected wrong password to fail")
	}
}

func TestPasswordTooShort(t *testing.T) {
	if _, err := HashPassword("short", 4); err == nil {
		t.Error("expected error for short password")
	}
}
