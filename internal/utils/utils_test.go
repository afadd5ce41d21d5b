package utils

import (
	"strings"
	"testing"
)

func TestNewReference_UniqueAndPrefixed(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		ref := NewReference("DEP")
		if !strings.HasPrefix(ref, "DEP-") {
			t.Fatalf("Expected DEP- prefix, got %s", ref)
		}
		if seen[ref] {
			t.Fatalf("Duplicate reference %s", ref)
		}
		seen[ref] = true
	}
}

func TestNewReferralCode_Length(t *testing.T) {
	if code := NewReferralCode(); len(code) != 8 {
		t.Fatalf("Expected 8 characters, got %q", code)
	}
}

func TestPassword_RoundTrip(t *testing.T) {
	hash, err := HashPassword("secret123")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if !CheckPassword(hash, "secret123") {
		t.Error("Expected password to match")
	}
	if CheckPassword(hash, "wrong") {
		t.Error("Expected wrong password to fail")
	}
}

func TestSignJWT_ParseBack(t *testing.T) {
	tok, err := SignJWT("s3cret", "user-1", "admin", 5)
	if err != nil {
		t.Fatalf("SignJWT failed: %v", err)
	}
	claims, err := ParseJWT("s3cret", tok)
	if err != nil {
		t.Fatalf("ParseJWT failed: %v", err)
	}
	if claims.UserID != "user-1" || claims.Role != "admin" {
		t.Errorf("Unexpected claims: %+v", claims)
	}
	if _, err := ParseJWT("other", tok); err == nil {
		t.Error("Expected signature mismatch error")
	}
}

func TestValidateStruct(t *testing.T) {
	type req struct {
		Email  string  `validate:"required,email"`
		Amount float64 `validate:"min=100"`
	}
	errs := ValidateStruct(req{Email: "nope", Amount: 5})
	if errs == nil {
		t.Fatal("Expected validation errors")
	}
	if len(errs["email"]) == 0 || len(errs["amount"]) == 0 {
		t.Errorf("Expected email and amount errors, got %v", errs)
	}
	if ValidateStruct(req{Email: "a@b.co", Amount: 100}) != nil {
		t.Error("Expected valid struct to pass")
	}
}
