package auth

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndValidate(t *testing.T) {
	v := NewVerifier("test-secret")

	token, err := v.IssueToken("u1", "Dr. Ada", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	userID, name, err := v.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if userID != "u1" || name != "Dr. Ada" {
		t.Errorf("got (%q, %q), want (u1, Dr. Ada)", userID, name)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, _ := NewVerifier("secret-a").IssueToken("u1", "x", time.Hour)

	if _, _, err := NewVerifier("secret-b").ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	v := NewVerifier("test-secret")
	token, _ := v.IssueToken("u1", "x", -time.Minute)

	if _, _, err := v.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	v := NewVerifier("test-secret")
	if _, _, err := v.ValidateToken("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}
