package auth

import (
	"strings"
	"testing"
	"time"

	"warungpos/backend/internal/domain"
)

func TestPlaintextVerifier(t *testing.T) {
	v, err := FromName("")
	if err != nil {
		t.Fatalf("from name: %v", err)
	}
	stored, _ := v.Hash("admin123")
	if stored != "admin123" {
		t.Fatalf("expected plaintext to store as entered, got %q", stored)
	}
	if !v.Verify(stored, "admin123") {
		t.Fatalf("expected matching password to verify")
	}
	if v.Verify(stored, "admin124") || v.Verify(stored, "") {
		t.Fatalf("expected mismatches to fail")
	}
	if v.NeedsRehash(stored) {
		t.Fatalf("plaintext never asks for a rehash")
	}
}

func TestBcryptVerifierUpgradesLegacyPlaintext(t *testing.T) {
	v, err := FromName("BCRYPT")
	if err != nil {
		t.Fatalf("from name: %v", err)
	}
	if !v.NeedsRehash("kasir123") {
		t.Fatalf("expected legacy plaintext to need a rehash")
	}
	if !v.Verify("kasir123", "kasir123") {
		t.Fatalf("expected legacy plaintext to verify")
	}

	hashed, err := Bcrypt{Cost: 4}.Hash("kasir123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(hashed, "$2") || v.NeedsRehash(hashed) {
		t.Fatalf("expected a bcrypt hash, got %q", hashed)
	}
	if !v.Verify(hashed, "kasir123") || v.Verify(hashed, "nope") {
		t.Fatalf("bcrypt verification mismatch")
	}
}

func TestUnknownSchemeIsRejected(t *testing.T) {
	if _, err := FromName("md5"); err == nil {
		t.Fatalf("expected md5 to be rejected")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	m := NewTokenManager("test-secret", time.Hour)
	sess := domain.Session{UserID: 7, Username: "kasir123", Role: domain.RoleCashier}
	token, expiresAt, err := m.Issue(sess)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expected expiry in the future")
	}
	got, err := m.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != sess {
		t.Fatalf("expected %+v, got %+v", sess, got)
	}

	other := NewTokenManager("another-secret", time.Hour)
	if _, err := other.Parse(token); err != ErrInvalidToken {
		t.Fatalf("expected invalid token with a different secret, got %v", err)
	}
	if _, err := m.Parse(token + "x"); err != ErrInvalidToken {
		t.Fatalf("expected tampered token to be rejected, got %v", err)
	}
}
