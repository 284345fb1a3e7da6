package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

func TestTokensRoundTrip(t *testing.T) {
	tokens, err := NewTokens("secret", "rent360-test")
	if err != nil {
		t.Fatal(err)
	}
	tok, err := tokens.Issue("sid-1", "Owner@Rent360.com", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := tokens.Parse(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.SessionID() != "sid-1" || claims.Subject != "owner@rent360.com" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestTokensRejectTampering(t *testing.T) {
	tokens, _ := NewTokens("secret", "rent360")
	other, _ := NewTokens("other-secret", "rent360")
	foreign, _ := NewTokens("secret", "someone-else")

	tok, err := other.Issue("sid", "a@b.c", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tokens.Parse(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected signature failure, got %v", err)
	}

	tok, _ = foreign.Issue("sid", "a@b.c", time.Now().Add(time.Hour))
	if _, err := tokens.Parse(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected issuer failure, got %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: "rent360", ID: "sid"}})
	raw, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := tokens.Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected alg none rejection, got %v", err)
	}
	if _, err := tokens.Parse(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatal("empty token must be rejected")
	}
}

func TestTokensExpire(t *testing.T) {
	tokens, _ := NewTokens("secret", "")
	now := time.Now()
	tok, err := tokens.Issue("sid", "a@b.c", now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	tokens.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, err := tokens.Parse(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expiry failure, got %v", err)
	}
	if _, err := tokens.Issue("sid", "a@b.c", now.Add(-time.Second)); err == nil {
		t.Fatal("expected error for past expiry")
	}
	if _, err := NewTokens("  ", ""); err == nil {
		t.Fatal("expected missing secret error")
	}
}

func TestCheckPassword(t *testing.T) {
	raw, err := bcrypt.GenerateFromPassword([]byte("Owner@123"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	hash := string(raw)
	if !CheckPassword(hash, "Owner@123") || CheckPassword(hash, "owner@123") {
		t.Fatal("bcrypt comparison failed")
	}
	if !CheckPassword("plain", "plain") || CheckPassword("plain", "Plain") {
		t.Fatal("plaintext comparison failed")
	}
}

func TestNormalizeRoles(t *testing.T) {
	got := NormalizeRoles([]string{"tenant", " owner ", "tenant", "root"})
	if len(got) != 2 || got[0] != RoleTenant || got[1] != RoleOwner {
		t.Fatalf("unexpected roles %v", got)
	}
	if got := NormalizeRoles([]Role{}); len(got) != 1 || got[0] != RolePublicUser {
		t.Fatalf("expected publicUser fallback, got %v", got)
	}
}
