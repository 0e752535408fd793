package auth

import (
	"testing"
	"time"
)

func testIssuer() *TokenIssuer {
	return &TokenIssuer{Secrets: []string{"first-secret", "second-secret"}, AccessTTL: time.Minute, RefreshTTL: time.Hour, Issuer: "tiled-test"}
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	ti := testIssuer()
	tok, exp, err := ti.IssueAccessToken("principal-1", []string{"read:metadata"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if exp.Before(time.Now()) {
		t.Fatalf("expected future expiration")
	}
	v, err := ti.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if v.PrincipalUUID != "principal-1" || v.TokenType != tokenTypeAccess {
		t.Fatalf("unexpected claims: %+v", v)
	}
}

func TestVerifyTriesAllSecrets(t *testing.T) {
	signer := &TokenIssuer{Secrets: []string{"only-secret"}, AccessTTL: time.Minute, Issuer: "tiled-test"}
	tok, _, err := signer.IssueAccessToken("p2", nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	verifier := &TokenIssuer{Secrets: []string{"new-secret", "only-secret"}}
	if _, err := verifier.Verify(tok); err != nil {
		t.Fatalf("expected verification against rotated secret list to succeed: %v", err)
	}
}

func TestVerifyRejectsUnknownSecret(t *testing.T) {
	signer := &TokenIssuer{Secrets: []string{"s1"}, AccessTTL: time.Minute}
	tok, _, _ := signer.IssueAccessToken("p3", nil)
	verifier := &TokenIssuer{Secrets: []string{"different"}}
	if _, err := verifier.Verify(tok); err == nil {
		t.Fatalf("expected verification with wrong secret to fail")
	}
}

func TestAPIKeySecretRoundtrip(t *testing.T) {
	gen, err := NewAPIKeySecret()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	hash := HashSecret(gen.Secret)
	if !VerifySecret(gen.Secret, hash) {
		t.Fatalf("expected secret to verify against its own hash")
	}
	if VerifySecret("wrong-secret", hash) {
		t.Fatalf("expected wrong secret to fail verification")
	}
}
