package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"
)

// apiKeySecretBytes is the length of the random secret portion of a newly
// minted API key, before the eight-hex-char display prefix is split off.
const apiKeySecretBytes = 24

// GeneratedAPIKey is the one-time plaintext form of a newly minted key;
// only Prefix and the SHA-256 of Secret are ever persisted.
type GeneratedAPIKey struct {
	Prefix string
	Secret string // full bearer token handed to the caller exactly once
}

// NewAPIKeySecret generates a fresh random secret and its eight-hex-char
// display prefix: "Stores only the SHA-256 of the secret
// plus the first eight hex chars (for display/revocation)."
func NewAPIKeySecret() (GeneratedAPIKey, error) {
	b := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(b); err != nil {
		return GeneratedAPIKey{}, err
	}
	secret := hex.EncodeToString(b)
	return GeneratedAPIKey{Prefix: secret[:8], Secret: secret}, nil
}

// HashSecret returns the hex SHA-256 digest stored alongside an APIKey row.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// VerifySecret reports whether secret matches the stored digest, using a
// constant-time comparison to avoid timing side channels.
func VerifySecret(secret, storedHash string) bool {
	got := HashSecret(secret)
	return subtle.ConstantTimeCompare([]byte(got), []byte(storedHash)) == 1
}

// Expired reports whether k has passed its expiration, if any.
func (k APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// EffectiveScopes resolves k's granted scopes against the principal's
// current role scopes when k declares the "inherit" metascope, or against
// its own declared scope list otherwise.
func (k APIKey) EffectiveScopes(principalScopes ScopeSet) ScopeSet {
	if k.InheritsCallerScopes() {
		return principalScopes
	}
	out := make(ScopeSet, len(k.Scopes))
	for _, s := range k.Scopes {
		if principalScopes.Has(Scope(s)) {
			out[Scope(s)] = struct{}{}
		}
	}
	return out
}
