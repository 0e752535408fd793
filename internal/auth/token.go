package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tiled-data/tiled/internal/apperr"
)

// tokenClaims is the JWT payload for both access and refresh tokens,
// distinguished by TokenType. Scopes are embedded so a request handler
// can authorize without a catalog round trip for the common case.
type tokenClaims struct {
	jwt.RegisteredClaims
	PrincipalUUID string   `json:"pid"`
	SessionUUID   string   `json:"sid,omitempty"`
	Scopes        []string `json:"scopes,omitempty"`
	TokenType     string   `json:"typ"`
}

// TokenIssuer signs and verifies access/refresh JWTs. Secrets[0] signs new
// tokens; every secret in Secrets is tried in order when verifying, so a
// rotation can add a new secret ahead of the old one without invalidating
// outstanding tokens (config.Config.JWTSecrets carries this ordering).
type TokenIssuer struct {
	Secrets     []string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	Issuer      string
}

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// IssueAccessToken mints a short-lived access token carrying the
// principal's current scopes.
func (ti *TokenIssuer) IssueAccessToken(principalUUID string, scopes []string) (string, time.Time, error) {
	return ti.issue(principalUUID, "", scopes, tokenTypeAccess, ti.AccessTTL)
}

// IssueRefreshToken mints a long-lived refresh token bound to a session.
func (ti *TokenIssuer) IssueRefreshToken(principalUUID, sessionUUID string) (string, time.Time, error) {
	return ti.issue(principalUUID, sessionUUID, nil, tokenTypeRefresh, ti.RefreshTTL)
}

func (ti *TokenIssuer) issue(principalUUID, sessionUUID string, scopes []string, typ string, ttl time.Duration) (string, time.Time, error) {
	if len(ti.Secrets) == 0 {
		return "", time.Time{}, fmt.Errorf("auth: no signing secret configured")
	}
	now := time.Now()
	exp := now.Add(ttl)
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ti.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		PrincipalUUID: principalUUID,
		SessionUUID:   sessionUUID,
		Scopes:        scopes,
		TokenType:     typ,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(ti.Secrets[0]))
	if err != nil {
		return "", time.Time{}, apperr.Internal(err)
	}
	return signed, exp, nil
}

// Verified is the parsed, verified form of a token.
type Verified struct {
	PrincipalUUID string
	SessionUUID   string
	Scopes        []string
	TokenType     string
	ExpiresAt     time.Time
}

// Verify parses raw against every configured secret in order, returning
// the first successful verification.
func (ti *TokenIssuer) Verify(raw string) (*Verified, error) {
	var lastErr error
	for _, secret := range ti.Secrets {
		claims := &tokenClaims{}
		tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil {
			lastErr = err
			continue
		}
		if !tok.Valid {
			lastErr = fmt.Errorf("auth: token failed validation")
			continue
		}
		exp, _ := claims.GetExpirationTime()
		var expTime time.Time
		if exp != nil {
			expTime = exp.Time
		}
		return &Verified{
			PrincipalUUID: claims.PrincipalUUID,
			SessionUUID:   claims.SessionUUID,
			Scopes:        claims.Scopes,
			TokenType:     claims.TokenType,
			ExpiresAt:     expTime,
		}, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("auth: no secrets configured")
	}
	return nil, apperr.Unauthorized("invalid or expired token: %v", lastErr)
}
