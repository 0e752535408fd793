package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/tiled-data/tiled/internal/apperr"
	"github.com/tiled-data/tiled/internal/auth"
)

type principalCtxKey struct{}

// AuthnResult is what survives request authentication: the principal (or
// the anonymous public principal) plus the scopes and tags granted by
// whichever credential was presented.
type AuthnResult struct {
	Principal   auth.Principal
	AuthnScopes auth.ScopeSet
	AuthnTags   []string
	IsAnonymous bool
}

// PrincipalStore is the minimal lookup surface Authenticate needs against
// the auth database; internal/httpapi.Server supplies the concrete
// implementation backed by catalogstore-adjacent tables.
type PrincipalStore interface {
	LookupByAPIKeyPrefix(ctx context.Context, prefix string) (auth.APIKey, auth.Principal, bool, error)
}

// Authenticate implements dual scheme: `Authorization:
// Apikey SECRET` or `Authorization: Bearer JWT`. A non-matching scheme is
// a 400; a missing/invalid credential is a 401. Anonymous requests (no
// Authorization header) are allowed through with only the configured
// public scopes, letting AllowAnonymousPublic/tag-based public access
// decide what they can actually reach.
func Authenticate(principals PrincipalStore, issuer *auth.TokenIssuer, allowAnonymous bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				if !allowAnonymous {
					WriteError(w, apperr.Unauthorized("authentication required"))
					return
				}
				ctx := context.WithValue(r.Context(), principalCtxKey{}, AuthnResult{IsAnonymous: true, AuthnTags: []string{"public"}})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			scheme, rest, ok := strings.Cut(header, " ")
			if !ok {
				WriteError(w, apperr.BadRequest("malformed Authorization header"))
				return
			}

			var result AuthnResult
			switch strings.ToLower(scheme) {
			case "apikey":
				res, err := authenticateAPIKey(r.Context(), principals, rest)
				if err != nil {
					WriteError(w, err)
					return
				}
				result = res
			case "bearer":
				res, err := authenticateBearer(issuer, rest)
				if err != nil {
					WriteError(w, err)
					return
				}
				result = res
			default:
				WriteError(w, apperr.BadRequest("unsupported Authorization scheme %q", scheme))
				return
			}

			ctx := context.WithValue(r.Context(), principalCtxKey{}, result)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticateAPIKey(ctx context.Context, principals PrincipalStore, secret string) (AuthnResult, error) {
	if len(secret) < 8 {
		return AuthnResult{}, apperr.Unauthorized("malformed API key")
	}
	prefix := secret[:8]
	key, principal, found, err := principals.LookupByAPIKeyPrefix(ctx, prefix)
	if err != nil {
		return AuthnResult{}, apperr.Internal(err)
	}
	if !found || !auth.VerifySecret(secret, key.SecretHash) {
		return AuthnResult{}, apperr.Unauthorized("invalid API key")
	}
	if key.Expired(time.Now()) {
		return AuthnResult{}, apperr.Unauthorized("API key expired")
	}
	scopes := key.EffectiveScopes(principal.RoleScopes())
	return AuthnResult{Principal: principal, AuthnScopes: scopes, AuthnTags: key.TagRestriction}, nil
}

func authenticateBearer(issuer *auth.TokenIssuer, token string) (AuthnResult, error) {
	verified, err := issuer.Verify(token)
	if err != nil {
		return AuthnResult{}, err
	}
	if verified.TokenType != "access" {
		return AuthnResult{}, apperr.Unauthorized("token is not an access token")
	}
	scopes := auth.NewScopeSet()
	for _, s := range verified.Scopes {
		scopes[auth.Scope(s)] = struct{}{}
	}
	return AuthnResult{
		Principal:   auth.Principal{UUID: verified.PrincipalUUID},
		AuthnScopes: scopes,
	}, nil
}

// FromContext retrieves the AuthnResult stashed by Authenticate.
func FromContext(ctx context.Context) (AuthnResult, bool) {
	v, ok := ctx.Value(principalCtxKey{}).(AuthnResult)
	return v, ok
}
