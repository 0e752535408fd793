package catalogstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/tiled-data/tiled/internal/apperr"
	"github.com/tiled-data/tiled/internal/auth"
)

// principalBody is everything about a Principal that isn't its own
// uuid/type column: identities plus role *names* only, since
// auth.Role.Scopes is resolved at load time from the role registry rather
// than persisted (auth.RoleRegistry).
type principalBody struct {
	Identities []auth.Identity `json:"identities"`
	RoleNames  []string        `json:"role_names"`
}

type apiKeyBody struct {
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Scopes         []string   `json:"scopes"`
	TagRestriction []string   `json:"tag_restriction,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	Note           string     `json:"note,omitempty"`
}

type sessionBody struct {
	ExpiresAt    time.Time `json:"expires_at"`
	Revoked      bool      `json:"revoked"`
	RefreshCount int       `json:"refresh_count"`
}

// roleRegistry returns s's configured registry, falling back to the
// default fixed set so a Store constructed without one still resolves the
// built-in role names.
func (s *Store) roleRegistry() auth.RoleRegistry {
	if s.roles != nil {
		return s.roles
	}
	return auth.DefaultRoleRegistry()
}

// SetRoleRegistry installs the role name -> scopes table principal loads
// hydrate Role.Scopes from. Call once at startup before serving requests.
func (s *Store) SetRoleRegistry(r auth.RoleRegistry) {
	s.roles = r
}

// RoleScopes resolves name to the scopes the configured registry grants it,
// an empty set for an unknown name.
func (s *Store) RoleScopes(name string) auth.ScopeSet {
	return s.roleRegistry()[name]
}

// CreatePrincipal inserts a new principal row. p.APIKeys/p.Sessions are
// ignored; those live in their own tables, created separately via
// CreateAPIKey/CreateSession.
func (s *Store) CreatePrincipal(ctx context.Context, p auth.Principal) error {
	roleNames := make([]string, len(p.Roles))
	for i, r := range p.Roles {
		roleNames[i] = r.Name
	}
	body, err := json.Marshal(principalBody{Identities: p.Identities, RoleNames: roleNames})
	if err != nil {
		return apperr.Internal(err)
	}
	query := s.rebind(`INSERT INTO principals (uuid, type, body) VALUES ($1, $2, $3)`)
	if _, err := s.db.ExecContext(ctx, query, p.UUID, string(p.Type), string(body)); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// GetPrincipal loads a principal by uuid, with Role.Scopes hydrated from
// the configured role registry and its API keys/sessions populated.
func (s *Store) GetPrincipal(ctx context.Context, uuid string) (auth.Principal, error) {
	var row struct {
		UUID string `db:"uuid"`
		Type string `db:"type"`
		Body string `db:"body"`
	}
	query := s.rebind(`SELECT uuid, type, body FROM principals WHERE uuid = $1`)
	if err := s.db.GetContext(ctx, &row, query, uuid); err != nil {
		return auth.Principal{}, wrapNotFound(err, "no principal %s", uuid)
	}
	var body principalBody
	if err := json.Unmarshal([]byte(row.Body), &body); err != nil {
		return auth.Principal{}, apperr.Internal(err)
	}
	roles := make([]auth.Role, len(body.RoleNames))
	for i, name := range body.RoleNames {
		roles[i] = auth.Role{Name: name}
	}
	roles = s.roleRegistry().Hydrate(roles)

	apiKeys, err := s.APIKeysForPrincipal(ctx, uuid)
	if err != nil {
		return auth.Principal{}, err
	}
	sessions, err := s.SessionsForPrincipal(ctx, uuid)
	if err != nil {
		return auth.Principal{}, err
	}
	return auth.Principal{
		UUID:       row.UUID,
		Type:       auth.PrincipalType(row.Type),
		Identities: body.Identities,
		Roles:      roles,
		APIKeys:    apiKeys,
		Sessions:   sessions,
	}, nil
}

// CreateAPIKey inserts a new API key row, keyed by its display prefix.
func (s *Store) CreateAPIKey(ctx context.Context, key auth.APIKey) error {
	body, err := json.Marshal(apiKeyBody{
		ExpiresAt:      key.ExpiresAt,
		Scopes:         key.Scopes,
		TagRestriction: key.TagRestriction,
		CreatedAt:      key.CreatedAt,
		LastUsedAt:     key.LastUsedAt,
		Note:           key.Note,
	})
	if err != nil {
		return apperr.Internal(err)
	}
	query := s.rebind(`INSERT INTO api_keys (prefix, principal_uuid, secret_hash, body) VALUES ($1, $2, $3, $4)`)
	if _, err := s.db.ExecContext(ctx, query, key.Prefix, key.PrincipalUUID, key.SecretHash, string(body)); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// APIKeysForPrincipal lists every API key belonging to principalUUID.
func (s *Store) APIKeysForPrincipal(ctx context.Context, principalUUID string) ([]auth.APIKey, error) {
	var rows []struct {
		Prefix        string `db:"prefix"`
		PrincipalUUID string `db:"principal_uuid"`
		SecretHash    string `db:"secret_hash"`
		Body          string `db:"body"`
	}
	query := s.rebind(`SELECT prefix, principal_uuid, secret_hash, body FROM api_keys WHERE principal_uuid = $1`)
	if err := s.db.SelectContext(ctx, &rows, query, principalUUID); err != nil {
		return nil, apperr.Internal(err)
	}
	out := make([]auth.APIKey, 0, len(rows))
	for _, row := range rows {
		var body apiKeyBody
		if err := json.Unmarshal([]byte(row.Body), &body); err != nil {
			return nil, apperr.Internal(err)
		}
		out = append(out, auth.APIKey{
			Prefix:         row.Prefix,
			PrincipalUUID:  row.PrincipalUUID,
			SecretHash:     row.SecretHash,
			ExpiresAt:      body.ExpiresAt,
			Scopes:         body.Scopes,
			TagRestriction: body.TagRestriction,
			CreatedAt:      body.CreatedAt,
			LastUsedAt:     body.LastUsedAt,
			Note:           body.Note,
		})
	}
	return out, nil
}

// LookupByAPIKeyPrefix satisfies httpapi.PrincipalStore: resolves an API
// key by its display prefix plus the principal it belongs to, in one
// round trip's worth of queries.
func (s *Store) LookupByAPIKeyPrefix(ctx context.Context, prefix string) (auth.APIKey, auth.Principal, bool, error) {
	var row struct {
		Prefix        string `db:"prefix"`
		PrincipalUUID string `db:"principal_uuid"`
		SecretHash    string `db:"secret_hash"`
		Body          string `db:"body"`
	}
	query := s.rebind(`SELECT prefix, principal_uuid, secret_hash, body FROM api_keys WHERE prefix = $1`)
	if err := s.db.GetContext(ctx, &row, query, prefix); err != nil {
		if err == sql.ErrNoRows {
			return auth.APIKey{}, auth.Principal{}, false, nil
		}
		return auth.APIKey{}, auth.Principal{}, false, apperr.Internal(err)
	}
	var body apiKeyBody
	if err := json.Unmarshal([]byte(row.Body), &body); err != nil {
		return auth.APIKey{}, auth.Principal{}, false, apperr.Internal(err)
	}
	key := auth.APIKey{
		Prefix:         row.Prefix,
		PrincipalUUID:  row.PrincipalUUID,
		SecretHash:     row.SecretHash,
		ExpiresAt:      body.ExpiresAt,
		Scopes:         body.Scopes,
		TagRestriction: body.TagRestriction,
		CreatedAt:      body.CreatedAt,
		LastUsedAt:     body.LastUsedAt,
		Note:           body.Note,
	}
	principal, err := s.GetPrincipal(ctx, row.PrincipalUUID)
	if err != nil {
		return auth.APIKey{}, auth.Principal{}, false, err
	}
	return key, principal, true, nil
}

// TouchAPIKeyLastUsed updates an API key's last-used timestamp, best
// effort: a failed update here should never fail the request it
// authenticated.
func (s *Store) TouchAPIKeyLastUsed(ctx context.Context, prefix string, when time.Time) error {
	var row struct {
		Body string `db:"body"`
	}
	query := s.rebind(`SELECT body FROM api_keys WHERE prefix = $1`)
	if err := s.db.GetContext(ctx, &row, query, prefix); err != nil {
		return apperr.Internal(err)
	}
	var body apiKeyBody
	if err := json.Unmarshal([]byte(row.Body), &body); err != nil {
		return apperr.Internal(err)
	}
	body.LastUsedAt = &when
	newBody, err := json.Marshal(body)
	if err != nil {
		return apperr.Internal(err)
	}
	update := s.rebind(`UPDATE api_keys SET body = $1 WHERE prefix = $2`)
	if _, err := s.db.ExecContext(ctx, update, string(newBody), prefix); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// RevokeAPIKey deletes an API key row by prefix
// "revoke:apikeys" operation.
func (s *Store) RevokeAPIKey(ctx context.Context, prefix string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM api_keys WHERE prefix = $1`), prefix); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, sess auth.Session) error {
	body, err := json.Marshal(sessionBody{ExpiresAt: sess.ExpiresAt, Revoked: sess.Revoked, RefreshCount: sess.RefreshCount})
	if err != nil {
		return apperr.Internal(err)
	}
	query := s.rebind(`INSERT INTO sessions (uuid, principal_uuid, body) VALUES ($1, $2, $3)`)
	if _, err := s.db.ExecContext(ctx, query, sess.UUID, sess.PrincipalUUID, string(body)); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// GetSession loads a session by uuid.
func (s *Store) GetSession(ctx context.Context, uuid string) (auth.Session, bool, error) {
	var row struct {
		UUID          string `db:"uuid"`
		PrincipalUUID string `db:"principal_uuid"`
		Body          string `db:"body"`
	}
	query := s.rebind(`SELECT uuid, principal_uuid, body FROM sessions WHERE uuid = $1`)
	if err := s.db.GetContext(ctx, &row, query, uuid); err != nil {
		if err == sql.ErrNoRows {
			return auth.Session{}, false, nil
		}
		return auth.Session{}, false, apperr.Internal(err)
	}
	var body sessionBody
	if err := json.Unmarshal([]byte(row.Body), &body); err != nil {
		return auth.Session{}, false, apperr.Internal(err)
	}
	return auth.Session{
		UUID:          row.UUID,
		PrincipalUUID: row.PrincipalUUID,
		ExpiresAt:     body.ExpiresAt,
		Revoked:       body.Revoked,
		RefreshCount:  body.RefreshCount,
	}, true, nil
}

// SessionsForPrincipal lists every session belonging to principalUUID.
func (s *Store) SessionsForPrincipal(ctx context.Context, principalUUID string) ([]auth.Session, error) {
	var rows []struct {
		UUID          string `db:"uuid"`
		PrincipalUUID string `db:"principal_uuid"`
		Body          string `db:"body"`
	}
	query := s.rebind(`SELECT uuid, principal_uuid, body FROM sessions WHERE principal_uuid = $1`)
	if err := s.db.SelectContext(ctx, &rows, query, principalUUID); err != nil {
		return nil, apperr.Internal(err)
	}
	out := make([]auth.Session, 0, len(rows))
	for _, row := range rows {
		var body sessionBody
		if err := json.Unmarshal([]byte(row.Body), &body); err != nil {
			return nil, apperr.Internal(err)
		}
		out = append(out, auth.Session{
			UUID:          row.UUID,
			PrincipalUUID: row.PrincipalUUID,
			ExpiresAt:     body.ExpiresAt,
			Revoked:       body.Revoked,
			RefreshCount:  body.RefreshCount,
		})
	}
	return out, nil
}

// RefreshSession bumps a session's refresh count and extends its
// expiration refresh-token rotation.
func (s *Store) RefreshSession(ctx context.Context, uuid string, newExpiresAt time.Time) (auth.Session, error) {
	sess, found, err := s.GetSession(ctx, uuid)
	if err != nil {
		return auth.Session{}, err
	}
	if !found {
		return auth.Session{}, apperr.NotFound("no session %s", uuid)
	}
	sess.ExpiresAt = newExpiresAt
	sess.RefreshCount++
	body, err := json.Marshal(sessionBody{ExpiresAt: sess.ExpiresAt, Revoked: sess.Revoked, RefreshCount: sess.RefreshCount})
	if err != nil {
		return auth.Session{}, apperr.Internal(err)
	}
	query := s.rebind(`UPDATE sessions SET body = $1 WHERE uuid = $2`)
	if _, err := s.db.ExecContext(ctx, query, string(body), uuid); err != nil {
		return auth.Session{}, apperr.Internal(err)
	}
	return sess, nil
}

// PruneExpiredCredentials deletes API keys past their ExpiresAt and
// sessions past their ExpiresAt as of now, returning the total number of
// rows removed. Run periodically (cmd/tiled-server's cron job) since
// neither table is pruned on any request path.
func (s *Store) PruneExpiredCredentials(ctx context.Context, now time.Time) (int, error) {
	keys, err := s.expiredAPIKeyPrefixes(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, prefix := range keys {
		if err := s.RevokeAPIKey(ctx, prefix); err != nil {
			return 0, err
		}
	}
	sessions, err := s.expiredSessionUUIDs(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, uuid := range sessions {
		if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM sessions WHERE uuid = $1`), uuid); err != nil {
			return 0, apperr.Internal(err)
		}
	}
	return len(keys) + len(sessions), nil
}

func (s *Store) expiredAPIKeyPrefixes(ctx context.Context, now time.Time) ([]string, error) {
	var rows []struct {
		Prefix string `db:"prefix"`
		Body   string `db:"body"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT prefix, body FROM api_keys`); err != nil {
		return nil, apperr.Internal(err)
	}
	var expired []string
	for _, row := range rows {
		var body apiKeyBody
		if err := json.Unmarshal([]byte(row.Body), &body); err != nil {
			continue
		}
		if body.ExpiresAt != nil && now.After(*body.ExpiresAt) {
			expired = append(expired, row.Prefix)
		}
	}
	return expired, nil
}

func (s *Store) expiredSessionUUIDs(ctx context.Context, now time.Time) ([]string, error) {
	var rows []struct {
		UUID string `db:"uuid"`
		Body string `db:"body"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT uuid, body FROM sessions`); err != nil {
		return nil, apperr.Internal(err)
	}
	var expired []string
	for _, row := range rows {
		var body sessionBody
		if err := json.Unmarshal([]byte(row.Body), &body); err != nil {
			continue
		}
		if now.After(body.ExpiresAt) {
			expired = append(expired, row.UUID)
		}
	}
	return expired, nil
}

// RevokeSession marks a session revoked in place; a revoked session's
// refresh token is rejected even if it hasn't yet expired.
func (s *Store) RevokeSession(ctx context.Context, uuid string) error {
	sess, found, err := s.GetSession(ctx, uuid)
	if err != nil {
		return err
	}
	if !found {
		return apperr.NotFound("no session %s", uuid)
	}
	sess.Revoked = true
	body, err := json.Marshal(sessionBody{ExpiresAt: sess.ExpiresAt, Revoked: sess.Revoked, RefreshCount: sess.RefreshCount})
	if err != nil {
		return apperr.Internal(err)
	}
	query := s.rebind(`UPDATE sessions SET body = $1 WHERE uuid = $2`)
	if _, err := s.db.ExecContext(ctx, query, string(body), uuid); err != nil {
		return apperr.Internal(err)
	}
	return nil
}
