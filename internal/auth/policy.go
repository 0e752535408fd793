package auth

import (
	"context"
	"sync"
	"time"

	"github.com/tiled-data/tiled/internal/query"
)

// Policy is the access policy interface: four operations
// evaluated at node creation, node mutation, every authorized operation,
// and every listing/search, matching the real tiled project's
// AccessPolicy ABC (access_control/protocols.py) one-to-one.
type Policy interface {
	InitNode(ctx context.Context, p Principal, authnTags []string, authnScopes ScopeSet, proposed *AccessBlob) (modified bool, blob *AccessBlob, err error)
	ModifyNode(ctx context.Context, node NodeRef, p Principal, authnTags []string, authnScopes ScopeSet, proposed *AccessBlob) (modified bool, blob *AccessBlob, err error)
	AllowedScopes(ctx context.Context, node NodeRef, p Principal, authnTags []string, authnScopes ScopeSet) (ScopeSet, error)
	Filters(ctx context.Context, node NodeRef, p Principal, authnTags []string, authnScopes ScopeSet, required ScopeSet) ([]query.Query, error)
}

// NodeRef is the minimal view of a node the policy needs: its current
// access blob. Kept separate from catalogstore.Node to avoid a package
// cycle (catalogstore does not need to know about auth).
type NodeRef struct {
	ID         int64
	AccessBlob AccessBlob
}

// TagEntry is one row of the compiled tag table: the scopes a tag grants
// to a principal identifier ("user:<uuid>", "role:<name>", or "*" for
// every principal).
type TagEntry struct {
	Tag                 string
	PrincipalIdentifier string
	Scopes              ScopeSet
}

// TagPolicy is the tag-compiled policy engine: a periodically refreshed
// compiled table mapping tag -> granted scopes, evaluated per request
// instead of re-querying grant rows each time.
type TagPolicy struct {
	mu          sync.RWMutex
	table       map[string]ScopeSet            // tag -> union of granted scopes across all principal rows, recompiled on Compile
	byPrincipal map[string]map[string]ScopeSet // tag -> principal identifier -> scopes
	maxScopes   ScopeSet
	lastCompile time.Time
}

// NewTagPolicy constructs an empty TagPolicy; call Compile to populate it
// from persisted role/tag bindings.
func NewTagPolicy(maxScopes ScopeSet) *TagPolicy {
	return &TagPolicy{
		table:       make(map[string]ScopeSet),
		byPrincipal: make(map[string]map[string]ScopeSet),
		maxScopes:   maxScopes,
	}
}

// Compile replaces the compiled table with entries, the same
// swap-the-whole-table-under-lock pattern as permission.Cache.sync.
func (tp *TagPolicy) Compile(entries []TagEntry) {
	byPrincipal := make(map[string]map[string]ScopeSet)
	union := make(map[string]ScopeSet)
	for _, e := range entries {
		if byPrincipal[e.Tag] == nil {
			byPrincipal[e.Tag] = make(map[string]ScopeSet)
		}
		byPrincipal[e.Tag][e.PrincipalIdentifier] = byPrincipal[e.Tag][e.PrincipalIdentifier].Union(e.Scopes)
		union[e.Tag] = union[e.Tag].Union(e.Scopes)
	}
	tp.mu.Lock()
	tp.table = union
	tp.byPrincipal = byPrincipal
	tp.lastCompile = time.Now()
	tp.mu.Unlock()
}

func principalIdentifiers(p Principal) []string {
	ids := make([]string, 0, len(p.Roles)+1)
	ids = append(ids, "user:"+p.UUID, "*")
	for _, r := range p.Roles {
		ids = append(ids, "role:"+r.Name)
	}
	return ids
}

// scopesGrantedByTag returns the scopes tag grants to p, across every
// principal identifier p holds (user uuid, roles, and the wildcard).
func (tp *TagPolicy) scopesGrantedByTag(tag string, p Principal) ScopeSet {
	tp.mu.RLock()
	defer tp.mu.RUnlock()
	byPrincipal, ok := tp.byPrincipal[tag]
	if !ok {
		if tag == "public" {
			return PublicScopes
		}
		return ScopeSet{}
	}
	out := make(ScopeSet)
	for _, id := range principalIdentifiers(p) {
		out = out.Union(byPrincipal[id])
	}
	if tag == "public" {
		out = out.Union(PublicScopes)
	}
	return out
}

// InitNode validates and normalizes the proposed access blob. Admin
// principals may leave the blob empty (a nil proposal becomes an empty
// blob); every other well-formedness check applies to them as well.
func (tp *TagPolicy) InitNode(ctx context.Context, p Principal, authnTags []string, authnScopes ScopeSet, proposed *AccessBlob) (bool, *AccessBlob, error) {
	if proposed == nil {
		if p.IsAdmin() {
			empty := &AccessBlob{}
			return true, empty, nil
		}
		return false, nil, errEmptyAccessBlob
	}
	if err := proposed.Validate(p.IsAdmin()); err != nil {
		return false, nil, err
	}
	return false, proposed, nil
}

// ModifyNode re-validates a proposed replacement access blob and refuses
// mutations that would lock the caller out of their own remaining scopes,
// unless the caller is admin.
func (tp *TagPolicy) ModifyNode(ctx context.Context, node NodeRef, p Principal, authnTags []string, authnScopes ScopeSet, proposed *AccessBlob) (bool, *AccessBlob, error) {
	if proposed == nil {
		return false, &node.AccessBlob, nil
	}
	if err := proposed.Validate(p.IsAdmin()); err != nil {
		return false, nil, err
	}
	if !p.IsAdmin() {
		remaining, err := tp.allowedScopesForBlob(*proposed, p, authnTags, authnScopes)
		if err != nil {
			return false, nil, err
		}
		if !remaining.HasAll(MinimumSelfScopes) {
			return false, nil, errSelfLockout
		}
	}
	return true, proposed, nil
}

// AllowedScopes resolves the scopes p holds on node:
// owner match (absent a tag restriction) grants the full scope set;
// otherwise intersect the tag-granted scopes across all tags on the node,
// always including the public scopes when a public tag is present.
func (tp *TagPolicy) AllowedScopes(ctx context.Context, node NodeRef, p Principal, authnTags []string, authnScopes ScopeSet) (ScopeSet, error) {
	return tp.allowedScopesForBlob(node.AccessBlob, p, authnTags, authnScopes)
}

// allowedScopesForBlob computes the scopes p holds on blob, then narrows
// that to what the presented credential actually carries: a credential
// with a restricted authnScopes set (an API key issued with fewer than
// the principal's full role scopes) can never grant more than it was
// issued, regardless of what the node's owner/tags would otherwise allow.
func (tp *TagPolicy) allowedScopesForBlob(blob AccessBlob, p Principal, authnTags []string, authnScopes ScopeSet) (ScopeSet, error) {
	granted, err := tp.nodeScopesForBlob(blob, p, authnTags)
	if err != nil {
		return nil, err
	}
	if authnScopes == nil {
		return granted, nil
	}
	return granted.Intersect(authnScopes), nil
}

func (tp *TagPolicy) nodeScopesForBlob(blob AccessBlob, p Principal, authnTags []string) (ScopeSet, error) {
	if blob.IsOwnerOnly() && blob.User == p.UUID && len(authnTags) == 0 {
		return tp.maxScopes, nil
	}
	if !blob.IsTagGoverned() {
		return ScopeSet{}, nil
	}
	hasRestriction := len(authnTags) > 0
	var granted ScopeSet
	seen, public := false, false
	for _, tag := range blob.Tags {
		if hasRestriction && !containsTag(authnTags, tag) {
			continue
		}
		tagScopes := tp.scopesGrantedByTag(tag, p)
		if !seen {
			granted, seen = tagScopes, true
		} else {
			granted = granted.Intersect(tagScopes)
		}
		if tag == "public" {
			public = true
		}
	}
	if granted == nil {
		granted = make(ScopeSet)
	}
	if public {
		granted = granted.Union(PublicScopes)
	}
	return granted, nil
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Filters computes the AccessBlobFilter (or NoAccess) the caller's
// listing/search should apply: the set of tags granting
// every required scope, intersected with any API-key tag restriction.
func (tp *TagPolicy) Filters(ctx context.Context, node NodeRef, p Principal, authnTags []string, authnScopes ScopeSet, required ScopeSet) ([]query.Query, error) {
	if !tp.maxScopes.HasAll(required) {
		return []query.Query{query.NoAccess{}}, nil
	}
	if authnScopes != nil && !authnScopes.HasAll(required) {
		// The presented credential itself (e.g. a scope-restricted API
		// key) never carries the required scopes, regardless of what
		// any tag would otherwise grant.
		return []query.Query{query.NoAccess{}}, nil
	}
	tp.mu.RLock()
	allTags := make([]string, 0, len(tp.byPrincipal))
	for tag := range tp.byPrincipal {
		allTags = append(allTags, tag)
	}
	tp.mu.RUnlock()

	grantingTags := make([]string, 0)
	for _, tag := range allTags {
		if len(authnTags) > 0 && !containsTag(authnTags, tag) {
			continue
		}
		if tp.scopesGrantedByTag(tag, p).HasAll(required) {
			grantingTags = append(grantingTags, tag)
		}
	}
	if required.HasAll(PublicScopes) && (len(authnTags) == 0 || containsTag(authnTags, "public")) {
		grantingTags = append(grantingTags, "public")
	}
	return []query.Query{query.AccessBlobFilter{UserID: p.UUID, Tags: grantingTags}}, nil
}

var _ Policy = (*TagPolicy)(nil)

// AllowAllPolicy is the permissive stand-in used in tests and single-user
// deployments, generalizing the real tiled project's DummyAccessPolicy:
// every principal has every scope on every node, and filters() never
// restricts the result set.
type AllowAllPolicy struct{}

func (AllowAllPolicy) InitNode(ctx context.Context, p Principal, authnTags []string, authnScopes ScopeSet, proposed *AccessBlob) (bool, *AccessBlob, error) {
	if proposed == nil {
		empty := &AccessBlob{Tags: []string{"public"}}
		return true, empty, nil
	}
	return false, proposed, nil
}

func (AllowAllPolicy) ModifyNode(ctx context.Context, node NodeRef, p Principal, authnTags []string, authnScopes ScopeSet, proposed *AccessBlob) (bool, *AccessBlob, error) {
	return proposed != nil, proposed, nil
}

func (AllowAllPolicy) AllowedScopes(ctx context.Context, node NodeRef, p Principal, authnTags []string, authnScopes ScopeSet) (ScopeSet, error) {
	return NewScopeSet(AllScopes...), nil
}

func (AllowAllPolicy) Filters(ctx context.Context, node NodeRef, p Principal, authnTags []string, authnScopes ScopeSet, required ScopeSet) ([]query.Query, error) {
	return nil, nil
}

var _ Policy = AllowAllPolicy{}
