package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tiled-data/tiled/internal/query"
)

// ExternalPolicy posts decision requests to a remote HTTPS policy service,
// : "An alternative implementation posts a JSON input to
// a remote HTTPS endpoint (three endpoints: create/modify, allowed-tags,
// allowed-scopes) and parses {"result": …} responses. Timeouts and
// non-JSON/invalid-shape responses map to NO_ACCESS."
type ExternalPolicy struct {
	Client                *http.Client
	CreateModifyURL       string
	AllowedTagsURL        string
	AllowedScopesURL      string
	EmptyAccessBlobPublic bool // short-circuits root-level checks without a remote round trip
	MaxScopes             ScopeSet
}

// NewExternalPolicy constructs an ExternalPolicy with a bounded-timeout
// HTTP client, since an unresponsive remote PDP must not hang a request.
func NewExternalPolicy(createModifyURL, allowedTagsURL, allowedScopesURL string, timeout time.Duration, maxScopes ScopeSet) *ExternalPolicy {
	return &ExternalPolicy{
		Client:           &http.Client{Timeout: timeout},
		CreateModifyURL:  createModifyURL,
		AllowedTagsURL:   allowedTagsURL,
		AllowedScopesURL: allowedScopesURL,
		MaxScopes:        maxScopes,
	}
}

type decisionEnvelope struct {
	Result json.RawMessage `json:"result"`
}

func (ep *ExternalPolicy) post(ctx context.Context, url string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := ep.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errExternalPolicyUnavailable
	}
	var env decisionEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Result, out)
}

type createModifyRequest struct {
	Principal    Principal   `json:"principal"`
	AuthnTags    []string    `json:"authn_access_tags,omitempty"`
	AuthnScopes  []Scope     `json:"authn_scopes"`
	ProposedBlob *AccessBlob `json:"access_blob,omitempty"`
	CurrentBlob  *AccessBlob `json:"current_access_blob,omitempty"`
}

type createModifyResponse struct {
	Modified bool        `json:"modified"`
	Blob     *AccessBlob `json:"access_blob"`
}

func (ep *ExternalPolicy) InitNode(ctx context.Context, p Principal, authnTags []string, authnScopes ScopeSet, proposed *AccessBlob) (bool, *AccessBlob, error) {
	if ep.EmptyAccessBlobPublic && proposed == nil {
		return true, &AccessBlob{Tags: []string{"public"}}, nil
	}
	var out createModifyResponse
	if err := ep.post(ctx, ep.CreateModifyURL, createModifyRequest{
		Principal: p, AuthnTags: authnTags, AuthnScopes: authnScopes.Slice(), ProposedBlob: proposed,
	}, &out); err != nil {
		return false, nil, fmt.Errorf("external policy create/modify endpoint: %w", err)
	}
	return out.Modified, out.Blob, nil
}

func (ep *ExternalPolicy) ModifyNode(ctx context.Context, node NodeRef, p Principal, authnTags []string, authnScopes ScopeSet, proposed *AccessBlob) (bool, *AccessBlob, error) {
	var out createModifyResponse
	if err := ep.post(ctx, ep.CreateModifyURL, createModifyRequest{
		Principal: p, AuthnTags: authnTags, AuthnScopes: authnScopes.Slice(), ProposedBlob: proposed, CurrentBlob: &node.AccessBlob,
	}, &out); err != nil {
		return false, nil, fmt.Errorf("external policy create/modify endpoint: %w", err)
	}
	return out.Modified, out.Blob, nil
}

type allowedScopesRequest struct {
	Node        NodeRef   `json:"node"`
	Principal   Principal `json:"principal"`
	AuthnTags   []string  `json:"authn_access_tags,omitempty"`
	AuthnScopes []Scope   `json:"authn_scopes"`
}

func (ep *ExternalPolicy) AllowedScopes(ctx context.Context, node NodeRef, p Principal, authnTags []string, authnScopes ScopeSet) (ScopeSet, error) {
	var scopes []Scope
	if err := ep.post(ctx, ep.AllowedScopesURL, allowedScopesRequest{
		Node: node, Principal: p, AuthnTags: authnTags, AuthnScopes: authnScopes.Slice(),
	}, &scopes); err != nil {
		return ScopeSet{}, nil // timeouts/invalid shape -> NO_ACCESS, modeled as the empty scope set
	}
	return NewScopeSet(scopes...), nil
}

type allowedTagsRequest struct {
	Principal   Principal `json:"principal"`
	AuthnTags   []string  `json:"authn_access_tags,omitempty"`
	AuthnScopes []Scope   `json:"authn_scopes"`
	Required    []Scope   `json:"required_scopes"`
}

func (ep *ExternalPolicy) Filters(ctx context.Context, node NodeRef, p Principal, authnTags []string, authnScopes ScopeSet, required ScopeSet) ([]query.Query, error) {
	if !ep.MaxScopes.HasAll(required) {
		return []query.Query{query.NoAccess{}}, nil
	}
	var tags []string
	if err := ep.post(ctx, ep.AllowedTagsURL, allowedTagsRequest{
		Principal: p, AuthnTags: authnTags, AuthnScopes: authnScopes.Slice(), Required: required.Slice(),
	}, &tags); err != nil {
		return []query.Query{query.NoAccess{}}, nil
	}
	return []query.Query{query.AccessBlobFilter{UserID: p.UUID, Tags: tags}}, nil
}

var _ Policy = (*ExternalPolicy)(nil)
