package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tiled-data/tiled/internal/adapter"
	"github.com/tiled-data/tiled/internal/assetproxy"
	"github.com/tiled-data/tiled/internal/auth"
	"github.com/tiled-data/tiled/internal/catalogstore"
	"github.com/tiled-data/tiled/internal/metrics"
	"github.com/tiled-data/tiled/internal/query"
	"github.com/tiled-data/tiled/internal/request"
	"github.com/tiled-data/tiled/internal/serialize"
	"github.com/tiled-data/tiled/internal/stream"
	"github.com/tiled-data/tiled/internal/validate"
)

// AdapterResolver maps a resolved node's data sources to a live
// adapter.Adapter, dispatching on DataSource.Management/MimeType the way
// this describes. internal/adapter's concrete backends
// (memadapter, sqladapter, rethinktable) are wired in by cmd/tiled-server.
type AdapterResolver interface {
	Resolve(ctx context.Context, node catalogstore.Node, sources []catalogstore.DataSource) (adapter.Adapter, error)
}

// Server holds every collaborator the HTTP surface dispatches to. It is
// constructed once at startup (read-only-after-init global
// state) and is safe for concurrent use by net/http's per-request
// goroutines.
type Server struct {
	Catalog       *catalogstore.Store
	Adapters      AdapterResolver
	Policy        auth.Policy
	Principals    PrincipalStore
	Issuer        *auth.TokenIssuer
	Serializers   *serialize.Registry
	Validators    *validate.Registry
	QueryRegistry *query.Registry
	StreamStore   stream.Datastore
	StreamWriter  *stream.Writer
	Events        *stream.EventBus
	Metrics       *metrics.Collectors
	Logger        *zap.Logger
	Assets        *assetproxy.Proxy

	Pagination           PaginationConfig
	AllowAnonymousPublic bool
	SizeGuard            adapter.SizeGuard
}

// PaginationConfig carries the tunables
type PaginationConfig struct {
	DefaultPageSize int
	MaxPageSize     int
	InlineLimits    request.InlineLimits
}

// NewRouter builds the full route table, wrapped in the
// RequestID/Logging/CORS middleware triplet, backed by gorilla/mux path
// parameters.
func (s *Server) NewRouter(allowedOrigin string) http.Handler {
	r := mux.NewRouter()
	r.StrictSlash(true)

	authn := Authenticate(s.Principals, s.Issuer, s.AllowAnonymousPublic)

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	api := r.PathPrefix("/").Subrouter()
	api.Use(authn)

	api.HandleFunc("/metadata/{path:.*}", s.handleGetMetadata).Methods(http.MethodGet)
	api.HandleFunc("/metadata/{path:.*}", s.handlePatchMetadata).Methods(http.MethodPatch)
	api.HandleFunc("/metadata", s.handleGetMetadata).Methods(http.MethodGet)

	api.HandleFunc("/register/{path:.*}", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)

	api.HandleFunc("/search/{path:.*}", s.handleSearch).Methods(http.MethodGet)
	api.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)
	api.HandleFunc("/distinct/{path:.*}", s.handleDistinct).Methods(http.MethodGet)
	api.HandleFunc("/distinct", s.handleDistinct).Methods(http.MethodGet)

	api.HandleFunc("/container/full/{path:.*}", s.handleContainerFull).Methods(http.MethodGet)
	api.HandleFunc("/container/full", s.handleContainerFull).Methods(http.MethodGet)

	api.HandleFunc("/array/full/{path:.*}", s.handleArrayFull).Methods(http.MethodGet)
	api.HandleFunc("/array/block/{path:.*}", s.handleArrayBlock).Methods(http.MethodGet)
	api.HandleFunc("/array/block/{path:.*}", s.handleArrayBlockWrite).Methods(http.MethodPut)

	api.HandleFunc("/table/full/{path:.*}", s.handleTableFull).Methods(http.MethodGet)
	api.HandleFunc("/table/partition/{path:.*}", s.handleTablePartition).Methods(http.MethodGet)
	api.HandleFunc("/table/partition/{path:.*}", s.handleTablePartitionWrite).Methods(http.MethodPut)

	api.HandleFunc("/awkward/full/{path:.*}", s.handleAwkwardFull).Methods(http.MethodGet)
	api.HandleFunc("/awkward/buffers/{path:.*}", s.handleAwkwardBuffers).Methods(http.MethodGet)

	// Deprecated alias, Open Question #1: kept for backward compatibility
	// with clients written against the pre-split endpoint.
	api.HandleFunc("/node/full/{path:.*}", s.handleContainerFull).Methods(http.MethodGet)

	api.HandleFunc("/revisions/{path:.*}", s.handleListRevisions).Methods(http.MethodGet)
	api.HandleFunc("/revisions/{path:.*}", s.handleDeleteRevision).Methods(http.MethodDelete)

	api.HandleFunc("/asset/bytes/{path:.*}", s.handleAssetBytes).Methods(http.MethodGet)
	api.HandleFunc("/asset/manifest/{path:.*}", s.handleAssetManifest).Methods(http.MethodGet)

	api.HandleFunc("/stream/single/{path:.*}", s.handleStreamSingle).Methods(http.MethodGet)
	api.HandleFunc("/stream/close/{path:.*}", s.handleStreamClose).Methods(http.MethodDelete)

	api.HandleFunc("/auth/apikey", s.handleCreateAPIKey).Methods(http.MethodPost)
	api.HandleFunc("/auth/session", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/auth/session/refresh", s.handleRefreshSession).Methods(http.MethodPost)
	api.HandleFunc("/auth/whoami", s.handleWhoAmI).Methods(http.MethodGet)
	api.HandleFunc("/auth/principal", s.handleCreatePrincipal).Methods(http.MethodPost)
	api.HandleFunc("/auth/principal/{uuid}", s.handleGetPrincipal).Methods(http.MethodGet)

	var handler http.Handler = r
	handler = CORS(allowedOrigin)(handler)
	handler = Logging(s.Logger, s.Metrics)(handler)
	handler = RequestID(handler)
	return handler
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

// handleMetrics exposes s's private Prometheus registry, unauthenticated
// and scraped by infrastructure outside the principal/scope model.
func (s *Server) handleMetrics() http.Handler {
	return promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{})
}
