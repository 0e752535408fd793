// Command tiled-server runs the catalog's HTTP/WebSocket API:
// config.Load/Validate, a signal.NotifyContext shutdown, best-effort
// optional backend connection, and a fixed-timeout http.Server raced
// against a buffered error channel in a final select. This service has
// one listener and no cluster-control-plane role.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	r "gopkg.in/rethinkdb/rethinkdb-go.v6"

	"github.com/tiled-data/tiled/internal/adapterrouter"
	"github.com/tiled-data/tiled/internal/assetproxy"
	"github.com/tiled-data/tiled/internal/auth"
	"github.com/tiled-data/tiled/internal/catalogstore"
	"github.com/tiled-data/tiled/internal/httpapi"
	"github.com/tiled-data/tiled/internal/metrics"
	"github.com/tiled-data/tiled/internal/query"
	"github.com/tiled-data/tiled/internal/request"
	"github.com/tiled-data/tiled/internal/serialize"
	"github.com/tiled-data/tiled/internal/stream"
	"github.com/tiled-data/tiled/internal/validate"
	"github.com/tiled-data/tiled/pkg/config"
	"go.uber.org/zap"
)

func main() {
	log.SetFlags(0)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	catalog, err := catalogstore.Open(ctx, cfg.DatabaseURI)
	if err != nil {
		log.Fatalf("open catalog store: %v", err)
	}
	defer catalog.Close()
	catalog.SetRoleRegistry(auth.DefaultRoleRegistry())

	// RethinkDB table backend is optional; a deployment with no table
	// nodes degrades gracefully to the sql/memory backends only.
	var rethinkSession *r.Session
	if addr := os.Getenv("TILED_RETHINKDB_ADDR"); addr != "" {
		sess, derr := r.Connect(r.ConnectOpts{Address: addr})
		if derr != nil {
			logger.Warn("rethinkdb connect failed; table nodes backed by rethinkdb are disabled", zap.Error(derr))
		} else {
			rethinkSession = sess
		}
	}

	var streamStore stream.Datastore
	switch cfg.StreamBackend {
	case "redis":
		streamStore = stream.NewRedisDatastore(cfg.RedisAddr)
	default:
		streamStore = stream.NewMemDatastore()
	}
	streamWriter := stream.NewWriter(streamStore, stream.DefaultTTL)
	events := stream.NewEventBus(streamWriter)

	issuer := &auth.TokenIssuer{
		Secrets:    cfg.JWTSecrets,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
		Issuer:     cfg.JWTIssuer,
	}

	policy := auth.NewTagPolicy(auth.NewScopeSet(auth.AllScopes...))

	serializers := serialize.NewRegistry()
	serialize.RegisterDefaults(serializers)

	validators := validate.NewRegistry(false)

	queryRegistry := query.NewRegistry()
	query.RegisterSQLTranslations(queryRegistry)

	collectors := metrics.New()

	router := adapterrouter.New(catalog, rethinkSession, cfg.ResponseSizeLimitBytes)

	srv := &httpapi.Server{
		Catalog:       catalog,
		Adapters:      router,
		Policy:        policy,
		Principals:    catalog,
		Issuer:        issuer,
		Serializers:   serializers,
		Validators:    validators,
		QueryRegistry: queryRegistry,
		StreamStore:   streamStore,
		StreamWriter:  streamWriter,
		Events:        events,
		Metrics:       collectors,
		Logger:        logger,
		Assets:        assetproxy.New(),
		Pagination: httpapi.PaginationConfig{
			DefaultPageSize: cfg.DefaultPageSize,
			MaxPageSize:     cfg.MaxPageSize,
			InlineLimits:    request.InlineLimits{ContentsLimit: 500, DepthLimit: 5},
		},
		AllowAnonymousPublic: cfg.AllowAnonymousPublic,
	}

	gc := cron.New()
	if _, err := gc.AddFunc("@every 10m", func() { runGC(ctx, catalog, logger) }); err != nil {
		logger.Warn("schedule gc job failed", zap.Error(err))
	} else {
		gc.Start()
		defer gc.Stop()
	}

	handler := srv.NewRouter(cfg.AllowedOrigin)
	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	logger.Info("tiled-server listening", zap.String("addr", cfg.ListenAddr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}
}

// runGC sweeps expired sessions and API keys, the background maintenance
// implies by giving both a persisted ExpiresAt: nothing
// currently purges rows once they're past it, so stale credentials would
// otherwise accumulate forever.
func runGC(ctx context.Context, catalog *catalogstore.Store, logger *zap.Logger) {
	n, err := catalog.PruneExpiredCredentials(ctx, time.Now())
	if err != nil {
		logger.Warn("credential gc failed", zap.Error(err))
		return
	}
	if n > 0 {
		logger.Info("pruned expired credentials", zap.Int("count", n))
	}
}
