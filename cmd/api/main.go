package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/stravasync/internal/api"
	"example.com/stravasync/internal/auth"
	"example.com/stravasync/internal/config"
	"example.com/stravasync/internal/crypto"
	persistence "example.com/stravasync/internal/persistence/postgres"
	"example.com/stravasync/internal/queue"
	"example.com/stravasync/internal/secrets"
	"example.com/stravasync/internal/strava"
	"example.com/stravasync/internal/syncer"
	httptransport "example.com/stravasync/internal/transport/http"
	"example.com/stravasync/internal/webhook"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	secretStore := secrets.NewCached(secrets.EnvStore{})
	codec, err := loadCodec(ctx, secretStore, cfg.KEKSecretName)
	if err != nil {
		log.Fatalf("failed to load key-encryption key: %v", err)
	}

	client := strava.NewClient(nil, secretStore, cfg.StravaSecretName, strava.Config{
		BaseURL:       cfg.StravaBaseURL,
		PageSize:      cfg.StravaPageSize,
		MaxRequests:   cfg.StravaMaxRequests,
		Cooldown:      cfg.StravaCooldown,
		MaxRetries429: cfg.StravaMaxRetries,
	})

	audit := persistence.NewAuditRecorder(pool, nil)
	credentials := persistence.NewCredentialStore(pool, codec, client, audit, nil)
	profiles := persistence.NewProfileStore(pool, audit)
	activities := persistence.NewActivityStore(pool)

	publisher := queue.NewPublisher(cfg.KafkaBrokers)
	defer publisher.Close()

	runner := syncer.New(credentials, client, activities, syncer.WithPageSize(cfg.StravaPageSize))
	reconciler := webhook.NewReconciler(profiles, credentials, client, activities, nil)

	handler := api.NewHandler(
		api.Config{
			ResyncTopic:        cfg.ResyncTopic,
			WebhookVerifyToken: cfg.WebhookVerifyToken,
		},
		client,
		credentials,
		profiles,
		activities,
		runner,
		publisher,
		reconciler,
		nil,
	)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	// The webhook endpoint is authenticated by the verify token handshake, not
	// bearer tokens; health and metrics stay open for probes and scrapers.
	skipper := func(r *http.Request) bool {
		return strings.HasPrefix(r.URL.Path, "/strava/webhook") ||
			r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
	}
	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, skipper)

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, authMiddleware.Wrap(logger(mux)))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("strava-sync api listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

func loadCodec(ctx context.Context, store secrets.Store, secretName string) (*crypto.Codec, error) {
	values, err := store.Get(ctx, secretName)
	if err != nil {
		return nil, err
	}
	return crypto.NewCodecFromBase64(values["KEK_BASE64"])
}
