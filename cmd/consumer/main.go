package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"example.com/stravasync/internal/config"
	"example.com/stravasync/internal/consumer"
	"example.com/stravasync/internal/crypto"
	persistence "example.com/stravasync/internal/persistence/postgres"
	"example.com/stravasync/internal/secrets"
	"example.com/stravasync/internal/strava"
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
	activities := persistence.NewActivityStore(pool)

	handler := consumer.NewResyncHandler(credentials, client, activities, nil)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}

	go func() {
		log.Printf("consumer metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	var wg sync.WaitGroup
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:         cfg.KafkaBrokers,
		GroupID:         cfg.ConsumerGroupID,
		Topic:           cfg.ResyncTopic,
		MinBytes:        1e3,
		MaxBytes:        10e6,
		CommitInterval:  time.Second,
		RetentionTime:   24 * time.Hour,
		ReadLagInterval: -1,
	})

	proc := consumer.NewProcessor(reader, handler)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer reader.Close()

		log.Printf("resync consumer started (topic=%s, group=%s)", cfg.ResyncTopic, cfg.ConsumerGroupID)
		if err := proc.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("consumer stopped with error: %v", err)
		}
	}()

	<-stop
	log.Println("consumer shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}

	wg.Wait()
}

func loadCodec(ctx context.Context, store secrets.Store, secretName string) (*crypto.Codec, error) {
	values, err := store.Get(ctx, secretName)
	if err != nil {
		return nil, err
	}
	return crypto.NewCodecFromBase64(values["KEK_BASE64"])
}
