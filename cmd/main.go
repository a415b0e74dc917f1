/**
 * @description
 * This is the main entry point for the payments-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, the LNbits provider client, message brokers, repositories, the
 * core application service, and the HTTP server. It wires everything together
 * and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/lnbitsclient: Client for the LNbits Lightning wallet API.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/crowdpay/payments-service/internal/api"
	"github.com/crowdpay/payments-service/internal/app"
	"github.com/crowdpay/payments-service/internal/config"
	"github.com/crowdpay/payments-service/internal/store"
	"github.com/crowdpay/payments-service/pkg/lnbitsclient"
	rmrabbit "github.com/crowdpay/payments-service/pkg/rabbitmq"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if cfg.LNbitsInvoiceKey == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"lnbits invoice key must be configured\" env=LNBITS_INVOICE_KEY")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET")
	}

	log.Printf("level=info component=bootstrap msg=\"starting payments-service\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish payment lifecycle events.
	// This service only needs to publish, so we use a producer. A missing
	// broker degrades to a no-op publisher rather than blocking payments.
	var eventProducer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		eventProducer = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		eventProducer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the client for the LNbits API.
	lnbitsClient := lnbitsclient.NewClient(cfg.LNbitsURL, cfg.LNbitsAdminKey, cfg.LNbitsInvoiceKey, cfg.WebhookURL)

	// Optional Redis connection for webhook replay dedupe.
	var webhookDedupe app.WebhookDeduper
	if cfg.RedisURL == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; webhook dedupe disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; webhook dedupe disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; webhook dedupe disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				webhookDedupe = app.NewRedisWebhookDeduper(redisClient, cfg.RedisWebhookPrefix, time.Duration(cfg.WebhookDedupeTTLSecs)*time.Second)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// watcherCtx parents all reconciliation watchers; cancelling it on
	// shutdown stops every polling loop.
	watcherCtx, cancelWatchers := context.WithCancel(context.Background())
	defer cancelWatchers()

	registry := app.NewWatcherRegistry()

	// Initialize the core application service with its dependencies.
	paymentService := app.NewService(
		watcherCtx,
		repository,
		lnbitsClient,
		eventProducer,
		registry,
		webhookDedupe,
		app.ServiceConfig{
			PollingInterval:      time.Duration(cfg.PollingIntervalSecs) * time.Second,
			PollingTimeout:       time.Duration(cfg.PollingTimeoutSecs) * time.Second,
			PlatformFeePercent:   cfg.PlatformFeePercent,
			MinContributionSats:  cfg.MinContributionSats,
			InvoiceExpirySeconds: cfg.InvoiceExpirySeconds,
		},
	)

	// Resume watchers for contributions left pending by a previous run.
	resumeCtx, cancelResume := context.WithTimeout(context.Background(), 30*time.Second)
	if err := paymentService.ResumePendingWatchers(resumeCtx); err != nil {
		log.Printf("level=error component=bootstrap msg=\"failed to resume pending watchers\" err=%v", err)
	}
	cancelResume()

	// Initialize the API handlers.
	paymentHandlers := api.NewPaymentHandlers(paymentService, cfg.WebhookSecret)

	// Set up the HTTP router and define the API routes.
	router := chi.NewRouter()
	router.Mount("/", api.PaymentRoutes(paymentHandlers, cfg.JWTSecret))

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	// Stop reconciliation watchers after the HTTP surface is drained so
	// in-flight settlements complete.
	cancelWatchers()
	paymentService.Shutdown(10 * time.Second)

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
