package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/virtualbank/backend/internal/notification"
	"github.com/virtualbank/backend/pkg/config"
	"github.com/virtualbank/backend/pkg/database"
	"github.com/virtualbank/backend/pkg/messaging"
	"github.com/virtualbank/backend/pkg/observability"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "notifications",
	Short: "VirtualBank notification service",
	Long:  `Consumes notification events from Kafka, persists them, and pushes them to connected clients in real time.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the notification pipeline and HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		return runServe(cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional, env vars otherwise)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sendCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cfg *config.Config) error {
	logger := observability.NewLogger("notifications")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName:    "notifications",
		ServiceVersion: "0.1.0",
		Endpoint:       cfg.OTLPEndpoint,
		Environment:    cfg.Environment,
	})
	if err != nil {
		log.Printf("Failed to init tracer: %v", err)
	} else {
		defer shutdownTracer(context.Background())
	}

	db, err := database.Connect(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := database.ApplySchema(db, "internal/notification/schema.sql"); err != nil {
		log.Printf("Failed to run migration: %v", err)
	} else {
		log.Println("Schema migration executed successfully")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis connection failed, unread cache disabled: %v", err)
		rdb = nil
	}

	// Topic provisioning is best-effort; brokers with auto-create keep working.
	for topic, partitions := range map[string]int{
		notification.TopicNotifications: notification.NotificationPartitions,
		notification.TopicEmailTasks:    notification.EmailTaskPartitions,
	} {
		if err := messaging.EnsureTopic(ctx, cfg.KafkaBrokers, topic, partitions); err != nil {
			log.Printf("Warning: failed to ensure topic %s: %v", topic, err)
		}
	}

	notifWriter := messaging.NewKafkaProducer(cfg.KafkaBrokers, notification.TopicNotifications)
	defer notifWriter.Close()
	emailWriter := messaging.NewKafkaProducer(cfg.KafkaBrokers, notification.TopicEmailTasks)
	defer emailWriter.Close()

	repo := notification.NewRepository(db)
	directory := notification.NewPostgresDirectory(db)
	cache := notification.NewUnreadCache(rdb)
	producer := notification.NewProducer(notifWriter, emailWriter, logger)
	service := notification.NewService(repo, producer, cache, logger)

	registry := notification.NewRegistry(logger)
	go registry.RunHeartbeat(ctx, cfg.HeartbeatInterval)

	mailer := notification.NewResendMailer(cfg.ResendAPIKey, cfg.FromEmail)
	dispatcher := notification.NewDispatcher(mailer, cfg.DispatcherWorkers, cfg.DispatcherQueueLen, logger)
	dispatcher.Start(ctx)

	consumer := notification.NewConsumer(repo, registry, directory, dispatcher, mailer, cache, logger)
	go messaging.NewKafkaConsumer(cfg.KafkaBrokers, notification.TopicNotifications,
		cfg.ConsumerGroup, cfg.ConsumerWorkers).Run(ctx, consumer.HandleNotification)
	go messaging.NewKafkaConsumer(cfg.KafkaBrokers, notification.TopicEmailTasks,
		cfg.ConsumerGroup+"-email", cfg.EmailWorkers).Run(ctx, consumer.HandleEmailTask)

	handler := NewNotificationHandler(service, registry, cfg.ConnectionTimeout, logger)
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: otelhttp.NewHandler(handler.Router(), "notifications-request"),
	}

	go func() {
		log.Printf("Notifications service HTTP starting on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down notifications service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	registry.Drain()
	return nil
}
