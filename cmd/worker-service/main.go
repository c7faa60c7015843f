package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/agent-worker/internal/config"
	"github.com/cuongbtq/agent-worker/internal/worker"
	"github.com/cuongbtq/agent-worker/internal/worker/agent"
	"github.com/cuongbtq/agent-worker/internal/worker/reporter"
	"github.com/cuongbtq/agent-worker/shared/logger"
	"github.com/cuongbtq/agent-worker/shared/rabbitmq"
	"github.com/cuongbtq/agent-worker/shared/redisconn"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	workerID := uuid.NewString()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("worker_id", workerID),
	)

	logEnvironment(appLogger.Logger, cfg)

	// Status reporter and agent
	statusReporter := reporter.New(reporter.Config{
		ServerURL: cfg.Reporter.ServerURL,
		Timeout:   cfg.Reporter.Timeout,
		Logger:    appLogger.Logger,
	})
	if !statusReporter.Enabled() {
		appLogger.Warn("SERVER_URL is not set, job status will not be reported")
	}

	if cfg.Agent.APIKey == "" {
		appLogger.Warn("AGENT_API_KEY is not set, agent calls will likely be rejected")
	}

	searchAgent := agent.NewChatAgent(agent.Config{
		BaseURL:      cfg.Agent.BaseURL,
		APIKey:       cfg.Agent.APIKey,
		Model:        cfg.Agent.Model,
		SystemPrompt: cfg.Agent.SystemPrompt,
		Timeout:      cfg.Agent.Timeout,
		Logger:       appLogger.Logger,
	})

	processor := worker.NewProcessor(searchAgent, statusReporter, appLogger.Logger)

	// Queue consumer
	consumer, probe, cleanup, err := initConsumer(cfg, workerID, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize queue consumer: %w", err)
	}
	defer cleanup()

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:    appLogger.Logger,
		Processor: processor,
		Consumer:  consumer,
		Limiter:   worker.NewStartLimiter(cfg.Queue.Limiter.Max, cfg.Queue.Limiter.Duration),
		WorkerID:  workerID,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signals only trigger the controller; the close runs in the background
	shutdown := worker.NewShutdownController(workerInstance.Stop, appLogger.Logger)
	unregister := shutdown.ListenForSignals(ctx)
	defer unregister()

	var healthServer *worker.HealthServer
	if cfg.Worker.HealthPort != 0 {
		healthServer = worker.NewHealthServer(
			cfg.Worker.HealthPort,
			worker.NewHealthRouter(probe, shutdown, workerID),
			appLogger.Logger,
		)
		healthServer.Start()
	}

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully",
		slog.String("backend", cfg.Queue.Backend),
		slog.String("queue", cfg.Queue.Name),
	)

	var runErr error
	select {
	case <-shutdown.Done():
	case err := <-errChan:
		appLogger.Error("Worker error", slog.Any("error", err))
		runErr = err
		shutdown.Trigger("worker error")
	}

	// Wait for the in-flight job, bounded by the shutdown timeout
	select {
	case <-shutdown.Stopped():
		appLogger.Info("Worker stopped gracefully")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit",
			slog.Duration("timeout", cfg.Worker.ShutdownTimeout),
		)
	}

	if healthServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Warn("Health server shutdown failed", slog.Any("error", err))
		}
	}

	appLogger.Info("Worker service shutdown complete",
		slog.String("reason", shutdown.Reason()),
	)
	return runErr
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// logEnvironment logs the effective connection settings. The Redis password
// is only reported as present or absent.
func logEnvironment(log *slog.Logger, cfg *config.Config) {
	log.Info("Environment variables",
		slog.String("REDIS_HOST", cfg.Redis.Host),
		slog.Int("REDIS_PORT", cfg.Redis.Port),
		slog.Bool("REDIS_PASSWORD_SET", cfg.Redis.Password != ""),
		slog.String("SERVER_URL", cfg.Reporter.ServerURL),
		slog.String("QUEUE_BACKEND", cfg.Queue.Backend),
	)
}

// initConsumer builds the consumer for the configured backend, a health
// probe for its connection and a cleanup for anything it opened besides
func initConsumer(cfg *config.Config, workerID string, log *slog.Logger) (worker.Consumer, worker.HealthProbe, func(), error) {
	switch cfg.Queue.Backend {
	case config.BackendRabbitMQ:
		client, err := initRabbitMQ(&cfg.RabbitMQ, &cfg.Queue, log)
		if err != nil {
			return nil, nil, nil, err
		}

		probe := func(context.Context) error {
			if !client.IsConnected() {
				return fmt.Errorf("rabbitmq is not connected")
			}
			return nil
		}

		consumer := worker.NewRabbitMQConsumer(client, workerID, cfg.Queue.Name, log)
		return consumer, probe, func() {}, nil

	default:
		conn := redisconn.New(redisconn.Config{
			Host:                 cfg.Redis.Host,
			Port:                 cfg.Redis.Port,
			Password:             cfg.Redis.Password,
			DB:                   cfg.Redis.DB,
			UnauthenticatedHosts: cfg.Redis.UnauthenticatedHosts,
		})

		if conn.PasswordDropped {
			log.Warn("Ignoring REDIS_PASSWORD for unauthenticated host",
				slog.String("host", cfg.Redis.Host),
			)
		}

		log.Info("Connecting to Redis",
			slog.String("url", conn.Redacted()),
			slog.Bool("authenticated", conn.Authenticated()),
		)

		client := conn.NewClient()
		probe := func(ctx context.Context) error {
			return redisconn.Ping(ctx, client, 2*time.Second)
		}

		if err := probe(context.Background()); err != nil {
			log.Warn("Redis is not reachable yet", slog.Any("error", err))
		}

		consumer := worker.NewRedisConsumer(conn.AsynqOpt(), worker.RedisConsumerConfig{
			Queue:           cfg.Queue.Name,
			LockDuration:    cfg.Queue.LockDuration,
			ShutdownTimeout: cfg.Worker.ShutdownTimeout,
		}, log)

		cleanup := func() {
			if err := client.Close(); err != nil {
				log.Warn("Failed to close redis probe client", slog.Any("error", err))
			}
		}
		return consumer, probe, cleanup, nil
	}
}

// initRabbitMQ initializes the RabbitMQ client; the lock duration becomes
// the queue's consumer timeout
func initRabbitMQ(cfg *config.RabbitMQConfig, queue *config.QueueConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          queue.Name,
		QueueDurable:       true,
		ConsumerTimeout:    queue.LockDuration,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
