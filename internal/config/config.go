package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuongbtq/agent-worker/internal/worker/domain"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Queue backends
const (
	BackendRedis    = "redis"
	BackendRabbitMQ = "rabbitmq"
)

// DefaultUnauthenticatedHost forces a password-less Redis connection
const DefaultUnauthenticatedHost = "host.docker.internal"

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Queue    QueueConfig    `yaml:"queue"`
	Reporter ReporterConfig `yaml:"reporter"`
	Agent    AgentConfig    `yaml:"agent"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Worker   WorkerConfig   `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RedisConfig holds the queue broker connection settings
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// UnauthenticatedHosts always get a password-less connection
	UnauthenticatedHosts []string `yaml:"unauthenticated_hosts"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// QueueConfig holds the job queue consumption policy
type QueueConfig struct {
	Backend      string        `yaml:"backend"`
	Name         string        `yaml:"name"`
	TaskType     string        `yaml:"task_type"`
	LockDuration time.Duration `yaml:"lock_duration"`
	Concurrency  int           `yaml:"concurrency"`
	MaxRetry     int           `yaml:"max_retry"`
	Limiter      LimiterConfig `yaml:"limiter"`
}

// LimiterConfig admits at most Max job starts per Duration
type LimiterConfig struct {
	Max      int           `yaml:"max"`
	Duration time.Duration `yaml:"duration"`
}

// ReporterConfig holds the status server settings
type ReporterConfig struct {
	ServerURL string        `yaml:"server_url"`
	Timeout   time.Duration `yaml:"timeout"`
}

// AgentConfig holds the chat-completions agent settings
type AgentConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	Model        string        `yaml:"model"`
	SystemPrompt string        `yaml:"system_prompt"`
	Timeout      time.Duration `yaml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	HealthPort      int           `yaml:"health_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the configuration used when a value is not set in the file
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Port:            5432,
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Host:                 "localhost",
			Port:                 6379,
			UnauthenticatedHosts: []string{DefaultUnauthenticatedHost},
		},
		RabbitMQ: RabbitMQConfig{
			Port:  5672,
			VHost: "/",
			Exchange: ExchangeConfig{
				Name:    "ai_agents",
				Type:    "direct",
				Durable: true,
			},
			RoutingKey: domain.TaskTypeSearch,
			Connection: ConnectionConfig{
				RetryAttempts: 5,
				RetryInterval: 2 * time.Second,
				Heartbeat:     10 * time.Second,
			},
			Publish: PublishConfig{
				RetryAttempts:     3,
				RetryInterval:     100 * time.Millisecond,
				BackoffMultiplier: 2,
			},
		},
		Queue: QueueConfig{
			Backend:      BackendRedis,
			Name:         domain.QueueName,
			TaskType:     domain.TaskTypeSearch,
			LockDuration: domain.LockDuration,
			Concurrency:  domain.Concurrency,
			MaxRetry:     3,
			Limiter: LimiterConfig{
				Max:      domain.LimiterMax,
				Duration: domain.LimiterDuration,
			},
		},
		Reporter: ReporterConfig{
			Timeout: 10 * time.Second,
		},
		Agent: AgentConfig{
			BaseURL: "https://api.perplexity.ai",
			Model:   "sonar-pro",
			Timeout: 150 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		Worker: WorkerConfig{
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

// Load reads and parses the configuration file on top of Default()
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides file values with the recognised environment variables.
// Unset variables leave the file values alone.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}

	if v := getenv("REDIS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REDIS_PORT %q: %w", v, err)
		}
		c.Redis.Port = port
	}

	if v := getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}

	if v := getenv("SERVER_URL"); v != "" {
		c.Reporter.ServerURL = v
	}

	if v := getenv("AGENT_BASE_URL"); v != "" {
		c.Agent.BaseURL = v
	}

	if v := getenv("AGENT_API_KEY"); v != "" {
		c.Agent.APIKey = v
	}

	if v := getenv("QUEUE_BACKEND"); v != "" {
		c.Queue.Backend = v
	}

	return nil
}

// ValidateAPIConfig checks the settings the status API needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return c.validateQueue()
}

// ValidateWorkerConfig checks the settings the worker needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateQueue(); err != nil {
		return err
	}

	if c.Queue.Concurrency != domain.Concurrency {
		return fmt.Errorf("queue concurrency must be %d, got %d", domain.Concurrency, c.Queue.Concurrency)
	}

	if c.Queue.Limiter.Max != domain.LimiterMax {
		return fmt.Errorf("queue limiter max must be %d, got %d", domain.LimiterMax, c.Queue.Limiter.Max)
	}

	if c.Queue.Limiter.Duration != domain.LimiterDuration {
		return fmt.Errorf("queue limiter duration must be %s, got %s", domain.LimiterDuration, c.Queue.Limiter.Duration)
	}

	if c.Queue.LockDuration <= 0 {
		return fmt.Errorf("queue lock_duration must be greater than 0")
	}

	if c.Worker.HealthPort != 0 && (c.Worker.HealthPort < MinPort || c.Worker.HealthPort > MaxPort) {
		return fmt.Errorf("invalid worker health port: %d (must be between %d and %d)", c.Worker.HealthPort, MinPort, MaxPort)
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.Name == "" {
		return fmt.Errorf("queue name is required")
	}

	switch c.Queue.Backend {
	case BackendRedis:
		if c.Redis.Host == "" {
			return fmt.Errorf("redis host is required")
		}
		if c.Redis.Port < MinPort || c.Redis.Port > MaxPort {
			return fmt.Errorf("invalid redis port: %d (must be between %d and %d)", c.Redis.Port, MinPort, MaxPort)
		}
	case BackendRabbitMQ:
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}
		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}
	default:
		return fmt.Errorf("unknown queue backend: %q", c.Queue.Backend)
	}

	return nil
}
