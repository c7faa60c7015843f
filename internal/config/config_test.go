package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, "jobs_db", cfg.Database.Database)
			assert.Equal(t, "ai_agents_queue", cfg.Queue.Name)
			assert.Equal(t, 180*time.Second, cfg.Queue.LockDuration)
			assert.Equal(t, time.Second, cfg.Queue.Limiter.Duration)
			assert.Equal(t, []string{"host.docker.internal", "redis.local"}, cfg.Redis.UnauthenticatedHosts)
			assert.Empty(t, cfg.Reporter.ServerURL)
			assert.Equal(t, 5*time.Second, cfg.Reporter.Timeout)
			assert.Equal(t, 8081, cfg.Worker.HealthPort)
			assert.Equal(t, 45*time.Second, cfg.Worker.ShutdownTimeout)
			assert.Equal(t, "agent-worker", cfg.App.Name)
		})
	}
}

func TestLoad_KeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := Load("testdata/missing_database.yaml")
	require.NoError(t, err)

	assert.Equal(t, BackendRedis, cfg.Queue.Backend)
	assert.Equal(t, 1, cfg.Queue.Concurrency)
	assert.Equal(t, 1, cfg.Queue.Limiter.Max)
	assert.Equal(t, 180000*time.Millisecond, cfg.Queue.LockDuration)
	assert.Equal(t, []string{DefaultUnauthenticatedHost}, cfg.Redis.UnauthenticatedHosts)
	assert.Equal(t, 6379, cfg.Redis.Port)
}

func TestConfig_ApplyEnv(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		wantErr   bool
		errString string
		check     func(t *testing.T, cfg *Config)
	}{
		{
			name: "no variables keeps defaults",
			env:  map[string]string{},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "localhost", cfg.Redis.Host)
				assert.Equal(t, 6379, cfg.Redis.Port)
				assert.Empty(t, cfg.Redis.Password)
				assert.Empty(t, cfg.Reporter.ServerURL)
			},
		},
		{
			name: "redis and server url",
			env: map[string]string{
				"REDIS_HOST":     "redis.internal",
				"REDIS_PORT":     "6380",
				"REDIS_PASSWORD": "secret",
				"SERVER_URL":     "http://server:3000",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "redis.internal", cfg.Redis.Host)
				assert.Equal(t, 6380, cfg.Redis.Port)
				assert.Equal(t, "secret", cfg.Redis.Password)
				assert.Equal(t, "http://server:3000", cfg.Reporter.ServerURL)
			},
		},
		{
			name: "agent and backend",
			env: map[string]string{
				"AGENT_BASE_URL": "http://llm:8000/v1",
				"AGENT_API_KEY":  "key",
				"QUEUE_BACKEND":  BackendRabbitMQ,
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "http://llm:8000/v1", cfg.Agent.BaseURL)
				assert.Equal(t, "key", cfg.Agent.APIKey)
				assert.Equal(t, BackendRabbitMQ, cfg.Queue.Backend)
			},
		},
		{
			name:      "invalid port",
			env:       map[string]string{"REDIS_PORT": "sixty"},
			wantErr:   true,
			errString: "invalid REDIS_PORT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			err := cfg.ApplyEnv(func(key string) string { return tt.env[key] })

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				return
			}

			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Database.Host = "localhost"
		cfg.Database.Database = "jobs_db"
		return cfg
	}

	tests := []struct {
		name      string
		mutate    func(cfg *Config)
		wantErr   bool
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(cfg *Config) {},
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(cfg *Config) { cfg.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(cfg *Config) { cfg.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "empty database host",
			mutate:    func(cfg *Config) { cfg.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(cfg *Config) { cfg.Database.Database = "" },
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name:      "empty queue name",
			mutate:    func(cfg *Config) { cfg.Queue.Name = "" },
			wantErr:   true,
			errString: "queue name is required",
		},
		{
			name: "rabbitmq backend without host",
			mutate: func(cfg *Config) {
				cfg.Queue.Backend = BackendRabbitMQ
			},
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name: "rabbitmq backend without exchange",
			mutate: func(cfg *Config) {
				cfg.Queue.Backend = BackendRabbitMQ
				cfg.RabbitMQ.Host = "localhost"
				cfg.RabbitMQ.Exchange.Name = ""
			},
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "unknown backend",
			mutate:    func(cfg *Config) { cfg.Queue.Backend = "kafka" },
			wantErr:   true,
			errString: "unknown queue backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(cfg *Config)
		wantErr   bool
		errString string
	}{
		{
			name:   "defaults are valid",
			mutate: func(cfg *Config) {},
		},
		{
			name:   "missing server url is allowed",
			mutate: func(cfg *Config) { cfg.Reporter.ServerURL = "" },
		},
		{
			name:      "empty redis host",
			mutate:    func(cfg *Config) { cfg.Redis.Host = "" },
			wantErr:   true,
			errString: "redis host is required",
		},
		{
			name:      "invalid redis port",
			mutate:    func(cfg *Config) { cfg.Redis.Port = 0 },
			wantErr:   true,
			errString: "invalid redis port",
		},
		{
			name:      "concurrency above one",
			mutate:    func(cfg *Config) { cfg.Queue.Concurrency = 2 },
			wantErr:   true,
			errString: "queue concurrency must be 1",
		},
		{
			name:      "limiter max above one",
			mutate:    func(cfg *Config) { cfg.Queue.Limiter.Max = 5 },
			wantErr:   true,
			errString: "queue limiter max must be 1",
		},
		{
			name:      "zero limiter duration",
			mutate:    func(cfg *Config) { cfg.Queue.Limiter.Duration = 0 },
			wantErr:   true,
			errString: "queue limiter duration must be 1s",
		},
		{
			name:      "wider limiter window",
			mutate:    func(cfg *Config) { cfg.Queue.Limiter.Duration = 5 * time.Second },
			wantErr:   true,
			errString: "queue limiter duration must be 1s, got 5s",
		},
		{
			name:      "zero lock duration",
			mutate:    func(cfg *Config) { cfg.Queue.LockDuration = 0 },
			wantErr:   true,
			errString: "queue lock_duration",
		},
		{
			name:      "invalid health port",
			mutate:    func(cfg *Config) { cfg.Worker.HealthPort = 70000 },
			wantErr:   true,
			errString: "invalid worker health port",
		},
		{
			name:      "zero shutdown timeout",
			mutate:    func(cfg *Config) { cfg.Worker.ShutdownTimeout = 0 },
			wantErr:   true,
			errString: "worker shutdown_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)

		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})

	t.Run("fixed concurrency policy cannot be raised", func(t *testing.T) {
		cfg, err := Load("testdata/rabbitmq_concurrency.yaml")
		require.NoError(t, err)

		err = cfg.ValidateWorkerConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "queue concurrency must be 1")
	})
}

func TestLoad_ShippedWorkerConfig(t *testing.T) {
	cfg, err := Load("../../configs/worker-service/config.yaml")
	require.NoError(t, err)

	tests := []struct {
		name          string
		env           map[string]string
		wantServerURL string
	}{
		{
			name:          "unset SERVER_URL leaves reporting disabled",
			env:           map[string]string{},
			wantServerURL: "",
		},
		{
			name:          "SERVER_URL enables reporting",
			env:           map[string]string{"SERVER_URL": "http://server:3000/trpc"},
			wantServerURL: "http://server:3000/trpc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *cfg
			require.NoError(t, c.ApplyEnv(func(key string) string { return tt.env[key] }))
			assert.Equal(t, tt.wantServerURL, c.Reporter.ServerURL)
			assert.NoError(t, c.ValidateWorkerConfig())
		})
	}
}

func TestPortConstants(t *testing.T) {
	assert.Equal(t, 1, MinPort)
	assert.Equal(t, 65535, MaxPort)
}
