// 配置加载器与校验测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearCompatEnv 屏蔽宿主环境中的兼容变量
func clearCompatEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvOpenAIAPIKey, "")
	t.Setenv(EnvModel, "")
	t.Setenv(EnvArtifacts, "")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	clearCompatEnv(t)

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "artifacts", cfg.Coach.ArtifactsDir)
	assert.Empty(t, cfg.LLM.APIKey)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	clearCompatEnv(t)
	path := writeConfig(t, `
server:
  http_port: 8888
  read_timeout: 60s
  api_keys: ["k1", "k2"]

llm:
  provider: deepseek
  model: deepseek-chat
  json_mode: true

coach:
  temperature: 0.3
  max_steps: 10
  history_token_budget: 4000
  artifacts_dir: out

session:
  store: redis
  ttl: 1h

redis:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

log:
  level: "debug"
  format: "console"
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)

	assert.Equal(t, "deepseek", cfg.LLM.Provider)
	assert.Equal(t, "deepseek-chat", cfg.LLM.Model)
	assert.True(t, cfg.LLM.JSONMode)

	assert.Equal(t, 0.3, cfg.Coach.Temperature)
	assert.Equal(t, 10, cfg.Coach.MaxSteps)
	assert.Equal(t, 4000, cfg.Coach.HistoryTokenBudget)
	assert.Equal(t, "out", cfg.Coach.ArtifactsDir)

	assert.Equal(t, "redis", cfg.Session.Store)
	assert.Equal(t, time.Hour, cfg.Session.TTL)
	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, 1, cfg.Redis.DB)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)

	// 未出现在 YAML 中的字段保持默认值
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	clearCompatEnv(t)
	t.Setenv("CICOACH_SERVER_HTTP_PORT", "7777")
	t.Setenv("CICOACH_SERVER_API_KEYS", "a, b,,c")
	t.Setenv("CICOACH_LLM_MODEL", "gpt-4o")
	t.Setenv("CICOACH_LLM_TIMEOUT", "45s")
	t.Setenv("CICOACH_COACH_TEMPERATURE", "0.9")
	t.Setenv("CICOACH_COACH_MAX_STEPS", "7")
	t.Setenv("CICOACH_JWT_ENABLED", "true")
	t.Setenv("CICOACH_LOG_LEVEL", "warn")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Server.APIKeys)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 0.9, cfg.Coach.Temperature)
	assert.Equal(t, 7, cfg.Coach.MaxSteps)
	assert.True(t, cfg.JWT.Enabled)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	clearCompatEnv(t)
	path := writeConfig(t, `
server:
  http_port: 8888
llm:
  model: yaml-model
  provider: deepseek
`)
	t.Setenv("CICOACH_SERVER_HTTP_PORT", "9999")
	t.Setenv("CICOACH_LLM_MODEL", "env-model")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "env-model", cfg.LLM.Model)
	// YAML 值保留
	assert.Equal(t, "deepseek", cfg.LLM.Provider)
}

func TestLoader_CompatEnv(t *testing.T) {
	clearCompatEnv(t)
	t.Setenv(EnvOpenAIAPIKey, "sk-compat")
	t.Setenv(EnvModel, "gpt-4.1-mini")
	t.Setenv(EnvArtifacts, "/tmp/coach-out")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "sk-compat", cfg.LLM.APIKey)
	assert.Equal(t, "gpt-4.1-mini", cfg.LLM.Model)
	assert.Equal(t, "/tmp/coach-out", cfg.Coach.ArtifactsDir)
}

func TestLoader_PrefixedEnvBeatsCompatEnv(t *testing.T) {
	clearCompatEnv(t)
	t.Setenv(EnvOpenAIAPIKey, "sk-compat")
	t.Setenv("CICOACH_LLM_API_KEY", "sk-prefixed")
	t.Setenv(EnvModel, "compat-model")
	t.Setenv("CICOACH_LLM_MODEL", "prefixed-model")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "sk-prefixed", cfg.LLM.APIKey)
	assert.Equal(t, "prefixed-model", cfg.LLM.Model)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	clearCompatEnv(t)
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")
	t.Setenv("MYAPP_COACH_ARTIFACTS_DIR", "custom")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)

	assert.Equal(t, 6666, cfg.Server.HTTPPort)
	assert.Equal(t, "custom", cfg.Coach.ArtifactsDir)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	clearCompatEnv(t)
	t.Setenv("CICOACH_SERVER_HTTP_PORT", "not-a-number")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CICOACH_SERVER_HTTP_PORT")
}

func TestLoader_WithValidator(t *testing.T) {
	clearCompatEnv(t)
	t.Setenv("CICOACH_SERVER_HTTP_PORT", "80")

	_, err := NewLoader().
		WithValidator(func(cfg *Config) error {
			if cfg.Server.HTTPPort < 1024 {
				return assert.AnError
			}
			return nil
		}).
		Load()
	assert.ErrorIs(t, err, assert.AnError)
}

func TestLoader_NonExistentFile(t *testing.T) {
	clearCompatEnv(t)

	cfg, err := NewLoader().WithConfigPath("/non/existent/path/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	clearCompatEnv(t)
	path := writeConfig(t, `
server:
  http_port: [invalid
  this is not valid yaml
`)

	_, err := NewLoader().WithConfigPath(path).Load()
	assert.Error(t, err)
}

// --- Validate 测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "valid default config", modify: func(c *Config) {}},
		{name: "negative HTTP port", modify: func(c *Config) { c.Server.HTTPPort = -1 }, wantErr: "invalid HTTP port"},
		{name: "HTTP port too large", modify: func(c *Config) { c.Server.HTTPPort = 70000 }, wantErr: "invalid HTTP port"},
		{name: "unknown provider", modify: func(c *Config) { c.LLM.Provider = "bedrock" }, wantErr: "unsupported llm provider"},
		{name: "compatible without base url", modify: func(c *Config) { c.LLM.Provider = "openai-compatible" }, wantErr: "base_url is required"},
		{name: "bad base url", modify: func(c *Config) { c.LLM.BaseURL = "not a url" }, wantErr: "invalid llm.base_url"},
		{name: "temperature too high", modify: func(c *Config) { c.Coach.Temperature = 3 }, wantErr: "temperature"},
		{name: "zero max steps", modify: func(c *Config) { c.Coach.MaxSteps = 0 }, wantErr: "max_steps"},
		{name: "empty artifacts dir", modify: func(c *Config) { c.Coach.ArtifactsDir = "" }, wantErr: "artifacts_dir"},
		{name: "unknown session store", modify: func(c *Config) { c.Session.Store = "etcd" }, wantErr: "unsupported session store"},
		{name: "mongo without uri", modify: func(c *Config) { c.Session.Store = "mongo" }, wantErr: "mongo.uri"},
		{name: "bad log level", modify: func(c *Config) { c.Log.Level = "verbose" }, wantErr: "invalid log level"},
		{name: "short jwt secret", modify: func(c *Config) { c.JWT.Enabled = true; c.JWT.Secret = "short" }, wantErr: "jwt.secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.HTTPPort = 0
	cfg.Coach.MaxSteps = 0
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid HTTP port")
	assert.Contains(t, err.Error(), "max_steps")
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name:     "postgres DSN",
			config:   DatabaseConfig{Driver: "postgres", Host: "localhost", Port: 5432, User: "user", Password: "pass", Name: "dbname", SSLMode: "disable"},
			expected: "host=localhost port=5432 user=user password=pass dbname=dbname sslmode=disable",
		},
		{
			name:     "mysql DSN",
			config:   DatabaseConfig{Driver: "mysql", Host: "localhost", Port: 3306, User: "user", Password: "pass", Name: "dbname"},
			expected: "user:pass@tcp(localhost:3306)/dbname?parseTime=true",
		},
		{
			name:     "sqlite DSN",
			config:   DatabaseConfig{Driver: "sqlite", Name: "/path/to/db.sqlite"},
			expected: "/path/to/db.sqlite",
		},
		{name: "unknown driver", config: DatabaseConfig{Driver: "unknown"}, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

func TestDatabaseConfig_MigrationDSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p@ss", Name: "coach", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p%40ss@db:5432/coach?sslmode=disable", pg.MigrationDSN())

	my := DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "coach"}
	assert.Equal(t, "u:p@tcp(db:3306)/coach?parseTime=true&multiStatements=true", my.MigrationDSN())

	sqlite := DatabaseConfig{Driver: "sqlite", Name: "coach.db"}
	assert.Equal(t, "file:coach.db", sqlite.MigrationDSN())

	assert.Empty(t, (&DatabaseConfig{Driver: "oracle"}).MigrationDSN())
}

// --- MustLoad 测试 ---

func TestMustLoad_Success(t *testing.T) {
	clearCompatEnv(t)
	path := writeConfig(t, "server:\n  http_port: 8080\n")

	assert.NotPanics(t, func() {
		cfg := MustLoad(path)
		assert.Equal(t, 8080, cfg.Server.HTTPPort)
	})
}

func TestMustLoad_InvalidFile(t *testing.T) {
	clearCompatEnv(t)
	path := writeConfig(t, "invalid: [yaml")

	assert.Panics(t, func() { MustLoad(path) })
}

func TestMustLoad_FailsValidation(t *testing.T) {
	clearCompatEnv(t)
	path := writeConfig(t, "coach:\n  max_steps: -1\n")

	assert.Panics(t, func() { MustLoad(path) })
}

func TestLoadFromEnv_Function(t *testing.T) {
	clearCompatEnv(t)
	t.Setenv("CICOACH_SESSION_STORE", "file")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.Session.Store)
}
