// =============================================================================
// 📦 CI Coach 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("CICOACH").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量（带前缀）→ 兼容环境变量
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix 环境变量前缀
const DefaultEnvPrefix = "CICOACH"

// 兼容环境变量（不带前缀）
const (
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvModel        = "CI_COACH_MODEL"
	EnvArtifacts    = "CI_COACH_ARTIFACTS"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 CI Coach 的完整配置结构
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// LLM 大语言模型配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Coach 会话编排配置
	Coach CoachConfig `yaml:"coach" env:"COACH"`

	// Session 会话存储配置
	Session SessionConfig `yaml:"session" env:"SESSION"`

	// Redis 缓存配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Mongo 文档库配置
	Mongo MongoConfig `yaml:"mongo" env:"MONGO"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// JWT 认证配置
	JWT JWTConfig `yaml:"jwt" env:"JWT"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每个 IP 每秒请求数
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发请求数
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// API Key 列表（为空时不校验）
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// 允许的跨域来源
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// LLMConfig LLM 配置
type LLMConfig struct {
	// Provider: openai, deepseek, openai-compatible, gemini
	Provider string `yaml:"provider" env:"PROVIDER"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL（可选）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 是否要求 JSON 输出
	JSONMode bool `yaml:"json_mode" env:"JSON_MODE"`
	// 连续失败多少次后熔断（0 表示关闭熔断）
	BreakerThreshold int `yaml:"breaker_threshold" env:"BREAKER_THRESHOLD"`
	// 熔断后多久放行试探请求
	BreakerResetTimeout time.Duration `yaml:"breaker_reset_timeout" env:"BREAKER_RESET_TIMEOUT"`
}

// CoachConfig 会话编排配置
type CoachConfig struct {
	// 教练节点采样温度（supervisor 固定为 0）
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	// 单次回复 token 上限
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// 单轮最多执行的节点数
	MaxSteps int `yaml:"max_steps" env:"MAX_STEPS"`
	// 历史消息 token 预算（0 表示不裁剪）
	HistoryTokenBudget int `yaml:"history_token_budget" env:"HISTORY_TOKEN_BUDGET"`
	// 图表与流程图输出目录
	ArtifactsDir string `yaml:"artifacts_dir" env:"ARTIFACTS_DIR"`
}

// SessionConfig 会话存储配置
type SessionConfig struct {
	// 存储类型: memory, file, redis, database, mongo
	Store string `yaml:"store" env:"STORE"`
	// 会话过期时间（0 表示不过期）
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// file 存储目录
	Dir string `yaml:"dir" env:"DIR"`
	// redis 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// serve 模式下内存中保留的会话数上限（0 使用默认值）
	MaxLive int `yaml:"max_live" env:"MAX_LIVE"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 启用 TLS
	TLS bool `yaml:"tls" env:"TLS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 启动时自动执行迁移
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	// 连接 URI
	URI string `yaml:"uri" env:"URI"`
	// 数据库名
	Database string `yaml:"database" env:"DATABASE"`
	// 集合名
	Collection string `yaml:"collection" env:"COLLECTION"`
	// 连接超时
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// JWTConfig JWT 认证配置
type JWTConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// HMAC 密钥
	Secret string `yaml:"secret" env:"SECRET"`
	// 签发方（为空时不校验）
	Issuer string `yaml:"issuer" env:"ISSUER"`
	// 受众（为空时不校验）
	Audience string `yaml:"audience" env:"AUDIENCE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  DefaultEnvPrefix,
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	applyCompatEnv(cfg)

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// applyCompatEnv 兼容不带前缀的环境变量；只在对应字段仍为空/默认时生效
func applyCompatEnv(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv(EnvOpenAIAPIKey)
	}
	if v := os.Getenv(EnvModel); v != "" && os.Getenv(DefaultEnvPrefix+"_LLM_MODEL") == "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv(EnvArtifacts); v != "" && os.Getenv(DefaultEnvPrefix+"_COACH_ARTIFACTS_DIR") == "" {
		cfg.Coach.ArtifactsDir = v
	}
}

// setFieldsFromEnv 递归设置结构体字段
func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			out := parts[:0]
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).WithValidator((*Config).Validate).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

var (
	validProviders = map[string]bool{"openai": true, "deepseek": true, "openai-compatible": true, "gemini": true}
	validStores    = map[string]bool{"memory": true, "file": true, "redis": true, "database": true, "mongo": true}
	validDrivers   = map[string]bool{"postgres": true, "mysql": true, "sqlite": true}
	validLevels    = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
)

// Validate 验证配置，收集所有问题后一并返回
func (c *Config) Validate() error {
	var errs []error

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, errors.New("invalid HTTP port"))
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, errors.New("invalid metrics port"))
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, errors.New("rate_limit_rps must not be negative"))
	}

	if !validProviders[c.LLM.Provider] {
		errs = append(errs, fmt.Errorf("unsupported llm provider %q", c.LLM.Provider))
	}
	if c.LLM.Provider == "openai-compatible" && c.LLM.BaseURL == "" {
		errs = append(errs, errors.New("llm.base_url is required for openai-compatible"))
	}
	if c.LLM.BaseURL != "" {
		if u, err := url.Parse(c.LLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid llm.base_url %q", c.LLM.BaseURL))
		}
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, errors.New("llm.max_retries must not be negative"))
	}
	if c.LLM.BreakerThreshold < 0 {
		errs = append(errs, errors.New("llm.breaker_threshold must not be negative"))
	}

	if c.Coach.Temperature < 0 || c.Coach.Temperature > 2 {
		errs = append(errs, errors.New("coach.temperature must be between 0 and 2"))
	}
	if c.Coach.MaxSteps <= 0 {
		errs = append(errs, errors.New("coach.max_steps must be positive"))
	}
	if c.Coach.ArtifactsDir == "" {
		errs = append(errs, errors.New("coach.artifacts_dir is required"))
	}

	if !validStores[c.Session.Store] {
		errs = append(errs, fmt.Errorf("unsupported session store %q", c.Session.Store))
	}
	if c.Session.Store == "database" && !validDrivers[c.Database.Driver] {
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	if c.Session.Store == "mongo" && c.Mongo.URI == "" {
		errs = append(errs, errors.New("mongo.uri is required for the mongo session store"))
	}

	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Log.Level))
	}

	if c.JWT.Enabled && len(c.JWT.Secret) < 32 {
		errs = append(errs, errors.New("jwt.secret must be at least 32 bytes when JWT is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %w", errors.Join(errs...))
	}
	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

// MigrationDSN 返回迁移使用的 database/sql 连接串
func (d *DatabaseConfig) MigrationDSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			url.QueryEscape(d.User), url.QueryEscape(d.Password), d.Host, d.Port, d.Name, d.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			d.User, d.Password, d.Host, d.Port, d.Name)
	case "sqlite":
		return "file:" + d.Name
	default:
		return ""
	}
}
