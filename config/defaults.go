// =============================================================================
// 📦 CI Coach 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		LLM:       DefaultLLMConfig(),
		Coach:     DefaultCoachConfig(),
		Session:   DefaultSessionConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Mongo:     DefaultMongoConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		JWT:       JWTConfig{},
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    2 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    10,
		RateLimitBurst:  20,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:            "openai",
		Model:               "gpt-4o-mini",
		Timeout:             2 * time.Minute,
		MaxRetries:          3,
		JSONMode:            false,
		BreakerThreshold:    5,
		BreakerResetTimeout: 30 * time.Second,
	}
}

// DefaultCoachConfig 返回默认编排配置
func DefaultCoachConfig() CoachConfig {
	return CoachConfig{
		Temperature:        0.1,
		MaxTokens:          0,
		MaxSteps:           25,
		HistoryTokenBudget: 0,
		ArtifactsDir:       "artifacts",
	}
}

// DefaultSessionConfig 返回默认会话存储配置
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Store:     "memory",
		TTL:       24 * time.Hour,
		Dir:       "sessions",
		KeyPrefix: "cicoach:session:",
		MaxLive:   1000,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "cicoach",
		Password:        "",
		Name:            "cicoach.db",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		AutoMigrate:     true,
	}
}

// DefaultMongoConfig 返回默认 MongoDB 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:            "",
		Database:       "cicoach",
		Collection:     "sessions",
		ConnectTimeout: 10 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "cicoach",
		SampleRate:   0.1,
	}
}
