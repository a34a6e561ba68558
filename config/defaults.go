// =============================================================================
// agentflow-gateway 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Database:  DefaultDatabaseConfig(),
		Redis:     DefaultRedisConfig(),
		Pool:      DefaultPoolConfig(),
		Router:    DefaultRouterConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "agentflow",
		Password:        "",
		Name:            "agentflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:            "localhost:6379",
		Password:        "",
		DB:              0,
		PoolSize:        10,
		MinIdleConns:    2,
		CacheTTLSeconds: 30,
	}
}

// DefaultPoolConfig 返回默认适配器池配置，与 llm.DefaultPoolConfig 对应
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		NumShards:       16,
		MaxPerShard:     20,
		MaxIdle:         5 * time.Minute,
		MaxUseCount:     1000,
		AcquireWait:     5 * time.Second,
		AcquirePoll:     100 * time.Millisecond,
		CleanupInterval: 30 * time.Second,
		HealthInterval:  180 * time.Second,
	}
}

// DefaultRouterConfig 返回默认路由权重配置，与 llm.DefaultRouterConfig 对应
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		WeightResponseTime: 0.4,
		WeightCost:         0.3,
		WeightSuccessRate:  0.3,
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
		ServiceName:  "agentflow-gateway",
		SampleRate:   0.1,
	}
}
