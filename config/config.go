// =============================================================================
// 📦 ContentFlow 配置结构
// =============================================================================
// 所有子系统的配置集中在这里，由 loader 统一加载。
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config 是 ContentFlow 的完整配置结构
type Config struct {
	// Server HTTP 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Mongo 项目文档库配置
	Mongo MongoConfig `yaml:"mongo" env:"MONGO"`

	// Redis 缓存与事件总线配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Ledger 成本账本数据库配置
	Ledger DatabaseConfig `yaml:"ledger" env:"LEDGER"`

	// LLM 大语言模型配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Agents 智能体提示词配置
	Agents AgentsConfig `yaml:"agents" env:"AGENTS"`

	// Budget 预算配置
	Budget BudgetConfig `yaml:"budget" env:"BUDGET"`

	// Quota 配额（令牌桶）配置
	Quota QuotaConfig `yaml:"quota" env:"QUOTA"`

	// Cache 多级缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Queue 事件队列配置
	Queue QueueConfig `yaml:"queue" env:"QUEUE"`

	// Publisher 发布渠道配置
	Publisher PublisherConfig `yaml:"publisher" env:"PUBLISHER"`

	// Auth 认证配置
	Auth AuthConfig `yaml:"auth" env:"AUTH"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 最大并发连接数
	MaxConns int `yaml:"max_conns" env:"MAX_CONNS"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每秒请求数限制（按客户端 IP）
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流突发容量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 允许的跨域来源，为空时拒绝跨域请求
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// MongoConfig 项目文档库配置
type MongoConfig struct {
	// 连接 URI
	URI string `yaml:"uri" env:"URI"`
	// 数据库名
	Database string `yaml:"database" env:"DATABASE"`
	// 项目集合名
	Collection string `yaml:"collection" env:"COLLECTION"`
	// 媒体 GridFS bucket 名
	MediaBucket string `yaml:"media_bucket" env:"MEDIA_BUCKET"`
	// 连接超时
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
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
}

// DatabaseConfig 关系型数据库配置（成本账本）
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
	// 数据库名
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LLMConfig LLM 配置
type LLMConfig struct {
	// 默认 Provider
	DefaultProvider string `yaml:"default_provider" env:"DEFAULT_PROVIDER"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL（可选）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 默认模型
	DefaultModel string `yaml:"default_model" env:"DEFAULT_MODEL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
}

// AgentsConfig 智能体配置
type AgentsConfig struct {
	// 提示词模板文件路径（YAML）
	PromptsPath string `yaml:"prompts_path" env:"PROMPTS_PATH"`
	// 默认温度
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	// 单次调用最大 Token 数
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
}

// BudgetConfig 预算配置
type BudgetConfig struct {
	// 每日预算（USD）
	DailyLimit float64 `yaml:"daily_limit" env:"DAILY_LIMIT"`
	// 单项目预算（USD）
	ProjectLimit float64 `yaml:"project_limit" env:"PROJECT_LIMIT"`
	// 告警阈值（百分比）
	AlertThresholds []string `yaml:"alert_thresholds" env:"ALERT_THRESHOLDS"`
	// 是否强制执行（超限时拒绝请求）
	Enforce bool `yaml:"enforce" env:"ENFORCE"`
}

// QuotaConfig 令牌桶配额配置
type QuotaConfig struct {
	// 桶容量
	Capacity int `yaml:"capacity" env:"CAPACITY"`
	// 每秒补充速率
	RefillRate float64 `yaml:"refill_rate" env:"REFILL_RATE"`
}

// CacheConfig 多级缓存配置
type CacheConfig struct {
	// L1 内存缓存 TTL
	L1TTL time.Duration `yaml:"l1_ttl" env:"L1_TTL"`
	// L1 最大条目数
	L1MaxEntries int `yaml:"l1_max_entries" env:"L1_MAX_ENTRIES"`
	// L2 Redis 缓存 TTL
	L2TTL time.Duration `yaml:"l2_ttl" env:"L2_TTL"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// QueueConfig 事件队列配置
type QueueConfig struct {
	// Stream 键前缀
	StreamPrefix string `yaml:"stream_prefix" env:"STREAM_PREFIX"`
	// 消费者组名
	ConsumerGroup string `yaml:"consumer_group" env:"CONSUMER_GROUP"`
	// 单条消息最大投递次数，超过进入死信
	MaxDeliveries int `yaml:"max_deliveries" env:"MAX_DELIVERIES"`
	// 拉取批大小
	BatchSize int `yaml:"batch_size" env:"BATCH_SIZE"`
	// 拉取阻塞时长
	BlockTimeout time.Duration `yaml:"block_timeout" env:"BLOCK_TIMEOUT"`
	// pending 消息闲置多久后可被其他消费者接管
	ClaimIdle time.Duration `yaml:"claim_idle" env:"CLAIM_IDLE"`
}

// PublisherConfig 发布渠道配置
type PublisherConfig struct {
	// 平台 endpoint 映射，如 wordpress: https://...
	Endpoints map[string]string `yaml:"endpoints" env:"-"`
	// 发布请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 是否仅格式化不投递（干跑）
	DryRun bool `yaml:"dry_run" env:"DRY_RUN"`
}

// AuthConfig 认证配置
type AuthConfig struct {
	// API Key 列表（为空则关闭 API Key 认证）
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// JWT 签名密钥（HS256，为空则关闭 JWT 认证）
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
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

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9090,
			MaxConns:        512,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimitRPS:    20,
			RateLimitBurst:  40,
		},
		Mongo: MongoConfig{
			URI:            "mongodb://localhost:27017",
			Database:       "contentflow",
			Collection:     "projects",
			MediaBucket:    "media",
			ConnectTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 10,
		},
		Ledger: DatabaseConfig{
			Driver:          "sqlite",
			Name:            "contentflow.db",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		LLM: LLMConfig{
			DefaultProvider: "gemini",
			DefaultModel:    "gemini-1.5-flash",
			Timeout:         60 * time.Second,
			MaxRetries:      3,
		},
		Agents: AgentsConfig{
			PromptsPath: "prompts.yaml",
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		Budget: BudgetConfig{
			DailyLimit:      10.0,
			ProjectLimit:    1.0,
			AlertThresholds: []string{"50", "80", "90", "95"},
			Enforce:         true,
		},
		Quota: QuotaConfig{
			Capacity:   100,
			RefillRate: 10,
		},
		Cache: CacheConfig{
			L1TTL:        time.Hour,
			L1MaxEntries: 10000,
			L2TTL:        24 * time.Hour,
			KeyPrefix:    "cf",
		},
		Queue: QueueConfig{
			StreamPrefix:  "cf:events",
			ConsumerGroup: "pipeline",
			MaxDeliveries: 3,
			BatchSize:     10,
			BlockTimeout:  5 * time.Second,
			ClaimIdle:     30 * time.Second,
		},
		Publisher: PublisherConfig{
			Timeout: 30 * time.Second,
			DryRun:  true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "contentflow",
			SampleRate:   1.0,
			OTLPEndpoint: "localhost:4317",
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Budget.DailyLimit < 0 || c.Budget.ProjectLimit < 0 {
		errs = append(errs, "budget limits must be non-negative")
	}
	if c.Quota.Capacity <= 0 {
		errs = append(errs, "quota capacity must be positive")
	}
	if c.Quota.RefillRate <= 0 {
		errs = append(errs, "quota refill rate must be positive")
	}
	if c.Queue.MaxDeliveries <= 0 {
		errs = append(errs, "queue max_deliveries must be positive")
	}
	if c.Agents.Temperature < 0 || c.Agents.Temperature > 2 {
		errs = append(errs, "temperature must be between 0 and 2")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
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
