package config

import (
	"fmt"
	"strings"

	"github.com/kecheng-next/internal/logger"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Queue       QueueConfig       `mapstructure:"queue"`
	CORS        CORSConfig        `mapstructure:"cors"`
	Security    SecurityConfig    `mapstructure:"security"`
	Email       EmailConfig       `mapstructure:"email"`
	Fulfillment FulfillmentConfig `mapstructure:"fulfillment"`
	Suppliers   SuppliersConfig   `mapstructure:"suppliers"`
	Digital     DigitalConfig     `mapstructure:"digital"`
	Storage     StorageConfig     `mapstructure:"storage"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug / release
}

// LogConfig 日志配置
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ToLoggerOptions 转换为 logger 配置
func (c LogConfig) ToLoggerOptions() logger.Options {
	return logger.Options{
		Dir:        c.Dir,
		Filename:   c.Filename,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// DatabasePoolConfig 数据库连接池配置
type DatabasePoolConfig struct {
	MaxOpenConns           int `mapstructure:"max_open_conns"`
	MaxIdleConns           int `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int `mapstructure:"conn_max_idle_time_seconds"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver string             `mapstructure:"driver"` // 数据库驱动（sqlite/postgres）
	DSN    string             `mapstructure:"dsn"`    // 数据库连接串
	Pool   DatabasePoolConfig `mapstructure:"pool"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// QueueConfig 异步队列配置
type QueueConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	Host        string         `mapstructure:"host"`
	Port        int            `mapstructure:"port"`
	Password    string         `mapstructure:"password"`
	DB          int            `mapstructure:"db"`
	Concurrency int            `mapstructure:"concurrency"`
	Queues      map[string]int `mapstructure:"queues"`
}

// EmailConfig 邮件服务配置
type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	FromName string `mapstructure:"from_name"`
	UseTLS   bool   `mapstructure:"use_tls"`
	UseSSL   bool   `mapstructure:"use_ssl"`
	OpsEmail string `mapstructure:"ops_email"` // 运营人工处理通知收件箱
}

// FulfillmentConfig 履约调度配置
type FulfillmentConfig struct {
	MaxSubmitAttempts        int    `mapstructure:"max_submit_attempts"`
	RetryBackoffBaseSeconds  int    `mapstructure:"retry_backoff_base_seconds"`
	RetryBackoffMaxSeconds   int    `mapstructure:"retry_backoff_max_seconds"`
	WebhookRematchAttempts   int    `mapstructure:"webhook_rematch_attempts"`
	WebhookRematchDelaySecs  int    `mapstructure:"webhook_rematch_delay_seconds"`
	ManualConfirmRemindHours int    `mapstructure:"manual_confirm_remind_hours"`
	SiteCurrency             string `mapstructure:"site_currency"`
}

// SuppliersConfig 供应商接入配置
type SuppliersConfig struct {
	PrismPrint PrismPrintConfig `mapstructure:"prismprint"`
	Inkwell    InkwellConfig    `mapstructure:"inkwell"`
	Dropship   DropshipConfig   `mapstructure:"dropship"`
}

// PrismPrintConfig POD 供应商 PrismPrint 配置
type PrismPrintConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	APIKey        string `mapstructure:"api_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	TimeoutMS     int    `mapstructure:"timeout_ms"`
}

// InkwellConfig POD 供应商 Inkwell 配置
type InkwellConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	MerchantID      string `mapstructure:"merchant_id"`
	MerchantKey     string `mapstructure:"merchant_key"`
	TimeoutMS       int    `mapstructure:"timeout_ms"`
	USDExchangeRate string `mapstructure:"usd_exchange_rate"` // USD → 站点币种汇率
}

// DropshipConfig 代发货源配置
type DropshipConfig struct {
	BaseURL   string `mapstructure:"base_url"`   // 为空时走人工确认模式
	APIKey    string `mapstructure:"api_key"`
	TimeoutMS int    `mapstructure:"timeout_ms"`
}

// DigitalConfig 数字交付配置
type DigitalConfig struct {
	AccessSecret       string `mapstructure:"access_secret"` // 课程访问链接签名密钥
	AccessExpireHours  int    `mapstructure:"access_expire_hours"`
	CourseBaseURL      string `mapstructure:"course_base_url"`
	MaterialsShareDays int    `mapstructure:"materials_share_days"`
}

// StorageConfig 课程资料存储配置（S3 兼容）
type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Endpoint  string `mapstructure:"endpoint"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// RateLimitRuleConfig 限流规则配置
type RateLimitRuleConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	MaxRequests   int `mapstructure:"max_requests"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	ServiceToken     string              `mapstructure:"service_token"` // 结算服务回调共享令牌
	WebhookRateLimit RateLimitRuleConfig `mapstructure:"webhook_rate_limit"`
}

// Load 从 config.yml 加载配置
func Load() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")     // 从当前目录查找
	viper.AddConfigPath("./")    // 备用路径
	viper.AddConfigPath("../")   // 如果从 cmd/server 运行
	viper.AddConfigPath("./etc") // etc 文件夹

	// 设置默认值（可选）
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("log.dir", "")
	viper.SetDefault("log.filename", "app.log")
	viper.SetDefault("log.max_size_mb", 100)
	viper.SetDefault("log.max_backups", 7)
	viper.SetDefault("log.max_age_days", 30)
	viper.SetDefault("log.compress", true)
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.dsn", "./db/kecheng.db")
	viper.SetDefault("database.pool.max_open_conns", 1)
	viper.SetDefault("database.pool.max_idle_conns", 1)
	viper.SetDefault("database.pool.conn_max_lifetime_seconds", 0)
	viper.SetDefault("database.pool.conn_max_idle_time_seconds", 0)
	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("redis.host", "127.0.0.1")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.prefix", "kc")
	viper.SetDefault("queue.enabled", true)
	viper.SetDefault("queue.host", "127.0.0.1")
	viper.SetDefault("queue.port", 6379)
	viper.SetDefault("queue.password", "")
	viper.SetDefault("queue.db", 1)
	viper.SetDefault("queue.concurrency", 10)
	viper.SetDefault("queue.queues", map[string]int{
		"default":  10,
		"critical": 5,
	})
	viper.SetDefault("cors.allowed_origins", []string{"*"})
	viper.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	viper.SetDefault("cors.allowed_headers", []string{
		"Content-Type",
		"Content-Length",
		"Accept-Encoding",
		"Authorization",
		"Cache-Control",
		"X-Requested-With",
		"X-Service-Token",
	})
	viper.SetDefault("cors.allow_credentials", true)
	viper.SetDefault("cors.max_age", 600)
	viper.SetDefault("security.service_token", "change-me-in-production")
	viper.SetDefault("security.webhook_rate_limit.window_seconds", 60)
	viper.SetDefault("security.webhook_rate_limit.max_requests", 600)
	viper.SetDefault("email.enabled", false)
	viper.SetDefault("email.host", "")
	viper.SetDefault("email.port", 587)
	viper.SetDefault("email.username", "")
	viper.SetDefault("email.password", "")
	viper.SetDefault("email.from", "")
	viper.SetDefault("email.from_name", "")
	viper.SetDefault("email.use_tls", true)
	viper.SetDefault("email.use_ssl", false)
	viper.SetDefault("email.ops_email", "")
	viper.SetDefault("fulfillment.max_submit_attempts", 5)
	viper.SetDefault("fulfillment.retry_backoff_base_seconds", 30)
	viper.SetDefault("fulfillment.retry_backoff_max_seconds", 3600)
	viper.SetDefault("fulfillment.webhook_rematch_attempts", 3)
	viper.SetDefault("fulfillment.webhook_rematch_delay_seconds", 10)
	viper.SetDefault("fulfillment.manual_confirm_remind_hours", 48)
	viper.SetDefault("fulfillment.site_currency", "CNY")
	viper.SetDefault("suppliers.prismprint.base_url", "")
	viper.SetDefault("suppliers.prismprint.api_key", "")
	viper.SetDefault("suppliers.prismprint.webhook_secret", "")
	viper.SetDefault("suppliers.prismprint.timeout_ms", 10000)
	viper.SetDefault("suppliers.inkwell.base_url", "")
	viper.SetDefault("suppliers.inkwell.merchant_id", "")
	viper.SetDefault("suppliers.inkwell.merchant_key", "")
	viper.SetDefault("suppliers.inkwell.timeout_ms", 10000)
	viper.SetDefault("suppliers.inkwell.usd_exchange_rate", "7.20")
	viper.SetDefault("suppliers.dropship.base_url", "")
	viper.SetDefault("suppliers.dropship.api_key", "")
	viper.SetDefault("suppliers.dropship.timeout_ms", 10000)
	viper.SetDefault("digital.access_secret", "change-me-in-production")
	viper.SetDefault("digital.access_expire_hours", 720)
	viper.SetDefault("digital.course_base_url", "")
	viper.SetDefault("digital.materials_share_days", 30)
	viper.SetDefault("storage.enabled", false)
	viper.SetDefault("storage.region", "")
	viper.SetDefault("storage.bucket", "")
	viper.SetDefault("storage.access_key", "")
	viper.SetDefault("storage.secret_key", "")
	viper.SetDefault("storage.endpoint", "")

	// 环境变量支持
	viper.AutomaticEnv()                                   // 自动读取环境变量
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // 将 . 替换为 _ (例如 server.port -> SERVER_PORT)

	// 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		logger.Warnw("config_file_read_failed",
			"error", err,
			"fallback", "env_or_defaults",
		)
	} else {
		logger.Infow("config_file_loaded", "file", viper.ConfigFileUsed())
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		logger.Errorw("config_unmarshal_failed", "error", err)
		panic(fmt.Errorf("配置解析失败: %w", err))
	}

	return &cfg
}
