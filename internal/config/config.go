package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App     AppConfig     `json:"app"`
	Backend BackendConfig `json:"backend"`
	MySQL   MySQLConfig   `json:"mysql"`
	Redis   RedisConfig   `json:"redis"`
	Journal JournalConfig `json:"journal"`
	Email   EmailConfig   `json:"email"`
}

// AppConfig 控制台服务基础配置。
type AppConfig struct {
	Env                string        `json:"env"`                  // 运行环境: local / prod
	LogLevel           string        `json:"log_level"`            // 日志级别: debug / info / warn / error
	HTTPAddr           string        `json:"http_addr"`            // 控制台 HTTP 监听地址
	MetricsAddr        string        `json:"metrics_addr"`         // journal worker 的 metrics 地址
	PageSize           int           `json:"page_size"`            // 队列每页条数
	SessionIdleTimeout time.Duration `json:"session_idle_timeout"` // 会话无操作回收时间（如 "30m"）
	BulkConcurrency    int           `json:"bulk_concurrency"`     // 批量决定并发上限，0 表示不限
	RateLimit          float64       `json:"rate_limit"`           // 后端请求速率（token/s），0 表示不限
	RateBurst          float64       `json:"rate_burst"`           // 令牌桶容量
	IdempotencyWindow  time.Duration `json:"idempotency_window"`   // 批量提交幂等键有效期
}

// BackendConfig 审核后端配置。
type BackendConfig struct {
	BaseURL string        `json:"base_url"` // API 前缀，如 http://localhost:3001/api/v1
	Timeout time.Duration `json:"timeout"`  // 单个请求超时
}

// MySQLConfig MySQL 数据库配置。
type MySQLConfig struct {
	DSN string `json:"dsn"` // 数据库连接字符串
}

// RedisConfig Redis 配置。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)，为空表示不使用 Redis
	Password string `json:"password"` // Redis 密码
}

// JournalConfig 决定日志配置。
type JournalConfig struct {
	Enabled  bool   `json:"enabled"`   // 是否写入决定日志
	Stream   string `json:"stream"`    // Redis Stream 名称
	Group    string `json:"group"`     // 落库 worker 的消费者组
	MaxRetry int    `json:"max_retry"` // 进入死信前的最大重试次数
}

// EmailConfig 邮件告警配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
	AlertTo   string `json:"alert_to"` // 逗号分隔的收件人
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值。
// 环境变量总是覆盖文件中的值。
//
// 参数:
//
//	configPath: 配置文件路径（如果为空则使用默认路径 "configs/config.json")
//
// 返回值:
//
//	*Config: 加载完成的配置对象
//	error: 加载失败返回错误
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg, nil
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:                "local",
			LogLevel:           "info",
			HTTPAddr:           ":8080",
			MetricsAddr:        ":2112",
			PageSize:           10,
			SessionIdleTimeout: 30 * time.Minute,
			BulkConcurrency:    0,
			RateLimit:          0,
			RateBurst:          10,
			IdempotencyWindow:  10 * time.Minute,
		},
		Backend: BackendConfig{
			BaseURL: "http://localhost:3001/api/v1",
			Timeout: 10 * time.Second,
		},
		MySQL: MySQLConfig{
			DSN: "root:password@tcp(localhost:3306)/moderation?parseTime=true&loc=Local",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Journal: JournalConfig{
			Enabled:  false,
			Stream:   "admoderation:decisions",
			Group:    "audit_group",
			MaxRetry: 3,
		},
		Email: EmailConfig{
			SMTPHost: "smtp.gmail.com",
			SMTPPort: 587,
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.MetricsAddr == "" {
		cfg.App.MetricsAddr = defaults.App.MetricsAddr
	}
	if cfg.App.PageSize <= 0 {
		cfg.App.PageSize = defaults.App.PageSize
	}
	if cfg.App.SessionIdleTimeout == 0 {
		cfg.App.SessionIdleTimeout = defaults.App.SessionIdleTimeout
	}
	if cfg.App.RateBurst == 0 {
		cfg.App.RateBurst = defaults.App.RateBurst
	}
	if cfg.App.IdempotencyWindow == 0 {
		cfg.App.IdempotencyWindow = defaults.App.IdempotencyWindow
	}
	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = defaults.Backend.BaseURL
	}
	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = defaults.Backend.Timeout
	}
	if cfg.Journal.Stream == "" {
		cfg.Journal.Stream = defaults.Journal.Stream
	}
	if cfg.Journal.Group == "" {
		cfg.Journal.Group = defaults.Journal.Group
	}
	if cfg.Journal.MaxRetry == 0 {
		cfg.Journal.MaxRetry = defaults.Journal.MaxRetry
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
}

// applyEnvOverrides 用环境变量覆盖配置，密钥类变量通过 viper 绑定读取。
func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()
	for key, env := range map[string]string{
		"db_host":        "DB_HOST",
		"db_password":    "DB_PASSWORD",
		"redis_password": "REDIS_PASSWORD",
		"smtp_pass":      "SMTP_PASS",
		"backend_url":    "BACKEND_URL",
	} {
		_ = viper.BindEnv(key, env)
	}

	overrideApp(&cfg.App)

	setString(&cfg.Backend.BaseURL, viper.GetString("backend_url"))
	envDuration(&cfg.Backend.Timeout, "BACKEND_TIMEOUT")

	envBool(&cfg.Journal.Enabled, "JOURNAL_ENABLED")
	envString(&cfg.Journal.Stream, "JOURNAL_STREAM")
	envString(&cfg.Journal.Group, "JOURNAL_GROUP")
	envInt(&cfg.Journal.MaxRetry, "JOURNAL_MAX_RETRY", 0)

	overrideMySQL(&cfg.MySQL)

	// REDIS_ADDR 显式设为空表示关闭 Redis
	if v, ok := os.LookupEnv("REDIS_ADDR"); ok {
		cfg.Redis.Addr = v
	}
	setString(&cfg.Redis.Password, viper.GetString("redis_password"))

	envString(&cfg.Email.SMTPHost, "SMTP_HOST")
	envInt(&cfg.Email.SMTPPort, "SMTP_PORT", 1)
	envString(&cfg.Email.SMTPUser, "SMTP_USER")
	setString(&cfg.Email.SMTPPass, viper.GetString("smtp_pass"))
	envString(&cfg.Email.FromEmail, "SMTP_FROM")
	envString(&cfg.Email.AlertTo, "ALERT_TO")
}

func overrideApp(app *AppConfig) {
	envString(&app.Env, "APP_ENV")
	envString(&app.LogLevel, "APP_LOG_LEVEL")
	envString(&app.HTTPAddr, "APP_HTTP_ADDR")
	envString(&app.MetricsAddr, "APP_METRICS_ADDR")
	envInt(&app.PageSize, "APP_PAGE_SIZE", 1)
	envDuration(&app.SessionIdleTimeout, "APP_SESSION_IDLE_TIMEOUT")
	envInt(&app.BulkConcurrency, "APP_BULK_CONCURRENCY", 0)
	envFloat(&app.RateLimit, "APP_RATE_LIMIT")
	envFloat(&app.RateBurst, "APP_RATE_BURST")
	envDuration(&app.IdempotencyWindow, "APP_IDEMPOTENCY_WINDOW")
}

// overrideMySQL DB_DSN 优先；否则用 DB_* 分项改写现有 DSN。
func overrideMySQL(m *MySQLConfig) {
	if v := os.Getenv("DB_DSN"); v != "" {
		m.DSN = v
		return
	}
	if !hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") {
		return
	}

	parsed := parseMySQLDSN(m.DSN)
	host, port := splitAddr(parsed.Addr)
	setString(&host, viper.GetString("db_host"))
	envString(&port, "DB_PORT")
	parsed.Addr = host + ":" + port
	envString(&parsed.User, "DB_USER")
	setString(&parsed.Passwd, viper.GetString("db_password"))
	envString(&parsed.DBName, "DB_NAME")
	m.DSN = parsed.FormatDSN()
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func envString(dst *string, key string) {
	setString(dst, os.Getenv(key))
}

// envInt 只接受 >= floor 的值。
func envInt(dst *int, key string, floor int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= floor {
			*dst = i
		}
	}
}

func envFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

// splitAddr 拆分 host:port，缺少端口时使用 3306。
func splitAddr(addr string) (string, string) {
	if i := strings.LastIndex(addr, ":"); i >= 0 && i < len(addr)-1 {
		return addr[:i], addr[i+1:]
	}
	return strings.TrimSuffix(addr, ":"), "3306"
}

func parseMySQLDSN(dsn string) *mysql.Config {
	if dsn != "" {
		if parsed, err := mysql.ParseDSN(dsn); err == nil {
			return parsed
		}
	}
	fallback := mysql.NewConfig()
	fallback.User = "root"
	fallback.Net = "tcp"
	fallback.Addr = "localhost:3306"
	fallback.DBName = "moderation"
	fallback.ParseTime = true
	return fallback
}

// UnmarshalJSON 支持 Duration 字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		SessionIdleTimeout string `json:"session_idle_timeout"`
		IdempotencyWindow  string `json:"idempotency_window"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.SessionIdleTimeout != "" {
		d, err := time.ParseDuration(aux.SessionIdleTimeout)
		if err != nil {
			return fmt.Errorf("invalid session_idle_timeout format: %w", err)
		}
		a.SessionIdleTimeout = d
	}
	if aux.IdempotencyWindow != "" {
		d, err := time.ParseDuration(aux.IdempotencyWindow)
		if err != nil {
			return fmt.Errorf("invalid idempotency_window format: %w", err)
		}
		a.IdempotencyWindow = d
	}
	return nil
}

// UnmarshalJSON 支持 Duration 字符串。
func (b *BackendConfig) UnmarshalJSON(data []byte) error {
	type Alias BackendConfig
	aux := &struct {
		Timeout string `json:"timeout"`
		*Alias
	}{
		Alias: (*Alias)(b),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Timeout != "" {
		d, err := time.ParseDuration(aux.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout format: %w", err)
		}
		b.Timeout = d
	}
	return nil
}
