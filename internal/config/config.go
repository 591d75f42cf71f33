// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Usage         UsageConfig         `mapstructure:"usage"`
	WebSearch     WebSearchConfig     `mapstructure:"websearch"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Tiers         []TierConfig        `mapstructure:"tiers"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
	// RequestTimeout 是单次聊天请求的整体期限（兜底回复不受其约束）。
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。令牌由外部身份服务签发，网关只做校验。
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。Brokers 为空时用量直接写库。
type KafkaConfig struct {
	Brokers    string `mapstructure:"brokers"`
	UsageTopic string `mapstructure:"usage_topic"`
	GroupID    string `mapstructure:"group_id"`
	// RetryInterval 是单条用量事件写库失败后两次重试的间隔。
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置，附件按 storage_path 从该桶读取。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
	MaxObjectBytes  int64  `mapstructure:"max_object_bytes"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string                     `mapstructure:"api_key"`
	BaseURL    string                     `mapstructure:"base_url"`
	Assistants map[string]AssistantConfig `mapstructure:"assistants"`
}

// AssistantConfig 是单个助手的模型参数。AssistantID 非空时启用 thread 协议。
type AssistantConfig struct {
	AssistantID string                      `mapstructure:"assistant_id"`
	Modes       map[string]GenerationConfig `mapstructure:"modes"`
}

// GenerationConfig 配置生成相关参数。
type GenerationConfig struct {
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// ChatConfig 配置编排流程。
type ChatConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	PollMaxAttempts   int           `mapstructure:"poll_max_attempts"`
	CompletionTimeout time.Duration `mapstructure:"completion_timeout"`
	HistoryLimit      int           `mapstructure:"history_limit"`
	ThreadTTL         time.Duration `mapstructure:"thread_ttl"`
	ResearchKeywords  []string      `mapstructure:"research_keywords"`
}

// UsageConfig 配置 token 估算与计费费率（按每 1000 token）。
type UsageConfig struct {
	CharsPerToken   int     `mapstructure:"chars_per_token"`
	InputRatePer1K  float64 `mapstructure:"input_rate_per_1k"`
	OutputRatePer1K float64 `mapstructure:"output_rate_per_1k"`
}

// WebSearchConfig 配置检索工具。Provider 取 "brave" 或 "elasticsearch"，为空时禁用。
type WebSearchConfig struct {
	Provider   string        `mapstructure:"provider"`
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	MaxResults int           `mapstructure:"max_results"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// TikaConfig 配置附件文本抽取。ServerURL 为空时无状态补全不附带文档摘录。
type TikaConfig struct {
	ServerURL       string        `mapstructure:"server_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxExcerptChars int           `mapstructure:"max_excerpt_chars"`
}

// TierConfig 是写入 tier_policies 表的种子数据。
type TierConfig struct {
	Name                  string `mapstructure:"name"`
	NoraEnabled           bool   `mapstructure:"nora_enabled"`
	NoraMessagesPerDay    int    `mapstructure:"nora_messages_per_day"`
	PatrickEnabled        bool   `mapstructure:"patrick_enabled"`
	PatrickMessagesPerDay int    `mapstructure:"patrick_messages_per_day"`
	MaxMessageLength      int    `mapstructure:"max_message_length"`
	CooldownSeconds       int    `mapstructure:"cooldown_seconds"`
	AttachmentUpload      bool   `mapstructure:"attachment_upload"`
	AttachmentSearch      bool   `mapstructure:"attachment_search"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.request_timeout", 90*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.usage_topic", "ai-usage")
	v.SetDefault("kafka.group_id", "study-gateway-usage")
	v.SetDefault("kafka.retry_interval", "1s")
	v.SetDefault("elasticsearch.index_name", "study_resources")
	v.SetDefault("minio.max_object_bytes", 20<<20)
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("chat.poll_interval", time.Second)
	v.SetDefault("chat.poll_max_attempts", 60)
	v.SetDefault("chat.completion_timeout", 30*time.Second)
	v.SetDefault("chat.history_limit", 10)
	v.SetDefault("chat.thread_ttl", 30*24*time.Hour)
	v.SetDefault("usage.chars_per_token", 4)
	v.SetDefault("usage.input_rate_per_1k", 0.01)
	v.SetDefault("usage.output_rate_per_1k", 0.03)
	v.SetDefault("websearch.max_results", 5)
	v.SetDefault("websearch.timeout", 10*time.Second)
	v.SetDefault("tika.timeout", 15*time.Second)
	v.SetDefault("tika.max_excerpt_chars", 6000)
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
// 环境变量可覆盖同名键，例如 LLM_API_KEY 覆盖 llm.api_key。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = *cfg
}

// Load 读取配置但不修改全局变量。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return &cfg, nil
}

// Generation 返回助手在指定思考模式下的生成参数，未配置的模式回退到 "fast"。
func (c LLMConfig) Generation(assistant, mode string) GenerationConfig {
	a := c.Assistants[assistant]
	if g, ok := a.Modes[mode]; ok {
		return g
	}
	if g, ok := a.Modes["fast"]; ok {
		return g
	}
	return GenerationConfig{Model: "gpt-4o-mini", Temperature: 0.7, MaxTokens: 800}
}
