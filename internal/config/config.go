package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 描述了 SmartBI 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Engine    EngineConfig    `json:"engine" yaml:"engine"`
	LLM       LLMConfig       `json:"llm" yaml:"llm"`
	Vision    VisionConfig    `json:"vision" yaml:"vision"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	TaskQueue TaskQueueConfig `json:"task_queue" yaml:"task_queue"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Alerting  AlertingConfig  `json:"alerting" yaml:"alerting"`
	Runtime   RuntimeConfig   `json:"runtime" yaml:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address" yaml:"address"`
}

// EngineConfig 描述数据集引擎子进程以及脚本沙箱的限制。
type EngineConfig struct {
	Command              string   `json:"command" yaml:"command"`
	Args                 []string `json:"args" yaml:"args"`
	WorkDir              string   `json:"work_dir" yaml:"work_dir"`
	ScriptTimeoutSeconds int      `json:"script_timeout_seconds" yaml:"script_timeout_seconds"`
	MaxSteps             uint64   `json:"max_steps" yaml:"max_steps"`
	PolicyFile           string   `json:"policy_file" yaml:"policy_file"`
	LogPath              string   `json:"log_path" yaml:"log_path"`
	CallTimeoutSeconds   int      `json:"call_timeout_seconds" yaml:"call_timeout_seconds"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider       string          `json:"provider" yaml:"provider"`
	Model          string          `json:"model" yaml:"model"`
	Temperature    float64         `json:"temperature" yaml:"temperature"`
	MaxTokens      int             `json:"max_tokens" yaml:"max_tokens"`
	TimeoutSeconds int             `json:"timeout_seconds" yaml:"timeout_seconds"`
	OpenAI         OpenAIConfig    `json:"openai" yaml:"openai"`
	Ollama         OllamaConfig    `json:"ollama" yaml:"ollama"`
	Anthropic      AnthropicConfig `json:"anthropic" yaml:"anthropic"`
	Gemini         GeminiConfig    `json:"gemini" yaml:"gemini"`
}

// OpenAIConfig 同时覆盖 OpenAI 与兼容接口（Groq 等）。
type OpenAIConfig struct {
	APIKey    string `json:"api_key" yaml:"api_key"`
	APIKeyEnv string `json:"api_key_env" yaml:"api_key_env"`
	BaseURL   string `json:"base_url" yaml:"base_url"`
}

// OllamaConfig 指向本地或远程的 Ollama 服务。
type OllamaConfig struct {
	Host string `json:"host" yaml:"host"`
}

// AnthropicConfig 描述 Anthropic 凭证。
type AnthropicConfig struct {
	APIKey    string `json:"api_key" yaml:"api_key"`
	APIKeyEnv string `json:"api_key_env" yaml:"api_key_env"`
}

// GeminiConfig 描述 Gemini 凭证。
type GeminiConfig struct {
	APIKey    string `json:"api_key" yaml:"api_key"`
	APIKeyEnv string `json:"api_key_env" yaml:"api_key_env"`
}

// VisionConfig 控制图片转 CSV 所使用的模型，未填写时沿用 LLM 配置。
type VisionConfig struct {
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model" yaml:"model"`
}

// StorageConfig 描述上传文件与交互记录的持久化后端。
type StorageConfig struct {
	Driver                 string `json:"driver" yaml:"driver"`
	DSN                    string `json:"dsn" yaml:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds" yaml:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds" yaml:"conn_max_idle_time_seconds"`
	TaskStore              string `json:"task_store" yaml:"task_store"`
}

// TaskQueueConfig 描述异步查询任务的队列。
type TaskQueueConfig struct {
	Driver     string         `json:"driver" yaml:"driver"`
	Workers    int            `json:"workers" yaml:"workers"`
	MaxRetries int            `json:"max_retries" yaml:"max_retries"`
	Buffer     int            `json:"buffer" yaml:"buffer"`
	Redis      RedisConfig    `json:"redis" yaml:"redis"`
	RabbitMQ   RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// RedisConfig 配置 Redis 队列。
type RedisConfig struct {
	Address   string `json:"address" yaml:"address"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	Queue     string `json:"queue" yaml:"queue"`
	BlockWait int    `json:"block_wait_seconds" yaml:"block_wait_seconds"`
}

// RabbitMQConfig 配置 RabbitMQ 队列。
type RabbitMQConfig struct {
	URL        string `json:"url" yaml:"url"`
	Queue      string `json:"queue" yaml:"queue"`
	Prefetch   int    `json:"prefetch" yaml:"prefetch"`
	Durable    bool   `json:"durable" yaml:"durable"`
	AutoDelete bool   `json:"auto_delete" yaml:"auto_delete"`
}

// LoggingConfig 对应 pkg/logger 的初始化参数。
type LoggingConfig struct {
	Level   string      `json:"level" yaml:"level"`
	Format  string      `json:"format" yaml:"format"`
	Outputs []string    `json:"outputs" yaml:"outputs"`
	Audit   AuditConfig `json:"audit" yaml:"audit"`
}

// AuditConfig 控制审计日志。
type AuditConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Path       string `json:"path" yaml:"path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
}

// MetricsConfig 控制独立的指标监听地址，为空时仅挂载在 API 服务上。
type MetricsConfig struct {
	Address string `json:"address" yaml:"address"`
}

// AlertingConfig 描述告警通道。
type AlertingConfig struct {
	WebhookURL  string `json:"webhook_url" yaml:"webhook_url"`
	MinSeverity string `json:"min_severity" yaml:"min_severity"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir" yaml:"data_dir"`
}

const (
	DefaultProvider    = "groq"
	DefaultModel       = "llama-3.2-90b-vision-preview"
	DefaultGroqBaseURL = "https://api.groq.com/openai/v1"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000
)

// Load 负责解析指定路径的 JSON 或 YAML 配置文件，并叠加环境变量。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
	default:
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// LoadOrDefault 在配置文件不存在时返回仅包含默认值与环境变量的配置。
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("检查配置文件失败: %w", err)
		}
	}
	baseDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("获取工作目录失败: %w", err)
	}
	var cfg Config
	cfg.applyEnv()
	cfg.applyDefaults(baseDir)
	return &cfg, nil
}

// LoadDotEnv 加载 .env 文件，文件不存在时静默跳过。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("加载 .env 失败: %w", err)
	}
	return nil
}

// applyEnv 使用环境变量覆盖文件中的配置。
func (c *Config) applyEnv() {
	if v := os.Getenv("SMARTBI_SERVER_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("SMARTBI_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("SMARTBI_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("SMARTBI_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("SMARTBI_STORAGE_DSN"); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv("SMARTBI_TASK_QUEUE_DRIVER"); v != "" {
		c.TaskQueue.Driver = v
	}
	if v := os.Getenv("SMARTBI_SCRIPT_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.ScriptTimeoutSeconds = n
		}
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" && c.LLM.Ollama.Host == "" {
		c.LLM.Ollama.Host = v
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	// 引擎
	if c.Engine.Command == "" {
		if exe, err := os.Executable(); err == nil {
			c.Engine.Command = exe
		} else {
			c.Engine.Command = "smartbid"
		}
		if len(c.Engine.Args) == 0 {
			c.Engine.Args = []string{"engine"}
		}
	}
	if c.Engine.WorkDir == "" {
		c.Engine.WorkDir = baseDir
	} else if !filepath.IsAbs(c.Engine.WorkDir) {
		c.Engine.WorkDir = filepath.Join(baseDir, c.Engine.WorkDir)
	}
	if c.Engine.ScriptTimeoutSeconds <= 0 {
		c.Engine.ScriptTimeoutSeconds = 30
	}
	if c.Engine.CallTimeoutSeconds <= 0 {
		c.Engine.CallTimeoutSeconds = c.Engine.ScriptTimeoutSeconds + 30
	}
	if c.Engine.PolicyFile != "" && !filepath.IsAbs(c.Engine.PolicyFile) {
		c.Engine.PolicyFile = filepath.Join(baseDir, c.Engine.PolicyFile)
	}
	if c.Engine.LogPath == "" {
		c.Engine.LogPath = filepath.Join(baseDir, "logs", "engine.log")
	}

	// 大模型
	if c.LLM.Provider == "" {
		c.LLM.Provider = DefaultProvider
	}
	c.LLM.Provider = strings.ToLower(c.LLM.Provider)
	if c.LLM.Model == "" {
		c.LLM.Model = DefaultModel
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = DefaultTemperature
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = DefaultMaxTokens
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 60
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		if c.LLM.Provider == "openai" {
			c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		} else {
			c.LLM.OpenAI.APIKeyEnv = "GROQ_API_KEY"
		}
	}
	if c.LLM.OpenAI.BaseURL == "" && c.LLM.Provider == "groq" {
		c.LLM.OpenAI.BaseURL = DefaultGroqBaseURL
	}
	if c.LLM.Anthropic.APIKeyEnv == "" {
		c.LLM.Anthropic.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if c.LLM.Gemini.APIKeyEnv == "" {
		c.LLM.Gemini.APIKeyEnv = "GEMINI_API_KEY"
	}
	if c.LLM.Ollama.Host == "" {
		c.LLM.Ollama.Host = "http://127.0.0.1:11434"
	}
	if c.Vision.Provider == "" {
		c.Vision.Provider = c.LLM.Provider
	}
	if c.Vision.Model == "" {
		c.Vision.Model = c.LLM.Model
	}

	// 存储
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.Driver == "sqlite" && c.Storage.DSN == "" {
		c.Storage.DSN = filepath.Join(c.Runtime.DataDir, "smartbi.db")
	}
	if c.Storage.TaskStore == "" {
		if c.Storage.Driver == "mysql" {
			c.Storage.TaskStore = "mysql"
		} else {
			c.Storage.TaskStore = "memory"
		}
	}

	// 任务队列
	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Workers <= 0 {
		c.TaskQueue.Workers = 1
	}
	if c.TaskQueue.MaxRetries <= 0 {
		c.TaskQueue.MaxRetries = 2
	}
	if c.TaskQueue.Buffer <= 0 {
		c.TaskQueue.Buffer = 128
	}

	// 日志
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(baseDir, "logs", "audit.log")
	}

	if c.Alerting.MinSeverity == "" {
		c.Alerting.MinSeverity = "warning"
	}
}

// APIKey 按显式配置优先、其次读取环境变量的顺序返回当前提供商的凭证。
func (c LLMConfig) APIKey() string {
	switch c.Provider {
	case "anthropic":
		return firstNonEmpty(c.Anthropic.APIKey, os.Getenv(c.Anthropic.APIKeyEnv))
	case "gemini":
		return firstNonEmpty(c.Gemini.APIKey, os.Getenv(c.Gemini.APIKeyEnv))
	case "ollama":
		return ""
	default:
		return firstNonEmpty(c.OpenAI.APIKey, os.Getenv(c.OpenAI.APIKeyEnv))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
