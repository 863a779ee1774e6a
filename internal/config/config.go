package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/afredojala/agent-demo/pkg/logger"
)

// maxAgentIterations 是编排器补全轮数的硬上限，配置只能收紧不能放宽。
const maxAgentIterations = 10

// Config 描述了编排服务在启动阶段需要加载的全部配置。
type Config struct {
	Server      ServerConfig      `json:"server" yaml:"server"`
	LLM         LLMConfig         `json:"llm" yaml:"llm"`
	CRM         CRMConfig         `json:"crm" yaml:"crm"`
	Agent       AgentConfig       `json:"agent" yaml:"agent"`
	State       StateConfig       `json:"state" yaml:"state"`
	Storage     StorageConfig     `json:"storage" yaml:"storage"`
	TaskQueue   TaskQueueConfig   `json:"task_queue" yaml:"task_queue"`
	Broadcaster BroadcasterConfig `json:"broadcaster" yaml:"broadcaster"`
	Logging     logger.Config     `json:"logging" yaml:"logging"`
	Metrics     MetricsConfig     `json:"metrics" yaml:"metrics"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address         string   `json:"address" yaml:"address"`
	ShutdownTimeout Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LLMConfig 用于配置 OpenAI 兼容的补全接口。
type LLMConfig struct {
	APIKey  string   `json:"api_key" yaml:"api_key"`
	BaseURL string   `json:"base_url" yaml:"base_url"`
	Model   string   `json:"model" yaml:"model"`
	Timeout Duration `json:"timeout" yaml:"timeout"`
}

// CRMConfig 描述外部 CRM REST 服务。
type CRMConfig struct {
	BaseURL string   `json:"base_url" yaml:"base_url"`
	Timeout Duration `json:"timeout" yaml:"timeout"`
}

// AgentConfig 控制编排循环。
type AgentConfig struct {
	MaxIterations int      `json:"max_iterations" yaml:"max_iterations"`
	LLMTimeout    Duration `json:"llm_timeout" yaml:"llm_timeout"`
	Manager       string   `json:"manager" yaml:"manager"`
	SeniorSupport string   `json:"senior_support" yaml:"senior_support"`
	NotifyEmail   string   `json:"notify_email" yaml:"notify_email"`
	RunHistory    int      `json:"run_history" yaml:"run_history"`
}

// StateConfig 选择工作流共享状态的存储后端。
type StateConfig struct {
	Driver string      `json:"driver" yaml:"driver"`
	Redis  RedisConfig `json:"redis" yaml:"redis"`
}

// RedisConfig 描述 Redis 连接信息。
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// StorageConfig 统一描述任务存储的连接信息。
type StorageConfig struct {
	TaskStore TaskStoreConfig `json:"task_store" yaml:"task_store"`
}

// TaskStoreConfig 支持 memory 与 mysql 两种驱动。
type TaskStoreConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
	Table  string `json:"table" yaml:"table"`
}

// TaskQueueConfig 选择异步任务队列实现。
type TaskQueueConfig struct {
	Driver      string         `json:"driver" yaml:"driver"`
	Buffer      int            `json:"buffer" yaml:"buffer"`
	Workers     int            `json:"workers" yaml:"workers"`
	MaxAttempts int            `json:"max_attempts" yaml:"max_attempts"`
	Redis       RedisConfig    `json:"redis" yaml:"redis"`
	RabbitMQ    RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 连接信息。
type RabbitMQConfig struct {
	URL   string `json:"url" yaml:"url"`
	Queue string `json:"queue" yaml:"queue"`
}

// BroadcasterConfig 控制前端 WebSocket 连接。
type BroadcasterConfig struct {
	Path           string   `json:"path" yaml:"path"`
	WriteTimeout   Duration `json:"write_timeout" yaml:"write_timeout"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

// MetricsConfig 控制 Prometheus 指标暴露。Address 非空时指标改由独立端口提供。
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
	Address string `json:"address" yaml:"address"`
}

// envOverrides 收集可以通过环境变量覆盖的字段。留空表示不覆盖文件中的值。
type envOverrides struct {
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL"`
	Model         string `envconfig:"AGENT_MODEL"`
	APIBase       string `envconfig:"API_BASE"`
	Address       string `envconfig:"AGENT_ADDRESS"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
	StateDriver   string `envconfig:"AGENT_STATE_DRIVER"`
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	QueueDriver   string `envconfig:"AGENT_QUEUE_DRIVER"`
	RabbitMQURL   string `envconfig:"RABBITMQ_URL"`
	MySQLDSN      string `envconfig:"MYSQL_DSN"`
}

// Load 解析配置文件（可为空），随后使用 .env 与环境变量覆盖，最后补全默认值。
// 文件格式由扩展名决定：.yaml/.yml 使用 YAML，其余按 JSON 解析。
func Load(path string) (*Config, error) {
	var cfg Config
	baseDir := "."

	if strings.TrimSpace(path) != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(content, &cfg)
		default:
			err = json.Unmarshal(content, &cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
		baseDir = filepath.Dir(path)
	}

	if err := godotenv.Load(filepath.Join(baseDir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("加载 .env 失败: %w", err)
	}

	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("解析环境变量失败: %w", err)
	}
	cfg.applyEnv(env)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(env envOverrides) {
	override(&c.LLM.APIKey, env.OpenAIAPIKey)
	override(&c.LLM.BaseURL, env.OpenAIBaseURL)
	override(&c.LLM.Model, env.Model)
	override(&c.CRM.BaseURL, env.APIBase)
	override(&c.Server.Address, env.Address)
	override(&c.Logging.Level, env.LogLevel)
	override(&c.State.Driver, env.StateDriver)
	override(&c.State.Redis.Addr, env.RedisAddr)
	override(&c.TaskQueue.Driver, env.QueueDriver)
	override(&c.TaskQueue.Redis.Addr, env.RedisAddr)
	override(&c.TaskQueue.RabbitMQ.URL, env.RabbitMQURL)
	override(&c.Storage.TaskStore.DSN, env.MySQLDSN)
}

func override(dst *string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		*dst = v
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8001"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = Duration(5 * time.Second)
	}

	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o"
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = Duration(60 * time.Second)
	}

	if c.CRM.BaseURL == "" {
		c.CRM.BaseURL = "http://localhost:8000"
	}
	if c.CRM.Timeout <= 0 {
		c.CRM.Timeout = Duration(10 * time.Second)
	}

	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = maxAgentIterations
	}
	if c.Agent.Manager == "" {
		c.Agent.Manager = "manager"
	}
	if c.Agent.SeniorSupport == "" {
		c.Agent.SeniorSupport = "senior_support"
	}
	if c.Agent.NotifyEmail == "" {
		c.Agent.NotifyEmail = "ops@example.com"
	}
	if c.Agent.RunHistory <= 0 {
		c.Agent.RunHistory = 100
	}

	if c.State.Driver == "" {
		c.State.Driver = "memory"
	}
	if c.State.Redis.KeyPrefix == "" {
		c.State.Redis.KeyPrefix = "agent:workflow_state:"
	}

	if c.Storage.TaskStore.Driver == "" {
		c.Storage.TaskStore.Driver = "memory"
	}
	if c.Storage.TaskStore.Table == "" {
		c.Storage.TaskStore.Table = "goal_tasks"
	}

	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Buffer <= 0 {
		c.TaskQueue.Buffer = 64
	}
	if c.TaskQueue.Workers <= 0 {
		c.TaskQueue.Workers = 2
	}
	if c.TaskQueue.MaxAttempts <= 0 {
		c.TaskQueue.MaxAttempts = 1
	}
	if c.TaskQueue.Redis.KeyPrefix == "" {
		c.TaskQueue.Redis.KeyPrefix = "agent:tasks"
	}
	if c.TaskQueue.RabbitMQ.Queue == "" {
		c.TaskQueue.RabbitMQ.Queue = "agent.goals"
	}

	if c.Broadcaster.Path == "" {
		c.Broadcaster.Path = "/ws"
	}
	if c.Broadcaster.WriteTimeout <= 0 {
		c.Broadcaster.WriteTimeout = Duration(5 * time.Second)
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate 检查驱动与其连接参数是否匹配。
func (c *Config) Validate() error {
	if c.Agent.MaxIterations > maxAgentIterations {
		return fmt.Errorf("agent.max_iterations 不能超过 %d", maxAgentIterations)
	}

	switch c.State.Driver {
	case "memory":
	case "redis":
		if c.State.Redis.Addr == "" {
			return errors.New("state.redis.addr 不能为空")
		}
	default:
		return fmt.Errorf("不支持的状态存储驱动: %s", c.State.Driver)
	}

	switch c.Storage.TaskStore.Driver {
	case "memory":
	case "mysql":
		if c.Storage.TaskStore.DSN == "" {
			return errors.New("storage.task_store.dsn 不能为空")
		}
	default:
		return fmt.Errorf("不支持的任务存储驱动: %s", c.Storage.TaskStore.Driver)
	}

	switch c.TaskQueue.Driver {
	case "memory":
	case "redis":
		if c.TaskQueue.Redis.Addr == "" {
			return errors.New("task_queue.redis.addr 不能为空")
		}
	case "rabbitmq":
		if c.TaskQueue.RabbitMQ.URL == "" {
			return errors.New("task_queue.rabbitmq.url 不能为空")
		}
	default:
		return fmt.Errorf("不支持的任务队列驱动: %s", c.TaskQueue.Driver)
	}
	return nil
}

// Duration 支持以 "10s" 之类的字符串或纳秒整数书写时长。
type Duration time.Duration

// Std 转换为 time.Duration。
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalJSON 实现 json.Unmarshaler。
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.set(raw)
}

// UnmarshalYAML 实现 yaml.Unmarshaler。
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) set(raw any) error {
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("无效的时长 %q: %w", v, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(v))
	case int:
		*d = Duration(time.Duration(v))
	case nil:
		*d = 0
	default:
		return fmt.Errorf("无效的时长类型 %T", raw)
	}
	return nil
}
