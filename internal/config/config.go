package config

import (
	"fmt"
	"time"

	"jobinbox/pkg/config"
)

// ClassifierConfig 分类批次配置
type ClassifierConfig struct {
	BatchSize  int           `yaml:"batch_size"`
	BatchDelay time.Duration `yaml:"batch_delay"`
	RetryBase  time.Duration `yaml:"retry_base"`
}

// HubConfig 推送连接配置
type HubConfig struct {
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	OriginPatterns []string      `yaml:"origin_patterns"`
	// 未配置 JWT 时是否接受裸 email 认证（仅本地开发）
	AllowEmailAuth bool   `yaml:"allow_email_auth"`
	RelayChannel   string `yaml:"relay_channel"`
}

// WatcherConfig 变更通知处理配置
type WatcherConfig struct {
	FetchLimit int           `yaml:"fetch_limit"`
	Threshold  int           `yaml:"threshold"`
	DedupTTL   time.Duration `yaml:"dedup_ttl"`
}

type Config struct {
	Env        string                  `yaml:"env"`
	Server     config.ServerConfig     `yaml:"server"`
	DB         config.DBConfig         `yaml:"db"`
	MQ         config.MQConfig         `yaml:"mq"`
	Redis      config.RedisConfig      `yaml:"redis"`
	JWT        config.JWTConfig        `yaml:"jwt"`
	LLM        config.LLMConfig        `yaml:"llm"`
	Google     config.GoogleConfig     `yaml:"google"`
	Credential config.CredentialConfig `yaml:"credential"`
	OTel       config.OTelConfig       `yaml:"otel"`
	Classifier ClassifierConfig        `yaml:"classifier"`
	Hub        HubConfig               `yaml:"hub"`
	Watcher    WatcherConfig           `yaml:"watcher"`
}

// Load 读取 config 目录下的多环境配置，环境变量优先级最高
func Load() (*Config, error) {
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")

	cfgMap, err := config.LoadConfig(env, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var cfg Config
	if err := config.Decode(cfgMap, &cfg); err != nil {
		return nil, err
	}
	if cfg.Env == "" {
		cfg.Env = env
	}

	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideLLMFromEnv(&cfg.LLM)
	config.OverrideGoogleFromEnv(&cfg.Google)
	config.OverrideCredentialFromEnv(&cfg.Credential)
	config.OverrideOTelFromEnv(&cfg.OTel)

	if cfg.Server.Port == "" {
		cfg.Server.Port = "3001"
	}
	if cfg.Watcher.DedupTTL <= 0 {
		cfg.Watcher.DedupTTL = 24 * time.Hour
	}
	return &cfg, nil
}
