package config

import (
	"errors"
	"time"
)

// Config application configuration root
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	AI        AIConfig        `mapstructure:"ai"`
	Log       LogConfig       `mapstructure:"log"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Channel   ChannelConfig   `mapstructure:"channel"`
	Responder ResponderConfig `mapstructure:"responder"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Learning  LearningConfig  `mapstructure:"learning"`
}

// ServerConfig HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AIConfig AI gateway configuration
type AIConfig struct {
	Primary   AIProviderConfig `mapstructure:"primary"`
	Secondary AIProviderConfig `mapstructure:"secondary"`
	Options   AIOptionsConfig  `mapstructure:"options"`
}

// AIProviderConfig one AI backend (openai or ark)
type AIProviderConfig struct {
	Provider  string `mapstructure:"provider"`
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`      // full-capability model
	LiteModel string `mapstructure:"lite_model"` // cheap/fast model for trivial chat
	BaseURL   string `mapstructure:"base_url"`
}

// AIOptionsConfig model call parameters and cost budgets
type AIOptionsConfig struct {
	Temperature        float64 `mapstructure:"temperature"`
	ChatMaxTokens      int     `mapstructure:"chat_max_tokens"`      // ceiling for conversational replies
	TaskMaxTokens      int     `mapstructure:"task_max_tokens"`      // ceiling for structured JSON features
	SystemPromptBudget int     `mapstructure:"system_prompt_budget"` // chars
}

// LogConfig log configuration (zerolog)
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	TimeFormat string `mapstructure:"time_format"`
}

// MongoConfig MongoDB configuration
type MongoConfig struct {
	URI         string `mapstructure:"uri"`
	Database    string `mapstructure:"database"`
	MaxPoolSize uint64 `mapstructure:"max_pool_size"`
	MinPoolSize uint64 `mapstructure:"min_pool_size"`
}

// RedisConfig Redis configuration
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig API authentication configuration
type AuthConfig struct {
	JWTSecret   string        `mapstructure:"jwt_secret"`
	TokenExpiry time.Duration `mapstructure:"token_expiry"`
}

// ChannelConfig outbound messaging-channel provider
type ChannelConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ResponderConfig AI response orchestrator tunables
type ResponderConfig struct {
	DebounceWindow         time.Duration     `mapstructure:"debounce_window"`
	CombineWindow          time.Duration     `mapstructure:"combine_window"`
	SessionEventsPerMinute int64             `mapstructure:"session_events_per_minute"`
	Timezone               string            `mapstructure:"timezone"`       // default for service-hours evaluation
	CannedReplies          map[string]string `mapstructure:"canned_replies"` // merged over the built-in dictionary
}

// QuotaConfig quota and provider rate enforcement tunables
type QuotaConfig struct {
	ProviderCallsPerMinute int64  `mapstructure:"provider_calls_per_minute"`
	Timezone               string `mapstructure:"timezone"` // day/month boundary timezone
}

// LearningConfig learning store tunables
type LearningConfig struct {
	ConfidenceIncrement float64       `mapstructure:"confidence_increment"`
	FAQBypassThreshold  float64       `mapstructure:"faq_bypass_threshold"`
	FAQHintThreshold    float64       `mapstructure:"faq_hint_threshold"`
	CacheTTL            time.Duration `mapstructure:"cache_ttl"`
	CacheMinQuestionLen int           `mapstructure:"cache_min_question_len"`
	CacheMaxQuestionLen int           `mapstructure:"cache_max_question_len"`
	CacheMaxAnswerLen   int           `mapstructure:"cache_max_answer_len"`
	QueueSize           int           `mapstructure:"queue_size"`
	Workers             int           `mapstructure:"workers"`
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("invalid server port")
	}

	validModes := map[string]bool{"debug": true, "release": true, "test": true}
	if !validModes[c.Server.Mode] {
		return errors.New("invalid server mode, must be debug/release/test")
	}

	if c.Responder.DebounceWindow <= 0 {
		return errors.New("responder.debounce_window must be positive")
	}
	if c.Responder.CombineWindow <= 0 {
		return errors.New("responder.combine_window must be positive")
	}
	if c.Learning.FAQBypassThreshold < c.Learning.FAQHintThreshold {
		return errors.New("learning.faq_bypass_threshold must be >= faq_hint_threshold")
	}

	return nil
}
