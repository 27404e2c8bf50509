package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pomelo/internal/config"
	"pomelo/internal/pkg/logger"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "pomelo",
	Short: "Pomelo - AI auto-reply service for messaging channels",
	Long: `Pomelo ingests messaging-channel webhook events, resolves contact
identity, persists conversations and replies automatically through
configurable AI providers with per-tenant quotas and learned knowledge.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ./configs/config.yaml)")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.pomelo")
	}

	viper.SetEnvPrefix("POMELO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			fmt.Fprintln(os.Stderr, "No config file found, using defaults and environment variables")
		} else {
			fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
			os.Exit(1)
		}
	}

	cfg = &config.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to unmarshal config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}

	log.Debug().Str("config_file", viper.ConfigFileUsed()).Msg("configuration loaded")
}

func setDefaults() {
	// Server
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	// AI
	viper.SetDefault("ai.primary.provider", "openai")
	viper.SetDefault("ai.primary.model", "gpt-4o")
	viper.SetDefault("ai.primary.lite_model", "gpt-4o-mini")
	viper.SetDefault("ai.options.temperature", 0.7)
	viper.SetDefault("ai.options.chat_max_tokens", 512)
	viper.SetDefault("ai.options.task_max_tokens", 2048)
	viper.SetDefault("ai.options.system_prompt_budget", 4000)

	// Log
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.time_format", "RFC3339")

	// MongoDB
	viper.SetDefault("mongo.uri", "mongodb://localhost:27017")
	viper.SetDefault("mongo.database", "pomelo")
	viper.SetDefault("mongo.max_pool_size", 100)
	viper.SetDefault("mongo.min_pool_size", 10)

	// Redis
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)

	// Auth
	viper.SetDefault("auth.token_expiry", "24h")

	// Channel provider
	viper.SetDefault("channel.timeout", "30s")

	// Responder
	viper.SetDefault("responder.debounce_window", "8s")
	viper.SetDefault("responder.combine_window", "15s")
	viper.SetDefault("responder.session_events_per_minute", 20)
	viper.SetDefault("responder.timezone", "America/Sao_Paulo")

	// Quota
	viper.SetDefault("quota.provider_calls_per_minute", 30)
	viper.SetDefault("quota.timezone", "America/Sao_Paulo")

	// Learning
	viper.SetDefault("learning.confidence_increment", 0.05)
	viper.SetDefault("learning.faq_bypass_threshold", 0.75)
	viper.SetDefault("learning.faq_hint_threshold", 0.60)
	viper.SetDefault("learning.cache_ttl", "24h")
	viper.SetDefault("learning.cache_min_question_len", 10)
	viper.SetDefault("learning.cache_max_question_len", 300)
	viper.SetDefault("learning.cache_max_answer_len", 2000)
	viper.SetDefault("learning.queue_size", 256)
	viper.SetDefault("learning.workers", 2)
}

// GetConfig returns the global configuration
func GetConfig() *config.Config {
	return cfg
}
