package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env               string        `mapstructure:"ENV"`
	Port              string        `mapstructure:"PORT"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	RabbitMQURL       string        `mapstructure:"RABBITMQ_URL"`
	RabbitMQExchange  string        `mapstructure:"RABBITMQ_EXCHANGE"`
	AdminKey          string        `mapstructure:"ADMIN_KEY"`
	AIURL             string        `mapstructure:"AI_URL"`
	AIModel           string        `mapstructure:"AI_MODEL"`
	AIAPIKey          string        `mapstructure:"AI_API_KEY"`
	AIMaxTokens       int           `mapstructure:"AI_MAX_TOKENS"`
	CORSAllowed       string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout    time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	PollInterval      time.Duration `mapstructure:"POLL_INTERVAL"`
	VisitorRateLimit  int           `mapstructure:"VISITOR_RATE_LIMIT"`
	VisitorRateWindow time.Duration `mapstructure:"VISITOR_RATE_WINDOW"`
	MigrateOnStart    bool          `mapstructure:"MIGRATE_ON_START"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("RABBITMQ_EXCHANGE", "marketplace.events")
	v.SetDefault("AI_MAX_TOKENS", 400)
	v.SetDefault("POLL_INTERVAL", "3s")
	v.SetDefault("VISITOR_RATE_LIMIT", 20)
	v.SetDefault("VISITOR_RATE_WINDOW", "1m")
	v.SetDefault("MIGRATE_ON_START", true)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
