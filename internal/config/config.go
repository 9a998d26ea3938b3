/**
 * @description
 * This package handles the configuration management for the campaign-service. It uses
 * Viper to read configuration from environment variables and an optional .env file,
 * then normalizes the result so the rest of the service can rely on sane values.
 *
 * @dependencies
 * - github.com/spf13/viper: Application configuration.
 */

package config

import (
	"errors"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultDeadlineSweepSchedule = "0 * * * *"
	defaultRateRefreshSchedule   = "0 2 * * *"
	defaultRateLimitPrefix       = "sewlesew:rate_limit"
	defaultEventsExchange        = "crowdfunding.events"
)

// Config holds all the configuration variables for the campaign-service.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	EventsExchange       string `mapstructure:"EVENTS_EXCHANGE"`

	AccessTokenSecret string `mapstructure:"AT_SECRET"`
	InternalAPIKey    string `mapstructure:"INTERNAL_API_KEY"`
	CallbackURL       string `mapstructure:"CALLBACK_URL"`
	FrontendURL       string `mapstructure:"FRONTEND_URL"`

	ChapaAPIBaseURL    string `mapstructure:"CHAPA_API_BASE_URL"`
	ChapaSecretKey     string `mapstructure:"CHAPA_SECRET_KEY"`
	ChapaWebhookSecret string `mapstructure:"CHAPA_WEBHOOK_SECRET"`

	StripeSecretKey     string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`

	CurrencyAPIBaseURL string `mapstructure:"CURRENCY_API_BASE_URL"`
	CurrencyAPIKey     string `mapstructure:"CURRENCY_API_KEY"`

	TwilioAccountSID string `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber string `mapstructure:"TWILIO_FROM_NUMBER"`

	DeadlineSweepSchedule string `mapstructure:"DEADLINE_SWEEP_SCHEDULE"`
	RateRefreshSchedule   string `mapstructure:"RATE_REFRESH_SCHEDULE"`
	RateRefreshTimezone   string `mapstructure:"RATE_REFRESH_TIMEZONE"`

	CloseCodeTTLMinutes        int  `mapstructure:"CLOSE_CODE_TTL_MINUTES"`
	RequireCloseVerification   bool `mapstructure:"REQUIRE_CLOSE_VERIFICATION"`
	CloseCodeSendLimitPerHour  int  `mapstructure:"CLOSE_CODE_SEND_LIMIT_PER_HOUR"`
	DonationRateLimitPerMinute int  `mapstructure:"DONATION_RATE_LIMIT_PER_MINUTE"`
	RequestTimeoutSeconds      int  `mapstructure:"REQUEST_TIMEOUT_SECONDS"`
	ShutdownGracePeriodSeconds int  `mapstructure:"SHUTDOWN_GRACE_PERIOD_SECONDS"`
}

// CloseCodeTTL is how long an SMS verification code stays valid.
func (c Config) CloseCodeTTL() time.Duration {
	return time.Duration(c.CloseCodeTTLMinutes) * time.Minute
}

// RequestTimeout bounds every HTTP request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ShutdownGracePeriod bounds graceful shutdown.
func (c Config) ShutdownGracePeriod() time.Duration {
	return time.Duration(c.ShutdownGracePeriodSeconds) * time.Second
}

// Validate checks the settings the HTTP server cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.AccessTokenSecret == "" {
		errs = append(errs, errors.New("AT_SECRET is required"))
	}
	if c.InternalAPIKey == "" {
		errs = append(errs, errors.New("INTERNAL_API_KEY is required"))
	}
	return errors.Join(errs...)
}

// LoadConfig reads configuration from environment variables and an optional .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("EVENTS_EXCHANGE", defaultEventsExchange)
	viper.SetDefault("CHAPA_API_BASE_URL", "https://api.chapa.co")
	viper.SetDefault("CURRENCY_API_BASE_URL", "https://api.currencyapi.com")
	viper.SetDefault("FRONTEND_URL", "http://localhost:5173")
	viper.SetDefault("DEADLINE_SWEEP_SCHEDULE", defaultDeadlineSweepSchedule)
	viper.SetDefault("RATE_REFRESH_SCHEDULE", defaultRateRefreshSchedule)
	viper.SetDefault("RATE_REFRESH_TIMEZONE", "UTC")
	viper.SetDefault("CLOSE_CODE_TTL_MINUTES", 15)
	viper.SetDefault("REQUIRE_CLOSE_VERIFICATION", false)
	viper.SetDefault("CLOSE_CODE_SEND_LIMIT_PER_HOUR", 5)
	viper.SetDefault("DONATION_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("REQUEST_TIMEOUT_SECONDS", 60)
	viper.SetDefault("SHUTDOWN_GRACE_PERIOD_SECONDS", 15)

	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("AT_SECRET", "AT_SECRET", "JWT_ACCESS_SECRET")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("CALLBACK_URL")
	_ = viper.BindEnv("FRONTEND_URL")
	_ = viper.BindEnv("CHAPA_API_BASE_URL")
	_ = viper.BindEnv("CHAPA_SECRET_KEY")
	_ = viper.BindEnv("CHAPA_WEBHOOK_SECRET")
	_ = viper.BindEnv("STRIPE_SECRET_KEY")
	_ = viper.BindEnv("STRIPE_WEBHOOK_SECRET")
	_ = viper.BindEnv("CURRENCY_API_BASE_URL")
	_ = viper.BindEnv("CURRENCY_API_KEY")
	_ = viper.BindEnv("TWILIO_ACCOUNT_SID")
	_ = viper.BindEnv("TWILIO_AUTH_TOKEN")
	_ = viper.BindEnv("TWILIO_FROM_NUMBER", "TWILIO_FROM_NUMBER", "TWILIO_PHONE_NUMBER")
	_ = viper.BindEnv("DEADLINE_SWEEP_SCHEDULE")
	_ = viper.BindEnv("RATE_REFRESH_SCHEDULE")
	_ = viper.BindEnv("RATE_REFRESH_TIMEZONE")
	_ = viper.BindEnv("CLOSE_CODE_TTL_MINUTES")
	_ = viper.BindEnv("REQUIRE_CLOSE_VERIFICATION")
	_ = viper.BindEnv("CLOSE_CODE_SEND_LIMIT_PER_HOUR")
	_ = viper.BindEnv("DONATION_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("REQUEST_TIMEOUT_SECONDS")
	_ = viper.BindEnv("SHUTDOWN_GRACE_PERIOD_SECONDS")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = defaultRateLimitPrefix
	}
	config.EventsExchange = strings.TrimSpace(config.EventsExchange)
	if config.EventsExchange == "" {
		config.EventsExchange = defaultEventsExchange
	}
	config.CallbackURL = strings.TrimRight(strings.TrimSpace(config.CallbackURL), "/")
	config.FrontendURL = strings.TrimRight(strings.TrimSpace(config.FrontendURL), "/")
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)

	if strings.TrimSpace(config.DeadlineSweepSchedule) == "" {
		config.DeadlineSweepSchedule = defaultDeadlineSweepSchedule
	}
	if strings.TrimSpace(config.RateRefreshSchedule) == "" {
		config.RateRefreshSchedule = defaultRateRefreshSchedule
	}
	if _, tzErr := time.LoadLocation(config.RateRefreshTimezone); tzErr != nil || config.RateRefreshTimezone == "" {
		log.Printf("level=warn component=config msg=\"invalid RATE_REFRESH_TIMEZONE; using UTC\" value=%q", config.RateRefreshTimezone)
		config.RateRefreshTimezone = "UTC"
	}

	if config.CloseCodeTTLMinutes <= 0 {
		config.CloseCodeTTLMinutes = 15
	}
	if config.CloseCodeSendLimitPerHour < 0 {
		config.CloseCodeSendLimitPerHour = 0
	}
	if config.DonationRateLimitPerMinute < 0 {
		config.DonationRateLimitPerMinute = 0
	}
	if config.RequestTimeoutSeconds <= 0 {
		config.RequestTimeoutSeconds = 60
	}
	if config.ShutdownGracePeriodSeconds <= 0 {
		config.ShutdownGracePeriodSeconds = 15
	}

	return
}
