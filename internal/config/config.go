/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the payments-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort            string  `mapstructure:"SERVER_PORT"`
	DatabaseURL           string  `mapstructure:"DATABASE_URL"`
	RedisURL              string  `mapstructure:"REDIS_URL"`
	RedisWebhookPrefix    string  `mapstructure:"REDIS_WEBHOOK_PREFIX"`
	RabbitMQURL           string  `mapstructure:"RABBITMQ_URL"`
	PaymentEventQueue     string  `mapstructure:"PAYMENT_EVENT_QUEUE"`
	LNbitsURL             string  `mapstructure:"LNBITS_URL"`
	LNbitsAdminKey        string  `mapstructure:"LNBITS_ADMIN_KEY"`
	LNbitsInvoiceKey      string  `mapstructure:"LNBITS_INVOICE_KEY"`
	LNbitsWalletID        string  `mapstructure:"LNBITS_WALLET_ID"`
	WebhookURL            string  `mapstructure:"WEBHOOK_URL"`
	WebhookSecret         string  `mapstructure:"WEBHOOK_SECRET"`
	JWTSecret             string  `mapstructure:"JWT_SECRET"`
	PollingIntervalSecs   int     `mapstructure:"PAYMENT_POLLING_INTERVAL_SECONDS"`
	PollingTimeoutSecs    int     `mapstructure:"PAYMENT_POLLING_TIMEOUT_SECONDS"`
	PlatformFeePercent    float64 `mapstructure:"PLATFORM_FEE_PERCENT"`
	MinContributionSats   int64   `mapstructure:"MIN_CONTRIBUTION_SATS"`
	InvoiceExpirySeconds  int     `mapstructure:"INVOICE_EXPIRY_SECONDS"`
	WebhookDedupeTTLSecs  int     `mapstructure:"WEBHOOK_DEDUPE_TTL_SECONDS"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("PAYMENT_EVENT_QUEUE", "payments_service.payment_events")
	viper.SetDefault("REDIS_WEBHOOK_PREFIX", "crowdpay:webhook_seen")
	viper.SetDefault("LNBITS_URL", "https://demo.lnbits.com")
	viper.SetDefault("PAYMENT_POLLING_INTERVAL_SECONDS", 30)
	viper.SetDefault("PAYMENT_POLLING_TIMEOUT_SECONDS", 3600)
	viper.SetDefault("PLATFORM_FEE_PERCENT", 2.5)
	viper.SetDefault("MIN_CONTRIBUTION_SATS", 100)
	viper.SetDefault("INVOICE_EXPIRY_SECONDS", 3600)
	viper.SetDefault("WEBHOOK_DEDUPE_TTL_SECONDS", 86400)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "PAYMENTS_REDIS_URL")
	_ = viper.BindEnv("REDIS_WEBHOOK_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("PAYMENT_EVENT_QUEUE")
	_ = viper.BindEnv("LNBITS_URL")
	_ = viper.BindEnv("LNBITS_ADMIN_KEY")
	_ = viper.BindEnv("LNBITS_INVOICE_KEY")
	_ = viper.BindEnv("LNBITS_WALLET_ID")
	_ = viper.BindEnv("WEBHOOK_URL")
	_ = viper.BindEnv("WEBHOOK_SECRET")
	_ = viper.BindEnv("JWT_SECRET", "JWT_SECRET", "SUPABASE_JWT_SECRET")
	_ = viper.BindEnv("PAYMENT_POLLING_INTERVAL_SECONDS")
	_ = viper.BindEnv("PAYMENT_POLLING_TIMEOUT_SECONDS")
	_ = viper.BindEnv("PLATFORM_FEE_PERCENT")
	_ = viper.BindEnv("MIN_CONTRIBUTION_SATS")
	_ = viper.BindEnv("INVOICE_EXPIRY_SECONDS")
	_ = viper.BindEnv("WEBHOOK_DEDUPE_TTL_SECONDS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisWebhookPrefix = strings.TrimSpace(config.RedisWebhookPrefix)
	if config.RedisWebhookPrefix == "" {
		config.RedisWebhookPrefix = "crowdpay:webhook_seen"
	}
	config.LNbitsURL = strings.TrimRight(strings.TrimSpace(config.LNbitsURL), "/")
	config.LNbitsAdminKey = strings.TrimSpace(config.LNbitsAdminKey)
	config.LNbitsInvoiceKey = strings.TrimSpace(config.LNbitsInvoiceKey)
	config.WebhookSecret = strings.TrimSpace(config.WebhookSecret)

	if config.PollingIntervalSecs <= 0 {
		log.Printf("level=warn component=config msg=\"invalid polling interval; using default\" interval_seconds=%d", config.PollingIntervalSecs)
		config.PollingIntervalSecs = 30
	}
	if config.PollingTimeoutSecs <= 0 {
		log.Printf("level=warn component=config msg=\"invalid polling timeout; using default\" timeout_seconds=%d", config.PollingTimeoutSecs)
		config.PollingTimeoutSecs = 3600
	}

	if config.PlatformFeePercent < 0 {
		log.Printf("level=warn component=config msg=\"negative platform fee percent configured; coercing to zero\" fee_percent=%f", config.PlatformFeePercent)
		config.PlatformFeePercent = 0
	}
	if config.PlatformFeePercent > 100 {
		log.Printf("level=warn component=config msg=\"platform fee percent too high; capping at 100\" fee_percent=%f", config.PlatformFeePercent)
		config.PlatformFeePercent = 100
	}

	if config.MinContributionSats <= 0 {
		config.MinContributionSats = 100
	}
	if config.InvoiceExpirySeconds <= 0 {
		config.InvoiceExpirySeconds = 3600
	}
	if config.WebhookDedupeTTLSecs <= 0 {
		config.WebhookDedupeTTLSecs = 86400
	}

	return
}
