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
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the banking-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	JWTSecret            string `mapstructure:"JWT_SECRET"`

	DarajaBaseURL           string `mapstructure:"DARAJA_BASE_URL"`
	DarajaConsumerKey       string `mapstructure:"DARAJA_CONSUMER_KEY"`
	DarajaConsumerSecret    string `mapstructure:"DARAJA_CONSUMER_SECRET"`
	DarajaShortCode         string `mapstructure:"DARAJA_SHORTCODE"`
	DarajaPasskey           string `mapstructure:"DARAJA_PASSKEY"`
	DarajaInitiatorName     string `mapstructure:"DARAJA_INITIATOR_NAME"`
	DarajaInitiatorPassword string `mapstructure:"DARAJA_INITIATOR_PASSWORD"`
	CallbackBaseURL         string `mapstructure:"CALLBACK_BASE_URL"`

	StartingBalanceCents      int64 `mapstructure:"STARTING_BALANCE_CENTS"`
	InitiationRateLimitPerMin int   `mapstructure:"INITIATION_RATE_LIMIT_PER_MINUTE"`
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
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "bank:rate_limit")
	viper.SetDefault("DARAJA_BASE_URL", "https://sandbox.safaricom.co.ke")
	viper.SetDefault("STARTING_BALANCE_CENTS", 1_000_000)
	viper.SetDefault("INITIATION_RATE_LIMIT_PER_MINUTE", 10)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "BANK_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("DARAJA_BASE_URL")
	_ = viper.BindEnv("DARAJA_CONSUMER_KEY", "DARAJA_CONSUMER_KEY", "MPESA_CONSUMER_KEY")
	_ = viper.BindEnv("DARAJA_CONSUMER_SECRET", "DARAJA_CONSUMER_SECRET", "MPESA_CONSUMER_SECRET")
	_ = viper.BindEnv("DARAJA_SHORTCODE", "DARAJA_SHORTCODE", "MPESA_SHORTCODE")
	_ = viper.BindEnv("DARAJA_PASSKEY", "DARAJA_PASSKEY", "MPESA_PASSKEY")
	_ = viper.BindEnv("DARAJA_INITIATOR_NAME")
	_ = viper.BindEnv("DARAJA_INITIATOR_PASSWORD")
	_ = viper.BindEnv("CALLBACK_BASE_URL")
	_ = viper.BindEnv("STARTING_BALANCE_CENTS")
	_ = viper.BindEnv("STARTING_BALANCE")
	_ = viper.BindEnv("INITIATION_RATE_LIMIT_PER_MINUTE")

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
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "bank:rate_limit"
	}
	config.CallbackBaseURL = strings.TrimSuffix(strings.TrimSpace(config.CallbackBaseURL), "/")

	// Allow specifying the starting balance in whole currency units via
	// STARTING_BALANCE.
	if viper.IsSet("STARTING_BALANCE") {
		balanceStr := strings.TrimSpace(viper.GetString("STARTING_BALANCE"))
		if balanceStr != "" {
			balanceValue, parseErr := strconv.ParseFloat(balanceStr, 64)
			if parseErr != nil {
				log.Printf("level=warn component=config msg=\"invalid STARTING_BALANCE\" value=%q err=%v", balanceStr, parseErr)
			} else {
				config.StartingBalanceCents = int64(math.Round(balanceValue * 100))
			}
		}
	}

	if config.StartingBalanceCents < 0 {
		log.Printf("level=warn component=config msg=\"negative starting balance configured; coercing to zero\" balance_cents=%d", config.StartingBalanceCents)
		config.StartingBalanceCents = 0
	}
	if config.InitiationRateLimitPerMin <= 0 {
		config.InitiationRateLimitPerMin = 10
	}

	return
}
