package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

var ErrEmptyEnvironmentVariable = errors.New("empty environment variable")

// Config holds all application configuration
type Config struct {
	OpenAI    OpenAIConfig
	Twilio    TwilioConfig
	Tools     ToolsConfig
	Server    ServerConfig
	Assistant AssistantConfig
}

// OpenAIConfig holds credentials for the realtime model connection
type OpenAIConfig struct {
	APIKey string
}

// TwilioConfig holds the webhook auth token and caller allow-list
type TwilioConfig struct {
	AuthToken      string
	AllowedNumbers []string // parsed but not enforced against admitted calls
}

// ToolsConfig holds the external MCP tool integration settings
type ToolsConfig struct {
	ZapierMCPURL      string
	ZapierMCPPassword string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port       int
	WebhookURL string // externally reachable base URL
}

// AssistantConfig holds model session parameters
type AssistantConfig struct {
	Instructions string
	Voice        string
	Temperature  float64
}

// Load reads and validates all required environment variables
func Load() (*Config, error) {
	// Load env.local in non-production environments. A missing file is
	// fine for deployments that inject the environment directly.
	if os.Getenv("GO_ENV") != "production" {
		_ = godotenv.Load("env.local")
	}

	cfg := &Config{}

	var err error
	if cfg.OpenAI.APIKey, err = requireEnv("OPENAI_API_KEY"); err != nil {
		return nil, err
	}
	if cfg.Twilio.AuthToken, err = requireEnv("TWILIO_AUTH_TOKEN"); err != nil {
		return nil, err
	}
	if cfg.Tools.ZapierMCPURL, err = requireEnv("ZAPIER_MCP_URL"); err != nil {
		return nil, err
	}
	if cfg.Tools.ZapierMCPPassword, err = requireEnv("ZAPIER_MCP_PASSWORD"); err != nil {
		return nil, err
	}
	if cfg.Server.WebhookURL, err = requireEnv("WEBHOOK_URL"); err != nil {
		return nil, err
	}
	if cfg.Assistant.Instructions, err = requireEnv("ASSISTANT_INSTRUCTIONS"); err != nil {
		return nil, err
	}
	if cfg.Assistant.Voice, err = requireEnv("VOICE"); err != nil {
		return nil, err
	}

	if numbers := os.Getenv("ALLOWED_NUMBERS"); numbers != "" {
		for _, n := range strings.Split(numbers, ",") {
			if n = strings.TrimSpace(n); n != "" {
				cfg.Twilio.AllowedNumbers = append(cfg.Twilio.AllowedNumbers, n)
			}
		}
	}

	port := getEnvWithDefault("PORT", "5050")
	cfg.Server.Port, err = strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PORT: %w", err)
	}

	temperature := getEnvWithDefault("TEMPERATURE", "0.8")
	cfg.Assistant.Temperature, err = strconv.ParseFloat(temperature, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TEMPERATURE: %w", err)
	}

	return cfg, nil
}

// requireEnv retrieves an environment variable or returns an error if empty
func requireEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%s is not set: %w", key, ErrEmptyEnvironmentVariable)
	}
	return value, nil
}

// getEnvWithDefault retrieves an environment variable or returns a default value
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
