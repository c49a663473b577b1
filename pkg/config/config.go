package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"boorubot/pkg/apperr"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	envFileVar     = "BOORUBOT_ENV_FILE"
	defaultEnvFile = "token.env"
)

// Config is the root runtime configuration decoded from the environment.
type Config struct {
	Telegram TelegramConfig
	Danbooru DanbooruConfig `envPrefix:"DANBOORU_"`
	Gateway  GatewayConfig  `envPrefix:"GATEWAY_"`
	Logging  LoggingConfig  `envPrefix:"LOG_"`

	// EnvFile is the env file that was read, empty when none was found.
	EnvFile string
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `env:"FORMAT" envDefault:"text"`
	Level     string `env:"LEVEL" envDefault:"info"`
	AddSource bool   `env:"ADD_SOURCE"`
}

// TelegramConfig configures the Bot API client.
type TelegramConfig struct {
	Token string `env:"BOT_TOKEN,required,notEmpty"`
	Proxy string `env:"TELEGRAM_PROXY"`
}

// DanbooruConfig configures the metadata API client and the link prefix the router matches.
type DanbooruConfig struct {
	BaseURL   string        `env:"BASE_URL" envDefault:"https://danbooru.donmai.us"`
	Timeout   time.Duration `env:"TIMEOUT" envDefault:"30s"`
	UserAgent string        `env:"USER_AGENT" envDefault:"boorubot/1.0"`
}

// PostPrefix is the literal text an inbound message must start with to be handled.
func (c DanbooruConfig) PostPrefix() string {
	return strings.TrimRight(strings.TrimSpace(c.BaseURL), "/") + "/posts/"
}

// GatewayConfig configures the HTTP status server bind settings.
type GatewayConfig struct {
	Enabled bool   `env:"ENABLED" envDefault:"true"`
	Host    string `env:"HOST" envDefault:"127.0.0.1"`
	Port    int    `env:"PORT" envDefault:"18790"`
}

// LoadConfig reads the optional env file, overlays the process environment and decodes the result.
func LoadConfig() (*Config, error) {
	envPath, err := findEnvFile()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfiguration, "resolve env file", err)
	}

	fileValues := map[string]string{}
	if envPath != "" {
		fileValues, err = godotenv.Read(envPath)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindConfiguration, "read env file", err)
		}
	}

	cfg, err := parse(mergeEnvironment(fileValues, os.Environ()))
	if err != nil {
		return nil, err
	}
	cfg.EnvFile = envPath

	return cfg, nil
}

// parse decodes and validates a complete environment map.
func parse(environment map[string]string) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environment}); err != nil {
		return nil, apperr.Wrap(apperr.KindConfiguration, "decode environment", err)
	}

	cfg.Telegram.Token = strings.TrimSpace(cfg.Telegram.Token)
	if cfg.Telegram.Token == "" {
		return nil, apperr.New(apperr.KindConfiguration, "BOT_TOKEN is required")
	}

	if err := validateBaseURL(cfg.Danbooru.BaseURL); err != nil {
		return nil, apperr.Wrap(apperr.KindConfiguration, "DANBOORU_BASE_URL", err)
	}

	return &cfg, nil
}

// mergeEnvironment layers process variables over env file values; the process always wins.
func mergeEnvironment(fileValues map[string]string, environ []string) map[string]string {
	merged := make(map[string]string, len(fileValues)+len(environ))
	for key, value := range fileValues {
		merged[key] = value
	}

	for _, pair := range environ {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			continue
		}
		merged[key] = value
	}

	return merged
}

func validateBaseURL(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("host is required")
	}

	return nil
}

// findEnvFile resolves the env file location.
//
// Precedence is BOORUBOT_ENV_FILE first, then token.env in the working
// directory, then token.env next to the executable. Only an explicit path
// that does not exist is an error.
func findEnvFile() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envFileVar)); value != "" {
		if isFile(value) {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envFileVar, value)
	}

	candidates := make([]string, 0, 2)
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, defaultEnvFile))
	}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), defaultEnvFile))
	}

	for _, candidate := range candidates {
		if isFile(candidate) {
			return candidate, nil
		}
	}

	return "", nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
