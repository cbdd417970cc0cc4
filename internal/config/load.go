package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nguyentantai21042004/cirse-notes/internal/model"
)

const (
	EnvEmail        = "CIRSE_EMAIL"
	EnvPassword     = "CIRSE_PASSWORD"
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvGeminiKeys   = "GEMINI_API_KEYS"
	DefaultEnvFile  = ".env"
	DefaultFilePath = "config.yaml"
)

// Secrets are read once at start-up and never written back.
type Secrets struct {
	Credentials   model.Credentials
	OpenAIAPIKey  string
	GeminiAPIKeys []string
}

// Load reads a YAML config file, applies defaults and pulls secrets from the
// environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Default returns a validated config built only from defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadSecrets loads envFile (if present) into the process environment and
// reads the secret variables. Existing environment variables win.
func (c *Config) LoadSecrets(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	c.Secrets = Secrets{
		Credentials: model.Credentials{
			Email:    strings.TrimSpace(os.Getenv(EnvEmail)),
			Password: os.Getenv(EnvPassword),
		},
		OpenAIAPIKey:  strings.TrimSpace(os.Getenv(EnvOpenAIKey)),
		GeminiAPIKeys: splitKeys(os.Getenv(EnvGeminiKeys)),
	}
	return nil
}

// CheckSecrets verifies that the secrets needed by the configured providers
// are present. Library credentials are only needed when library is true.
func (c *Config) CheckSecrets(library bool) error {
	var missing []string
	if library && c.Secrets.Credentials.Email == "" {
		missing = append(missing, EnvEmail)
	}
	if library && c.Secrets.Credentials.Password == "" {
		missing = append(missing, EnvPassword)
	}
	needOpenAI := c.Transcriber.Provider == "openai" || c.Summarizer.Provider == "openai"
	if needOpenAI && c.Secrets.OpenAIAPIKey == "" {
		missing = append(missing, EnvOpenAIKey)
	}
	if c.Summarizer.Provider == "gemini" && len(c.Secrets.GeminiAPIKeys) == 0 {
		missing = append(missing, EnvGeminiKeys)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing secrets: %s", strings.Join(missing, ", "))
	}
	return nil
}

func splitKeys(raw string) []string {
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
