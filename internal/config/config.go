package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the regsearch API configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
	Auth      AuthConfig      `yaml:"auth"`
	AWS       AWSConfig       `yaml:"aws"`
	Search    SearchConfig    `yaml:"search"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Cache     CacheConfig     `yaml:"cache"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port           int `yaml:"port"`
	ReadTimeoutSec int `yaml:"read_timeout_sec"`
	// WriteTimeoutSec bounds the whole response, including the SSE stream,
	// so it defaults much higher than a regular API timeout.
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// AWSConfig holds credentials and region for signed outbound calls.
type AWSConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
}

// SearchConfig holds the document index connection and query shape.
type SearchConfig struct {
	Endpoint     string   `yaml:"endpoint"`
	Index        string   `yaml:"index"`
	Service      string   `yaml:"service"` // signing service name: es, aoss
	Fields       []string `yaml:"fields"`  // keyword-clause field set
	VectorField  string   `yaml:"vector_field"`
	SizeHint     int      `yaml:"size_hint"` // per-sub-query result budget
	KeywordBoost float64  `yaml:"keyword_boost"`
}

// EmbeddingConfig holds embedding provider selection and settings.
type EmbeddingConfig struct {
	Provider   string             `yaml:"provider"` // bedrock, openai
	Dimensions int                `yaml:"dimensions"`
	Bedrock    BedrockModelConfig `yaml:"bedrock"`
	OpenAI     OpenAIClientConfig `yaml:"openai"`
}

// LLMConfig holds answer-generation backend selection and settings.
// The backend is a deployment-time choice, never a per-request branch.
type LLMConfig struct {
	Backend   string             `yaml:"backend"` // bedrock, openai
	MaxTokens int                `yaml:"max_tokens"`
	Bedrock   BedrockModelConfig `yaml:"bedrock"`
	OpenAI    OpenAIClientConfig `yaml:"openai"`
}

// BedrockModelConfig identifies a Bedrock model.
type BedrockModelConfig struct {
	ModelID string `yaml:"model_id"`
}

// OpenAIClientConfig holds OpenAI-compatible endpoint settings.
type OpenAIClientConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// CacheConfig holds the optional embedding-cache store settings.
// Empty addrs disable caching.
type CacheConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// PipelineConfig holds orchestrator limits.
type PipelineConfig struct {
	MaxSources     int `yaml:"max_sources"`     // sources event cap
	ContextSources int `yaml:"context_sources"` // citation context size
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 300
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Search.Service == "" {
		c.Search.Service = "es"
	}
	if len(c.Search.Fields) == 0 {
		c.Search.Fields = []string{"title", "full_text", "code", "header_path"}
	}
	if c.Search.VectorField == "" {
		c.Search.VectorField = "embedding"
	}
	if c.Search.SizeHint <= 0 {
		c.Search.SizeHint = 10
	}
	if c.Search.KeywordBoost <= 0 {
		c.Search.KeywordBoost = 0.3
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "bedrock"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 1536
	}
	if c.LLM.Backend == "" {
		c.LLM.Backend = "bedrock"
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 2048
	}
	if c.Cache.ReadinessTimeout <= 0 {
		c.Cache.ReadinessTimeout = 10
	}
	if c.Pipeline.MaxSources <= 0 {
		c.Pipeline.MaxSources = 8
	}
	if c.Pipeline.ContextSources <= 0 {
		c.Pipeline.ContextSources = 5
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Search.Endpoint == "" {
		return fmt.Errorf("search.endpoint is required")
	}
	if c.Search.Index == "" {
		return fmt.Errorf("search.index is required")
	}
	if c.AWS.Region == "" {
		return fmt.Errorf("aws.region is required")
	}
	switch c.Embedding.Provider {
	case "bedrock":
		if c.Embedding.Bedrock.ModelID == "" {
			return fmt.Errorf("embedding.bedrock.model_id is required for the bedrock provider")
		}
	case "openai":
		if c.Embedding.OpenAI.APIKey == "" {
			return fmt.Errorf("embedding.openai.api_key is required for the openai provider")
		}
	default:
		return fmt.Errorf(
			"embedding.provider must be \"bedrock\" or \"openai\", got %q", c.Embedding.Provider)
	}
	switch c.LLM.Backend {
	case "bedrock":
		if c.LLM.Bedrock.ModelID == "" {
			return fmt.Errorf("llm.bedrock.model_id is required for the bedrock backend")
		}
	case "openai":
		if c.LLM.OpenAI.APIKey == "" {
			return fmt.Errorf("llm.openai.api_key is required for the openai backend")
		}
	default:
		return fmt.Errorf("llm.backend must be \"bedrock\" or \"openai\", got %q", c.LLM.Backend)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
