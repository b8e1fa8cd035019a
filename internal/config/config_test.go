package config

import "testing"

func validConfig() Config {
	cfg := Config{
		HTTP: HTTPConfig{Port: 8080},
		AWS:  AWSConfig{Region: "us-east-1"},
		Search: SearchConfig{
			Endpoint: "https://search-example.us-east-1.es.amazonaws.com",
			Index:    "regulations",
		},
		Embedding: EmbeddingConfig{
			Provider: "bedrock",
			Bedrock:  BedrockModelConfig{ModelID: "amazon.titan-embed-text-v2:0"},
		},
		LLM: LLMConfig{
			Backend: "bedrock",
			Bedrock: BedrockModelConfig{ModelID: "anthropic.claude-3-sonnet-20240229-v1:0"},
		},
	}
	return cfg
}

func TestValidate_Valid(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidate_MissingSearchEndpoint(t *testing.T) {
	cfg := validConfig()
	cfg.Search.Endpoint = ""

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing search endpoint")
	}
}

func TestValidate_MissingRegion(t *testing.T) {
	cfg := validConfig()
	cfg.AWS.Region = ""

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing region")
	}
}

func TestValidate_UnknownBackend(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.Backend = "ollama"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
	expected := `llm.backend must be "bedrock" or "openai", got "ollama"`
	if err.Error() != expected {
		t.Errorf("unexpected error message:\ngot:  %q\nwant: %q", err.Error(), expected)
	}
}

func TestValidate_OpenAIBackendRequiresKey(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.Backend = "openai"
	cfg.LLM.OpenAI = OpenAIClientConfig{Model: "gpt-4o-mini"}

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for openai backend without api key")
	}

	cfg.LLM.OpenAI.APIKey = "sk-test"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error with api key set: %v", err)
	}
}

func TestValidate_UnknownEmbeddingProvider(t *testing.T) {
	cfg := validConfig()
	cfg.Embedding.Provider = "cohere"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown embedding provider")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 10 {
		t.Errorf("expected ReadTimeoutSec=10, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.HTTP.WriteTimeoutSec != 300 {
		t.Errorf("expected WriteTimeoutSec=300, got %d", cfg.HTTP.WriteTimeoutSec)
	}
	if cfg.Search.Service != "es" {
		t.Errorf("expected Service=es, got %q", cfg.Search.Service)
	}
	if cfg.Search.SizeHint != 10 {
		t.Errorf("expected SizeHint=10, got %d", cfg.Search.SizeHint)
	}
	if cfg.Search.KeywordBoost != 0.3 {
		t.Errorf("expected KeywordBoost=0.3, got %f", cfg.Search.KeywordBoost)
	}
	if len(cfg.Search.Fields) == 0 {
		t.Error("expected default keyword field set")
	}
	if cfg.Pipeline.MaxSources != 8 {
		t.Errorf("expected MaxSources=8, got %d", cfg.Pipeline.MaxSources)
	}
	if cfg.Pipeline.ContextSources != 5 {
		t.Errorf("expected ContextSources=5, got %d", cfg.Pipeline.ContextSources)
	}
	if cfg.LLM.MaxTokens != 2048 {
		t.Errorf("expected MaxTokens=2048, got %d", cfg.LLM.MaxTokens)
	}
}

func TestApplyDefaults_NoOverride(t *testing.T) {
	cfg := Config{
		HTTP:     HTTPConfig{ReadTimeoutSec: 30, WriteTimeoutSec: 600, ShutdownSec: 5},
		Search:   SearchConfig{Service: "aoss", SizeHint: 20, KeywordBoost: 0.5},
		Pipeline: PipelineConfig{MaxSources: 12, ContextSources: 3},
	}
	cfg.ApplyDefaults()

	if cfg.HTTP.WriteTimeoutSec != 600 {
		t.Errorf("expected WriteTimeoutSec=600, got %d", cfg.HTTP.WriteTimeoutSec)
	}
	if cfg.Search.Service != "aoss" {
		t.Errorf("expected Service=aoss, got %q", cfg.Search.Service)
	}
	if cfg.Search.KeywordBoost != 0.5 {
		t.Errorf("expected KeywordBoost=0.5, got %f", cfg.Search.KeywordBoost)
	}
	if cfg.Pipeline.MaxSources != 12 {
		t.Errorf("expected MaxSources=12, got %d", cfg.Pipeline.MaxSources)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("REGSEARCH_TEST_KEY", "secret-value")

	out := string(expandEnvVars([]byte("key: ${REGSEARCH_TEST_KEY}\nother: ${MISSING_VAR:-fallback}")))
	if out != "key: secret-value\nother: fallback" {
		t.Errorf("unexpected expansion: %q", out)
	}
}
