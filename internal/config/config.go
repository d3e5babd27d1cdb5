// Package config handles Docent configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order used when no
// explicit path is given: ./config.yaml, ~/.config/docent/config.yaml,
// /etc/docent/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "docent", "config.yaml"))
	}

	paths = append(paths, "/etc/docent/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise the first existing entry of DefaultSearchPaths is returned.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Docent configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	Models     ModelsConfig     `yaml:"models"`
	Anthropic  AnthropicConfig  `yaml:"anthropic"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Agent      AgentConfig      `yaml:"agent"`
	Documents  DocumentsConfig  `yaml:"documents"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Cleanup    CleanupConfig    `yaml:"cleanup"`
	Search     SearchConfig     `yaml:"search"`
	Safety     SafetyConfig     `yaml:"safety"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Health     HealthConfig     `yaml:"health"`

	// Pricing maps model names to per-million-token costs. Unlisted
	// models are recorded at zero cost.
	Pricing map[string]PricingEntry `yaml:"pricing"`

	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
	LogFormat  string           `yaml:"log_format"` // text or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig defines model routing settings.
type ModelsConfig struct {
	Default   string        `yaml:"default"`
	OllamaURL string        `yaml:"ollama_url"`
	Available []ModelConfig `yaml:"available"`
}

// ModelConfig maps a model name to the provider that serves it.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // ollama, anthropic, openai
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// OpenAIConfig defines settings for OpenAI or any compatible endpoint.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"` // Optional; empty uses api.openai.com
}

// EmbeddingsConfig defines embedding generation settings.
type EmbeddingsConfig struct {
	Provider string `yaml:"provider"` // ollama (default) or openai
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"baseurl"` // Ollama URL (defaults to models.ollama_url)
}

// AgentConfig bounds the conversational loop.
type AgentConfig struct {
	MaxIterations    int    `yaml:"max_iterations"`
	HistoryLimit     int    `yaml:"history_limit"`
	SystemPromptFile string `yaml:"system_prompt_file"`
}

// DocumentsConfig controls ingestion and temporary document lifetime.
type DocumentsConfig struct {
	TemporaryTTLHours int   `yaml:"temporary_ttl_hours"`
	ChunkSize         int   `yaml:"chunk_size"`    // characters per chunk
	ChunkOverlap      int   `yaml:"chunk_overlap"` // characters shared by adjacent chunks
	MaxUploadBytes    int64 `yaml:"max_upload_bytes"`
}

// RetrievalConfig controls knowledge-base search.
type RetrievalConfig struct {
	// Threshold is the minimum cosine score. Unset means
	// DefaultThreshold; an explicit 0 accepts every non-negative score.
	Threshold  *float64 `yaml:"threshold"`
	MaxResults int      `yaml:"max_results"` // default result count
	MaxLimit   int      `yaml:"max_limit"`   // hard cap on what a tool call may request
}

// DefaultThreshold is the retrieval threshold used when none is set.
const DefaultThreshold = 0.7

// MinScore returns the configured threshold or DefaultThreshold.
func (r RetrievalConfig) MinScore() float64 {
	if r.Threshold == nil {
		return DefaultThreshold
	}
	return *r.Threshold
}

// CleanupConfig controls the expired-document sweep.
type CleanupConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// SearchConfig selects and configures the web search provider.
type SearchConfig struct {
	Provider string        `yaml:"provider"` // searxng or brave; empty picks the first configured
	SearXNG  SearXNGConfig `yaml:"searxng"`
	Brave    BraveConfig   `yaml:"brave"`
}

// SearXNGConfig points at a SearXNG instance.
type SearXNGConfig struct {
	URL string `yaml:"url"`
}

// BraveConfig holds the Brave Search API key.
type BraveConfig struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether any web search provider is set up.
func (c SearchConfig) Configured() bool {
	return c.SearXNG.URL != "" || c.Brave.APIKey != ""
}

// SafetyConfig configures the content scanner. An empty API key disables
// scanning.
type SafetyConfig struct {
	VirusTotalAPIKey string        `yaml:"virustotal_api_key"`
	Timeout          time.Duration `yaml:"timeout"`
}

// MQTTConfig configures the optional event bridge.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // e.g. mqtt://localhost:1883; empty disables
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
}

// Configured reports whether a broker is set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// PricingEntry is the USD cost per million tokens for one model.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// HealthConfig controls background probing of the model and embedding
// backends.
type HealthConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// Load reads configuration from a YAML file, expanding ${VAR} references
// from the environment and filling in defaults for unset fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a configuration suitable for a local Ollama install.
func Default() *Config {
	cfg := &Config{
		Models: ModelsConfig{
			Default: "qwen3:4b",
			Available: []ModelConfig{
				{Name: "qwen3:4b", Provider: "ollama"},
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.Models.OllamaURL == "" {
		c.Models.OllamaURL = "http://localhost:11434"
	}
	if c.Embeddings.Provider == "" {
		c.Embeddings.Provider = "ollama"
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "nomic-embed-text"
	}
	if c.Embeddings.BaseURL == "" {
		c.Embeddings.BaseURL = c.Models.OllamaURL
	}
	if c.DataDir == "" {
		c.DataDir = "./db"
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 8
	}
	if c.Agent.HistoryLimit == 0 {
		c.Agent.HistoryLimit = 20
	}
	if c.Documents.TemporaryTTLHours == 0 {
		c.Documents.TemporaryTTLHours = 1
	}
	if c.Documents.ChunkSize == 0 {
		c.Documents.ChunkSize = 1000
	}
	if c.Documents.ChunkOverlap == 0 {
		c.Documents.ChunkOverlap = 200
	}
	if c.Documents.MaxUploadBytes == 0 {
		c.Documents.MaxUploadBytes = 10 << 20
	}
	if c.Retrieval.Threshold == nil {
		t := DefaultThreshold
		c.Retrieval.Threshold = &t
	}
	if c.Retrieval.MaxResults == 0 {
		c.Retrieval.MaxResults = 5
	}
	if c.Retrieval.MaxLimit == 0 {
		c.Retrieval.MaxLimit = 10
	}
	if c.Cleanup.Interval == 0 {
		c.Cleanup.Interval = time.Hour
	}
	if c.Safety.Timeout == 0 {
		c.Safety.Timeout = 15 * time.Second
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "docent"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "docent"
	}
	if c.Health.PollInterval == 0 {
		c.Health.PollInterval = time.Minute
	}
	if c.Health.ProbeTimeout == 0 {
		c.Health.ProbeTimeout = 10 * time.Second
	}
}

// Validate checks the configuration for values that would fail at
// runtime. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if c.Models.Default == "" {
		errs = append(errs, errors.New("models.default is required"))
	}
	for _, m := range c.Models.Available {
		switch m.Provider {
		case "ollama", "":
		case "anthropic":
			if c.Anthropic.APIKey == "" {
				errs = append(errs, fmt.Errorf("model %s uses anthropic but anthropic.api_key is empty", m.Name))
			}
		case "openai":
			if c.OpenAI.APIKey == "" {
				errs = append(errs, fmt.Errorf("model %s uses openai but openai.api_key is empty", m.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("model %s: unknown provider %q", m.Name, m.Provider))
		}
	}
	switch c.Embeddings.Provider {
	case "ollama":
	case "openai":
		if c.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("embeddings.provider is openai but openai.api_key is empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("embeddings.provider: unknown provider %q", c.Embeddings.Provider))
	}
	if c.Agent.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("agent.max_iterations must be positive, got %d", c.Agent.MaxIterations))
	}
	if c.Agent.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("agent.history_limit must not be negative, got %d", c.Agent.HistoryLimit))
	}
	if c.Documents.TemporaryTTLHours < 1 {
		errs = append(errs, fmt.Errorf("documents.temporary_ttl_hours must be at least 1, got %d", c.Documents.TemporaryTTLHours))
	}
	if c.Documents.ChunkOverlap >= c.Documents.ChunkSize {
		errs = append(errs, fmt.Errorf("documents.chunk_overlap (%d) must be smaller than chunk_size (%d)",
			c.Documents.ChunkOverlap, c.Documents.ChunkSize))
	}
	if t := c.Retrieval.MinScore(); t < -1 || t > 1 {
		errs = append(errs, fmt.Errorf("retrieval.threshold %.2f outside [-1, 1]", t))
	}
	if c.Retrieval.MaxResults > c.Retrieval.MaxLimit {
		errs = append(errs, fmt.Errorf("retrieval.max_results (%d) exceeds max_limit (%d)",
			c.Retrieval.MaxResults, c.Retrieval.MaxLimit))
	}
	if c.Cleanup.Interval < time.Minute {
		errs = append(errs, fmt.Errorf("cleanup.interval %s is shorter than one minute", c.Cleanup.Interval))
	}
	if c.Health.ProbeTimeout > c.Health.PollInterval {
		errs = append(errs, fmt.Errorf("health.probe_timeout %s exceeds poll_interval %s",
			c.Health.ProbeTimeout, c.Health.PollInterval))
	}
	for model, p := range c.Pricing {
		if p.InputPerMillion < 0 || p.OutputPerMillion < 0 {
			errs = append(errs, fmt.Errorf("pricing.%s: negative price", model))
		}
	}
	switch strings.ToLower(c.Search.Provider) {
	case "", "searxng", "brave":
	default:
		errs = append(errs, fmt.Errorf("search.provider: unknown provider %q", c.Search.Provider))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

// ModelProvider returns the provider configured for model, defaulting to
// ollama for unlisted models.
func (c *Config) ModelProvider(model string) string {
	for _, m := range c.Models.Available {
		if m.Name == model && m.Provider != "" {
			return m.Provider
		}
	}
	return "ollama"
}
