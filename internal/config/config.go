package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the askdex server configuration.
type Config struct {
	HTTP         HTTPConfig                `yaml:"http"`
	Database     DatabaseConfig            `yaml:"database"`
	Auth         AuthConfig                `yaml:"auth"`
	Logging      LoggingConfig             `yaml:"logging"`
	Index        IndexConfig               `yaml:"index"`
	Providers    map[string]ProviderConfig `yaml:"providers"`
	Models       map[string]ModelConfig    `yaml:"models"`
	Defaults     DefaultsConfig            `yaml:"defaults"`
	Embedding    EmbeddingConfig           `yaml:"embedding"`
	Health       HealthConfig              `yaml:"health"`
	Ingest       IngestConfig              `yaml:"ingest"`
	Retrieval    RetrievalConfig           `yaml:"retrieval"`
	Context      ContextConfig             `yaml:"context"`
	Answer       AnswerConfig              `yaml:"answer"`
	Conversation ConversationConfig        `yaml:"conversation"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: determined by env)
	Format string `yaml:"format"` // json, console (default: determined by env)
}

// AuthConfig holds API authentication settings. No keys disables auth.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"` // 0 keeps streams open; default applies only to non-stream routes
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds Redis connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// IndexConfig holds chunk index settings.
type IndexConfig struct {
	Name            string `yaml:"name"`
	Dimensions      int    `yaml:"dimensions"`
	HNSWM           int    `yaml:"hnsw_m"`
	HNSWEFConstruct int    `yaml:"hnsw_ef_construction"`
}

// BudgetConfig holds token budget settings.
type BudgetConfig struct {
	DailyTokenLimit   int64  `yaml:"daily_token_limit"`   // 0 = unlimited
	MonthlyTokenLimit int64  `yaml:"monthly_token_limit"` // 0 = unlimited
	Action            string `yaml:"action"`              // "reject" | "warn" (default)
}

// ProviderConfig holds connection settings for one provider backend.
type ProviderConfig struct {
	Type       string       `yaml:"type"` // openai, anthropic, ollama
	APIKey     string       `yaml:"api_key"`
	BaseURL    string       `yaml:"base_url"`
	TimeoutSec int          `yaml:"timeout_sec"`
	RPS        float64      `yaml:"rps"` // 0 = unlimited
	Burst      int          `yaml:"burst"`
	Budget     BudgetConfig `yaml:"budget"`
}

// ModelConfig describes one model descriptor.
type ModelConfig struct {
	Provider      string `yaml:"provider"`
	Name          string `yaml:"name"`
	Modality      string `yaml:"modality"` // chat, embedding
	ContextWindow int    `yaml:"context_window"`
	Fallback      string `yaml:"fallback"`
	TimeoutSec    int    `yaml:"timeout_sec"`
}

// DefaultsConfig maps tasks to model ids.
type DefaultsConfig struct {
	Chat                  string `yaml:"chat"`
	Tools                 string `yaml:"tools"`
	Transformation        string `yaml:"transformation"`
	LargeContext          string `yaml:"large_context"`
	Embedding             string `yaml:"embedding"`
	LargeContextThreshold int    `yaml:"large_context_threshold"`
}

// EmbeddingConfig holds embedding pipeline settings.
type EmbeddingConfig struct {
	BatchSize           int    `yaml:"batch_size"`
	DocumentInstruction string `yaml:"document_instruction"`
	QueryInstruction    string `yaml:"query_instruction"`
	CacheTTLSec         int    `yaml:"cache_ttl_sec"` // 0 = no expiry
}

// HealthConfig holds provider health-check settings.
type HealthConfig struct {
	CheckIntervalSec int `yaml:"check_interval_sec"` // 0 disables background checks
	CooldownSec      int `yaml:"cooldown_sec"`
}

// IngestConfig holds chunking and worker settings.
type IngestConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"` // words; negative disables overlap
	Workers      int `yaml:"workers"`
	QueueSize    int `yaml:"queue_size"`
	SummaryWords int `yaml:"summary_words"`
}

// RetrievalConfig holds retrieval executor settings.
type RetrievalConfig struct {
	MinScore          float64 `yaml:"min_score"`
	TopN              int     `yaml:"top_n"`
	TopK              int     `yaml:"top_k"`
	Concurrency       int     `yaml:"concurrency"`
	LexicalSaturation float64 `yaml:"lexical_saturation"`
}

// ContextConfig holds context assembly settings.
type ContextConfig struct {
	BudgetTokens int `yaml:"budget_tokens"`
}

// AnswerConfig holds per-stage model overrides.
type AnswerConfig struct {
	StrategyModel    string `yaml:"strategy_model"`
	AnswerModel      string `yaml:"answer_model"`
	FinalAnswerModel string `yaml:"final_answer_model"`
	Concurrency      int    `yaml:"concurrency"`
}

// ConversationConfig holds chat history settings.
type ConversationConfig struct {
	Path         string `yaml:"path"`
	HistoryTurns int    `yaml:"history_turns"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
// A .env file in the working directory, if present, is loaded first.
func Load(env string) (Config, error) {
	_ = godotenv.Load()

	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse decodes YAML with ${VAR} substitution, applies defaults and validates.
func Parse(data []byte) (Config, error) {
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
	c.applyServerDefaults()
	c.applyPipelineDefaults()

	for name, p := range c.Providers {
		if p.TimeoutSec <= 0 {
			p.TimeoutSec = 60
		}
		if p.RPS > 0 && p.Burst <= 0 {
			p.Burst = 1
		}
		c.Providers[name] = p
	}
	if c.Defaults.Tools == "" {
		c.Defaults.Tools = c.Defaults.Chat
	}
	if c.Defaults.Transformation == "" {
		c.Defaults.Transformation = c.Defaults.Chat
	}
	if c.Defaults.LargeContextThreshold <= 0 {
		c.Defaults.LargeContextThreshold = 105000
	}
}

func (c *Config) applyServerDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec < 0 {
		c.HTTP.WriteTimeoutSec = 0
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Index.Name == "" {
		c.Index.Name = "askdex_chunks"
	}
	if c.Index.HNSWM <= 0 {
		c.Index.HNSWM = 16
	}
	if c.Index.HNSWEFConstruct <= 0 {
		c.Index.HNSWEFConstruct = 200
	}
	if c.Conversation.Path == "" {
		c.Conversation.Path = "data/askdex.db"
	}
	if c.Conversation.HistoryTurns <= 0 {
		c.Conversation.HistoryTurns = 20
	}
	if c.Health.CooldownSec <= 0 {
		c.Health.CooldownSec = 30
	}
}

func (c *Config) applyPipelineDefaults() {
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = 96
	}
	if c.Ingest.ChunkSize <= 0 {
		c.Ingest.ChunkSize = 500
	}
	switch {
	case c.Ingest.ChunkOverlap == 0:
		c.Ingest.ChunkOverlap = 50
	case c.Ingest.ChunkOverlap < 0:
		c.Ingest.ChunkOverlap = 0
	}
	if c.Ingest.Workers <= 0 {
		c.Ingest.Workers = 2
	}
	if c.Ingest.QueueSize <= 0 {
		c.Ingest.QueueSize = 64
	}
	if c.Ingest.SummaryWords <= 0 {
		c.Ingest.SummaryWords = 120
	}
	if c.Retrieval.MinScore <= 0 {
		c.Retrieval.MinScore = 0.2
	}
	if c.Retrieval.TopN <= 0 {
		c.Retrieval.TopN = 10
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 20
	}
	if c.Retrieval.Concurrency <= 0 {
		c.Retrieval.Concurrency = 4
	}
	if c.Retrieval.LexicalSaturation <= 0 {
		c.Retrieval.LexicalSaturation = 4
	}
	if c.Context.BudgetTokens <= 0 {
		c.Context.BudgetTokens = 8000
	}
	if c.Answer.Concurrency <= 0 {
		c.Answer.Concurrency = 3
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	if c.Index.Dimensions <= 0 {
		return fmt.Errorf("index.dimensions must be positive, got %d", c.Index.Dimensions)
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap (%d) must be less than ingest.chunk_size (%d)",
			c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	if c.Retrieval.MinScore < 0 || c.Retrieval.MinScore > 1 {
		return fmt.Errorf("retrieval.min_score must be within [0,1], got %g", c.Retrieval.MinScore)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	if err := c.validateProviders(); err != nil {
		return err
	}
	return c.validateModels()
}

func (c *Config) validateProviders() error {
	for name, p := range c.Providers {
		switch p.Type {
		case "openai", "anthropic", "ollama":
		default:
			return fmt.Errorf("providers.%s.type must be openai, anthropic or ollama, got %q", name, p.Type)
		}
		switch p.Budget.Action {
		case "", "warn", "reject":
			// ok
		default:
			return fmt.Errorf(
				"providers.%s.budget.action must be \"warn\" or \"reject\", got %q",
				name, p.Budget.Action,
			)
		}
	}
	return nil
}

func (c *Config) validateModels() error {
	for id, m := range c.Models {
		if _, ok := c.Providers[m.Provider]; !ok {
			return fmt.Errorf("models.%s.provider %q is not configured", id, m.Provider)
		}
		if m.Modality != "chat" && m.Modality != "embedding" {
			return fmt.Errorf("models.%s.modality must be chat or embedding, got %q", id, m.Modality)
		}
		if m.Fallback == "" {
			continue
		}
		if m.Fallback == id {
			return fmt.Errorf("models.%s.fallback must not point to itself", id)
		}
		fb, ok := c.Models[m.Fallback]
		if !ok {
			return fmt.Errorf("models.%s.fallback %q is not configured", id, m.Fallback)
		}
		if fb.Modality != m.Modality {
			return fmt.Errorf("models.%s.fallback %q has modality %s, want %s", id, m.Fallback, fb.Modality, m.Modality)
		}
	}

	defaults := map[string]string{
		"chat":           c.Defaults.Chat,
		"tools":          c.Defaults.Tools,
		"transformation": c.Defaults.Transformation,
		"large_context":  c.Defaults.LargeContext,
		"embedding":      c.Defaults.Embedding,
	}
	for task, id := range defaults {
		if id == "" {
			continue
		}
		if _, ok := c.Models[id]; !ok {
			return fmt.Errorf("defaults.%s %q is not a configured model", task, id)
		}
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
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
