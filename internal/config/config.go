// Package config loads aharadar's configuration from a YAML file,
// environment variables, and a local .env file, following the teacher's
// viper + godotenv layering.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App             App             `mapstructure:"app"`
	Database        Database        `mapstructure:"database"`
	Redis           Redis           `mapstructure:"redis"`
	LLM             LLM             `mapstructure:"llm"`
	Budget          Budget          `mapstructure:"budget"`
	Scheduler       Scheduler       `mapstructure:"scheduler"`
	Ingest          Ingest          `mapstructure:"ingest"`
	Embed           Embed           `mapstructure:"embed"`
	Dedupe          Dedupe          `mapstructure:"dedupe"`
	Cluster         Cluster         `mapstructure:"cluster"`
	FairSampling    FairSampling    `mapstructure:"fair_sampling"`
	TriageAllocation TriageAllocation `mapstructure:"triage_allocation"`
	Ranking         Ranking         `mapstructure:"ranking"`
	Novelty         Novelty         `mapstructure:"novelty"`
	Signal          Signal          `mapstructure:"signal"`
	Diversity       Diversity       `mapstructure:"diversity"`
	Logging         Logging         `mapstructure:"logging"`
}

// App holds general application configuration.
type App struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	DataDir  string `mapstructure:"data_dir"`
}

// Database holds storage gateway configuration. Driver is "postgres" or
// "sqlite"; sqlite is used for local/dev/test runs.
type Database struct {
	Driver           string `mapstructure:"driver"`
	ConnectionString string `mapstructure:"connection_string"`
	MaxConnections   int    `mapstructure:"max_connections"`
	IdleConnections  int    `mapstructure:"idle_connections"`
}

// Redis holds the budget engine's credits-status cache configuration.
type Redis struct {
	Addr    string `mapstructure:"addr"`
	TTLSecs int    `mapstructure:"ttl_secs"`
}

// LLM holds router/provider configuration.
type LLM struct {
	Gemini              GeminiConfig `mapstructure:"gemini"`
	Anthropic           AnthropicConfig `mapstructure:"anthropic"`
	EmbeddingModel      string       `mapstructure:"embedding_model"`
	EmbeddingDims       int          `mapstructure:"embedding_dims"`
	MaxCallsPerRunLow   int          `mapstructure:"max_calls_per_run_low"`
	MaxCallsPerRunHigh  int          `mapstructure:"max_calls_per_run_high"`
	RequestsPerMinute   int          `mapstructure:"requests_per_minute"`
}

// GeminiConfig holds Google Gemini configuration.
type GeminiConfig struct {
	APIKey      string `mapstructure:"api_key"`
	TriageModel string `mapstructure:"triage_model"`
	EnrichModel string `mapstructure:"enrich_model"`
}

// AnthropicConfig holds Anthropic configuration.
type AnthropicConfig struct {
	APIKey      string `mapstructure:"api_key"`
	TriageModel string `mapstructure:"triage_model"`
	EnrichModel string `mapstructure:"enrich_model"`
}

// Budget holds credit budget configuration per spec.md §4.2.
type Budget struct {
	MonthlyCredits         float64 `mapstructure:"monthly_credits"`
	DailyThrottleCredits   float64 `mapstructure:"daily_throttle_credits"` // 0 means no daily cap
	ApproachingThreshold   float64 `mapstructure:"approaching_threshold"`  // default 0.80
	CriticalThreshold      float64 `mapstructure:"critical_threshold"`     // default 0.95
}

// Scheduler holds window-production configuration per spec.md §4.1.
type Scheduler struct {
	MaxBackfillWindows int `mapstructure:"max_backfill_windows"`
	MinWindowSeconds   int `mapstructure:"min_window_seconds"`
	LagSeconds         int `mapstructure:"lag_seconds"`
}

// Ingest holds ingest-stage limits per spec.md §4.3.
type Ingest struct {
	MaxItemsPerSource int `mapstructure:"max_items_per_source"`
}

// Embed holds embed-stage limits per spec.md §4.4.
type Embed struct {
	MaxItems      int `mapstructure:"max_items"`
	BatchSize     int `mapstructure:"batch_size"`
	MaxInputChars int `mapstructure:"max_input_chars"`
}

// Dedupe holds dedupe-stage configuration per spec.md §4.5.
type Dedupe struct {
	MaxItems            int     `mapstructure:"max_items"`
	LookbackDays         int     `mapstructure:"lookback_days"`
	SimilarityThreshold  float64 `mapstructure:"similarity_threshold"`
}

// Cluster holds cluster-stage configuration per spec.md §4.6.
type Cluster struct {
	MaxItems             int     `mapstructure:"max_items"`
	ClusterLookbackDays  int     `mapstructure:"cluster_lookback_days"`
	SimilarityThreshold  float64 `mapstructure:"similarity_threshold"`
	UpdateCentroid       bool    `mapstructure:"update_centroid"`
}

// FairSampling holds fair-sampling configuration per spec.md §4.8.
type FairSampling struct {
	MaxPoolSize int `mapstructure:"max_pool_size"`
}

// TriageAllocation holds triage-allocation configuration per spec.md §4.9.
type TriageAllocation struct {
	MaxTriageCallsLow    int     `mapstructure:"max_triage_calls_low"`
	MaxTriageCallsNormal int     `mapstructure:"max_triage_calls_normal"`
	MaxTriageCallsHigh   int     `mapstructure:"max_triage_calls_high"`
	ExplorationFraction  float64 `mapstructure:"exploration_fraction"`
}

// Ranking holds the ranking-formula weights per spec.md §4.11.
type Ranking struct {
	WeightAha       float64 `mapstructure:"weight_aha"`
	WeightHeuristic float64 `mapstructure:"weight_heuristic"`
	WeightPref      float64 `mapstructure:"weight_pref"`
	WeightSignal    float64 `mapstructure:"weight_signal"`
	WeightNovelty   float64 `mapstructure:"weight_novelty"`
	SourceTypeWeightsJSON string `mapstructure:"source_type_weights_json"`
}

// Novelty holds novelty-stage configuration per spec.md §4.12.
type Novelty struct {
	LookbackDays int `mapstructure:"lookback_days"`
}

// Signal holds the signal-corroboration feature flag per spec.md §4.13.
type Signal struct {
	Enabled            bool `mapstructure:"enabled"`
	MaxSearchCallsPerRun int `mapstructure:"max_search_calls_per_run"`
}

// Diversity holds diversity-selection configuration per spec.md §4.14.
type Diversity struct {
	AlphaType   float64 `mapstructure:"alpha_type"`
	AlphaSource float64 `mapstructure:"alpha_source"`
}

// Logging holds logger configuration.
type Logging struct {
	Level string `mapstructure:"level"`
}

var globalConfig *Config

// Load loads configuration from a YAML file (if present), a local .env
// file, and environment variables, in that order of increasing priority.
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("warning: error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".aharadar")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	globalConfig = cfg
	return cfg, nil
}

// Get returns the global configuration, loading it with defaults if
// necessary.
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("failed to load configuration: %v", err))
		}
		return cfg
	}
	return globalConfig
}

// Reset clears the cached global configuration; used by tests.
func Reset() {
	globalConfig = nil
	viper.Reset()
}

func setDefaults() {
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.data_dir", "./data")

	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.connection_string", "./data/aharadar.db")
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.idle_connections", 5)

	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.ttl_secs", 30)

	viper.SetDefault("llm.embedding_model", "gemini-embedding-001")
	viper.SetDefault("llm.embedding_dims", 1536)
	viper.SetDefault("llm.max_calls_per_run_low", 0)
	viper.SetDefault("llm.max_calls_per_run_high", 40)
	viper.SetDefault("llm.requests_per_minute", 60)
	viper.SetDefault("llm.gemini.triage_model", "gemini-flash-lite-latest")
	viper.SetDefault("llm.gemini.enrich_model", "gemini-flash-latest")
	viper.SetDefault("llm.anthropic.triage_model", "claude-haiku-4-5")
	viper.SetDefault("llm.anthropic.enrich_model", "claude-sonnet-4-5")

	viper.SetDefault("budget.monthly_credits", 1000.0)
	viper.SetDefault("budget.daily_throttle_credits", 0.0)
	viper.SetDefault("budget.approaching_threshold", 0.80)
	viper.SetDefault("budget.critical_threshold", 0.95)

	viper.SetDefault("scheduler.max_backfill_windows", 6)
	viper.SetDefault("scheduler.min_window_seconds", 60)
	viper.SetDefault("scheduler.lag_seconds", 60)

	viper.SetDefault("ingest.max_items_per_source", 200)

	viper.SetDefault("embed.max_items", 500)
	viper.SetDefault("embed.batch_size", 32)
	viper.SetDefault("embed.max_input_chars", 8000)

	viper.SetDefault("dedupe.max_items", 500)
	viper.SetDefault("dedupe.lookback_days", 30)
	viper.SetDefault("dedupe.similarity_threshold", 0.995)

	viper.SetDefault("cluster.max_items", 500)
	viper.SetDefault("cluster.cluster_lookback_days", 7)
	viper.SetDefault("cluster.similarity_threshold", 0.86)
	viper.SetDefault("cluster.update_centroid", true)

	viper.SetDefault("fair_sampling.max_pool_size", 120)

	viper.SetDefault("triage_allocation.max_triage_calls_low", 10)
	viper.SetDefault("triage_allocation.max_triage_calls_normal", 30)
	viper.SetDefault("triage_allocation.max_triage_calls_high", 60)
	viper.SetDefault("triage_allocation.exploration_fraction", 0.3)

	viper.SetDefault("ranking.weight_aha", 0.8)
	viper.SetDefault("ranking.weight_heuristic", 0.15)
	viper.SetDefault("ranking.weight_pref", 0.15)
	viper.SetDefault("ranking.weight_signal", 0.0)
	viper.SetDefault("ranking.weight_novelty", 0.05)
	viper.SetDefault("ranking.source_type_weights_json", "{}")

	viper.SetDefault("novelty.lookback_days", 30)

	viper.SetDefault("signal.enabled", false)
	viper.SetDefault("signal.max_search_calls_per_run", 20)

	viper.SetDefault("diversity.alpha_type", 0.15)
	viper.SetDefault("diversity.alpha_source", 0.05)

	viper.SetDefault("logging.level", "info")
}

// bindEnvironmentVariables wires the env var names documented in spec.md
// §6 to their viper keys, independent of the automatic "." -> "_"
// replacement so the documented names work verbatim.
func bindEnvironmentVariables() {
	bind := map[string][]string{
		"llm.gemini.api_key":                      {"GEMINI_API_KEY"},
		"llm.anthropic.api_key":                   {"ANTHROPIC_API_KEY"},
		"llm.max_calls_per_run_high":               {"OPENAI_TRIAGE_MAX_CALLS_PER_RUN"},
		"signal.enabled":                           {"ENABLE_SIGNAL_CORROBORATION"},
		"signal.max_search_calls_per_run":          {"SIGNAL_MAX_SEARCH_CALLS_PER_RUN"},
		"novelty.lookback_days":                    {"NOVELTY_LOOKBACK_DAYS"},
		"ranking.source_type_weights_json":         {"SOURCE_TYPE_WEIGHTS_JSON"},
		"dedupe.max_items":                         {"DEDUPE_MAX_ITEMS"},
		"dedupe.lookback_days":                     {"DEDUPE_LOOKBACK_DAYS"},
		"dedupe.similarity_threshold":               {"DEDUPE_SIMILARITY_THRESHOLD"},
		"cluster.max_items":                        {"CLUSTER_MAX_ITEMS"},
		"cluster.cluster_lookback_days":            {"CLUSTER_LOOKBACK_DAYS"},
		"cluster.similarity_threshold":              {"CLUSTER_SIMILARITY_THRESHOLD"},
		"scheduler.max_backfill_windows":           {"SCHEDULER_MAX_BACKFILL_WINDOWS"},
		"scheduler.min_window_seconds":              {"SCHEDULER_MIN_WINDOW_SECONDS"},
		"scheduler.lag_seconds":                     {"SCHEDULER_LAG_SECONDS"},
		"database.connection_string":               {"DATABASE_URL"},
		"redis.addr":                                {"REDIS_ADDR"},
	}
	for key, envKeys := range bind {
		_ = viper.BindEnv(append([]string{key}, envKeys...)...)
	}
}

func validate(cfg *Config) error {
	if cfg.Budget.MonthlyCredits < 0 {
		return fmt.Errorf("budget.monthly_credits must be >= 0")
	}
	if cfg.TriageAllocation.ExplorationFraction < 0 || cfg.TriageAllocation.ExplorationFraction > 1 {
		return fmt.Errorf("triage_allocation.exploration_fraction must be in [0,1]")
	}
	if cfg.Dedupe.SimilarityThreshold <= 0 || cfg.Dedupe.SimilarityThreshold > 1 {
		return fmt.Errorf("dedupe.similarity_threshold must be in (0,1]")
	}
	return nil
}
