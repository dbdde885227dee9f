package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Engine     EngineConfig     `yaml:"engine"`
	LLM        LLMConfig        `yaml:"llm"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Generation GenerationConfig `yaml:"generation"`
	Session    SessionConfig    `yaml:"session"`
	Log        LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// EngineConfig points at the local inference backend used for embeddings.
type EngineConfig struct {
	BaseURL    string `yaml:"base_url"`
	EmbedModel string `yaml:"embed_model"`
}

// LLMConfig points at the cloud content-generation backend
// (OpenAI-compatible chat completions).
type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	// Voice enables podcast audio synthesis when non-empty.
	Voice string `yaml:"voice"`
}

type RetrievalConfig struct {
	// DirectThreshold is the extracted-text length (in characters) above
	// which chat queries are answered from the chunk index instead of the
	// full document text. Roughly 25k tokens of context headroom.
	DirectThreshold int `yaml:"direct_threshold"`
	TopK            int `yaml:"top_k"`
	ChunkTarget     int `yaml:"chunk_target"`
	ChunkMax        int `yaml:"chunk_max"`
	ChunkOverlap    int `yaml:"chunk_overlap"`
}

type GenerationConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	DraftTTL          time.Duration `yaml:"draft_ttl"`
}

type SessionConfig struct {
	// MinDuration is the wall-clock time below which a completed study
	// session is dropped instead of recorded.
	MinDuration time.Duration `yaml:"min_duration"`
	// AbandonAfter is the horizon past which a never-completed session is
	// swept away by the background job.
	AbandonAfter time.Duration `yaml:"abandon_after"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Engine: EngineConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
		},
		LLM: LLMConfig{
			BaseURL: "https://openrouter.ai/api/v1",
			Model:   "anthropic/claude-sonnet-4",
		},
		Retrieval: RetrievalConfig{
			DirectThreshold: 100_000,
			TopK:            5,
			ChunkTarget:     750,
			ChunkMax:        1000,
			ChunkOverlap:    100,
		},
		Generation: GenerationConfig{
			HeartbeatInterval: 15 * time.Second,
			JobTimeout:        10 * time.Minute,
			DraftTTL:          24 * time.Hour,
		},
		Session: SessionConfig{
			MinDuration:  time.Minute,
			AbandonAfter: 12 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".synaptic"
	}
	return filepath.Join(home, ".synaptic")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(defaultDataDir(), "config.yaml")
}

// Load reads configuration from the YAML file at path (skipped when the file
// does not exist), then applies SYNAPTIC_* environment overrides on top of
// compiled defaults. Pass "" for the default location.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// No file is fine; defaults + env carry the config.
	default:
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if cfg.Retrieval.DirectThreshold <= 0 {
		return Config{}, fmt.Errorf("retrieval.direct_threshold must be positive, got %d", cfg.Retrieval.DirectThreshold)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setString := func(env string, dst *string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	setInt := func(env string, dst *int) {
		if v := os.Getenv(env); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse int from %s=%q: %v. Using default value.\n", env, v, err)
			}
		}
	}
	setDuration := func(env string, dst *time.Duration) {
		if v := os.Getenv(env); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from %s=%q: %v. Using default value.\n", env, v, err)
			}
		}
	}

	setInt("SYNAPTIC_SERVER_PORT", &cfg.Server.Port)
	setString("SYNAPTIC_SERVER_AUTH_TOKEN", &cfg.Server.AuthToken)
	setString("SYNAPTIC_STORAGE_DATA_DIR", &cfg.Storage.DataDir)
	setString("SYNAPTIC_ENGINE_BASE_URL", &cfg.Engine.BaseURL)
	setString("SYNAPTIC_ENGINE_EMBED_MODEL", &cfg.Engine.EmbedModel)
	setString("SYNAPTIC_LLM_BASE_URL", &cfg.LLM.BaseURL)
	setString("SYNAPTIC_LLM_API_KEY", &cfg.LLM.APIKey)
	setString("SYNAPTIC_LLM_MODEL", &cfg.LLM.Model)
	setString("SYNAPTIC_LLM_VOICE", &cfg.LLM.Voice)
	setInt("SYNAPTIC_RETRIEVAL_DIRECT_THRESHOLD", &cfg.Retrieval.DirectThreshold)
	setInt("SYNAPTIC_RETRIEVAL_TOP_K", &cfg.Retrieval.TopK)
	setInt("SYNAPTIC_RETRIEVAL_CHUNK_TARGET", &cfg.Retrieval.ChunkTarget)
	setInt("SYNAPTIC_RETRIEVAL_CHUNK_MAX", &cfg.Retrieval.ChunkMax)
	setInt("SYNAPTIC_RETRIEVAL_CHUNK_OVERLAP", &cfg.Retrieval.ChunkOverlap)
	setDuration("SYNAPTIC_GENERATION_HEARTBEAT_INTERVAL", &cfg.Generation.HeartbeatInterval)
	setDuration("SYNAPTIC_GENERATION_JOB_TIMEOUT", &cfg.Generation.JobTimeout)
	setDuration("SYNAPTIC_GENERATION_DRAFT_TTL", &cfg.Generation.DraftTTL)
	setDuration("SYNAPTIC_SESSION_MIN_DURATION", &cfg.Session.MinDuration)
	setDuration("SYNAPTIC_SESSION_ABANDON_AFTER", &cfg.Session.AbandonAfter)
	setString("SYNAPTIC_LOG_LEVEL", &cfg.Log.Level)
	setString("SYNAPTIC_LOG_FILE", &cfg.Log.File)
}

// Save writes the config back to path as YAML, creating parent directories.
func Save(cfg Config, path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
