// Package config manages the user configuration file
// (~/.config/memory-agent/config.toml) and API key discovery.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds every user-tunable setting.
type Config struct {
	DataDir   string          `toml:"data_dir"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Gate      BackendConfig   `toml:"gate"`
	Extract   BackendConfig   `toml:"extract"`
	Ollama    OllamaConfig    `toml:"ollama"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Listener  ListenerConfig  `toml:"listener"`
	Server    ServerConfig    `toml:"server"`
	Log       LogConfig       `toml:"log"`
	Keys      KeysConfig      `toml:"keys"`
}

type EmbeddingConfig struct {
	Backend   string   `toml:"backend"`
	Host      string   `toml:"host"`
	Model     string   `toml:"model"`
	Dimension int      `toml:"dimension"`
	Timeout   Duration `toml:"timeout"`
	CacheSize int64    `toml:"cache_size"`
}

// BackendConfig selects the completion backend for the gate or extractor.
// An empty model means the backend's default for the role.
type BackendConfig struct {
	Backend string `toml:"backend"`
	Model   string `toml:"model"`
}

type OllamaConfig struct {
	LocalHost  string   `toml:"local_host"`
	RemoteHost string   `toml:"remote_host"`
	Timeout    Duration `toml:"timeout"`
	NumPredict int      `toml:"num_predict"`
}

type PipelineConfig struct {
	DedupThreshold   float64 `toml:"dedup_threshold"`
	ContextThreshold float64 `toml:"context_threshold"`
	ContextLimit     int     `toml:"context_limit"`
	ChunkSize        int     `toml:"chunk_size"`
	Overlap          int     `toml:"overlap"`
	Temperature      float64 `toml:"temperature"`
	UpdatePolicy     string  `toml:"update_policy"`
	KeepRawChunks    bool    `toml:"keep_raw_chunks"`
}

type ListenerConfig struct {
	GatewayURL   string   `toml:"gateway_url"`
	PollInterval Duration `toml:"poll_interval"`
	BufferSize   int      `toml:"buffer_size"`
	FlushAge     Duration `toml:"flush_age"`
	Sessions     []string `toml:"sessions"`
	Workers      int      `toml:"workers"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type KeysConfig struct {
	Anthropic    string `toml:"anthropic"`
	OpenAI       string `toml:"openai"`
	Gemini       string `toml:"gemini"`
	GatewayToken string `toml:"gateway_token"`
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir: "~/.memory-agent",
		Embedding: EmbeddingConfig{
			Backend:   "ollama",
			Host:      "http://localhost:11434",
			Model:     "nomic-embed-text",
			Dimension: 768,
			Timeout:   Duration{30 * time.Second},
			CacheSize: 1024,
		},
		Gate:    BackendConfig{Backend: "local"},
		Extract: BackendConfig{Backend: "local"},
		Ollama: OllamaConfig{
			LocalHost:  "http://127.0.0.1:11434",
			RemoteHost: "http://192.168.53.108:11434",
			Timeout:    Duration{300 * time.Second},
			NumPredict: 1024,
		},
		Pipeline: PipelineConfig{
			DedupThreshold:   0.85,
			ContextThreshold: 0.60,
			ContextLimit:     5,
			ChunkSize:        1500,
			Overlap:          200,
			Temperature:      0.3,
			UpdatePolicy:     "retrieved",
			KeepRawChunks:    true,
		},
		Listener: ListenerConfig{
			GatewayURL:   "http://127.0.0.1:18789",
			PollInterval: Duration{30 * time.Second},
			BufferSize:   1500,
			FlushAge:     Duration{120 * time.Second},
			Sessions:     []string{},
			Workers:      2,
		},
		Server: ServerConfig{Addr: "0.0.0.0:8094"},
		Log:    LogConfig{Level: "info"},
	}
}

// Path returns the location of the config file.
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "memory-agent", "config.toml"), nil
}

// Load reads the config file and overlays ~/.env and the environment.
// A missing file yields the defaults.
func Load() (Config, error) {
	path, err := Path()
	if err != nil {
		cfg := Default()
		applyEnv(&cfg, nil)
		return cfg, nil
	}
	home, _ := os.UserHomeDir()
	return LoadFrom(path, filepath.Join(home, ".env"))
}

// LoadFrom reads the config file at path, then applies API keys from the
// dotenv file at envPath and from the process environment, in that order.
func LoadFrom(path, envPath string) (Config, error) {
	cfg := Default()

	if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("config: load %s: %w", path, err)
	}

	var dotenv map[string]string
	if envPath != "" {
		m, err := godotenv.Read(envPath)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("config: read %s: %w", envPath, err)
		}
		dotenv = m
	}
	applyEnv(&cfg, dotenv)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Environment variables carrying secrets.
const (
	EnvAnthropic    = "ANTHROPIC_API_KEY"
	EnvOpenAI       = "OPENAI_API_KEY"
	EnvGemini       = "GEMINI_API_KEY"
	EnvGatewayToken = "CCC_GATEWAY_TOKEN"
)

func applyEnv(cfg *Config, dotenv map[string]string) {
	set := func(dst *string, key string) {
		if v := dotenv[key]; v != "" {
			*dst = v
		}
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.Keys.Anthropic, EnvAnthropic)
	set(&cfg.Keys.OpenAI, EnvOpenAI)
	set(&cfg.Keys.Gemini, EnvGemini)
	set(&cfg.Keys.GatewayToken, EnvGatewayToken)
}

// Save writes cfg to path, creating parent directories.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	for name, v := range map[string]float64{
		"pipeline.dedup_threshold":   c.Pipeline.DedupThreshold,
		"pipeline.context_threshold": c.Pipeline.ContextThreshold,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("config: %s must be within [0, 1], got %g", name, v))
		}
	}
	switch c.Pipeline.UpdatePolicy {
	case "", "retrieved", "any":
	default:
		errs = append(errs, fmt.Errorf("config: pipeline.update_policy must be retrieved or any, got %q", c.Pipeline.UpdatePolicy))
	}
	if c.Pipeline.ChunkSize > 0 && c.Pipeline.Overlap >= c.Pipeline.ChunkSize {
		errs = append(errs, fmt.Errorf("config: pipeline.overlap (%d) must be smaller than chunk_size (%d)", c.Pipeline.Overlap, c.Pipeline.ChunkSize))
	}
	return errors.Join(errs...)
}

// ResolvedDataDir returns DataDir with a leading ~ expanded.
func (c Config) ResolvedDataDir() string {
	return expandHome(c.DataDir)
}

// DBPath returns the memory database location.
func (c Config) DBPath() string {
	return filepath.Join(c.ResolvedDataDir(), "memories.db")
}

// StatePath returns the listener cursor file location.
func (c Config) StatePath() string {
	return filepath.Join(c.ResolvedDataDir(), "listener_state.json")
}

// APIKey returns the key configured for a cloud backend, or "".
func (c Config) APIKey(backend string) string {
	switch backend {
	case "anthropic":
		return c.Keys.Anthropic
	case "openai":
		return c.Keys.OpenAI
	case "gemini":
		return c.Keys.Gemini
	}
	return ""
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
