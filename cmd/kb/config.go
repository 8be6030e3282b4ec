package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/WessleyAI/axlelore-kb/engine/chunk"
	"github.com/WessleyAI/axlelore-kb/engine/kb"
	"github.com/WessleyAI/axlelore-kb/engine/retrieval"
	"github.com/WessleyAI/axlelore-kb/pkg/ollama"
)

// Config is the merged kb.yaml, KB_* environment and flag settings.
type Config struct {
	Vehicle    string `mapstructure:"vehicle"`
	DataDir    string `mapstructure:"data_dir"`
	ProfileDir string `mapstructure:"profile_dir"`

	QdrantAddr string `mapstructure:"qdrant_addr"`
	EmbedBatch int    `mapstructure:"embed_batch"`

	OllamaHost    string        `mapstructure:"ollama_host"`
	Model         string        `mapstructure:"model"`
	FallbackModel string        `mapstructure:"fallback_model"`
	EmbedModel    string        `mapstructure:"embed_model"`
	OllamaTimeout time.Duration `mapstructure:"ollama_timeout"`

	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
	MinChunk     int `mapstructure:"min_chunk"`

	TopK      int     `mapstructure:"top_k"`
	Threshold float64 `mapstructure:"threshold"`

	PackVersion string `mapstructure:"pack_version"`
	OCR         bool   `mapstructure:"ocr"`

	NATSURL   string `mapstructure:"nats_url"`
	Neo4jURL  string `mapstructure:"neo4j_url"`
	Neo4jUser string `mapstructure:"neo4j_user"`
	Neo4jPass string `mapstructure:"neo4j_pass"`

	MetricsAddr string `mapstructure:"metrics_addr"`
	LogLevel    string `mapstructure:"log_level"`
	LogJSON     bool   `mapstructure:"log_json"`
	LogFile     string `mapstructure:"log_file"`
}

func setDefaults(v *viper.Viper) {
	co := chunk.DefaultOptions()
	v.SetDefault("vehicle", "fzj80")
	v.SetDefault("data_dir", "data")
	v.SetDefault("profile_dir", "config/vehicles")
	v.SetDefault("qdrant_addr", "localhost:6334")
	v.SetDefault("embed_batch", kb.DefaultBatchSize)
	v.SetDefault("ollama_host", ollama.DefaultHost)
	v.SetDefault("model", ollama.DefaultModel)
	v.SetDefault("fallback_model", ollama.DefaultFallbackModel)
	v.SetDefault("embed_model", ollama.DefaultEmbedModel)
	v.SetDefault("ollama_timeout", ollama.DefaultTimeout)
	v.SetDefault("chunk_size", co.Size)
	v.SetDefault("chunk_overlap", co.Overlap)
	v.SetDefault("min_chunk", co.MinSize)
	v.SetDefault("top_k", retrieval.DefaultTopK)
	v.SetDefault("threshold", retrieval.DefaultThreshold)
	v.SetDefault("pack_version", "1")
	v.SetDefault("ocr", false)
	v.SetDefault("nats_url", "")
	v.SetDefault("neo4j_url", "")
	v.SetDefault("neo4j_user", "neo4j")
	v.SetDefault("neo4j_pass", "")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
	v.SetDefault("log_file", "")
}

// flagKeys maps persistent flags onto config keys.
var flagKeys = map[string]string{
	"vehicle":      "vehicle",
	"data-dir":     "data_dir",
	"profile-dir":  "profile_dir",
	"qdrant-addr":  "qdrant_addr",
	"ollama-host":  "ollama_host",
	"nats-url":     "nats_url",
	"neo4j-url":    "neo4j_url",
	"metrics-addr": "metrics_addr",
	"log-level":    "log_level",
	"log-json":     "log_json",
	"log-file":     "log_file",
	"ocr":          "ocr",
}

// loadConfig reads file (or ./kb.yaml when file is empty and one exists),
// then KB_* variables, then the flags that were set.
func loadConfig(v *viper.Viper, file string, flags *pflag.FlagSet) (Config, error) {
	setDefaults(v)
	v.SetEnvPrefix("KB")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("kb")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	for name, key := range flagKeys {
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return Config{}, fmt.Errorf("threshold %v outside [0, 1]", cfg.Threshold)
	}
	if cfg.ChunkSize < chunk.SmallestSize {
		return Config{}, fmt.Errorf("chunk_size %d below %d", cfg.ChunkSize, chunk.SmallestSize)
	}
	return cfg, nil
}
