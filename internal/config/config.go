package config

import (
	"errors"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// QdrantConfig contains connection details for the Qdrant vector store.
type QdrantConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StoreConfig locates the SQLite metadata database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	MaxChars int `yaml:"max_chars"`
}

// EmbeddingConfig configures the embedding pipeline.
type EmbeddingConfig struct {
	BatchSize int `yaml:"batch_size"`
}

// JobsConfig configures the background job scheduler.
type JobsConfig struct {
	MaxWorkers int `yaml:"max_workers"`
}

// MemoryConfig tunes conversation summarization.
type MemoryConfig struct {
	RetainWindow     int `yaml:"retain_window"`
	TriggerThreshold int `yaml:"trigger_threshold"`
	UpdateInterval   int `yaml:"update_interval"`
}

// ServerConfig configures the MCP server transport.
type ServerConfig struct {
	Transport string `yaml:"transport"` // "stdio" or "http"
	Addr      string `yaml:"addr"`
}

// Config is the root application configuration structure.
type Config struct {
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	Store     StoreConfig     `yaml:"store"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Memory    MemoryConfig    `yaml:"memory"`
	Server    ServerConfig    `yaml:"server"`
}

// Load reads a config from the given path. A missing file returns
// defaults. Environment variables QDRANT_HOST, QDRANT_PORT, and
// DOCQA_STORE_PATH override the file for deployment without editing it.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Qdrant:    QdrantConfig{Host: "localhost", Port: 6334},
		Store:     StoreConfig{Path: "docqa.db"},
		Chunker:   ChunkerConfig{MaxChars: 2000},
		Embedding: EmbeddingConfig{BatchSize: 20},
		Jobs:      JobsConfig{MaxWorkers: 4},
		Memory:    MemoryConfig{RetainWindow: 10, TriggerThreshold: 20, UpdateInterval: 10},
		Server:    ServerConfig{Transport: "stdio", Addr: ":8080"},
	}
}

func applyDefaults(cfg *Config) {
	def := defaultConfig()
	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = def.Qdrant.Host
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = def.Qdrant.Port
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = def.Store.Path
	}
	if cfg.Chunker.MaxChars == 0 {
		cfg.Chunker.MaxChars = def.Chunker.MaxChars
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = def.Embedding.BatchSize
	}
	if cfg.Jobs.MaxWorkers == 0 {
		cfg.Jobs.MaxWorkers = def.Jobs.MaxWorkers
	}
	if cfg.Memory.RetainWindow == 0 {
		cfg.Memory.RetainWindow = def.Memory.RetainWindow
	}
	if cfg.Memory.TriggerThreshold == 0 {
		cfg.Memory.TriggerThreshold = def.Memory.TriggerThreshold
	}
	if cfg.Memory.UpdateInterval == 0 {
		cfg.Memory.UpdateInterval = def.Memory.UpdateInterval
	}
	if cfg.Server.Transport == "" {
		cfg.Server.Transport = def.Server.Transport
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
}

func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("QDRANT_HOST"); host != "" {
		cfg.Qdrant.Host = host
	}
	if port := os.Getenv("QDRANT_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Qdrant.Port = p
		}
	}
	if path := os.Getenv("DOCQA_STORE_PATH"); path != "" {
		cfg.Store.Path = path
	}
}
