// Package config loads the service's JSON configuration file once at startup.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"dario.cat/mergo"

	. "github.com/rdxlab/tgdb/internal/logging"
)

// Config is the full configuration recognized by the service (§6).
type Config struct {
	BotToken     string             `json:"bot_token"`
	ChatID       int64              `json:"chat_id"`
	APIID        int64              `json:"api_id"`
	APIHash      string             `json:"api_hash"`
	DeviceModel  string             `json:"device_model"`
	OCRConfig    *OCRConfig         `json:"ocr_config,omitempty"`
	Embedding    *EmbeddingConfig   `json:"embedding_config,omitempty"`
	VectorDB     string             `json:"vector_database"`
	RecordStore  RecordStoreConfig  `json:"record_store"`
	VectorIndex  VectorIndexConfig  `json:"vector_index"`
	BatchPool    BatchPoolConfig    `json:"batch_pool"`
}

// OCRConfig configures the OCR HTTP collaborator. Absent ⇒ OCR disabled.
type OCRConfig struct {
	APIURL string `json:"api_url"`
}

// EmbeddingConfig configures the embedding HTTP collaborator.
// Absent or an empty APIKey ⇒ embeddings disabled.
type EmbeddingConfig struct {
	APIKey   string `json:"api_key"`
	ModelID  string `json:"model_id"`
	Provider string `json:"provider"` // "dashscope" or "openai"
}

// RecordStoreConfig configures the on-disk record store location.
type RecordStoreConfig struct {
	Dir string `json:"dir"`
}

// VectorIndexConfig configures the vector index dimension/metric/path.
type VectorIndexConfig struct {
	Path      string `json:"path"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"` // "l2" or "inner_product"
}

// BatchPoolConfig configures the embedding dispatcher's debounce window.
type BatchPoolConfig struct {
	DebounceMillis int `json:"debounce_millis"`
}

// defaults returns a Config pre-populated with the values the indexing
// engine falls back to when the JSON file omits them.
func defaults() *Config {
	return &Config{
		DeviceModel: "Desktop",
		VectorDB:    "faiss",
		RecordStore: RecordStoreConfig{
			Dir: "./data/records",
		},
		VectorIndex: VectorIndexConfig{
			Path:      "./data/vectors",
			Dimension: 1024,
			Metric:    "l2",
		},
		BatchPool: BatchPoolConfig{
			DebounceMillis: 1500,
		},
	}
}

// Load reads configuration from a JSON file at path. Missing optional
// sub-objects (ocr_config, embedding_config) leave those subsystems
// disabled, matching §6/§7's "absent ⇒ disabled" policy.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	var fromFile Config
	if err := json.Unmarshal(data, &fromFile); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	// Top-level scalars and the pointer-typed optional subsystems
	// (ocr_config/embedding_config) come straight from the decoded JSON:
	// encoding/json already leaves a pointer field nil when its key is
	// absent, which is exactly "disabled" per §6/§7.
	cfg.BotToken = fromFile.BotToken
	cfg.ChatID = fromFile.ChatID
	cfg.APIID = fromFile.APIID
	if fromFile.APIHash != "" {
		cfg.APIHash = fromFile.APIHash
	}
	if fromFile.DeviceModel != "" {
		cfg.DeviceModel = fromFile.DeviceModel
	}
	if fromFile.VectorDB != "" {
		cfg.VectorDB = fromFile.VectorDB
	}
	cfg.OCRConfig = fromFile.OCRConfig
	cfg.Embedding = fromFile.Embedding

	// Sub-structs with partial overrides (e.g. only "dimension" set) are
	// selectively merged with mergo, matching the section-presence-gated
	// selective merge the teacher's own config loader performs.
	if _, ok := raw["record_store"]; ok {
		if err := mergo.Merge(&cfg.RecordStore, fromFile.RecordStore, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge record_store: %w", err)
		}
	}
	if _, ok := raw["vector_index"]; ok {
		if err := mergo.Merge(&cfg.VectorIndex, fromFile.VectorIndex, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge vector_index: %w", err)
		}
	}
	if _, ok := raw["batch_pool"]; ok {
		if err := mergo.Merge(&cfg.BatchPool, fromFile.BatchPool, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge batch_pool: %w", err)
		}
	}

	if cfg.BotToken == "" {
		if tok := os.Getenv("TGDB_BOT_TOKEN"); tok != "" {
			cfg.BotToken = tok
		}
	}
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot_token is required")
	}

	L_info("config: loaded", "path", path,
		"ocrEnabled", cfg.OCRConfig != nil,
		"embeddingEnabled", cfg.Embedding != nil && cfg.Embedding.APIKey != "",
		"vectorDB", cfg.VectorDB)

	return cfg, nil
}
