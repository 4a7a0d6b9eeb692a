package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for DocPilot
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Database DatabaseConfig `mapstructure:"database"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Query    QueryConfig    `mapstructure:"query"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Pinecone PineconeConfig `mapstructure:"pinecone"`
	Cohere   CohereConfig   `mapstructure:"cohere"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// AdminConfig holds API authentication configuration
type AdminConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// DatabaseConfig holds session database configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// IngestConfig holds document ingestion configuration
type IngestConfig struct {
	DocsDir      string `mapstructure:"docs_dir"`
	BatchSize    int    `mapstructure:"batch_size"`
	ChunkTokens  int    `mapstructure:"chunk_tokens"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
	Watch        bool   `mapstructure:"watch"`
}

// QueryConfig holds retrieval tuning parameters
type QueryConfig struct {
	TopKRaw   int `mapstructure:"top_k_raw"`
	TopKFinal int `mapstructure:"top_k_final"`
}

// OpenAIConfig holds the embedding/generation provider configuration
type OpenAIConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	EmbeddingModel string `mapstructure:"embedding_model"`
	ChatModel      string `mapstructure:"chat_model"`
}

// PineconeConfig holds the vector store configuration
type PineconeConfig struct {
	Host      string `mapstructure:"host"`
	APIKey    string `mapstructure:"api_key"`
	Namespace string `mapstructure:"namespace"`
}

// CohereConfig holds the re-rank provider configuration
type CohereConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file if specified
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables
	v.SetEnvPrefix("DOCPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("admin.api_key", "")

	v.SetDefault("database.path", "./data/docpilot.db")

	v.SetDefault("ingest.docs_dir", "./data/documents")
	v.SetDefault("ingest.batch_size", 100)
	v.SetDefault("ingest.chunk_tokens", 400)
	v.SetDefault("ingest.chunk_overlap", 1)
	v.SetDefault("ingest.watch", false)

	v.SetDefault("query.top_k_raw", 20)
	v.SetDefault("query.top_k_final", 5)

	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("openai.chat_model", "gpt-4o-mini")

	v.SetDefault("pinecone.host", "")
	v.SetDefault("pinecone.api_key", "")
	v.SetDefault("pinecone.namespace", "default")

	v.SetDefault("cohere.base_url", "https://api.cohere.ai")
	v.SetDefault("cohere.api_key", "")
	v.SetDefault("cohere.model", "rerank-english-v3.0")
}

// Validate checks that every required provider credential is present, so a
// misconfigured process fails at startup rather than at request time.
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required (DOCPILOT_OPENAI_API_KEY)")
	}
	if c.Pinecone.Host == "" {
		return fmt.Errorf("pinecone.host is required (DOCPILOT_PINECONE_HOST)")
	}
	if c.Pinecone.APIKey == "" {
		return fmt.Errorf("pinecone.api_key is required (DOCPILOT_PINECONE_API_KEY)")
	}
	if c.Cohere.APIKey == "" {
		return fmt.Errorf("cohere.api_key is required (DOCPILOT_COHERE_API_KEY)")
	}
	return nil
}

// Address returns the server address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
