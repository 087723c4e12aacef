// Package config loads process configuration from the environment,
// failing fast when a required variable is missing.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/cast"
)

// Config holds every environment-driven setting the process reads at startup.
type Config struct {
	OpenAIAPIKey    string
	PineconeAPIKey  string
	PineconeIndex   string
	S3Bucket        string
	AWSRegion       string
	APIHost         string
	APIPort         string
	TaskDBPath      string

	ExecutorWorkers    int
	ExecutorQueueDepth int
	MaxRegen           int
	RateLimitPerMinute int
	LLMChatModel       string
	LLMEmbedModel      string
	VectorNamespace    string
}

// required lists the environment variables whose absence fails startup,
// per spec.md §6.
var required = []string{
	"OPENAI_API_KEY",
	"PINECONE_API_KEY",
	"PINECONE_INDEX_NAME",
	"API_HOST",
	"API_PORT",
	"TASK_DB_PATH",
}

// Load reads Config from the environment. S3_BUCKET_NAME and AWS_REGION are
// optional: their absence selects the local-filesystem blob store instead
// of the S3-backed one.
func Load() (*Config, error) {
	missing := make([]string, 0, len(required))
	for _, name := range required {
		if os.Getenv(name) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("config: missing required environment variables: %v", missing)
	}

	cfg := &Config{
		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
		PineconeAPIKey: os.Getenv("PINECONE_API_KEY"),
		PineconeIndex:  os.Getenv("PINECONE_INDEX_NAME"),
		S3Bucket:       os.Getenv("S3_BUCKET_NAME"),
		AWSRegion:      os.Getenv("AWS_REGION"),
		APIHost:        os.Getenv("API_HOST"),
		APIPort:        os.Getenv("API_PORT"),
		TaskDBPath:     os.Getenv("TASK_DB_PATH"),

		ExecutorWorkers:    envInt("EXECUTOR_WORKERS", 4),
		ExecutorQueueDepth: envInt("EXECUTOR_QUEUE_DEPTH", 1024),
		MaxRegen:           envInt("MAX_REGEN", 2),
		RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 5),
		LLMChatModel:       envString("LLM_CHAT_MODEL", "gpt-4o-mini"),
		LLMEmbedModel:      envString("LLM_EMBED_MODEL", "text-embedding-3-small"),
		VectorNamespace:    envString("VECTOR_STORE_NAMESPACE", "research_papers"),
	}
	return cfg, nil
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return def
	}
	return n
}

func envString(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}
