package config

import (
	"os"
	"strconv"
	"time"
)

const (
	debugEnv             = "CALLMIND_DEBUG"
	hostEnv              = "CALLMIND_HOST"
	portEnv              = "CALLMIND_PORT"
	databasePathEnv      = "CALLMIND_DATABASE_PATH"
	embeddingProviderEnv = "CALLMIND_EMBEDDING_PROVIDER"
	embeddingModelEnv    = "CALLMIND_EMBEDDING_MODEL"
	embeddingBaseURLEnv  = "CALLMIND_EMBEDDING_BASE_URL"
	openAIAPIKeyEnv      = "OPENAI_API_KEY"
	indexBackendEnv      = "CALLMIND_INDEX_BACKEND"
	milvusAddressEnv     = "MILVUS_ADDRESS"
	milvusUsernameEnv    = "MILVUS_USERNAME"
	milvusPasswordEnv    = "MILVUS_PASSWORD"
	stageTimeoutEnv      = "CALLMIND_STAGE_TIMEOUT"
	publicBaseURLEnv     = "CALLMIND_PUBLIC_BASE_URL"
	infobipAPIKeyEnv     = "INFOBIP_API_KEY"
	infobipBaseURLEnv    = "INFOBIP_BASE_URL"
)

// ApplyEnv overrides file settings with environment variables. Secrets are expected to come
// from the environment rather than the YAML file.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(debugEnv); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}
	if v := os.Getenv(hostEnv); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv(portEnv); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv(databasePathEnv); v != "" {
		cfg.Storage.DatabasePath = v
	}
	if v := os.Getenv(embeddingProviderEnv); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv(embeddingModelEnv); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv(embeddingBaseURLEnv); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv(openAIAPIKeyEnv); v != "" && cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv(indexBackendEnv); v != "" {
		cfg.Index.Backend = v
	}
	if v := os.Getenv(milvusAddressEnv); v != "" {
		cfg.Index.Milvus.Address = v
	}
	if v := os.Getenv(milvusUsernameEnv); v != "" {
		cfg.Index.Milvus.Username = v
	}
	if v := os.Getenv(milvusPasswordEnv); v != "" {
		cfg.Index.Milvus.Password = v
	}
	if v := os.Getenv(stageTimeoutEnv); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Correlation.StageTimeout = d
		}
	}
	if v := os.Getenv(publicBaseURLEnv); v != "" {
		cfg.Telephony.PublicBaseURL = v
	}
	if v := os.Getenv(infobipAPIKeyEnv); v != "" && cfg.Telephony.Infobip.APIKey == "" {
		cfg.Telephony.Infobip.APIKey = v
	}
	if v := os.Getenv(infobipBaseURLEnv); v != "" {
		cfg.Telephony.Infobip.BaseURL = v
	}
}
