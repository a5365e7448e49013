package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 30 * time.Second
	}
	if cfg.Server.WebhookRateLimit == "" {
		cfg.Server.WebhookRateLimit = "50-S"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/callmind/data/calls.db"
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = "/usr/local/var/callmind/data/indices/vectors"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/callmind/data/indices/bleve"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/callmind/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Model == "" {
		switch cfg.Embedding.Provider {
		case "openai":
			cfg.Embedding.Model = "text-embedding-3-small"
		case "ollama":
			cfg.Embedding.Model = "nomic-embed-text"
		}
	}
	if cfg.Embedding.BaseURL == "" && cfg.Embedding.Provider == "ollama" {
		cfg.Embedding.BaseURL = "http://localhost:11434"
	}
	if cfg.Embedding.Dimensions == 0 {
		switch cfg.Embedding.Provider {
		case "openai":
			cfg.Embedding.Dimensions = 1536
		case "ollama":
			cfg.Embedding.Dimensions = 768
		default:
			cfg.Embedding.Dimensions = 384
		}
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 10 * time.Second
	}
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = "sqlite"
	}
	if cfg.Index.Timeout == 0 {
		cfg.Index.Timeout = 5 * time.Second
	}
	if cfg.Index.Milvus.Collection == "" {
		cfg.Index.Milvus.Collection = "call_transcripts"
	}
	if cfg.Indexing.MaxAttempts == 0 {
		cfg.Indexing.MaxAttempts = 3
	}
	if cfg.Indexing.InitialBackoff == 0 {
		cfg.Indexing.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.Indexing.MaxBackoff == 0 {
		cfg.Indexing.MaxBackoff = 5 * time.Second
	}
	if cfg.Indexing.Workers == 0 {
		cfg.Indexing.Workers = 4
	}
	if cfg.Indexing.QueueSize == 0 {
		cfg.Indexing.QueueSize = 256
	}
	if cfg.Indexing.ChunkSize == 0 {
		cfg.Indexing.ChunkSize = 200
	}
	if cfg.Indexing.ChunkOverlap == 0 {
		cfg.Indexing.ChunkOverlap = 20
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 5
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 100
	}
	if cfg.Search.CandidateMultiplier == 0 {
		cfg.Search.CandidateMultiplier = 4
	}
	if cfg.Search.ExcerptLength == 0 {
		cfg.Search.ExcerptLength = 200
	}
	if cfg.Search.KeywordWeight == nil {
		w := DefaultKeywordWeight
		cfg.Search.KeywordWeight = &w
	}
	if cfg.Correlation.RequeueAfter == 0 {
		cfg.Correlation.RequeueAfter = 2 * time.Minute
	}
	if cfg.Correlation.SweepSchedule == "" {
		cfg.Correlation.SweepSchedule = "@every 1m"
	}
	if cfg.Spool.Extensions == nil {
		cfg.Spool.Extensions = []string{".json"}
	}
	if cfg.Spool.Debounce == 0 {
		cfg.Spool.Debounce = 400 * time.Millisecond
	}
	if cfg.Telephony.Greeting == "" {
		cfg.Telephony.Greeting = "Hello! Please leave your message after the beep. Press the pound key when you are finished."
	}
	if cfg.Telephony.Goodbye == "" {
		cfg.Telephony.Goodbye = "Thank you for your message. Goodbye!"
	}
	if cfg.Telephony.MaxRecordingSeconds == 0 {
		cfg.Telephony.MaxRecordingSeconds = 3600
	}
	if cfg.Telephony.FinishOnKey == "" {
		cfg.Telephony.FinishOnKey = "#"
	}
	if cfg.Telephony.Infobip.Language == "" {
		cfg.Telephony.Infobip.Language = "en-US"
	}
	if cfg.Telephony.Infobip.Timeout == 0 {
		cfg.Telephony.Infobip.Timeout = 10 * time.Second
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 30
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.MCP.Name == "" {
		cfg.MCP.Name = "callmind"
	}
}
