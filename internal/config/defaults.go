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
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/matcher/data/matcher.db"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/matcher/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.ModelVersion == "" {
		cfg.Embedding.ModelVersion = "all-MiniLM-L6-v2"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 2 * time.Second
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.Capacity == 0 {
		cfg.Cache.Capacity = 10000
	}
	if cfg.Cache.RedisAddr == "" {
		cfg.Cache.RedisAddr = "localhost:6379"
	}
	if cfg.Cache.EmbeddingTTL == 0 {
		cfg.Cache.EmbeddingTTL = 24 * time.Hour
	}
	if cfg.Cache.CorpusTTL == 0 {
		cfg.Cache.CorpusTTL = time.Hour
	}
	if cfg.Cache.Timeout == 0 {
		cfg.Cache.Timeout = 200 * time.Millisecond
	}
	ApplyMatchingDefaults(&cfg.Matching)
}

// ApplyMatchingDefaults fills unset matching options. Weight groups are only
// defaulted when the whole group is unset, so a partial weight set still fails
// validation instead of being silently completed.
func ApplyMatchingDefaults(m *MatchingConfig) {
	def := DefaultMatchingConfig()
	if m.LexicalWeight == 0 && m.VectorWeight == 0 {
		m.LexicalWeight = def.LexicalWeight
		m.VectorWeight = def.VectorWeight
	}
	if m.Rerank.isZero() {
		m.Rerank = def.Rerank
	}
	if m.ExperienceCap == 0 {
		m.ExperienceCap = def.ExperienceCap
	}
	if m.RadiusKM == 0 {
		m.RadiusKM = def.RadiusKM
	}
	if m.AutoThreshold == 0 {
		m.AutoThreshold = def.AutoThreshold
	}
	if m.TopN == 0 {
		m.TopN = def.TopN
	}
	if m.Calibration.Method == "" {
		m.Calibration.Method = def.Calibration.Method
	}
	if m.BM25.K1 == 0 {
		m.BM25.K1 = def.BM25.K1
	}
	if m.BM25.B == 0 {
		m.BM25.B = def.BM25.B
	}
}
