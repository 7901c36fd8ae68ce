package config

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	Port         string `json:"port"`
	DebugEnabled bool   `json:"debug_enabled"`
	DebugLogSSE  bool   `json:"debug_log_sse"`

	// Upstream Gemini settings. The GEMINI_API_KEY environment variable
	// overrides the file value when set.
	GeminiAPIKey     string `json:"gemini_api_key"`
	GeminiBaseURL    string `json:"gemini_base_url"`
	GeminiAPIVersion string `json:"gemini_api_version"`
	Model            string `json:"model"`
	FallbackModel    string `json:"fallback_model"`

	// Per-endpoint deadline budgets and retry policy, milliseconds.
	SolveDeadlineMS       int `json:"solve_deadline_ms"`
	StreamDeadlineMS      int `json:"stream_deadline_ms"`
	SummarizeDeadlineMS   int `json:"summarize_deadline_ms"`
	TranscribeDeadlineMS  int `json:"transcribe_deadline_ms"`
	SummarizeMaxAttempts  int `json:"summarize_max_attempts"`
	TranscribeMaxAttempts int `json:"transcribe_max_attempts"`
	RetryBaseDelayMS      int `json:"retry_base_delay_ms"`

	HeartbeatIntervalMS int `json:"heartbeat_interval_ms"`
	MediaFetchTimeoutMS int `json:"media_fetch_timeout_ms"`
	MaxImageBytes       int `json:"max_image_bytes"`
	MaxAudioBytes       int `json:"max_audio_bytes"`

	// Client auth. Empty APIKey disables the check (local development).
	APIKey string `json:"api_key"`

	// Result cache for summarize/transcribe.
	ResultCacheMode       string `json:"result_cache_mode"`
	ResultCacheSize       int    `json:"result_cache_size"`
	ResultCacheTTLSeconds int    `json:"result_cache_ttl_seconds"`
	ResultCacheLog        bool   `json:"result_cache_log"`
	RedisAddr             string `json:"redis_addr"`
	RedisPassword         string `json:"redis_password"`
	RedisDB               int    `json:"redis_db"`
	RedisPrefix           string `json:"redis_prefix"`

	// Uploads metadata store.
	StoreMode string `json:"store_mode"`
	StorePath string `json:"store_path"`

	ConcurrencyLimit   int  `json:"concurrency_limit"`
	ConcurrencyTimeout int  `json:"concurrency_timeout"`
	AdaptiveTimeout    bool `json:"adaptive_timeout"`
}

func Load(path string) (*Config, string, error) {
	resolvedPath, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", err
	}

	data, err := os.ReadFile(resolvedPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Config{}
	ext := strings.ToLower(filepath.Ext(resolvedPath))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, "", fmt.Errorf("failed to parse config json: %w", err)
		}
	case ".yaml", ".yml":
		m, err := parseYAMLFlat(data)
		if err != nil {
			return nil, "", err
		}
		raw, err := json.Marshal(m)
		if err != nil {
			return nil, "", fmt.Errorf("failed to normalize yaml: %w", err)
		}
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, "", fmt.Errorf("failed to parse config yaml: %w", err)
		}
	default:
		return nil, "", fmt.Errorf("unsupported config extension: %s", ext)
	}

	ApplyDefaults(&cfg)
	return &cfg, resolvedPath, nil
}

func resolveConfigPath(path string) (string, error) {
	if strings.TrimSpace(path) != "" {
		return path, nil
	}

	candidates := []string{"config.json", "config.yaml", "config.yml"}
	for _, name := range candidates {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
	}

	return "", fmt.Errorf("config.json/config.yaml/config.yml not found")
}

func ApplyDefaults(cfg *Config) {
	if env := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); env != "" {
		cfg.GeminiAPIKey = env
	}
	if cfg.Port == "" {
		cfg.Port = "3002"
	}
	if cfg.GeminiBaseURL == "" {
		cfg.GeminiBaseURL = "https://generativelanguage.googleapis.com"
	}
	if cfg.GeminiAPIVersion == "" {
		cfg.GeminiAPIVersion = "v1beta"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.FallbackModel == "" {
		cfg.FallbackModel = "gemini-2.5-pro"
	}
	if cfg.SolveDeadlineMS == 0 {
		cfg.SolveDeadlineMS = 8000
	}
	if cfg.StreamDeadlineMS == 0 {
		cfg.StreamDeadlineMS = 45000
	}
	if cfg.SummarizeDeadlineMS == 0 {
		cfg.SummarizeDeadlineMS = 12000
	}
	if cfg.TranscribeDeadlineMS == 0 {
		cfg.TranscribeDeadlineMS = 24000
	}
	if cfg.SummarizeMaxAttempts <= 0 {
		cfg.SummarizeMaxAttempts = 3
	}
	if cfg.TranscribeMaxAttempts <= 0 {
		cfg.TranscribeMaxAttempts = 3
	}
	if cfg.RetryBaseDelayMS == 0 {
		cfg.RetryBaseDelayMS = 400
	}
	if cfg.HeartbeatIntervalMS == 0 {
		cfg.HeartbeatIntervalMS = 1000
	}
	if cfg.MediaFetchTimeoutMS == 0 {
		cfg.MediaFetchTimeoutMS = 6000
	}
	if cfg.MaxImageBytes == 0 {
		cfg.MaxImageBytes = 6_000_000
	}
	if cfg.MaxAudioBytes == 0 {
		cfg.MaxAudioBytes = 15_000_000
	}
	if cfg.ResultCacheMode == "" {
		cfg.ResultCacheMode = "memory"
	}
	if cfg.ResultCacheSize == 0 {
		cfg.ResultCacheSize = 256
	}
	if cfg.ResultCacheTTLSeconds == 0 {
		cfg.ResultCacheTTLSeconds = 3600
	}
	if cfg.RedisPrefix == "" {
		cfg.RedisPrefix = "mathsnap:result:"
	}
	if cfg.StoreMode == "" {
		cfg.StoreMode = "sqlite"
	}
	if cfg.StorePath == "" {
		cfg.StorePath = "data/uploads.db"
	}
	if cfg.ConcurrencyLimit == 0 {
		cfg.ConcurrencyLimit = 100
	}
	if cfg.ConcurrencyTimeout == 0 {
		cfg.ConcurrencyTimeout = 300
	}
	if cfg.GeminiAPIKey == "" {
		slog.Warn("gemini_api_key is empty; upstream calls will fail until GEMINI_API_KEY is set")
	}
}

// ModelPath normalizes a configured model name to the REST resource form.
// Secrets may be stored with or without the "models/" prefix.
func ModelPath(model string) string {
	model = strings.TrimSpace(model)
	if model == "" {
		return ""
	}
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}

func parseYAMLFlat(data []byte) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// Only strip inline comments where # is preceded by whitespace,
		// to avoid corrupting values containing # (URLs, etc.)
		if idx := strings.Index(line, " #"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		} else if idx := strings.Index(line, "\t#"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid yaml line: %q", line)
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		value = strings.Trim(value, "\"'")

		if key == "" {
			continue
		}
		if value == "" {
			out[key] = ""
			continue
		}
		if value == "true" || value == "false" {
			out[key] = value == "true"
			continue
		}
		if num, err := strconv.Atoi(value); err == nil {
			out[key] = num
			continue
		}
		out[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
