// Package config provides application settings loaded from environment variables.
//
// Settings are created via New() which handles:
// - Environment variable parsing with validation
// - Default value application
// - Provider-specific configuration lookup

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Settings holds all application configuration.
type Settings struct {
	LLM        LLMConfig
	Compaction CompactionConfig
	Turn       TurnConfig
	Server     ServerConfig
	Storage    StorageConfig
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider    string
	Model       string
	MaxTokens   int
	Temperature float32
	NumCtx      int
}

// CompactionConfig holds context compaction configuration.
type CompactionConfig struct {
	Enabled           bool
	BufferPercent     int
	ThresholdPercent  int
	ProtectedMessages int
}

// TurnConfig holds per-turn streaming configuration.
type TurnConfig struct {
	SystemPrompt          string
	ThinkingEnabled       bool
	ThinkingLimitInitial  int
	ThinkingLimitFollowup int
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr string
}

// StorageConfig holds ledger storage configuration.
type StorageConfig struct {
	// Path to the sqlite database file. Empty selects the in-memory
	// store.
	Path string
}

// providerInfo holds configuration for a specific LLM provider.
type providerInfo struct {
	modelEnv     string
	defaultModel string
	apiKeyEnv    string
}

// Supported providers and their configuration.
var providers = map[string]providerInfo{
	"openai":    {"OPENAI_MODEL", "gpt-5.2", "OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_MODEL", "claude-opus-4-5-20251101", "ANTHROPIC_API_KEY"},
	"deepseek":  {"DEEPSEEK_MODEL", "deepseek-v3.2", "DEEPSEEK_API_KEY"},
}

// Provider aliases map to canonical names.
var providerAliases = map[string]string{
	"claude": "anthropic",
	"gpt":    "openai",
}

// New creates settings for the specified provider, loading values from environment variables.
// Returns an error if the provider is unknown or environment variables contain invalid values.
func New(provider string) (Settings, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return Settings{}, err
	}

	maxTokens, err := getEnvInt("LLM_MAX_TOKENS", 4096)
	if err != nil {
		return Settings{}, err
	}

	temperature, err := getEnvFloat32("LLM_TEMPERATURE", 0.7)
	if err != nil {
		return Settings{}, err
	}

	numCtx, err := getEnvInt("NUM_CTX", 8192)
	if err != nil {
		return Settings{}, err
	}

	compactionEnabled, err := getEnvBool("COMPACTION_ENABLED", true)
	if err != nil {
		return Settings{}, err
	}

	bufferPercent, err := getEnvInt("COMPACTION_BUFFER_PERCENT", 20)
	if err != nil {
		return Settings{}, err
	}

	thresholdPercent, err := getEnvInt("COMPACTION_THRESHOLD_PERCENT", 80)
	if err != nil {
		return Settings{}, err
	}

	protectedMessages, err := getEnvInt("COMPACTION_PROTECTED_MESSAGES", 4)
	if err != nil {
		return Settings{}, err
	}

	thinkingEnabled, err := getEnvBool("THINKING_ENABLED", true)
	if err != nil {
		return Settings{}, err
	}

	thinkingInitial, err := getEnvInt("THINKING_TOKEN_LIMIT_INITIAL", 4096)
	if err != nil {
		return Settings{}, err
	}

	thinkingFollowup, err := getEnvInt("THINKING_TOKEN_LIMIT_FOLLOWUP", 1024)
	if err != nil {
		return Settings{}, err
	}

	// Get model from environment or use default
	model := os.Getenv(info.modelEnv)
	if model == "" {
		model = info.defaultModel
	}

	addr := os.Getenv("SERVER_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	return Settings{
		LLM: LLMConfig{
			Provider:    provider,
			Model:       model,
			MaxTokens:   maxTokens,
			Temperature: temperature,
			NumCtx:      numCtx,
		},
		Compaction: CompactionConfig{
			Enabled:           compactionEnabled,
			BufferPercent:     bufferPercent,
			ThresholdPercent:  thresholdPercent,
			ProtectedMessages: protectedMessages,
		},
		Turn: TurnConfig{
			SystemPrompt:          os.Getenv("SYSTEM_PROMPT"),
			ThinkingEnabled:       thinkingEnabled,
			ThinkingLimitInitial:  thinkingInitial,
			ThinkingLimitFollowup: thinkingFollowup,
		},
		Server: ServerConfig{
			Addr: addr,
		},
		Storage: StorageConfig{
			Path: os.Getenv("LEDGER_DB_PATH"),
		},
	}, nil
}

// MustNew creates settings for the specified provider.
// Panics if the provider is unknown or environment variables are invalid.
// Use this only when configuration errors should be fatal.
func MustNew(provider string) Settings {
	settings, err := New(provider)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return settings
}

// normalizeProvider converts provider aliases to canonical names.
func normalizeProvider(provider string) string {
	provider = strings.ToLower(provider)
	if canonical, ok := providerAliases[provider]; ok {
		return canonical
	}
	return provider
}

// getProviderInfo returns configuration for a provider.
func getProviderInfo(provider string) (providerInfo, error) {
	info, ok := providers[provider]
	if !ok {
		return providerInfo{}, fmt.Errorf("unknown provider: %q", provider)
	}
	return info, nil
}

// APIKeyFor returns the API key for a provider from environment variables.
func APIKeyFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	key := os.Getenv(info.apiKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", info.apiKeyEnv)
	}
	return key, nil
}

// ModelFor returns the model for a provider, checking environment first.
func ModelFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	if val := os.Getenv(info.modelEnv); val != "" {
		return val, nil
	}
	return info.defaultModel, nil
}

// SupportedProviders returns the list of supported provider names.
func SupportedProviders() []string {
	result := make([]string, 0, len(providers))
	for name := range providers {
		result = append(result, name)
	}
	return result
}

// Environment variable helpers with proper error handling

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return b, nil
}

func getEnvFloat32(key string, defaultVal float32) (float32, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return float32(f), nil
}
