// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"github.com/jeranaias/promptlab/internal/provider"
	"github.com/jeranaias/promptlab/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete promptlab configuration. It is loaded once at
// startup and passed by pointer; nothing mutates it afterwards.
type Config struct {
	Version string `toml:"version" json:"version"`

	Server       ServerConfig       `toml:"server" json:"server"`
	Storage      StorageConfig      `toml:"storage" json:"storage"`
	Orchestrator OrchestratorConfig `toml:"orchestrator" json:"orchestrator"`
	Analytics    AnalyticsConfig    `toml:"analytics" json:"analytics"`
	Reconcile    ReconcileConfig    `toml:"reconcile" json:"reconcile"`

	// Providers are tried in Orchestrator.Priority order.
	Providers []ProviderConfig `toml:"providers" json:"providers"`
}

// ServerConfig contains HTTP API settings.
type ServerConfig struct {
	Host        string   `toml:"host" json:"host"`
	Port        int      `toml:"port" json:"port"`
	APIPrefix   string   `toml:"api_prefix" json:"api_prefix"`
	CORSOrigins []string `toml:"cors_origins" json:"cors_origins"`

	ReadTimeoutSecs  int `toml:"read_timeout_secs" json:"read_timeout_secs"`
	WriteTimeoutSecs int `toml:"write_timeout_secs" json:"write_timeout_secs"`

	// RateLimitRequests per RateLimitWindowSecs per client. 0 disables.
	RateLimitRequests   int `toml:"rate_limit_requests" json:"rate_limit_requests"`
	RateLimitWindowSecs int `toml:"rate_limit_window_secs" json:"rate_limit_window_secs"`
}

// StorageConfig selects the store backing conversations and metrics.
type StorageConfig struct {
	// Driver is "sqlite" or "memory"
	Driver string `toml:"driver" json:"driver"`
	// Path is the SQLite database file
	Path string `toml:"path" json:"path"`
}

// OrchestratorConfig tunes exchanges.
type OrchestratorConfig struct {
	Priority            []string `toml:"priority" json:"priority"`
	ProviderTimeoutSecs int      `toml:"provider_timeout_secs" json:"provider_timeout_secs"`
	PersistTimeoutSecs  int      `toml:"persist_timeout_secs" json:"persist_timeout_secs"`
	HistoryMessages     int      `toml:"history_messages" json:"history_messages"`
	MaxTokens           int      `toml:"max_tokens" json:"max_tokens"`
	Temperature         float64  `toml:"temperature" json:"temperature"`
	SystemPrompt        string   `toml:"system_prompt" json:"system_prompt"`
}

// AnalyticsConfig tunes summaries and retention.
type AnalyticsConfig struct {
	DefaultWindowDays       int     `toml:"default_window_days" json:"default_window_days"`
	RetentionDays           int     `toml:"retention_days" json:"retention_days"`
	SentimentTrendThreshold float64 `toml:"sentiment_trend_threshold" json:"sentiment_trend_threshold"`
	ActivityTrendRatio      float64 `toml:"activity_trend_ratio" json:"activity_trend_ratio"`
}

// ReconcileConfig tunes the background replay of failed writes.
type ReconcileConfig struct {
	IntervalSecs int `toml:"interval_secs" json:"interval_secs"`
	MaxAttempts  int `toml:"max_attempts" json:"max_attempts"`
}

// ProviderConfig is one [[providers]] entry. Unset fields take the built-in
// descriptor values for Name.
type ProviderConfig struct {
	Name        string `toml:"name" json:"name"`
	API         string `toml:"api,omitempty" json:"api,omitempty"`
	Model       string `toml:"model,omitempty" json:"model,omitempty"`
	APIKey      string `toml:"api_key,omitempty" json:"api_key,omitempty"`
	BaseURL     string `toml:"base_url,omitempty" json:"base_url,omitempty"`
	TimeoutSecs int    `toml:"timeout_secs,omitempty" json:"timeout_secs,omitempty"`

	// Prices in USD per one million tokens.
	InputPricePerMillion  *float64 `toml:"input_price_per_million,omitempty" json:"input_price_per_million,omitempty"`
	OutputPricePerMillion *float64 `toml:"output_price_per_million,omitempty" json:"output_price_per_million,omitempty"`

	MaxContextTokens  int      `toml:"max_context_tokens,omitempty" json:"max_context_tokens,omitempty"`
	Capabilities      []string `toml:"capabilities,omitempty" json:"capabilities,omitempty"`
	Languages         []string `toml:"languages,omitempty" json:"languages,omitempty"`
	RequestsPerMinute int      `toml:"requests_per_minute,omitempty" json:"requests_per_minute,omitempty"`
	TokensPerMinute   int      `toml:"tokens_per_minute,omitempty" json:"tokens_per_minute,omitempty"`

	// Enabled defaults to true when omitted.
	Enabled *bool `toml:"enabled,omitempty" json:"enabled,omitempty"`
}

// IsEnabled reports whether the entry is switched on.
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values. All four built-in
// providers are enabled; each needs an API key before it is used.
func Default() *Config {
	cfg := &Config{
		Version: "1.0.0",

		Server: ServerConfig{
			Host:                "127.0.0.1",
			Port:                8000,
			APIPrefix:           "/api/v1",
			CORSOrigins:         []string{"http://localhost:3000"},
			ReadTimeoutSecs:     30,
			WriteTimeoutSecs:    120,
			RateLimitRequests:   100,
			RateLimitWindowSecs: 60,
		},

		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "prompt_lab.db",
		},

		Orchestrator: OrchestratorConfig{
			Priority:            append([]string(nil), provider.DefaultPriority...),
			ProviderTimeoutSecs: 30,
			PersistTimeoutSecs:  10,
			HistoryMessages:     10,
			MaxTokens:           2048,
			Temperature:         0.7,
		},

		Analytics: AnalyticsConfig{
			DefaultWindowDays:       30,
			RetentionDays:           90,
			SentimentTrendThreshold: 0.1,
			ActivityTrendRatio:      0.1,
		},

		Reconcile: ReconcileConfig{
			IntervalSecs: 30,
			MaxAttempts:  5,
		},
	}
	for _, name := range provider.DefaultPriority {
		cfg.Providers = append(cfg.Providers, ProviderConfig{Name: name})
	}
	return cfg
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the promptlab configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".promptlab"), nil
}

// ConfigPathTOML returns the path to the default TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads path, or the default config file when path is empty. A missing
// default file yields the defaults; a missing explicit path is an error.
// Environment overrides are applied last, then the result is validated.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := ConfigPathTOML()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if cfg, err = LoadFromPath(path); err != nil {
			return nil, err
		}
	} else if explicit || !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath decodes one file over the defaults, by extension: .json is
// JSON, anything else TOML. It neither applies env overrides nor validates.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	// A file listing providers replaces the default list entirely.
	cfg.Providers = nil

	if strings.HasSuffix(strings.ToLower(path), ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read JSON file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode JSON file %s: %w", path, err)
		}
	} else {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to decode TOML file %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			log.Printf("CONFIG_UNKNOWN_KEYS | path=%s keys=%v", path, undecoded)
		}
	}

	if cfg.Providers == nil {
		cfg.Providers = Default().Providers
	}
	return cfg, nil
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Version == "" {
		c.Version = d.Version
	}

	// Server
	if c.Server.Host == "" {
		c.Server.Host = d.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.APIPrefix == "" {
		c.Server.APIPrefix = d.Server.APIPrefix
	}
	if c.Server.ReadTimeoutSecs == 0 {
		c.Server.ReadTimeoutSecs = d.Server.ReadTimeoutSecs
	}
	if c.Server.WriteTimeoutSecs == 0 {
		c.Server.WriteTimeoutSecs = d.Server.WriteTimeoutSecs
	}
	if c.Server.RateLimitWindowSecs == 0 {
		c.Server.RateLimitWindowSecs = d.Server.RateLimitWindowSecs
	}

	// Storage
	if c.Storage.Driver == "" {
		c.Storage.Driver = d.Storage.Driver
	}
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	if c.Storage.Path == "" {
		c.Storage.Path = d.Storage.Path
	}

	// Orchestrator
	if len(c.Orchestrator.Priority) == 0 {
		c.Orchestrator.Priority = d.Orchestrator.Priority
	}
	for i, name := range c.Orchestrator.Priority {
		c.Orchestrator.Priority[i] = provider.NormalizeName(name)
	}
	if c.Orchestrator.ProviderTimeoutSecs == 0 {
		c.Orchestrator.ProviderTimeoutSecs = d.Orchestrator.ProviderTimeoutSecs
	}
	if c.Orchestrator.PersistTimeoutSecs == 0 {
		c.Orchestrator.PersistTimeoutSecs = d.Orchestrator.PersistTimeoutSecs
	}
	if c.Orchestrator.HistoryMessages == 0 {
		c.Orchestrator.HistoryMessages = d.Orchestrator.HistoryMessages
	}
	if c.Orchestrator.MaxTokens == 0 {
		c.Orchestrator.MaxTokens = d.Orchestrator.MaxTokens
	}
	if c.Orchestrator.Temperature == 0 {
		c.Orchestrator.Temperature = d.Orchestrator.Temperature
	}

	// Analytics
	if c.Analytics.DefaultWindowDays == 0 {
		c.Analytics.DefaultWindowDays = d.Analytics.DefaultWindowDays
	}
	if c.Analytics.SentimentTrendThreshold == 0 {
		c.Analytics.SentimentTrendThreshold = d.Analytics.SentimentTrendThreshold
	}
	if c.Analytics.ActivityTrendRatio == 0 {
		c.Analytics.ActivityTrendRatio = d.Analytics.ActivityTrendRatio
	}

	// Reconcile
	if c.Reconcile.IntervalSecs == 0 {
		c.Reconcile.IntervalSecs = d.Reconcile.IntervalSecs
	}
	if c.Reconcile.MaxAttempts == 0 {
		c.Reconcile.MaxAttempts = d.Reconcile.MaxAttempts
	}

	for i := range c.Providers {
		c.Providers[i].Name = provider.NormalizeName(c.Providers[i].Name)
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// apiKeyEnv maps provider names to the variable holding their key.
var apiKeyEnv = map[string]string{
	provider.Gemini: "GEMINI_API_KEY",
	provider.Groq:   "GROQ_API_KEY",
	provider.OpenAI: "OPENAI_API_KEY",
	provider.Claude: "ANTHROPIC_API_KEY",
}

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported environment variables:
//   - PROMPTLAB_HOST: overrides server.host
//   - PROMPTLAB_PORT: overrides server.port
//   - PROMPTLAB_DB: overrides storage.path
//   - PROMPTLAB_STORAGE: overrides storage.driver
//   - PROMPTLAB_PRIORITY: comma-separated orchestrator.priority
//   - GEMINI_API_KEY, GROQ_API_KEY, OPENAI_API_KEY, ANTHROPIC_API_KEY:
//     the key of the matching provider when the file sets none
func (c *Config) ApplyEnvOverrides() {
	if host := os.Getenv("PROMPTLAB_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("PROMPTLAB_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			c.Server.Port = n
		} else {
			log.Printf("CONFIG_ENV_IGNORED | var=PROMPTLAB_PORT value=%q", port)
		}
	}
	if db := os.Getenv("PROMPTLAB_DB"); db != "" {
		c.Storage.Path = db
	}
	if driver := os.Getenv("PROMPTLAB_STORAGE"); driver != "" {
		c.Storage.Driver = driver
	}
	if priority := os.Getenv("PROMPTLAB_PRIORITY"); priority != "" {
		c.Orchestrator.Priority = splitList(priority)
	}

	for i := range c.Providers {
		p := &c.Providers[i]
		if p.APIKey != "" {
			continue
		}
		if env, ok := apiKeyEnv[provider.NormalizeName(p.Name)]; ok {
			p.APIKey = os.Getenv(env)
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RateLimitWindow is the window of the per-client limiter.
func (s ServerConfig) RateLimitWindow() time.Duration {
	return time.Duration(s.RateLimitWindowSecs) * time.Second
}

// Settings converts the entry for provider.New.
func (p ProviderConfig) Settings() provider.Settings {
	s := provider.Settings{
		Name:              p.Name,
		API:               p.API,
		APIKey:            p.APIKey,
		BaseURL:           p.BaseURL,
		Model:             p.Model,
		Capabilities:      p.Capabilities,
		Languages:         p.Languages,
		MaxContextTokens:  p.MaxContextTokens,
		RequestsPerMinute: p.RequestsPerMinute,
		TokensPerMinute:   p.TokensPerMinute,
	}
	if p.InputPricePerMillion != nil {
		v := decimal.NewFromFloat(*p.InputPricePerMillion)
		s.InputPricePerMillion = &v
	}
	if p.OutputPricePerMillion != nil {
		v := decimal.NewFromFloat(*p.OutputPricePerMillion)
		s.OutputPricePerMillion = &v
	}
	return s
}

// UsableProviders returns the enabled providers that have an API key, in
// file order. Enabled providers without a key are skipped with a log line.
func (c *Config) UsableProviders() []ProviderConfig {
	var out []ProviderConfig
	for _, p := range c.Providers {
		if !p.IsEnabled() {
			continue
		}
		if p.APIKey == "" {
			log.Printf("PROVIDER_SKIPPED | provider=%s reason=missing_api_key", p.Name)
			continue
		}
		out = append(out, p)
	}
	return out
}

// ProviderTimeouts returns the per-provider timeout overrides.
func (c *Config) ProviderTimeouts() map[string]time.Duration {
	out := make(map[string]time.Duration)
	for _, p := range c.Providers {
		if p.TimeoutSecs > 0 {
			out[p.Name] = time.Duration(p.TimeoutSecs) * time.Second
		}
	}
	return out
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes the configuration to path with 0600 permissions, since the
// file can hold API keys. The write is atomic.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# promptlab configuration file")
	fmt.Fprintln(&buf, "# Generated by promptlab - edit with care")
	fmt.Fprintln(&buf, "")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every section and returns ValidateErrors listing all
// problems, or nil.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "must be between 1 and 65535, got %d", c.Server.Port)
	}
	if !strings.HasPrefix(c.Server.APIPrefix, "/") || strings.HasSuffix(c.Server.APIPrefix, "/") {
		add("server.api_prefix", "must start with '/' and not end with one, got %q", c.Server.APIPrefix)
	}
	if c.Server.ReadTimeoutSecs < 0 || c.Server.WriteTimeoutSecs < 0 {
		add("server.timeouts", "cannot be negative")
	}
	if c.Server.RateLimitRequests < 0 {
		add("server.rate_limit_requests", "cannot be negative")
	}
	if c.Server.RateLimitWindowSecs <= 0 {
		add("server.rate_limit_window_secs", "must be positive")
	}

	// Storage
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.Path == "" {
			add("storage.path", "required for the sqlite driver")
		}
	case "memory":
	default:
		add("storage.driver", "invalid driver '%s', must be one of: sqlite, memory", c.Storage.Driver)
	}

	// Orchestrator
	if c.Orchestrator.ProviderTimeoutSecs <= 0 {
		add("orchestrator.provider_timeout_secs", "must be positive")
	}
	if c.Orchestrator.PersistTimeoutSecs <= 0 {
		add("orchestrator.persist_timeout_secs", "must be positive")
	}
	if c.Orchestrator.HistoryMessages < 0 {
		add("orchestrator.history_messages", "cannot be negative")
	}
	if c.Orchestrator.MaxTokens <= 0 {
		add("orchestrator.max_tokens", "must be positive")
	}
	if c.Orchestrator.Temperature < 0 || c.Orchestrator.Temperature > 2 {
		add("orchestrator.temperature", "must be between 0 and 2, got %g", c.Orchestrator.Temperature)
	}

	// Analytics
	if c.Analytics.DefaultWindowDays < 1 || c.Analytics.DefaultWindowDays > 365 {
		add("analytics.default_window_days", "must be between 1 and 365, got %d", c.Analytics.DefaultWindowDays)
	}
	if c.Analytics.RetentionDays < 0 {
		add("analytics.retention_days", "cannot be negative")
	}
	if c.Analytics.SentimentTrendThreshold < 0 {
		add("analytics.sentiment_trend_threshold", "cannot be negative")
	}
	if c.Analytics.ActivityTrendRatio < 0 {
		add("analytics.activity_trend_ratio", "cannot be negative")
	}

	// Reconcile
	if c.Reconcile.IntervalSecs <= 0 {
		add("reconcile.interval_secs", "must be positive")
	}
	if c.Reconcile.MaxAttempts <= 0 {
		add("reconcile.max_attempts", "must be positive")
	}

	// Providers
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		field := fmt.Sprintf("providers[%d]", i)
		name := provider.NormalizeName(p.Name)
		if name == "" {
			add(field+".name", "is required")
			continue
		}
		field = fmt.Sprintf("providers[%s]", name)
		if seen[name] {
			add(field, "configured more than once")
		}
		seen[name] = true

		if _, known := provider.DefaultDescriptor(name); !known {
			if p.Model == "" {
				add(field+".model", "required for a provider without built-in defaults")
			}
			if p.API == "" {
				add(field+".api", "required for a provider without built-in defaults")
			}
		}
		switch provider.NormalizeName(p.API) {
		case "", provider.APIGemini, provider.APIOpenAI, provider.APIClaude:
		default:
			add(field+".api", "invalid api '%s', must be one of: gemini, openai, claude", p.API)
		}
		if p.BaseURL != "" {
			if u, err := url.Parse(p.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				add(field+".base_url", "invalid URL %q", p.BaseURL)
			}
		}
		if p.TimeoutSecs < 0 {
			add(field+".timeout_secs", "cannot be negative")
		}
		if (p.InputPricePerMillion != nil && *p.InputPricePerMillion < 0) ||
			(p.OutputPricePerMillion != nil && *p.OutputPricePerMillion < 0) {
			add(field+".price", "cannot be negative")
		}
		if p.MaxContextTokens < 0 || p.RequestsPerMinute < 0 || p.TokensPerMinute < 0 {
			add(field+".limits", "cannot be negative")
		}
	}
	// Priority may name providers that are not configured; they are skipped.
	listed := make(map[string]bool, len(c.Orchestrator.Priority))
	for _, name := range c.Orchestrator.Priority {
		name = provider.NormalizeName(name)
		if listed[name] {
			add("orchestrator.priority", "provider '%s' listed more than once", name)
		}
		listed[name] = true
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g. "server.port").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type; lists are comma-separated.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if strings.TrimSpace(key) == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			lower := strings.ToLower(strVal)
			field.SetBool(lower == "1" || lower == "true" || lower == "yes")
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				field.Set(reflect.ValueOf(splitList(strVal)))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) && val.Kind() != reflect.String {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// GetAllKeys returns all scalar configuration keys in dot notation.
// Providers are edited in the file.
func GetAllKeys() []string {
	return []string{
		"version",
		"server.host",
		"server.port",
		"server.api_prefix",
		"server.cors_origins",
		"server.read_timeout_secs",
		"server.write_timeout_secs",
		"server.rate_limit_requests",
		"server.rate_limit_window_secs",
		"storage.driver",
		"storage.path",
		"orchestrator.priority",
		"orchestrator.provider_timeout_secs",
		"orchestrator.persist_timeout_secs",
		"orchestrator.history_messages",
		"orchestrator.max_tokens",
		"orchestrator.temperature",
		"orchestrator.system_prompt",
		"analytics.default_window_days",
		"analytics.retention_days",
		"analytics.sentiment_trend_threshold",
		"analytics.activity_trend_ratio",
		"reconcile.interval_secs",
		"reconcile.max_attempts",
	}
}

// =============================================================================
// COPY AND DISPLAY
// =============================================================================

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	clone.Orchestrator.Priority = append([]string(nil), c.Orchestrator.Priority...)
	clone.Providers = make([]ProviderConfig, len(c.Providers))
	for i, p := range c.Providers {
		p.Capabilities = append([]string(nil), p.Capabilities...)
		p.Languages = append([]string(nil), p.Languages...)
		if p.InputPricePerMillion != nil {
			v := *p.InputPricePerMillion
			p.InputPricePerMillion = &v
		}
		if p.OutputPricePerMillion != nil {
			v := *p.OutputPricePerMillion
			p.OutputPricePerMillion = &v
		}
		if p.Enabled != nil {
			v := *p.Enabled
			p.Enabled = &v
		}
		clone.Providers[i] = p
	}
	return &clone
}

// Redacted returns a copy with API keys masked.
func (c *Config) Redacted() *Config {
	safe := c.Clone()
	for i := range safe.Providers {
		if safe.Providers[i].APIKey != "" {
			safe.Providers[i].APIKey = "[REDACTED]"
		}
	}
	return safe
}

// String returns the config as indented JSON with API keys redacted.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}
