package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lmoreno/finchat/internal/llm"
)

const (
	ResolverFunctionCalling = "function_calling"
	ResolverKeywords        = "keywords"
)

type Config struct {
	Addr      string `yaml:"addr"`
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`

	// ResolverMode picks the tool-resolution strategy:
	// function_calling (default) or the deterministic keyword router.
	ResolverMode string `yaml:"resolver_mode"`

	// ConfirmationEnabled gates state-mutating tools behind explicit user
	// approval. Defaults to true; nil in the file means the default.
	ConfirmationEnabled *bool `yaml:"confirmation_enabled"`

	// RecurringEnabled starts the recurring-transaction scheduler.
	RecurringEnabled bool `yaml:"recurring_enabled"`

	// Pricing overrides or extends the built-in per-million-token table.
	Pricing map[string]llm.ModelPricing `yaml:"pricing"`
}

func Default() Config {
	return Config{
		Addr:         ":8080",
		Provider:     "openai",
		Model:        "gpt-4o-mini",
		APIKeyEnv:    "OPENAI_API_KEY",
		ResolverMode: ResolverFunctionCalling,
	}
}

// Load reads the YAML config at path, layered over defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("config: model is required")
	}
	switch c.ResolverMode {
	case ResolverFunctionCalling, ResolverKeywords:
	default:
		return fmt.Errorf("config: resolver_mode must be %q or %q, got %q",
			ResolverFunctionCalling, ResolverKeywords, c.ResolverMode)
	}
	return nil
}

// Confirmation reports the effective gate flag: enabled unless the file says
// otherwise.
func (c Config) Confirmation() bool {
	if c.ConfirmationEnabled == nil {
		return true
	}
	return *c.ConfirmationEnabled
}

// Prices returns the effective pricing table.
func (c Config) Prices() llm.PriceTable {
	base := llm.DefaultPrices()
	if len(c.Pricing) == 0 {
		return base
	}
	return base.Merge(llm.PriceTable(c.Pricing))
}
