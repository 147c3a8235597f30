package llm

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/transitql/transitql/internal/config"
)

// Catalog overrides provider base URLs and model lists from a YAML file:
//
//	providers:
//	  groq:
//	    base_url: https://api.groq.com/openai/v1
//	    models: [llama-3.1-70b-versatile]
type Catalog struct {
	Providers map[string]CatalogEntry `yaml:"providers"`
}

type CatalogEntry struct {
	BaseURL string   `yaml:"base_url"`
	Models  []string `yaml:"models"`
}

func LoadCatalog(path string) (Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read model catalog: %w", err)
	}
	return ParseCatalog(raw)
}

func ParseCatalog(raw []byte) (Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return Catalog{}, fmt.Errorf("parse model catalog: %w", err)
	}
	for name, entry := range catalog.Providers {
		if _, known := providerFactories[strings.ToLower(name)]; !known {
			return Catalog{}, fmt.Errorf("model catalog names unknown provider %q", name)
		}
		for _, model := range entry.Models {
			if strings.TrimSpace(model) == "" {
				return Catalog{}, fmt.Errorf("model catalog has an empty model for %q", name)
			}
		}
	}
	return catalog, nil
}

// Apply overlays the catalog onto cfg. Entries that leave a field empty keep
// the configured value.
func (c Catalog) Apply(cfg config.LLMConfig) config.LLMConfig {
	for name, entry := range c.Providers {
		target := providerConfig(&cfg, strings.ToLower(name))
		if target == nil {
			continue
		}
		if entry.BaseURL != "" {
			target.BaseURL = entry.BaseURL
		}
		if len(entry.Models) > 0 {
			target.Models = append([]string(nil), entry.Models...)
		}
	}
	return cfg
}

type adapterFactory func(name string, cfg config.ProviderConfig, client *http.Client) (Adapter, error)

var providerFactories = map[string]adapterFactory{
	"anthropic": func(_ string, cfg config.ProviderConfig, client *http.Client) (Adapter, error) {
		return NewAnthropicAdapter(cfg.BaseURL, cfg.APIKey, cfg.Models, client)
	},
	"openai": openAICompatible,
	"groq":   openAICompatible,
}

func openAICompatible(name string, cfg config.ProviderConfig, client *http.Client) (Adapter, error) {
	return NewOpenAIAdapter(name, cfg.BaseURL, cfg.APIKey, cfg.Models, client)
}

func providerConfig(cfg *config.LLMConfig, name string) *config.ProviderConfig {
	switch name {
	case "anthropic":
		return &cfg.Anthropic
	case "openai":
		return &cfg.OpenAI
	case "groq":
		return &cfg.Groq
	}
	return nil
}

// AdaptersFromConfig builds an adapter for every provider that has an API
// key. Providers without a key are skipped and logged.
func AdaptersFromConfig(cfg config.LLMConfig, client *http.Client, logger *slog.Logger) ([]Adapter, error) {
	var adapters []Adapter
	for _, name := range []string{"anthropic", "openai", "groq"} {
		providerCfg := *providerConfig(&cfg, name)
		if strings.TrimSpace(providerCfg.APIKey) == "" {
			if logger != nil {
				logger.Info("llm provider disabled, no api key", slog.String("provider", name))
			}
			continue
		}
		adapter, err := providerFactories[name](name, providerCfg, client)
		if err != nil {
			return nil, fmt.Errorf("configure %s: %w", name, err)
		}
		adapters = append(adapters, adapter)
	}
	return adapters, nil
}
