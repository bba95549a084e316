package llm

import (
	"fmt"

	"github.com/beamlens/beamlens/internal/registry"
)

// ProviderConfig is one entry in the `client_registry.clients` configuration
// surface (spec.md §6): a named, provider-typed LLM client.
type ProviderConfig struct {
	Name        string            `yaml:"name"`
	Provider    string            `yaml:"provider"` // "gemini" (default, real transport), "mock" (tests)
	Model       string            `yaml:"model"`
	APIKey      string            `yaml:"api_key"`
	Temperature float64           `yaml:"temperature"`
	MaxTokens   int               `yaml:"max_tokens"`
	Options     map[string]string `yaml:"options"`
}

func (c *ProviderConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "gemini"
	}
	if c.Model == "" {
		c.Model = "gemini-2.0-flash"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 2048
	}
}

func (c *ProviderConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("llm: client name cannot be empty")
	}
	switch c.Provider {
	case "gemini", "mock":
	default:
		return fmt.Errorf("llm: unsupported provider %q", c.Provider)
	}
	return nil
}

// RegistryConfig is the `client_registry` configuration surface: a primary
// client name plus the full set of named clients.
type RegistryConfig struct {
	Primary string           `yaml:"primary"`
	Clients []ProviderConfig `yaml:"clients"`
}

// Registry holds every configured named LLM client, mirroring hector's
// llms.LLMRegistry (root-level registry.go), generalized from hector's
// ollama/openai provider switch to BeamLens's gemini/mock switch.
type Registry struct {
	*registry.Base[Client]
	primary string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{Base: registry.New[Client]()}
}

// BuildFromConfig constructs and registers every configured client,
// returning the ready registry. factory selects the concrete constructor
// per provider type; production code passes NewGeminiClient, tests pass a
// stub.
func BuildFromConfig(cfg RegistryConfig, factory func(ProviderConfig) (Client, error)) (*Registry, error) {
	reg := NewRegistry()
	for _, c := range cfg.Clients {
		c.SetDefaults()
		if err := c.Validate(); err != nil {
			return nil, err
		}
		client, err := factory(c)
		if err != nil {
			return nil, fmt.Errorf("llm: build client %q: %w", c.Name, err)
		}
		if err := reg.Register(c.Name, client); err != nil {
			return nil, err
		}
	}

	primary := cfg.Primary
	if primary == "" && len(cfg.Clients) > 0 {
		primary = cfg.Clients[0].Name
	}
	if primary != "" {
		if _, ok := reg.Get(primary); !ok {
			return nil, fmt.Errorf("llm: primary client %q not found in client_registry.clients", primary)
		}
	}
	reg.primary = primary
	return reg, nil
}

// Primary returns the configured primary client.
func (r *Registry) Primary() (Client, error) {
	if r.primary == "" {
		return nil, fmt.Errorf("llm: no primary client configured")
	}
	client, ok := r.Get(r.primary)
	if !ok {
		return nil, fmt.Errorf("llm: primary client %q not registered", r.primary)
	}
	return client, nil
}
