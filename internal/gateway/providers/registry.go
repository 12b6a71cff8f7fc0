package providers

import (
	"fmt"

	"github.com/lessonloom/gateway/internal/shared/config"
)

// Registry holds the configured providers, keyed by name. There is no
// failover between providers here: a failed call is the broker's problem
// and routes to the fallback bank.
type Registry struct {
	text  map[string]TextProvider
	image map[string]ImageProvider
}

// NewRegistry initializes providers based on available API keys.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{
		text:  make(map[string]TextProvider),
		image: make(map[string]ImageProvider),
	}

	if cfg.OpenAIAPIKey != "" {
		p := NewOpenAIProvider(cfg.OpenAIAPIKey)
		r.text[p.Name()] = p
		r.image[p.Name()] = p
	}
	if cfg.AnthropicAPIKey != "" {
		p := NewAnthropicProvider(cfg.AnthropicAPIKey)
		r.text[p.Name()] = p
	}

	return r
}

// RegisterText adds a text provider. Used by tests and custom wiring.
func (r *Registry) RegisterText(p TextProvider) {
	r.text[p.Name()] = p
}

// RegisterImage adds an image provider.
func (r *Registry) RegisterImage(p ImageProvider) {
	r.image[p.Name()] = p
}

// Text returns the text provider with the given name.
func (r *Registry) Text(name string) (TextProvider, error) {
	p, ok := r.text[name]
	if !ok {
		return nil, fmt.Errorf("text provider %s not configured (check API key)", name)
	}
	return p, nil
}

// Image returns the image provider with the given name.
func (r *Registry) Image(name string) (ImageProvider, error) {
	p, ok := r.image[name]
	if !ok {
		return nil, fmt.Errorf("image provider %s not configured (check API key)", name)
	}
	return p, nil
}

// HasText reports whether any text provider is configured.
func (r *Registry) HasText() bool { return len(r.text) > 0 }
