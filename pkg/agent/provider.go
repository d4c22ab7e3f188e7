package agent

import (
	"context"
	"fmt"
)

// Provider is the outbound port to a model API. Implementations
// translate the neutral request into native wire formats and back.
type Provider interface {
	// Converse makes one model call. At most one tool call comes back.
	Converse(ctx context.Context, request ConverseRequest) (*Turn, error)

	// Name returns the provider name.
	Name() string
}

// ProviderCreator builds providers from auth profiles.
type ProviderCreator interface {
	NewProvider(profile Profile) (Provider, error)
}

// ProviderFactory is the default ProviderCreator over the built-in
// provider set.
type ProviderFactory struct{}

// NewProvider creates a provider for the profile.
func (f *ProviderFactory) NewProvider(profile Profile) (Provider, error) {
	switch profile.Provider {
	case "anthropic":
		return NewAnthropicProvider(profile.APIKey), nil
	case "openai":
		return NewOpenAIProvider(profile.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}
