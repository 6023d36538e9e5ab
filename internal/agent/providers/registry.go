package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tsparklabs/tspark/internal/backoff"
	"github.com/tsparklabs/tspark/pkg/models"
)

// Provider identifiers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
)

// ErrUnknownProvider reports a provider ID outside the supported set.
var ErrUnknownProvider = errors.New("unknown provider")

// ErrNotInstalled reports a provider without stored credentials.
var ErrNotInstalled = errors.New("provider not installed")

// descriptors is the static catalog of supported providers.
var descriptors = []Descriptor{
	{
		ID:          ProviderAnthropic,
		Name:        "Anthropic",
		Description: "Claude models via the Anthropic Messages API",
		URL:         "https://console.anthropic.com",
		ConfigValues: []ConfigValue{
			{Key: "apiKey", Caption: "API key", Required: true, Secret: true},
		},
	},
	{
		ID:          ProviderOpenAI,
		Name:        "OpenAI",
		Description: "GPT models via the OpenAI chat completions API",
		URL:         "https://platform.openai.com",
		ConfigValues: []ConfigValue{
			{Key: "apiKey", Caption: "API key", Required: true, Secret: true},
		},
	},
	{
		ID:          ProviderGoogle,
		Name:        "Google",
		Description: "Gemini models via the Google Gen AI API",
		URL:         "https://aistudio.google.com",
		ConfigValues: []ConfigValue{
			{Key: "apiKey", Caption: "API key", Required: true, Secret: true},
		},
	},
}

// Registry creates adapters for installed providers and answers catalog
// queries.
type Registry struct {
	creds      CredentialSource
	dispatcher Dispatcher
	logger     *slog.Logger
	timeout    time.Duration
	policy     backoff.Policy
}

// RegistryOption customizes a registry.
type RegistryOption func(*Registry)

// WithCallTimeout overrides the per-generation watchdog.
func WithCallTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.timeout = d }
}

// WithRetryPolicy overrides the provider-call retry backoff.
func WithRetryPolicy(p backoff.Policy) RegistryOption {
	return func(r *Registry) { r.policy = p }
}

// NewRegistry builds a registry over a credential source and tool
// dispatcher.
func NewRegistry(creds CredentialSource, dispatcher Dispatcher, logger *slog.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		creds:      creds,
		dispatcher: dispatcher,
		logger:     logger.With("component", "providers"),
		policy:     backoff.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Descriptors returns every supported provider.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, len(descriptors))
	copy(out, descriptors)
	return out
}

// Descriptor returns one provider's descriptor.
func (r *Registry) Descriptor(pid string) (Descriptor, bool) {
	for _, d := range descriptors {
		if d.ID == pid {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Installed returns the descriptors of providers with stored credentials.
func (r *Registry) Installed() []Descriptor {
	var out []Descriptor
	for _, d := range descriptors {
		if r.creds.IsInstalled(d.ID) {
			out = append(out, d)
		}
	}
	return out
}

func (r *Registry) apiKey(pid string) (string, error) {
	if _, ok := r.Descriptor(pid); !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProvider, pid)
	}
	if !r.creds.IsInstalled(pid) {
		return "", fmt.Errorf("%w: %s", ErrNotInstalled, pid)
	}
	key, ok := r.creds.GetProviderCredential(pid, "apiKey")
	if !ok || key == "" {
		return "", fmt.Errorf("%w: %s has no apiKey", ErrNotInstalled, pid)
	}
	return key, nil
}

func (r *Registry) loopConfig(pid string) loopConfig {
	return loopConfig{
		providerID: pid,
		dispatcher: r.dispatcher,
		logger:     r.logger,
		timeout:    r.timeout,
		policy:     r.policy,
	}
}

// CreateAdapter builds an adapter for an installed provider and model.
func (r *Registry) CreateAdapter(ctx context.Context, pid, modelID string) (Adapter, error) {
	key, err := r.apiKey(pid)
	if err != nil {
		return nil, err
	}
	switch pid {
	case ProviderAnthropic:
		return newAnthropicAdapter(key, modelID, r.loopConfig(pid)), nil
	case ProviderOpenAI:
		return newOpenAIAdapter(key, modelID, r.loopConfig(pid)), nil
	case ProviderGoogle:
		return newGoogleAdapter(ctx, key, modelID, r.loopConfig(pid))
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, pid)
}

// ListModels returns the models a provider offers. Anthropic and Google use
// static catalogs; OpenAI is fetched live since its model set churns.
func (r *Registry) ListModels(ctx context.Context, pid string) ([]models.Model, error) {
	switch pid {
	case ProviderAnthropic:
		return anthropicModels(), nil
	case ProviderGoogle:
		return googleModels(), nil
	case ProviderOpenAI:
		key, err := r.apiKey(pid)
		if err != nil {
			return nil, err
		}
		return openaiListModels(ctx, key)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, pid)
}
