package tts

import (
	"fmt"
	"sort"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-session-service/internal/config"
	"github.com/book-expert/tts-session-service/internal/core"
	"github.com/book-expert/tts-session-service/internal/voices"
)

const errFmtUnknownProvider = "%w: unknown provider %q (available: %s)"

// Registry maps provider names to providers.
type Registry struct {
	providers map[string]core.Provider
}

// NewRegistry creates a registry holding providers.
func NewRegistry(providers ...core.Provider) *Registry {
	registry := &Registry{providers: make(map[string]core.Provider, len(providers))}
	for _, provider := range providers {
		registry.Register(provider)
	}

	return registry
}

// NewDefaultRegistry builds every configured provider. The command provider
// is registered only when a command line is configured.
func NewDefaultRegistry(cfg config.ProvidersConfig, catalog *voices.Catalog, log *logger.Logger) (*Registry, error) {
	registry := NewRegistry(
		NewGTTSProvider(cfg.GTTS),
		NewSKTAXProvider(cfg.SKTAX, catalog),
		NewElevenLabsProvider(cfg.ElevenLabs, catalog),
		NewVoicevoxProvider(cfg.Voicevox),
		NewSupertoneProvider(cfg.Supertone),
	)

	if strings.TrimSpace(cfg.Command.Command) != "" {
		command, err := NewCommandProvider(cfg.Command, log)
		if err != nil {
			return nil, err
		}

		registry.Register(command)
	}

	return registry, nil
}

// Register adds or replaces a provider under its name.
func (r *Registry) Register(provider core.Provider) {
	r.providers[provider.Name()] = provider
}

// Get returns the named provider or a validation error.
func (r *Registry) Get(name string) (core.Provider, error) {
	provider, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf(errFmtUnknownProvider, core.ErrValidation, name, strings.Join(r.Names(), ", "))
	}

	return provider, nil
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
