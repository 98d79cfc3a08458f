package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrNoProvider is returned when a model cannot be routed to any
// registered provider.
var ErrNoProvider = errors.New("no provider configured")

// MultiClient routes requests to a provider by model name. Models that
// were never mapped go to the fallback; a model mapped to a provider
// that was never registered is an error rather than a silent reroute.
type MultiClient struct {
	clients  map[string]Client // provider name → client
	models   map[string]string // model name → provider name
	fallback Client
}

// NewMultiClient creates a router whose unmapped models go to fallback.
func NewMultiClient(fallback Client) *MultiClient {
	return &MultiClient{
		clients:  make(map[string]Client),
		models:   make(map[string]string),
		fallback: fallback,
	}
}

// AddProvider registers a client for a provider name.
func (m *MultiClient) AddProvider(name string, client Client) {
	m.clients[name] = client
}

// AddModel maps a model name to a provider.
func (m *MultiClient) AddModel(modelName, providerName string) {
	m.models[modelName] = providerName
}

// Route reports which provider serves model. Unmapped models report
// "fallback". Startup calls it for the default model so a provider
// without credentials fails before the first turn.
func (m *MultiClient) Route(model string) (string, Client, error) {
	provider, mapped := m.models[model]
	if !mapped {
		if m.fallback == nil {
			return "", nil, fmt.Errorf("model %q: %w", model, ErrNoProvider)
		}
		return "fallback", m.fallback, nil
	}
	client, ok := m.clients[provider]
	if !ok {
		return provider, nil, fmt.Errorf("model %q wants provider %q: %w", model, provider, ErrNoProvider)
	}
	return provider, client, nil
}

// Chat sends a request to the provider serving model.
func (m *MultiClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	_, client, err := m.Route(model)
	if err != nil {
		return nil, err
	}
	return client.Chat(ctx, model, messages, tools)
}

// Ping checks every registered provider and the fallback, joining the
// failures. A client registered under several names is pinged once.
func (m *MultiClient) Ping(ctx context.Context) error {
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	sort.Strings(names)

	seen := make(map[Client]bool, len(names)+1)
	var errs []error
	ping := func(name string, c Client) {
		if c == nil || seen[c] {
			return
		}
		seen[c] = true
		if err := c.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	for _, name := range names {
		ping(name, m.clients[name])
	}
	ping("fallback", m.fallback)

	if len(seen) == 0 {
		return ErrNoProvider
	}
	return errors.Join(errs...)
}
