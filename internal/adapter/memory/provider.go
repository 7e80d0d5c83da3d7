package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/skillre/mindmap-qoder/internal/adapter"
)

// DemoPrefix marks credentials served by the memory store.
const DemoPrefix = "demo-"

// IsDemoCredential reports whether credential belongs to a demo user.
func IsDemoCredential(credential string) bool {
	return strings.HasPrefix(credential, DemoPrefix)
}

// Provider hands out one MemoryAdapter per demo credential.
type Provider struct {
	client DynamoAPI
	stores map[string]*MemoryAdapter
	mu     sync.Mutex
}

// NewProvider creates a Provider. A nil client keeps documents in process.
func NewProvider(client DynamoAPI) *Provider {
	return &Provider{
		client: client,
		stores: make(map[string]*MemoryAdapter),
	}
}

func (p *Provider) GetAdapter(ctx context.Context, credential string) (adapter.DocumentStore, error) {
	if credential == "" {
		return nil, adapter.Errorf(adapter.KindUnauthorized, "connect", "", "missing credential")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.stores[credential]; !ok {
		p.stores[credential] = NewMemoryAdapter(p.client, credential)
	}
	return p.stores[credential], nil
}
