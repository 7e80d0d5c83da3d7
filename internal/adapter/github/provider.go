package github

import (
	"context"
	"strings"

	"github.com/skillre/mindmap-qoder/internal/adapter"
)

// Provider builds a Store per credential. It keeps no per-user state.
type Provider struct {
	opts Options
}

// NewProvider creates a Provider. opts apply to every Store it builds.
func NewProvider(opts Options) *Provider {
	return &Provider{opts: opts}
}

func (p *Provider) GetAdapter(ctx context.Context, credential string) (adapter.DocumentStore, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, adapter.Errorf(adapter.KindUnauthorized, "connect", "", "missing credential")
	}
	return NewStore(credential, p.opts), nil
}
