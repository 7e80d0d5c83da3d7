package adapter

import (
	"context"
)

// StoreProvider builds a DocumentStore bound to a credential.
type StoreProvider interface {
	// GetAdapter returns a DocumentStore authenticated with credential.
	GetAdapter(ctx context.Context, credential string) (DocumentStore, error)
}

// ProviderFunc adapts a function to StoreProvider.
type ProviderFunc func(ctx context.Context, credential string) (DocumentStore, error)

func (f ProviderFunc) GetAdapter(ctx context.Context, credential string) (DocumentStore, error) {
	return f(ctx, credential)
}
