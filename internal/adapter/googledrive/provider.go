package googledrive

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/skillre/mindmap-qoder/internal/adapter"
)

// Provider implements adapter.StoreProvider for Google Drive. The credential
// is an OAuth access token with the drive.file scope.
type Provider struct {
	baseFolderID string
	opts         []option.ClientOption
}

// NewProvider creates a new Google Drive provider rooted at baseFolderID.
func NewProvider(baseFolderID string, opts ...option.ClientOption) *Provider {
	return &Provider{baseFolderID: baseFolderID, opts: opts}
}

// GetAdapter returns a DriveAdapter authenticated with credential.
func (p *Provider) GetAdapter(ctx context.Context, credential string) (adapter.DocumentStore, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, adapter.Errorf(adapter.KindUnauthorized, "connect", "", "missing credential")
	}
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: credential, TokenType: "Bearer"}))

	storage, err := NewDriveAdapter(ctx, client, p.baseFolderID, p.opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive adapter: %w", err)
	}
	return storage, nil
}
