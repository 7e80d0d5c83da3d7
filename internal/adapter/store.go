package adapter

import (
	"context"
	"time"

	"github.com/skillre/mindmap-qoder/internal/codec"
)

// DefaultBranch is used when a RepositoryRef carries no branch.
const DefaultBranch = "main"

// RepositoryRef identifies the remote container of documents.
type RepositoryRef struct {
	Owner  string `json:"owner"`
	Name   string `json:"repo"`
	Branch string `json:"branch,omitempty"`
}

// Ref returns the branch, defaulting to DefaultBranch.
func (r RepositoryRef) Ref() string {
	if r.Branch == "" {
		return DefaultBranch
	}
	return r.Branch
}

// FullName returns "owner/name".
func (r RepositoryRef) FullName() string {
	return r.Owner + "/" + r.Name
}

// StoreEntry is a listing record: a snapshot of remote state at list time.
type StoreEntry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Token       string `json:"sha"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// IdentitySummary is the minimal identity behind a credential.
type IdentitySummary struct {
	Login     string `json:"username"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar"`
}

// Repository is a container the credential can see.
type Repository struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	FullName    string    `json:"fullName"`
	Owner       string    `json:"owner"`
	Private     bool      `json:"private"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Branch is a named ref of a repository.
type Branch struct {
	Name      string `json:"name"`
	SHA       string `json:"sha"`
	Protected bool   `json:"protected"`
}

// WriteOptions controls WriteDocument.
type WriteOptions struct {
	// ExpectedToken must be the token of the remote content being replaced.
	// Empty means "create new, do not overwrite".
	ExpectedToken string
	Message       string
}

// WriteResult is returned by a successful write.
type WriteResult struct {
	Token   string `json:"sha"`
	HTMLURL string `json:"htmlUrl,omitempty"`
}

// DeleteOptions controls DeleteDocument.
type DeleteOptions struct {
	Message string
}

// DocumentStore translates document operations into calls against one
// remote host. A DocumentStore is bound to a single credential and holds no
// mutable state of its own; it never retries.
type DocumentStore interface {
	// VerifyCredential confirms the credential is accepted. Failures are
	// reported as KindUnauthorized.
	VerifyCredential(ctx context.Context) (*IdentitySummary, error)

	// ListRepositories lists repositories visible to the credential.
	// visibility is one of all, owner, private, public.
	ListRepositories(ctx context.Context, visibility string) ([]Repository, error)

	// ListBranches lists the branches of repo.
	ListBranches(ctx context.Context, repo RepositoryRef) ([]Branch, error)

	// ListDocuments lists documents under dir. A missing directory yields an
	// empty slice and a nil error.
	ListDocuments(ctx context.Context, repo RepositoryRef, dir string) ([]StoreEntry, error)

	// ReadDocument fetches and decodes the document at path and returns it
	// with its version token.
	ReadDocument(ctx context.Context, repo RepositoryRef, path string) (*codec.Envelope, string, error)

	// WriteDocument creates or updates the document at path. The write is
	// rejected with KindConflict when opts.ExpectedToken no longer matches, or
	// when it is empty and the path already exists.
	WriteDocument(ctx context.Context, repo RepositoryRef, path string, env *codec.Envelope, opts WriteOptions) (*WriteResult, error)

	// DeleteDocument removes the document at path. token is required.
	DeleteDocument(ctx context.Context, repo RepositoryRef, path, token string, opts DeleteOptions) error
}
