// Package document ties the codec, the naming policy and the version
// tracker to a DocumentStore.
package document

import (
	"context"
	"encoding/json"
	"errors"
	"path"

	"github.com/hashicorp/go-hclog"

	"github.com/skillre/mindmap-qoder/internal/adapter"
	"github.com/skillre/mindmap-qoder/internal/clock"
	"github.com/skillre/mindmap-qoder/internal/codec"
	"github.com/skillre/mindmap-qoder/internal/naming"
	"github.com/skillre/mindmap-qoder/internal/revision"
)

const (
	// SaveMessage is the default commit message for writes.
	SaveMessage = "保存思维导图文件"

	// DeleteMessage is the default commit message for deletes.
	DeleteMessage = "删除思维导图文件"
)

// Config configures a Service.
type Config struct {
	Store adapter.DocumentStore
	Repo  adapter.RepositoryRef

	// Author is recorded on new documents. Defaults to Repo.Owner.
	Author string

	Clock  clock.Clock
	Logger hclog.Logger
}

// Service performs document operations for one repository.
type Service struct {
	store  adapter.DocumentStore
	repo   adapter.RepositoryRef
	author string
	codec  *codec.Codec
	clock  clock.Clock
	logger hclog.Logger
}

// NewService creates a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("document store is required")
	}
	if cfg.Repo.Owner == "" || cfg.Repo.Name == "" {
		return nil, adapter.Errorf(adapter.KindBadRequest, "", "", "repository owner and name are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	if cfg.Author == "" {
		cfg.Author = cfg.Repo.Owner
	}
	return &Service{
		store:  cfg.Store,
		repo:   cfg.Repo,
		author: cfg.Author,
		codec:  codec.New(cfg.Clock),
		clock:  cfg.Clock,
		logger: cfg.Logger.Named("document"),
	}, nil
}

// Repo returns the repository the service operates on.
func (s *Service) Repo() adapter.RepositoryRef { return s.repo }

// List lists documents under dir, or under the document root when dir is empty.
func (s *Service) List(ctx context.Context, dir string) ([]adapter.StoreEntry, error) {
	if dir == "" {
		dir = naming.DocumentRoot
	}
	return s.store.ListDocuments(ctx, s.repo, dir)
}

// Open reads the document at p and starts tracking its token.
func (s *Service) Open(ctx context.Context, p string) (*revision.Tracker, error) {
	env, token, err := s.store.ReadDocument(ctx, s.repo, p)
	if err != nil {
		return nil, err
	}
	return revision.Opened(p, token, env), nil
}

// Resume tracks p at a token the caller already holds, such as one a
// browser kept between requests. An empty token tracks a new document. The
// remote document is read so its creation metadata survives the next save;
// a token that no longer matches is reported as a conflict without writing.
func (s *Service) Resume(ctx context.Context, p, token string) (*revision.Tracker, error) {
	if token == "" {
		return revision.New(p), nil
	}
	env, remote, err := s.store.ReadDocument(ctx, s.repo, p)
	switch {
	case errors.Is(err, adapter.ErrNotFound):
		return nil, adapter.Errorf(adapter.KindConflict, "save", p, "document no longer exists")
	case errors.Is(err, codec.ErrMalformed):
		// Unreadable content can still be replaced by a writer holding its token.
		return revision.Opened(p, token, nil), nil
	case err != nil:
		return nil, err
	}
	if revision.CheckConflict(token, remote) {
		return nil, adapter.Errorf(adapter.KindConflict, "save", p, "document was changed remotely")
	}
	return revision.Opened(p, remote, env), nil
}

// Create returns a tracker for a new document named after title. Nothing is
// written until the first Save.
func (s *Service) Create(title string) *revision.Tracker {
	return revision.New(naming.DefaultPath(title, s.clock.Now()))
}

// Save writes payload to the tracked document. On success the tracker moves
// to the returned token; on failure the token is left untouched.
func (s *Service) Save(ctx context.Context, tr *revision.Tracker, payload json.RawMessage, message string) (*adapter.WriteResult, error) {
	tk, err := tr.Begin()
	if err != nil {
		return nil, err
	}

	env, err := s.codec.Wrap(payload, tk.Prior, s.author)
	if err != nil {
		tr.Fail(tk, err)
		return nil, &adapter.Error{Kind: adapter.KindBadRequest, Op: "save", Path: tk.Path, Err: err}
	}
	if message == "" {
		message = SaveMessage
	}

	res, err := s.store.WriteDocument(ctx, s.repo, tk.Path, env, adapter.WriteOptions{
		ExpectedToken: tk.Expected,
		Message:       message,
	})
	if err != nil {
		tr.Fail(tk, err)
		s.logger.Warn("save failed", "path", tk.Path, "kind", adapter.KindOf(err), "error", err)
		return nil, err
	}
	if !tr.Complete(tk, res.Token, env) {
		s.logger.Debug("discarding write result for retargeted document", "path", tk.Path)
	}
	s.logger.Debug("saved", "path", tk.Path, "sha", res.Token)
	return res, nil
}

// Reload re-reads the tracked document and adopts the remote token. It is
// the only way out of the conflicted state.
func (s *Service) Reload(ctx context.Context, tr *revision.Tracker) (*codec.Envelope, error) {
	env, token, err := s.store.ReadDocument(ctx, s.repo, tr.Path())
	if err != nil {
		return nil, err
	}
	if err := tr.Refresh(token, env); err != nil {
		return nil, err
	}
	return env, nil
}

// Delete removes the tracked document using its token.
func (s *Service) Delete(ctx context.Context, tr *revision.Tracker, message string) error {
	tk, err := tr.BeginDelete()
	if err != nil {
		return err
	}
	if message == "" {
		message = DeleteMessage
	}
	err = s.store.DeleteDocument(ctx, s.repo, tk.Path, tk.Expected, adapter.DeleteOptions{Message: message})
	if err != nil {
		tr.Fail(tk, err)
		s.logger.Warn("delete failed", "path", tk.Path, "kind", adapter.KindOf(err), "error", err)
		return err
	}
	tr.CompleteDelete(tk)
	return nil
}

// CheckResult compares a tracked token with the remote listing.
type CheckResult struct {
	Path        string `json:"path"`
	LocalToken  string `json:"localSha"`
	RemoteToken string `json:"remoteSha"`
	Conflict    bool   `json:"conflict"`
}

// Check looks up the remote token of the tracked document without reading it.
func (s *Service) Check(ctx context.Context, tr *revision.Tracker) (*CheckResult, error) {
	p := tr.Path()
	entries, err := s.store.ListDocuments(ctx, s.repo, path.Dir(p))
	if err != nil {
		return nil, err
	}
	res := &CheckResult{Path: p, LocalToken: tr.Token()}
	for _, e := range entries {
		if e.Path == p {
			res.RemoteToken = e.Token
			break
		}
	}
	res.Conflict = revision.CheckConflict(res.LocalToken, res.RemoteToken)
	return res, nil
}
