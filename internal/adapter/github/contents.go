package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/skillre/mindmap-qoder/internal/adapter"
	"github.com/skillre/mindmap-qoder/internal/codec"
	"github.com/skillre/mindmap-qoder/internal/naming"
)

type contentItem struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Path        string `json:"path"`
	SHA         string `json:"sha"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"download_url"`
	HTMLURL     string `json:"html_url"`
	Content     string `json:"content"`
	Encoding    string `json:"encoding"`
}

type writeRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch"`
	SHA     string `json:"sha,omitempty"`
}

type deleteRequest struct {
	Message string `json:"message"`
	SHA     string `json:"sha"`
	Branch  string `json:"branch"`
}

type writeResponse struct {
	Content contentItem `json:"content"`
}

// Store is a DocumentStore bound to one credential.
type Store struct {
	client *Client
}

// NewStore creates a Store for credential.
func NewStore(credential string, opts Options) *Store {
	return &Store{client: NewClient(credential, opts)}
}

func contentsPath(repo adapter.RepositoryRef, p string) string {
	return fmt.Sprintf("/repos/%s/%s/contents/%s", url.PathEscape(repo.Owner), url.PathEscape(repo.Name), escapePath(p))
}

func refQuery(repo adapter.RepositoryRef) url.Values {
	return url.Values{"ref": {repo.Ref()}}
}

func requireRepo(op, p string, repo adapter.RepositoryRef) error {
	if repo.Owner == "" || repo.Name == "" {
		return adapter.Errorf(adapter.KindBadRequest, op, p, "repository owner and name are required")
	}
	return nil
}

func (s *Store) VerifyCredential(ctx context.Context) (*adapter.IdentitySummary, error) {
	var user struct {
		Login     string `json:"login"`
		Name      string `json:"name"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := s.client.do(ctx, http.MethodGet, "/user", nil, nil, &user); err != nil {
		return nil, &adapter.Error{Kind: adapter.KindUnauthorized, Op: "verify", Message: "credential rejected", Err: err}
	}
	if user.Login == "" {
		return nil, adapter.Errorf(adapter.KindUnauthorized, "verify", "", "credential has no identity")
	}
	if user.Name == "" {
		user.Name = user.Login
	}
	return &adapter.IdentitySummary{Login: user.Login, Name: user.Name, AvatarURL: user.AvatarURL}, nil
}

func (s *Store) ListRepositories(ctx context.Context, visibility string) ([]adapter.Repository, error) {
	switch visibility {
	case "":
		visibility = "all"
	case "all", "owner", "private", "public", "member":
	default:
		return nil, adapter.Errorf(adapter.KindBadRequest, "repositories", "", "unknown repository type %q", visibility)
	}

	var out []struct {
		ID          int64  `json:"id"`
		Name        string `json:"name"`
		FullName    string `json:"full_name"`
		Private     bool   `json:"private"`
		Description string `json:"description"`
		Owner       struct {
			Login string `json:"login"`
		} `json:"owner"`
		Updated string `json:"updated_at"`
	}
	q := url.Values{
		"type":     {visibility},
		"sort":     {"updated"},
		"per_page": {"100"},
	}
	if err := s.client.do(ctx, http.MethodGet, "/user/repos", q, nil, &out); err != nil {
		return nil, classify("repositories", "", err, false)
	}

	repos := make([]adapter.Repository, 0, len(out))
	for _, r := range out {
		updated, _ := time.Parse(time.RFC3339, r.Updated)
		repos = append(repos, adapter.Repository{
			ID:          r.ID,
			Name:        r.Name,
			FullName:    r.FullName,
			Owner:       r.Owner.Login,
			Private:     r.Private,
			Description: r.Description,
			UpdatedAt:   updated,
		})
	}
	return repos, nil
}

func (s *Store) ListBranches(ctx context.Context, repo adapter.RepositoryRef) ([]adapter.Branch, error) {
	if err := requireRepo("branches", "", repo); err != nil {
		return nil, err
	}
	var out []struct {
		Name   string `json:"name"`
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
		Protected bool `json:"protected"`
	}
	p := fmt.Sprintf("/repos/%s/%s/branches", url.PathEscape(repo.Owner), url.PathEscape(repo.Name))
	if err := s.client.do(ctx, http.MethodGet, p, url.Values{"per_page": {"100"}}, nil, &out); err != nil {
		return nil, classify("branches", "", err, false)
	}
	branches := make([]adapter.Branch, 0, len(out))
	for _, b := range out {
		branches = append(branches, adapter.Branch{Name: b.Name, SHA: b.Commit.SHA, Protected: b.Protected})
	}
	return branches, nil
}

func (s *Store) ListDocuments(ctx context.Context, repo adapter.RepositoryRef, dir string) ([]adapter.StoreEntry, error) {
	if err := requireRepo("list", dir, repo); err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := s.client.do(ctx, http.MethodGet, contentsPath(repo, dir), refQuery(repo), nil, &raw); err != nil {
		cerr := classify("list", dir, err, false)
		if adapter.KindOf(cerr) == adapter.KindNotFound {
			return []adapter.StoreEntry{}, nil
		}
		return nil, cerr
	}

	entries := []adapter.StoreEntry{}
	var items []contentItem
	// A file path yields an object rather than an array.
	if err := json.Unmarshal(raw, &items); err != nil {
		return entries, nil
	}
	for _, it := range items {
		if it.Type != "file" || !strings.HasSuffix(it.Name, naming.Ext) {
			continue
		}
		entries = append(entries, adapter.StoreEntry{
			Name:        it.Name,
			Path:        it.Path,
			Token:       it.SHA,
			Size:        it.Size,
			DownloadURL: it.DownloadURL,
		})
	}
	return entries, nil
}

func (s *Store) ReadDocument(ctx context.Context, repo adapter.RepositoryRef, p string) (*codec.Envelope, string, error) {
	if err := requireRepo("read", p, repo); err != nil {
		return nil, "", err
	}
	if p == "" {
		return nil, "", adapter.Errorf(adapter.KindBadRequest, "read", p, "path is required")
	}

	var raw json.RawMessage
	if err := s.client.do(ctx, http.MethodGet, contentsPath(repo, p), refQuery(repo), nil, &raw); err != nil {
		return nil, "", classify("read", p, err, false)
	}
	var item contentItem
	if err := json.Unmarshal(raw, &item); err != nil || item.Type != "file" {
		return nil, "", adapter.Errorf(adapter.KindBadRequest, "read", p, "path is not a file")
	}
	if item.Encoding != "" && item.Encoding != "base64" {
		return nil, "", adapter.Errorf(adapter.KindUpstream, "read", p, "unsupported content encoding %q", item.Encoding)
	}

	env, err := codec.New(nil).Decode([]byte(item.Content))
	if err != nil {
		return nil, "", &adapter.Error{Kind: adapter.KindDecode, Op: "read", Path: p, Err: err}
	}
	return env, item.SHA, nil
}

func (s *Store) WriteDocument(ctx context.Context, repo adapter.RepositoryRef, p string, env *codec.Envelope, opts adapter.WriteOptions) (*adapter.WriteResult, error) {
	if err := requireRepo("write", p, repo); err != nil {
		return nil, err
	}
	if p == "" || env == nil {
		return nil, adapter.Errorf(adapter.KindBadRequest, "write", p, "path and document are required")
	}
	text, err := codec.MarshalEnvelope(env)
	if err != nil {
		return nil, &adapter.Error{Kind: adapter.KindBadRequest, Op: "write", Path: p, Err: err}
	}

	body := writeRequest{
		Message: opts.Message,
		Content: string(codec.EncodeTransport(text)),
		Branch:  repo.Ref(),
		SHA:     opts.ExpectedToken,
	}
	var out writeResponse
	if err := s.client.do(ctx, http.MethodPut, contentsPath(repo, p), nil, body, &out); err != nil {
		return nil, classify("write", p, err, opts.ExpectedToken != "")
	}
	if out.Content.SHA == "" {
		return nil, adapter.Errorf(adapter.KindUpstream, "write", p, "response carried no version token")
	}
	return &adapter.WriteResult{Token: out.Content.SHA, HTMLURL: out.Content.HTMLURL}, nil
}

func (s *Store) DeleteDocument(ctx context.Context, repo adapter.RepositoryRef, p, token string, opts adapter.DeleteOptions) error {
	if err := requireRepo("delete", p, repo); err != nil {
		return err
	}
	if p == "" || token == "" {
		return adapter.Errorf(adapter.KindBadRequest, "delete", p, "path and version token are required")
	}
	body := deleteRequest{Message: opts.Message, SHA: token, Branch: repo.Ref()}
	if err := s.client.do(ctx, http.MethodDelete, contentsPath(repo, p), nil, body, nil); err != nil {
		return classify("delete", p, err, true)
	}
	return nil
}
