package googledrive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/skillre/mindmap-qoder/internal/adapter"
	"github.com/skillre/mindmap-qoder/internal/codec"
	"github.com/skillre/mindmap-qoder/internal/naming"
)

const (
	folderMIME = "application/vnd.google-apps.folder"
	jsonMIME   = "application/json"
	fileFields = "id, name, mimeType, modifiedTime, size, version, parents"
)

// tokenOf returns the version token of a Drive file. Drive bumps version on
// every change, so the token moves on every successful write.
func tokenOf(f *drive.File) string {
	if f == nil || f.Version == 0 {
		return ""
	}
	return strconv.FormatInt(f.Version, 10)
}

// escapeQuery quotes a value for use inside a Drive query string literal.
func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

// splitPath returns the folder segments and file name of p.
func splitPath(p string) ([]string, string) {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" {
		return nil, ""
	}
	dir, name := path.Split(p)
	dir = strings.Trim(dir, "/")
	if dir == "" {
		return nil, name
	}
	return strings.Split(dir, "/"), name
}

// DriveAdapter implements adapter.DocumentStore for Google Drive. A
// repository is a folder under the base folder; document directories are
// nested folders and the branch is ignored.
type DriveAdapter struct {
	service      *drive.Service
	BaseFolderID string
}

// NewDriveAdapter creates a new DriveAdapter.
// client should be an authenticated http.Client with specific user credentials.
func NewDriveAdapter(ctx context.Context, client *http.Client, baseFolderID string, opts ...option.ClientOption) (*DriveAdapter, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Drive client: %w", err)
	}
	if baseFolderID == "" {
		baseFolderID = "root"
	}
	return &DriveAdapter{service: srv, BaseFolderID: baseFolderID}, nil
}

func (d *DriveAdapter) VerifyCredential(ctx context.Context) (*adapter.IdentitySummary, error) {
	about, err := d.service.About.Get().Fields("user").Context(ctx).Do()
	if err != nil || about.User == nil {
		return nil, &adapter.Error{Kind: adapter.KindUnauthorized, Op: "verify", Message: "credential rejected", Err: err}
	}
	login := about.User.EmailAddress
	if login == "" {
		login = about.User.PermissionId
	}
	name := about.User.DisplayName
	if name == "" {
		name = login
	}
	return &adapter.IdentitySummary{Login: login, Name: name, AvatarURL: about.User.PhotoLink}, nil
}

// ListRepositories lists the folders under the base folder.
func (d *DriveAdapter) ListRepositories(ctx context.Context, visibility string) ([]adapter.Repository, error) {
	if visibility == "public" {
		return []adapter.Repository{}, nil
	}
	q := fmt.Sprintf("'%s' in parents and mimeType = '%s' and trashed = false", escapeQuery(d.BaseFolderID), folderMIME)
	r, err := d.service.Files.List().
		Q(q).
		Fields(googleapi.Field("files(" + fileFields + ")")).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify("repositories", "", err)
	}

	repos := make([]adapter.Repository, 0, len(r.Files))
	for _, f := range r.Files {
		modTime, _ := time.Parse(time.RFC3339, f.ModifiedTime)
		repos = append(repos, adapter.Repository{
			Name:      f.Name,
			FullName:  f.Name,
			Private:   true,
			UpdatedAt: modTime,
		})
	}
	return repos, nil
}

// ListBranches reports the single implicit branch.
func (d *DriveAdapter) ListBranches(ctx context.Context, repo adapter.RepositoryRef) ([]adapter.Branch, error) {
	if repo.Name == "" {
		return nil, adapter.Errorf(adapter.KindBadRequest, "branches", "", "repository name is required")
	}
	return []adapter.Branch{{Name: adapter.DefaultBranch}}, nil
}

func (d *DriveAdapter) ListDocuments(ctx context.Context, repo adapter.RepositoryRef, dir string) ([]adapter.StoreEntry, error) {
	if repo.Name == "" {
		return nil, adapter.Errorf(adapter.KindBadRequest, "list", dir, "repository name is required")
	}
	segments, last := splitPath(dir)
	if last != "" {
		segments = append(segments, last)
	}
	folderID, err := d.resolveFolder(ctx, repo, segments, false)
	if adapter.KindOf(err) == adapter.KindNotFound {
		return []adapter.StoreEntry{}, nil
	}
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf("'%s' in parents and mimeType != '%s' and trashed = false", escapeQuery(folderID), folderMIME)
	r, err := d.service.Files.List().
		Q(q).
		Fields(googleapi.Field("files(" + fileFields + ")")).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify("list", dir, err)
	}

	prefix := strings.Join(segments, "/")
	entries := []adapter.StoreEntry{}
	for _, f := range r.Files {
		if !strings.HasSuffix(f.Name, naming.Ext) {
			continue
		}
		entries = append(entries, adapter.StoreEntry{
			Name:  f.Name,
			Path:  path.Join(prefix, f.Name),
			Token: tokenOf(f),
			Size:  f.Size,
		})
	}
	return entries, nil
}

func (d *DriveAdapter) ReadDocument(ctx context.Context, repo adapter.RepositoryRef, p string) (*codec.Envelope, string, error) {
	f, err := d.findFile(ctx, "read", repo, p)
	if err != nil {
		return nil, "", err
	}
	if f == nil {
		return nil, "", adapter.Errorf(adapter.KindNotFound, "read", p, "document not found")
	}

	resp, err := d.service.Files.Get(f.Id).Context(ctx).Download()
	if err != nil {
		return nil, "", classify("read", p, err)
	}
	defer resp.Body.Close()
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", classify("read", p, err)
	}

	env, err := codec.UnmarshalEnvelope(content)
	if err != nil {
		return nil, "", &adapter.Error{Kind: adapter.KindDecode, Op: "read", Path: p, Err: err}
	}
	return env, tokenOf(f), nil
}

// WriteDocument compares the expected token with the current file version
// and sends the update with an If-Match precondition.
func (d *DriveAdapter) WriteDocument(ctx context.Context, repo adapter.RepositoryRef, p string, env *codec.Envelope, opts adapter.WriteOptions) (*adapter.WriteResult, error) {
	if env == nil {
		return nil, adapter.Errorf(adapter.KindBadRequest, "write", p, "document is required")
	}
	content, err := codec.MarshalEnvelope(env)
	if err != nil {
		return nil, &adapter.Error{Kind: adapter.KindBadRequest, Op: "write", Path: p, Err: err}
	}

	cur, err := d.findFile(ctx, "write", repo, p)
	if err != nil {
		return nil, err
	}
	switch {
	case cur == nil && opts.ExpectedToken != "":
		return nil, adapter.Errorf(adapter.KindConflict, "write", p, "document no longer exists")
	case cur != nil && opts.ExpectedToken == "":
		return nil, adapter.Errorf(adapter.KindConflict, "write", p, "document already exists; a version token is required to overwrite it")
	case cur != nil && tokenOf(cur) != opts.ExpectedToken:
		return nil, adapter.Errorf(adapter.KindConflict, "write", p, "version token does not match")
	}

	if cur == nil {
		segments, name := splitPath(p)
		folderID, err := d.resolveFolder(ctx, repo, segments, true)
		if err != nil {
			return nil, err
		}
		res, err := d.service.Files.Create(&drive.File{Name: name, MimeType: jsonMIME, Parents: []string{folderID}}).
			Media(bytes.NewReader(content), googleapi.ContentType(jsonMIME)).
			SupportsAllDrives(true).
			Fields(fileFields).
			Context(ctx).
			Do()
		if err != nil {
			return nil, classify("write", p, err)
		}
		return &adapter.WriteResult{Token: tokenOf(res)}, nil
	}

	call := d.service.Files.Update(cur.Id, &drive.File{}).
		Media(bytes.NewReader(content), googleapi.ContentType(jsonMIME)).
		SupportsAllDrives(true).
		Fields(fileFields).
		Context(ctx)
	call.Header().Set("If-Match", opts.ExpectedToken)

	res, err := call.Do()
	if err != nil {
		cerr := classify("write", p, err)
		if adapter.KindOf(cerr) == adapter.KindNotFound {
			return nil, adapter.Errorf(adapter.KindConflict, "write", p, "document no longer exists")
		}
		return nil, cerr
	}
	return &adapter.WriteResult{Token: tokenOf(res)}, nil
}

func (d *DriveAdapter) DeleteDocument(ctx context.Context, repo adapter.RepositoryRef, p, token string, opts adapter.DeleteOptions) error {
	if token == "" {
		return adapter.Errorf(adapter.KindBadRequest, "delete", p, "version token is required")
	}
	cur, err := d.findFile(ctx, "delete", repo, p)
	if err != nil {
		return err
	}
	if cur == nil {
		return adapter.Errorf(adapter.KindNotFound, "delete", p, "document not found")
	}
	if tokenOf(cur) != token {
		return adapter.Errorf(adapter.KindConflict, "delete", p, "version token does not match")
	}
	if err := d.service.Files.Delete(cur.Id).SupportsAllDrives(true).Context(ctx).Do(); err != nil {
		return classify("delete", p, err)
	}
	return nil
}

// findFile returns the file at p, or nil when it does not exist.
func (d *DriveAdapter) findFile(ctx context.Context, op string, repo adapter.RepositoryRef, p string) (*drive.File, error) {
	if repo.Name == "" {
		return nil, adapter.Errorf(adapter.KindBadRequest, op, p, "repository name is required")
	}
	segments, name := splitPath(p)
	if name == "" {
		return nil, adapter.Errorf(adapter.KindBadRequest, op, p, "path is required")
	}
	folderID, err := d.resolveFolder(ctx, repo, segments, false)
	if adapter.KindOf(err) == adapter.KindNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d.child(ctx, op, folderID, name, false)
}

// resolveFolder walks from the repository folder down segments. When create
// is set, missing folders are created.
func (d *DriveAdapter) resolveFolder(ctx context.Context, repo adapter.RepositoryRef, segments []string, create bool) (string, error) {
	id := d.BaseFolderID
	for _, name := range append([]string{repo.Name}, segments...) {
		f, err := d.child(ctx, "resolve", id, name, true)
		if err != nil {
			return "", err
		}
		if f == nil {
			if !create {
				return "", adapter.Errorf(adapter.KindNotFound, "resolve", name, "folder not found")
			}
			f, err = d.service.Files.Create(&drive.File{Name: name, MimeType: folderMIME, Parents: []string{id}}).
				SupportsAllDrives(true).
				Fields("id").
				Context(ctx).
				Do()
			if err != nil {
				return "", classify("resolve", name, err)
			}
		}
		id = f.Id
	}
	return id, nil
}

func (d *DriveAdapter) child(ctx context.Context, op, parentID, name string, folder bool) (*drive.File, error) {
	cmp := "!="
	if folder {
		cmp = "="
	}
	q := fmt.Sprintf("name = '%s' and '%s' in parents and mimeType %s '%s' and trashed = false",
		escapeQuery(name), escapeQuery(parentID), cmp, folderMIME)
	r, err := d.service.Files.List().
		Q(q).
		Fields(googleapi.Field("files(" + fileFields + ")")).
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify(op, name, err)
	}
	if len(r.Files) == 0 {
		return nil, nil
	}
	return r.Files[0], nil
}

func classify(op, p string, err error) error {
	var gErr *googleapi.Error
	if !errors.As(err, &gErr) {
		return &adapter.Error{Kind: adapter.KindUpstream, Op: op, Path: p, Err: err}
	}
	kind := adapter.KindUpstream
	switch gErr.Code {
	case http.StatusUnauthorized:
		kind = adapter.KindUnauthorized
	case http.StatusForbidden:
		kind = adapter.KindUnauthorized
		for _, item := range gErr.Errors {
			if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
				kind = adapter.KindRateLimited
			}
		}
	case http.StatusTooManyRequests:
		kind = adapter.KindRateLimited
	case http.StatusNotFound:
		kind = adapter.KindNotFound
	case http.StatusPreconditionFailed, http.StatusConflict:
		kind = adapter.KindConflict
	case http.StatusBadRequest:
		kind = adapter.KindBadRequest
	}
	return &adapter.Error{Kind: kind, Op: op, Path: p, Message: gErr.Message, Err: err}
}
