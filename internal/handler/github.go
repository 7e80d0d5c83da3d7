package handler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/hashicorp/go-hclog"

	"github.com/skillre/mindmap-qoder/internal/adapter"
	"github.com/skillre/mindmap-qoder/internal/clock"
	"github.com/skillre/mindmap-qoder/internal/codec"
	"github.com/skillre/mindmap-qoder/internal/document"
	"github.com/skillre/mindmap-qoder/internal/naming"
	"github.com/skillre/mindmap-qoder/internal/preview"
	"github.com/skillre/mindmap-qoder/internal/profile"
	"github.com/skillre/mindmap-qoder/internal/revision"
)

// Config configures a GitHubHandler.
type Config struct {
	Provider adapter.StoreProvider
	Sessions *Sessions

	// Profiles is optional; without it only explicit tokens are accepted.
	Profiles *profile.Store

	Renderer *preview.Renderer
	Clock    clock.Clock
	Logger   hclog.Logger
}

// GitHubHandler serves the document routes under /github.
type GitHubHandler struct {
	provider adapter.StoreProvider
	sessions *Sessions
	profiles *profile.Store
	renderer *preview.Renderer
	clock    clock.Clock
	logger   hclog.Logger
}

// NewGitHubHandler creates a new GitHubHandler.
func NewGitHubHandler(cfg Config) (*GitHubHandler, error) {
	if cfg.Provider == nil {
		return nil, errors.New("store provider is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("sessions are required")
	}
	if cfg.Renderer == nil {
		cfg.Renderer = preview.NewRenderer()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	return &GitHubHandler{
		provider: cfg.Provider,
		sessions: cfg.Sessions,
		profiles: cfg.Profiles,
		renderer: cfg.Renderer,
		clock:    cfg.Clock,
		logger:   cfg.Logger.Named("handler"),
	}, nil
}

// target names the credential and repository of a request.
type target struct {
	Token  string `json:"token"`
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Branch string `json:"branch"`
}

func targetFromQuery(req events.APIGatewayProxyRequest) target {
	q := req.QueryStringParameters
	return target{Token: q["token"], Owner: q["owner"], Repo: q["repo"], Branch: q["branch"]}
}

func (t target) ref() adapter.RepositoryRef {
	return adapter.RepositoryRef{Owner: t.Owner, Name: t.Repo, Branch: t.Branch}
}

// resolve fills in the credential and, when missing, the repository saved in
// the caller's profile. An explicit token always wins over the session.
func (h *GitHubHandler) resolve(ctx context.Context, req events.APIGatewayProxyRequest, t *target) error {
	t.Token = strings.TrimSpace(t.Token)
	if t.Token != "" {
		return nil
	}
	if h.profiles == nil {
		return adapter.Errorf(adapter.KindBadRequest, "connect", "", "Token不能为空")
	}
	userID, err := h.sessions.UserID(req)
	if errors.Is(err, ErrNoSession) {
		return adapter.Errorf(adapter.KindBadRequest, "connect", "", "Token不能为空")
	}
	if err != nil {
		return err
	}
	p, err := h.profiles.Get(ctx, userID)
	if errors.Is(err, profile.ErrNotFound) {
		return adapter.Errorf(adapter.KindUnauthorized, "connect", "", "session has no stored credential")
	}
	if err != nil {
		return err
	}
	if t.Token, err = h.profiles.Credential(ctx, userID); err != nil {
		return &adapter.Error{Kind: adapter.KindUnauthorized, Op: "connect", Message: "stored credential is unusable", Err: err}
	}
	if t.Owner == "" && t.Repo == "" {
		t.Owner, t.Repo = p.Owner, p.Repo
		if t.Branch == "" {
			t.Branch = p.Branch
		}
	}
	return nil
}

// connect resolves t and returns a store bound to its credential. needRepo
// requires owner and repo.
func (h *GitHubHandler) connect(ctx context.Context, req events.APIGatewayProxyRequest, t *target, needRepo bool) (adapter.DocumentStore, error) {
	if err := h.resolve(ctx, req, t); err != nil {
		return nil, err
	}
	if needRepo {
		err := validation.ValidateStruct(t,
			validation.Field(&t.Owner, validation.Required),
			validation.Field(&t.Repo, validation.Required),
		)
		if err != nil {
			return nil, badRequest("connect", err)
		}
	}
	return h.provider.GetAdapter(ctx, t.Token)
}

func (h *GitHubHandler) service(store adapter.DocumentStore, t target) (*document.Service, error) {
	return document.NewService(document.Config{
		Store:  store,
		Repo:   t.ref(),
		Clock:  h.clock,
		Logger: h.logger,
	})
}

func (h *GitHubHandler) failed(op string, err error, message string) events.APIGatewayProxyResponse {
	kind := adapter.KindOf(err)
	if StatusFor(kind) >= 500 {
		h.logger.Error("request failed", "op", op, "kind", kind, "error", err)
	} else {
		h.logger.Debug("request rejected", "op", op, "kind", kind, "error", err)
	}
	return fail(err, message)
}

// ListRepositories lists repositories visible to the credential.
func (h *GitHubHandler) ListRepositories(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	t := targetFromQuery(req)
	visibility := req.QueryStringParameters["type"]
	if visibility == "" {
		visibility = "private"
	}
	store, err := h.connect(ctx, req, &t, false)
	if err != nil {
		return h.failed("repositories", err, "获取仓库列表失败"), nil
	}
	repos, err := store.ListRepositories(ctx, visibility)
	if err != nil {
		return h.failed("repositories", err, "获取仓库列表失败"), nil
	}
	return ok(repos, "获取仓库列表成功"), nil
}

// ListBranches lists the branches of a repository.
func (h *GitHubHandler) ListBranches(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	t := targetFromQuery(req)
	store, err := h.connect(ctx, req, &t, true)
	if err != nil {
		return h.failed("branches", err, "获取分支列表失败"), nil
	}
	branches, err := store.ListBranches(ctx, t.ref())
	if err != nil {
		return h.failed("branches", err, "获取分支列表失败"), nil
	}
	return ok(branches, "获取分支列表成功"), nil
}

// ListFiles lists the documents of a directory. A missing directory is an
// empty list.
func (h *GitHubHandler) ListFiles(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	t := targetFromQuery(req)
	dir := req.QueryStringParameters["path"]
	if dir == "" {
		dir = naming.DocumentRoot
	}
	store, err := h.connect(ctx, req, &t, true)
	if err != nil {
		return h.failed("files", err, "获取文件列表失败"), nil
	}
	entries, err := store.ListDocuments(ctx, t.ref(), dir)
	if err != nil {
		return h.failed("files", err, "获取文件列表失败"), nil
	}
	return ok(entries, "获取文件列表成功"), nil
}

// ContentResponse is the payload of GetFileContent.
type ContentResponse struct {
	Content any    `json:"content"`
	SHA     string `json:"sha"`
}

// GetFileContent reads one document.
func (h *GitHubHandler) GetFileContent(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	t := targetFromQuery(req)
	p := req.QueryStringParameters["path"]
	if p == "" {
		return fail(adapter.Errorf(adapter.KindBadRequest, "read", "", "参数不完整，需要path"), "获取文件内容失败"), nil
	}
	store, err := h.connect(ctx, req, &t, true)
	if err != nil {
		return h.failed("read", err, "获取文件内容失败"), nil
	}
	env, token, err := store.ReadDocument(ctx, t.ref(), p)
	if err != nil {
		return h.failed("read", err, "获取文件内容失败"), nil
	}
	return ok(ContentResponse{Content: env, SHA: token}, "获取文件内容成功"), nil
}

// PreviewResponse is the payload of PreviewFile.
type PreviewResponse struct {
	Title string `json:"title"`
	HTML  string `json:"html"`
	SHA   string `json:"sha"`
}

// PreviewFile renders the outline of one document as HTML.
func (h *GitHubHandler) PreviewFile(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	t := targetFromQuery(req)
	p := req.QueryStringParameters["path"]
	if p == "" {
		return fail(adapter.Errorf(adapter.KindBadRequest, "preview", "", "参数不完整，需要path"), "预览失败"), nil
	}
	store, err := h.connect(ctx, req, &t, true)
	if err != nil {
		return h.failed("preview", err, "预览失败"), nil
	}
	env, token, err := store.ReadDocument(ctx, t.ref(), p)
	if err != nil {
		return h.failed("preview", err, "预览失败"), nil
	}
	html, err := h.renderer.RenderDocument(env)
	if err != nil {
		return h.failed("preview", &adapter.Error{Kind: adapter.KindDecode, Op: "preview", Path: p, Err: err}, "预览失败"), nil
	}
	return ok(PreviewResponse{Title: env.Metadata.Title, HTML: string(html), SHA: token}, "预览成功"), nil
}

// SaveRequest is the body of SaveFile. Content is the editor payload.
type SaveRequest struct {
	target
	Path    string          `json:"path"`
	Content json.RawMessage `json:"content"`
	Message string          `json:"message"`
	SHA     string          `json:"sha"`
}

func (r *SaveRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Path, validation.Required, validation.By(jsonPath)),
		validation.Field(&r.Content, validation.Required, validation.By(objectPayload)),
	)
}

// SaveResponse is the payload of SaveFile.
type SaveResponse struct {
	SHA     string `json:"sha"`
	HTMLURL string `json:"htmlUrl,omitempty"`
}

// SaveFile writes one document. Without sha the document must not exist yet;
// with sha it must still be at that version.
func (h *GitHubHandler) SaveFile(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	var in SaveRequest
	if err := decodeBody(req, "save", &in); err != nil {
		return fail(err, "文件保存失败"), nil
	}
	if err := validate("save", &in); err != nil {
		return fail(err, "文件保存失败"), nil
	}
	store, err := h.connect(ctx, req, &in.target, true)
	if err != nil {
		return h.failed("save", err, "文件保存失败"), nil
	}
	svc, err := h.service(store, in.target)
	if err != nil {
		return h.failed("save", err, "文件保存失败"), nil
	}
	tr, err := svc.Resume(ctx, in.Path, in.SHA)
	if err != nil {
		return h.failed("save", err, "文件保存失败"), nil
	}
	res, err := svc.Save(ctx, tr, in.Content, in.Message)
	if err != nil {
		return h.failed("save", err, "文件保存失败"), nil
	}
	return ok(SaveResponse{SHA: res.Token, HTMLURL: res.HTMLURL}, "文件保存成功"), nil
}

// DeleteRequest is the body of DeleteFile.
type DeleteRequest struct {
	target
	Path    string `json:"path"`
	SHA     string `json:"sha"`
	Message string `json:"message"`
}

func (r *DeleteRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Path, validation.Required),
		validation.Field(&r.SHA, validation.Required),
	)
}

// DeleteFile removes one document at the given version.
func (h *GitHubHandler) DeleteFile(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	var in DeleteRequest
	if err := decodeBody(req, "delete", &in); err != nil {
		return fail(err, "文件删除失败"), nil
	}
	if err := validate("delete", &in); err != nil {
		return fail(err, "文件删除失败"), nil
	}
	store, err := h.connect(ctx, req, &in.target, true)
	if err != nil {
		return h.failed("delete", err, "文件删除失败"), nil
	}
	svc, err := h.service(store, in.target)
	if err != nil {
		return h.failed("delete", err, "文件删除失败"), nil
	}
	if err := svc.Delete(ctx, revision.Opened(in.Path, in.SHA, nil), in.Message); err != nil {
		return h.failed("delete", err, "文件删除失败"), nil
	}
	return ok(nil, "文件删除成功"), nil
}

func objectPayload(value any) error {
	c, _ := value.(json.RawMessage)
	return codec.CheckPayload(c)
}

func jsonPath(value any) error {
	p, _ := value.(string)
	if !strings.HasSuffix(p, naming.Ext) {
		return errors.New("must end with " + naming.Ext)
	}
	return nil
}
