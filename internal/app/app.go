// Package app wires the proxy and routes API Gateway requests.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/hashicorp/go-hclog"

	"github.com/skillre/mindmap-qoder/internal/adapter"
	"github.com/skillre/mindmap-qoder/internal/adapter/github"
	"github.com/skillre/mindmap-qoder/internal/adapter/googledrive"
	"github.com/skillre/mindmap-qoder/internal/adapter/memory"
	"github.com/skillre/mindmap-qoder/internal/clock"
	"github.com/skillre/mindmap-qoder/internal/config"
	"github.com/skillre/mindmap-qoder/internal/crypto"
	"github.com/skillre/mindmap-qoder/internal/handler"
	"github.com/skillre/mindmap-qoder/internal/preview"
	"github.com/skillre/mindmap-qoder/internal/profile"
	"github.com/skillre/mindmap-qoder/internal/ratelimit"
	"github.com/skillre/mindmap-qoder/internal/secret"
)

// HybridProvider serves demo credentials from the memory store and every
// other credential from the remote host.
type HybridProvider struct {
	remote adapter.StoreProvider
	demo   adapter.StoreProvider
}

// NewHybridProvider creates a HybridProvider.
func NewHybridProvider(remote, demo adapter.StoreProvider) *HybridProvider {
	return &HybridProvider{remote: remote, demo: demo}
}

func (h *HybridProvider) GetAdapter(ctx context.Context, credential string) (adapter.DocumentStore, error) {
	if memory.IsDemoCredential(credential) {
		return h.demo.GetAdapter(ctx, credential)
	}
	return h.remote.GetAdapter(ctx, credential)
}

// Options are the assembled dependencies of an App.
type Options struct {
	Handler *handler.GitHubHandler
	Limiter ratelimit.Limiter

	// OriginSecret must match X-Origin-Verify unless DevMode is set.
	OriginSecret string
	DevMode      bool
	FrontendURL  string

	Clock  clock.Clock
	Logger hclog.Logger
}

// App routes requests to the handler.
type App struct {
	handler      *handler.GitHubHandler
	limiter      ratelimit.Limiter
	originSecret string
	devMode      bool
	frontendURL  string
	clock        clock.Clock
	logger       hclog.Logger
}

// New creates an App from assembled dependencies.
func New(opts Options) *App {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	if opts.FrontendURL == "" {
		opts.FrontendURL = "http://localhost:3000"
	}
	return &App{
		handler:      opts.Handler,
		limiter:      opts.Limiter,
		originSecret: opts.OriginSecret,
		devMode:      opts.DevMode,
		frontendURL:  opts.FrontendURL,
		clock:        opts.Clock,
		logger:       opts.Logger,
	}
}

// NewApp initializes the application dependencies from cfg.
func NewApp(ctx context.Context, cfg *config.Config, logger hclog.Logger) (*App, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	var (
		dynamoClient *dynamodb.Client
		cipher       crypto.Encryptor
		resolver     secret.Resolver
	)
	if cfg.DevMode {
		cipher = crypto.NewMockEncryptor()
		resolver = secret.NewEnvResolver()
		logger.Info("using in-process stores, MockEncryptor and EnvResolver (DEV_MODE=true)")
	} else {
		dynamoClient = dynamodb.NewFromConfig(awsCfg)
		cipher = crypto.NewKMSService(kms.NewFromConfig(awsCfg), cfg.KMSKeyID)
		resolver = secret.Chain{secret.NewSSMResolver(ssm.NewFromConfig(awsCfg)), secret.NewEnvResolver()}
	}

	sessionSecret, err := resolver.GetSecret(ctx, cfg.SessionSecretParam)
	if err != nil {
		if !cfg.DevMode {
			return nil, fmt.Errorf("resolve session secret: %w", err)
		}
		logger.Warn("session secret not set, using development default", "error", err)
		sessionSecret = "default-dev-secret"
	}
	originSecret, err := resolver.GetSecret(ctx, cfg.OriginVerifySecretParam)
	if err != nil && !cfg.DevMode {
		return nil, fmt.Errorf("resolve origin verify secret: %w", err)
	}

	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit, cfg.RateLimitWindow, nil)
	redisURL, err := resolver.GetSecret(ctx, cfg.RedisURLParam)
	switch {
	case err == nil:
		rl, err := ratelimit.NewRedisLimiter(redisURL, ratelimit.RedisConfig{
			Limit:  cfg.RateLimit,
			Window: cfg.RateLimitWindow,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		limiter = rl
	case errors.Is(err, secret.ErrNotSet):
		logger.Info("redis not configured, rate limiting per instance")
	default:
		logger.Warn("redis URL unavailable, rate limiting per instance", "error", err)
	}

	profiles, err := profile.NewStore(profile.Config{
		Client:    dynamoClientOrNil(dynamoClient),
		TableName: cfg.ProfilesTable,
		Cipher:    cipher,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	var remote adapter.StoreProvider
	switch cfg.Backend {
	case config.BackendDrive:
		remote = googledrive.NewProvider(cfg.DriveFolderID)
	default:
		remote = github.NewProvider(github.Options{BaseURL: cfg.GitHubAPIURL, Logger: logger})
	}
	demo := memory.NewProvider(memoryClientOrNil(dynamoClient))

	h, err := handler.NewGitHubHandler(handler.Config{
		Provider: NewHybridProvider(remote, demo),
		Sessions: handler.NewSessions(sessionSecret, cfg.SessionTTL, !cfg.DevMode, nil),
		Profiles: profiles,
		Renderer: preview.NewRenderer(),
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("proxy configured", "backend", cfg.Backend, "dev_mode", cfg.DevMode)
	return New(Options{
		Handler:      h,
		Limiter:      limiter,
		OriginSecret: originSecret,
		DevMode:      cfg.DevMode,
		FrontendURL:  cfg.FrontendURL,
		Logger:       logger,
	}), nil
}

// A nil *dynamodb.Client must become a nil interface so the stores fall back
// to memory.
func dynamoClientOrNil(c *dynamodb.Client) profile.DynamoAPI {
	if c == nil {
		return nil
	}
	return c
}

func memoryClientOrNil(c *dynamodb.Client) memory.DynamoAPI {
	if c == nil {
		return nil
	}
	return c
}

type route func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

func (app *App) route(method, path string) route {
	h := app.handler
	switch method + " " + path {
	case "POST /github/validate-token":
		return h.ValidateToken
	case "POST /github/demo-login":
		return h.DemoLogin
	case "GET /github/repositories":
		return h.ListRepositories
	case "GET /github/branches":
		return h.ListBranches
	case "GET /github/files":
		return h.ListFiles
	case "GET /github/file/content":
		return h.GetFileContent
	case "GET /github/file/preview":
		return h.PreviewFile
	case "POST /github/file/save":
		return h.SaveFile
	case "DELETE /github/file/delete":
		return h.DeleteFile
	case "POST /github/sync/check":
		return h.CheckSync
	case "GET /github/config":
		return h.GetConfig
	case "PUT /github/config":
		return h.UpdateConfig
	case "POST /github/logout":
		return h.Logout
	}
	return nil
}

// HandleRequest routes API Gateway requests to the appropriate handler.
func (app *App) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	method := req.HTTPMethod
	path := req.Path
	app.logger.Debug("request", "method", method, "path", path)

	// CORS Preflight
	if method == http.MethodOptions {
		return app.corsResponse(events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}), nil
	}

	// Strip /api prefix if present (for CloudFront proxying)
	path = strings.TrimPrefix(path, "/api")
	if path == "/health" {
		return app.corsResponse(handler.Health(app.clock.Now())), nil
	}

	if !app.devMode && !app.originVerified(req) {
		app.logger.Warn("missing or invalid X-Origin-Verify header", "path", path)
		return app.corsResponse(handler.JSON(http.StatusForbidden, handler.Response{Message: "Forbidden: Access denied"})), nil
	}

	if resp, limited := app.rateLimit(ctx, req); limited {
		return app.corsResponse(resp), nil
	}

	r := app.route(method, path)
	if r == nil {
		return app.corsResponse(handler.JSON(http.StatusNotFound, handler.Response{Message: "接口不存在"})), nil
	}
	resp, err := r(ctx, req)
	if err != nil {
		app.logger.Error("handler error", "path", path, "error", err)
		resp = handler.JSON(http.StatusInternalServerError, handler.Response{Message: "服务器内部错误"})
	}
	return app.corsResponse(resp), nil
}

func (app *App) originVerified(req events.APIGatewayProxyRequest) bool {
	if app.originSecret == "" {
		return false
	}
	for k, v := range req.Headers {
		if strings.EqualFold(k, "X-Origin-Verify") {
			return v == app.originSecret
		}
	}
	return false
}

// rateLimit counts the request against its source address.
func (app *App) rateLimit(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, bool) {
	if app.limiter == nil {
		return events.APIGatewayProxyResponse{}, false
	}
	d, err := app.limiter.Allow(ctx, clientIP(req))
	if err != nil {
		app.logger.Warn("rate limiter unavailable", "error", err)
	}
	if d.Allowed {
		return events.APIGatewayProxyResponse{}, false
	}
	resp := handler.JSON(http.StatusTooManyRequests, handler.Response{
		Message: "请求过于频繁，请稍后再试",
		Kind:    adapter.KindRateLimited,
	})
	resp.Headers["Retry-After"] = strconv.Itoa(int(d.RetryAfter(app.clock.Now()).Seconds()))
	resp.Headers["X-RateLimit-Limit"] = strconv.Itoa(d.Limit)
	resp.Headers["X-RateLimit-Remaining"] = strconv.Itoa(d.Remaining)
	return resp, true
}

func clientIP(req events.APIGatewayProxyRequest) string {
	if ip := req.RequestContext.Identity.SourceIP; ip != "" {
		return ip
	}
	for k, v := range req.Headers {
		if strings.EqualFold(k, "X-Forwarded-For") {
			first, _, _ := strings.Cut(v, ",")
			return strings.TrimSpace(first)
		}
	}
	return "unknown"
}

// corsResponse adds CORS headers to an API Gateway response.
func (app *App) corsResponse(resp events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	resp.Headers["Access-Control-Allow-Origin"] = app.frontendURL
	resp.Headers["Access-Control-Allow-Credentials"] = "true"
	resp.Headers["Access-Control-Allow-Methods"] = "GET,POST,PUT,DELETE,OPTIONS"
	resp.Headers["Access-Control-Allow-Headers"] = "Content-Type,Authorization"
	return resp
}
