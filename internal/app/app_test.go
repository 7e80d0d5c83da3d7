package app

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillre/mindmap-qoder/internal/adapter"
	"github.com/skillre/mindmap-qoder/internal/adapter/memory"
	"github.com/skillre/mindmap-qoder/internal/crypto"
	"github.com/skillre/mindmap-qoder/internal/handler"
	"github.com/skillre/mindmap-qoder/internal/profile"
	"github.com/skillre/mindmap-qoder/internal/ratelimit"
	"github.com/skillre/mindmap-qoder/internal/testutil"
)

// recordingProvider records the credentials it is asked for.
type recordingProvider struct {
	seen []string
}

func (p *recordingProvider) GetAdapter(ctx context.Context, credential string) (adapter.DocumentStore, error) {
	p.seen = append(p.seen, credential)
	return memory.NewMemoryAdapter(nil, credential), nil
}

func testApp(t *testing.T, devMode bool, limit int) *App {
	t.Helper()
	clk := testutil.FixedClock()
	profiles, err := profile.NewStore(profile.Config{Cipher: crypto.NewMockEncryptor(), Clock: clk})
	require.NoError(t, err)
	h, err := handler.NewGitHubHandler(handler.Config{
		Provider: NewHybridProvider(&recordingProvider{}, memory.NewProvider(nil)),
		Sessions: handler.NewSessions("secret", time.Hour, false, clk),
		Profiles: profiles,
		Clock:    clk,
	})
	require.NoError(t, err)
	return New(Options{
		Handler:      h,
		Limiter:      ratelimit.NewMemoryLimiter(limit, time.Minute, clk),
		OriginSecret: "origin-secret",
		DevMode:      devMode,
		Clock:        clk,
	})
}

func request(method, path string, query map[string]string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod:            method,
		Path:                  path,
		QueryStringParameters: query,
		Headers:               map[string]string{"X-Origin-Verify": "origin-secret"},
		RequestContext: events.APIGatewayProxyRequestContext{
			Identity: events.APIGatewayRequestIdentity{SourceIP: "10.0.0.1"},
		},
	}
}

func TestHybridProvider(t *testing.T) {
	remote := &recordingProvider{}
	p := NewHybridProvider(remote, memory.NewProvider(nil))
	ctx := context.Background()

	_, err := p.GetAdapter(ctx, "demo-alice")
	require.NoError(t, err)
	assert.Empty(t, remote.seen, "demo credentials never reach the remote host")

	_, err = p.GetAdapter(ctx, "ghp_real")
	require.NoError(t, err)
	assert.Equal(t, []string{"ghp_real"}, remote.seen)
}

func TestHandleRequest_Routes(t *testing.T) {
	a := testApp(t, false, 100)
	ctx := context.Background()

	resp, err := a.HandleRequest(ctx, request("GET", "/api/github/repositories", map[string]string{"token": "demo-alice"}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode, resp.Body)
	assert.Equal(t, "http://localhost:3000", resp.Headers["Access-Control-Allow-Origin"])
	assert.Equal(t, "true", resp.Headers["Access-Control-Allow-Credentials"])

	resp, _ = a.HandleRequest(ctx, request("GET", "/github/files", map[string]string{"token": "demo-alice", "owner": "demo-alice", "repo": memory.DemoRepository}))
	assert.Equal(t, http.StatusOK, resp.StatusCode, "the /api prefix is optional")

	resp, _ = a.HandleRequest(ctx, request("GET", "/api/github/nope", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = a.HandleRequest(ctx, request("DELETE", "/api/github/files", nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "routes match on method")
}

func TestHandleRequest_Preflight(t *testing.T) {
	a := testApp(t, false, 100)
	req := request("OPTIONS", "/api/github/file/save", nil)
	req.Headers = nil
	resp, err := a.HandleRequest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Contains(t, resp.Headers["Access-Control-Allow-Methods"], "DELETE")
}

func TestHandleRequest_Health(t *testing.T) {
	a := testApp(t, false, 100)
	resp, err := a.HandleRequest(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: "GET", Path: "/health"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body handler.Response
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &body))
	assert.True(t, body.Success)
	assert.Equal(t, map[string]any{"timestamp": "2024-03-01T10:00:00Z"}, body.Data)
}

func TestHandleRequest_OriginVerify(t *testing.T) {
	a := testApp(t, false, 100)
	req := request("GET", "/api/github/repositories", map[string]string{"token": "demo-alice"})
	req.Headers = map[string]string{"x-origin-verify": "wrong"}
	resp, _ := a.HandleRequest(context.Background(), req)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	dev := testApp(t, true, 100)
	resp, _ = dev.HandleRequest(context.Background(), req)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "DEV_MODE skips the origin check")
}

func TestHandleRequest_RateLimit(t *testing.T) {
	a := testApp(t, false, 2)
	ctx := context.Background()
	req := request("GET", "/api/github/repositories", map[string]string{"token": "demo-alice"})

	for i := 0; i < 2; i++ {
		resp, _ := a.HandleRequest(ctx, req)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, _ := a.HandleRequest(ctx, req)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Headers["Retry-After"])
	assert.Equal(t, "0", resp.Headers["X-RateLimit-Remaining"])

	other := request("GET", "/api/github/repositories", map[string]string{"token": "demo-alice"})
	other.RequestContext.Identity.SourceIP = "10.0.0.2"
	resp, _ = a.HandleRequest(ctx, other)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClientIP(t *testing.T) {
	req := events.APIGatewayProxyRequest{Headers: map[string]string{"x-forwarded-for": "203.0.113.7, 10.0.0.1"}}
	assert.Equal(t, "203.0.113.7", clientIP(req))
	assert.Equal(t, "unknown", clientIP(events.APIGatewayProxyRequest{}))
}
