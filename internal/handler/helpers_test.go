package handler_test

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"github.com/skillre/mindmap-qoder/internal/adapter/memory"
	"github.com/skillre/mindmap-qoder/internal/crypto"
	"github.com/skillre/mindmap-qoder/internal/handler"
	"github.com/skillre/mindmap-qoder/internal/profile"
	"github.com/skillre/mindmap-qoder/internal/testutil"
)

const testJWTSecret = "test-secret"

type fixture struct {
	h        *handler.GitHubHandler
	sessions *handler.Sessions
	profiles *profile.Store
	clock    *testutil.StubClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := testutil.FixedClock()
	profiles, err := profile.NewStore(profile.Config{Cipher: crypto.NewMockEncryptor(), Clock: clk})
	require.NoError(t, err)
	sessions := handler.NewSessions(testJWTSecret, 24*time.Hour, false, clk)
	h, err := handler.NewGitHubHandler(handler.Config{
		Provider: memory.NewProvider(nil),
		Sessions: sessions,
		Profiles: profiles,
		Clock:    clk,
	})
	require.NoError(t, err)
	return &fixture{h: h, sessions: sessions, profiles: profiles, clock: clk}
}

func makeRequest(method, path, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Body:       body,
		Headers:    map[string]string{},
	}
}

func query(method, path string, params map[string]string) events.APIGatewayProxyRequest {
	req := makeRequest(method, path, "")
	req.QueryStringParameters = params
	return req
}

func jsonBody(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

// decoded is the response envelope with Data kept raw.
type decoded struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Kind    string          `json:"kind"`
}

func decode(t *testing.T, resp events.APIGatewayProxyResponse, data any) decoded {
	t.Helper()
	var d decoded
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &d), resp.Body)
	if data != nil && len(d.Data) > 0 {
		require.NoError(t, json.Unmarshal(d.Data, data))
	}
	return d
}

// sessionCookie extracts the session token from a Set-Cookie header.
func sessionCookie(t *testing.T, resp events.APIGatewayProxyResponse) string {
	t.Helper()
	cookies := resp.MultiValueHeaders["Set-Cookie"]
	require.Len(t, cookies, 1)
	c, err := http.ParseSetCookie(cookies[0])
	require.NoError(t, err)
	require.Equal(t, handler.SessionCookie, c.Name)
	return c.Value
}

func withSession(req events.APIGatewayProxyRequest, token string) events.APIGatewayProxyRequest {
	req.Headers["Cookie"] = "theme=dark; " + handler.SessionCookie + "=" + token
	return req
}

func contains(s, sub string) bool { return strings.Contains(s, sub) }

func profileSettings(owner, repo string) profile.Settings {
	return profile.Settings{Owner: owner, Repo: repo}
}
