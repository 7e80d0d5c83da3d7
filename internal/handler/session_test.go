package handler_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/golang-jwt/jwt/v5"

	"github.com/skillre/mindmap-qoder/internal/adapter"
	"github.com/skillre/mindmap-qoder/internal/handler"
	"github.com/skillre/mindmap-qoder/internal/testutil"
)

const testUserID = "octocat"

func TestSessions_BearerToken(t *testing.T) {
	s := handler.NewSessions(testJWTSecret, time.Hour, false, nil)
	token, err := s.Issue(testUserID, testUserID)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	req := events.APIGatewayProxyRequest{
		Headers: map[string]string{"authorization": "Bearer " + token},
	}

	userID, err := s.UserID(req)
	if err != nil {
		t.Fatalf("UserID failed: %v", err)
	}
	if userID != testUserID {
		t.Errorf("Expected userID '%s', got '%s'", testUserID, userID)
	}
}

func TestSessions_Cookie(t *testing.T) {
	s := handler.NewSessions(testJWTSecret, time.Hour, false, nil)
	token, _ := s.Issue(testUserID, testUserID)
	req := withSession(makeRequest("GET", "/", ""), token)

	userID, err := s.UserID(req)
	if err != nil {
		t.Fatalf("UserID failed: %v", err)
	}
	if userID != testUserID {
		t.Errorf("Expected userID '%s', got '%s'", testUserID, userID)
	}
}

func TestSessions_Rejects(t *testing.T) {
	clk := testutil.FixedClock()
	s := handler.NewSessions(testJWTSecret, time.Hour, false, clk)
	valid, _ := s.Issue(testUserID, testUserID)

	other, _ := handler.NewSessions("other-secret", time.Hour, false, clk).Issue(testUserID, testUserID)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": testUserID}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	noSub, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": clk.Now().Add(time.Hour).Unix()}).SignedString([]byte(testJWTSecret))

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"wrong secret", other},
		{"none algorithm", none},
		{"no subject", noSub},
		{"garbage", "not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := makeRequest("GET", "/", "")
			if tt.token != "" {
				req.Headers["Authorization"] = "Bearer " + tt.token
			}
			if _, err := s.UserID(req); adapter.KindOf(err) != adapter.KindUnauthorized {
				t.Errorf("Expected Unauthorized, got %v", err)
			}
		})
	}

	clk.Advance(2 * time.Hour)
	req := makeRequest("GET", "/", "")
	req.Headers["Authorization"] = "Bearer " + valid
	if _, err := s.UserID(req); err == nil {
		t.Error("Expected expired token to be rejected")
	}
}

func TestSessions_CookieAttributes(t *testing.T) {
	local := handler.NewSessions(testJWTSecret, time.Hour, false, nil)
	c, err := http.ParseSetCookie(local.Cookie("abc"))
	if err != nil {
		t.Fatalf("ParseSetCookie failed: %v", err)
	}
	if !c.HttpOnly || c.Secure || c.SameSite != http.SameSiteLaxMode || c.MaxAge != 3600 {
		t.Errorf("Unexpected local cookie %+v", c)
	}

	prod := handler.NewSessions(testJWTSecret, time.Hour, true, nil)
	c, _ = http.ParseSetCookie(prod.Cookie("abc"))
	if !c.Secure || c.SameSite != http.SameSiteNoneMode {
		t.Errorf("Unexpected production cookie %+v", c)
	}

	c, _ = http.ParseSetCookie(prod.ClearCookie())
	if c.MaxAge >= 0 || c.Value != "" {
		t.Errorf("Expected clearing cookie, got %+v", c)
	}
}
