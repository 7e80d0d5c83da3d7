package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/golang-jwt/jwt/v5"

	"github.com/skillre/mindmap-qoder/internal/adapter"
	"github.com/skillre/mindmap-qoder/internal/clock"
)

// SessionCookie is the cookie carrying the session JWT.
const SessionCookie = "session_token"

// ErrNoSession is returned when a request carries no session token.
var ErrNoSession = &adapter.Error{Kind: adapter.KindUnauthorized, Op: "session", Message: "no session"}

// Sessions issues and verifies session tokens. A session names the user
// whose encrypted credential is kept in the profile store.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	secure bool
	clock  clock.Clock
}

// NewSessions creates a Sessions. secure controls the cookie's Secure and
// SameSite=None attributes.
func NewSessions(secret string, ttl time.Duration, secure bool, c clock.Clock) *Sessions {
	if c == nil {
		c = clock.Real{}
	}
	return &Sessions{secret: []byte(secret), ttl: ttl, secure: secure, clock: c}
}

// Issue signs a session token for userID.
func (s *Sessions) Issue(userID, login string) (string, error) {
	now := s.clock.Now()
	claims := jwt.MapClaims{
		"sub":   userID,
		"login": login,
		"iat":   now.Unix(),
		"exp":   now.Add(s.ttl).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// UserID extracts the user ID from the Authorization header or session cookie.
func (s *Sessions) UserID(req events.APIGatewayProxyRequest) (string, error) {
	tokenString := ""
	if auth := getHeader(req, "Authorization"); strings.HasPrefix(auth, "Bearer ") {
		tokenString = strings.TrimPrefix(auth, "Bearer ")
	}
	if tokenString == "" {
		tokenString = getCookie(req, SessionCookie)
	}
	if tokenString == "" {
		return "", ErrNoSession
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.clock.Now))
	if err != nil {
		return "", &adapter.Error{Kind: adapter.KindUnauthorized, Op: "session", Message: "invalid session", Err: err}
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		if sub, ok := claims["sub"].(string); ok && sub != "" {
			return sub, nil
		}
	}
	return "", &adapter.Error{Kind: adapter.KindUnauthorized, Op: "session", Message: "invalid session", Err: errors.New("missing subject")}
}

// Cookie returns the Set-Cookie value for token.
func (s *Sessions) Cookie(token string) string {
	return s.cookie(token, int(s.ttl.Seconds()))
}

// ClearCookie returns a Set-Cookie value that removes the session.
func (s *Sessions) ClearCookie() string {
	return s.cookie("", -1)
}

func (s *Sessions) cookie(value string, maxAge int) string {
	c := &http.Cookie{
		Name:     SessionCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if s.secure {
		c.Secure = true
		c.SameSite = http.SameSiteNoneMode
	}
	return c.String()
}
