package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/skillre/mindmap-qoder/internal/adapter"
)

// Response is the JSON body of every API response.
type Response struct {
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Message string       `json:"message,omitempty"`
	Error   string       `json:"error,omitempty"`
	Kind    adapter.Kind `json:"kind,omitempty"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind adapter.Kind) int {
	switch kind {
	case adapter.KindBadRequest:
		return http.StatusBadRequest
	case adapter.KindUnauthorized:
		return http.StatusUnauthorized
	case adapter.KindNotFound:
		return http.StatusNotFound
	case adapter.KindConflict:
		return http.StatusConflict
	case adapter.KindDecode:
		return http.StatusUnprocessableEntity
	case adapter.KindRateLimited:
		return http.StatusTooManyRequests
	case adapter.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// JSON builds a response with a JSON body.
func JSON(status int, body any) events.APIGatewayProxyResponse {
	b, err := json.Marshal(body)
	if err != nil {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError, Body: `{"success":false,"message":"服务器内部错误"}`}
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Body:       string(b),
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

func ok(data any, message string) events.APIGatewayProxyResponse {
	return JSON(http.StatusOK, Response{Success: true, Data: data, Message: message})
}

// fail reports err with the status of its kind.
func fail(err error, message string) events.APIGatewayProxyResponse {
	kind := adapter.KindOf(err)
	return JSON(StatusFor(kind), Response{
		Success: false,
		Message: message,
		Error:   adapter.MessageOf(err),
		Kind:    kind,
	})
}

func badRequest(op string, err error) *adapter.Error {
	return &adapter.Error{Kind: adapter.KindBadRequest, Op: op, Message: err.Error(), Err: err}
}

// decodeBody unmarshals the request body into v.
func decodeBody(req events.APIGatewayProxyRequest, op string, v any) error {
	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return badRequest(op, errors.New("invalid request body"))
		}
		body = decoded
	}
	if len(body) == 0 {
		return badRequest(op, errors.New("request body is required"))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return badRequest(op, errors.New("invalid request body"))
	}
	return nil
}

// validate runs ozzo validation and reports failures as KindBadRequest.
func validate(op string, v validation.Validatable) error {
	if err := v.Validate(); err != nil {
		return badRequest(op, err)
	}
	return nil
}

// getHeader looks a header up case-insensitively.
func getHeader(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	for k, v := range req.MultiValueHeaders {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// getCookie returns the value of the named cookie.
func getCookie(req events.APIGatewayProxyRequest, name string) string {
	header := getHeader(req, "Cookie")
	if header == "" {
		return ""
	}
	cookies, err := http.ParseCookie(header)
	if err != nil {
		return ""
	}
	for _, c := range cookies {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}
