package googledrive

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"testing"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"github.com/skillre/mindmap-qoder/internal/adapter"
)

func TestSplitPath(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wantDirs []string
		wantName string
	}{
		{"nested document", "mindmaps/plan.json", []string{"mindmaps"}, "plan.json"},
		{"deeper nesting", "mindmaps/2024/q1.json", []string{"mindmaps", "2024"}, "q1.json"},
		{"bare name", "plan.json", nil, "plan.json"},
		{"leading and trailing slashes", "/mindmaps/plan.json/", []string{"mindmaps"}, "plan.json"},
		{"dot segments", "mindmaps/./x/../plan.json", []string{"mindmaps"}, "plan.json"},
		{"empty", "", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dirs, name := splitPath(tt.in)
			if !reflect.DeepEqual(dirs, tt.wantDirs) || name != tt.wantName {
				t.Errorf("splitPath(%q) = %v, %q, want %v, %q", tt.in, dirs, name, tt.wantDirs, tt.wantName)
			}
		})
	}
}

func TestEscapeQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"it's", `it\'s`},
		{`back\slash`, `back\\slash`},
		{"项目计划_20240301T100000.json", "项目计划_20240301T100000.json"},
	}
	for _, tt := range tests {
		if got := escapeQuery(tt.in); got != tt.want {
			t.Errorf("escapeQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTokenOf(t *testing.T) {
	if got := tokenOf(&drive.File{Version: 42}); got != "42" {
		t.Errorf("tokenOf = %q, want 42", got)
	}
	if got := tokenOf(&drive.File{}); got != "" {
		t.Errorf("tokenOf(no version) = %q, want empty", got)
	}
	if got := tokenOf(nil); got != "" {
		t.Errorf("tokenOf(nil) = %q, want empty", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want adapter.Kind
	}{
		{"unauthorized", &googleapi.Error{Code: http.StatusUnauthorized}, adapter.KindUnauthorized},
		{"forbidden", &googleapi.Error{Code: http.StatusForbidden}, adapter.KindUnauthorized},
		{"rate limited 403", &googleapi.Error{Code: http.StatusForbidden, Errors: []googleapi.ErrorItem{{Reason: "userRateLimitExceeded"}}}, adapter.KindRateLimited},
		{"rate limited 429", &googleapi.Error{Code: http.StatusTooManyRequests}, adapter.KindRateLimited},
		{"not found", &googleapi.Error{Code: http.StatusNotFound}, adapter.KindNotFound},
		{"precondition failed", &googleapi.Error{Code: http.StatusPreconditionFailed}, adapter.KindConflict},
		{"bad request", &googleapi.Error{Code: http.StatusBadRequest}, adapter.KindBadRequest},
		{"server error", &googleapi.Error{Code: http.StatusBadGateway}, adapter.KindUpstream},
		{"transport error", errors.New("dial tcp: timeout"), adapter.KindUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := adapter.KindOf(classify("read", "mindmaps/a.json", tt.err)); got != tt.want {
				t.Errorf("classify kind = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProvider_RequiresCredential(t *testing.T) {
	_, err := NewProvider("").GetAdapter(context.Background(), "")
	if !errors.Is(err, adapter.ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized, got %v", err)
	}
}

func TestNewDriveAdapter_DefaultsToRoot(t *testing.T) {
	d, err := NewDriveAdapter(context.Background(), http.DefaultClient, "")
	if err != nil {
		t.Fatalf("NewDriveAdapter failed: %v", err)
	}
	if d.BaseFolderID != "root" {
		t.Errorf("BaseFolderID = %q, want root", d.BaseFolderID)
	}
}
