package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/skillre/mindmap-qoder/internal/adapter"
	"github.com/skillre/mindmap-qoder/internal/codec"
)

var demoRepo = adapter.RepositoryRef{Owner: "demo-alice", Name: DemoRepository}

func envelope(t *testing.T, payload string) *codec.Envelope {
	t.Helper()
	env, err := codec.New(nil).Wrap(json.RawMessage(payload), nil, "demo-alice")
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	return env
}

func TestMemoryAdapter_WriteAndRead(t *testing.T) {
	m := NewMemoryAdapter(nil, "demo-alice")
	ctx := context.Background()

	res, err := m.WriteDocument(ctx, demoRepo, "mindmaps/plan.json", envelope(t, `{"root":{"data":{"text":"Plan"}}}`), adapter.WriteOptions{})
	if err != nil {
		t.Fatalf("WriteDocument failed: %v", err)
	}
	if res.Token == "" {
		t.Fatal("Expected a version token")
	}

	env, token, err := m.ReadDocument(ctx, demoRepo, "mindmaps/plan.json")
	if err != nil {
		t.Fatalf("ReadDocument failed: %v", err)
	}
	if token != res.Token {
		t.Errorf("Expected token %q, got %q", res.Token, token)
	}
	if string(env.Data) != `{"root":{"data":{"text":"Plan"}}}` {
		t.Errorf("Unexpected payload %s", env.Data)
	}
	if env.Metadata.Title != "Plan" {
		t.Errorf("Expected title 'Plan', got %q", env.Metadata.Title)
	}
}

func TestMemoryAdapter_ReadDocument_NotFound(t *testing.T) {
	m := NewMemoryAdapter(nil, "demo-alice")

	_, _, err := m.ReadDocument(context.Background(), demoRepo, "mindmaps/missing.json")
	if !errors.Is(err, adapter.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMemoryAdapter_TokenChangesOnEveryWrite(t *testing.T) {
	m := NewMemoryAdapter(nil, "demo-alice")
	ctx := context.Background()
	env := envelope(t, `{"root":{"data":{"text":"same"}}}`)

	first, err := m.WriteDocument(ctx, demoRepo, "mindmaps/a.json", env, adapter.WriteOptions{})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	second, err := m.WriteDocument(ctx, demoRepo, "mindmaps/a.json", env, adapter.WriteOptions{ExpectedToken: first.Token})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if second.Token == first.Token {
		t.Error("Expected token to change after update")
	}
}

func TestMemoryAdapter_StaleTokenRejected(t *testing.T) {
	m := NewMemoryAdapter(nil, "demo-alice")
	ctx := context.Background()

	v1, _ := m.WriteDocument(ctx, demoRepo, "mindmaps/a.json", envelope(t, `{"v":1}`), adapter.WriteOptions{})
	v2, _ := m.WriteDocument(ctx, demoRepo, "mindmaps/a.json", envelope(t, `{"v":2}`), adapter.WriteOptions{ExpectedToken: v1.Token})

	_, err := m.WriteDocument(ctx, demoRepo, "mindmaps/a.json", envelope(t, `{"v":3}`), adapter.WriteOptions{ExpectedToken: v1.Token})
	if !errors.Is(err, adapter.ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}

	env, token, _ := m.ReadDocument(ctx, demoRepo, "mindmaps/a.json")
	if token != v2.Token || string(env.Data) != `{"v":2}` {
		t.Errorf("Remote changed after rejected write: token %q data %s", token, env.Data)
	}
}

func TestMemoryAdapter_WriteWithoutTokenNeverOverwrites(t *testing.T) {
	m := NewMemoryAdapter(nil, "demo-alice")
	ctx := context.Background()

	if _, err := m.WriteDocument(ctx, demoRepo, "mindmaps/a.json", envelope(t, `{"v":1}`), adapter.WriteOptions{}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	_, err := m.WriteDocument(ctx, demoRepo, "mindmaps/a.json", envelope(t, `{"v":2}`), adapter.WriteOptions{})
	if adapter.KindOf(err) != adapter.KindConflict {
		t.Errorf("Expected Conflict, got %v", err)
	}
}

func TestMemoryAdapter_ListDocuments(t *testing.T) {
	m := NewMemoryAdapter(nil, "demo-alice")
	ctx := context.Background()

	entries, err := m.ListDocuments(ctx, demoRepo, "mindmaps")
	if err != nil {
		t.Fatalf("ListDocuments on missing dir failed: %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Fatalf("Expected empty, non-nil list, got %v", entries)
	}

	m.WriteDocument(ctx, demoRepo, "mindmaps/b.json", envelope(t, `{}`), adapter.WriteOptions{})
	m.WriteDocument(ctx, demoRepo, "mindmaps/a.json", envelope(t, `{}`), adapter.WriteOptions{})
	m.WriteDocument(ctx, demoRepo, "mindmaps/notes.txt", envelope(t, `{}`), adapter.WriteOptions{})
	m.WriteDocument(ctx, demoRepo, "mindmaps/archive/old.json", envelope(t, `{}`), adapter.WriteOptions{})
	other := demoRepo
	other.Branch = "draft"
	m.WriteDocument(ctx, other, "mindmaps/c.json", envelope(t, `{}`), adapter.WriteOptions{})

	entries, err = m.ListDocuments(ctx, demoRepo, "mindmaps")
	if err != nil {
		t.Fatalf("ListDocuments failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d: %v", len(entries), entries)
	}
	if entries[0].Name != "a.json" || entries[0].Path != "mindmaps/a.json" || entries[0].Token == "" {
		t.Errorf("Unexpected entry %+v", entries[0])
	}
}

func TestMemoryAdapter_DeleteDocument(t *testing.T) {
	m := NewMemoryAdapter(nil, "demo-alice")
	ctx := context.Background()

	res, _ := m.WriteDocument(ctx, demoRepo, "mindmaps/a.json", envelope(t, `{}`), adapter.WriteOptions{})

	tests := []struct {
		name  string
		path  string
		token string
		want  adapter.Kind
	}{
		{"missing token", "mindmaps/a.json", "", adapter.KindBadRequest},
		{"stale token", "mindmaps/a.json", "stale", adapter.KindConflict},
		{"absent document", "mindmaps/nope.json", "x", adapter.KindNotFound},
		{"current token", "mindmaps/a.json", res.Token, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.DeleteDocument(ctx, demoRepo, tt.path, tt.token, adapter.DeleteOptions{})
			if got := adapter.KindOf(err); got != tt.want {
				t.Errorf("Expected kind %q, got %q (%v)", tt.want, got, err)
			}
		})
	}

	if _, _, err := m.ReadDocument(ctx, demoRepo, "mindmaps/a.json"); !errors.Is(err, adapter.ErrNotFound) {
		t.Errorf("Expected document to be gone, got %v", err)
	}
}

func TestMemoryAdapter_RequiresRepository(t *testing.T) {
	m := NewMemoryAdapter(nil, "demo-alice")
	_, err := m.ListDocuments(context.Background(), adapter.RepositoryRef{Owner: "demo-alice"}, "mindmaps")
	if !errors.Is(err, adapter.ErrBadRequest) {
		t.Errorf("Expected ErrBadRequest, got %v", err)
	}
}

func TestMemoryAdapter_VerifyAndRepositories(t *testing.T) {
	m := NewMemoryAdapter(nil, "demo-alice")
	ctx := context.Background()

	id, err := m.VerifyCredential(ctx)
	if err != nil || id.Login != "demo-alice" {
		t.Fatalf("VerifyCredential = %+v, %v", id, err)
	}
	repos, _ := m.ListRepositories(ctx, "private")
	if len(repos) != 1 || repos[0].Name != DemoRepository {
		t.Errorf("Unexpected repositories %+v", repos)
	}
	branches, _ := m.ListBranches(ctx, demoRepo)
	if len(branches) != 1 || branches[0].Name != "main" {
		t.Errorf("Unexpected branches %+v", branches)
	}
}

func TestProvider_OneStorePerCredential(t *testing.T) {
	p := NewProvider(nil)
	ctx := context.Background()

	a1, _ := p.GetAdapter(ctx, "demo-a")
	a2, _ := p.GetAdapter(ctx, "demo-a")
	b, _ := p.GetAdapter(ctx, "demo-b")
	if a1 != a2 {
		t.Error("Expected the same store for the same credential")
	}
	if a1 == b {
		t.Error("Expected distinct stores for distinct credentials")
	}
	if _, err := p.GetAdapter(ctx, ""); !errors.Is(err, adapter.ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized, got %v", err)
	}
	if !IsDemoCredential("demo-a") || IsDemoCredential("ghp_x") {
		t.Error("IsDemoCredential mismatch")
	}
}
