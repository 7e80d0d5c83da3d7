package document

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillre/mindmap-qoder/internal/adapter"
	"github.com/skillre/mindmap-qoder/internal/adapter/memory"
	"github.com/skillre/mindmap-qoder/internal/revision"
	"github.com/skillre/mindmap-qoder/internal/testutil"
)

var repo = adapter.RepositoryRef{Owner: "demo-alice", Name: memory.DemoRepository}

func newService(t *testing.T) (*Service, *memory.MemoryAdapter, *testutil.StubClock) {
	t.Helper()
	store := memory.NewMemoryAdapter(nil, "demo-alice")
	clk := testutil.FixedClock()
	svc, err := NewService(Config{Store: store, Repo: repo, Clock: clk})
	require.NoError(t, err)
	return svc, store, clk
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(Config{Repo: repo})
	assert.Error(t, err)

	_, err = NewService(Config{Store: memory.NewMemoryAdapter(nil, "x"), Repo: adapter.RepositoryRef{Owner: "x"}})
	assert.ErrorIs(t, err, adapter.ErrBadRequest)
}

func TestService_CreateUsesNamingPolicy(t *testing.T) {
	svc, _, _ := newService(t)
	tr := svc.Create("项目计划")
	assert.Equal(t, "mindmaps/项目计划_20240301T100000.json", tr.Path())
	assert.Equal(t, revision.Unsaved, tr.State())
}

func TestService_SaveOpenRoundTrip(t *testing.T) {
	svc, _, clk := newService(t)
	ctx := context.Background()
	tr := svc.Create("Plan")

	res, err := svc.Save(ctx, tr, json.RawMessage(`{"root":{"data":{"text":"Plan"}}}`), "")
	require.NoError(t, err)
	assert.Equal(t, res.Token, tr.Token())
	assert.Equal(t, revision.Saved, tr.State())

	clk.Advance(time.Hour)
	res2, err := svc.Save(ctx, tr, json.RawMessage(`{"root":{"data":{"text":"Plan v2"}}}`), "")
	require.NoError(t, err)
	assert.NotEqual(t, res.Token, res2.Token)

	opened, err := svc.Open(ctx, tr.Path())
	require.NoError(t, err)
	assert.Equal(t, res2.Token, opened.Token())
	env := opened.Envelope()
	assert.Equal(t, `{"root":{"data":{"text":"Plan v2"}}}`, string(env.Data))
	assert.Equal(t, "2024-03-01T10:00:00.000Z", env.Metadata.Created)
	assert.Equal(t, "2024-03-01T11:00:00.000Z", env.Metadata.Modified)
	assert.Equal(t, "demo-alice", env.Metadata.Author)
}

func TestService_ConflictLeavesRemoteUnchanged(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	mine := svc.Create("shared")
	_, err := svc.Save(ctx, mine, json.RawMessage(`{"v":1}`), "")
	require.NoError(t, err)

	theirs, err := svc.Open(ctx, mine.Path())
	require.NoError(t, err)
	theirRes, err := svc.Save(ctx, theirs, json.RawMessage(`{"v":"theirs"}`), "")
	require.NoError(t, err)

	staleToken := mine.Token()
	_, err = svc.Save(ctx, mine, json.RawMessage(`{"v":"mine"}`), "")
	require.ErrorIs(t, err, adapter.ErrConflict)
	assert.Equal(t, revision.Conflicted, mine.State())
	assert.Equal(t, staleToken, mine.Token())

	env, token, err := store.ReadDocument(ctx, repo, mine.Path())
	require.NoError(t, err)
	assert.Equal(t, theirRes.Token, token)
	assert.Equal(t, `{"v":"theirs"}`, string(env.Data))

	_, err = svc.Save(ctx, mine, json.RawMessage(`{"v":"mine"}`), "")
	assert.ErrorIs(t, err, revision.ErrConflicted)

	reloaded, err := svc.Reload(ctx, mine)
	require.NoError(t, err)
	assert.Equal(t, `{"v":"theirs"}`, string(reloaded.Data))
	_, err = svc.Save(ctx, mine, json.RawMessage(`{"v":"merged"}`), "")
	assert.NoError(t, err)
}

func TestService_SaveInvalidPayload(t *testing.T) {
	svc, _, _ := newService(t)
	tr := svc.Create("bad")

	_, err := svc.Save(context.Background(), tr, json.RawMessage(`{nope`), "")
	assert.ErrorIs(t, err, adapter.ErrBadRequest)
	assert.Equal(t, revision.Unsaved, tr.State())
	assert.False(t, tr.Snapshot().InFlight)
}

func TestService_DeleteAndList(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	entries, err := svc.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, entries)

	tr := svc.Create("gone")
	assert.ErrorIs(t, svc.Delete(ctx, tr, ""), revision.ErrNoToken)

	_, err = svc.Save(ctx, tr, json.RawMessage(`{}`), "")
	require.NoError(t, err)
	entries, err = svc.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, svc.Delete(ctx, tr, ""))
	assert.Equal(t, revision.Unsaved, tr.State())
	entries, err = svc.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestService_Check(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	tr := svc.Create("check")
	res, err := svc.Check(ctx, tr)
	require.NoError(t, err)
	assert.False(t, res.Conflict)

	_, err = svc.Save(ctx, tr, json.RawMessage(`{}`), "")
	require.NoError(t, err)
	res, err = svc.Check(ctx, tr)
	require.NoError(t, err)
	assert.False(t, res.Conflict)
	assert.Equal(t, tr.Token(), res.RemoteToken)

	other, err := svc.Open(ctx, tr.Path())
	require.NoError(t, err)
	_, err = svc.Save(ctx, other, json.RawMessage(`{"x":1}`), "")
	require.NoError(t, err)

	res, err = svc.Check(ctx, tr)
	require.NoError(t, err)
	assert.True(t, res.Conflict)
}

func TestService_Resume(t *testing.T) {
	svc, _, clk := newService(t)
	ctx := context.Background()

	fresh, err := svc.Resume(ctx, "mindmaps/a.json", "")
	require.NoError(t, err)
	assert.Equal(t, revision.Unsaved, fresh.State())

	_, err = svc.Resume(ctx, "mindmaps/a.json", "gone")
	assert.ErrorIs(t, err, adapter.ErrConflict, "a token for a missing document is stale")

	_, err = svc.Save(ctx, fresh, json.RawMessage(`{"root":{"data":{"text":"A"}}}`), "")
	require.NoError(t, err)
	created := fresh.Envelope().Metadata.Created

	clk.Advance(time.Hour)
	tr, err := svc.Resume(ctx, "mindmaps/a.json", fresh.Token())
	require.NoError(t, err)
	_, err = svc.Save(ctx, tr, json.RawMessage(`{"root":{"data":{"text":"A2"}}}`), "")
	require.NoError(t, err)
	assert.Equal(t, created, tr.Envelope().Metadata.Created)
	assert.NotEqual(t, created, tr.Envelope().Metadata.Modified)

	_, err = svc.Resume(ctx, "mindmaps/a.json", fresh.Token())
	assert.ErrorIs(t, err, adapter.ErrConflict)
}
