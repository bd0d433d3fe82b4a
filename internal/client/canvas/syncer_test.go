package canvas

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/canvas-sync/internal/client/api"
	"github.com/spec-kit/canvas-sync/internal/config"
	"github.com/spec-kit/canvas-sync/internal/repository"
	"github.com/spec-kit/canvas-sync/internal/server"
)

type bearerToken string

func (t bearerToken) AuthHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+string(t))
	return h
}

func newSyncers(t *testing.T) (*Syncer, *Syncer, string) {
	t.Helper()
	store := repository.NewMemoryStore(nil)
	app := server.New(config.Config{Auth: config.AuthConfig{
		JWTSecret:             "sync-test",
		AccessTokenTTLMinutes: 60,
		BcryptCost:            bcrypt.MinCost,
	}}, server.Dependencies{Users: store.Users(), Canvases: store.Canvases()})
	srv := httptest.NewServer(adaptor.FiberApp(app))
	t.Cleanup(srv.Close)

	client := api.NewClient(srv.URL, 0)
	res, err := client.Signup(context.Background(), "s@example.com", "pw", "")
	require.NoError(t, err)
	token := bearerToken(res.Token)
	return NewSyncer(client, token, nil), NewSyncer(client, token, nil), res.DefaultCanvasID
}

func nodes(ids ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(ids))
	for i, id := range ids {
		out[i] = json.RawMessage(`{"id":"` + id + `"}`)
	}
	return out
}

func TestPushAcceptedResyncsWorkingCopy(t *testing.T) {
	laptop, _, id := newSyncers(t)
	ctx := context.Background()

	wc, err := laptop.Pull(ctx, id)
	require.NoError(t, err)
	before := *wc.UpdatedAt
	wc.Nodes = nodes("core", "a")

	out, err := laptop.Push(ctx, &wc)
	require.NoError(t, err)
	assert.Equal(t, Accepted, out.Status)
	assert.Greater(t, *wc.UpdatedAt, before)
	assert.Equal(t, out.Authoritative.UpdatedAt, *wc.UpdatedAt)
	assert.Len(t, wc.Nodes, 2)
}

func TestStalePushConflictsAndLeavesWorkingCopy(t *testing.T) {
	laptop, phone, id := newSyncers(t)
	ctx := context.Background()

	a, err := laptop.Pull(ctx, id)
	require.NoError(t, err)
	b, err := phone.Pull(ctx, id)
	require.NoError(t, err)

	a.Nodes = nodes("from-laptop")
	_, err = laptop.Push(ctx, &a)
	require.NoError(t, err)

	b.Nodes = nodes("from-phone", "extra")
	local := b.Clone()
	out, err := phone.Push(ctx, &b)
	require.NoError(t, err)
	assert.Equal(t, Conflict, out.Status)
	assert.Equal(t, local, b)
	assert.Equal(t, *a.UpdatedAt, out.Authoritative.UpdatedAt)
	assert.Equal(t, nodes("from-laptop"), out.Authoritative.Nodes)

	// Keeping the server copy adopts it locally.
	kept := b.Clone()
	resolved, err := phone.Resolve(ctx, &kept, out, KeepServer)
	require.NoError(t, err)
	assert.Equal(t, Accepted, resolved.Status)
	assert.Equal(t, nodes("from-laptop"), kept.Nodes)
	assert.Equal(t, *a.UpdatedAt, *kept.UpdatedAt)

	// Overwriting pushes local content on top of the server copy.
	resolved, err = phone.Resolve(ctx, &b, out, Overwrite)
	require.NoError(t, err)
	assert.Equal(t, Accepted, resolved.Status)
	assert.Greater(t, *b.UpdatedAt, *a.UpdatedAt)

	stored, err := laptop.Pull(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, nodes("from-phone", "extra"), stored.Nodes)
}

func TestResolveRejectsNonConflict(t *testing.T) {
	laptop, _, _ := newSyncers(t)
	wc := WorkingCopy{}
	_, err := laptop.Resolve(context.Background(), &wc, Outcome{Status: Accepted}, KeepServer)
	assert.Error(t, err)
}

func TestPullUnknownDocument(t *testing.T) {
	laptop, _, _ := newSyncers(t)
	_, err := laptop.Pull(context.Background(), "00000000-0000-0000-0000-000000000000")
	require.Error(t, err)
	assert.True(t, api.IsNotFound(err))
}
