package api

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

	"github.com/spec-kit/canvas-sync/internal/api/dto"
	"github.com/spec-kit/canvas-sync/internal/config"
	"github.com/spec-kit/canvas-sync/internal/repository"
	"github.com/spec-kit/canvas-sync/internal/server"
	"github.com/spec-kit/canvas-sync/pkg/errorutil"
)

type staticToken string

func (t staticToken) AuthHeader() http.Header {
	return bearer(string(t))
}

func newLiveServer(t *testing.T) *Client {
	t.Helper()
	store := repository.NewMemoryStore(nil)
	app := server.New(config.Config{Auth: config.AuthConfig{
		JWTSecret:             "client-test",
		AccessTokenTTLMinutes: 60,
		BcryptCost:            bcrypt.MinCost,
	}}, server.Dependencies{Users: store.Users(), Canvases: store.Canvases()})
	srv := httptest.NewServer(adaptor.FiberApp(app))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 0)
}

func TestClientAgainstServer(t *testing.T) {
	client := newLiveServer(t)
	ctx := context.Background()

	signup, err := client.Signup(ctx, "c@example.com", "pw", "Client")
	require.NoError(t, err)
	auth := staticToken(signup.Token)

	profile, err := client.Me(ctx, signup.Token)
	require.NoError(t, err)
	assert.Equal(t, signup.Profile, *profile)

	doc, err := client.CreateDocument(ctx, auth, dto.CreateDocumentRequest{})
	require.NoError(t, err)
	assert.Len(t, doc.Nodes, 1)

	base := doc.UpdatedAt
	saved, err := client.SaveDocument(ctx, auth, doc.ID, dto.SaveDocumentRequest{Nodes: json.RawMessage(`[]`), UpdatedAt: &base})
	require.NoError(t, err)
	assert.Empty(t, saved.Nodes)

	_, err = client.SaveDocument(ctx, auth, doc.ID, dto.SaveDocumentRequest{Nodes: json.RawMessage(`[{"id":"x"}]`), UpdatedAt: &base})
	conflict, ok := IsConflict(err)
	require.True(t, ok, "expected conflict, got %v", err)
	assert.Equal(t, saved.UpdatedAt, conflict.Document.UpdatedAt)

	_, err = client.SaveDocument(ctx, auth, doc.ID, dto.SaveDocumentRequest{})
	assert.True(t, IsValidation(err))

	list, err := client.ListDocuments(ctx, auth)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, client.DeleteDocument(ctx, auth, doc.ID))
	_, err = client.GetDocument(ctx, auth, doc.ID)
	assert.True(t, IsNotFound(err))

	universe, err := client.GetUniverse(ctx, auth)
	require.NoError(t, err)
	assert.Equal(t, signup.DefaultCanvasID, universe.ID)

	_, err = client.Login(ctx, "c@example.com", "wrong")
	assert.True(t, IsUnauthorized(err))
	assert.Equal(t, "invalid credentials", errorutil.ToDomainError(err).Message)
}

func TestParseResponseMapsErrors(t *testing.T) {
	err := parseResponse(http.StatusBadGateway, []byte("<html>bad gateway</html>"), nil)
	assert.True(t, IsServerFault(err))
	assert.False(t, IsUnauthorized(err))

	err = parseResponse(http.StatusUnauthorized, []byte(`{"error":{"code":"UNAUTHORIZED","message":"token revoked"}}`), nil)
	assert.True(t, IsUnauthorized(err))
	assert.EqualError(t, err, "token revoked")

	err = parseResponse(http.StatusConflict, []byte(`{"conflict":true,"id":"d1","name":"n","nodes":[],"edges":[],"createdAt":1,"updatedAt":5000}`), nil)
	conflict, ok := IsConflict(err)
	require.True(t, ok)
	assert.Equal(t, int64(5000), conflict.Document.UpdatedAt)
	assert.Equal(t, "d1", conflict.Document.ID)
}

func TestUnreachableServerIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	client := NewClient(srv.URL, 0)

	_, err := client.Me(context.Background(), "token")
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.True(t, transportErr.IsTransient())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.Me(ctx, "token")
	require.ErrorAs(t, err, &transportErr)
	assert.False(t, transportErr.IsTransient())
}
