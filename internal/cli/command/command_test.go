package command

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/canvas-sync/internal/api/dto"
	"github.com/spec-kit/canvas-sync/internal/config"
	"github.com/spec-kit/canvas-sync/internal/repository"
	"github.com/spec-kit/canvas-sync/internal/server"
)

func TestAppStructure(t *testing.T) {
	app := App()
	assert.Equal(t, "canvasctl", app.Name)

	names := map[string]*cli.Command{}
	for _, cmd := range app.Commands {
		names[cmd.Name] = cmd
	}
	for _, want := range []string{"signup", "login", "logout", "whoami", "canvas"} {
		assert.Contains(t, names, want)
	}

	var sub []string
	for _, cmd := range names["canvas"].Subcommands {
		sub = append(sub, cmd.Name)
	}
	assert.ElementsMatch(t, []string{"list", "get", "create", "pull", "push", "delete"}, sub)

	flags := map[string]bool{}
	for _, f := range app.Flags {
		flags[f.Names()[0]] = true
	}
	assert.True(t, flags["config"])
	assert.True(t, flags["server"])
	assert.True(t, flags["data-dir"])
}

// harness runs canvasctl invocations against a live server, sharing one data dir.
type harness struct {
	t       *testing.T
	url     string
	dataDir string
	cfgPath string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := repository.NewMemoryStore(nil)
	app := server.New(config.Config{Auth: config.AuthConfig{
		JWTSecret:             "cli-test",
		AccessTokenTTLMinutes: 60,
		BcryptCost:            bcrypt.MinCost,
	}}, server.Dependencies{Users: store.Users(), Canvases: store.Canvases()})
	srv := httptest.NewServer(adaptor.FiberApp(app))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	return &harness{
		t:       t,
		url:     srv.URL,
		dataDir: filepath.Join(dir, "data"),
		cfgPath: filepath.Join(dir, "missing.yaml"),
	}
}

// run executes one invocation and returns stdout and the exit code.
func (h *harness) run(args ...string) (string, int) {
	h.t.Helper()
	var out bytes.Buffer
	code := 0

	app := App()
	app.Writer = &out
	app.ErrWriter = io.Discard
	app.ExitErrHandler = func(_ *cli.Context, err error) {
		if coder, ok := err.(cli.ExitCoder); ok {
			code = coder.ExitCode()
		}
	}

	full := append([]string{"canvasctl", "--config", h.cfgPath, "--server", h.url, "--data-dir", h.dataDir}, args...)
	if err := app.Run(full); err != nil && code == 0 {
		code = 1
	}
	return out.String(), code
}

func decodeStatus(t *testing.T, raw string) statusView {
	t.Helper()
	var v statusView
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestSessionSurvivesAcrossInvocations(t *testing.T) {
	h := newHarness(t)

	out, code := h.run("whoami")
	require.Zero(t, code)
	assert.Equal(t, "anonymous", decodeStatus(t, out).State)

	out, code = h.run("signup", "--email", "cli@example.com", "--password", "pw", "--name", "Cli")
	require.Zero(t, code)
	st := decodeStatus(t, out)
	assert.Equal(t, "authenticated", st.State)
	assert.Equal(t, "cli@example.com", st.Email)

	out, code = h.run("whoami", "--validate")
	require.Zero(t, code)
	st = decodeStatus(t, out)
	assert.Equal(t, "authenticated", st.State)
	assert.True(t, st.Confirmed)
	assert.Equal(t, "Cli", st.Name)

	_, code = h.run("logout")
	require.Zero(t, code)
	out, _ = h.run("whoami")
	assert.Equal(t, "anonymous", decodeStatus(t, out).State)
}

func TestCanvasCommandsRequireLogin(t *testing.T) {
	h := newHarness(t)
	_, code := h.run("canvas", "list")
	assert.Equal(t, 1, code)
}

func TestPullPushRoundTrip(t *testing.T) {
	h := newHarness(t)
	_, code := h.run("signup", "--email", "sync@example.com", "--password", "pw")
	require.Zero(t, code)

	out, code := h.run("canvas", "get")
	require.Zero(t, code)
	var universe dto.Document
	require.NoError(t, json.Unmarshal([]byte(out), &universe))
	require.Len(t, universe.Nodes, 1)

	file := filepath.Join(t.TempDir(), "canvas.json")
	_, code = h.run("canvas", "pull", universe.ID, "--file", file)
	require.Zero(t, code)

	var wf workingFile
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &wf))
	require.NotNil(t, wf.UpdatedAt)
	stale := *wf.UpdatedAt

	wf.Nodes = append(wf.Nodes, json.RawMessage(`{"id":"n2"}`))
	writeJSON(t, file, wf)
	_, code = h.run("canvas", "push", "--file", file)
	require.Zero(t, code)

	// Replay the edit with the old timestamp: the server copy is newer.
	wf.UpdatedAt = &stale
	wf.Nodes = wf.Nodes[:1]
	writeJSON(t, file, wf)
	out, code = h.run("canvas", "push", "--file", file)
	assert.Equal(t, exitConflict, code)
	var conflict dto.ConflictResponse
	require.NoError(t, json.Unmarshal([]byte(out), &conflict))
	assert.True(t, conflict.Conflict)
	assert.Len(t, conflict.Nodes, 2)

	_, code = h.run("canvas", "push", "--file", file, "--on-conflict", "overwrite")
	require.Zero(t, code)
	out, _ = h.run("canvas", "get", universe.ID)
	var final dto.Document
	require.NoError(t, json.Unmarshal([]byte(out), &final))
	assert.Len(t, final.Nodes, 1)
}

func TestCreateListDelete(t *testing.T) {
	h := newHarness(t)
	_, code := h.run("login", "--email", "nobody@example.com", "--password", "pw")
	assert.Equal(t, 1, code)

	_, code = h.run("signup", "--email", "docs@example.com", "--password", "pw")
	require.Zero(t, code)

	out, code := h.run("canvas", "create", "--name", "Plans")
	require.Zero(t, code)
	var doc dto.Document
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "Plans", doc.Name)

	out, code = h.run("canvas", "list")
	require.Zero(t, code)
	var list []dto.DocumentSummary
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.NotEmpty(t, list)

	_, code = h.run("canvas", "delete", doc.ID)
	require.Zero(t, code)
	_, code = h.run("canvas", "get", doc.ID)
	assert.Equal(t, 1, code)
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}
