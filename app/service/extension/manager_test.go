package extension

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lifelog/app/access"
	"lifelog/app/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scriptTemplate = `package extension

func Describe() map[string]string {
	return map[string]string{
		"display_name": "Mood",
		"description":  "tracks daily mood entries",
		"version":      "VERSION",
	}
}

func Init(query func(sql, userID string) ([]map[string]any, error), ask func(prompt string) (string, error)) error {
	return nil
}

func Execute(userID, text string, state map[string]any, params map[string]any) (map[string]any, error) {
	return map[string]any{"success": true, "message": "MESSAGE"}, nil
}

func Shutdown() error { return nil }
`

const brokenScript = `package extension

import "errors"

func Describe() map[string]string {
	return map[string]string{"display_name": "Broken"}
}

func Init(query func(sql, userID string) ([]map[string]any, error), ask func(prompt string) (string, error)) error {
	return errors.New("boom")
}

func Execute(userID, text string, state map[string]any, params map[string]any) (map[string]any, error) {
	return nil, nil
}

func Shutdown() error { return nil }
`

const countingScript = `package extension

var queryFn func(sql, userID string) ([]map[string]any, error)

func Describe() map[string]string {
	return map[string]string{"display_name": "Journal", "version": "1.0.0"}
}

func Init(query func(sql, userID string) ([]map[string]any, error), ask func(prompt string) (string, error)) error {
	queryFn = query
	return nil
}

func Execute(userID, text string, state map[string]any, params map[string]any) (map[string]any, error) {
	rows, err := queryFn("SELECT COUNT(*) AS n FROM conversation_turns WHERE user_id = {user_id}", userID)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}, nil
	}
	return map[string]any{"success": true, "message": "counted", "data": map[string]any{"rows": len(rows)}}, nil
}

func Shutdown() error { return nil }
`

func writeScript(t *testing.T, dir, name, version, message string) {
	t.Helper()

	extDir := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(extDir, 0755))

	src := strings.ReplaceAll(scriptTemplate, "VERSION", version)
	src = strings.ReplaceAll(src, "MESSAGE", message)

	require.NoError(t, os.WriteFile(filepath.Join(extDir, entryFile), []byte(src), 0644))
}

func TestDiscoverReturnsSortedNames(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "zeta", "1.0.0", "z")
	writeScript(t, dir, "alpha", "1.0.0", "a")

	manager := NewManager(dir, Deps{})
	manager.RegisterBuiltin("mid", func() Extension { return &stubExtension{name: "mid"} })

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, manager.Discover())
}

func TestLoadFailureIsIsolated(t *testing.T) {
	ctx := context.Background()

	dir := t.TempDir()
	writeScript(t, dir, "mood", "1.0.0", "feeling good")

	brokenDir := filepath.Join(dir, "broken")
	require.NoError(t, os.MkdirAll(brokenDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(brokenDir, entryFile), []byte(brokenScript), 0644))

	manager := NewManager(dir, Deps{})

	loaded := manager.LoadAll(ctx)
	assert.Equal(t, 1, loaded)

	state, ok := manager.registry.StateOf("mood")
	require.True(t, ok)
	assert.Equal(t, StateActive, state)

	state, ok = manager.registry.StateOf("broken")
	require.True(t, ok)
	assert.Equal(t, StateError, state)

	assert.NotNil(t, manager.Get("mood"))
	assert.Nil(t, manager.Get("broken"))
}

func TestReloadPicksUpChangedScript(t *testing.T) {
	ctx := context.Background()

	dir := t.TempDir()
	writeScript(t, dir, "mood", "1.0.0", "old reply")

	manager := NewManager(dir, Deps{})
	require.True(t, manager.Load(ctx, "mood"))

	req := access.Request{UserID: "u1", Text: "how am I doing"}

	response, err := manager.Get("mood").Execute(ctx, req, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "old reply", response.Message)

	writeScript(t, dir, "mood", "2.0.0", "new reply")

	// A plain load keeps serving the cached unit.
	require.True(t, manager.Unload(ctx, "mood"))
	require.True(t, manager.Load(ctx, "mood"))

	response, err = manager.Get("mood").Execute(ctx, req, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "old reply", response.Message)

	// Reload evicts the cached unit and re-reads the file.
	require.True(t, manager.Reload(ctx, "mood"))

	instance := manager.Get("mood")
	require.NotNil(t, instance)
	assert.Equal(t, "2.0.0", instance.Version())

	response, err = instance.Execute(ctx, req, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "new reply", response.Message)
}

func TestScriptHostCallsFollowLoadContext(t *testing.T) {
	dir := t.TempDir()
	extDir := filepath.Join(dir, "journal")
	require.NoError(t, os.MkdirAll(extDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(extDir, entryFile), []byte(countingScript), 0644))

	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Shutdown() })

	manager := NewManager(dir, Deps{Store: store})

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, manager.Load(ctx, "journal"))

	req := access.Request{UserID: "u1", Text: "how many entries"}

	response, err := manager.Get("journal").Execute(context.Background(), req, nil, nil)
	require.NoError(t, err)
	assert.True(t, response.Success)

	// Cancelling the load context stops host-side queries.
	cancel()

	response, err = manager.Get("journal").Execute(context.Background(), req, nil, nil)
	require.NoError(t, err)
	assert.False(t, response.Success)
	assert.Contains(t, response.Error, "context canceled")
}

func TestUnloadNotLoaded(t *testing.T) {
	manager := NewManager(t.TempDir(), Deps{})

	assert.False(t, manager.Unload(context.Background(), "ghost"))
}

func TestBuiltinLifecycle(t *testing.T) {
	ctx := context.Background()

	manager := NewManager(t.TempDir(), Deps{})
	manager.RegisterBuiltin("finance", func() Extension {
		return &stubExtension{name: "finance", version: "1.0.0"}
	})

	require.True(t, manager.Load(ctx, "finance"))

	records := manager.List()
	require.Len(t, records, 1)
	assert.Equal(t, StateActive, records[0].State)

	require.True(t, manager.Unload(ctx, "finance"))

	state, _ := manager.registry.StateOf("finance")
	assert.Equal(t, StateUnloaded, state)

	require.True(t, manager.Reload(ctx, "finance"))

	state, _ = manager.registry.StateOf("finance")
	assert.Equal(t, StateActive, state)
}

type stubExtension struct {
	name    string
	version string
	initErr error
}

func (s *stubExtension) Name() string        { return s.name }
func (s *stubExtension) DisplayName() string { return s.name }
func (s *stubExtension) Description() string { return "stub extension" }
func (s *stubExtension) Version() string     { return s.version }

func (s *stubExtension) Initialize(ctx context.Context, deps Deps) error {
	return s.initErr
}

func (s *stubExtension) Execute(ctx context.Context, req access.Request, state map[string]any, params map[string]any) (access.Response, error) {
	return access.Response{Success: true, Message: "stub: " + req.Text}, nil
}

func (s *stubExtension) Shutdown(ctx context.Context) error { return nil }
