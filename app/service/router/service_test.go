package router

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"lifelog/app/access"
	"lifelog/app/service/extension"
	"lifelog/app/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDecider struct {
	decision *Decision
	err      error
}

func (d *stubDecider) Decide(ctx context.Context, prompt string) (*Decision, error) {
	if d.err != nil {
		return nil, d.err
	}

	return d.decision, nil
}

type financeStub struct {
	execErr error
}

func (f *financeStub) Name() string        { return "finance" }
func (f *financeStub) DisplayName() string { return "Finance" }
func (f *financeStub) Description() string { return "income and expense records" }
func (f *financeStub) Version() string     { return "1.0.0" }

func (f *financeStub) Initialize(ctx context.Context, deps extension.Deps) error { return nil }

func (f *financeStub) Execute(ctx context.Context, req access.Request, state map[string]any, params map[string]any) (access.Response, error) {
	if f.execErr != nil {
		return access.Response{}, f.execErr
	}

	amount := params["amount"]

	return access.Response{
		Success:  true,
		Message:  fmt.Sprintf("recorded expense of %v", amount),
		Metadata: map[string]any{},
	}, nil
}

func (f *financeStub) Shutdown(ctx context.Context) error { return nil }

func newTestRouter(t *testing.T, decider Decider, ext *financeStub) (*Service, *storage.Store) {
	t.Helper()

	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Shutdown() })

	manager := extension.NewManager(t.TempDir(), extension.Deps{Store: store})
	manager.RegisterBuiltin("finance", func() extension.Extension { return ext })
	require.True(t, manager.Load(context.Background(), "finance"))

	return NewService(store, manager, decider), store
}

func turnCount(t *testing.T, store *storage.Store, userID string) int {
	t.Helper()

	ctx := context.Background()

	sess, err := store.Acquire(ctx)
	require.NoError(t, err)
	defer sess.Close()

	count, err := sess.TurnCount(ctx, userID)
	require.NoError(t, err)

	return count
}

func TestRouteRecordsTurnOnSuccess(t *testing.T) {
	ctx := context.Background()

	decider := &stubDecider{decision: &Decision{
		Success:       true,
		ExtensionName: "finance",
		Action:        "add",
		Params:        map[string]any{"amount": 50},
	}}

	svc, store := newTestRouter(t, decider, &financeStub{})

	response := svc.Route(ctx, access.Request{
		UserID:  "u1",
		Text:    "today I spent 50 on lunch",
		Channel: access.ChannelBot,
	})

	require.True(t, response.Success)
	assert.Contains(t, response.Message, "50")

	sess, err := store.Acquire(ctx)
	require.NoError(t, err)
	defer sess.Close()

	turns, err := sess.RecentTurns(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "finance", turns[0].Domain)
	assert.Equal(t, "add", turns[0].Intent)
	assert.Equal(t, "today I spent 50 on lunch", turns[0].UserInput)
}

func TestRouteDecisionFailureLeavesHistoryUnchanged(t *testing.T) {
	ctx := context.Background()

	decider := &stubDecider{err: errors.New("model timeout")}
	svc, store := newTestRouter(t, decider, &financeStub{})

	before := turnCount(t, store, "u1")

	response := svc.Route(ctx, access.Request{UserID: "u1", Text: "hello"})

	assert.False(t, response.Success)
	assert.Contains(t, response.Error, "routing decision failed")
	assert.Equal(t, before, turnCount(t, store, "u1"))
}

func TestRouteUnsuccessfulDecisionLeavesHistoryUnchanged(t *testing.T) {
	ctx := context.Background()

	decider := &stubDecider{decision: &Decision{Success: false, Error: "gibberish input"}}
	svc, store := newTestRouter(t, decider, &financeStub{})

	response := svc.Route(ctx, access.Request{UserID: "u1", Text: "asdfgh"})

	assert.False(t, response.Success)
	assert.Contains(t, response.Error, "gibberish input")
	assert.Equal(t, 0, turnCount(t, store, "u1"))
}

func TestRouteUnknownExtensionRecordsNoTurn(t *testing.T) {
	ctx := context.Background()

	decider := &stubDecider{decision: &Decision{
		Success:       true,
		ExtensionName: "ghost",
		Action:        "add",
	}}

	svc, store := newTestRouter(t, decider, &financeStub{})

	response := svc.Route(ctx, access.Request{UserID: "u1", Text: "track my sleep"})

	assert.False(t, response.Success)
	assert.Contains(t, response.Error, "ghost")
	assert.Equal(t, 0, turnCount(t, store, "u1"))
}

func TestRouteExtensionFailureStillRecordsTurn(t *testing.T) {
	ctx := context.Background()

	decider := &stubDecider{decision: &Decision{
		Success:       true,
		ExtensionName: "finance",
		Action:        "add",
	}}

	svc, store := newTestRouter(t, decider, &financeStub{execErr: errors.New("db locked")})

	response := svc.Route(ctx, access.Request{UserID: "u1", Text: "spent 20 on coffee"})

	assert.False(t, response.Success)
	assert.Contains(t, response.Error, "finance")
	assert.Equal(t, 1, turnCount(t, store, "u1"), "extension failures are part of the history")
}

func TestFormatTranscript(t *testing.T) {
	assert.Equal(t, "(no recent conversation)", formatTranscript(nil))

	// RecentTurns returns most-recent-first, the transcript renders
	// oldest first.
	turns := []storage.Turn{
		{UserInput: "and yesterday?", Response: "you spent 20", Domain: "finance"},
		{UserInput: "spent 50 today", Response: "recorded", Domain: "finance"},
	}

	assert.Equal(t,
		"user: spent 50 today\nsystem: recorded [finance]\nuser: and yesterday?\nsystem: you spent 20 [finance]\n",
		formatTranscript(turns))
}
