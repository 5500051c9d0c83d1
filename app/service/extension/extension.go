// Package extension manages the lifecycle of domain extensions:
// discovery, load, unload and zero-downtime hot-reload of scripted
// extensions, plus the registry tracking per-extension state.
package extension

import (
	"context"

	"lifelog/app/access"
	"lifelog/app/client/ai"
	"lifelog/app/storage"
)

// Extension is the capability contract every domain handler implements.
// Description is used verbatim in AI routing prompts.
type Extension interface {
	Name() string
	DisplayName() string
	Description() string
	Version() string

	Initialize(ctx context.Context, deps Deps) error
	Execute(ctx context.Context, req access.Request, state map[string]any, params map[string]any) (access.Response, error)
	Shutdown(ctx context.Context) error
}

// Deps are the collaborators handed to an extension on initialize.
type Deps struct {
	Store *storage.Store
	AI    *ai.Client
}

// Factory builds a fresh instance of a compiled-in extension. Builtins
// are registered explicitly instead of being discovered on disk; a
// reload re-instantiates from the factory, which cannot pick up code
// changes the way a scripted reload does.
type Factory func() Extension

// ActionKey is the reserved params key the router stores the decided
// action under when invoking an extension.
const ActionKey = "action"

type State string

const (
	StateDiscovered State = "discovered"
	StateActive     State = "active"
	StateError      State = "error"
	StateUnloaded   State = "unloaded"
)

// Record is the registry's view of one extension.
type Record struct {
	Name        string
	DisplayName string
	Description string
	Version     string
	State       State
}
