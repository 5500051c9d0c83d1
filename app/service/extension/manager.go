package extension

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"lifelog/app/client/ai"
	"lifelog/app/config"
	"lifelog/app/storage"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/do"
)

// entryFile is the recognized entry point a scripted extension
// directory must contain.
const entryFile = "extension.go"

type Manager struct {
	dir  string
	deps Deps

	registry *Registry
	scripts  *scriptLoader

	mu       sync.RWMutex
	live     map[string]Extension
	builtins map[string]Factory
}

func New(di *do.Injector) (*Manager, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return NewManager(cfg.Extensions.Dir, Deps{
		Store: do.MustInvoke[*storage.Store](di),
		AI:    do.MustInvoke[*ai.Client](di),
	}), nil
}

func NewManager(dir string, deps Deps) *Manager {
	return &Manager{
		dir:      dir,
		deps:     deps,
		registry: NewRegistry(),
		scripts:  newScriptLoader(),
		live:     make(map[string]Extension),
		builtins: make(map[string]Factory),
	}
}

// RegisterBuiltin makes a compiled-in extension discoverable under the
// given name. Called from the composition root before LoadAll.
func (m *Manager) RegisterBuiltin(name string, factory Factory) {
	m.mu.Lock()
	m.builtins[name] = factory
	m.mu.Unlock()

	m.registry.Discover(name)
}

// Discover scans the extension directory for subdirectories containing
// the entry-point file and returns their names together with the
// registered builtins, sorted for determinism.
func (m *Manager) Discover() []string {
	m.mu.RLock()
	names := pie.Keys(m.builtins)
	m.mu.RUnlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Failed to read extension directory", "dir", m.dir, "error", err)
		}
	} else {
		for _, dirEntry := range entries {
			if !dirEntry.IsDir() {
				continue
			}

			if _, err = os.Stat(filepath.Join(m.dir, dirEntry.Name(), entryFile)); err != nil {
				continue
			}

			names = append(names, dirEntry.Name())
		}
	}

	names = pie.Sort(pie.Unique(names))

	for _, name := range names {
		m.registry.Discover(name)
	}

	slog.Info("Discovered extensions", "count", len(names), "names", names)

	return names
}

// LoadAll discovers and loads every extension. The failure of one
// extension never aborts loading of the others; the aggregate success
// count is returned.
func (m *Manager) LoadAll(ctx context.Context) int {
	loaded := 0

	for _, name := range m.Discover() {
		if m.Load(ctx, name) {
			loaded++
		}
	}

	slog.Info("Extension load pass finished", "loaded", loaded)

	return loaded
}

// Load resolves the extension's implementation (builtin factory first,
// scripted unit otherwise), initializes it and registers the live
// instance. Any failure transitions the extension to the error state.
func (m *Manager) Load(ctx context.Context, name string) bool {
	m.registry.Discover(name)

	instance, err := m.resolve(name)
	if err != nil {
		slog.Error("Failed to resolve extension", "name", name, "error", err)
		_ = m.registry.Transition(name, StateError)
		return false
	}

	if err = instance.Initialize(ctx, m.deps); err != nil {
		slog.Error("Failed to initialize extension", "name", name, "error", err)
		_ = m.registry.Transition(name, StateError)
		return false
	}

	m.registry.Describe(name, instance.DisplayName(), instance.Description(), instance.Version())

	if err = m.registry.Transition(name, StateActive); err != nil {
		slog.Error("Failed to activate extension", "name", name, "error", err)
		return false
	}

	m.mu.Lock()
	m.live[name] = instance
	m.mu.Unlock()

	slog.Info("Loaded extension",
		"name", name,
		"display_name", instance.DisplayName(),
		"version", instance.Version())

	return true
}

// Unload shuts the extension down and removes it from the live set.
func (m *Manager) Unload(ctx context.Context, name string) bool {
	m.mu.Lock()
	instance, ok := m.live[name]
	if ok {
		delete(m.live, name)
	}
	m.mu.Unlock()

	if !ok {
		slog.Warn("Extension not loaded", "name", name)
		return false
	}

	if err := instance.Shutdown(ctx); err != nil {
		slog.Error("Extension shutdown failed", "name", name, "error", err)
	}

	if err := m.registry.Transition(name, StateUnloaded); err != nil {
		slog.Error("Failed to mark extension unloaded", "name", name, "error", err)
		return false
	}

	slog.Info("Unloaded extension", "name", name)

	return true
}

// Reload unloads the extension if present, evicts its cached scripted
// unit so the current on-disk implementation is re-read, and loads it
// again. This is the only way to pick up code changes without a
// process restart; a reload of a builtin re-instantiates from its
// factory and cannot observe compiled-code changes.
func (m *Manager) Reload(ctx context.Context, name string) bool {
	slog.Info("Reloading extension", "name", name)

	m.mu.RLock()
	_, loaded := m.live[name]
	m.mu.RUnlock()

	if loaded {
		m.Unload(ctx, name)
	}

	m.scripts.Evict(name)

	return m.Load(ctx, name)
}

// Get returns the live instance, or nil if the extension is not
// active. Callers should capture the handle once per request; a reload
// occurring mid-flight lets an in-progress call finish against the
// pre-reload instance.
func (m *Manager) Get(name string) Extension {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.live[name]
}

// List reports all known extensions with their registry state, sorted
// by name.
func (m *Manager) List() []Record {
	return m.registry.List()
}

func (m *Manager) resolve(name string) (Extension, error) {
	m.mu.RLock()
	factory, ok := m.builtins[name]
	m.mu.RUnlock()

	if ok {
		return factory(), nil
	}

	return m.scripts.Load(name, filepath.Join(m.dir, name, entryFile))
}

// Shutdown unloads every live extension, used on process stop.
func (m *Manager) Shutdown() error {
	ctx := context.Background()

	m.mu.RLock()
	names := pie.Keys(m.live)
	m.mu.RUnlock()

	for _, name := range names {
		m.Unload(ctx, name)
	}

	return nil
}
