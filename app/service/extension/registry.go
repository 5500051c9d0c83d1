package extension

import (
	"sync"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/oops"
)

// allowedTransitions encodes the lifecycle state machine:
// discovered -> active|error, active -> unloaded, unloaded|error -> active,
// plus -> error on any failed load attempt.
var allowedTransitions = map[State][]State{
	StateDiscovered: {StateActive, StateError},
	StateActive:     {StateUnloaded, StateError},
	StateUnloaded:   {StateActive, StateError},
	StateError:      {StateActive, StateError},
}

// Registry is the in-memory record of discovered/loaded/error states
// per extension.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*Record),
	}
}

// Discover records an extension in the discovered state. Known names
// keep their current state.
func (r *Registry) Discover(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[name]; ok {
		return
	}

	r.records[name] = &Record{Name: name, State: StateDiscovered}
}

// Describe fills in the metadata reported by a loaded instance.
func (r *Registry) Describe(name, displayName, description, version string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[name]
	if !ok {
		record = &Record{Name: name, State: StateDiscovered}
		r.records[name] = record
	}

	record.DisplayName = displayName
	record.Description = description
	record.Version = version
}

func (r *Registry) Transition(name string, to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[name]
	if !ok {
		return oops.Errorf("unknown extension %q", name)
	}

	for _, allowed := range allowedTransitions[record.State] {
		if allowed == to {
			record.State = to
			return nil
		}
	}

	return oops.Errorf("invalid state transition for %q: %s -> %s", name, record.State, to)
}

func (r *Registry) StateOf(name string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[name]
	if !ok {
		return "", false
	}

	return record.State, true
}

// List returns a snapshot of all records, sorted by name so routing
// prompts enumerate extensions deterministically across platforms.
func (r *Registry) List() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Record, 0, len(r.records))
	for _, record := range r.records {
		result = append(result, *record)
	}

	return pie.SortUsing(result, func(a, b Record) bool {
		return a.Name < b.Name
	})
}
