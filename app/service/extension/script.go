package extension

import (
	"context"
	"fmt"
	"os"
	"sync"

	"lifelog/app/access"
	"lifelog/app/service/query"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// Scripted extensions are plain Go source files interpreted with yaegi
// (stdlib imports only). A script declares package "extension" and
// exports:
//
//	func Describe() map[string]string
//	func Init(query func(sql, userID string) ([]map[string]any, error),
//	          ask func(prompt string) (string, error)) error
//	func Execute(userID, text string, state, params map[string]any) (map[string]any, error)
//	func Shutdown() error
//
// Using only plain types keeps the host/interpreter boundary free of
// wrapper generation: each symbol is fetched by name and asserted to
// its func type.
type scriptProgram struct {
	describe func() map[string]string
	init     func(func(string, string) ([]map[string]any, error), func(string) (string, error)) error
	execute  func(string, string, map[string]any, map[string]any) (map[string]any, error)
	shutdown func() error
}

// scriptLoader caches evaluated scripted units by extension identity.
// A plain Load reuses the cached unit even if the file changed on
// disk; Reload evicts first, which is what makes hot-reload pick up
// the current implementation.
type scriptLoader struct {
	mu    sync.Mutex
	cache map[string]*scriptProgram
}

func newScriptLoader() *scriptLoader {
	return &scriptLoader{
		cache: make(map[string]*scriptProgram),
	}
}

func (l *scriptLoader) Load(name, path string) (Extension, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	program, ok := l.cache[name]
	if !ok {
		var err error

		program, err = evalScript(path)
		if err != nil {
			return nil, err
		}

		l.cache[name] = program
	}

	return &scriptExtension{name: name, program: program}, nil
}

func (l *scriptLoader) Evict(name string) {
	l.mu.Lock()
	delete(l.cache, name)
	l.mu.Unlock()
}

func evalScript(path string) (*scriptProgram, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read extension source: %w", err)
	}

	i := interp.New(interp.Options{})
	if err = i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load stdlib symbols: %w", err)
	}

	if _, err = i.Eval(string(src)); err != nil {
		return nil, fmt.Errorf("failed to evaluate extension source: %w", err)
	}

	program := &scriptProgram{}

	if program.describe, err = symbol[func() map[string]string](i, "extension.Describe"); err != nil {
		return nil, err
	}
	if program.init, err = symbol[func(func(string, string) ([]map[string]any, error), func(string) (string, error)) error](i, "extension.Init"); err != nil {
		return nil, err
	}
	if program.execute, err = symbol[func(string, string, map[string]any, map[string]any) (map[string]any, error)](i, "extension.Execute"); err != nil {
		return nil, err
	}
	if program.shutdown, err = symbol[func() error](i, "extension.Shutdown"); err != nil {
		return nil, err
	}

	return program, nil
}

func symbol[T any](i *interp.Interpreter, name string) (T, error) {
	var zero T

	v, err := i.Eval(name)
	if err != nil {
		return zero, fmt.Errorf("symbol %s not found: %w", name, err)
	}

	fn, ok := v.Interface().(T)
	if !ok {
		return zero, fmt.Errorf("symbol %s has incorrect signature", name)
	}

	return fn, nil
}

// scriptExtension adapts an evaluated scripted unit to the Extension
// contract.
type scriptExtension struct {
	name    string
	program *scriptProgram
	meta    map[string]string
}

func (s *scriptExtension) Name() string { return s.name }

func (s *scriptExtension) DisplayName() string { return s.metaValue("display_name", s.name) }

func (s *scriptExtension) Description() string { return s.metaValue("description", "") }

func (s *scriptExtension) Version() string { return s.metaValue("version", "0.0.0") }

func (s *scriptExtension) metaValue(key, fallback string) string {
	if s.meta == nil {
		s.meta = s.program.describe()
	}
	if value := s.meta[key]; value != "" {
		return value
	}

	return fallback
}

func (s *scriptExtension) Initialize(ctx context.Context, deps Deps) error {
	s.meta = s.program.describe()

	// The plain-types boundary cannot carry a per-request context, so
	// host calls run under the context the extension was loaded with
	// and stop when it is cancelled.
	queryFn := func(sql, userID string) ([]map[string]any, error) {
		sess, err := deps.Store.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		defer sess.Close()

		rows, _, err := query.Execute(ctx, sess, sql, userID, query.DefaultMaxRows)

		return rows, err
	}

	askFn := func(prompt string) (string, error) {
		return deps.AI.Complete(ctx, prompt)
	}

	return s.program.init(queryFn, askFn)
}

func (s *scriptExtension) Execute(ctx context.Context, req access.Request, state map[string]any, params map[string]any) (access.Response, error) {
	result, err := s.program.execute(req.UserID, req.Text, state, params)
	if err != nil {
		return access.Response{}, err
	}

	return responseFromMap(result), nil
}

func (s *scriptExtension) Shutdown(ctx context.Context) error {
	return s.program.shutdown()
}

func responseFromMap(result map[string]any) access.Response {
	response := access.Response{
		Success:  true,
		Metadata: map[string]any{},
	}

	if success, ok := result["success"].(bool); ok {
		response.Success = success
	}
	if message, ok := result["message"].(string); ok {
		response.Message = message
	}
	if errText, ok := result["error"].(string); ok {
		response.Error = errText
	}
	if data, ok := result["data"].(map[string]any); ok {
		response.Data = data
	}
	if metadata, ok := result["metadata"].(map[string]any); ok {
		response.Metadata = metadata
	}

	return response
}
