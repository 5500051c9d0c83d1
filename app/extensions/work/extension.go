// Package work is the builtin extension for work-hour tracking.
package work

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"lifelog/app/access"
	"lifelog/app/service/extension"
	"lifelog/app/service/query"
	"lifelog/app/storage"

	_ "embed"
)

//go:embed query_prompt_template.txt
var queryPromptTemplate string

type Extension struct {
	deps extension.Deps
}

func New() extension.Extension {
	return &Extension{}
}

func (e *Extension) Name() string        { return "work" }
func (e *Extension) DisplayName() string { return "Work" }

func (e *Extension) Description() string {
	return "Work time tracking. Handles adding work records (hours spent, what was " +
		"done, date) and querying them: total hours, work summaries over date ranges."
}

func (e *Extension) Version() string { return "1.0.0" }

func (e *Extension) Initialize(ctx context.Context, deps extension.Deps) error {
	e.deps = deps

	return nil
}

func (e *Extension) Execute(ctx context.Context, req access.Request, state map[string]any, params map[string]any) (access.Response, error) {
	action, _ := params[extension.ActionKey].(string)

	switch action {
	case "add":
		return e.addRecord(ctx, req, params)
	case "query":
		return e.queryWithAI(ctx, req)
	default:
		return access.Errorf("unknown work action: %q", action), nil
	}
}

func (e *Extension) Shutdown(ctx context.Context) error { return nil }

func (e *Extension) addRecord(ctx context.Context, req access.Request, params map[string]any) (access.Response, error) {
	hours, ok := floatParam(params, "hours")
	if !ok || hours <= 0 {
		return access.Errorf("could not extract worked hours from the message"), nil
	}

	record := storage.WorkRecord{
		UserID:      req.UserID,
		Hours:       hours,
		Description: stringParam(params, "description", req.Text),
		WorkDate:    stringParam(params, "date", time.Now().Format("2006-01-02")),
	}

	sess, err := e.deps.Store.Acquire(ctx)
	if err != nil {
		return access.Response{}, fmt.Errorf("failed to acquire session: %w", err)
	}
	defer sess.Close()

	if _, err = sess.InsertWorkRecord(ctx, record); err != nil {
		return access.Response{}, fmt.Errorf("failed to save work record: %w", err)
	}

	return access.Response{
		Success: true,
		Message: fmt.Sprintf("✓ recorded %.1f hours of work (%s)", record.Hours, record.WorkDate),
		Data: map[string]any{
			"hours":     record.Hours,
			"work_date": record.WorkDate,
		},
		Metadata: map[string]any{},
	}, nil
}

type generatedQuery struct {
	SQL         string `json:"sql"`
	Explanation string `json:"explanation"`
	Summary     string `json:"summary"`
}

func (e *Extension) queryWithAI(ctx context.Context, req access.Request) (access.Response, error) {
	prompt := strings.ReplaceAll(queryPromptTemplate, "{input_text}", req.Text)
	prompt = strings.ReplaceAll(prompt, "{today}", time.Now().Format("2006-01-02"))

	result, err := e.deps.AI.Complete(ctx, prompt)
	if err != nil {
		return access.Response{}, fmt.Errorf("query generation failed: %w", err)
	}

	var generated generatedQuery
	if err = json.Unmarshal([]byte(result), &generated); err != nil {
		return access.Response{}, fmt.Errorf("failed to unmarshal generated query: %w", err)
	}

	sess, err := e.deps.Store.Acquire(ctx)
	if err != nil {
		return access.Response{}, fmt.Errorf("failed to acquire session: %w", err)
	}
	defer sess.Close()

	rows, columns, err := query.Execute(ctx, sess, generated.SQL, req.UserID, query.DefaultMaxRows)
	if err != nil {
		var policyErr *query.PolicyError
		if errors.As(err, &policyErr) {
			return access.Errorf("generated query was blocked: %s", policyErr.Reason), nil
		}

		return access.Errorf("query failed to run: %v", err), nil
	}

	markdown := query.FormatRows(rows, columns, generated.Summary)

	return access.Response{
		Success: true,
		Message: generated.Summary,
		Data:    map[string]any{"rows": rows},
		Metadata: map[string]any{
			access.MetaMarkdown: markdown,
			"explanation":       generated.Explanation,
		},
	}, nil
}

func floatParam(params map[string]any, key string) (float64, bool) {
	switch value := params[key].(type) {
	case float64:
		return value, true
	case int:
		return float64(value), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

func stringParam(params map[string]any, key, fallback string) string {
	if value, ok := params[key].(string); ok && value != "" {
		return value
	}

	return fallback
}
