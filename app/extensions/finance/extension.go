// Package finance is the builtin extension for income and expense
// tracking: record entries parsed by the routing layer and answer
// aggregate questions with AI-generated read queries.
package finance

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

func (e *Extension) Name() string        { return "finance" }
func (e *Extension) DisplayName() string { return "Finance" }

func (e *Extension) Description() string {
	return "Income and expense tracking. Handles adding expense or income records " +
		"(amount, category, note, date) and querying financial data: totals, " +
		"breakdowns by category, spending over date ranges."
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
		return access.Errorf("unknown finance action: %q", action), nil
	}
}

func (e *Extension) Shutdown(ctx context.Context) error { return nil }

func (e *Extension) addRecord(ctx context.Context, req access.Request, params map[string]any) (access.Response, error) {
	amount, ok := floatParam(params, "amount")
	if !ok || amount <= 0 {
		return access.Errorf("could not extract an amount from the message"), nil
	}

	recordType := stringParam(params, "record_type", "expense")
	if recordType != "expense" && recordType != "income" {
		recordType = "expense"
	}

	record := storage.FinanceRecord{
		UserID:     req.UserID,
		RecordType: recordType,
		Amount:     amount,
		Category:   stringParam(params, "category", "other"),
		Note:       stringParam(params, "note", req.Text),
		RecordDate: stringParam(params, "date", time.Now().Format("2006-01-02")),
	}

	sess, err := e.deps.Store.Acquire(ctx)
	if err != nil {
		return access.Response{}, fmt.Errorf("failed to acquire session: %w", err)
	}
	defer sess.Close()

	if _, err = sess.InsertFinanceRecord(ctx, record); err != nil {
		return access.Response{}, fmt.Errorf("failed to save finance record: %w", err)
	}

	return access.Response{
		Success: true,
		Message: fmt.Sprintf("✓ recorded %s of %.2f (%s)", record.RecordType, record.Amount, record.Category),
		Data: map[string]any{
			"amount":      record.Amount,
			"category":    record.Category,
			"record_type": record.RecordType,
			"record_date": record.RecordDate,
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
