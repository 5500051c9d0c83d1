package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"lifelog/app/client/ai"
	"lifelog/app/service/extension"
	"lifelog/app/storage"

	_ "embed"
)

//go:embed decision_prompt_template.txt
var decisionPromptTemplate string

// Decision is the AI-produced choice of extension, action and
// parameters for one inbound request. Transient: produced by the
// decision call, consumed once, never persisted.
type Decision struct {
	Success       bool           `json:"success"`
	ExtensionName string         `json:"plugin_name"`
	Action        string         `json:"action"`
	Params        map[string]any `json:"params"`
	Error         string         `json:"error,omitempty"`
}

// Decider is the injectable routing decision strategy. Production uses
// the AI decision agent below; tests substitute deterministic stubs.
type Decider interface {
	Decide(ctx context.Context, prompt string) (*Decision, error)
}

type DecisionAgent struct {
	client *ai.Client
}

func NewDecisionAgent(client *ai.Client) *DecisionAgent {
	return &DecisionAgent{client: client}
}

func (a *DecisionAgent) Decide(ctx context.Context, prompt string) (*Decision, error) {
	result, err := a.client.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("decision completion failed: %w", err)
	}

	var decision Decision
	if err = json.Unmarshal([]byte(result), &decision); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decision: %w", err)
	}

	return &decision, nil
}

func buildDecisionPrompt(inputText string, extensions []extension.Record, turns []storage.Turn) string {
	templateValues := map[string]any{
		"input_text": inputText,
		"extensions": formatExtensions(extensions),
		"context":    formatTranscript(turns),
	}

	prompt := decisionPromptTemplate
	for key, value := range templateValues {
		prompt = strings.ReplaceAll(prompt, "{"+key+"}", fmt.Sprint(value))
	}

	return prompt
}

func formatExtensions(records []extension.Record) string {
	var builder strings.Builder

	for _, record := range records {
		if record.State != extension.StateActive {
			continue
		}

		builder.WriteString(fmt.Sprintf("- %s: %s\n", record.Name, record.Description))
	}

	if builder.Len() == 0 {
		return "(no extensions available)"
	}

	return builder.String()
}

// formatTranscript renders recent turns oldest first as role-tagged
// lines, with each system response annotated by the domain that
// handled it.
func formatTranscript(turns []storage.Turn) string {
	if len(turns) == 0 {
		return "(no recent conversation)"
	}

	var builder strings.Builder

	for i := len(turns) - 1; i >= 0; i-- {
		turn := turns[i]

		domain := turn.Domain
		if domain == "" {
			domain = "unknown"
		}

		builder.WriteString(fmt.Sprintf("user: %s\n", turn.UserInput))
		builder.WriteString(fmt.Sprintf("system: %s [%s]\n", turn.Response, domain))
	}

	return builder.String()
}
