package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"lifelog/app/access"
)

// Sender delivers a routed response back to the chat platform.
type Sender interface {
	Send(ctx context.Context, userID string, response access.Response) error
}

// LogSender is used when no callback URL is configured.
type LogSender struct{}

func (s *LogSender) Send(_ context.Context, userID string, response access.Response) error {
	slog.Info("Reply (no callback configured)",
		"user_id", userID,
		"success", response.Success,
		"message", response.Message,
		"error", response.Error)

	return nil
}

// CallbackSender posts replies to the platform's callback endpoint.
// Markdown payloads are passed through so rich channels can render
// query results as cards.
type CallbackSender struct {
	url    string
	client *http.Client
}

func NewCallbackSender(url string) *CallbackSender {
	return &CallbackSender{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type callbackPayload struct {
	UserID   string `json:"user_id"`
	Text     string `json:"text"`
	Markdown string `json:"markdown,omitempty"`
}

func (s *CallbackSender) Send(ctx context.Context, userID string, response access.Response) error {
	payload := callbackPayload{
		UserID: userID,
		Text:   response.Message,
	}

	if !response.Success {
		payload.Text = "❌ " + response.Error
	}

	if markdown, ok := response.Metadata[access.MetaMarkdown].(string); ok {
		payload.Markdown = markdown
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal callback payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned status %d", resp.StatusCode)
	}

	return nil
}
