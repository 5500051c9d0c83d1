package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"lifelog/app/config"

	"github.com/samber/do"
	"github.com/sashabaranov/go-openai"
)

const (
	requestTimeout      = 30 * time.Second
	maxCompletionTokens = 1000
)

type Client struct {
	api   *openai.Client
	model string
}

func NewClient(di *do.Injector) (*Client, error) {
	cfg := do.MustInvoke[*config.Config](di)

	clientConfig := openai.DefaultConfig(cfg.AI.Token)
	clientConfig.BaseURL = cfg.AI.BaseURL
	clientConfig.HTTPClient = &http.Client{
		Timeout: requestTimeout,
	}

	return &Client{
		api:   openai.NewClientWithConfig(clientConfig),
		model: cfg.AI.Model,
	}, nil
}

// Complete sends a single prompt and returns the raw completion text
// with markdown fences stripped. The response is requested in JSON
// object mode, so callers can unmarshal it directly.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	aiResponse, err := c.api.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxCompletionTokens: maxCompletionTokens,
			Temperature:         1,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}

	if len(aiResponse.Choices) == 0 {
		return "", fmt.Errorf("no chat completion found")
	}

	return TrimFences(aiResponse.Choices[0].Message.Content), nil
}

// TrimFences removes the ```json fencing some models wrap around
// structured output despite JSON object mode.
func TrimFences(result string) string {
	result = strings.Trim(result, "`")
	result = strings.TrimSpace(result)
	result = strings.TrimPrefix(result, "json")

	return strings.TrimSpace(result)
}
