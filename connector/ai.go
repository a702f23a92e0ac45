package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stagecraft/stagecraft/model"
)

const defaultCompletionUrl = "https://api.openai.com/v1/chat/completions"
const defaultCompletionModel = "gpt-4o-mini"

var _ Connector = new(aiConnector)

// aiConnector calls an OpenAI-compatible chat-completions endpoint.
// Config: prompt (required unless messages given), url, apiKey, model,
// temperature, maxTokens, messages.
type aiConnector struct {
	client *http.Client
}

func NewAiConnector(timeout time.Duration) *aiConnector {
	return &aiConnector{client: &http.Client{Timeout: timeout}}
}

func (c *aiConnector) Type() model.ConnectorType {
	return model.CONNECTOR_TYPE_AI
}

func (c *aiConnector) Call(ctx context.Context, config map[string]any, parameters map[string]any) (any, error) {
	url, _ := config["url"].(string)
	if url == "" {
		url = defaultCompletionUrl
	}
	completionModel, _ := config["model"].(string)
	if completionModel == "" {
		completionModel = defaultCompletionModel
	}

	messages, _ := config["messages"].([]any)
	if len(messages) == 0 {
		prompt, _ := config["prompt"].(string)
		if prompt == "" {
			return nil, fmt.Errorf("ai-completion connector config has no prompt")
		}
		messages = []any{map[string]any{"role": "user", "content": prompt}}
	}

	request := map[string]any{
		"model":    completionModel,
		"messages": messages,
	}
	if temperature, ok := config["temperature"]; ok {
		request["temperature"] = temperature
	}
	if maxTokens, ok := config["maxTokens"]; ok {
		request["max_tokens"] = maxTokens
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey, _ := config["apiKey"].(string); apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("ai-completion endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("ai-completion response has no choices")
	}
	var raw map[string]any
	_ = json.Unmarshal(respBody, &raw)
	return map[string]any{
		"content":  completion.Choices[0].Message.Content,
		"response": raw,
	}, nil
}
