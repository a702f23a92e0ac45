package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stagecraft/stagecraft/model"
)

var _ Connector = new(restConnector)

// restConnector issues an HTTP request described by the stage's connector
// config: url, method (default POST), headers, body (default: the stage
// parameters).
type restConnector struct {
	client *http.Client
}

func NewRestConnector(timeout time.Duration) *restConnector {
	return &restConnector{client: &http.Client{Timeout: timeout}}
}

func (c *restConnector) Type() model.ConnectorType {
	return model.CONNECTOR_TYPE_REST
}

func (c *restConnector) Call(ctx context.Context, config map[string]any, parameters map[string]any) (any, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("rest connector config has no url")
	}
	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodPost
	}
	method = strings.ToUpper(method)

	var payload any
	if body, ok := config["body"]; ok {
		payload = body
	} else if len(parameters) > 0 {
		payload = parameters
	}
	var reader io.Reader
	if payload != nil && method != http.MethodGet {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if headers, ok := config["headers"].(map[string]any); ok {
		for key, value := range headers {
			req.Header.Set(key, fmt.Sprint(value))
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("rest connector %s %s returned %d: %s", method, url, resp.StatusCode, string(body))
	}
	if len(body) == 0 {
		return nil, nil
	}
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return string(body), nil
	}
	return data, nil
}
