package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chatflow/internal/chat"
)

const defaultPath = "/chat"

type Config struct {
	BaseURL     string
	Path        string
	Headers     map[string]string
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration
}

// Client posts chat sends to the backend's chat endpoint.
type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Path == "" {
		cfg.Path = defaultPath
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 400 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{cfg: cfg}
}

var _ chat.Transport = (*Client)(nil)

// SendChatMessage returns a Go error only when no HTTP response could be
// obtained or decoded. Any status the backend answers with is reported in the
// ChatAPIResponse.
func (c *Client) SendChatMessage(ctx context.Context, req chat.ChatAPIRequest, accessToken string) (chat.ChatAPIResponse, error) {
	endpointURL, err := c.endpointURL()
	if err != nil {
		return chat.ChatAPIResponse{}, err
	}
	if req.ContextMessages == nil {
		req.ContextMessages = []chat.ContextMessage{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return chat.ChatAPIResponse{}, fmt.Errorf("marshal chat request: %w", err)
	}

	var (
		resp    chat.ChatAPIResponse
		lastErr error
	)
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		var retry bool
		resp, retry, lastErr = c.callOnce(ctx, endpointURL, body, accessToken)
		if !retry || attempt == c.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return chat.ChatAPIResponse{}, ctx.Err()
		case <-time.After(c.cfg.BackoffBase * (1 << attempt)):
		}
	}
	return resp, lastErr
}

// callOnce only asks for a retry when the backend refused the request before
// processing it, so a retried send cannot produce two assistant replies.
func (c *Client) callOnce(ctx context.Context, endpointURL string, body []byte, accessToken string) (chat.ChatAPIResponse, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(body))
	if err != nil {
		return chat.ChatAPIResponse{}, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if strings.TrimSpace(accessToken) != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return chat.ChatAPIResponse{}, false, ctx.Err()
		}
		return chat.ChatAPIResponse{}, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return chat.ChatAPIResponse{}, false, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		out := chat.ChatAPIResponse{Status: resp.StatusCode, Error: parseError(resp.StatusCode, respBody)}
		retry := resp.StatusCode == http.StatusTooManyRequests ||
			resp.StatusCode == http.StatusBadGateway ||
			resp.StatusCode == http.StatusServiceUnavailable
		return out, retry, nil
	}

	data, err := parseSuccess(respBody)
	if err != nil {
		return chat.ChatAPIResponse{}, false, err
	}
	return chat.ChatAPIResponse{Status: resp.StatusCode, Data: data}, false, nil
}

func (c *Client) endpointURL() (string, error) {
	base := strings.TrimSpace(c.cfg.BaseURL)
	if base == "" {
		return "", fmt.Errorf("base url is empty")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(c.cfg.Path, "/")
	return u.String(), nil
}

// parseSuccess accepts both a bare payload and one wrapped in {"data": ...}.
func parseSuccess(body []byte) (*chat.ChatAPISuccess, error) {
	var wrapped struct {
		Data *chat.ChatAPISuccess `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	if wrapped.Data != nil {
		return wrapped.Data, nil
	}
	var bare chat.ChatAPISuccess
	if err := json.Unmarshal(body, &bare); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	if bare.AssistantMessage.ID == "" {
		return nil, fmt.Errorf("missing assistant message in chat response")
	}
	return &bare, nil
}

func parseError(status int, body []byte) *chat.APIError {
	var resp struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Code    string          `json:"code"`
	}
	out := &chat.APIError{}
	if err := json.Unmarshal(body, &resp); err == nil {
		var nested chat.APIError
		var plain string
		switch {
		case len(resp.Error) > 0 && json.Unmarshal(resp.Error, &nested) == nil:
			out.Message, out.Code = nested.Message, nested.Code
		case len(resp.Error) > 0 && json.Unmarshal(resp.Error, &plain) == nil:
			out.Message = plain
		}
		if out.Message == "" {
			out.Message = resp.Message
		}
		if out.Code == "" {
			out.Code = resp.Code
		}
	}
	if out.Message == "" {
		out.Message = fmt.Sprintf("chat api status %d", status)
	}
	return out
}
