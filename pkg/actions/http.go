package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"supportops/internal/services"
)

// HTTPExecutor 内置动作：向目标地址 POST JSON。Slack incoming webhook、
// 内部回调等轻接入场景共用这一执行器。
type HTTPExecutor struct {
	client *http.Client
}

func NewHTTPExecutor(timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPExecutor{client: &http.Client{Timeout: timeout}}
}

func (e *HTTPExecutor) Execute(ctx context.Context, req *services.ActionRequest) (*services.ActionOutcome, error) {
	url, _ := req.Params["url"].(string)
	if url == "" {
		if fromCreds, ok := req.Credentials["webhook_url"].(string); ok {
			url = fromCreds
		}
	}
	if url == "" {
		return nil, fmt.Errorf("http action requires a url param or webhook_url credential")
	}

	body := RenderParams(req.Params, req.TriggerFields)
	delete(body, "url")
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token, ok := req.Credentials["token"].(string); ok && token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &services.ActionOutcome{
			Success: false,
			Message: fmt.Sprintf("remote returned %d: %s", resp.StatusCode, string(respBody)),
		}, nil
	}
	return &services.ActionOutcome{
		Success: true,
		Message: fmt.Sprintf("remote returned %d", resp.StatusCode),
		Data:    map[string]interface{}{"status_code": resp.StatusCode},
	}, nil
}
