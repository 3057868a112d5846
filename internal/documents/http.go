package documents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"course-credentials/internal/ratelimit"
)

const maxErrorBody = 4096

// transport is the HTTP plumbing shared by providers.
type transport struct {
	provider string
	client   *http.Client
	limiter  ratelimit.Limiter
	auth     func(req *http.Request) error
}

// call sends one request and returns the body when the status is in want.
func (t transport) call(ctx context.Context, step, method, endpoint string, body any, want ...int) ([]byte, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx, limiterKey); err != nil {
			return nil, err
		}
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s %s: marshal: %w", t.provider, step, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("%s %s: build request: %w", t.provider, step, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.auth != nil {
		if err := t.auth(req); err != nil {
			return nil, &ExternalWorkflowError{Provider: t.provider, Step: step, Err: err}
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &ExternalWorkflowError{Provider: t.provider, Step: step, Err: err}
	}
	defer resp.Body.Close()

	for _, code := range want {
		if resp.StatusCode == code {
			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, &ExternalWorkflowError{Provider: t.provider, Step: step, Status: resp.StatusCode, Err: err}
			}
			return data, nil
		}
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return nil, &ExternalWorkflowError{
		Provider: t.provider,
		Step:     step,
		Status:   resp.StatusCode,
		Body:     strings.TrimSpace(string(msg)),
	}
}

func (t transport) decode(step string, data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return &ExternalWorkflowError{Provider: t.provider, Step: step, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
