// Package workflow is the HTTP client for the external workflow engine.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/njprem/ImportPipeline_BackEnd/internal/domain"
	"github.com/njprem/ImportPipeline_BackEnd/internal/repository/ports"
)

const maxErrorBody = 1024

type Config struct {
	BaseURL    string
	IntakePath string
	APIKey     string
	Timeout    time.Duration
}

type Client struct {
	baseURL    string
	intakePath string
	apiKey     string
	http       *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("workflow: base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("workflow: invalid base url: %w", err)
	}
	intake := cfg.IntakePath
	if intake == "" {
		intake = "/api/v1/workflows/import"
	}
	if !strings.HasPrefix(intake, "/") {
		intake = "/" + intake
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    base,
		intakePath: intake,
		apiKey:     cfg.APIKey,
		http:       &http.Client{Timeout: timeout},
	}, nil
}

// StatusError is returned for any non-2xx engine response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("workflow engine responded %d", e.StatusCode)
	}
	return fmt.Sprintf("workflow engine responded %d: %s", e.StatusCode, e.Body)
}

type submitResponse struct {
	ExecutionID   string `json:"executionId"`
	ExecutionIDSC string `json:"execution_id"`
	ID            string `json:"id"`
	Status        string `json:"status"`
}

func (c *Client) Submit(ctx context.Context, req domain.WorkflowRequest) (*domain.WorkflowExecution, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, http.MethodPost, c.baseURL+c.intakePath, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp)
	}

	var parsed submitResponse
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("decode workflow response: %w", err)
		}
	}

	id := parsed.ExecutionID
	if id == "" {
		id = parsed.ExecutionIDSC
	}
	if id == "" {
		id = parsed.ID
	}
	return &domain.WorkflowExecution{ExecutionID: id, Status: parsed.Status}, nil
}

func (c *Client) Cancel(ctx context.Context, executionID string) error {
	endpoint := fmt.Sprintf("%s/executions/%s/cancel", c.baseURL, url.PathEscape(executionID))
	resp, err := c.do(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ports.ErrWorkflowExecutionNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return statusError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	return c.http.Do(req)
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
}

var _ ports.WorkflowEngine = (*Client)(nil)
