package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to the task manager and notification service.
type Client interface {
	CreateTask(ctx context.Context, task Task, message string) error
	UpdateTaskStatus(ctx context.Context, update StatusUpdate) error
	SendNotification(ctx context.Context, n Notification) error
}

// HTTPClient is the JSON-over-HTTP Client implementation.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type createTaskRequest struct {
	Task    Task   `json:"task"`
	Message string `json:"message"`
}

func (c *HTTPClient) CreateTask(ctx context.Context, task Task, message string) error {
	return c.do(ctx, http.MethodPost, "/tasks", createTaskRequest{Task: task, Message: message})
}

func (c *HTTPClient) UpdateTaskStatus(ctx context.Context, update StatusUpdate) error {
	return c.do(ctx, http.MethodPatch, "/tasks", update)
}

func (c *HTTPClient) SendNotification(ctx context.Context, n Notification) error {
	return c.do(ctx, http.MethodPost, "/notifications", n)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
