package storage

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

	"github.com/stateflow/stateflow/pkg/models"
)

// HTTPAdapterConfig configures the remote storage client.
type HTTPAdapterConfig struct {
	// BaseURL of the remote store, e.g. "https://state.example.com".
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Headers are merged into every request.
	Headers map[string]string

	// Timeout bounds each request. Zero means 30 seconds.
	Timeout time.Duration

	// Client overrides the HTTP client; the Timeout still applies via
	// request contexts.
	Client *http.Client
}

// HTTPAdapter stores workflow state on a remote server exposing the
// workflows surface: GET /workflows, GET/PUT/DELETE /workflows/{id}.
type HTTPAdapter struct {
	base    string
	apiKey  string
	headers map[string]string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPAdapter creates a remote storage client.
func NewHTTPAdapter(cfg HTTPAdapterConfig) (*HTTPAdapter, error) {
	if cfg.BaseURL == "" {
		return nil, &models.ValidationError{Field: "baseUrl", Message: "remote storage base URL is required"}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPAdapter{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		headers: cfg.Headers,
		timeout: timeout,
		client:  client,
	}, nil
}

func (a *HTTPAdapter) workflowURL(id string) string {
	return a.base + "/workflows/" + url.PathEscape(id)
}

func (a *HTTPAdapter) do(ctx context.Context, method, rawURL string, body []byte) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}

	// The caller reads the body; cancel must not outlive it, so the
	// response is drained into memory here.
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return resp, nil
}

// Save implements Adapter via PUT /workflows/{id}.
func (a *HTTPAdapter) Save(ctx context.Context, id string, state *models.WorkflowState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return &models.StorageError{Op: "save", Key: id, Err: err}
	}

	resp, err := a.do(ctx, http.MethodPut, a.workflowURL(id), data)
	if err != nil {
		return &models.StorageError{Op: "save", Key: id, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &models.StorageError{Op: "save", Key: id, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	return nil
}

// Load implements Adapter via GET /workflows/{id}.
func (a *HTTPAdapter) Load(ctx context.Context, id string) (*models.WorkflowState, error) {
	resp, err := a.do(ctx, http.MethodGet, a.workflowURL(id), nil)
	if err != nil {
		return nil, &models.StorageError{Op: "load", Key: id, Err: err}
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, models.ErrWorkflowNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &models.StorageError{Op: "load", Key: id, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var state models.WorkflowState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, &models.StorageError{Op: "load", Key: id, Err: err}
	}
	return &state, nil
}

// Delete implements Adapter via DELETE /workflows/{id}.
func (a *HTTPAdapter) Delete(ctx context.Context, id string) error {
	resp, err := a.do(ctx, http.MethodDelete, a.workflowURL(id), nil)
	if err != nil {
		return &models.StorageError{Op: "delete", Key: id, Err: err}
	}
	if resp.StatusCode == http.StatusNotFound {
		return models.ErrWorkflowNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &models.StorageError{Op: "delete", Key: id, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	return nil
}

// List implements Adapter via GET /workflows.
func (a *HTTPAdapter) List(ctx context.Context) ([]string, error) {
	resp, err := a.do(ctx, http.MethodGet, a.base+"/workflows", nil)
	if err != nil {
		return nil, &models.StorageError{Op: "list", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &models.StorageError{Op: "list", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var ids []string
	if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
		return nil, &models.StorageError{Op: "list", Err: err}
	}
	return ids, nil
}
