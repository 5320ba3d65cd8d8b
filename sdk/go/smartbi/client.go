package smartbi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Chat calls run two model generations, so it is longer
// than a plain REST timeout.
const DefaultHTTPTimeout = 2 * time.Minute

// Client wraps the HTTP interactions with the SmartBI REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Upload describes a stored CSV upload.
type Upload struct {
	ID         int64  `json:"id"`
	Filename   string `json:"filename"`
	SourceType string `json:"source_type"`
	CreatedAt  int64  `json:"created_at,omitempty"`
}

// LoadResult is returned after an upload has been handed to the engine.
type LoadResult struct {
	UploadID int64  `json:"upload_id"`
	Path     string `json:"path"`
	Result   string `json:"result"`
}

// Message is one prior conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the synchronous answer to a query.
type ChatResponse struct {
	Response    string   `json:"response"`
	ToolResults []string `json:"tool_results,omitempty"`
	Model       string   `json:"model"`
	ElapsedMS   int64    `json:"elapsed_ms"`
}

// QuerySubmission represents the payload required to queue a query.
type QuerySubmission struct {
	ID       string         `json:"id,omitempty"`
	Query    string         `json:"query"`
	History  []Message      `json:"history,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// QueryResult is the outcome of a completed query task.
type QueryResult struct {
	Response    string   `json:"response"`
	ToolResults []string `json:"tool_results,omitempty"`
	Model       string   `json:"model,omitempty"`
	ElapsedMS   int64    `json:"elapsed_ms,omitempty"`
}

// Query is the server view of an asynchronous query task.
type Query struct {
	ID         string       `json:"id"`
	Query      string       `json:"query"`
	Status     string       `json:"status"`
	Attempts   int          `json:"attempts"`
	MaxRetries int          `json:"max_retries"`
	LastError  string       `json:"last_error,omitempty"`
	ErrorCode  string       `json:"error_code,omitempty"`
	Result     *QueryResult `json:"result,omitempty"`
	CreatedAt  int64        `json:"created_at"`
	UpdatedAt  int64        `json:"updated_at"`
}

// Query statuses reported by the server.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Done reports whether the task will not change any more.
func (q Query) Done() bool {
	switch q.Status {
	case StatusSucceeded:
		return true
	case StatusFailed:
		return q.Attempts >= q.MaxRetries
	default:
		return false
	}
}

// Interaction is a recorded prompt and its response.
type Interaction struct {
	ID             int64  `json:"id"`
	Prompt         string `json:"prompt"`
	Response       string `json:"response"`
	PromptType     string `json:"prompt_type"`
	Timestamp      string `json:"timestamp"`
	ImageFilename  string `json:"image_filename,omitempty"`
	HasImage       bool   `json:"has_image"`
	ModelUsed      string `json:"model_used"`
	ProcessingTime int64  `json:"processing_time"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("smartbi api error (%d): %s - %s", e.StatusCode, e.Code, e.Detail)
	}
	return fmt.Sprintf("smartbi api error (%d): %s", e.StatusCode, e.Detail)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// NewClient instantiates a client for the SmartBI API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Health returns the server health status.
func (c *Client) Health(ctx context.Context) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.get(ctx, "/api/health", nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

// UploadCSV uploads CSV content under the given filename.
func (c *Client) UploadCSV(ctx context.Context, filename string, content io.Reader) (Upload, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return Upload{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return Upload{}, fmt.Errorf("copy upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Upload{}, fmt.Errorf("close form: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/uploads/csv", nil, body)
	if err != nil {
		return Upload{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	var upload Upload
	if err := c.do(req, &upload); err != nil {
		return Upload{}, err
	}
	return upload, nil
}

// ListUploads returns all uploads in creation order.
func (c *Client) ListUploads(ctx context.Context) ([]Upload, error) {
	var uploads []Upload
	if err := c.get(ctx, "/api/v1/uploads", nil, &uploads); err != nil {
		return nil, err
	}
	return uploads, nil
}

// LoadUpload asks the engine to load a stored upload. An empty name lets the
// engine pick one.
func (c *Client) LoadUpload(ctx context.Context, id int64, name string) (LoadResult, error) {
	query := url.Values{}
	if name != "" {
		query.Set("name", name)
	}
	var result LoadResult
	endpoint := "/api/v1/uploads/" + strconv.FormatInt(id, 10) + "/load"
	if err := c.post(ctx, endpoint, query, nil, &result); err != nil {
		return LoadResult{}, err
	}
	return result, nil
}

// Chat runs a query synchronously.
func (c *Client) Chat(ctx context.Context, query string, history []Message) (ChatResponse, error) {
	payload := struct {
		Query   string    `json:"query"`
		History []Message `json:"history,omitempty"`
	}{Query: query, History: history}
	var resp ChatResponse
	if err := c.post(ctx, "/api/v1/chat", nil, payload, &resp); err != nil {
		return ChatResponse{}, err
	}
	return resp, nil
}

// SubmitQuery queues a query for asynchronous processing.
func (c *Client) SubmitQuery(ctx context.Context, submission QuerySubmission) (Query, error) {
	var q Query
	if err := c.post(ctx, "/api/v1/queries", nil, submission, &q); err != nil {
		return Query{}, err
	}
	return q, nil
}

// GetQuery fetches a query task by identifier.
func (c *Client) GetQuery(ctx context.Context, id string) (Query, error) {
	var q Query
	if err := c.get(ctx, "/api/v1/queries/"+url.PathEscape(id), nil, &q); err != nil {
		return Query{}, err
	}
	return q, nil
}

// WaitForQuery polls until the task is done or ctx expires.
func (c *Client) WaitForQuery(ctx context.Context, id string, interval time.Duration) (Query, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		q, err := c.GetQuery(ctx, id)
		if err != nil {
			return Query{}, err
		}
		if q.Done() {
			return q, nil
		}
		select {
		case <-ctx.Done():
			return q, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ListInteractions returns the newest interactions first.
func (c *Client) ListInteractions(ctx context.Context, limit int) ([]Interaction, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out []Interaction
	if err := c.get(ctx, "/api/v1/interactions", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, endpoint string, query url.Values, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, query, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Detail == "" {
			apiErr.Detail = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
