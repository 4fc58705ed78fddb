package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/simonmoedinger/aitab/config"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client talks the Assistants v2 wire contract: threads, messages, runs
// and file metadata. It is a thin typed layer over net/http; callers own
// all polling and interpretation of run statuses.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a client from config. A missing API key is a fatal
// configuration error: the whole feature is unusable without it.
func NewClient(cfg config.AssistantConfig) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("assistant client: api key not configured")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    base,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// CreateThread opens a new conversation thread.
func (c *Client) CreateThread(ctx context.Context) (Thread, error) {
	var th Thread
	if err := c.do(ctx, http.MethodPost, "/threads", map[string]interface{}{}, &th, nil); err != nil {
		return Thread{}, fmt.Errorf("create thread: %w", err)
	}
	return th, nil
}

// CreateMessage appends a message to a thread.
func (c *Client) CreateMessage(ctx context.Context, threadID, role, content string) error {
	body := map[string]interface{}{"role": role, "content": content}
	if err := c.do(ctx, http.MethodPost, "/threads/"+threadID+"/messages", body, nil, nil); err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

// CreateRun starts a run of the given assistant over the thread.
func (c *Client) CreateRun(ctx context.Context, threadID, assistantID string) (Run, error) {
	var run Run
	body := map[string]interface{}{"assistant_id": assistantID}
	if err := c.do(ctx, http.MethodPost, "/threads/"+threadID+"/runs", body, &run, nil); err != nil {
		return Run{}, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

// RetrieveRun fetches the current run state. A Retry-After header, when
// the service sends one, is surfaced as Run.PollHint.
func (c *Client) RetrieveRun(ctx context.Context, threadID, runID string) (Run, error) {
	var run Run
	var hdr http.Header
	if err := c.do(ctx, http.MethodGet, "/threads/"+threadID+"/runs/"+runID, nil, &run, &hdr); err != nil {
		return Run{}, fmt.Errorf("retrieve run: %w", err)
	}
	if v := hdr.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			run.PollHint = time.Duration(secs) * time.Second
		}
	}
	return run, nil
}

// CancelRun asks the service to cancel an in-flight run. Best effort:
// callers typically ignore the error.
func (c *Client) CancelRun(ctx context.Context, threadID, runID string) error {
	if err := c.do(ctx, http.MethodPost, "/threads/"+threadID+"/runs/"+runID+"/cancel", map[string]interface{}{}, nil, nil); err != nil {
		return fmt.Errorf("cancel run: %w", err)
	}
	return nil
}

// ListMessages returns the thread's messages, newest first (service order).
func (c *Client) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	var list struct {
		Data []Message `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/threads/"+threadID+"/messages", nil, &list, nil); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return list.Data, nil
}

// RetrieveFile resolves file metadata (display name) for a cited file.
func (c *Client) RetrieveFile(ctx context.Context, fileID string) (File, error) {
	var f File
	if err := c.do(ctx, http.MethodGet, "/files/"+fileID, nil, &f, nil); err != nil {
		return File{}, fmt.Errorf("retrieve file: %w", err)
	}
	return f, nil
}

// do sends one request to the assistant service and decodes the response.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}, hdr *http.Header) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if hdr != nil {
		*hdr = resp.Header
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			} `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("API returned status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return fmt.Errorf("API returned status: %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
