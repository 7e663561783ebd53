package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/convoforge/perfgen/internal/config"
	"github.com/convoforge/perfgen/internal/models"
)

const maxErrorTextLen = 500

// Completion is the successful outcome of one upstream call.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	HTTPStatus       int
}

// Completer performs one completion call against the upstream endpoint.
type Completer interface {
	Complete(ctx context.Context, job models.Job) (*Completion, error)
}

// CallError classifies a failed upstream call. Status is zero on pure
// transport failure. Transient errors are eligible for retry.
type CallError struct {
	Status    int
	Message   string
	Transient bool
}

func (e *CallError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("upstream status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("upstream transport error: %s", e.Message)
}

// IsTransient reports whether the error is worth retrying. Unknown error
// types count as transport failures, which are transient.
func IsTransient(err error) bool {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Transient
	}
	return true
}

// StatusOf extracts the HTTP status from a call error, zero when none.
func StatusOf(err error) int {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Status
	}
	return 0
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	endpointURL string
	httpClient  *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		endpointURL: cfg.EndpointURL,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
	}
}

func (c *Client) Complete(ctx context.Context, job models.Job) (*Completion, error) {
	payload := chatRequest{
		Model:       job.ModelID,
		Messages:    []chatMessage{{Role: "user", Content: job.Prompt}},
		MaxTokens:   job.MaxTokens,
		Temperature: job.Temperature,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &CallError{Message: err.Error(), Transient: false}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL, bytes.NewReader(body))
	if err != nil {
		return nil, &CallError{Message: err.Error(), Transient: false}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &CallError{Message: truncate(err.Error()), Transient: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorTextLen))
		return nil, &CallError{
			Status:    resp.StatusCode,
			Message:   truncate(string(text)),
			Transient: retryableStatus(resp.StatusCode),
		}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &CallError{Status: resp.StatusCode, Message: truncate(err.Error()), Transient: true}
	}

	text := ""
	if len(parsed.Choices) > 0 {
		text = parsed.Choices[0].Message.Content
	}

	// Some endpoints omit usage counts; fall back to word counts so token
	// telemetry never reads zero for non-empty payloads.
	promptTokens := parsed.Usage.PromptTokens
	if promptTokens == 0 {
		promptTokens = len(strings.Fields(job.Prompt))
	}
	completionTokens := parsed.Usage.CompletionTokens
	if completionTokens == 0 {
		completionTokens = len(strings.Fields(text))
	}

	return &Completion{
		Text:             text,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		HTTPStatus:       resp.StatusCode,
	}, nil
}

// retryableStatus treats rate limits and server errors as transient;
// every other client error is permanent.
func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func truncate(s string) string {
	if len(s) > maxErrorTextLen {
		return s[:maxErrorTextLen]
	}
	return s
}
