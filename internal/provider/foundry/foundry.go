// Package foundry is the HTTP client for the Anthropic messages surface of
// an Azure AI Foundry resource. Each request constructs its own client from
// the resolved target, since resource and credential vary per caller.
package foundry

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/foundryproxy/foundry-gateway/internal/domain"
	"github.com/foundryproxy/foundry-gateway/internal/httputil"
	"github.com/foundryproxy/foundry-gateway/internal/translator"
)

const anthropicVersion = "2023-06-01"

type Client struct {
	resource     string
	apiKey       string
	baseURL      string
	client       *http.Client
	streamClient *http.Client
}

type Option func(*Client)

// WithBaseURL overrides the derived resource URL, used by tests to point at
// a local server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
		c.streamClient = hc
	}
}

func NewClient(resource, apiKey string, opts ...Option) *Client {
	c := &Client{
		resource:     resource,
		apiKey:       apiKey,
		baseURL:      fmt.Sprintf("https://%s.services.ai.azure.com/anthropic", resource),
		client:       httputil.DefaultClient(),
		streamClient: httputil.StreamingClient(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateMessages issues a synchronous messages call.
func (c *Client) CreateMessages(ctx context.Context, req translator.UpstreamRequest) (translator.UpstreamResponse, error) {
	var out translator.UpstreamResponse

	resp, err := c.post(ctx, c.client, "/v1/messages", req, "")
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return out, c.statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, &domain.UpstreamError{Message: fmt.Sprintf("decode response: %v", err)}
	}
	return out, nil
}

// StreamEvent is one decoded upstream SSE event, reduced to the fields the
// gateway consumes.
type StreamEvent struct {
	Type       string
	Text       string
	MessageID  string
	StopReason string
	Usage      *translator.UpstreamUsage
}

// StreamMessages opens an SSE messages stream. Events arrive on the first
// channel; at most one error arrives on the second. Both channels close
// when the stream ends or ctx is cancelled.
func (c *Client) StreamMessages(ctx context.Context, req translator.UpstreamRequest) (<-chan StreamEvent, <-chan error) {
	events := make(chan StreamEvent)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		req.Stream = true
		resp, err := c.post(ctx, c.streamClient, "/v1/messages", req, "text/event-stream")
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			errs <- c.statusError(resp)
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}

			var payload streamPayload
			if err := json.Unmarshal([]byte(data), &payload); err != nil {
				continue
			}

			event, ok := payload.toEvent()
			if !ok {
				continue
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
			if event.Type == "message_stop" {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			errs <- c.transportError(err)
		}
	}()

	return events, errs
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// CreateEmbeddings calls the resource's embeddings endpoint. A 404 means
// the deployment has no embeddings capability and maps to
// NotSupportedError so clients can branch on it.
func (c *Client) CreateEmbeddings(ctx context.Context, model string, input []string) (map[string]json.RawMessage, error) {
	resp, err := c.post(ctx, c.client, "/v1/embeddings", embeddingsRequest{Model: model, Input: input}, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &domain.NotSupportedError{
			Feature: "embeddings",
			Message: fmt.Sprintf("Embeddings are not available on Foundry resource %q.", c.resource),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}

	var out map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &domain.UpstreamError{Message: fmt.Sprintf("decode response: %v", err)}
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, hc *http.Client, path string, payload any, accept string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &domain.UpstreamError{Message: fmt.Sprintf("marshal request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, &domain.UpstreamError{Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	if accept != "" {
		httpReq.Header.Set("Accept", accept)
	}

	resp, err := hc.Do(httpReq)
	if err != nil {
		return nil, c.transportError(err)
	}
	return resp, nil
}

// transportError wraps a connection-level failure, attaching a hint when it
// looks like the resource name itself is wrong.
func (c *Client) transportError(err error) error {
	upErr := &domain.UpstreamError{Message: err.Error()}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) || strings.Contains(err.Error(), "no such host") {
		upErr.Hint = fmt.Sprintf(
			"could not reach Foundry resource %q; verify the resource name encoded in your API key or model is correct and accessible",
			c.resource)
	}
	return upErr
}

func (c *Client) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &domain.UpstreamError{
		Status:  resp.StatusCode,
		Message: strings.TrimSpace(string(body)),
	}
}

type streamPayload struct {
	Type  string `json:"type"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta,omitempty"`
	Message *struct {
		ID    string                   `json:"id"`
		Usage translator.UpstreamUsage `json:"usage"`
	} `json:"message,omitempty"`
	Usage *translator.UpstreamUsage `json:"usage,omitempty"`
}

func (p streamPayload) toEvent() (StreamEvent, bool) {
	switch p.Type {
	case "message_start":
		event := StreamEvent{Type: p.Type}
		if p.Message != nil {
			event.MessageID = p.Message.ID
			usage := p.Message.Usage
			event.Usage = &usage
		}
		return event, true
	case "content_block_delta":
		if p.Delta == nil {
			return StreamEvent{}, false
		}
		return StreamEvent{Type: p.Type, Text: p.Delta.Text}, true
	case "message_delta":
		event := StreamEvent{Type: p.Type, Usage: p.Usage}
		if p.Delta != nil {
			event.StopReason = p.Delta.StopReason
		}
		return event, true
	case "message_stop":
		return StreamEvent{Type: p.Type}, true
	default:
		return StreamEvent{}, false
	}
}

// MapStopReason converts the messages API stop reason to the OpenAI finish
// reason vocabulary.
func MapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}
