// Package translator converts between the OpenAI-compatible wire shapes the
// gateway exposes and the Anthropic messages shapes the Foundry upstream
// speaks, in both directions, for sync and streamed responses.
package translator

import (
	"encoding/json"
	"strings"

	"github.com/foundryproxy/foundry-gateway/internal/domain"
)

const DefaultMaxTokens = 1024

type SystemBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type UpstreamMessage struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

type UpstreamRequest struct {
	Model       string            `json:"model"`
	System      []SystemBlock     `json:"system,omitempty"`
	Messages    []UpstreamMessage `json:"messages"`
	MaxTokens   int               `json:"max_tokens"`
	Temperature *float64          `json:"temperature,omitempty"`
	Stream      bool              `json:"stream,omitempty"`
}

// UpstreamResponse models the messages API response loosely: content may be
// a block list, a single block, or a bare string depending on the deployment,
// and usage fields appear under two naming conventions. Pointer fields
// distinguish absent from zero.
type UpstreamResponse struct {
	ID         string          `json:"id"`
	Model      string          `json:"model"`
	Content    json.RawMessage `json:"content"`
	StopReason string          `json:"stop_reason"`
	CreatedAt  int64           `json:"created_at"`
	Usage      UpstreamUsage   `json:"usage"`
}

type UpstreamUsage struct {
	InputTokens      *int `json:"input_tokens,omitempty"`
	OutputTokens     *int `json:"output_tokens,omitempty"`
	PromptTokens     *int `json:"prompt_tokens,omitempty"`
	CompletionTokens *int `json:"completion_tokens,omitempty"`
	TotalTokens      *int `json:"total_tokens,omitempty"`
}

// ToUpstream splits system messages from the conversation and shapes the
// rest for the messages API. It is total: any input produces a valid
// payload. All system-role content is aggregated into one block, joined with
// newlines in input order; other messages keep their relative order.
func ToUpstream(messages []domain.Message) ([]SystemBlock, []UpstreamMessage) {
	var systemParts []string
	out := make([]UpstreamMessage, 0, len(messages))

	for _, m := range messages {
		if m.Role == "system" {
			systemParts = append(systemParts, m.Content)
			continue
		}
		out = append(out, UpstreamMessage{
			Role:    m.Role,
			Content: []ContentBlock{{Type: "text", Text: m.Content}},
		})
	}

	var system []SystemBlock
	if len(systemParts) > 0 {
		system = []SystemBlock{{Type: "text", Text: strings.Join(systemParts, "\n")}}
	}
	return system, out
}

// ExtractText concatenates all text-typed content blocks with newlines. A
// bare string content field is used as a fallback when no typed blocks are
// present. Absence of any text yields an empty string, never an error.
func ExtractText(resp UpstreamResponse) string {
	if len(resp.Content) == 0 {
		return ""
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(resp.Content, &blocks); err != nil {
		var single ContentBlock
		if err := json.Unmarshal(resp.Content, &single); err == nil {
			blocks = []ContentBlock{single}
		}
	}

	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n")
	}

	var bare string
	if err := json.Unmarshal(resp.Content, &bare); err == nil {
		return bare
	}
	return ""
}

// MapUsage normalizes both upstream usage naming conventions into the
// OpenAI shape, computing the total when the upstream omitted it.
func MapUsage(u UpstreamUsage) domain.Usage {
	prompt := 0
	switch {
	case u.InputTokens != nil:
		prompt = *u.InputTokens
	case u.PromptTokens != nil:
		prompt = *u.PromptTokens
	}

	completion := 0
	switch {
	case u.OutputTokens != nil:
		completion = *u.OutputTokens
	case u.CompletionTokens != nil:
		completion = *u.CompletionTokens
	}

	total := prompt + completion
	if u.TotalTokens != nil {
		total = *u.TotalTokens
	}

	return domain.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      total,
	}
}
