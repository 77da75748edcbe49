package translator

import "github.com/foundryproxy/foundry-gateway/internal/domain"

const chunkObject = "chat.completion.chunk"

// NoContentPlaceholder is rendered when the upstream produced no text at
// all; an empty delta would make some clients hang waiting for content.
const NoContentPlaceholder = "(no content returned)"

// BufferedChunks synthesizes the full chunk sequence for a buffered stream:
// one payload chunk carrying the role plus either the whole text or the
// recovered tool-call deltas, then a terminal chunk with the finish reason
// and usage. The caller appends the sentinel frame.
func BufferedChunks(id, model string, created int64, text string, calls []domain.ToolCall, usage domain.Usage) []domain.StreamChunk {
	delta := &domain.Delta{Role: "assistant"}
	finish := "stop"

	if len(calls) > 0 {
		finish = "tool_calls"
		deltas := make([]domain.ToolCallDelta, len(calls))
		for i, call := range calls {
			deltas[i] = domain.ToolCallDelta{
				Index:    i,
				ID:       call.ID,
				Type:     call.Type,
				Function: call.Function,
			}
		}
		delta.ToolCalls = deltas
	} else {
		if text == "" {
			text = NoContentPlaceholder
		}
		delta.Content = text
	}

	return []domain.StreamChunk{
		{
			ID:      id,
			Object:  chunkObject,
			Created: created,
			Model:   model,
			Choices: []domain.Choice{{Index: 0, Delta: delta}},
		},
		TerminalChunk(id, model, created, finish, usage),
	}
}

// RoleChunk opens an incremental stream by establishing the assistant role.
func RoleChunk(id, model string, created int64) domain.StreamChunk {
	return domain.StreamChunk{
		ID:      id,
		Object:  chunkObject,
		Created: created,
		Model:   model,
		Choices: []domain.Choice{{Index: 0, Delta: &domain.Delta{Role: "assistant"}}},
	}
}

// TextChunk forwards one upstream text delta as its own client-facing chunk.
func TextChunk(id, model string, created int64, text string) domain.StreamChunk {
	return domain.StreamChunk{
		ID:      id,
		Object:  chunkObject,
		Created: created,
		Model:   model,
		Choices: []domain.Choice{{Index: 0, Delta: &domain.Delta{Content: text}}},
	}
}

// TerminalChunk closes a stream with an empty delta, the finish reason and
// the request's usage totals.
func TerminalChunk(id, model string, created int64, finishReason string, usage domain.Usage) domain.StreamChunk {
	return domain.StreamChunk{
		ID:      id,
		Object:  chunkObject,
		Created: created,
		Model:   model,
		Choices: []domain.Choice{{Index: 0, Delta: &domain.Delta{}, FinishReason: finishReason}},
		Usage:   &usage,
	}
}

// ErrorChunks renders a failure as a well-formed stream: an assistant chunk
// carrying the error text, then a stop terminal chunk with zero usage.
// Clients must never see a truncated event stream.
func ErrorChunks(model string, created int64, errText string) []domain.StreamChunk {
	if model == "" {
		model = "unknown-model"
	}
	return []domain.StreamChunk{
		{
			ID:      "error",
			Object:  chunkObject,
			Created: created,
			Model:   model,
			Choices: []domain.Choice{{Index: 0, Delta: &domain.Delta{Role: "assistant", Content: errText}}},
		},
		TerminalChunk("error", model, created, "stop", domain.Usage{}),
	}
}
