package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/foundryproxy/foundry-gateway/internal/auth"
	"github.com/foundryproxy/foundry-gateway/internal/domain"
	"github.com/foundryproxy/foundry-gateway/internal/metrics"
	"github.com/foundryproxy/foundry-gateway/internal/provider/foundry"
	"github.com/foundryproxy/foundry-gateway/internal/ratelimit"
	"github.com/foundryproxy/foundry-gateway/internal/resolver"
)

// fakeFoundry is an httptest server speaking just enough of the messages API
// for handler tests.
type fakeFoundry struct {
	server *httptest.Server

	messagesBody   string
	messagesStatus int
	streamFrames   []string
}

func newFakeFoundry() *fakeFoundry {
	f := &fakeFoundry{
		messagesStatus: http.StatusOK,
		messagesBody: `{
			"id": "msg_1",
			"model": "claude-3-5-sonnet",
			"content": [{"type": "text", "text": "hello"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 3, "output_tokens": 2}
		}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Stream bool `json:"stream"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		if f.messagesStatus != http.StatusOK {
			http.Error(w, f.messagesBody, f.messagesStatus)
			return
		}
		if req.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, frame := range f.streamFrames {
				fmt.Fprint(w, "data: "+frame+"\n\n")
			}
			return
		}
		fmt.Fprint(w, f.messagesBody)
	})
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": [{"object": "embedding", "index": 0, "embedding": [0.1, 0.2]}], "usage": {"input_tokens": 4}}`)
	})

	f.server = httptest.NewServer(mux)
	return f
}

func (f *fakeFoundry) factory() ClientFactory {
	return func(resource, apiKey string) UpstreamClient {
		return foundry.NewClient(resource, apiKey, foundry.WithBaseURL(f.server.URL))
	}
}

func newTestHandler(f *fakeFoundry, mutate func(*HandlerConfig)) *Handler {
	cfg := HandlerConfig{
		Resolver:  resolver.New(nil),
		ProxyAuth: &auth.ProxyAuth{},
		Tracker:   metrics.NewTracker(),
		Clients:   f.factory(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewHandler(cfg)
}

func postChat(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer myres:sk-test")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeChat(t *testing.T, w *httptest.ResponseRecorder) domain.ChatResponse {
	t.Helper()
	var resp domain.ChatResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, w.Body.String())
	}
	return resp
}

func TestChatCompletions_Sync(t *testing.T) {
	f := newFakeFoundry()
	defer f.server.Close()
	h := newTestHandler(f, nil)

	w := postChat(t, h, `{"model": "claude-3-5-sonnet", "messages": [{"role": "user", "content": "hi"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}

	resp := decodeChat(t, w)
	if resp.ID != "msg_1" {
		t.Errorf("id %q", resp.ID)
	}
	if resp.Model != "claude-3-5-sonnet" {
		t.Errorf("model %q", resp.Model)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "hello" {
		t.Errorf("choices %+v", resp.Choices)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Errorf("finish %q", resp.Choices[0].FinishReason)
	}
	if resp.Usage.TotalTokens != 5 {
		t.Errorf("usage %+v", resp.Usage)
	}
	if resp.Gateway == nil || resp.Gateway.Resource != "myres" {
		t.Errorf("gateway %+v", resp.Gateway)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestChatCompletions_ToolRecovery(t *testing.T) {
	f := newFakeFoundry()
	defer f.server.Close()
	f.messagesBody = `{
		"id": "msg_2",
		"content": [{"type": "text", "text": "<read_file><path>/tmp/a.txt</path></read_file>"}],
		"usage": {"input_tokens": 10, "output_tokens": 8}
	}`
	h := newTestHandler(f, nil)

	w := postChat(t, h, `{
		"model": "claude-3-5-sonnet",
		"messages": [{"role": "user", "content": "read the file"}],
		"tools": [{"type": "function", "function": {"name": "read_file"}}]
	}`)

	resp := decodeChat(t, w)
	choice := resp.Choices[0]
	if choice.FinishReason != "tool_calls" {
		t.Fatalf("finish %q (body %s)", choice.FinishReason, w.Body.String())
	}
	if len(choice.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls %+v", choice.Message.ToolCalls)
	}
	call := choice.Message.ToolCalls[0]
	if call.ID != "call_read_file_1" {
		t.Errorf("call id %q", call.ID)
	}
	if call.Function.Name != "read_file" {
		t.Errorf("call name %q", call.Function.Name)
	}
	var args map[string]string
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		t.Fatalf("arguments not JSON: %q", call.Function.Arguments)
	}
	if args["uri"] != "/tmp/a.txt" {
		t.Errorf("args %v", args)
	}
	if choice.Message.Content != "" {
		t.Errorf("remainder %q", choice.Message.Content)
	}
}

func TestChatCompletions_EmptyContentPlaceholder(t *testing.T) {
	f := newFakeFoundry()
	defer f.server.Close()
	f.messagesBody = `{"id": "msg_3", "content": [], "usage": {}}`
	h := newTestHandler(f, nil)

	w := postChat(t, h, `{"model": "claude-3-5-sonnet", "messages": [{"role": "user", "content": "hi"}]}`)
	resp := decodeChat(t, w)
	if resp.Choices[0].Message.Content != "(no content returned)" {
		t.Errorf("content %q", resp.Choices[0].Message.Content)
	}
}

func TestChatCompletions_BatchRejected(t *testing.T) {
	f := newFakeFoundry()
	defer f.server.Close()
	h := newTestHandler(f, nil)

	w := postChat(t, h, `[{"model": "m", "messages": []}]`)
	if w.Code != http.StatusOK {
		t.Fatalf("batch rejection must keep HTTP 200, got %d", w.Code)
	}
	resp := decodeChat(t, w)
	if resp.ID != "error" {
		t.Errorf("id %q", resp.ID)
	}
	if !strings.Contains(resp.Choices[0].Message.Content, "Batch") {
		t.Errorf("content %q", resp.Choices[0].Message.Content)
	}
	if resp.Usage.TotalTokens != 0 {
		t.Errorf("usage %+v", resp.Usage)
	}
}

func TestChatCompletions_MissingModel(t *testing.T) {
	f := newFakeFoundry()
	defer f.server.Close()
	h := newTestHandler(f, nil)

	w := postChat(t, h, `{"messages": [{"role": "user", "content": "hi"}]}`)
	resp := decodeChat(t, w)
	if resp.ID != "error" || !strings.Contains(resp.Choices[0].Message.Content, "model") {
		t.Errorf("body %s", w.Body.String())
	}
}

func TestChatCompletions_MissingMessages(t *testing.T) {
	f := newFakeFoundry()
	defer f.server.Close()
	h := newTestHandler(f, nil)

	w := postChat(t, h, `{"model": "claude-3-5-sonnet"}`)
	resp := decodeChat(t, w)
	if resp.ID != "error" || !strings.Contains(resp.Choices[0].Message.Content, "messages") {
		t.Errorf("body %s", w.Body.String())
	}
}

func TestChatCompletions_ResolutionError(t *testing.T) {
	f := newFakeFoundry()
	defer f.server.Close()
	h := newTestHandler(f, nil)

	// No Authorization header and no dev default: the credential cannot be
	// derived even though the model is present.
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model": "claude-3-5-sonnet", "messages": [{"role": "user", "content": "hi"}]}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("config errors ride in 200 bodies, got %d", w.Code)
	}
	resp := decodeChat(t, w)
	if resp.ID != "error" {
		t.Errorf("id %q", resp.ID)
	}
	if !strings.Contains(resp.Choices[0].Message.Content, "missing configuration") {
		t.Errorf("content %q", resp.Choices[0].Message.Content)
	}
}

func TestChatCompletions_DevDefaultKey(t *testing.T) {
	f := newFakeFoundry()
	defer f.server.Close()
	h := newTestHandler(f, func(cfg *HandlerConfig) {
		cfg.DevDefaultKey = "myres:sk-dev"
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model": "claude-3-5-sonnet", "messages": [{"role": "user", "content": "hi"}]}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	resp := decodeChat(t, w)
	if resp.ID != "msg_1" {
		t.Errorf("dev default key should resolve the target, got body %s", w.Body.String())
	}
}

func TestChatCompletions_UpstreamError(t *testing.T) {
	f := newFakeFoundry()
	defer f.server.Close()
	f.messagesStatus = http.StatusUnauthorized
	f.messagesBody = "invalid api key"
	h := newTestHandler(f, nil)

	w := postChat(t, h, `{"model": "claude-3-5-sonnet", "messages": [{"role": "user", "content": "hi"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("upstream errors ride in 200 bodies, got %d", w.Code)
	}
	resp := decodeChat(t, w)
	if resp.ID != "error" {
		t.Errorf("id %q", resp.ID)
	}
	if !strings.Contains(resp.Choices[0].Message.Content, "401") {
		t.Errorf("content %q", resp.Choices[0].Message.Content)
	}
}

// readSSE parses "data: ..." frames from a recorded event stream.
func readSSE(t *testing.T, body string) []string {
	t.Helper()
	var frames []string
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			frames = append(frames, strings.TrimPrefix(line, "data: "))
		}
	}
	return frames
}

func TestChatCompletions_StreamBufferedWithTools(t *testing.T) {
	f := newFakeFoundry()
	defer f.server.Close()
	f.messagesBody = `{
		"id": "msg_4",
		"content": [{"type": "text", "text": "<read_file><path>/tmp/a.txt</path></read_file>"}],
		"usage": {"input_tokens": 10, "output_tokens": 8}
	}`
	h := newTestHandler(f, nil)

	w := postChat(t, h, `{
		"model": "claude-3-5-sonnet",
		"messages": [{"role": "user", "content": "read"}],
		"stream": true,
		"tools": [{"type": "function", "function": {"name": "read_file"}}]
	}`)

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}
	frames := readSSE(t, w.Body.String())
	if len(frames) != 3 || frames[len(frames)-1] != "[DONE]" {
		t.Fatalf("frames %v", frames)
	}

	var first domain.StreamChunk
	json.Unmarshal([]byte(frames[0]), &first)
	delta := first.Choices[0].Delta
	if delta.Role != "assistant" || len(delta.ToolCalls) != 1 {
		t.Errorf("first delta %+v", delta)
	}
	if delta.ToolCalls[0].ID != "call_read_file_1" {
		t.Errorf("call id %q", delta.ToolCalls[0].ID)
	}

	var terminal domain.StreamChunk
	json.Unmarshal([]byte(frames[1]), &terminal)
	if terminal.Choices[0].FinishReason != "tool_calls" {
		t.Errorf("finish %q", terminal.Choices[0].FinishReason)
	}
	if terminal.Usage == nil || terminal.Usage.TotalTokens != 18 {
		t.Errorf("usage %+v", terminal.Usage)
	}
}

func TestChatCompletions_StreamIncremental(t *testing.T) {
	f := newFakeFoundry()
	defer f.server.Close()
	f.streamFrames = []string{
		`{"type": "message_start", "message": {"id": "msg_5", "usage": {"input_tokens": 4}}}`,
		`{"type": "content_block_delta", "delta": {"type": "text_delta", "text": "hel"}}`,
		`{"type": "content_block_delta", "delta": {"type": "text_delta", "text": "lo"}}`,
		`{"type": "message_delta", "delta": {"stop_reason": "end_turn"}, "usage": {"output_tokens": 2}}`,
		`{"type": "message_stop"}`,
	}
	h := newTestHandler(f, nil)

	w := postChat(t, h, `{"model": "claude-3-5-sonnet", "messages": [{"role": "user", "content": "hi"}], "stream": true}`)

	frames := readSSE(t, w.Body.String())
	// role + two text deltas + terminal + [DONE]
	if len(frames) != 5 || frames[4] != "[DONE]" {
		t.Fatalf("frames %v", frames)
	}

	var role domain.StreamChunk
	json.Unmarshal([]byte(frames[0]), &role)
	if role.ID != "msg_5" || role.Choices[0].Delta.Role != "assistant" {
		t.Errorf("role chunk %+v", role)
	}

	var text string
	for _, frame := range frames[1:3] {
		var chunk domain.StreamChunk
		json.Unmarshal([]byte(frame), &chunk)
		text += chunk.Choices[0].Delta.Content
	}
	if text != "hello" {
		t.Errorf("text %q", text)
	}

	var terminal domain.StreamChunk
	json.Unmarshal([]byte(frames[3]), &terminal)
	if terminal.Choices[0].FinishReason != "stop" {
		t.Errorf("finish %q", terminal.Choices[0].FinishReason)
	}
	if terminal.Usage == nil || terminal.Usage.PromptTokens != 4 || terminal.Usage.CompletionTokens != 2 {
		t.Errorf("usage %+v", terminal.Usage)
	}
}

func TestChatCompletions_StreamModeBuffered(t *testing.T) {
	f := newFakeFoundry()
	defer f.server.Close()
	h := newTestHandler(f, func(cfg *HandlerConfig) {
		cfg.StreamMode = "buffered"
	})

	w := postChat(t, h, `{"model": "claude-3-5-sonnet", "messages": [{"role": "user", "content": "hi"}], "stream": true}`)

	frames := readSSE(t, w.Body.String())
	if len(frames) != 3 || frames[2] != "[DONE]" {
		t.Fatalf("frames %v", frames)
	}
	var first domain.StreamChunk
	json.Unmarshal([]byte(frames[0]), &first)
	if first.Choices[0].Delta.Content != "hello" {
		t.Errorf("buffered payload %+v", first.Choices[0].Delta)
	}
}

func TestChatCompletions_StreamUpstreamError(t *testing.T) {
	f := newFakeFoundry()
	defer f.server.Close()
	f.messagesStatus = http.StatusServiceUnavailable
	f.messagesBody = "overloaded"
	h := newTestHandler(f, nil)

	w := postChat(t, h, `{"model": "claude-3-5-sonnet", "messages": [{"role": "user", "content": "hi"}], "stream": true}`)

	frames := readSSE(t, w.Body.String())
	if len(frames) != 3 || frames[2] != "[DONE]" {
		t.Fatalf("stream must terminate cleanly on error, frames %v", frames)
	}
	var first domain.StreamChunk
	json.Unmarshal([]byte(frames[0]), &first)
	if first.ID != "error" {
		t.Errorf("id %q", first.ID)
	}
	if !strings.Contains(first.Choices[0].Delta.Content, "503") {
		t.Errorf("content %q", first.Choices[0].Delta.Content)
	}
	var terminal domain.StreamChunk
	json.Unmarshal([]byte(frames[1]), &terminal)
	if terminal.Choices[0].FinishReason != "stop" {
		t.Errorf("finish %q", terminal.Choices[0].FinishReason)
	}
	if terminal.Usage == nil || terminal.Usage.TotalTokens != 0 {
		t.Errorf("usage %+v", terminal.Usage)
	}
}

func TestChatCompletions_ProxyToken(t *testing.T) {
	store := auth.NewTokenStore("")
	token, err := store.Add("alice", "")
	if err != nil {
		t.Fatal(err)
	}

	f := newFakeFoundry()
	defer f.server.Close()
	h := newTestHandler(f, func(cfg *HandlerConfig) {
		cfg.ProxyAuth = &auth.ProxyAuth{Required: true, Store: store}
		cfg.DevDefaultKey = "myres:sk-dev"
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model": "claude-3-5-sonnet", "messages": [{"role": "user", "content": "hi"}]}`))
	req.Header.Set("X-Proxy-Token", token)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	resp := decodeChat(t, w)
	if resp.ID != "msg_1" {
		t.Fatalf("authenticated request failed: %s", w.Body.String())
	}

	// An invalid token surfaces as an error-shaped body, still HTTP 200.
	req = httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model": "claude-3-5-sonnet", "messages": [{"role": "user", "content": "hi"}]}`))
	req.Header.Set("X-Proxy-Token", "pxy-wrong")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)

	resp = decodeChat(t, w)
	if resp.ID != "error" || !strings.Contains(resp.Choices[0].Message.Content, "invalid") {
		t.Errorf("body %s", w.Body.String())
	}
}

func TestChatCompletions_AuthFailureTracked(t *testing.T) {
	f := newFakeFoundry()
	defer f.server.Close()
	tracker := metrics.NewTracker()
	h := newTestHandler(f, func(cfg *HandlerConfig) {
		cfg.ProxyAuth = &auth.ProxyAuth{Required: true, Store: auth.NewTokenStore("")}
		cfg.Tracker = tracker
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model": "claude-3-5-sonnet", "messages": [{"role": "user", "content": "hi"}]}`))
	req.Header.Set("X-Proxy-Token", "pxy-wrong")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	rs := tracker.Snapshot().Routes["/v1/chat/completions"]
	if rs.Count != 1 || rs.ErrorCount != 1 {
		t.Errorf("counts %+v", rs)
	}
}

func TestChatCompletions_RateLimit(t *testing.T) {
	f := newFakeFoundry()
	defer f.server.Close()
	h := newTestHandler(f, func(cfg *HandlerConfig) {
		cfg.RateLimiter = ratelimit.NewInMemoryRateLimiter()
		cfg.RateLimitRPM = 1
	})

	body := `{"model": "claude-3-5-sonnet", "messages": [{"role": "user", "content": "hi"}]}`
	if resp := decodeChat(t, postChat(t, h, body)); resp.ID != "msg_1" {
		t.Fatalf("first request should pass: %+v", resp)
	}
	resp := decodeChat(t, postChat(t, h, body))
	if resp.ID != "error" || !strings.Contains(resp.Choices[0].Message.Content, "rate limit") {
		t.Errorf("second request should be limited, got %+v", resp)
	}
}

func TestChatCompletions_TracksMetrics(t *testing.T) {
	f := newFakeFoundry()
	defer f.server.Close()
	tracker := metrics.NewTracker()
	h := newTestHandler(f, func(cfg *HandlerConfig) {
		cfg.Tracker = tracker
	})

	postChat(t, h, `{"model": "claude-3-5-sonnet", "messages": [{"role": "user", "content": "hi"}], "user": "bob"}`)

	snap := tracker.Snapshot()
	rs, ok := snap.Routes["/v1/chat/completions"]
	if !ok {
		t.Fatalf("route not tracked: %+v", snap.Routes)
	}
	if rs.Count != 1 || rs.ErrorCount != 0 {
		t.Errorf("counts %+v", rs)
	}
	if rs.Usage.TotalTokens != 5 {
		t.Errorf("usage %+v", rs.Usage)
	}
	if _, ok := rs.ByUser["bob"]; !ok {
		t.Errorf("by_user %v", rs.ByUser)
	}
	if _, ok := rs.ByResource["myres"]; !ok {
		t.Errorf("by_resource %v", rs.ByResource)
	}
}

func TestCompletions_Legacy(t *testing.T) {
	f := newFakeFoundry()
	defer f.server.Close()
	h := newTestHandler(f, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/completions",
		strings.NewReader(`{"model": "claude-3-5-sonnet", "prompt": ["say ", "hello"]}`))
	req.Header.Set("Authorization", "Bearer myres:sk-test")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp domain.CompletionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Object != "text_completion" {
		t.Errorf("object %q", resp.Object)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Text != "hello" {
		t.Errorf("choices %+v", resp.Choices)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Errorf("finish %q", resp.Choices[0].FinishReason)
	}
}

func TestEmbeddings(t *testing.T) {
	f := newFakeFoundry()
	defer f.server.Close()
	h := newTestHandler(f, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/embeddings",
		strings.NewReader(`{"model": "text-embedding-3-large", "input": "hello"}`))
	req.Header.Set("Authorization", "Bearer myres:sk-test")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d body %s", w.Code, w.Body.String())
	}
	var resp domain.EmbeddingsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Object != "list" || len(resp.Data) != 1 {
		t.Errorf("resp %+v", resp)
	}
	if len(resp.Data[0].Embedding) != 2 {
		t.Errorf("embedding %v", resp.Data[0].Embedding)
	}
	if resp.Usage.PromptTokens != 4 {
		t.Errorf("usage %+v", resp.Usage)
	}
}

func TestEmbeddings_MissingInput(t *testing.T) {
	f := newFakeFoundry()
	defer f.server.Close()
	h := newTestHandler(f, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/embeddings",
		strings.NewReader(`{"model": "text-embedding-3-large"}`))
	req.Header.Set("Authorization", "Bearer myres:sk-test")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d", w.Code)
	}
	var env domain.ErrorEnvelope
	json.NewDecoder(w.Body).Decode(&env)
	if env.Error.Type != "invalid_request_error" {
		t.Errorf("type %q", env.Error.Type)
	}
}

func TestEmbeddings_ResolutionErrorIsBadRequest(t *testing.T) {
	f := newFakeFoundry()
	defer f.server.Close()
	h := newTestHandler(f, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/embeddings",
		strings.NewReader(`{"model": "text-embedding-3-large", "input": "hi"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d", w.Code)
	}
	var env domain.ErrorEnvelope
	json.NewDecoder(w.Body).Decode(&env)
	if env.Error.Type != "invalid_request_error" {
		t.Errorf("type %q", env.Error.Type)
	}
	if !strings.Contains(env.Error.Message, "missing configuration") {
		t.Errorf("message %q", env.Error.Message)
	}
}

func TestEmbeddings_AuthFailure(t *testing.T) {
	f := newFakeFoundry()
	defer f.server.Close()
	h := newTestHandler(f, func(cfg *HandlerConfig) {
		cfg.ProxyAuth = &auth.ProxyAuth{Required: true, Store: auth.NewTokenStore("")}
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/embeddings",
		strings.NewReader(`{"model": "text-embedding-3-large", "input": "hi"}`))
	req.Header.Set("X-Proxy-Token", "pxy-wrong")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status %d", w.Code)
	}
	var env domain.ErrorEnvelope
	json.NewDecoder(w.Body).Decode(&env)
	if env.Error.Type != "auth_error" {
		t.Errorf("type %q", env.Error.Type)
	}
}

func TestEmbeddings_AuthFailureTracked(t *testing.T) {
	f := newFakeFoundry()
	defer f.server.Close()
	tracker := metrics.NewTracker()
	h := newTestHandler(f, func(cfg *HandlerConfig) {
		cfg.ProxyAuth = &auth.ProxyAuth{Required: true, Store: auth.NewTokenStore("")}
		cfg.Tracker = tracker
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/embeddings",
		strings.NewReader(`{"model": "text-embedding-3-large", "input": "hi"}`))
	req.Header.Set("X-Proxy-Token", "pxy-wrong")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	rs := tracker.Snapshot().Routes["/v1/embeddings"]
	if rs.Count != 1 || rs.ErrorCount != 1 {
		t.Errorf("counts %+v", rs)
	}
}

func TestModerations_NotSupported(t *testing.T) {
	f := newFakeFoundry()
	defer f.server.Close()
	h := newTestHandler(f, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/moderations",
		strings.NewReader(`{"model": "omni-moderation-latest", "input": "text"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d", w.Code)
	}
	var env domain.ErrorEnvelope
	json.NewDecoder(w.Body).Decode(&env)
	if env.Error.Type != "not_supported_error" {
		t.Errorf("type %q", env.Error.Type)
	}
	if env.Model != "omni-moderation-latest" {
		t.Errorf("model %q", env.Model)
	}
}

func TestListModels_Placeholder(t *testing.T) {
	f := newFakeFoundry()
	defer f.server.Close()
	h := newTestHandler(f, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp domain.ModelsResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Object != "list" || len(resp.Data) != 1 {
		t.Errorf("resp %+v", resp)
	}
	if resp.Data[0].ID != "model-from-client-config" {
		t.Errorf("id %q", resp.Data[0].ID)
	}
	if resp.Data[0].OwnedBy != "azure_foundry" {
		t.Errorf("owned_by %q", resp.Data[0].OwnedBy)
	}
}

func TestHealthEndpoints(t *testing.T) {
	f := newFakeFoundry()
	defer f.server.Close()
	h := newTestHandler(f, nil)

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("%s status %d", path, w.Code)
		}
	}
}
