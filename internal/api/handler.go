package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/foundryproxy/foundry-gateway/internal/auth"
	"github.com/foundryproxy/foundry-gateway/internal/cost"
	"github.com/foundryproxy/foundry-gateway/internal/crypto"
	"github.com/foundryproxy/foundry-gateway/internal/domain"
	"github.com/foundryproxy/foundry-gateway/internal/metrics"
	"github.com/foundryproxy/foundry-gateway/internal/notifications"
	"github.com/foundryproxy/foundry-gateway/internal/provider/foundry"
	"github.com/foundryproxy/foundry-gateway/internal/queue"
	"github.com/foundryproxy/foundry-gateway/internal/ratelimit"
	"github.com/foundryproxy/foundry-gateway/internal/resolver"
	"github.com/foundryproxy/foundry-gateway/internal/telemetry"
	"github.com/foundryproxy/foundry-gateway/internal/toolbridge"
	"github.com/foundryproxy/foundry-gateway/internal/translator"
)

const gatewayVersion = "0.4.0"

const (
	routeChat        = "/v1/chat/completions"
	routeCompletions = "/v1/completions"
	routeEmbeddings  = "/v1/embeddings"
)

// UpstreamClient is the slice of the Foundry client the handler consumes.
// Tests substitute a factory pointing clients at a local httptest server.
type UpstreamClient interface {
	CreateMessages(ctx context.Context, req translator.UpstreamRequest) (translator.UpstreamResponse, error)
	StreamMessages(ctx context.Context, req translator.UpstreamRequest) (<-chan foundry.StreamEvent, <-chan error)
	CreateEmbeddings(ctx context.Context, model string, input []string) (map[string]json.RawMessage, error)
}

// ClientFactory builds an upstream client for one resolved target. A fresh
// client per request is cheap and keeps credentials out of shared state.
type ClientFactory func(resource, apiKey string) UpstreamClient

func DefaultClientFactory(resource, apiKey string) UpstreamClient {
	return foundry.NewClient(resource, apiKey)
}

type HandlerConfig struct {
	Resolver      *resolver.Resolver
	ProxyAuth     *auth.ProxyAuth
	Tracker       *metrics.Tracker
	RateLimiter   ratelimit.RateLimiter
	RateLimitRPM  int
	StreamMode    string
	DevDefaultKey string
	Clients       ClientFactory
	Usage         cost.Tracker
	Calculator    *cost.Calculator
	UsageQueue    queue.Queue
	Notifier      notifications.Notifier
	Checkers      []HealthChecker
	CheckTimeout  time.Duration
}

type Handler struct {
	resolver      *resolver.Resolver
	proxyAuth     *auth.ProxyAuth
	tracker       *metrics.Tracker
	rateLimiter   ratelimit.RateLimiter
	rateLimitRPM  int
	streamMode    string
	devDefaultKey string
	clients       ClientFactory
	usage         cost.Tracker
	calculator    *cost.Calculator
	usageQueue    queue.Queue
	notifier      notifications.Notifier
	mux           *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Clients == nil {
		cfg.Clients = DefaultClientFactory
	}
	if cfg.Calculator == nil {
		cfg.Calculator = cost.NewCalculator()
	}
	checkTimeout := cfg.CheckTimeout
	if checkTimeout == 0 {
		checkTimeout = 5 * time.Second
	}

	h := &Handler{
		resolver:      cfg.Resolver,
		proxyAuth:     cfg.ProxyAuth,
		tracker:       cfg.Tracker,
		rateLimiter:   cfg.RateLimiter,
		rateLimitRPM:  cfg.RateLimitRPM,
		streamMode:    cfg.StreamMode,
		devDefaultKey: cfg.DevDefaultKey,
		clients:       cfg.Clients,
		usage:         cfg.Usage,
		calculator:    cfg.Calculator,
		usageQueue:    cfg.UsageQueue,
		notifier:      cfg.Notifier,
		mux:           http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/chat/completions", h.handleChatCompletions)
	h.mux.HandleFunc("POST /v1/completions", h.handleCompletions)
	h.mux.HandleFunc("POST /v1/embeddings", h.handleEmbeddings)
	h.mux.HandleFunc("POST /v1/moderations", h.handleModerations)
	h.mux.HandleFunc("GET /v1/models", h.handleListModels)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.HandleFunc("GET /health/ready", handleHealthReadyWithCheckers(cfg.Checkers, checkTimeout))
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeChatError(w, "", fmt.Sprintf("Invalid JSON: %v", err))
		return
	}
	if isBatchBody(body) {
		writeChatError(w, "", "Batch chat requests are not supported; send a single request object.")
		return
	}

	var req domain.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeChatError(w, "", fmt.Sprintf("Invalid JSON: %v", err))
		return
	}
	if len(req.Messages) == 0 {
		writeChatError(w, "", "No 'messages' field provided")
		return
	}

	logicalKey := h.logicalAPIKey(r)

	model, proxyUser, err := h.proxyAuth.Authenticate(r, req.Model)
	if err != nil {
		h.record(ctx, routeChat, req.Model, "", deriveUserID("", req.User, logicalKey), requestID, domain.Usage{}, true, start)
		writeChatError(w, orModel(req.Model), err.Error())
		return
	}

	userID := deriveUserID(proxyUser, req.User, logicalKey)

	if model == "" {
		h.record(ctx, routeChat, "", "", userID, requestID, domain.Usage{}, true, start)
		writeChatError(w, "", "No 'model' field provided")
		return
	}

	if !h.allowRate(ctx, userID) {
		h.record(ctx, routeChat, model, "", userID, requestID, domain.Usage{}, true, start)
		h.respondChatError(w, req.Stream, model, domain.ErrRateLimitExceeded.Error())
		return
	}

	target, err := h.resolver.Resolve(logicalKey, model)
	if err != nil {
		slog.Warn("target resolution failed", "error", err, "request_id", requestID)
		h.record(ctx, routeChat, model, "", userID, requestID, domain.Usage{}, true, start)
		h.respondChatError(w, req.Stream, model, err.Error())
		return
	}

	system, msgs := translator.ToUpstream(req.Messages)
	upReq := translator.UpstreamRequest{
		Model:       target.Model,
		System:      system,
		Messages:    msgs,
		MaxTokens:   translator.DefaultMaxTokens,
		Temperature: req.Temperature,
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		upReq.MaxTokens = *req.MaxTokens
	}

	client := h.clients(target.Resource, target.Credential)

	if req.Stream && h.streamMode != "buffered" && !req.HasTools() {
		h.streamIncremental(w, r, client, upReq, chatContext{
			model:     model,
			resource:  target.Resource,
			userID:    userID,
			requestID: requestID,
			start:     start,
		})
		return
	}

	resp, err := client.CreateMessages(ctx, upReq)
	if err != nil {
		slog.Error("upstream call failed", "error", err, "resource", target.Resource, "request_id", requestID)
		h.noteUpstreamError(ctx, target.Resource, err)
		h.record(ctx, routeChat, model, target.Resource, userID, requestID, domain.Usage{}, true, start)
		h.respondChatError(w, req.Stream, model, err.Error())
		return
	}

	text := translator.ExtractText(resp)
	usage := translator.MapUsage(resp.Usage)

	var calls []domain.ToolCall
	remainder := text
	if req.HasTools() {
		calls, remainder = toolbridge.Extract(text, req.ToolNames())
	}

	respID := resp.ID
	if respID == "" {
		respID = "resp_local"
	}
	created := resp.CreatedAt
	if created == 0 {
		created = time.Now().Unix()
	}

	h.record(ctx, routeChat, model, target.Resource, userID, requestID, usage, false, start)

	if req.Stream {
		chunks := translator.BufferedChunks(respID, model, created, text, calls, usage)
		h.writeStream(w, r, chunks)
		return
	}

	message := &domain.Message{Role: "assistant"}
	finish := "stop"
	if len(calls) > 0 {
		message.Content = remainder
		message.ToolCalls = calls
		finish = "tool_calls"
	} else {
		message.Content = text
		if message.Content == "" {
			message.Content = translator.NoContentPlaceholder
		}
	}

	out := domain.ChatResponse{
		ID:      respID,
		Object:  "chat.completion",
		Created: created,
		Model:   model,
		Choices: []domain.Choice{{Index: 0, Message: message, FinishReason: finish}},
		Usage:   usage,
		Gateway: &domain.Gateway{
			Resource:  target.Resource,
			LatencyMs: time.Since(start).Milliseconds(),
			RequestID: requestID,
			TraceID:   telemetry.GetTraceID(ctx),
		},
	}

	slog.Info("request completed",
		"request_id", requestID,
		"route", routeChat,
		"model", model,
		"resource", target.Resource,
		"user", userID,
		"latency_ms", out.Gateway.LatencyMs,
	)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	json.NewEncoder(w).Encode(out)
}

type chatContext struct {
	model     string
	resource  string
	userID    string
	requestID string
	start     time.Time
}

// streamIncremental forwards each upstream text delta as its own chunk.
// Tool-declaring requests never take this path since recovery needs the
// complete assistant text.
func (h *Handler) streamIncremental(w http.ResponseWriter, r *http.Request, client UpstreamClient, upReq translator.UpstreamRequest, cc chatContext) {
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeChatError(w, cc.model, "streaming not supported")
		return
	}
	setStreamHeaders(w, cc.requestID)

	metrics.IncrementActiveStreams()
	defer metrics.DecrementActiveStreams()

	events, errs := client.StreamMessages(ctx, upReq)

	created := time.Now().Unix()
	respID := "resp_local"
	var usage domain.Usage
	stopReason := ""
	opened := false

	for event := range events {
		switch event.Type {
		case "message_start":
			if event.MessageID != "" {
				respID = event.MessageID
			}
			if event.Usage != nil {
				usage = translator.MapUsage(*event.Usage)
			}
		case "content_block_delta":
			if !opened {
				writeSSE(w, flusher, translator.RoleChunk(respID, cc.model, created))
				opened = true
			}
			writeSSE(w, flusher, translator.TextChunk(respID, cc.model, created, event.Text))
		case "message_delta":
			if event.StopReason != "" {
				stopReason = event.StopReason
			}
			if event.Usage != nil {
				delta := translator.MapUsage(*event.Usage)
				usage.CompletionTokens += delta.CompletionTokens
				usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			}
		}
	}

	if err := <-errs; err != nil {
		slog.Error("streaming upstream failed", "error", err, "resource", cc.resource, "request_id", cc.requestID)
		h.noteUpstreamError(ctx, cc.resource, err)
		h.record(ctx, routeChat, cc.model, cc.resource, cc.userID, cc.requestID, domain.Usage{}, true, cc.start)
		for _, chunk := range translator.ErrorChunks(cc.model, created, err.Error()) {
			writeSSE(w, flusher, chunk)
		}
		writeDone(w, flusher)
		return
	}

	if ctx.Err() != nil {
		return
	}

	if !opened {
		writeSSE(w, flusher, translator.RoleChunk(respID, cc.model, created))
		writeSSE(w, flusher, translator.TextChunk(respID, cc.model, created, translator.NoContentPlaceholder))
	}

	finish := foundry.MapStopReason(stopReason)
	if finish == "" {
		finish = "stop"
	}
	writeSSE(w, flusher, translator.TerminalChunk(respID, cc.model, created, finish, usage))
	writeDone(w, flusher)

	h.record(ctx, routeChat, cc.model, cc.resource, cc.userID, cc.requestID, usage, false, cc.start)

	slog.Info("streaming request completed",
		"request_id", cc.requestID,
		"model", cc.model,
		"resource", cc.resource,
		"user", cc.userID,
		"latency_ms", time.Since(cc.start).Milliseconds(),
	)
}

func (h *Handler) handleCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}

	var req domain.CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeChatError(w, "", fmt.Sprintf("Invalid JSON: %v", err))
		return
	}
	if len(req.Prompt) == 0 {
		writeChatError(w, "", "No 'prompt' field provided")
		return
	}
	prompt := flattenPrompt(req.Prompt)

	logicalKey := h.logicalAPIKey(r)

	model, proxyUser, err := h.proxyAuth.Authenticate(r, req.Model)
	if err != nil {
		h.record(ctx, routeCompletions, req.Model, "", deriveUserID("", req.User, logicalKey), requestID, domain.Usage{}, true, start)
		writeChatError(w, orModel(req.Model), err.Error())
		return
	}

	userID := deriveUserID(proxyUser, req.User, logicalKey)

	if model == "" {
		h.record(ctx, routeCompletions, "", "", userID, requestID, domain.Usage{}, true, start)
		writeChatError(w, "", "No 'model' field provided")
		return
	}

	if !h.allowRate(ctx, userID) {
		h.record(ctx, routeCompletions, model, "", userID, requestID, domain.Usage{}, true, start)
		writeChatError(w, model, domain.ErrRateLimitExceeded.Error())
		return
	}

	target, err := h.resolver.Resolve(logicalKey, model)
	if err != nil {
		h.record(ctx, routeCompletions, model, "", userID, requestID, domain.Usage{}, true, start)
		writeChatError(w, model, err.Error())
		return
	}

	system, msgs := translator.ToUpstream([]domain.Message{{Role: "user", Content: prompt}})
	upReq := translator.UpstreamRequest{
		Model:       target.Model,
		System:      system,
		Messages:    msgs,
		MaxTokens:   translator.DefaultMaxTokens,
		Temperature: req.Temperature,
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		upReq.MaxTokens = *req.MaxTokens
	}

	client := h.clients(target.Resource, target.Credential)
	resp, err := client.CreateMessages(ctx, upReq)
	if err != nil {
		h.noteUpstreamError(ctx, target.Resource, err)
		h.record(ctx, routeCompletions, model, target.Resource, userID, requestID, domain.Usage{}, true, start)
		writeChatError(w, model, err.Error())
		return
	}

	text := translator.ExtractText(resp)
	if text == "" {
		text = translator.NoContentPlaceholder
	}
	usage := translator.MapUsage(resp.Usage)

	respID := resp.ID
	if respID == "" {
		respID = "resp_local"
	}
	created := resp.CreatedAt
	if created == 0 {
		created = time.Now().Unix()
	}

	h.record(ctx, routeCompletions, model, target.Resource, userID, requestID, usage, false, start)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	json.NewEncoder(w).Encode(domain.CompletionResponse{
		ID:      respID,
		Object:  "text_completion",
		Created: created,
		Model:   model,
		Choices: []domain.CompletionChoice{{Index: 0, Text: text, FinishReason: "stop"}},
		Usage:   usage,
	})
}

func (h *Handler) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}

	var req domain.EmbeddingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.record(ctx, routeEmbeddings, "", "", "unknown", requestID, domain.Usage{}, true, start)
		writeOpenAIError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err), "invalid_request_error", "")
		return
	}

	logicalKey := h.logicalAPIKey(r)

	model, proxyUser, err := h.proxyAuth.Authenticate(r, req.Model)
	if err != nil {
		h.record(ctx, routeEmbeddings, req.Model, "", deriveUserID("", req.User, logicalKey), requestID, domain.Usage{}, true, start)
		writeOpenAIError(w, http.StatusUnauthorized, err.Error(), "auth_error", orModel(req.Model))
		return
	}

	userID := deriveUserID(proxyUser, req.User, logicalKey)

	if model == "" {
		h.record(ctx, routeEmbeddings, "", "", userID, requestID, domain.Usage{}, true, start)
		writeOpenAIError(w, http.StatusBadRequest, "No 'model' field provided", "invalid_request_error", "")
		return
	}
	if len(req.Input) == 0 {
		h.record(ctx, routeEmbeddings, model, "", userID, requestID, domain.Usage{}, true, start)
		writeOpenAIError(w, http.StatusBadRequest, "No 'input' field provided", "invalid_request_error", model)
		return
	}
	inputs := normalizeEmbeddingsInput(req.Input)

	target, err := h.resolver.Resolve(logicalKey, model)
	if err != nil {
		h.record(ctx, routeEmbeddings, model, "", userID, requestID, domain.Usage{}, true, start)
		writeOpenAIError(w, http.StatusBadRequest, err.Error(), "invalid_request_error", model)
		return
	}

	client := h.clients(target.Resource, target.Credential)
	upstream, err := client.CreateEmbeddings(ctx, target.Model, inputs)
	if err != nil {
		h.record(ctx, routeEmbeddings, model, target.Resource, userID, requestID, domain.Usage{}, true, start)

		var nsErr *domain.NotSupportedError
		if errors.As(err, &nsErr) {
			writeOpenAIError(w, http.StatusBadRequest, nsErr.Error(), "not_supported_error", model)
			return
		}
		h.noteUpstreamError(ctx, target.Resource, err)
		writeOpenAIError(w, http.StatusInternalServerError, err.Error(), "server_error", model)
		return
	}

	data := decodeEmbeddingsData(upstream["data"])

	var upUsage translator.UpstreamUsage
	if raw, ok := upstream["usage"]; ok {
		json.Unmarshal(raw, &upUsage)
	}
	usage := translator.MapUsage(upUsage)

	created := time.Now().Unix()
	if raw, ok := upstream["created"]; ok {
		json.Unmarshal(raw, &created)
	} else if raw, ok := upstream["created_at"]; ok {
		json.Unmarshal(raw, &created)
	}

	h.record(ctx, routeEmbeddings, model, target.Resource, userID, requestID, usage, false, start)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	json.NewEncoder(w).Encode(domain.EmbeddingsResponse{
		Object:  "list",
		Model:   model,
		Data:    data,
		Usage:   usage,
		Created: created,
	})
}

// handleModerations is a deterministic rejection: Foundry exposes no
// OpenAI-compatible moderation endpoint.
func (h *Handler) handleModerations(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model string          `json:"model"`
		Input json.RawMessage `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOpenAIError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err), "invalid_request_error", "")
		return
	}

	writeOpenAIError(w, http.StatusBadRequest,
		"Moderations are not currently supported on this gateway. "+
			"Azure AI Foundry does not expose an OpenAI-compatible /v1/moderations endpoint; "+
			"use Azure AI Content Safety directly if needed.",
		"not_supported_error", req.Model)
}

// handleListModels returns a placeholder card: the served model is whatever
// the client's credential and model field resolve to, so there is nothing
// concrete to enumerate.
func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(domain.ModelsResponse{
		Object: "list",
		Data: []domain.Model{
			{ID: "model-from-client-config", Object: "model", OwnedBy: "azure_foundry"},
		},
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":  "healthy",
		"version": gatewayVersion,
	}
	if h.tracker != nil {
		resp["start_time"] = h.tracker.StartTime()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// logicalAPIKey returns the bearer credential, falling back to the dev
// default so local clients can omit the Authorization header entirely.
func (h *Handler) logicalAPIKey(r *http.Request) string {
	if key := auth.ExtractBearerToken(r); key != "" {
		return key
	}
	return h.devDefaultKey
}

func (h *Handler) allowRate(ctx context.Context, userID string) bool {
	if h.rateLimiter == nil || h.rateLimitRPM <= 0 {
		return true
	}
	allowed, _, _, err := h.rateLimiter.Allow(ctx, userID, h.rateLimitRPM)
	if err != nil {
		slog.Error("rate limiter error", "error", err)
		return true
	}
	if !allowed {
		metrics.RecordRateLimitHit(userID)
		if h.notifier != nil {
			h.notifier.Send(ctx, notifications.Notification{
				Type:    notifications.NotificationRateLimited,
				UserID:  userID,
				Message: "request rejected by rate limiter",
			})
		}
	}
	return allowed
}

// record feeds one request outcome into every sink: the JSON tracker, the
// Prometheus vectors, and the optional usage-record exporters.
func (h *Handler) record(ctx context.Context, route, model, resource, userID, requestID string, usage domain.Usage, errored bool, start time.Time) {
	elapsed := time.Since(start)

	h.tracker.Record(metrics.Sample{
		Route:       route,
		Model:       model,
		Resource:    resource,
		UserID:      userID,
		Usage:       usage,
		Error:       errored,
		DurationMs:  float64(elapsed.Milliseconds()),
		HasDuration: true,
	})

	status := "ok"
	if errored {
		status = "error"
	}
	promModel := orModel(model)
	promResource := resource
	if promResource == "" {
		promResource = "unknown-resource"
	}
	metrics.RecordRequest(route, promModel, promResource, status, elapsed.Seconds())
	metrics.RecordTokens(route, promModel, promResource, usage.PromptTokens, usage.CompletionTokens)

	if h.usage == nil && h.usageQueue == nil {
		return
	}
	rec := cost.UsageRecord{
		UserID:           userID,
		RequestID:        requestID,
		Route:            route,
		Model:            model,
		Resource:         resource,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		CostUSD:          h.calculator.Calculate(model, usage),
		Errored:          errored,
		LatencyMs:        elapsed.Milliseconds(),
		Timestamp:        time.Now(),
	}
	if h.usage != nil {
		if err := h.usage.Record(ctx, rec); err != nil {
			slog.Warn("usage record failed", "error", err, "request_id", requestID)
		}
	}
	if h.usageQueue != nil {
		event := queue.UsageEvent{
			RequestID: requestID,
			UserID:    userID,
			Record:    rec,
			CreatedAt: time.Now(),
		}
		if err := h.usageQueue.SendUsage(ctx, event); err != nil {
			slog.Warn("usage export failed", "error", err, "request_id", requestID)
		}
	}
}

func (h *Handler) noteUpstreamError(ctx context.Context, resource string, err error) {
	var upErr *domain.UpstreamError
	if !errors.As(err, &upErr) {
		return
	}

	errType := "transport"
	if upErr.Status > 0 {
		errType = strconv.Itoa(upErr.Status)
	}
	metrics.RecordUpstreamError(resource, errType)

	if h.notifier == nil {
		return
	}
	switch {
	case upErr.Hint != "":
		h.notifier.Send(ctx, notifications.Notification{
			Type:     notifications.NotificationUpstreamUnreachable,
			Resource: resource,
			Message:  upErr.Message,
		})
	case upErr.Status >= 500:
		h.notifier.Send(ctx, notifications.Notification{
			Type:     notifications.NotificationUpstreamError,
			Resource: resource,
			Message:  upErr.Message,
			Data:     map[string]interface{}{"status": upErr.Status},
		})
	}
}

// respondChatError renders a failure the way the requested transport
// expects: an error-shaped completion body for sync calls, a complete
// error-carrying event stream for streaming ones. Both use HTTP 200 so SDKs
// surface the text through their normal rendering path.
func (h *Handler) respondChatError(w http.ResponseWriter, stream bool, model, text string) {
	if !stream {
		writeChatError(w, model, text)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeChatError(w, model, text)
		return
	}
	setStreamHeaders(w, "")
	for _, chunk := range translator.ErrorChunks(model, time.Now().Unix(), text) {
		writeSSE(w, flusher, chunk)
	}
	writeDone(w, flusher)
}

func (h *Handler) writeStream(w http.ResponseWriter, r *http.Request, chunks []domain.StreamChunk) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeChatError(w, "", "streaming not supported")
		return
	}
	setStreamHeaders(w, r.Header.Get("X-Request-ID"))

	metrics.IncrementActiveStreams()
	defer metrics.DecrementActiveStreams()

	for _, chunk := range chunks {
		select {
		case <-r.Context().Done():
			return
		default:
		}
		writeSSE(w, flusher, chunk)
	}
	writeDone(w, flusher)
}

func setStreamHeaders(w http.ResponseWriter, requestID string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	w.Write([]byte("data: " + string(data) + "\n\n"))
	flusher.Flush()
}

func writeDone(w http.ResponseWriter, flusher http.Flusher) {
	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

// writeChatError embeds a failure in a normally shaped chat completion with
// id "error", assistant content carrying the message, and zero usage.
func writeChatError(w http.ResponseWriter, model, text string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(domain.ChatResponse{
		ID:      "error",
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   orModel(model),
		Choices: []domain.Choice{{
			Index:        0,
			Message:      &domain.Message{Role: "assistant", Content: text},
			FinishReason: "stop",
		}},
		Usage: domain.Usage{},
	})
}

func writeOpenAIError(w http.ResponseWriter, status int, message, errType, model string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(domain.ErrorEnvelope{
		Error: domain.ErrorDetail{Message: message, Type: errType},
		Model: orModel(model),
	})
}

func deriveUserID(proxyUser, explicitUser, logicalKey string) string {
	if proxyUser != "" {
		return proxyUser
	}
	if explicitUser != "" {
		return explicitUser
	}
	if logicalKey != "" {
		return crypto.UserDigest(logicalKey)
	}
	return "unknown"
}

func isBatchBody(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}

// flattenPrompt accepts the legacy prompt shapes: a string, a list whose
// elements are concatenated, or any scalar rendered as text.
func flattenPrompt(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var list []interface{}
	if err := json.Unmarshal(raw, &list); err == nil {
		var b strings.Builder
		for _, item := range list {
			b.WriteString(stringify(item))
		}
		return b.String()
	}

	var v interface{}
	if err := json.Unmarshal(raw, &v); err == nil {
		return stringify(v)
	}
	return string(raw)
}

// normalizeEmbeddingsInput accepts a string, a list, or a bare scalar and
// always yields a list of strings for the upstream call.
func normalizeEmbeddingsInput(raw json.RawMessage) []string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []string{s}
	}

	var list []interface{}
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, stringify(item))
		}
		return out
	}

	var v interface{}
	if err := json.Unmarshal(raw, &v); err == nil {
		return []string{stringify(v)}
	}
	return []string{string(raw)}
}

func decodeEmbeddingsData(raw json.RawMessage) []domain.Embedding {
	if len(raw) == 0 {
		return []domain.Embedding{}
	}

	var items []domain.Embedding
	if err := json.Unmarshal(raw, &items); err != nil {
		var single domain.Embedding
		if err := json.Unmarshal(raw, &single); err == nil {
			items = []domain.Embedding{single}
		}
	}

	for i := range items {
		if items[i].Object == "" {
			items[i].Object = "embedding"
		}
		if items[i].Index == 0 {
			items[i].Index = i
		}
	}
	if items == nil {
		items = []domain.Embedding{}
	}
	return items
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func orModel(model string) string {
	if model == "" {
		return "unknown-model"
	}
	return model
}
