package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/foundryproxy/foundry-gateway/internal/adminconfig"
	"github.com/foundryproxy/foundry-gateway/internal/auth"
	"github.com/foundryproxy/foundry-gateway/internal/cost"
	"github.com/foundryproxy/foundry-gateway/internal/domain"
	"github.com/foundryproxy/foundry-gateway/internal/metrics"
	"github.com/foundryproxy/foundry-gateway/internal/resolver"
)

const maxAdminEvents = 200

// AdminEvent is one entry in the bounded administrative audit log.
type AdminEvent struct {
	Time   time.Time `json:"time"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail"`
}

type AdminConfig struct {
	Guard           *auth.AdminGuard
	Tokens          *auth.TokenStore
	Tracker         *metrics.Tracker
	ConfigStore     *adminconfig.Store
	Resolver        *resolver.Resolver
	Calculator      *cost.Calculator
	AllowReset      bool
	AllowConfigEdit bool
	AllowUserMgmt   bool
}

type AdminHandler struct {
	guard           *auth.AdminGuard
	tokens          *auth.TokenStore
	tracker         *metrics.Tracker
	configStore     *adminconfig.Store
	resolver        *resolver.Resolver
	calculator      *cost.Calculator
	allowReset      bool
	allowConfigEdit bool
	allowUserMgmt   bool

	eventsMu sync.Mutex
	events   []AdminEvent

	mux http.Handler
}

func NewAdminHandler(cfg AdminConfig) *AdminHandler {
	if cfg.Calculator == nil {
		cfg.Calculator = cost.NewCalculator()
	}

	h := &AdminHandler{
		guard:           cfg.Guard,
		tokens:          cfg.Tokens,
		tracker:         cfg.Tracker,
		configStore:     cfg.ConfigStore,
		resolver:        cfg.Resolver,
		calculator:      cfg.Calculator,
		allowReset:      cfg.AllowReset,
		allowConfigEdit: cfg.AllowConfigEdit,
		allowUserMgmt:   cfg.AllowUserMgmt,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/", h.index)
	mux.HandleFunc("GET /admin/health", h.health)
	mux.HandleFunc("GET /admin/config", h.getConfig)
	mux.HandleFunc("POST /admin/config", h.updateConfig)
	mux.HandleFunc("GET /admin/users", h.listUsers)
	mux.HandleFunc("POST /admin/users", h.createUser)
	mux.HandleFunc("POST /admin/users/{user}/reset", h.resetUserToken)
	mux.HandleFunc("POST /admin/users/{user}/disable", h.disableUser)
	mux.HandleFunc("POST /admin/users/{user}/enable", h.enableUser)
	mux.HandleFunc("DELETE /admin/users/{user}", h.deleteUser)
	mux.HandleFunc("GET /admin/metrics", h.getMetrics)
	mux.HandleFunc("POST /admin/metrics/reset", h.resetMetrics)
	mux.HandleFunc("GET /admin/overview", h.overview)
	mux.HandleFunc("GET /admin/events", h.listEvents)
	mux.HandleFunc("GET /admin/dashboard", h.dashboard)

	h.mux = cfg.Guard.RequireAuth(mux)
	return h
}

func (h *AdminHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *AdminHandler) logEvent(kind, detail string) {
	h.eventsMu.Lock()
	defer h.eventsMu.Unlock()
	h.events = append(h.events, AdminEvent{Time: time.Now(), Kind: kind, Detail: detail})
	if len(h.events) > maxAdminEvents {
		h.events = h.events[len(h.events)-maxAdminEvents:]
	}
}

func (h *AdminHandler) index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"endpoints": []string{
			"/admin/health",
			"/admin/config",
			"/admin/users",
			"/admin/metrics",
			"/admin/overview",
			"/admin/events",
			"/admin/dashboard",
		},
	})
}

func (h *AdminHandler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"users":      h.tokens.Size(),
		"start_time": h.tracker.StartTime(),
	})
}

func (h *AdminHandler) getConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.configStore.Snapshot())
}

func (h *AdminHandler) updateConfig(w http.ResponseWriter, r *http.Request) {
	if !h.allowConfigEdit {
		writeAdminError(w, http.StatusForbidden, "config editing is disabled")
		return
	}

	raw, err := readBody(r)
	if err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	update, err := adminconfig.ParseUpdate(raw)
	if err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snap := h.configStore.Apply(update)
	if h.resolver != nil {
		h.resolver.SetDefaults(h.configStore.Defaults())
	}
	h.logEvent("config_updated", fmt.Sprintf("default_model=%q default_resource=%q",
		snap.Data.DefaultModel, snap.Data.DefaultResource))
	slog.Info("admin config updated",
		"default_model", snap.Data.DefaultModel,
		"default_resource", snap.Data.DefaultResource,
	)

	writeJSON(w, http.StatusOK, snap)
}

func (h *AdminHandler) listUsers(w http.ResponseWriter, r *http.Request) {
	users := h.tokens.List()
	sort.Slice(users, func(i, j int) bool { return users[i].User < users[j].User })
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
		"count": len(users),
	})
}

type createUserRequest struct {
	User        string `json:"user"`
	Token       string `json:"token,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

func (h *AdminHandler) createUser(w http.ResponseWriter, r *http.Request) {
	if !h.allowUserMgmt {
		writeAdminError(w, http.StatusForbidden, "user management is disabled")
		return
	}

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.User == "" {
		writeAdminError(w, http.StatusBadRequest, "user is required")
		return
	}

	token, err := h.tokens.Add(req.User, req.Token)
	if err != nil {
		slog.Error("failed to provision token", "error", err, "user", req.User)
		writeAdminError(w, http.StatusInternalServerError, "failed to provision token")
		return
	}
	if req.Email != "" || req.DisplayName != "" {
		h.tokens.SetMetadata(req.User, req.Email, req.DisplayName)
	}

	h.logEvent("user_created", req.User)
	slog.Info("proxy user created", "user", req.User)

	// The plaintext token appears in this response and nowhere else.
	writeJSON(w, http.StatusCreated, map[string]string{
		"user":  req.User,
		"token": token,
	})
}

func (h *AdminHandler) resetUserToken(w http.ResponseWriter, r *http.Request) {
	if !h.allowUserMgmt {
		writeAdminError(w, http.StatusForbidden, "user management is disabled")
		return
	}
	user := r.PathValue("user")

	var req struct {
		Token string `json:"token,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAdminError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	token, err := h.tokens.Reset(user, req.Token)
	if errors.Is(err, domain.ErrTokenNotFound) {
		writeAdminError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		writeAdminError(w, http.StatusInternalServerError, "failed to reset token")
		return
	}

	h.logEvent("token_reset", user)
	slog.Info("proxy token reset", "user", user)

	writeJSON(w, http.StatusOK, map[string]string{
		"user":  user,
		"token": token,
	})
}

func (h *AdminHandler) disableUser(w http.ResponseWriter, r *http.Request) {
	h.setUserDisabled(w, r, true)
}

func (h *AdminHandler) enableUser(w http.ResponseWriter, r *http.Request) {
	h.setUserDisabled(w, r, false)
}

func (h *AdminHandler) setUserDisabled(w http.ResponseWriter, r *http.Request, disabled bool) {
	if !h.allowUserMgmt {
		writeAdminError(w, http.StatusForbidden, "user management is disabled")
		return
	}
	user := r.PathValue("user")
	if !h.tokens.SetDisabled(user, disabled) {
		writeAdminError(w, http.StatusNotFound, "user not found")
		return
	}

	kind := "user_enabled"
	if disabled {
		kind = "user_disabled"
	}
	h.logEvent(kind, user)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":     user,
		"disabled": disabled,
	})
}

func (h *AdminHandler) deleteUser(w http.ResponseWriter, r *http.Request) {
	if !h.allowUserMgmt {
		writeAdminError(w, http.StatusForbidden, "user management is disabled")
		return
	}
	user := r.PathValue("user")
	if !h.tokens.Delete(user) {
		writeAdminError(w, http.StatusNotFound, "user not found")
		return
	}

	h.logEvent("user_deleted", user)
	slog.Info("proxy user deleted", "user", user)

	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) getMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tracker.Snapshot())
}

func (h *AdminHandler) resetMetrics(w http.ResponseWriter, r *http.Request) {
	if !h.allowReset {
		writeAdminError(w, http.StatusForbidden, "metrics reset is disabled")
		return
	}
	h.tracker.Reset()
	h.logEvent("metrics_reset", "")
	slog.Info("metrics reset by admin")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

type modelOverview struct {
	Usage            metrics.TokenUsage `json:"usage"`
	EstimatedCostUSD float64            `json:"estimated_cost_usd"`
}

type routeOverview struct {
	Count      int                      `json:"count"`
	ErrorCount int                      `json:"error_count"`
	Latency    metrics.LatencySnapshot  `json:"latency_ms"`
	ByModel    map[string]modelOverview `json:"by_model"`
}

// overview is the aggregated admin view: per-route counts and latency, plus
// per-model token totals with an estimated spend from the pricing table.
func (h *AdminHandler) overview(w http.ResponseWriter, r *http.Request) {
	snap := h.tracker.Snapshot()

	routes := make(map[string]routeOverview, len(snap.Routes))
	var totalCost float64
	for route, rs := range snap.Routes {
		byModel := make(map[string]modelOverview, len(rs.ByModel))
		for model, usage := range rs.ByModel {
			c := h.calculator.Calculate(model, domain.Usage{
				PromptTokens:     usage.PromptTokens,
				CompletionTokens: usage.CompletionTokens,
				TotalTokens:      usage.TotalTokens,
			})
			totalCost += c
			byModel[model] = modelOverview{Usage: usage, EstimatedCostUSD: c}
		}
		routes[route] = routeOverview{
			Count:      rs.Count,
			ErrorCount: rs.ErrorCount,
			Latency:    rs.Latency,
			ByModel:    byModel,
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"start_time":               snap.StartTime,
		"routes":                   routes,
		"users":                    h.tokens.Size(),
		"total_estimated_cost_usd": totalCost,
	})
}

func (h *AdminHandler) listEvents(w http.ResponseWriter, r *http.Request) {
	h.eventsMu.Lock()
	events := make([]AdminEvent, len(h.events))
	copy(events, h.events)
	h.eventsMu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

var dashboardTmpl = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html>
<head>
<title>Gateway Dashboard</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; margin-bottom: 2em; }
th, td { border: 1px solid #ccc; padding: 0.4em 0.8em; text-align: left; }
th { background: #f0f0f0; }
</style>
</head>
<body>
<h1>Gateway Dashboard</h1>
<h2>Routes</h2>
<table>
<tr><th>Route</th><th>Requests</th><th>Errors</th><th>Prompt Tokens</th><th>Completion Tokens</th><th>Avg Latency (ms)</th><th>P95 (ms)</th></tr>
{{range $route, $m := .Routes}}
<tr>
<td>{{$route}}</td>
<td>{{$m.Count}}</td>
<td>{{$m.ErrorCount}}</td>
<td>{{$m.Usage.PromptTokens}}</td>
<td>{{$m.Usage.CompletionTokens}}</td>
<td>{{printf "%.1f" $m.Latency.Avg}}</td>
<td>{{printf "%.1f" $m.Latency.P95}}</td>
</tr>
{{end}}
</table>
<h2>Users</h2>
<table>
<tr><th>User</th><th>Created</th><th>Last Used</th><th>Disabled</th></tr>
{{range .Users}}
<tr>
<td>{{.User}}</td>
<td>{{.CreatedAt.Format "2006-01-02 15:04"}}</td>
<td>{{if .LastUsed.IsZero}}never{{else}}{{.LastUsed.Format "2006-01-02 15:04"}}{{end}}</td>
<td>{{.Disabled}}</td>
</tr>
{{end}}
</table>
</body>
</html>
`))

func (h *AdminHandler) dashboard(w http.ResponseWriter, r *http.Request) {
	snap := h.tracker.Snapshot()
	users := h.tokens.List()
	sort.Slice(users, func(i, j int) bool { return users[i].User < users[j].User })

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := dashboardTmpl.Execute(w, map[string]interface{}{
		"Routes": snap.Routes,
		"Users":  users,
	})
	if err != nil {
		slog.Error("dashboard render failed", "error", err)
	}
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	var buf json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeAdminError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"error": message})
}
