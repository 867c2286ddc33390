// Package http provides the HTTP API for budget governance.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/plateful/spendgate/adapters/identity"
	"github.com/plateful/spendgate/app"
	"github.com/plateful/spendgate/config"
	"github.com/plateful/spendgate/domain/budget"
	"github.com/plateful/spendgate/domain/health"
	"github.com/plateful/spendgate/ports"
)

// Handler serves the budget governance API.
type Handler struct {
	quotas    *app.QuotaService
	budgets   *app.BudgetService
	alerts    *app.AlertService
	analytics *app.AnalyticsService
	health    *app.HealthService
	identity  ports.Identity
	holder    *config.Holder
	logger    zerolog.Logger
}

// Deps contains dependencies for Handler.
type Deps struct {
	Quotas    *app.QuotaService
	Budgets   *app.BudgetService
	Alerts    *app.AlertService
	Analytics *app.AnalyticsService
	Health    *app.HealthService
	Identity  ports.Identity
	Holder    *config.Holder
	Logger    zerolog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		quotas:    deps.Quotas,
		budgets:   deps.Budgets,
		alerts:    deps.Alerts,
		analytics: deps.Analytics,
		health:    deps.Health,
		identity:  deps.Identity,
		holder:    deps.Holder,
		logger:    deps.Logger,
	}
}

// Router returns the API router.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)

	r.Get("/healthz", h.Liveness)

	cfg := h.holder.Get()
	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, promhttp.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(h.authenticate)

		r.Post("/reservations", h.CreateReservation)
		r.Post("/reservations/{token}/commit", h.CommitReservation)
		r.Delete("/reservations/{token}", h.ReleaseReservation)

		r.Post("/costs", h.RecordCost)

		r.Get("/budget", h.GetBudget)
		r.Put("/budget", h.UpdateBudget)
		r.Get("/budget/status", h.BudgetStatus)

		r.Get("/usage/summary", h.UsageSummary)
		r.Get("/usage/recent", h.RecentEvents)

		r.Get("/alerts", h.ListAlerts)
		r.Post("/alerts/{id}/read", h.MarkAlertRead)

		r.Get("/health", h.HealthReport)
	})

	return r
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

type ctxUserKey struct{}

// authenticate resolves the acting user and stores it on the context.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := identity.WithToken(r.Context(), extractToken(r))

		userID, err := h.identity.CurrentUserID(ctx)
		if err != nil {
			if errors.Is(err, ports.ErrUnauthenticated) {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "valid credentials required")
				return
			}
			h.logger.Error().Err(err).Msg("identity resolution failed")
			writeError(w, http.StatusServiceUnavailable, "identity_unavailable", "could not resolve user")
			return
		}

		next.ServeHTTP(w, r.WithContext(withUser(ctx, userID)))
	})
}

func withUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxUserKey{}, userID)
}

func userFrom(r *http.Request) string {
	id, _ := r.Context().Value(ctxUserKey{}).(string)
	return id
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}

// accessLog emits one structured line per request.
func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		h.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// -----------------------------------------------------------------------------
// Reservations
// -----------------------------------------------------------------------------

type reserveRequest struct {
	Amount     float64           `json:"amount,omitempty"`
	Option     string            `json:"option,omitempty"`
	ResourceID string            `json:"resource_id,omitempty"`
	Dimensions map[string]string `json:"dimensions,omitempty"`
}

type reserveResponse struct {
	Token     string    `json:"token"`
	Amount    float64   `json:"amount"`
	ExpiresAt time.Time `json:"expires_at"`
}

type decisionResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Window  string `json:"window,omitempty"`
	Message string `json:"message,omitempty"`
}

// CreateReservation places a hold for the requested spend. The amount
// comes either from an explicit value or from a configured pricing
// option.
func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	amount := req.Amount
	if req.Option != "" {
		cost, ok := h.holder.Get().Pricing.Costs[req.Option]
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown_option", "no such pricing option: "+req.Option)
			return
		}
		amount = cost
		if req.Dimensions == nil {
			req.Dimensions = map[string]string{}
		}
		req.Dimensions["option"] = req.Option
	}

	res, d, err := h.quotas.Reserve(r.Context(), userFrom(r), app.ReserveParams{
		Amount:     amount,
		ResourceID: req.ResourceID,
		Dimensions: req.Dimensions,
	})
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	if !d.Allowed {
		writeJSON(w, http.StatusTooManyRequests, decisionResponse{
			Allowed: false, Reason: d.Reason, Window: string(d.Window), Message: d.Message,
		})
		return
	}

	writeJSON(w, http.StatusCreated, reserveResponse{
		Token: res.Token, Amount: res.Amount, ExpiresAt: res.ExpiresAt,
	})
}

type commitRequest struct {
	Cost             float64 `json:"cost"`
	Success          bool    `json:"success"`
	ErrorMessage     string  `json:"error_message,omitempty"`
	GenerationTimeMs int64   `json:"generation_time_ms,omitempty"`
}

// CommitReservation settles a hold with the actual outcome, then
// re-evaluates alert conditions for the user.
func (h *Handler) CommitReservation(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var req commitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	err := h.quotas.Commit(r.Context(), token, app.CommitParams{
		Cost:             req.Cost,
		Success:          req.Success,
		ErrorMessage:     req.ErrorMessage,
		GenerationTimeMs: req.GenerationTimeMs,
	})
	if err != nil {
		h.writeAppError(w, err)
		return
	}

	if _, err := h.alerts.Evaluate(r.Context(), userFrom(r)); err != nil {
		// Spend is already settled; alerting failure must not fail the commit.
		h.logger.Error().Err(err).Msg("alert evaluation after commit failed")
	}

	w.WriteHeader(http.StatusNoContent)
}

// ReleaseReservation rolls back a hold without charging.
func (h *Handler) ReleaseReservation(w http.ResponseWriter, r *http.Request) {
	if err := h.quotas.Release(r.Context(), chi.URLParam(r, "token")); err != nil {
		h.writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// -----------------------------------------------------------------------------
// Direct cost recording
// -----------------------------------------------------------------------------

type recordRequest struct {
	Cost             float64           `json:"cost"`
	Success          bool              `json:"success"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	GenerationTimeMs int64             `json:"generation_time_ms,omitempty"`
	ResourceID       string            `json:"resource_id,omitempty"`
	Dimensions       map[string]string `json:"dimensions,omitempty"`
}

// RecordCost appends an already-performed spend and re-evaluates
// alerts. Spend is recorded even when it puts the user over budget.
func (h *Handler) RecordCost(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if req.Cost < 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "cost must not be negative")
		return
	}

	userID := userFrom(r)
	id, err := h.quotas.Record(r.Context(), userID, app.RecordParams{
		Cost:             req.Cost,
		Success:          req.Success,
		ErrorMessage:     req.ErrorMessage,
		GenerationTimeMs: req.GenerationTimeMs,
		ResourceID:       req.ResourceID,
		Dimensions:       req.Dimensions,
	})
	if err != nil {
		h.writeAppError(w, err)
		return
	}

	if _, err := h.alerts.Evaluate(r.Context(), userID); err != nil {
		h.logger.Error().Err(err).Msg("alert evaluation after record failed")
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// -----------------------------------------------------------------------------
// Budget
// -----------------------------------------------------------------------------

type budgetResponse struct {
	UserID         string    `json:"user_id"`
	DailyLimit     float64   `json:"daily_limit"`
	WeeklyLimit    float64   `json:"weekly_limit"`
	MonthlyLimit   float64   `json:"monthly_limit"`
	AlertThreshold float64   `json:"alert_threshold"`
	AutoPause      bool      `json:"auto_pause"`
	PauseAtLimit   bool      `json:"pause_at_limit"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toBudgetResponse(b budget.Budget) budgetResponse {
	return budgetResponse{
		UserID:         b.UserID,
		DailyLimit:     b.DailyLimit,
		WeeklyLimit:    b.WeeklyLimit,
		MonthlyLimit:   b.MonthlyLimit,
		AlertThreshold: b.AlertThreshold,
		AutoPause:      b.AutoPause,
		PauseAtLimit:   b.PauseAtLimit,
		UpdatedAt:      b.UpdatedAt,
	}
}

func (h *Handler) GetBudget(w http.ResponseWriter, r *http.Request) {
	b, err := h.budgets.Get(r.Context(), userFrom(r))
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetResponse(b))
}

type budgetUpdateRequest struct {
	DailyLimit     *float64 `json:"daily_limit,omitempty"`
	WeeklyLimit    *float64 `json:"weekly_limit,omitempty"`
	MonthlyLimit   *float64 `json:"monthly_limit,omitempty"`
	AlertThreshold *float64 `json:"alert_threshold,omitempty"`
	AutoPause      *bool    `json:"auto_pause,omitempty"`
	PauseAtLimit   *bool    `json:"pause_at_limit,omitempty"`
}

func (h *Handler) UpdateBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	b, err := h.budgets.Update(r.Context(), userFrom(r), budget.Update{
		DailyLimit:     req.DailyLimit,
		WeeklyLimit:    req.WeeklyLimit,
		MonthlyLimit:   req.MonthlyLimit,
		AlertThreshold: req.AlertThreshold,
		AutoPause:      req.AutoPause,
		PauseAtLimit:   req.PauseAtLimit,
	})
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetResponse(b))
}

type windowStatus struct {
	Used      float64 `json:"used"`
	Limit     float64 `json:"limit"`
	Remaining float64 `json:"remaining"`
	Percent   float64 `json:"percent"`
}

type statusResponse struct {
	Daily       windowStatus `json:"daily"`
	Weekly      windowStatus `json:"weekly"`
	Monthly     windowStatus `json:"monthly"`
	Paused      bool         `json:"paused"`
	PausedBy    string       `json:"paused_by,omitempty"`
	CanGenerate bool         `json:"can_generate"`
}

func (h *Handler) BudgetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.quotas.Status(r.Context(), userFrom(r), h.holder.Get().Pricing.MinCost())
	if err != nil {
		h.writeAppError(w, err)
		return
	}

	resp := statusResponse{
		Daily:       toWindowStatus(st.Usage.Daily.Used, st.Usage.Daily.Limit, st.Usage.Daily.Remaining, st.Usage.Daily.Percent),
		Weekly:      toWindowStatus(st.Usage.Weekly.Used, st.Usage.Weekly.Limit, st.Usage.Weekly.Remaining, st.Usage.Weekly.Percent),
		Monthly:     toWindowStatus(st.Usage.Monthly.Used, st.Usage.Monthly.Limit, st.Usage.Monthly.Remaining, st.Usage.Monthly.Percent),
		Paused:      st.Paused,
		PausedBy:    string(st.PausedBy),
		CanGenerate: st.CanGenerate,
	}
	writeJSON(w, http.StatusOK, resp)
}

func toWindowStatus(used, limit, remaining, percent float64) windowStatus {
	return windowStatus{Used: used, Limit: limit, Remaining: remaining, Percent: percent}
}

// -----------------------------------------------------------------------------
// Usage analytics
// -----------------------------------------------------------------------------

func (h *Handler) UsageSummary(w http.ResponseWriter, r *http.Request) {
	days := parseIntQuery(r, "days", 30)
	summary, err := h.analytics.Summary(r.Context(), userFrom(r), days)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) RecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", 20)
	events, err := h.analytics.Recent(r.Context(), userFrom(r), limit)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// -----------------------------------------------------------------------------
// Alerts
// -----------------------------------------------------------------------------

func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	unreadOnly := r.URL.Query().Get("unread") == "true"
	limit := parseIntQuery(r, "limit", 50)

	alerts, err := h.alerts.List(r.Context(), userFrom(r), unreadOnly, limit)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (h *Handler) MarkAlertRead(w http.ResponseWriter, r *http.Request) {
	if err := h.alerts.MarkRead(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

// Liveness answers whether the process is up, without touching stores.
func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReport runs the full diagnostic suite.
func (h *Handler) HealthReport(w http.ResponseWriter, r *http.Request) {
	report := h.health.Run(r.Context())

	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// writeAppError maps application errors to HTTP responses.
func (h *Handler) writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, budget.ErrInvalidValue):
		writeError(w, http.StatusBadRequest, "invalid_value", err.Error())
	case errors.Is(err, app.ErrReservationExpired):
		writeError(w, http.StatusGone, "reservation_expired", "hold expired before commit")
	case errors.Is(err, ports.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "no such resource")
	case errors.Is(err, ports.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", "concurrent update, re-read and retry")
	case errors.Is(err, ports.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthenticated", "valid credentials required")
	case errors.Is(err, ports.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "storage unavailable, request denied")
	default:
		h.logger.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func parseIntQuery(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}
