package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pulseworks/taskmetrics/internal/domain"
	"github.com/pulseworks/taskmetrics/internal/pkg/httputil"
	"github.com/pulseworks/taskmetrics/internal/pkg/logger"
	"github.com/pulseworks/taskmetrics/internal/service/stats"
)

// SessionSource resolves the authenticated user for a request. Satisfied
// by *auth.Manager; tests substitute a stub.
type SessionSource interface {
	UserID(r *http.Request) string
}

// Handlers holds the HTTP handlers for the stats API.
type Handlers struct {
	svc          *stats.Service
	sessions     SessionSource
	batchSecret  string
	cacheSeconds int
	distLimit    int
}

// NewHandlers creates the stats handlers.
func NewHandlers(svc *stats.Service, sessions SessionSource, batchSecret string, cacheSeconds, distLimit int) *Handlers {
	if cacheSeconds <= 0 {
		cacheSeconds = 300
	}
	if distLimit <= 0 {
		distLimit = 10
	}
	return &Handlers{
		svc:          svc,
		sessions:     sessions,
		batchSecret:  batchSecret,
		cacheSeconds: cacheSeconds,
		distLimit:    distLimit,
	}
}

type ctxKey int

const userIDKey ctxKey = iota

func withUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func userIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

// batchRequest is the POST /stats/batch body. An omitted userId means
// recompute every user.
type batchRequest struct {
	UserID string `json:"userId"`
}

// BatchUpdate triggers a full stats recompute, for one user or all users.
// Only trusted machine callers holding the shared secret may invoke it.
func (h *Handlers) BatchUpdate(w http.ResponseWriter, r *http.Request) {
	if !h.authorizedBatchCaller(r) {
		httputil.Unauthorized(w)
		return
	}

	var req batchRequest
	if r.Body != nil && r.ContentLength != 0 {
		if !httputil.Decode(w, r, &req) {
			return
		}
	}

	if req.UserID != "" {
		if err := h.svc.UpdateUserStats(r.Context(), req.UserID); err != nil {
			logger.Error("single-user batch failed", "user_id", req.UserID, "error", err)
			httputil.Error(w, http.StatusInternalServerError, err.Error())
			return
		}
		httputil.OK(w, map[string]interface{}{
			"success": true,
			"message": fmt.Sprintf("stats updated for user %s", req.UserID),
		})
		return
	}

	result, err := h.svc.UpdateAllUsersStats(r.Context())
	if err != nil {
		logger.Error("all-users batch failed", "error", err)
		httputil.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.OK(w, map[string]interface{}{
		"success": true,
		"message": result.Message(),
	})
}

// authorizedBatchCaller verifies the pre-shared bearer secret with a
// constant-time compare.
func (h *Handlers) authorizedBatchCaller(r *http.Request) bool {
	if h.batchSecret == "" {
		return false
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.batchSecret)) == 1
}

// updateRequest is the POST /api/stats/update body.
type updateRequest struct {
	Action string `json:"action"`
	Date   string `json:"date"`
}

// RecordStat is the incremental path, invoked by the UI right after a task
// mutation succeeds.
func (h *Handlers) RecordStat(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	var req updateRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	action := domain.StatAction(req.Action)
	if !action.Valid() {
		httputil.BadRequest(w, "invalid action: must be \"created\" or \"completed\"")
		return
	}

	var at time.Time
	if req.Date != "" {
		parsed, err := time.Parse(time.RFC3339, req.Date)
		if err != nil {
			httputil.BadRequest(w, "invalid date: must be an ISO-8601 timestamp")
			return
		}
		at = parsed
	}

	if err := h.svc.RecordEvent(r.Context(), userID, action, at); err != nil {
		logger.Error("incremental stat update failed", "user_id", userID, "action", req.Action, "error", err)
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]bool{"success": true})
}

const dateLayout = "2006-01-02"

// GetDailyStats returns the user's daily rollups in [startDate, endDate].
func (h *Handlers) GetDailyStats(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	start, err := time.Parse(dateLayout, r.URL.Query().Get("startDate"))
	if err != nil {
		httputil.BadRequest(w, "invalid startDate: must be YYYY-MM-DD")
		return
	}
	end, err := time.Parse(dateLayout, r.URL.Query().Get("endDate"))
	if err != nil {
		httputil.BadRequest(w, "invalid endDate: must be YYYY-MM-DD")
		return
	}
	if end.Before(start) {
		httputil.BadRequest(w, "endDate must not be before startDate")
		return
	}

	rows, err := h.svc.DailyRange(r.Context(), userID, start, end)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"dailyStats": rows})
}

// GetWeeklyStats returns the user's weekly rollups for one ISO year.
func (h *Handlers) GetWeeklyStats(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	year, ok := parseYear(r.URL.Query().Get("year"))
	if !ok {
		httputil.BadRequest(w, "invalid year: must be a 4-digit year")
		return
	}

	rows, err := h.svc.WeeklyByYear(r.Context(), userID, year)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"weeklyStats": rows})
}

// GetYearlyStats returns the user's yearly rollups in [startYear, endYear].
func (h *Handlers) GetYearlyStats(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	startYear, ok := parseYear(r.URL.Query().Get("startYear"))
	if !ok {
		httputil.BadRequest(w, "invalid startYear: must be a 4-digit year")
		return
	}
	endYear, ok := parseYear(r.URL.Query().Get("endYear"))
	if !ok {
		httputil.BadRequest(w, "invalid endYear: must be a 4-digit year")
		return
	}
	if endYear < startYear {
		httputil.BadRequest(w, "endYear must not be before startYear")
		return
	}

	rows, err := h.svc.YearlyRange(r.Context(), userID, startYear, endYear)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"yearlyStats": rows})
}

// GetDistribution returns the user's task counts grouped by priority and
// by tag. The output only changes on task mutation, so the response
// carries a short private cache window.
func (h *Handlers) GetDistribution(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	limit := h.distLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.BadRequest(w, "invalid limit: must be a positive integer")
			return
		}
		limit = n
	}
	if limit > 50 {
		limit = 50
	}

	priorities, err := h.svc.PriorityDistribution(r.Context(), userID, limit)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	tags, err := h.svc.TagDistribution(r.Context(), userID, limit)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	w.Header().Set("Cache-Control", fmt.Sprintf("private, max-age=%d", h.cacheSeconds))
	httputil.OK(w, map[string]interface{}{
		"priorityDistribution": priorities,
		"tagDistribution":      tags,
	})
}

// parseYear validates a 4-digit year string.
func parseYear(s string) (int, bool) {
	if len(s) != 4 {
		return 0, false
	}
	year, err := strconv.Atoi(s)
	if err != nil || year < 1000 {
		return 0, false
	}
	return year, true
}
