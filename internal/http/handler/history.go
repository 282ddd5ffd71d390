package handler

import (
	"net/http"
	"strconv"
	"time"

	"firewatch/internal/alert"
	"firewatch/internal/auth"
)

type HistoryHandler struct {
	Tracker *alert.Tracker
}

type activityDTO struct {
	ID          uint64     `json:"id"`
	AlertType   string     `json:"alert_type"`
	RiskScore   *float64   `json:"risk_score"`
	RetryCount  int        `json:"retry_count"`
	Error       *string    `json:"error_message"`
	DeliveredAt *time.Time `json:"delivered_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	page := queryInt(r, "page", 1)
	perPage := queryInt(r, "per_page", 20)

	acts, total, err := h.Tracker.History(r.Context(), uid, page, perPage)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	items := make([]activityDTO, 0, len(acts))
	for _, a := range acts {
		items = append(items, activityDTO{
			ID:          a.ID,
			AlertType:   a.AlertType,
			RiskScore:   a.RiskScore,
			RetryCount:  a.RetryCount,
			Error:       a.ErrorMessage,
			DeliveredAt: a.DeliveredAt,
			CreatedAt:   a.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items":    items,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}
