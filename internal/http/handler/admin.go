package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"firewatch/internal/alert"
	"firewatch/internal/email"
)

type AdminHandler struct {
	Sender   *alert.Sender
	Provider email.Provider
	Renderer *email.Renderer
}

type sendTestReq struct {
	To string `json:"to"`
}

// SendTest sends a canned alert straight through the provider to verify
// the integration. Transport errors are surfaced verbatim for diagnosis.
func (h *AdminHandler) SendTest(w http.ResponseWriter, r *http.Request) {
	var req sendTestReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	req.To = strings.TrimSpace(req.To)
	if req.To == "" {
		http.Error(w, "to address required", http.StatusBadRequest)
		return
	}

	html, text, err := h.Renderer.ImmediateAlert("Test Area", 75, []string{"Dry vegetation", "High wind"})
	if err != nil {
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}

	res := h.Provider.Send(r.Context(), email.Message{
		To:      req.To,
		Subject: "FireWatch Test Email",
		HTML:    html,
		Text:    text,
		Tags:    map[string]string{"alert_type": "test"},
	})
	if !res.Success {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": res.ErrorMessage})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"message_id": res.ProviderMessageID,
	})
}

type triggerReq struct {
	RiskData []alert.RiskEvent `json:"risk_data"`
}

func (h *AdminHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req triggerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if len(req.RiskData) == 0 {
		http.Error(w, "risk_data required", http.StatusBadRequest)
		return
	}

	outcomes := h.Sender.ProcessRiskAlerts(r.Context(), req.RiskData)
	writeJSON(w, http.StatusOK, map[string]any{
		"sent":    alert.CountSent(outcomes),
		"total":   len(outcomes),
		"results": outcomes,
	})
}

type digestReq struct {
	Type string `json:"type"`
}

func (h *AdminHandler) Digest(w http.ResponseWriter, r *http.Request) {
	var req digestReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	var outcomes []alert.Outcome
	if req.Type == "weekly" {
		outcomes = h.Sender.SendWeeklyDigest(r.Context())
	} else {
		outcomes = h.Sender.SendDailyDigest(r.Context())
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sent":  alert.CountSent(outcomes),
		"total": len(outcomes),
	})
}
