package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"firewatch/internal/alert"
	"firewatch/internal/auth"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type AreaHandler struct {
	DB *gorm.DB
}

type areaDTO struct {
	ID          uint64 `json:"id"`
	AreaName    string `json:"area_name"`
	AreaGeoJSON string `json:"area_geojson,omitempty"`
}

func (h *AreaHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var areas []alert.MonitoredArea
	if err := h.DB.WithContext(r.Context()).Where("user_id = ?", uid).Order("area_name asc").Find(&areas).Error; err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	out := make([]areaDTO, 0, len(areas))
	for _, a := range areas {
		out = append(out, areaDTO{ID: a.ID, AreaName: a.AreaName, AreaGeoJSON: a.AreaGeoJSON})
	}
	writeJSON(w, http.StatusOK, out)
}

type createAreaReq struct {
	AreaName    string `json:"area_name"`
	AreaGeoJSON string `json:"area_geojson"`
}

func (h *AreaHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var req createAreaReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	req.AreaName = strings.TrimSpace(req.AreaName)
	if req.AreaName == "" {
		http.Error(w, "area_name required", http.StatusBadRequest)
		return
	}

	area := alert.MonitoredArea{
		UserID:      uid,
		AreaName:    req.AreaName,
		AreaGeoJSON: req.AreaGeoJSON,
	}
	if err := h.DB.WithContext(r.Context()).Create(&area).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			http.Error(w, "area already monitored", http.StatusConflict)
			return
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, areaDTO{ID: area.ID, AreaName: area.AreaName, AreaGeoJSON: area.AreaGeoJSON})
}

func (h *AreaHandler) Delete(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	id64, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	res := h.DB.WithContext(r.Context()).Where("id = ? AND user_id = ?", id64, uid).Delete(&alert.MonitoredArea{})
	if res.Error != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if res.RowsAffected == 0 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
