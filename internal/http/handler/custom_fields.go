package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"chronicle/internal/ticket"
)

type CustomFieldHandler struct {
	DB *gorm.DB
}

type createFieldReq struct {
	Name      string `json:"name"`
	FieldType string `json:"field_type"`
}

func (h *CustomFieldHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createFieldReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}
	if req.FieldType == "" {
		req.FieldType = "string"
	}

	f := ticket.CustomField{Name: req.Name, FieldType: req.FieldType, CreatedAt: time.Now()}
	if err := h.DB.Create(&f).Error; err != nil {
		http.Error(w, "name already used", http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":         f.ID,
		"name":       f.Name,
		"field_type": f.FieldType,
	})
}

func (h *CustomFieldHandler) List(w http.ResponseWriter, r *http.Request) {
	var fields []ticket.CustomField
	if err := h.DB.Order("id asc").Find(&fields).Error; err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	out := make([]map[string]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, map[string]any{
			"id":         f.ID,
			"name":       f.Name,
			"field_type": f.FieldType,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
