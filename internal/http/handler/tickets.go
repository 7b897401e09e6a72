package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"chronicle/internal/auth"
	"chronicle/internal/journal"
	"chronicle/internal/ticket"
)

type TicketHandler struct {
	Svc *ticket.Service
}

type createTicketReq struct {
	Subject     string   `json:"subject"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority"`
	AssigneeID  *uint64  `json:"assignee_id"`
	Tags        []string `json:"tags"`
}

func (h *TicketHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var req createTicketReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Subject) == "" {
		http.Error(w, "subject required", http.StatusBadRequest)
		return
	}

	t, err := h.Svc.Create(r.Context(), uid, ticket.CreateInput{
		Subject:     req.Subject,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		AssigneeID:  req.AssigneeID,
		Tags:        req.Tags,
	})
	if err != nil {
		writeTicketErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(ticketDTOFrom(t))
}

type updateTicketReq struct {
	Subject       *string   `json:"subject"`
	Description   *string   `json:"description"`
	Status        *string   `json:"status"`
	Priority      *string   `json:"priority"`
	AssigneeID    *uint64   `json:"assignee_id"`
	ClearAssignee bool      `json:"clear_assignee"`
	Tags          *[]string `json:"tags"`
	Notes         string    `json:"notes"`
}

func (h *TicketHandler) Update(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req updateTicketReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	t, jr, err := h.Svc.Update(r.Context(), uid, id, ticket.UpdateInput{
		Subject:       req.Subject,
		Description:   req.Description,
		Status:        req.Status,
		Priority:      req.Priority,
		AssigneeID:    req.AssigneeID,
		ClearAssignee: req.ClearAssignee,
		Tags:          req.Tags,
		Notes:         req.Notes,
	})
	if err != nil {
		writeTicketErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ticket":  ticketDTOFrom(t),
		"journal": journalSummary(jr),
	})
}

type noteReq struct {
	Notes string `json:"notes"`
}

func (h *TicketHandler) AddNote(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req noteReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Notes) == "" {
		http.Error(w, "notes required", http.StatusBadRequest)
		return
	}

	jr, err := h.Svc.AddNote(r.Context(), uid, id, req.Notes)
	if err != nil {
		writeTicketErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(journalSummary(jr))
}

type customValueReq struct {
	Value string `json:"value"`
}

func (h *TicketHandler) SetCustomValue(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	fieldID, ok := pathID(w, r, "fieldID")
	if !ok {
		return
	}

	var req customValueReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	jr, err := h.Svc.SetCustomValue(r.Context(), uid, id, fieldID, req.Value)
	if err != nil {
		writeTicketErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(journalSummary(jr))
}

type attachReq struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Filesize    int64  `json:"filesize"`
}

func (h *TicketHandler) Attach(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req attachReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Filename) == "" {
		http.Error(w, "filename required", http.StatusBadRequest)
		return
	}

	a, jr, err := h.Svc.Attach(r.Context(), uid, id, ticket.AttachInput{
		Filename:    req.Filename,
		ContentType: req.ContentType,
		Filesize:    req.Filesize,
	})
	if err != nil {
		writeTicketErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"attachment": attachmentDTOFrom(a),
		"journal":    journalSummary(jr),
	})
}

func (h *TicketHandler) Detach(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	attID, ok := pathID(w, r, "attachmentID")
	if !ok {
		return
	}

	jr, err := h.Svc.Detach(r.Context(), uid, id, attID)
	if err != nil {
		writeTicketErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(journalSummary(jr))
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil {
		http.Error(w, "invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeTicketErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ticket.ErrNotFound), errors.Is(err, journal.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, ticket.ErrStale), errors.Is(err, journal.ErrConflict):
		http.Error(w, "conflict, retry", http.StatusConflict)
	default:
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}

func journalSummary(jr journal.Result) map[string]any {
	if jr.NoOp() {
		return map[string]any{"no_op": true}
	}
	j := jr.Journal
	return map[string]any{
		"no_op":      false,
		"aggregated": jr.Aggregated,
		"id":         j.ID,
		"version":    j.Version,
		"user_id":    j.UserID,
		"notes":      j.Notes,
		"created_at": j.CreatedAt,
	}
}
