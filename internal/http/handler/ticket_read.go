package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"chronicle/internal/ticket"
)

type TicketReadHandler struct {
	DB *gorm.DB
}

type ticketDTO struct {
	ID          uint64    `json:"id"`
	Subject     string    `json:"subject"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority"`
	AssigneeID  *uint64   `json:"assignee_id"`
	Tags        []string  `json:"tags"`
	AuthorID    uint64    `json:"author_id"`
	LockVersion uint64    `json:"lock_version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func ticketDTOFrom(t *ticket.Ticket) ticketDTO {
	return ticketDTO{
		ID:          t.ID,
		Subject:     t.Subject,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		AssigneeID:  t.AssigneeID,
		Tags:        []string(t.Tags),
		AuthorID:    t.AuthorID,
		LockVersion: t.LockVersion,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

type attachmentDTO struct {
	ID          uint64    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Filesize    int64     `json:"filesize"`
	AuthorID    uint64    `json:"author_id"`
	CreatedAt   time.Time `json:"created_at"`
}

func attachmentDTOFrom(a *ticket.Attachment) attachmentDTO {
	return attachmentDTO{
		ID:          a.ID,
		Filename:    a.Filename,
		ContentType: a.ContentType,
		Filesize:    a.Filesize,
		AuthorID:    a.AuthorID,
		CreatedAt:   a.CreatedAt,
	}
}

type customValueDTO struct {
	FieldID uint64 `json:"field_id"`
	Value   string `json:"value"`
}

func (h *TicketReadHandler) List(w http.ResponseWriter, r *http.Request) {
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	tag := strings.TrimSpace(strings.ToLower(r.URL.Query().Get("tag")))
	qText := strings.TrimSpace(r.URL.Query().Get("q"))

	q := h.DB.Model(&ticket.Ticket{})

	if status != "" {
		q = q.Where("status = ?", status)
	}
	if tag != "" {
		q = q.Where("? = any(tags)", tag)
	}
	if qText != "" {
		q = q.Where("subject ILIKE ? or description ILIKE ?", "%"+qText+"%", "%"+qText+"%")
	}

	var rows []ticket.Ticket
	if err := q.Order("updated_at desc").Limit(50).Find(&rows).Error; err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	out := make([]ticketDTO, 0, len(rows))
	for i := range rows {
		out = append(out, ticketDTOFrom(&rows[i]))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (h *TicketReadHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var t ticket.Ticket
	if err := h.DB.First(&t, id).Error; err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	var cvs []ticket.CustomValue
	if err := h.DB.Where("customized_type = ? and customized_id = ?", ticket.TypeTag, id).
		Find(&cvs).Error; err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	var atts []ticket.Attachment
	if err := h.DB.Where("container_type = ? and container_id = ?", ticket.TypeTag, id).
		Order("id asc").Find(&atts).Error; err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	customs := make([]customValueDTO, 0, len(cvs))
	for _, cv := range cvs {
		customs = append(customs, customValueDTO{FieldID: cv.CustomFieldID, Value: cv.Value})
	}
	attachments := make([]attachmentDTO, 0, len(atts))
	for i := range atts {
		attachments = append(attachments, attachmentDTOFrom(&atts[i]))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ticket":        ticketDTOFrom(&t),
		"custom_values": customs,
		"attachments":   attachments,
	})
}
