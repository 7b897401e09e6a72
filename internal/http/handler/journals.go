package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"gorm.io/gorm"

	"chronicle/internal/journal"
	"chronicle/internal/ticket"
)

type JournalHandler struct {
	DB *gorm.DB
}

type snapshotDTO struct {
	Subject     string  `json:"subject"`
	Description string  `json:"description"`
	Status      string  `json:"status"`
	Priority    string  `json:"priority"`
	AssigneeID  *uint64 `json:"assignee_id"`
}

type journalDTO struct {
	ID          uint64           `json:"id"`
	Version     uint64           `json:"version"`
	UserID      uint64           `json:"user_id"`
	Notes       string           `json:"notes"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	Snapshot    *snapshotDTO     `json:"snapshot"`
	Customs     []customValueDTO `json:"custom_values"`
	Attachments []attachmentDTO  `json:"attachments"`
}

// Timeline returns a ticket's full version history, oldest first, each
// entry carrying its captured snapshot.
func (h *JournalHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var t ticket.Ticket
	if err := h.DB.First(&t, id).Error; err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	var js []journal.Journal
	if err := h.DB.Where("journable_type = ? and journable_id = ?", ticket.TypeTag, id).
		Order("version asc").Find(&js).Error; err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	out := make([]journalDTO, 0, len(js))
	for _, j := range js {
		dto := journalDTO{
			ID:          j.ID,
			Version:     j.Version,
			UserID:      j.UserID,
			Notes:       j.Notes,
			CreatedAt:   j.CreatedAt,
			UpdatedAt:   j.UpdatedAt,
			Customs:     []customValueDTO{},
			Attachments: []attachmentDTO{},
		}

		var snap ticket.Snapshot
		if err := h.DB.First(&snap, j.SnapshotID).Error; err == nil {
			dto.Snapshot = &snapshotDTO{
				Subject:     snap.Subject,
				Description: snap.Description,
				Status:      snap.Status,
				Priority:    snap.Priority,
				AssigneeID:  snap.AssigneeID,
			}
		}

		var cvs []journal.JournalCustomValue
		if err := h.DB.Where("journal_id = ?", j.ID).Order("field_id asc").Find(&cvs).Error; err != nil {
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		for _, cv := range cvs {
			dto.Customs = append(dto.Customs, customValueDTO{FieldID: cv.FieldID, Value: cv.Value})
		}

		var atts []journal.JournalAttachment
		if err := h.DB.Where("journal_id = ?", j.ID).Order("attachment_id asc").Find(&atts).Error; err != nil {
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		for _, a := range atts {
			dto.Attachments = append(dto.Attachments, attachmentDTO{ID: a.AttachmentID, Filename: a.Filename})
		}

		out = append(out, dto)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
