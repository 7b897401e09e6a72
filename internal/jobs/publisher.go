package jobs

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"gorm.io/gorm"

	"chronicle/internal/journal"
)

// ReplacedPayload is the job payload written when an aggregation rewrite
// replaced a journal's content.
type ReplacedPayload struct {
	JournableType string    `json:"journable_type"`
	JournableID   uint64    `json:"journable_id"`
	JournalID     uint64    `json:"journal_id"`
	Version       uint64    `json:"version"`
	OldNotes      string    `json:"old_notes"`
	OldCreatedAt  time.Time `json:"old_created_at"`
}

// ReplacePublisher implements journal.Events by enqueueing a dispatch job.
// Called after commit; an enqueue failure is logged and dropped, it must
// never unwind the journal transaction.
type ReplacePublisher struct {
	DB *gorm.DB
}

func (p *ReplacePublisher) JournalReplaced(ctx context.Context, current journal.Journal, previous journal.ReplacedJournal) {
	payload, err := json.Marshal(ReplacedPayload{
		JournableType: current.JournableType,
		JournableID:   current.JournableID,
		JournalID:     current.ID,
		Version:       current.Version,
		OldNotes:      previous.Journal.Notes,
		OldCreatedAt:  previous.Journal.CreatedAt,
	})
	if err != nil {
		log.Printf("journal replace publish: marshal: %v\n", err)
		return
	}

	j := Job{
		UserID:  current.UserID,
		Type:    TypeJournalReplaced,
		Payload: payload,
		RunAt:   time.Now(),
		Status:  "PENDING",
	}
	if err := p.DB.WithContext(ctx).Create(&j).Error; err != nil {
		log.Printf("journal replace publish: enqueue: %v\n", err)
	}
}
