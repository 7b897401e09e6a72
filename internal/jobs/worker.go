package jobs

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"time"

	"gorm.io/gorm"
)

type Worker struct {
	ID   string
	Repo *Repo
	DB   *gorm.DB
}

// journalRow mirrors the journals table for reads done by the worker.
type journalRow struct {
	ID            uint64    `gorm:"column:id"`
	JournableType string    `gorm:"column:journable_type"`
	JournableID   uint64    `gorm:"column:journable_id"`
	Version       uint64    `gorm:"column:version"`
	Notes         string    `gorm:"column:notes"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (journalRow) TableName() string { return "journals" }

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(800 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := w.Repo.Claim(w.ID)
			if err != nil {
				log.Printf("worker claim error: %v\n", err)
				continue
			}
			if job == nil {
				continue
			}
			w.handle(job)
		}
	}
}

func (w *Worker) handle(job *Job) {
	switch job.Type {
	case TypeJournalReplaced:
		w.handleJournalReplaced(job)
	default:
		_ = w.Repo.MarkFailed(job.ID, "unknown job type")
	}
}

// handleJournalReplaced fans out the "an aggregation rewrote history entry
// X" event so anything holding the old entry can refresh.
func (w *Worker) handleJournalReplaced(job *Job) {
	var p ReplacedPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		_ = w.Repo.MarkFailed(job.ID, "bad payload")
		return
	}

	var row journalRow
	if err := w.DB.Where("id = ?", p.JournalID).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			// journal gone; nothing left to notify about
			_ = w.Repo.MarkDone(job.ID)
			return
		}
		w.retry(job, "db read error")
		return
	}

	log.Printf("[JOURNAL] replaced %s #%d v%d (journal=%d, old_notes=%q)\n",
		row.JournableType, row.JournableID, row.Version, row.ID, p.OldNotes)
	_ = w.Repo.MarkDone(job.ID)
}

func (w *Worker) retry(job *Job, errMsg string) {
	attempts := job.Attempts + 1
	if attempts >= job.MaxAttempts {
		_ = w.Repo.MarkFailed(job.ID, errMsg)
		return
	}

	sec := math.Min(math.Pow(2, float64(attempts)), 600)
	next := time.Now().Add(time.Duration(sec) * time.Second)

	_ = w.Repo.RetryLater(job.ID, attempts, next, errMsg)
}
