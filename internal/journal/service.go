package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrNotRegistered means no descriptor exists for the journable type.
	// Fatal: signals a missing Register call at startup, never retried.
	ErrNotRegistered = errors.New("journable type not registered")
	// ErrNotFound means the journable row is gone from the live table.
	ErrNotFound = errors.New("journable not found")
	// ErrConflict means the store rejected the write under contention.
	// Callers may retry the whole operation.
	ErrConflict = errors.New("journal write conflict")
)

// Result is the outcome of a journal call. A nil Journal is a valid no-op:
// nothing changed and no notes were given.
type Result struct {
	Journal    *Journal
	Aggregated bool // an existing journal was rewritten in place
}

func (r Result) NoOp() bool { return r.Journal == nil }

// Service creates journals. All writes for one call happen in a single
// transaction while the per-journable lock is held.
type Service struct {
	DB       *gorm.DB
	Registry *Registry
	Locker   Locker
	Events   Events
	Window   time.Duration // aggregation window; <= 0 disables aggregation

	Now func() time.Time // defaults to time.Now
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Create journals the current state of the journable, attributing it to
// userID. With blank notes and no detected change it is a no-op; non-empty
// notes always produce a journal. A rapid follow-up edit by the same user
// inside the window rewrites the latest journal instead of adding one.
func (s *Service) Create(ctx context.Context, journableType string, journableID, userID uint64, notes string) (Result, error) {
	desc, err := s.Registry.Lookup(journableType)
	if err != nil {
		return Result{}, err
	}
	notes = strings.TrimSpace(notes)

	release, err := s.Locker.Lock(ctx, journableType, journableID)
	if err != nil {
		return Result{}, err
	}
	defer release()

	var (
		res      Result
		replaced *ReplacedJournal
	)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pred, err := latestJournal(tx, journableType, journableID)
		if err != nil {
			return err
		}

		live, modifiedAt, err := liveState(tx, desc, journableID)
		if err != nil {
			return err
		}

		var prev *state
		if pred != nil {
			if prev, err = predecessorState(tx, desc, pred); err != nil {
				return err
			}
		}

		if !changed(live, prev) && notes == "" {
			return nil // no-op, nothing touched
		}

		now := s.now()
		decision := decide(pred, notes, userID, s.Window, now)

		// A note is a causal event of its own; a pure data change keeps
		// the journable's own modification time.
		ts := modifiedAt
		if notes != "" {
			ts = now
		}

		snapID, err := insertSnapshot(tx, desc, live)
		if err != nil {
			return err
		}

		var j Journal
		switch decision {
		case Aggregate:
			replaced = &ReplacedJournal{
				Journal:      *pred,
				Attributes:   prev.attrs,
				CustomValues: prev.customs,
				Attachments:  prev.attachments,
			}
			if err := deleteSnapshotRows(tx, desc, pred); err != nil {
				return err
			}
			finalNotes := notes
			if finalNotes == "" {
				finalNotes = pred.Notes
			}
			updates := map[string]any{
				"snapshot_id": snapID,
				"notes":       finalNotes,
				"created_at":  ts,
				"updated_at":  ts,
			}
			if err := tx.Model(&Journal{}).Where("id = ?", pred.ID).Updates(updates).Error; err != nil {
				return err
			}
			j = *pred
			j.SnapshotID = snapID
			j.Notes = finalNotes
			j.CreatedAt = ts
			j.UpdatedAt = ts
			res.Aggregated = true
		default:
			version, err := nextVersion(tx, journableType, journableID)
			if err != nil {
				return err
			}
			j = Journal{
				JournableType: journableType,
				JournableID:   journableID,
				Version:       version,
				UserID:        userID,
				Notes:         notes,
				SnapshotID:    snapID,
				CreatedAt:     ts,
				UpdatedAt:     ts,
			}
			if err := tx.Create(&j).Error; err != nil {
				return err
			}
		}

		if err := insertAssociationRows(tx, j.ID, live); err != nil {
			return err
		}

		// Keep the journable's modification time in sync with a noted
		// journal. Raw update: the optimistic lock counter must not move.
		if j.Notes != "" {
			err := tx.Exec(
				"update "+desc.Table+" set "+desc.TimestampColumn+" = ? where id = ?",
				j.CreatedAt, journableID,
			).Error
			if err != nil {
				return err
			}
		}

		res.Journal = &j
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return Result{}, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return Result{}, err
	}

	// Published only after commit; a failing observer never unwinds the
	// transaction.
	if res.Aggregated && replaced != nil && s.Events != nil {
		s.Events.JournalReplaced(ctx, *res.Journal, *replaced)
	}
	return res, nil
}

// Latest returns the current latest journal for the journable, or nil.
func (s *Service) Latest(ctx context.Context, journableType string, journableID uint64) (*Journal, error) {
	return latestJournal(s.DB.WithContext(ctx), journableType, journableID)
}

func latestJournal(tx *gorm.DB, typ string, id uint64) (*Journal, error) {
	var j Journal
	err := tx.Where("journable_type = ? and journable_id = ?", typ, id).
		Order("version desc").
		First(&j).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}
