package ticket

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"chronicle/internal/journal"
)

var ErrNotFound = errors.New("not found")
var ErrStale = errors.New("ticket was changed concurrently")

// Service owns ticket mutations. Every content mutation funnels into the
// journal service so history stays gap-free.
type Service struct {
	DB       *gorm.DB
	Journals *journal.Service
}

type CreateInput struct {
	Subject     string
	Description string
	Status      string
	Priority    string
	AssigneeID  *uint64
	Tags        []string
}

func (s *Service) Create(ctx context.Context, userID uint64, in CreateInput) (*Ticket, error) {
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}
	t := Ticket{
		Subject:     strings.TrimSpace(in.Subject),
		Description: in.Description,
		Status:      defaultStr(in.Status, "open"),
		Priority:    defaultStr(in.Priority, "normal"),
		AssigneeID:  in.AssigneeID,
		Tags:        pq.StringArray(tags),
		AuthorID:    userID,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := s.DB.WithContext(ctx).Create(&t).Error; err != nil {
		return nil, err
	}

	// Version 1 captures the initial state.
	if _, err := s.Journals.Create(ctx, TypeTag, t.ID, userID, ""); err != nil {
		return nil, err
	}
	return &t, nil
}

type UpdateInput struct {
	Subject       *string
	Description   *string
	Status        *string
	Priority      *string
	AssigneeID    *uint64
	ClearAssignee bool
	Tags          *[]string
	Notes         string
}

// Update applies the non-nil fields under optimistic locking, then journals
// the result. A call carrying only notes still produces a journal.
func (s *Service) Update(ctx context.Context, userID, id uint64, in UpdateInput) (*Ticket, journal.Result, error) {
	var t Ticket
	if err := s.DB.WithContext(ctx).First(&t, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, journal.Result{}, ErrNotFound
		}
		return nil, journal.Result{}, err
	}

	updates := map[string]any{}
	if in.Subject != nil {
		updates["subject"] = strings.TrimSpace(*in.Subject)
	}
	if in.Description != nil {
		updates["description"] = *in.Description
	}
	if in.Status != nil {
		updates["status"] = *in.Status
	}
	if in.Priority != nil {
		updates["priority"] = *in.Priority
	}
	if in.AssigneeID != nil {
		updates["assignee_id"] = *in.AssigneeID
	} else if in.ClearAssignee {
		updates["assignee_id"] = nil
	}
	if in.Tags != nil {
		updates["tags"] = pq.StringArray(*in.Tags)
	}

	if len(updates) > 0 {
		updates["lock_version"] = t.LockVersion + 1
		updates["updated_at"] = time.Now()
		res := s.DB.WithContext(ctx).Model(&Ticket{}).
			Where("id = ? and lock_version = ?", t.ID, t.LockVersion).
			Updates(updates)
		if res.Error != nil {
			return nil, journal.Result{}, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, journal.Result{}, ErrStale
		}
	}

	jr, err := s.Journals.Create(ctx, TypeTag, id, userID, in.Notes)
	if err != nil {
		return nil, journal.Result{}, err
	}

	if err := s.DB.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, journal.Result{}, err
	}
	return &t, jr, nil
}

// AddNote journals a comment without touching ticket data.
func (s *Service) AddNote(ctx context.Context, userID, id uint64, notes string) (journal.Result, error) {
	if strings.TrimSpace(notes) == "" {
		return journal.Result{}, errors.New("notes required")
	}
	if err := s.exists(ctx, id); err != nil {
		return journal.Result{}, err
	}
	return s.Journals.Create(ctx, TypeTag, id, userID, notes)
}

// SetCustomValue upserts a custom field value; a blank value removes the
// row, which still counts as a journaled change.
func (s *Service) SetCustomValue(ctx context.Context, userID, id, fieldID uint64, value string) (journal.Result, error) {
	if err := s.exists(ctx, id); err != nil {
		return journal.Result{}, err
	}
	var field CustomField
	if err := s.DB.WithContext(ctx).First(&field, fieldID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return journal.Result{}, ErrNotFound
		}
		return journal.Result{}, err
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if strings.TrimSpace(value) == "" {
			return tx.Where("customized_type = ? and customized_id = ? and custom_field_id = ?",
				TypeTag, id, fieldID).Delete(&CustomValue{}).Error
		}
		var cv CustomValue
		err := tx.Where("customized_type = ? and customized_id = ? and custom_field_id = ?",
			TypeTag, id, fieldID).First(&cv).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			cv = CustomValue{
				CustomFieldID:  fieldID,
				CustomizedType: TypeTag,
				CustomizedID:   id,
				Value:          value,
			}
			return tx.Create(&cv).Error
		case err != nil:
			return err
		default:
			return tx.Model(&cv).Update("value", value).Error
		}
	})
	if err != nil {
		return journal.Result{}, err
	}

	return s.Journals.Create(ctx, TypeTag, id, userID, "")
}

type AttachInput struct {
	Filename    string
	ContentType string
	Filesize    int64
}

// Attach records attachment metadata and journals the new state. The disk
// name is a uuid so uploads never collide.
func (s *Service) Attach(ctx context.Context, userID, id uint64, in AttachInput) (*Attachment, journal.Result, error) {
	if err := s.exists(ctx, id); err != nil {
		return nil, journal.Result{}, err
	}
	a := Attachment{
		ContainerType: TypeTag,
		ContainerID:   id,
		Filename:      in.Filename,
		DiskFilename:  uuid.NewString(),
		ContentType:   in.ContentType,
		Filesize:      in.Filesize,
		AuthorID:      userID,
		CreatedAt:     time.Now(),
	}
	if err := s.DB.WithContext(ctx).Create(&a).Error; err != nil {
		return nil, journal.Result{}, err
	}

	jr, err := s.Journals.Create(ctx, TypeTag, id, userID, "")
	if err != nil {
		return nil, journal.Result{}, err
	}
	return &a, jr, nil
}

// Detach deletes an attachment and journals the emptied state.
func (s *Service) Detach(ctx context.Context, userID, id, attachmentID uint64) (journal.Result, error) {
	res := s.DB.WithContext(ctx).
		Where("id = ? and container_type = ? and container_id = ?", attachmentID, TypeTag, id).
		Delete(&Attachment{})
	if res.Error != nil {
		return journal.Result{}, res.Error
	}
	if res.RowsAffected == 0 {
		return journal.Result{}, ErrNotFound
	}
	return s.Journals.Create(ctx, TypeTag, id, userID, "")
}

func (s *Service) exists(ctx context.Context, id uint64) error {
	var n int64
	if err := s.DB.WithContext(ctx).Model(&Ticket{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func defaultStr(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
