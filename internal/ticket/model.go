package ticket

import (
	"time"

	"github.com/lib/pq"

	"chronicle/internal/journal"
)

// TypeTag is the journable type tag tickets are registered under.
const TypeTag = "Ticket"

// Ticket is the tracked mutable entity. LockVersion is the optimistic
// concurrency counter; journaling never moves it.
type Ticket struct {
	ID          uint64         `gorm:"primaryKey"`
	Subject     string         `gorm:"type:text;not null"`
	Description string         `gorm:"type:text;not null;default:''"`
	Status      string         `gorm:"type:text;not null;default:'open'"`
	Priority    string         `gorm:"type:text;not null;default:'normal'"`
	AssigneeID  *uint64        `gorm:"index"`
	Tags        pq.StringArray `gorm:"type:text[];not null;default:'{}'"`
	AuthorID    uint64         `gorm:"index;not null"`
	LockVersion uint64         `gorm:"not null;default:0"`
	CreatedAt   time.Time      `gorm:"not null"`
	UpdatedAt   time.Time      `gorm:"not null"`
}

// Snapshot is the per-version copy of a ticket's tracked columns, owned by
// exactly one journal row.
type Snapshot struct {
	ID          uint64 `gorm:"primaryKey"`
	Subject     string `gorm:"type:text;not null;default:''"`
	Description string `gorm:"type:text;not null;default:''"`
	Status      string `gorm:"type:text;not null;default:''"`
	Priority    string `gorm:"type:text;not null;default:''"`
	AssigneeID  *uint64
}

func (Snapshot) TableName() string { return "ticket_journals" }

// CustomField defines one admin-managed extra attribute for tickets.
type CustomField struct {
	ID        uint64    `gorm:"primaryKey"`
	Name      string    `gorm:"uniqueIndex;not null"`
	FieldType string    `gorm:"type:text;not null;default:'string'"`
	CreatedAt time.Time `gorm:"not null"`
}

// CustomValue is the live value of a custom field on one customized entity.
type CustomValue struct {
	ID             uint64 `gorm:"primaryKey"`
	CustomFieldID  uint64 `gorm:"not null"`
	CustomizedType string `gorm:"type:text;not null"`
	CustomizedID   uint64 `gorm:"not null"`
	Value          string `gorm:"type:text;not null;default:''"`
}

// Attachment is a live file attached to a container entity. The payload
// lives on disk under DiskFilename; only metadata is journaled.
type Attachment struct {
	ID            uint64    `gorm:"primaryKey"`
	ContainerType string    `gorm:"type:text;not null"`
	ContainerID   uint64    `gorm:"not null"`
	Filename      string    `gorm:"type:text;not null"`
	DiskFilename  string    `gorm:"type:text;not null"`
	ContentType   string    `gorm:"type:text;not null;default:''"`
	Filesize      int64     `gorm:"not null;default:0"`
	AuthorID      uint64    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

// JournalDescriptor is the per-type configuration registered at startup.
// Subject and description are free text, so they get newline normalization.
func JournalDescriptor() journal.Descriptor {
	return journal.Descriptor{
		Type:            TypeTag,
		Table:           "tickets",
		SnapshotTable:   "ticket_journals",
		Columns:         []string{"subject", "description", "status", "priority", "assignee_id"},
		TextColumns:     []string{"subject", "description"},
		TimestampColumn: "updated_at",
	}
}
