package journal

import "time"

// Journal is one historical version of a journable entity. Rows are
// immutable except for the in-place rewrite done by an aggregation.
type Journal struct {
	ID            uint64    `gorm:"primaryKey"`
	JournableType string    `gorm:"type:text;not null;index:idx_journals_journable,priority:1"`
	JournableID   uint64    `gorm:"not null;index:idx_journals_journable,priority:2"`
	Version       uint64    `gorm:"not null"`
	UserID        uint64    `gorm:"index;not null"`
	Notes         string    `gorm:"type:text;not null;default:''"`
	SnapshotID    uint64    `gorm:"not null"` // row id in the type's snapshot table
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// JournalCustomValue is one non-blank custom field value captured at
// snapshot time. Owned by its journal; deleted and recreated on rewrite.
type JournalCustomValue struct {
	ID        uint64 `gorm:"primaryKey"`
	JournalID uint64 `gorm:"index;not null"`
	FieldID   uint64 `gorm:"not null"`
	Value     string `gorm:"type:text;not null;default:''"`
}

// JournalAttachment is one attachment present at snapshot time.
type JournalAttachment struct {
	ID           uint64 `gorm:"primaryKey"`
	JournalID    uint64 `gorm:"index;not null"`
	AttachmentID uint64 `gorm:"not null"`
	Filename     string `gorm:"type:text;not null"`
}
