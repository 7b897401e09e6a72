package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"chronicle/internal/auth"
	"chronicle/internal/jobs"
	"chronicle/internal/journal"
	"chronicle/internal/ticket"
)

func Connect(dsn string) (*gorm.DB, error) {
	// TranslateError maps unique violations to gorm.ErrDuplicatedKey, which
	// the journal service reports as a retryable conflict.
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	return gdb, nil
}

func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	// Tables
	if err := gdb.AutoMigrate(
		&ticket.Ticket{},
		&ticket.Snapshot{},
		&ticket.CustomField{},
		&ticket.CustomValue{},
		&ticket.Attachment{},
		&journal.Journal{},
		&journal.JournalCustomValue{},
		&journal.JournalAttachment{},
		&jobs.Job{},
		&auth.User{},
	); err != nil {
		return err
	}

	// Version sequence integrity: one version per entity, no reuse.
	if err := gdb.Exec(`create unique index if not exists uq_journals_entity_version on journals(journable_type, journable_id, version);`).Error; err != nil {
		return err
	}

	// One live value per (entity, field)
	if err := gdb.Exec(`create unique index if not exists uq_custom_values_entity_field on custom_values(customized_type, customized_id, custom_field_id);`).Error; err != nil {
		return err
	}

	// Ticket tag filter (GIN for text[])
	if err := gdb.Exec(`create index if not exists idx_tickets_tags on tickets using gin (tags);`).Error; err != nil {
		return err
	}

	// Helpful indexes
	stmts := []string{
		`create index if not exists idx_attachments_container on attachments(container_type, container_id);`,
		`create index if not exists idx_custom_values_entity on custom_values(customized_type, customized_id);`,
		`create index if not exists idx_journals_entity_created on journals(journable_type, journable_id, created_at desc);`,
		`create index if not exists idx_jobs_due on jobs(status, run_at);`,
		`create index if not exists idx_jobs_lock on jobs(status, locked_at);`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}

	return nil
}
