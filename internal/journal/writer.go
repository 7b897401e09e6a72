package journal

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
)

// customValueRow mirrors the live custom_values table.
type customValueRow struct {
	CustomFieldID uint64 `gorm:"column:custom_field_id"`
	Value         string `gorm:"column:value"`
}

// attachmentRow mirrors the live attachments table.
type attachmentRow struct {
	ID       uint64 `gorm:"column:id"`
	Filename string `gorm:"column:filename"`
}

// liveState reads the journable's current content inside tx: tracked
// columns, custom values and attachments, plus its last-modified timestamp.
func liveState(tx *gorm.DB, d Descriptor, id uint64) (state, time.Time, error) {
	cols := make([]string, len(d.Columns), len(d.Columns)+1)
	copy(cols, d.Columns)
	withTS := false
	for _, c := range cols {
		if c == d.TimestampColumn {
			withTS = true
		}
	}
	if !withTS {
		cols = append(cols, d.TimestampColumn)
	}

	attrs := map[string]any{}
	q := tx.Table(d.Table).Select(cols).Where("id = ?", id)
	if d.SourceFilter != "" {
		q = q.Where(d.SourceFilter)
	}
	if err := q.Take(&attrs).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return state{}, time.Time{}, fmt.Errorf("%w: %s %d", ErrNotFound, d.Type, id)
		}
		return state{}, time.Time{}, err
	}

	ts, err := toTime(attrs[d.TimestampColumn])
	if err != nil {
		return state{}, time.Time{}, fmt.Errorf("journal: %s %d: bad %s value: %w", d.Type, id, d.TimestampColumn, err)
	}
	if !withTS {
		delete(attrs, d.TimestampColumn)
	}
	normalizeAttrs(d, attrs)

	var cvs []customValueRow
	if err := tx.Table("custom_values").
		Select("custom_field_id", "value").
		Where("customized_type = ? and customized_id = ?", d.Type, id).
		Find(&cvs).Error; err != nil {
		return state{}, time.Time{}, err
	}
	customs := map[uint64]string{}
	for _, cv := range cvs {
		if v := normalizeNewlines(cv.Value); strings.TrimSpace(v) != "" {
			customs[cv.CustomFieldID] = v
		}
	}

	var atts []attachmentRow
	if err := tx.Table("attachments").
		Select("id", "filename").
		Where("container_type = ? and container_id = ?", d.Type, id).
		Find(&atts).Error; err != nil {
		return state{}, time.Time{}, err
	}
	attachments := map[uint64]string{}
	for _, a := range atts {
		attachments[a.ID] = a.Filename
	}

	return state{attrs: attrs, customs: customs, attachments: attachments}, ts, nil
}

// predecessorState reads the snapshot rows owned by pred.
func predecessorState(tx *gorm.DB, d Descriptor, pred *Journal) (*state, error) {
	attrs := map[string]any{}
	err := tx.Table(d.SnapshotTable).Select(d.Columns).Where("id = ?", pred.SnapshotID).Take(&attrs).Error
	if err != nil {
		return nil, fmt.Errorf("journal: snapshot row %d for journal %d: %w", pred.SnapshotID, pred.ID, err)
	}
	normalizeAttrs(d, attrs)

	var cvs []JournalCustomValue
	if err := tx.Where("journal_id = ?", pred.ID).Find(&cvs).Error; err != nil {
		return nil, err
	}
	customs := map[uint64]string{}
	for _, cv := range cvs {
		if v := normalizeNewlines(cv.Value); strings.TrimSpace(v) != "" {
			customs[cv.FieldID] = v
		}
	}

	var atts []JournalAttachment
	if err := tx.Where("journal_id = ?", pred.ID).Find(&atts).Error; err != nil {
		return nil, err
	}
	attachments := map[uint64]string{}
	for _, a := range atts {
		attachments[a.AttachmentID] = a.Filename
	}

	return &state{attrs: attrs, customs: customs, attachments: attachments}, nil
}

// insertSnapshot materializes a snapshot-data row from the live attributes
// and returns its id. Raw insert with returning keeps this portable across
// the dynamic per-type tables.
func insertSnapshot(tx *gorm.DB, d Descriptor, live state) (uint64, error) {
	cols := make([]string, 0, len(d.Columns))
	for _, c := range d.Columns {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	args := make([]any, 0, len(cols))
	ph := make([]string, 0, len(cols))
	for _, c := range cols {
		args = append(args, live.attrs[c])
		ph = append(ph, "?")
	}

	var id uint64
	stmt := "insert into " + d.SnapshotTable +
		" (" + strings.Join(cols, ", ") + ") values (" + strings.Join(ph, ", ") + ") returning id"
	if err := tx.Raw(stmt, args...).Scan(&id).Error; err != nil {
		return 0, err
	}
	return id, nil
}

// deleteSnapshotRows removes a journal's snapshot-data, custom-value and
// attachment rows ahead of an aggregation rewrite. Snapshot rows are always
// replaced, never updated.
func deleteSnapshotRows(tx *gorm.DB, d Descriptor, pred *Journal) error {
	if err := tx.Exec("delete from "+d.SnapshotTable+" where id = ?", pred.SnapshotID).Error; err != nil {
		return err
	}
	if err := tx.Where("journal_id = ?", pred.ID).Delete(&JournalCustomValue{}).Error; err != nil {
		return err
	}
	return tx.Where("journal_id = ?", pred.ID).Delete(&JournalAttachment{}).Error
}

// insertAssociationRows recreates custom-value and attachment snapshot rows
// from the live state for the resulting journal.
func insertAssociationRows(tx *gorm.DB, journalID uint64, live state) error {
	for _, fieldID := range sortedKeys(live.customs) {
		cv := JournalCustomValue{JournalID: journalID, FieldID: fieldID, Value: live.customs[fieldID]}
		if err := tx.Create(&cv).Error; err != nil {
			return err
		}
	}
	for _, attID := range sortedKeys(live.attachments) {
		a := JournalAttachment{JournalID: journalID, AttachmentID: attID, Filename: live.attachments[attID]}
		if err := tx.Create(&a).Error; err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(m map[uint64]string) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case *time.Time:
		if t != nil {
			return *t, nil
		}
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts, nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("not a timestamp: %v", v)
}
