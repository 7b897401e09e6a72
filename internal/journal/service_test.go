package journal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// captureEvents records replace events for assertions.
type captureEvents struct {
	mu       sync.Mutex
	current  []Journal
	replaced []ReplacedJournal
}

func (c *captureEvents) JournalReplaced(_ context.Context, cur Journal, prev ReplacedJournal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = append(c.current, cur)
	c.replaced = append(c.replaced, prev)
}

func newJournalDB(t *testing.T) *gorm.DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1) // :memory: lives on one connection

	require.NoError(t, gdb.AutoMigrate(&Journal{}, &JournalCustomValue{}, &JournalAttachment{}))

	stmts := []string{
		`create table pages (id integer primary key autoincrement, title text not null default '', body text not null default '', updated_at datetime not null)`,
		`create table page_journals (id integer primary key autoincrement, title text, body text)`,
		`create table custom_values (id integer primary key autoincrement, custom_field_id integer not null, customized_type text not null, customized_id integer not null, value text not null default '')`,
		`create table attachments (id integer primary key autoincrement, container_type text not null, container_id integer not null, filename text not null)`,
	}
	for _, s := range stmts {
		require.NoError(t, gdb.Exec(s).Error)
	}
	return gdb
}

func newPageService(t *testing.T, gdb *gorm.DB, window time.Duration, ev Events) *Service {
	t.Helper()

	reg := NewRegistry()
	require.NoError(t, reg.Register(Descriptor{
		Type:            "Page",
		Table:           "pages",
		SnapshotTable:   "page_journals",
		Columns:         []string{"title", "body"},
		TextColumns:     []string{"title", "body"},
		TimestampColumn: "updated_at",
	}))
	if ev == nil {
		ev = NopEvents{}
	}
	return &Service{DB: gdb, Registry: reg, Locker: NewKeyLocker(), Events: ev, Window: window}
}

func createPage(t *testing.T, gdb *gorm.DB, title, body string) uint64 {
	t.Helper()
	require.NoError(t, gdb.Exec(
		`insert into pages (title, body, updated_at) values (?, ?, ?)`,
		title, body, time.Now(),
	).Error)
	var id uint64
	require.NoError(t, gdb.Raw(`select max(id) from pages`).Scan(&id).Error)
	return id
}

func setPageBody(t *testing.T, gdb *gorm.DB, id uint64, body string) {
	t.Helper()
	require.NoError(t, gdb.Exec(
		`update pages set body = ?, updated_at = ? where id = ?`, body, time.Now(), id,
	).Error)
}

func countJournals(t *testing.T, gdb *gorm.DB, id uint64) int64 {
	t.Helper()
	var n int64
	require.NoError(t, gdb.Model(&Journal{}).
		Where("journable_type = ? and journable_id = ?", "Page", id).Count(&n).Error)
	return n
}

func snapshotBody(t *testing.T, gdb *gorm.DB, snapID uint64) string {
	t.Helper()
	var body string
	require.NoError(t, gdb.Raw(`select body from page_journals where id = ?`, snapID).Scan(&body).Error)
	return body
}

func TestFirstJournalAndIdempotence(t *testing.T) {
	gdb := newJournalDB(t)
	svc := newPageService(t, gdb, 5*time.Minute, nil)
	ctx := context.Background()

	id := createPage(t, gdb, "readme", "Hello")

	res, err := svc.Create(ctx, "Page", id, 1, "")
	require.NoError(t, err)
	require.False(t, res.NoOp())
	assert.Equal(t, uint64(1), res.Journal.Version)
	assert.Equal(t, "Hello", snapshotBody(t, gdb, res.Journal.SnapshotID))

	// nothing changed, blank notes: repeated calls stay no-ops
	for i := 0; i < 3; i++ {
		res, err = svc.Create(ctx, "Page", id, 1, "")
		require.NoError(t, err)
		assert.True(t, res.NoOp())
	}
	assert.Equal(t, int64(1), countJournals(t, gdb, id))
}

// TestScenarioHelloWorldBye walks the canonical flow: no-op call, content
// change, rapid note aggregation, then an edit by a different user.
func TestScenarioHelloWorldBye(t *testing.T) {
	gdb := newJournalDB(t)
	events := &captureEvents{}
	svc := newPageService(t, gdb, 5*time.Minute, events)
	ctx := context.Background()

	id := createPage(t, gdb, "greeting", "Hello")

	res, err := svc.Create(ctx, "Page", id, 1, "")
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.Journal.Version)

	// v1 is old history by the time the edits below happen
	require.NoError(t, gdb.Model(&Journal{}).Where("id = ?", res.Journal.ID).
		Update("created_at", time.Now().Add(-time.Hour)).Error)

	// no change, blank notes: no-op
	res, err = svc.Create(ctx, "Page", id, 1, "")
	require.NoError(t, err)
	assert.True(t, res.NoOp())
	assert.Equal(t, int64(1), countJournals(t, gdb, id))

	// content change: v2
	setPageBody(t, gdb, id, "World")
	res, err = svc.Create(ctx, "Page", id, 1, "")
	require.NoError(t, err)
	require.False(t, res.NoOp())
	assert.Equal(t, uint64(2), res.Journal.Version)
	assert.Equal(t, "World", snapshotBody(t, gdb, res.Journal.SnapshotID))

	// immediate follow-up note by the same user: rewrite v2 in place
	res, err = svc.Create(ctx, "Page", id, 1, "looks good")
	require.NoError(t, err)
	require.False(t, res.NoOp())
	assert.True(t, res.Aggregated)
	assert.Equal(t, uint64(2), res.Journal.Version)
	assert.Equal(t, "looks good", res.Journal.Notes)
	assert.Equal(t, "World", snapshotBody(t, gdb, res.Journal.SnapshotID))
	assert.Equal(t, int64(2), countJournals(t, gdb, id))

	require.Len(t, events.replaced, 1)
	assert.Equal(t, uint64(2), events.replaced[0].Journal.Version)
	assert.Equal(t, uint64(2), events.current[0].Version)

	// different user inside the window: never aggregated
	setPageBody(t, gdb, id, "Bye")
	res, err = svc.Create(ctx, "Page", id, 2, "")
	require.NoError(t, err)
	require.False(t, res.NoOp())
	assert.False(t, res.Aggregated)
	assert.Equal(t, uint64(3), res.Journal.Version)
	assert.Equal(t, int64(3), countJournals(t, gdb, id))
}

func TestBothNotesForceNewVersion(t *testing.T) {
	gdb := newJournalDB(t)
	svc := newPageService(t, gdb, 5*time.Minute, nil)
	ctx := context.Background()

	id := createPage(t, gdb, "p", "one")

	res, err := svc.Create(ctx, "Page", id, 1, "first note")
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.Journal.Version)

	// same user, inside window, but two distinct notes are never merged
	setPageBody(t, gdb, id, "two")
	res, err = svc.Create(ctx, "Page", id, 1, "second note")
	require.NoError(t, err)
	assert.False(t, res.Aggregated)
	assert.Equal(t, uint64(2), res.Journal.Version)
	assert.Equal(t, "second note", res.Journal.Notes)
	assert.Equal(t, int64(2), countJournals(t, gdb, id))
}

func TestAggregationKeepsPredecessorNotes(t *testing.T) {
	gdb := newJournalDB(t)
	svc := newPageService(t, gdb, 5*time.Minute, nil)
	ctx := context.Background()

	id := createPage(t, gdb, "p", "one")

	res, err := svc.Create(ctx, "Page", id, 1, "first note")
	require.NoError(t, err)
	require.Equal(t, "first note", res.Journal.Notes)

	setPageBody(t, gdb, id, "two")
	res, err = svc.Create(ctx, "Page", id, 1, "")
	require.NoError(t, err)
	assert.True(t, res.Aggregated)
	assert.Equal(t, uint64(1), res.Journal.Version)
	assert.Equal(t, "first note", res.Journal.Notes)
	assert.Equal(t, "two", snapshotBody(t, gdb, res.Journal.SnapshotID))
}

func TestWindowExpiryCreatesNewVersion(t *testing.T) {
	gdb := newJournalDB(t)
	svc := newPageService(t, gdb, 5*time.Minute, nil)
	ctx := context.Background()

	id := createPage(t, gdb, "p", "one")
	res, err := svc.Create(ctx, "Page", id, 1, "")
	require.NoError(t, err)

	// age the predecessor past the window
	require.NoError(t, gdb.Model(&Journal{}).Where("id = ?", res.Journal.ID).
		Update("created_at", time.Now().Add(-10*time.Minute)).Error)

	setPageBody(t, gdb, id, "two")
	res, err = svc.Create(ctx, "Page", id, 1, "")
	require.NoError(t, err)
	assert.False(t, res.Aggregated)
	assert.Equal(t, uint64(2), res.Journal.Version)
}

func TestVersionsContiguous(t *testing.T) {
	gdb := newJournalDB(t)
	svc := newPageService(t, gdb, 0, nil) // aggregation off
	ctx := context.Background()

	id := createPage(t, gdb, "p", "v0")
	for i := 0; i < 5; i++ {
		setPageBody(t, gdb, id, "rev "+string(rune('a'+i)))
		_, err := svc.Create(ctx, "Page", id, 1, "")
		require.NoError(t, err)
	}

	var versions []uint64
	require.NoError(t, gdb.Model(&Journal{}).
		Where("journable_type = ? and journable_id = ?", "Page", id).
		Order("version asc").Pluck("version", &versions).Error)
	require.Len(t, versions, 5)
	for i, v := range versions {
		assert.Equal(t, uint64(i+1), v)
	}
}

func TestNewlineNormalization(t *testing.T) {
	gdb := newJournalDB(t)
	svc := newPageService(t, gdb, 5*time.Minute, nil)
	ctx := context.Background()

	id := createPage(t, gdb, "p", "a\r\nb")
	res, err := svc.Create(ctx, "Page", id, 1, "")
	require.NoError(t, err)

	// the snapshot stores the LF form
	assert.Equal(t, "a\nb", snapshotBody(t, gdb, res.Journal.SnapshotID))

	// flipping CRLF to LF is not a content change
	setPageBody(t, gdb, id, "a\nb")
	res, err = svc.Create(ctx, "Page", id, 1, "")
	require.NoError(t, err)
	assert.True(t, res.NoOp())
	assert.Equal(t, int64(1), countJournals(t, gdb, id))
}

func TestCustomValueChanges(t *testing.T) {
	gdb := newJournalDB(t)
	svc := newPageService(t, gdb, 0, nil)
	ctx := context.Background()

	id := createPage(t, gdb, "p", "body")
	_, err := svc.Create(ctx, "Page", id, 1, "")
	require.NoError(t, err)

	// blank custom value counts as absent on either side
	require.NoError(t, gdb.Exec(
		`insert into custom_values (custom_field_id, customized_type, customized_id, value) values (1, 'Page', ?, '   ')`, id,
	).Error)
	res, err := svc.Create(ctx, "Page", id, 1, "")
	require.NoError(t, err)
	assert.True(t, res.NoOp())

	// real value: change
	require.NoError(t, gdb.Exec(
		`update custom_values set value = 'red' where customized_id = ?`, id,
	).Error)
	res, err = svc.Create(ctx, "Page", id, 1, "")
	require.NoError(t, err)
	require.False(t, res.NoOp())
	assert.Equal(t, uint64(2), res.Journal.Version)

	var cvs []JournalCustomValue
	require.NoError(t, gdb.Where("journal_id = ?", res.Journal.ID).Find(&cvs).Error)
	require.Len(t, cvs, 1)
	assert.Equal(t, uint64(1), cvs[0].FieldID)
	assert.Equal(t, "red", cvs[0].Value)

	// emptying all custom values is itself a change
	require.NoError(t, gdb.Exec(`delete from custom_values where customized_id = ?`, id).Error)
	res, err = svc.Create(ctx, "Page", id, 1, "")
	require.NoError(t, err)
	require.False(t, res.NoOp())
	assert.Equal(t, uint64(3), res.Journal.Version)
}

func TestAttachmentChanges(t *testing.T) {
	gdb := newJournalDB(t)
	svc := newPageService(t, gdb, 0, nil)
	ctx := context.Background()

	id := createPage(t, gdb, "p", "body")
	_, err := svc.Create(ctx, "Page", id, 1, "")
	require.NoError(t, err)

	require.NoError(t, gdb.Exec(
		`insert into attachments (container_type, container_id, filename) values ('Page', ?, 'spec.pdf')`, id,
	).Error)
	res, err := svc.Create(ctx, "Page", id, 1, "")
	require.NoError(t, err)
	require.False(t, res.NoOp())
	assert.Equal(t, uint64(2), res.Journal.Version)

	var atts []JournalAttachment
	require.NoError(t, gdb.Where("journal_id = ?", res.Journal.ID).Find(&atts).Error)
	require.Len(t, atts, 1)
	assert.Equal(t, "spec.pdf", atts[0].Filename)

	// removing every attachment still journals
	require.NoError(t, gdb.Exec(`delete from attachments where container_id = ?`, id).Error)
	res, err = svc.Create(ctx, "Page", id, 1, "")
	require.NoError(t, err)
	require.False(t, res.NoOp())
	assert.Equal(t, uint64(3), res.Journal.Version)

	require.NoError(t, gdb.Where("journal_id = ?", res.Journal.ID).Find(&atts).Error)
	assert.Empty(t, atts)
}

func TestNotedJournalSyncsJournableTimestamp(t *testing.T) {
	gdb := newJournalDB(t)
	svc := newPageService(t, gdb, 0, nil)
	ctx := context.Background()

	id := createPage(t, gdb, "p", "body")
	_, err := svc.Create(ctx, "Page", id, 1, "")
	require.NoError(t, err)

	res, err := svc.Create(ctx, "Page", id, 1, "a note, no data change")
	require.NoError(t, err)
	require.False(t, res.NoOp())
	require.NotEmpty(t, res.Journal.Notes)

	var updatedAt time.Time
	require.NoError(t, gdb.Raw(`select updated_at from pages where id = ?`, id).Scan(&updatedAt).Error)
	assert.WithinDuration(t, res.Journal.CreatedAt, updatedAt, time.Second)
}

func TestAggregationRewriteReplacesSnapshotRows(t *testing.T) {
	gdb := newJournalDB(t)
	svc := newPageService(t, gdb, 5*time.Minute, nil)
	ctx := context.Background()

	id := createPage(t, gdb, "p", "one")
	first, err := svc.Create(ctx, "Page", id, 1, "")
	require.NoError(t, err)

	setPageBody(t, gdb, id, "two")
	second, err := svc.Create(ctx, "Page", id, 1, "")
	require.NoError(t, err)
	require.True(t, second.Aggregated)

	// the old snapshot row is gone; exactly one remains
	var n int64
	require.NoError(t, gdb.Table("page_journals").Count(&n).Error)
	assert.Equal(t, int64(1), n)
	assert.NotEqual(t, first.Journal.SnapshotID, second.Journal.SnapshotID)
	assert.Equal(t, "two", snapshotBody(t, gdb, second.Journal.SnapshotID))
}

func TestUnregisteredTypeFails(t *testing.T) {
	gdb := newJournalDB(t)
	svc := newPageService(t, gdb, 0, nil)

	_, err := svc.Create(context.Background(), "Gadget", 1, 1, "")
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestMissingJournableFails(t *testing.T) {
	gdb := newJournalDB(t)
	svc := newPageService(t, gdb, 0, nil)

	_, err := svc.Create(context.Background(), "Page", 999, 1, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLatest(t *testing.T) {
	gdb := newJournalDB(t)
	svc := newPageService(t, gdb, 0, nil)
	ctx := context.Background()

	id := createPage(t, gdb, "p", "one")

	j, err := svc.Latest(ctx, "Page", id)
	require.NoError(t, err)
	assert.Nil(t, j)

	_, err = svc.Create(ctx, "Page", id, 1, "")
	require.NoError(t, err)
	setPageBody(t, gdb, id, "two")
	_, err = svc.Create(ctx, "Page", id, 1, "")
	require.NoError(t, err)

	j, err = svc.Latest(ctx, "Page", id)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, uint64(2), j.Version)
}
