package journal

import "context"

// ReplacedJournal carries the content an aggregation rewrite overwrote, so
// caches and observers referencing the old entry can react.
type ReplacedJournal struct {
	Journal      Journal
	Attributes   map[string]any
	CustomValues map[uint64]string
	Attachments  map[uint64]string
}

// Events is the outbound port for journal domain events. Implementations
// are invoked strictly after commit; their failures must never influence
// the transaction outcome, so methods return nothing.
type Events interface {
	JournalReplaced(ctx context.Context, current Journal, previous ReplacedJournal)
}

// NopEvents discards all events.
type NopEvents struct{}

func (NopEvents) JournalReplaced(context.Context, Journal, ReplacedJournal) {}
