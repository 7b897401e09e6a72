package journal

import (
	"fmt"
	"strings"
	"time"
)

// state is one observable content state of a journable: its tracked scalar
// columns, its non-blank custom values and its attachments.
type state struct {
	attrs       map[string]any    // column -> value, text columns normalized
	customs     map[uint64]string // field id -> normalized value, blanks dropped
	attachments map[uint64]string // attachment id -> filename
}

// normalizeNewlines maps CRLF to LF so OS-induced line-ending differences
// never count as a content change.
func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// changed reports whether live differs from the predecessor snapshot.
// A nil predecessor (first journal) always counts as changed.
func changed(live state, pred *state) bool {
	if pred == nil {
		return true
	}
	if len(live.attrs) != len(pred.attrs) {
		return true
	}
	for col, v := range live.attrs {
		pv, ok := pred.attrs[col]
		if !ok || canonical(v) != canonical(pv) {
			return true
		}
	}
	if len(live.customs) != len(pred.customs) {
		return true
	}
	for id, v := range live.customs {
		pv, ok := pred.customs[id]
		if !ok || v != pv {
			return true
		}
	}
	if len(live.attachments) != len(pred.attachments) {
		return true
	}
	for id := range live.attachments {
		if _, ok := pred.attachments[id]; !ok {
			return true
		}
	}
	return false
}

// canonical folds driver-dependent value types (int widths, []byte vs
// string, time precision) into a stable comparison key.
func canonical(v any) string {
	switch t := v.(type) {
	case nil:
		return "\x00nil"
	case []byte:
		return string(t)
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if t == nil {
			return "\x00nil"
		}
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// normalizeAttrs applies newline normalization to the text columns of a
// freshly read attribute map, in place.
func normalizeAttrs(d Descriptor, attrs map[string]any) {
	for _, col := range d.TextColumns {
		switch t := attrs[col].(type) {
		case string:
			attrs[col] = normalizeNewlines(t)
		case []byte:
			attrs[col] = normalizeNewlines(string(t))
		}
	}
}
