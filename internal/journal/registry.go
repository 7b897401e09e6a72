package journal

import (
	"fmt"
	"sync"
)

// Descriptor tells the journal service how to snapshot one journable type.
// Registered once at startup; a missing or incomplete descriptor is a
// deployment defect, not a runtime condition.
type Descriptor struct {
	Type            string   // journable type tag, e.g. "Ticket"
	Table           string   // live source table
	SnapshotTable   string   // per-type snapshot table
	Columns         []string // tracked scalar columns, identifiers excluded
	TextColumns     []string // subset of Columns normalized CRLF -> LF
	TimestampColumn string   // journable's "last modified" column
	SourceFilter    string   // optional extra where fragment for live reads
}

func (d Descriptor) validate() error {
	switch {
	case d.Type == "":
		return fmt.Errorf("journal: descriptor missing type tag")
	case d.Table == "":
		return fmt.Errorf("journal: descriptor %q missing source table", d.Type)
	case d.SnapshotTable == "":
		return fmt.Errorf("journal: descriptor %q missing snapshot table", d.Type)
	case len(d.Columns) == 0:
		return fmt.Errorf("journal: descriptor %q has no tracked columns", d.Type)
	case d.TimestampColumn == "":
		return fmt.Errorf("journal: descriptor %q missing timestamp column", d.Type)
	}
	tracked := map[string]bool{}
	for _, c := range d.Columns {
		tracked[c] = true
	}
	for _, c := range d.TextColumns {
		if !tracked[c] {
			return fmt.Errorf("journal: descriptor %q text column %q is not tracked", d.Type, c)
		}
	}
	return nil
}

func (d Descriptor) isText(column string) bool {
	for _, c := range d.TextColumns {
		if c == column {
			return true
		}
	}
	return false
}

// Registry maps journable type tags to their descriptors.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Descriptor
}

func NewRegistry() *Registry {
	return &Registry{types: map[string]Descriptor{}}
}

func (r *Registry) Register(d Descriptor) error {
	if err := d.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[d.Type]; ok {
		return fmt.Errorf("journal: type %q already registered", d.Type)
	}
	r.types[d.Type] = d
	return nil
}

func (r *Registry) Lookup(typ string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.types[typ]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrNotRegistered, typ)
	}
	return d, nil
}
