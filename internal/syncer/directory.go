package syncer

import (
	"strings"
	"sync"
	"time"

	"github.com/theirongolddev/callpulse/internal/normalize"
)

// Directory maps operator ids to display names. It is owned by the
// Coordinator and safe for concurrent use.
type Directory struct {
	mu          sync.RWMutex
	names       map[string]string
	byName      map[string]string
	source      string
	refreshedAt time.Time
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		names:  make(map[string]string),
		byName: make(map[string]string),
	}
}

// Replace swaps in a fresh id to name mapping.
func (d *Directory) Replace(names map[string]string, source string, at time.Time) {
	fresh := make(map[string]string, len(names))
	for id, name := range names {
		id, name = strings.TrimSpace(id), strings.TrimSpace(name)
		if id != "" && name != "" {
			fresh[id] = name
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.names = fresh
	d.source = source
	d.refreshedAt = at
	d.reindex()
}

// Merge adds names for ids the directory does not know yet.
func (d *Directory) Merge(names map[string]string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	added := 0
	for id, name := range names {
		id, name = strings.TrimSpace(id), strings.TrimSpace(name)
		if id == "" || name == "" {
			continue
		}
		if _, ok := d.names[id]; !ok {
			d.names[id] = name
			added++
		}
	}
	if added > 0 {
		d.reindex()
	}
	return added
}

func (d *Directory) reindex() {
	d.byName = make(map[string]string, len(d.names))
	for id, name := range d.names {
		key := normalize.Name(name)
		// keep the smallest id on collisions so resolution is stable
		if prev, ok := d.byName[key]; !ok || id < prev {
			d.byName[key] = id
		}
	}
}

// Name returns the display name for id, or "".
func (d *Directory) Name(id string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.names[id]
}

// ResolveName finds the operator id whose name matches ignoring case,
// whitespace and diacritics.
func (d *Directory) ResolveName(name string) (string, bool) {
	key := normalize.Name(name)
	if key == "" {
		return "", false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byName[key]
	return id, ok
}

// Info reports size, source and refresh time.
func (d *Directory) Info() (size int, source string, at time.Time) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.names), d.source, d.refreshedAt
}
