package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// CompressionState is the storage tier of a segment.
type CompressionState string

const (
	// StateHot is an uncompressed, appendable-or-sealed local segment.
	StateHot CompressionState = "hot"
	// StateCompressed is a sealed, gzip-compressed local segment.
	StateCompressed CompressionState = "compressed"
	// StateCold is a compressed segment relocated to long-term storage.
	StateCold CompressionState = "cold"
)

// ManifestEntry is the authoritative description of one segment. The
// manifest is the single source of truth for where (source, day) lives.
type ManifestEntry struct {
	Source           string           `json:"source"`
	Day              string           `json:"day"`
	Path             string           `json:"path"`
	RecordCount      int              `json:"record_count"`
	ByteSize         int64            `json:"byte_size"`
	Checksum         string           `json:"checksum"`
	CompressionState CompressionState `json:"compression_state"`
	Sealed           bool             `json:"sealed"`
	LastWrittenAt    time.Time        `json:"last_written_at"`
}

type manifestFile struct {
	Entries map[string]ManifestEntry `json:"entries"`
}

// Manifest persists segment metadata to a single JSON file, rewritten
// atomically on every mutation. A data write always commits before the
// matching manifest update, so the manifest never claims more records
// than are physically present.
type Manifest struct {
	path string

	mu      sync.Mutex
	entries map[string]ManifestEntry
}

// OpenManifest loads (or initializes) the manifest at path.
func OpenManifest(path string) (*Manifest, error) {
	m := &Manifest{
		path:    path,
		entries: make(map[string]ManifestEntry),
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return m, nil
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var file manifestFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if file.Entries != nil {
		m.entries = file.Entries
	}
	return m, nil
}

func entryKey(source, day string) string { return source + "/" + day }

// Get returns the entry for (source, day), if any.
func (m *Manifest) Get(source, day string) (ManifestEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryKey(source, day)]
	return e, ok
}

// Update applies fn to the entry for (source, day), creating it if
// absent, and persists the whole manifest atomically before the change
// becomes visible to readers.
func (m *Manifest) Update(source, day string, fn func(*ManifestEntry)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entryKey(source, day)
	entry, ok := m.entries[key]
	if !ok {
		entry = ManifestEntry{Source: source, Day: day, CompressionState: StateHot}
	}
	fn(&entry)

	// Persist against a scratch copy so a write failure leaves the
	// in-memory view consistent with the on-disk file.
	next := make(map[string]ManifestEntry, len(m.entries)+1)
	for k, v := range m.entries {
		next[k] = v
	}
	next[key] = entry
	if err := m.persistLocked(next); err != nil {
		return err
	}
	m.entries = next
	return nil
}

// Entries returns all entries for a source ordered by day ascending.
// An empty source returns every entry.
func (m *Manifest) Entries(source string) []ManifestEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ManifestEntry, 0, len(m.entries))
	for _, e := range m.entries {
		if source != "" && e.Source != source {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Day < out[j].Day
	})
	return out
}

// Sources lists the distinct sources present in the manifest.
func (m *Manifest) Sources() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	for _, e := range m.entries {
		seen[e.Source] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// persistLocked rewrites the manifest file via temp-file-then-rename.
func (m *Manifest) persistLocked(entries map[string]ManifestEntry) error {
	data, err := json.MarshalIndent(manifestFile{Entries: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o750); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("create manifest temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write manifest temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync manifest temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close manifest temp: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename manifest: %w", err)
	}
	return nil
}
