package ovlpatch

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrNoMetadata is returned when an overlay ID has no loader record.
var ErrNoMetadata = errors.New("no metadata entry for overlay")

// MetadataEntry is the loader record of a single overlay.
type MetadataEntry struct {
	RAMAddress uint32 `yaml:"ram_address"`
	RAMSize    uint32 `yaml:"ram_size"`
}

// Metadata is the store of loader records, keyed by overlay ID. The RAM
// address is read-only as far as this package is concerned; only the size is
// ever written.
type Metadata interface {
	Lookup(id int) (MetadataEntry, error)
	SetRAMSize(id int, size uint32) error
}

// MapMetadata is an in-memory Metadata store.
type MapMetadata struct {
	mu      sync.RWMutex
	entries map[int]MetadataEntry
}

func NewMapMetadata(entries map[int]MetadataEntry) *MapMetadata {
	m := &MapMetadata{entries: make(map[int]MetadataEntry, len(entries))}
	for id, e := range entries {
		m.entries[id] = e
	}
	return m
}

func (m *MapMetadata) Lookup(id int) (MetadataEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return MetadataEntry{}, fmt.Errorf("%w %04X", ErrNoMetadata, id)
	}
	return e, nil
}

func (m *MapMetadata) SetRAMSize(id int, size uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return fmt.Errorf("%w %04X", ErrNoMetadata, id)
	}
	e.RAMSize = size
	m.entries[id] = e
	return nil
}

// Set adds or replaces the record for id.
func (m *MapMetadata) Set(id int, e MetadataEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = e
}

func (m *MapMetadata) snapshot() map[int]MetadataEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[int]MetadataEntry, len(m.entries))
	for id, e := range m.entries {
		out[id] = e
	}
	return out
}

// metadataFile is the on-disk form of FileMetadata. Keys are overlay IDs as
// four hex digits.
type metadataFile struct {
	Overlays map[string]MetadataEntry `yaml:"overlays"`
}

// FileMetadata is a Metadata store persisted as a YAML file:
//
//	overlays:
//	  "0001":
//	    ram_address: 0x02077A20
//	    ram_size: 0x1234
//
// Changes are kept in memory until Save is called, unless AutoSave is set.
type FileMetadata struct {
	*MapMetadata
	Path     string
	AutoSave bool
}

// OpenFileMetadata reads the store at path.
func OpenFileMetadata(path string) (*FileMetadata, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f metadataFile
	if err := yaml.Unmarshal(buf, &f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	entries := make(map[int]MetadataEntry, len(f.Overlays))
	for key, e := range f.Overlays {
		id, err := strconv.ParseUint(key, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid overlay id %q: %w", path, key, err)
		}
		entries[int(id)] = e
	}

	return &FileMetadata{
		MapMetadata: NewMapMetadata(entries),
		Path:        path,
	}, nil
}

func (m *FileMetadata) SetRAMSize(id int, size uint32) error {
	if err := m.MapMetadata.SetRAMSize(id, size); err != nil {
		return err
	}
	if m.AutoSave {
		return m.Save()
	}
	return nil
}

// Save writes the store back to Path.
func (m *FileMetadata) Save() error {
	f := metadataFile{Overlays: map[string]MetadataEntry{}}
	for id, e := range m.snapshot() {
		f.Overlays[fmt.Sprintf("%04X", id)] = e
	}

	buf, err := yaml.Marshal(&f)
	if err != nil {
		return err
	}
	return os.WriteFile(m.Path, buf, 0o644)
}
