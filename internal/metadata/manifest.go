// Package metadata keeps a manifest of exported candle files so downstream
// jobs can discover them without listing the bucket or directory.
package metadata

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// ExportFile describes one written parquet file.
type ExportFile struct {
	Location string    `json:"location"`
	Bytes    int64     `json:"bytes"`
	Candles  int64     `json:"candles"`
	Symbol   string    `json:"symbol"`
	Period   string    `json:"period"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Written  time.Time `json:"written"`
}

// Snapshot points at the entry file written for one export.
type Snapshot struct {
	ID          int64  `json:"snapshot_id"`
	TimestampMs int64  `json:"timestamp_ms"`
	Entry       string `json:"entry"`
}

// Index is the manifest.json document.
type Index struct {
	Version   int        `json:"version"`
	Dataset   string     `json:"dataset"`
	DatasetID string     `json:"dataset_id"`
	Current   int64      `json:"current_snapshot_id"`
	Snapshots []Snapshot `json:"snapshots"`
}

// Manifest appends export entries under dir. It is safe for concurrent use.
type Manifest struct {
	mu        sync.Mutex
	dir       string
	dataset   string
	datasetID string
	snapshots []Snapshot
}

func NewManifest(dir, dataset string) *Manifest {
	return &Manifest{dir: dir, dataset: dataset, datasetID: uuid.NewString()}
}

// Add writes an entry file for f and rewrites the index.
func (m *Manifest) Add(f ExportFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}

	id := f.Written.UnixNano()
	if n := len(m.snapshots); n > 0 && id <= m.snapshots[n-1].ID {
		id = m.snapshots[n-1].ID + 1
	}
	name := fmt.Sprintf("entry-%d.json", id)
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(m.dir, name), b, 0o644); err != nil {
		return fmt.Errorf("write manifest entry: %w", err)
	}

	m.snapshots = append(m.snapshots, Snapshot{ID: id, TimestampMs: f.Written.UnixMilli(), Entry: name})
	return m.writeIndex()
}

func (m *Manifest) writeIndex() error {
	idx := Index{
		Version:   1,
		Dataset:   m.dataset,
		DatasetID: m.datasetID,
		Current:   m.snapshots[len(m.snapshots)-1].ID,
		Snapshots: m.snapshots,
	}
	b, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(m.dir, "manifest.json"), b, 0o644)
}

// Load reads the index under dir.
func Load(dir string) (Index, error) {
	var idx Index
	b, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return idx, err
	}
	err = json.Unmarshal(b, &idx)
	return idx, err
}
