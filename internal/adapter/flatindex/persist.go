package flatindex

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"poisearch/internal/domain"
)

// Artifact layout: each build writes a numbered vector array and metadata
// table, then atomically renames a CURRENT pointer naming both. Readers only
// ever resolve artifacts through CURRENT, so a crash mid-build leaves the
// previously published pair intact and a reader can never observe a vector
// array and metadata table from different builds.
const (
	currentFile = "CURRENT"

	vectorsMagic   = "POIV"
	vectorsVersion = uint32(1)
)

type manifest struct {
	Version   int    `json:"version"`
	BuildID   uint64 `json:"build_id"`
	Vectors   string `json:"vectors"`
	Metadata  string `json:"metadata"`
	Dimension int    `json:"dimension"`
	Count     int    `json:"count"`
}

// Save performs a full publish of one model's corpus: vectors are
// L2-normalized, both artifacts are written under fresh names, and CURRENT
// is switched last via write-to-temp-then-rename.
func Save(dir string, dim int, entries []domain.IndexEntry) error {
	if err := validateEntries(dim, entries); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	buildID := uint64(1)
	if prev, err := readManifest(dir); err == nil {
		buildID = prev.BuildID + 1
	}

	m := manifest{
		Version:   1,
		BuildID:   buildID,
		Vectors:   fmt.Sprintf("vectors-%06d.bin", buildID),
		Metadata:  fmt.Sprintf("meta-%06d.json", buildID),
		Dimension: dim,
		Count:     len(entries),
	}

	if err := writeVectors(filepath.Join(dir, m.Vectors), dim, entries); err != nil {
		return fmt.Errorf("write vector array: %w", err)
	}
	if err := writeMetadata(filepath.Join(dir, m.Metadata), entries); err != nil {
		return fmt.Errorf("write metadata table: %w", err)
	}

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return atomicWrite(filepath.Join(dir, currentFile), data)
}

// Load reads the published index and validates the row-count invariant
// before any query is served.
func Load(dir string) (*Index, error) {
	m, err := readManifest(dir)
	if err != nil {
		return nil, err
	}

	vectors, dim, count, err := readVectors(filepath.Join(dir, m.Vectors))
	if err != nil {
		return nil, err
	}
	entries, err := readMetadata(filepath.Join(dir, m.Metadata))
	if err != nil {
		return nil, err
	}

	if count != len(entries) {
		return nil, fmt.Errorf("%w: %d vector rows, %d metadata rows", domain.ErrIndexCorrupt, count, len(entries))
	}
	if dim != m.Dimension || count != m.Count {
		return nil, fmt.Errorf("%w: artifacts disagree with manifest", domain.ErrIndexCorrupt)
	}

	return &Index{dim: dim, vectors: vectors, entries: entries}, nil
}

func readManifest(dir string) (manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, currentFile))
	if os.IsNotExist(err) {
		return manifest{}, fmt.Errorf("%w: no CURRENT in %s", domain.ErrIndexNotBuilt, dir)
	}
	if err != nil {
		return manifest{}, err
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return manifest{}, fmt.Errorf("%w: unreadable CURRENT: %v", domain.ErrIndexCorrupt, err)
	}
	return m, nil
}

func writeVectors(path string, dim int, entries []domain.IndexEntry) error {
	var buf bytes.Buffer
	buf.WriteString(vectorsMagic)
	binary.Write(&buf, binary.LittleEndian, vectorsVersion)
	binary.Write(&buf, binary.LittleEndian, uint32(dim))
	binary.Write(&buf, binary.LittleEndian, uint32(len(entries)))
	for _, e := range entries {
		if err := binary.Write(&buf, binary.LittleEndian, normalize(e.Vector)); err != nil {
			return err
		}
	}
	return atomicWrite(path, buf.Bytes())
}

func readVectors(path string) ([]float32, int, int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, 0, 0, fmt.Errorf("%w: missing %s", domain.ErrIndexNotBuilt, filepath.Base(path))
	}
	if err != nil {
		return nil, 0, 0, err
	}

	r := bytes.NewReader(data)
	magic := make([]byte, 4)
	if _, err := r.Read(magic); err != nil || string(magic) != vectorsMagic {
		return nil, 0, 0, fmt.Errorf("%w: bad vector array header", domain.ErrIndexCorrupt)
	}
	var version, dim, count uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, 0, 0, fmt.Errorf("%w: truncated vector array", domain.ErrIndexCorrupt)
	}
	if version != vectorsVersion {
		return nil, 0, 0, fmt.Errorf("%w: unsupported vector array version %d", domain.ErrIndexCorrupt, version)
	}
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, 0, 0, fmt.Errorf("%w: truncated vector array", domain.ErrIndexCorrupt)
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, 0, 0, fmt.Errorf("%w: truncated vector array", domain.ErrIndexCorrupt)
	}

	vectors := make([]float32, int(dim)*int(count))
	if err := binary.Read(r, binary.LittleEndian, vectors); err != nil {
		return nil, 0, 0, fmt.Errorf("%w: truncated vector array", domain.ErrIndexCorrupt)
	}
	return vectors, int(dim), int(count), nil
}

func writeMetadata(path string, entries []domain.IndexEntry) error {
	rows := make([]domain.IndexEntry, len(entries))
	for i, e := range entries {
		rows[i] = domain.IndexEntry{Path: e.Path, Attributes: e.Attributes}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	return atomicWrite(path, data)
}

func readMetadata(path string) ([]domain.IndexEntry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: missing %s", domain.ErrIndexNotBuilt, filepath.Base(path))
	}
	if err != nil {
		return nil, err
	}
	var entries []domain.IndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: unreadable metadata table: %v", domain.ErrIndexCorrupt, err)
	}
	return entries, nil
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
