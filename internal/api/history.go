package api

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"poisearch/internal/domain"
)

var bucketHistory = []byte("history")

// History is an append-only log of searches keyed by session, owned by the
// API layer. The retrieval core never reads or writes it.
type History struct {
	db *bbolt.DB
}

// HistoryEntry records one search.
type HistoryEntry struct {
	Session string         `json:"session"`
	Kind    string         `json:"kind"` // "text" or "image"
	Query   string         `json:"query,omitempty"`
	Models  []string       `json:"models"`
	Counts  map[string]int `json:"counts"` // results per model
	Time    time.Time      `json:"time"`
}

// OpenHistory opens (or creates) the history log at path.
func OpenHistory(path string) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0644, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history log: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketHistory)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &History{db: db}, nil
}

// Append records a search under its session. Entries are keyed by a
// monotonically increasing sequence number, so the log is append-only and
// iteration returns entries in insertion order.
func (h *History) Append(entry HistoryEntry) error {
	if entry.Session == "" {
		return fmt.Errorf("history: empty session")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return h.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketHistory)
		b, err := root.CreateBucketIfNotExists([]byte(entry.Session))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, data)
	})
}

// List returns a session's entries in insertion order, newest last. A
// non-positive limit returns everything.
func (h *History) List(session string, limit int) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	err := h.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketHistory).Bucket([]byte(session))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var e HistoryEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return nil // skip corrupt rows
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// Close closes the underlying database.
func (h *History) Close() error {
	return h.db.Close()
}

func historyEntryFor(session string, q domain.Query, rs domain.ResultSet) HistoryEntry {
	entry := HistoryEntry{
		Session: session,
		Kind:    string(q.Kind()),
		Counts:  make(map[string]int, len(rs)),
		Time:    time.Now().UTC(),
	}
	if q.Kind() == domain.QueryText {
		entry.Query = q.Text
	}
	for _, mr := range rs {
		entry.Models = append(entry.Models, string(mr.Model))
		entry.Counts[string(mr.Model)] = len(mr.Results)
	}
	return entry
}
