// Package state persists the monitor's durable record: the keyword list,
// the notification histories, and the Telegram credentials. The record is a
// single JSON document written atomically with a rolling backup.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// MaxNotifiedEntries caps the identity-keyed notification history.
	MaxNotifiedEntries = 50
	// MaxTitleEntries caps the normalized-title notification history.
	MaxTitleEntries = 100

	// maxRecordBytes triggers an aggressive history cut when the serialized
	// record grows past it.
	maxRecordBytes  = 1 << 20
	emergencyKeep   = 20
	backupSuffix    = ".bak"
	tempSuffix      = ".tmp"
	recordFileMode  = 0o600
)

// NotifyEntry is one identity-keyed notification record.
type NotifyEntry struct {
	Title    string    `json:"title"`
	Link     string    `json:"link"`
	Keywords []string  `json:"keywords"`
	Time     time.Time `json:"time"`
}

// TitleEntry is one normalized-title notification record.
type TitleEntry struct {
	Title string    `json:"title"`
	Link  string    `json:"link"`
	Time  time.Time `json:"time"`
}

// Telegram holds the messaging endpoint credentials.
type Telegram struct {
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

// Record is the full durable state document.
type Record struct {
	Keywords           []string              `json:"keywords"`
	NotifiedEntries    map[string]NotifyEntry `json:"notified_entries"`
	TitleNotifications map[string]TitleEntry  `json:"title_notifications"`
	Telegram           Telegram               `json:"telegram"`
}

// NewRecord returns an empty record with all maps initialized.
func NewRecord() Record {
	return Record{
		Keywords:           []string{},
		NotifiedEntries:    map[string]NotifyEntry{},
		TitleNotifications: map[string]TitleEntry{},
	}
}

// normalize repairs missing fields after a partial or legacy load.
func (r *Record) normalize() {
	if r.Keywords == nil {
		r.Keywords = []string{}
	}
	if r.NotifiedEntries == nil {
		r.NotifiedEntries = map[string]NotifyEntry{}
	}
	if r.TitleNotifications == nil {
		r.TitleNotifications = map[string]TitleEntry{}
	}
}

// clone deep-copies the record so callers can read it without holding locks.
func (r Record) clone() Record {
	out := Record{
		Keywords:           append([]string(nil), r.Keywords...),
		NotifiedEntries:    make(map[string]NotifyEntry, len(r.NotifiedEntries)),
		TitleNotifications: make(map[string]TitleEntry, len(r.TitleNotifications)),
		Telegram:           r.Telegram,
	}
	for k, v := range r.NotifiedEntries {
		v.Keywords = append([]string(nil), v.Keywords...)
		out.NotifiedEntries[k] = v
	}
	for k, v := range r.TitleNotifications {
		out.TitleNotifications[k] = v
	}
	return out
}

// Store owns the record file and serializes all mutations behind one lock.
// Both the scheduler and the Telegram command listener write through it.
type Store struct {
	path   string
	logger *zap.Logger

	mu     sync.Mutex
	record Record
}

// NewStore builds a Store without touching the filesystem; call Load next.
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger, record: NewRecord()}
}

// Load reads the record from the primary file, falling back to the backup
// and finally to an empty default. A successful fallback is persisted back
// to the primary location immediately.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := readRecord(s.path)
	if err == nil {
		rec.normalize()
		s.record = rec
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("primary state file unreadable", zap.String("path", s.path), zap.Error(err))
	}

	rec, bakErr := readRecord(s.path + backupSuffix)
	if bakErr == nil {
		rec.normalize()
		s.record = rec
		s.logger.Info("state recovered from backup", zap.String("path", s.path+backupSuffix))
		return s.saveLocked()
	}

	s.record = NewRecord()
	if wErr := s.saveLocked(); wErr != nil {
		return fmt.Errorf("persist default state: %w", wErr)
	}
	return nil
}

func readRecord(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return rec, nil
}

// Snapshot returns a deep copy of the current record.
func (s *Store) Snapshot() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.clone()
}

// Update applies fn to the record under the writer lock and persists the
// result. fn returning an error aborts the mutation.
func (s *Store) Update(fn func(*Record) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.record.clone()
	if err := fn(&working); err != nil {
		return err
	}
	working.normalize()
	s.record = working
	return s.saveLocked()
}

// saveLocked writes the record atomically: temp file, backup snapshot of
// the previous file, then rename over the primary. Caller holds s.mu.
func (s *Store) saveLocked() error {
	capHistories(&s.record, MaxNotifiedEntries, MaxTitleEntries)

	data, err := json.MarshalIndent(s.record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if len(data) > maxRecordBytes {
		s.logger.Warn("state record oversized, cutting histories",
			zap.Int("bytes", len(data)))
		capHistories(&s.record, emergencyKeep, emergencyKeep)
		if data, err = json.MarshalIndent(s.record, "", "  "); err != nil {
			return fmt.Errorf("encode trimmed state: %w", err)
		}
	}

	tmp := s.path + tempSuffix
	if err := os.WriteFile(tmp, data, recordFileMode); err != nil {
		return fmt.Errorf("write temp state: %w", err)
	}
	defer os.Remove(tmp) // no-op after a successful rename

	if prev, err := os.ReadFile(s.path); err == nil {
		if err := os.WriteFile(s.path+backupSuffix, prev, recordFileMode); err != nil {
			s.logger.Warn("state backup snapshot failed", zap.Error(err))
		}
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// capHistories evicts oldest-timestamp entries beyond the given caps.
func capHistories(rec *Record, notifyCap, titleCap int) {
	if len(rec.NotifiedEntries) > notifyCap {
		keys := keysByTimeDesc(rec.NotifiedEntries, func(e NotifyEntry) time.Time { return e.Time })
		for _, k := range keys[notifyCap:] {
			delete(rec.NotifiedEntries, k)
		}
	}
	if len(rec.TitleNotifications) > titleCap {
		keys := keysByTimeDesc(rec.TitleNotifications, func(e TitleEntry) time.Time { return e.Time })
		for _, k := range keys[titleCap:] {
			delete(rec.TitleNotifications, k)
		}
	}
}

func keysByTimeDesc[V any](m map[string]V, at func(V) time.Time) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ti, tj := at(m[keys[i]]), at(m[keys[j]])
		if ti.Equal(tj) {
			return keys[i] < keys[j]
		}
		return ti.After(tj)
	})
	return keys
}

// AddKeyword appends a keyword unless it is empty or already present.
func (s *Store) AddKeyword(kw string) (bool, error) {
	if kw == "" {
		return false, nil
	}
	added := false
	err := s.Update(func(r *Record) error {
		for _, existing := range r.Keywords {
			if existing == kw {
				return nil
			}
		}
		r.Keywords = append(r.Keywords, kw)
		added = true
		return nil
	})
	return added, err
}

// RemoveKeyword deletes a keyword if present.
func (s *Store) RemoveKeyword(kw string) (bool, error) {
	removed := false
	err := s.Update(func(r *Record) error {
		for i, existing := range r.Keywords {
			if existing == kw {
				r.Keywords = append(r.Keywords[:i], r.Keywords[i+1:]...)
				removed = true
				return nil
			}
		}
		return nil
	})
	return removed, err
}

// Keywords returns a copy of the current keyword list.
func (s *Store) Keywords() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.record.Keywords...)
}

// Credentials returns the stored Telegram credentials.
func (s *Store) Credentials() Telegram {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.Telegram
}
