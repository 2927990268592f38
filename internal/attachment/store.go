// Package attachment keeps the pool of uploaded files and resolves which of
// them belong to each generated email.
package attachment

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a filename is not in the store.
var ErrNotFound = errors.New("attachment not found")

// Entry is one uploaded file. Payload holds the file content as standard
// base64 without a data URL prefix.
type Entry struct {
	Filename   string    `yaml:"filename" json:"filename"`
	MimeType   string    `yaml:"type" json:"type"`
	Size       int64     `yaml:"size" json:"size"`
	Payload    string    `yaml:"data" json:"data"`
	UploadedAt time.Time `yaml:"uploaded_at" json:"uploadedAt"`
}

// Ref returns a snapshot of the entry for use inside an email preview.
func (e Entry) Ref() Ref {
	return Ref{
		Filename: e.Filename,
		Size:     e.Size,
		MimeType: e.MimeType,
		Payload:  e.Payload,
	}
}

// Content decodes the payload.
func (e Entry) Content() ([]byte, error) {
	return base64.StdEncoding.DecodeString(e.Payload)
}

// DataURL renders the payload as a data URL.
func (e Entry) DataURL() string {
	mimeType := e.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, e.Payload)
}

// Ref is a copy of an Entry taken at resolution time. It stays valid after
// the entry is deleted from or replaced in the store.
type Ref struct {
	Filename string `yaml:"filename" json:"filename"`
	Size     int64  `yaml:"size" json:"size"`
	MimeType string `yaml:"type" json:"type"`
	Payload  string `yaml:"data" json:"data"`
}

// DataURL renders the payload as a data URL.
func (r Ref) DataURL() string {
	return Entry{MimeType: r.MimeType, Payload: r.Payload}.DataURL()
}

// Catalog is the read side of a Store, used by lookup strategies.
type Catalog interface {
	Get(filename string) (Entry, bool)
	Entries() []Entry
}

// Store is a filename-keyed pool of entries that remembers insertion order.
// Upserting an existing filename replaces the entry in place.
type Store struct {
	order   []string
	entries map[string]Entry
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{entries: make(map[string]Entry)}
}

// Upsert inserts or replaces the entry keyed by e.Filename.
func (s *Store) Upsert(e Entry) {
	if _, exists := s.entries[e.Filename]; !exists {
		s.order = append(s.order, e.Filename)
	}
	s.entries[e.Filename] = e
}

// Add encodes content and upserts it as a new entry.
func (s *Store) Add(filename, mimeType string, content []byte) Entry {
	e := Entry{
		Filename:   filename,
		MimeType:   mimeType,
		Size:       int64(len(content)),
		Payload:    base64.StdEncoding.EncodeToString(content),
		UploadedAt: time.Now().UTC(),
	}
	s.Upsert(e)
	return e
}

// Delete removes filename and reports whether it was present.
func (s *Store) Delete(filename string) bool {
	if _, exists := s.entries[filename]; !exists {
		return false
	}
	delete(s.entries, filename)
	for i, name := range s.order {
		if name == filename {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the entry for filename.
func (s *Store) Get(filename string) (Entry, bool) {
	e, ok := s.entries[filename]
	return e, ok
}

// Entries returns all entries in insertion order.
func (s *Store) Entries() []Entry {
	out := make([]Entry, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.entries[name])
	}
	return out
}

// Keys returns all filenames in insertion order.
func (s *Store) Keys() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of entries.
func (s *Store) Len() int {
	return len(s.order)
}

// Clear removes every entry.
func (s *Store) Clear() {
	s.order = nil
	s.entries = make(map[string]Entry)
}
