// Package persistence provides repository implementations backed by the filesystem.
// These are the infrastructure adapters for domain repository interfaces.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sipeed/wagate/pkg/domain"
	contactdomain "github.com/sipeed/wagate/pkg/domain/contact"
)

// ---------------------------------------------------------------------------
// Generic JSON file store
// ---------------------------------------------------------------------------

// JSONStore keeps one JSON file per item under baseDir, with an in-memory
// cache. Every Put and Remove writes through to disk. Readers get shallow
// copies, so callers only change stored state through Put.
type JSONStore[T any] struct {
	baseDir string
	items   map[domain.EntityID]*T
	mu      sync.RWMutex
}

// NewJSONStore creates a new file-backed store.
func NewJSONStore[T any](baseDir string) (*JSONStore[T], error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create dir %s: %w", baseDir, err)
	}
	return &JSONStore[T]{
		baseDir: baseDir,
		items:   make(map[domain.EntityID]*T),
	}, nil
}

// Load reads all JSON files from the base directory into memory. Unreadable
// files are skipped and reported by name.
func (s *JSONStore[T]) Load() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var skipped []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.baseDir, entry.Name()))
		if err != nil {
			skipped = append(skipped, entry.Name())
			continue
		}

		var item T
		if err := json.Unmarshal(data, &item); err != nil {
			skipped = append(skipped, entry.Name())
			continue
		}

		// Use filename (without .json) as ID
		id := domain.EntityID(strings.TrimSuffix(entry.Name(), ".json"))
		s.items[id] = &item
	}

	return skipped, nil
}

// Get retrieves an item by ID.
func (s *JSONStore[T]) Get(id domain.EntityID) (*T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, false
	}
	cp := *item
	return &cp, true
}

// Put saves an item to memory and disk.
func (s *JSONStore[T]) Put(id domain.EntityID, item *T) error {
	if id.IsZero() || strings.ContainsAny(string(id), `/\`) {
		return fmt.Errorf("invalid id %q", id)
	}

	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.baseDir, string(id)+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	cp := *item
	s.items[id] = &cp
	return nil
}

// Remove deletes an item from memory and disk.
func (s *JSONStore[T]) Remove(id domain.EntityID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return false
	}

	delete(s.items, id)
	os.Remove(filepath.Join(s.baseDir, string(id)+".json"))
	return true
}

// All returns all items.
func (s *JSONStore[T]) All() []*T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*T, 0, len(s.items))
	for _, item := range s.items {
		cp := *item
		result = append(result, &cp)
	}
	return result
}

// Count returns the number of stored items.
func (s *JSONStore[T]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// ---------------------------------------------------------------------------
// Contact repository implementation
// ---------------------------------------------------------------------------

// ContactRepository is the filesystem-backed implementation of contact.Repository.
type ContactRepository struct {
	store *JSONStore[contactdomain.Contact]
	// Serializes Save so the phone uniqueness check and the write agree.
	mu sync.Mutex
}

// NewContactRepository creates a contact repository in dir and loads what
// is already there.
func NewContactRepository(dir string) (*ContactRepository, []string, error) {
	store, err := NewJSONStore[contactdomain.Contact](dir)
	if err != nil {
		return nil, nil, err
	}
	skipped, err := store.Load()
	if err != nil {
		return nil, nil, err
	}
	return &ContactRepository{store: store}, skipped, nil
}

func (r *ContactRepository) FindByID(id domain.EntityID) (*contactdomain.Contact, error) {
	c, ok := r.store.Get(id)
	if !ok {
		return nil, contactdomain.ErrNotFound
	}
	return c, nil
}

func (r *ContactRepository) FindByPhone(phone domain.PhoneNumber) (*contactdomain.Contact, error) {
	phone = domain.NormalizePhone(string(phone))
	for _, c := range r.store.All() {
		if c.Phone == phone {
			return c, nil
		}
	}
	return nil, contactdomain.ErrNotFound
}

// FindAll returns contacts oldest first.
func (r *ContactRepository) FindAll() ([]*contactdomain.Contact, error) {
	all := r.store.All()
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt.Time) {
			return all[i].ID() < all[j].ID()
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt.Time)
	})
	return all, nil
}

// Save creates or updates c. A second contact with the same phone number is
// rejected with ErrDuplicate.
func (r *ContactRepository) Save(c *contactdomain.Contact) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, err := r.FindByPhone(c.Phone); err == nil && existing.ID() != c.ID() {
		return contactdomain.ErrDuplicate
	}
	// Pending events belong to the caller; the cached copy starts clean.
	stored := *c
	stored.PullEvents()
	return r.store.Put(c.ID(), &stored)
}

func (r *ContactRepository) Delete(id domain.EntityID) error {
	if !r.store.Remove(id) {
		return contactdomain.ErrNotFound
	}
	return nil
}

// Search matches query against name, phone and notes, case-insensitively.
func (r *ContactRepository) Search(query string) ([]*contactdomain.Contact, error) {
	all, _ := r.FindAll()
	var result []*contactdomain.Contact
	for _, c := range all {
		if contains(c.Name, query) || contains(string(c.Phone), query) || contains(c.Notes, query) {
			result = append(result, c)
		}
	}
	return result, nil
}

// Compile-time verification
var _ contactdomain.Repository = (*ContactRepository)(nil)

func contains(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
