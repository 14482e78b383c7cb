// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package destination

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wneessen/navinudge/internal/geobus"
	"github.com/wneessen/navinudge/internal/logger"
)

// DefaultSaveDebounce is the quiet period after the last mutation before the list is written.
const DefaultSaveDebounce = time.Millisecond * 200

// Store holds the ordered destination list. Mutations are written to disk after a quiet
// period, so a burst of edits results in a single write. Subscribers receive a complete
// snapshot after every change.
type Store struct {
	mu       sync.Mutex
	logger   *logger.Logger
	path     string
	debounce time.Duration

	items       []Destination
	dirty       bool
	timer       *time.Timer
	subscribers map[chan []Destination]struct{}
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithSaveDebounce sets the quiet period before mutations are written to disk.
func WithSaveDebounce(d time.Duration) StoreOption {
	return func(s *Store) {
		if d >= 0 {
			s.debounce = d
		}
	}
}

// NewStore returns an empty Store persisting to path. Call Load to read the saved list.
func NewStore(path string, log *logger.Logger, opts ...StoreOption) *Store {
	s := &Store{
		logger:      log,
		path:        path,
		debounce:    DefaultSaveDebounce,
		subscribers: make(map[chan []Destination]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the in-memory list with the content of the file. A missing file is an
// empty list.
func (s *Store) Load() error {
	items, err := s.read()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = items
	s.dirty = false
	s.broadcast()
	return nil
}

// Reload re-reads the file and reports whether the list changed. Subscribers are only
// notified on a change. While a save is pending the in-memory list wins and the file is
// not read.
func (s *Store) Reload() (bool, error) {
	s.mu.Lock()
	pending := s.dirty
	s.mu.Unlock()
	if pending {
		return false, nil
	}

	items, err := s.read()
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirty || equal(s.items, items) {
		return false, nil
	}
	s.items = items
	s.broadcast()
	s.logger.Debug("destinations reloaded", slog.Int("count", len(items)))
	return true, nil
}

// List returns a copy of the current list.
func (s *Store) List() []Destination {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Get returns the destination referenced by an id, a unique id prefix or a name.
func (s *Store) Get(ref string) (Destination, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := find(s.items, ref)
	if err != nil {
		return Destination{}, fmt.Errorf("%q: %w", ref, err)
	}
	return s.items[idx], nil
}

// Add creates a destination with a fresh id. It is inserted at index if that is a valid
// position, otherwise appended.
func (s *Store) Add(name, icon string, coord geobus.Coordinate, index int) (Destination, error) {
	if strings.TrimSpace(icon) == "" {
		icon = DefaultIcon
	}
	dest := Destination{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		Icon:      icon,
		Latitude:  coord.Lat,
		Longitude: coord.Lon,
	}
	if err := dest.validate(); err != nil {
		return Destination{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if index >= 0 && index <= len(s.items) {
		s.items = append(s.items[:index], append([]Destination{dest}, s.items[index:]...)...)
	} else {
		s.items = append(s.items, dest)
	}
	s.changed()
	return dest, nil
}

// Remove deletes the referenced destinations. Unknown references are an error and leave
// the list untouched.
func (s *Store) Remove(refs ...string) ([]Destination, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[int]struct{}, len(refs))
	for _, ref := range refs {
		idx, err := find(s.items, ref)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", ref, err)
		}
		drop[idx] = struct{}{}
	}
	if len(drop) == 0 {
		return nil, nil
	}

	removed := make([]Destination, 0, len(drop))
	items := make([]Destination, 0, len(s.items)-len(drop))
	for i, dest := range s.items {
		if _, ok := drop[i]; ok {
			removed = append(removed, dest)
			continue
		}
		items = append(items, dest)
	}
	s.items = items
	s.changed()
	return removed, nil
}

// Move places the referenced destination at position to. Out of range positions are
// clamped to the list bounds.
func (s *Store) Move(ref string, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := find(s.items, ref)
	if err != nil {
		return fmt.Errorf("%q: %w", ref, err)
	}
	to = max(0, min(to, len(s.items)-1))
	if idx == to {
		return nil
	}
	dest := s.items[idx]
	items := append(s.items[:idx:idx], s.items[idx+1:]...)
	s.items = append(items[:to:to], append([]Destination{dest}, items[to:]...)...)
	s.changed()
	return nil
}

// Update replaces the destination with the same id.
func (s *Store) Update(dest Destination) error {
	dest.Name = strings.TrimSpace(dest.Name)
	if err := dest.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID != dest.ID {
			continue
		}
		if s.items[i] == dest {
			return nil
		}
		s.items[i] = dest
		s.changed()
		return nil
	}
	return fmt.Errorf("%q: %w", dest.ID, ErrNotFound)
}

// Subscribe returns a channel receiving a snapshot of the list after every change. The
// current list is delivered right away. Slow subscribers only see the latest snapshot.
func (s *Store) Subscribe(size int) (<-chan []Destination, func()) {
	ch := make(chan []Destination, max(1, size))
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	ch <- s.snapshot()
	s.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Flush writes pending changes to disk right away.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if !s.dirty {
		return nil
	}
	return s.save()
}

// changed must be called with the lock held.
func (s *Store) changed() {
	s.dirty = true
	s.broadcast()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.timer = nil
		if !s.dirty {
			return
		}
		if err := s.save(); err != nil {
			s.logger.Error("failed to save destinations", logger.Err(err), slog.String("file", s.path))
		}
	})
}

// save must be called with the lock held. The file is replaced atomically.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.items, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode destinations: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err = os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".destinations-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temporary destination file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if _, err = tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write destinations: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to write destinations: %w", err)
	}
	if err = os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace destination file: %w", err)
	}
	s.dirty = false
	s.logger.Debug("destinations saved", slog.Int("count", len(s.items)), slog.String("file", s.path))
	return nil
}

func (s *Store) read() ([]Destination, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []Destination{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read destination file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return []Destination{}, nil
	}

	var items []Destination
	if err = json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to decode destination file: %w", err)
	}
	seen := make(map[string]struct{}, len(items))
	valid := make([]Destination, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ID]; ok || item.ID == "" {
			s.logger.Warn("skipping destination without unique id", slog.String("name", item.Name))
			continue
		}
		seen[item.ID] = struct{}{}
		if item.Icon == "" {
			item.Icon = DefaultIcon
		}
		valid = append(valid, item)
	}
	return valid, nil
}

// broadcast must be called with the lock held.
func (s *Store) broadcast() {
	for ch := range s.subscribers {
		snap := s.snapshot()
		select {
		case ch <- snap:
			continue
		default:
		}
		// Replace the stale snapshot with the current one
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (s *Store) snapshot() []Destination {
	snap := make([]Destination, len(s.items))
	copy(snap, s.items)
	return snap
}
