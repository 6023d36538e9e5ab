// Package fragments implements the rule and reference stores: named text
// bodies persisted one per file as YAML front matter plus body under the
// workspace's rules/ and references/ directories.
package fragments

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tsparklabs/tspark/internal/events"
	"github.com/tsparklabs/tspark/pkg/models"
)

const fileExt = ".mdt"

var (
	// ErrDuplicateName reports a create against an existing fragment name.
	ErrDuplicateName = errors.New("duplicate name")

	// ErrNotFound reports an update, get, or delete against a missing name.
	ErrNotFound = errors.New("fragment not found")

	// ErrInvalidName reports a name outside [A-Za-z0-9_-]+.
	ErrInvalidName = errors.New("invalid fragment name")
)

// Store persists one fragment kind in one directory. Safe for concurrent
// use; mutations are serialized and publish change events.
type Store struct {
	dir    string
	kind   models.FragmentKind
	bus    *events.Bus
	logger *slog.Logger

	mu sync.Mutex
}

// NewStore creates a store over dir. The directory is created if missing.
func NewStore(dir string, kind models.FragmentKind, bus *events.Bus, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s dir: %w", kind, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Store{
		dir:    dir,
		kind:   kind,
		bus:    bus,
		logger: logger.With("component", "fragments", "kind", string(kind)),
	}, nil
}

// Kind returns which fragment kind this store holds.
func (s *Store) Kind() models.FragmentKind { return s.kind }

// Dir returns the backing directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+fileExt)
}

func (s *Store) topic() events.Topic {
	if s.kind == models.FragmentRule {
		return events.TopicRulesChanged
	}
	return events.TopicReferencesChanged
}

// List returns every parseable fragment sorted by priority level ascending,
// ties broken by name. Unparseable files are skipped with a warning.
func (s *Store) List() ([]*models.Fragment, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read %s dir: %w", s.kind, err)
	}

	var out []*models.Fragment
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExt) {
			continue
		}
		f, err := s.read(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable fragment", "file", entry.Name(), "error", err)
			continue
		}
		out = append(out, f)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].PriorityLevel != out[j].PriorityLevel {
			return out[i].PriorityLevel < out[j].PriorityLevel
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Get loads one fragment by name.
func (s *Store) Get(name string) (*models.Fragment, error) {
	if !models.ValidFragmentName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	f, err := s.read(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}
	return f, nil
}

// Exists reports whether a fragment with the name is on disk.
func (s *Store) Exists(name string) bool {
	if !models.ValidFragmentName(name) {
		return false
	}
	_, err := os.Stat(s.path(name))
	return err == nil
}

// Create persists a new fragment. Field values are taken as given, so an
// explicit priorityLevel 0 or enabled false is stored as such; only an empty
// include mode is defaulted. An existing name fails with ErrDuplicateName.
func (s *Store) Create(f *models.Fragment) error {
	f.ApplyDefaults(true, true)
	if err := f.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path(f.Name)); err == nil {
		return fmt.Errorf("%w: %s", ErrDuplicateName, f.Name)
	}
	if err := s.write(f); err != nil {
		return err
	}

	s.logger.Info("fragment created", "name", f.Name)
	s.bus.Publish(s.topic(), f.Name)
	return nil
}

// Update replaces an existing fragment. A missing name fails with
// ErrNotFound.
func (s *Store) Update(f *models.Fragment) error {
	f.ApplyDefaults(true, true)
	if err := f.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path(f.Name)); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, f.Name)
	}
	if err := s.write(f); err != nil {
		return err
	}

	s.bus.Publish(s.topic(), f.Name)
	return nil
}

// Delete removes a fragment by name.
func (s *Store) Delete(name string) error {
	if !models.ValidFragmentName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(name)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("delete %s: %w", name, err)
	}

	s.logger.Info("fragment deleted", "name", name)
	s.bus.Publish(s.topic(), name)
	return nil
}

func (s *Store) read(path string) (*models.Fragment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := parseFragment(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return f, nil
}

// write lands the fragment atomically. Callers hold s.mu.
func (s *Store) write(f *models.Fragment) error {
	data, err := formatFragment(f)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".fragment-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path(f.Name)); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
