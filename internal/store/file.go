package store

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"klaxon/internal/logger"
	"klaxon/internal/models"
)

// Document is the on-disk layout of the store file. ReadDocument
// returns it unvalidated, for tooling that needs every entry regardless
// of tenant (the check command).
type Document struct {
	Policies     []models.Policy      `yaml:"policies"`
	Providers    []models.Provider    `yaml:"providers"`
	Suppressions []models.Suppression `yaml:"suppressions"`
}

// ReadDocument parses a store file without validating its entries
func ReadDocument(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read store file: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse store file: %w", err)
	}
	return &doc, nil
}

// snapshot is an immutable view of one successfully parsed file. Readers
// grab the pointer under the lock and use it without further locking.
type snapshot struct {
	policies     map[string][]models.Policy
	providers    map[string]models.Provider
	suppressions map[string][]models.Suppression
}

// File serves policies, providers and suppressions from a YAML file.
// Reload swaps in a fresh snapshot when the file changes; a failed reload
// keeps the previous snapshot active.
type File struct {
	path string
	log  zerolog.Logger

	mu   sync.RWMutex
	snap *snapshot
}

var (
	_ PolicyStore      = (*File)(nil)
	_ ProviderStore    = (*File)(nil)
	_ SuppressionStore = (*File)(nil)
)

// OpenFile loads path and returns a store backed by it
func OpenFile(path string) (*File, error) {
	f := &File{
		path: path,
		log:  logger.WithComponent("file_store"),
	}
	snap, err := loadSnapshot(path)
	if err != nil {
		return nil, err
	}
	f.snap = snap
	return f, nil
}

func loadSnapshot(path string) (*snapshot, error) {
	doc, err := ReadDocument(path)
	if err != nil {
		return nil, err
	}

	snap := &snapshot{
		policies:     make(map[string][]models.Policy),
		providers:    make(map[string]models.Provider),
		suppressions: make(map[string][]models.Suppression),
	}
	for i, p := range doc.Policies {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("policy %d (%s): %w", i, p.ID, err)
		}
		snap.policies[p.TenantID] = append(snap.policies[p.TenantID], p)
	}
	for i, p := range doc.Providers {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("provider %d (%s): %w", i, p.ID, err)
		}
		snap.providers[p.ID] = p
	}
	for _, s := range doc.Suppressions {
		snap.suppressions[s.PolicyID] = append(snap.suppressions[s.PolicyID], s)
	}
	return snap, nil
}

// Reload re-reads the file. On error the previous snapshot stays active.
func (f *File) Reload() error {
	snap, err := loadSnapshot(f.path)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.snap = snap
	f.mu.Unlock()
	return nil
}

func (f *File) current() *snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snap
}

// ListEnabled returns the tenant's enabled policies from the current snapshot
func (f *File) ListEnabled(ctx context.Context, tenant string) ([]models.Policy, error) {
	snap := f.current()

	var out []models.Policy
	for _, p := range snap.policies[tenant] {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out, nil
}

// GetProvider returns a provider by ID
func (f *File) GetProvider(ctx context.Context, id string) (models.Provider, error) {
	snap := f.current()

	p, ok := snap.providers[id]
	if !ok {
		return models.Provider{}, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	return p, nil
}

// ActiveFor returns the suppressions still in effect for a policy
func (f *File) ActiveFor(ctx context.Context, policyID string, now time.Time) ([]models.Suppression, error) {
	snap := f.current()

	var out []models.Suppression
	for _, s := range snap.suppressions[policyID] {
		if s.ActiveAt(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

// Watch monitors the backing file and reloads it on each write. It runs
// until ctx is cancelled. A failed reload is logged and the previous
// snapshot remains active.
func (f *File) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(f.path); err != nil {
		return err
	}

	f.log.Info().Str("path", f.path).Msg("watching store file for changes")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors often save via rename, so catch Create as well as Write.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if err := f.Reload(); err != nil {
				f.log.Error().Err(err).Str("path", f.path).Msg("reload failed, keeping previous snapshot")
				continue
			}
			f.log.Info().Str("path", f.path).Msg("store file reloaded")

			// Re-add the file in case an atomic save replaced the inode.
			_ = watcher.Add(f.path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.log.Error().Err(err).Msg("watcher error")
		}
	}
}
