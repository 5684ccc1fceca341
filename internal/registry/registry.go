// Package registry persists the set of watched series in the external broker.
//
// The broker offers only unordered set-add/set-remove primitives, so every
// mutation is read-modify-write by value: fetch the whole set, locate the
// target entry by folder name, remove its serialized form, and re-insert the
// mutated copy. Mutations from this process are serialized through a single
// mutex, which removes the lost-update race between in-process callers.
// Concurrent writers in other processes still race (last writer wins).
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"tankobon/internal/broker"
	"tankobon/internal/logging"
)

const (
	watchedSetKey    = "tankobon:watched"
	chapterKeyPrefix = "chapters:"
)

// Registry provides access to watch entries and the adjacent broker state
// (chapter-label cache, scheduler last-run timestamps).
type Registry struct {
	broker broker.Broker
	logger *slog.Logger

	mu sync.Mutex
}

// New constructs a registry over the provided broker.
func New(b broker.Broker, logger *slog.Logger) *Registry {
	return &Registry{
		broker: b,
		logger: logging.NewComponentLogger(logger, "registry"),
	}
}

// List returns every watch entry, sorted by folder name.
// Entries that fail to decode are skipped with a warning.
func (r *Registry) List(ctx context.Context) ([]Entry, error) {
	members, err := r.broker.SetMembers(ctx, watchedSetKey)
	if err != nil {
		return nil, fmt.Errorf("list watch entries: %w", err)
	}
	entries := make([]Entry, 0, len(members))
	for _, raw := range members {
		entry, err := unmarshalEntry(raw)
		if err != nil {
			r.logger.Warn("skipping malformed watch entry", logging.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].FolderName < entries[j].FolderName
	})
	return entries, nil
}

// Get returns the entry with the given folder name, or false when absent.
func (r *Registry) Get(ctx context.Context, folderName string) (Entry, bool, error) {
	entry, _, found, err := r.lookup(ctx, folderName)
	return entry, found, err
}

// Find returns the first entry matching the predicate, or false when none does.
func (r *Registry) Find(ctx context.Context, predicate func(Entry) bool) (Entry, bool, error) {
	entries, err := r.List(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	for _, entry := range entries {
		if predicate(entry) {
			return entry, true, nil
		}
	}
	return Entry{}, false, nil
}

// Upsert inserts the entry or replaces the entry with the same folder name.
// Source URLs are normalized and sorted before the write.
func (r *Registry) Upsert(ctx context.Context, entry Entry) error {
	entry.normalizeSources()
	if err := entry.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, raw, found, err := r.lookup(ctx, entry.FolderName)
	if err != nil {
		return err
	}
	if found {
		if _, err := r.broker.SetRemove(ctx, watchedSetKey, raw); err != nil {
			return fmt.Errorf("replace watch entry %q: %w", entry.FolderName, err)
		}
	}
	serialized, err := entry.marshal()
	if err != nil {
		return err
	}
	if err := r.broker.SetAdd(ctx, watchedSetKey, serialized); err != nil {
		return fmt.Errorf("store watch entry %q: %w", entry.FolderName, err)
	}
	return nil
}

// Remove deletes the entry with the given folder name.
// Returns false when no such entry exists.
func (r *Registry) Remove(ctx context.Context, folderName string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, raw, found, err := r.lookup(ctx, folderName)
	if err != nil || !found {
		return false, err
	}
	removed, err := r.broker.SetRemove(ctx, watchedSetKey, raw)
	if err != nil {
		return false, fmt.Errorf("remove watch entry %q: %w", folderName, err)
	}
	return removed, nil
}

// AddSource appends a source URL to an existing entry if absent, keeping the
// set sorted. Adding a URL already present is a no-op.
// Returns false when the entry does not exist.
func (r *Registry) AddSource(ctx context.Context, folderName, sourceURL string) (bool, error) {
	return r.mutate(ctx, folderName, func(entry *Entry) bool {
		if entry.HasSource(sourceURL) {
			return true
		}
		entry.SourceURLs = append(entry.SourceURLs, sourceURL)
		return true
	})
}

// RemoveSource removes one source URL from an entry. Removing the last
// remaining URL deletes the entire entry, since an entry must never exist
// with an empty source set.
// The first return reports whether the entry was found with that URL; the
// second reports whether the whole entry was deleted.
func (r *Registry) RemoveSource(ctx context.Context, folderName, sourceURL string) (bool, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, raw, found, err := r.lookup(ctx, folderName)
	if err != nil || !found {
		return false, false, err
	}
	if !entry.HasSource(sourceURL) {
		return false, false, nil
	}

	if _, err := r.broker.SetRemove(ctx, watchedSetKey, raw); err != nil {
		return false, false, fmt.Errorf("remove watch entry %q: %w", folderName, err)
	}

	remaining := entry.SourceURLs[:0]
	for _, url := range entry.SourceURLs {
		if url != sourceURL {
			remaining = append(remaining, url)
		}
	}
	entry.SourceURLs = remaining
	if len(entry.SourceURLs) == 0 {
		return true, true, nil
	}

	entry.normalizeSources()
	serialized, err := entry.marshal()
	if err != nil {
		return false, false, err
	}
	if err := r.broker.SetAdd(ctx, watchedSetKey, serialized); err != nil {
		return false, false, fmt.Errorf("store watch entry %q: %w", folderName, err)
	}
	return true, false, nil
}

// mutate applies fn to an existing entry under the registry lock and writes
// the result back. fn returning false aborts without writing.
func (r *Registry) mutate(ctx context.Context, folderName string, fn func(*Entry) bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, raw, found, err := r.lookup(ctx, folderName)
	if err != nil || !found {
		return false, err
	}
	if !fn(&entry) {
		return false, nil
	}
	entry.normalizeSources()
	if err := entry.Validate(); err != nil {
		return false, err
	}

	if _, err := r.broker.SetRemove(ctx, watchedSetKey, raw); err != nil {
		return false, fmt.Errorf("replace watch entry %q: %w", folderName, err)
	}
	serialized, err := entry.marshal()
	if err != nil {
		return false, err
	}
	if err := r.broker.SetAdd(ctx, watchedSetKey, serialized); err != nil {
		return false, fmt.Errorf("store watch entry %q: %w", folderName, err)
	}
	return true, nil
}

// lookup scans the raw set for an entry by folder name. The raw serialized
// member is returned alongside so mutations can remove the exact value.
func (r *Registry) lookup(ctx context.Context, folderName string) (Entry, string, bool, error) {
	members, err := r.broker.SetMembers(ctx, watchedSetKey)
	if err != nil {
		return Entry{}, "", false, fmt.Errorf("fetch watch entries: %w", err)
	}
	for _, raw := range members {
		entry, err := unmarshalEntry(raw)
		if err != nil {
			continue
		}
		if entry.FolderName == folderName {
			return entry, raw, true, nil
		}
	}
	return Entry{}, "", false, nil
}

// SetChapterLabels caches the full known chapter-label list for a series.
func (r *Registry) SetChapterLabels(ctx context.Context, folderName string, labels []string) error {
	raw, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("marshal chapter labels for %q: %w", folderName, err)
	}
	if err := r.broker.Set(ctx, chapterKeyPrefix+folderName, string(raw)); err != nil {
		return fmt.Errorf("cache chapter labels for %q: %w", folderName, err)
	}
	return nil
}

// ChapterLabels returns the cached chapter-label list for a series, or nil
// when the series has never completed discovery.
func (r *Registry) ChapterLabels(ctx context.Context, folderName string) ([]string, error) {
	raw, err := r.broker.Get(ctx, chapterKeyPrefix+folderName)
	if err != nil {
		if errors.Is(err, broker.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch chapter labels for %q: %w", folderName, err)
	}
	var labels []string
	if err := json.Unmarshal([]byte(raw), &labels); err != nil {
		return nil, fmt.Errorf("decode chapter labels for %q: %w", folderName, err)
	}
	return labels, nil
}

// DeleteChapterLabels discards the cached chapter-label list for a series.
func (r *Registry) DeleteChapterLabels(ctx context.Context, folderName string) error {
	return r.broker.Delete(ctx, chapterKeyPrefix+folderName)
}
