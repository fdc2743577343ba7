package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Config controls cache behavior. It is supplied at construction by the
// composition root; stores never read configuration ad hoc.
type Config struct {
	// Dir is the root directory holding the <name>.json / <name>.lock
	// file pair for every named cache.
	Dir string
	// DefaultTTL applies when a Get or Set does not override the TTL.
	DefaultTTL time.Duration
	// StaleFallback serves the last known-good snapshot when a fetch
	// fails.
	StaleFallback bool
	// BackgroundRefresh refreshes stale entries concurrently instead of
	// blocking readers (stale-while-revalidate).
	BackgroundRefresh bool
	// LockTimeout bounds advisory lock acquisition. Defaults to
	// DefaultLockTimeout.
	LockTimeout time.Duration
	// StaleThreshold is the pre-expiry window in which entries count as
	// stale. Defaults to DefaultStaleThreshold.
	StaleThreshold time.Duration
}

func (c Config) normalized() Config {
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = time.Hour
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = DefaultStaleThreshold
	}
	return c
}

// FetchFunc produces fresh data for a cache key. Implementations are
// expected to do their own paging and retries; the store treats any
// returned error uniformly.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// GetOptions tunes a single Get call.
type GetOptions struct {
	// TTL overrides Config.DefaultTTL when positive.
	TTL time.Duration
	// ForceRefresh bypasses both tiers and always invokes the fetch.
	ForceRefresh bool
}

// Stats is the read-only introspection of a named cache. Totals come from
// disk, the authoritative tier.
type Stats struct {
	CacheName      string `json:"cache_name"`
	TotalEntries   int    `json:"total_entries"`
	MemoryEntries  int    `json:"memory_entries"`
	ExpiredEntries int    `json:"expired_entries"`
	StaleEntries   int    `json:"stale_entries"`
	CacheFileSize  int64  `json:"cache_file_size"`
}

// Warmer pre-populates a cache at startup. Implementations must be
// idempotent: skip the upstream fetch when valid data is already cached.
type Warmer interface {
	WarmCache(ctx context.Context) error
}

type refreshTask struct {
	cancel context.CancelFunc
}

// Store is a generic two-tier cache: an in-process map as the fast path
// and a JSON file as the durable path. The file is the source of truth
// across restarts; the memory tier is a pure accelerator.
type Store[T any] struct {
	cfg      Config
	name     string
	logger   *slog.Logger
	file     string
	lockFile string

	mu      sync.Mutex
	memory  map[string]*Entry[T]
	refresh map[string]*refreshTask

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewStore creates a named cache store rooted at cfg.Dir. The directory is
// created on first use.
func NewStore[T any](cfg Config, name string, logger *slog.Logger) *Store[T] {
	cfg = cfg.normalized()
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		logger.Error("failed to create cache directory", "dir", cfg.Dir, "error", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store[T]{
		cfg:      cfg,
		name:     name,
		logger:   logger.With("cache", name),
		file:     filepath.Join(cfg.Dir, name+".json"),
		lockFile: filepath.Join(cfg.Dir, name+".lock"),
		memory:   make(map[string]*Entry[T]),
		refresh:  make(map[string]*refreshTask),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Name returns the cache name.
func (s *Store[T]) Name() string {
	return s.name
}

// Get resolves key through memory, then disk, then fetch. A stale hit is
// returned immediately while a background refresh is scheduled
// (stale-while-revalidate). When fetch fails and a stale snapshot exists
// in memory, the snapshot is served instead of the error, if configured.
// ok is false when there is no value to return.
func (s *Store[T]) Get(ctx context.Context, key string, fetch FetchFunc[T], opts GetOptions) (value T, ok bool, err error) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}

	if !opts.ForceRefresh {
		s.mu.Lock()
		entry, hit := s.memory[key]
		s.mu.Unlock()
		if hit && !entry.IsExpired() {
			s.logger.Debug("memory cache hit", "key", key)
			s.maybeScheduleRefresh(entry, key, fetch, ttl)
			return entry.Data, true, nil
		}

		fileCache := s.readCacheFile(ctx)
		if entry, hit := fileCache[key]; hit {
			if !entry.IsExpired() {
				s.logger.Debug("file cache hit", "key", key)
				s.mu.Lock()
				s.memory[key] = entry
				s.mu.Unlock()
				s.maybeScheduleRefresh(entry, key, fetch, ttl)
				return entry.Data, true, nil
			}
			if s.cfg.StaleFallback {
				// Keep the expired entry around as a fallback for a
				// failed fetch below.
				s.mu.Lock()
				s.memory[key] = entry
				s.mu.Unlock()
			}
		}
	}

	if fetch == nil {
		var zero T
		return zero, false, nil
	}

	s.logger.Info("cache miss, fetching fresh data", "key", key)
	data, fetchErr := fetch(ctx)
	if fetchErr != nil {
		s.logger.Error("fetch failed", "key", key, "error", fetchErr)
		if s.cfg.StaleFallback {
			s.mu.Lock()
			entry, hit := s.memory[key]
			s.mu.Unlock()
			if hit {
				s.logger.Warn("serving stale entry after fetch failure", "key", key, "age", entry.Age().String())
				return entry.Data, true, nil
			}
		}
		var zero T
		return zero, false, fetchErr
	}

	if err := s.Set(ctx, key, data, ttl); err != nil {
		s.logger.Warn("failed to persist fetched entry", "key", key, "error", err)
	}
	return data, true, nil
}

// Set unconditionally overwrites both tiers with a fresh entry. The entry
// is durable once Set returns: the cache file has been replaced atomically.
func (s *Store[T]) Set(ctx context.Context, key string, data T, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	entry := NewEntry(data, ttl)

	s.mu.Lock()
	s.memory[key] = entry
	s.mu.Unlock()

	fileCache := s.readCacheFile(ctx)
	fileCache[key] = entry
	if err := s.writeCacheFile(ctx, fileCache); err != nil {
		return err
	}
	s.logger.Debug("cached entry", "key", key, "ttl", ttl.String())
	return nil
}

// Invalidate removes a single key from both tiers, leaving other keys
// untouched.
func (s *Store[T]) Invalidate(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.memory, key)
	s.mu.Unlock()

	fileCache := s.readCacheFile(ctx)
	if _, hit := fileCache[key]; hit {
		delete(fileCache, key)
		if err := s.writeCacheFile(ctx, fileCache); err != nil {
			return err
		}
	}
	s.logger.Info("invalidated cache key", "key", key)
	return nil
}

// InvalidateAll clears the entire named cache and removes the backing
// file.
func (s *Store[T]) InvalidateAll(ctx context.Context) error {
	s.mu.Lock()
	s.memory = make(map[string]*Entry[T])
	s.mu.Unlock()

	if err := os.Remove(s.file); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove cache file %q", s.file)
	}
	s.logger.Info("invalidated entire cache")
	return nil
}

// Stats reads the disk tier to report the authoritative entry counts.
func (s *Store[T]) Stats(ctx context.Context) Stats {
	fileCache := s.readCacheFile(ctx)

	stats := Stats{
		CacheName:    s.name,
		TotalEntries: len(fileCache),
	}
	for _, entry := range fileCache {
		if entry.IsExpired() {
			stats.ExpiredEntries++
		} else if entry.IsStale(s.cfg.StaleThreshold) {
			stats.StaleEntries++
		}
	}

	s.mu.Lock()
	stats.MemoryEntries = len(s.memory)
	s.mu.Unlock()

	if info, err := os.Stat(s.file); err == nil {
		stats.CacheFileSize = info.Size()
	}
	return stats
}

// Close cancels outstanding background refreshes and waits for them to
// finish.
func (s *Store[T]) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Store[T]) maybeScheduleRefresh(entry *Entry[T], key string, fetch FetchFunc[T], ttl time.Duration) {
	if !s.cfg.BackgroundRefresh || fetch == nil || !entry.IsStale(s.cfg.StaleThreshold) {
		return
	}
	s.scheduleRefresh(key, fetch, ttl)
}

// scheduleRefresh starts a supervised background refresh for key. At most
// one refresh per key is tracked; scheduling a new one cancels the prior
// task (last scheduler wins).
func (s *Store[T]) scheduleRefresh(key string, fetch FetchFunc[T], ttl time.Duration) {
	ctx, cancel := context.WithCancel(s.baseCtx)
	task := &refreshTask{cancel: cancel}

	s.mu.Lock()
	if prior, running := s.refresh[key]; running {
		prior.cancel()
	}
	s.refresh[key] = task
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			if s.refresh[key] == task {
				delete(s.refresh, key)
			}
			s.mu.Unlock()
		}()

		s.logger.Debug("starting background refresh", "key", key)
		data, err := fetch(ctx)
		if err != nil {
			s.logger.Error("background refresh failed", "key", key, "error", err)
			return
		}
		if ctx.Err() != nil {
			return
		}
		if err := s.Set(ctx, key, data, ttl); err != nil {
			s.logger.Warn("background refresh failed to persist", "key", key, "error", err)
			return
		}
		s.logger.Debug("background refresh completed", "key", key)
	}()
}

// readCacheFile loads the disk tier. A missing file is an empty cache; a
// corrupt file is logged and treated as empty, never fatal to the caller.
func (s *Store[T]) readCacheFile(ctx context.Context) map[string]*Entry[T] {
	if _, err := os.Stat(s.file); os.IsNotExist(err) {
		return make(map[string]*Entry[T])
	}

	release, _ := acquireFileLock(ctx, s.lockFile, s.cfg.LockTimeout, s.logger)
	defer release()

	raw, err := os.ReadFile(s.file)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Error("error reading cache file", "error", err)
		}
		return make(map[string]*Entry[T])
	}

	entries := make(map[string]*Entry[T])
	if err := json.Unmarshal(raw, &entries); err != nil {
		s.logger.Error("corrupt cache file, treating as empty", "error", err)
		return make(map[string]*Entry[T])
	}
	return entries
}

// writeCacheFile replaces the disk tier atomically: serialize to a temp
// file in the same directory, then rename over the target. When the lock
// cannot be acquired the write is skipped with a warning.
func (s *Store[T]) writeCacheFile(ctx context.Context, entries map[string]*Entry[T]) error {
	release, locked := acquireFileLock(ctx, s.lockFile, s.cfg.LockTimeout, s.logger)
	defer release()
	if !locked {
		s.logger.Warn("could not acquire lock for writing cache, skipping write")
		return nil
	}

	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to serialize cache entries")
	}

	// Unique temp name: the lock is advisory and fails open, so a
	// concurrent writer must never clobber another writer's temp file.
	tmp := s.file + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o640); err != nil {
		return errors.Wrapf(err, "failed to write temp cache file %q", tmp)
	}
	if err := os.Rename(tmp, s.file); err != nil {
		return errors.Wrapf(err, "failed to replace cache file %q", s.file)
	}
	return nil
}
