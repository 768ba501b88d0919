package locations

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"meldung/internal"
)

// Cache memoizes the most recent directory listing. It starts empty, loads
// on first Get and only changes again through Invalidate or Reload.
type Cache struct {
	dir    Directory
	logger *zap.Logger

	mu         sync.Mutex
	records    []internal.LocationRecord
	loaded     bool
	generation uint64
	loadedAt   time.Time
}

func NewCache(dir Directory, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{dir: dir, logger: logger}
}

// Get returns the cached records, loading them if the cache is empty.
// Concurrent callers wait for a single load.
func (c *Cache) Get(ctx context.Context) ([]internal.LocationRecord, error) {
	records, _, err := c.Snapshot(ctx)
	return records, err
}

// Snapshot is Get plus the generation number, which changes on every
// successful load.
func (c *Cache) Snapshot(ctx context.Context) ([]internal.LocationRecord, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		if err := c.loadLocked(ctx); err != nil {
			return nil, 0, err
		}
	}
	return slices.Clone(c.records), c.generation, nil
}

// Reload replaces the cached records. On failure the previous records stay.
func (c *Cache) Reload(ctx context.Context) ([]internal.LocationRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadLocked(ctx); err != nil {
		return nil, err
	}
	return slices.Clone(c.records), nil
}

func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = nil
	c.loaded = false
}

func (c *Cache) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// LoadedAt is the time of the last successful load.
func (c *Cache) LoadedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadedAt
}

func (c *Cache) loadLocked(ctx context.Context) error {
	start := time.Now()
	records, err := c.dir.ListLocations(ctx)
	if err != nil {
		return fmt.Errorf("load locations: %w", err)
	}
	if len(records) == 0 {
		c.logger.Warn("location directory is empty, no location will match")
	}
	c.records = records
	c.loaded = true
	c.generation++
	c.loadedAt = time.Now()
	c.logger.Debug("location cache loaded",
		zap.Int("count", len(records)),
		zap.Uint64("generation", c.generation),
		zap.Duration("duration", time.Since(start)))
	return nil
}
