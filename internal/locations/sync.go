package locations

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"meldung/internal/config"
	"meldung/internal/storage"
)

const lastSyncKey = "locations.last_sync"

// ErrEmptyDirectory is returned when a sync source yields no locations.
var ErrEmptyDirectory = errors.New("location source returned no records")

// SyncService copies a location source into the local database.
type SyncService struct {
	db     *storage.DB
	cfg    config.Config
	logger *zap.Logger
}

func NewSyncService(db *storage.DB, cfg config.Config, logger *zap.Logger) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{db: db, cfg: cfg, logger: logger}
}

// Source picks the upstream directory by name: "api", "xlsx" or "seed"
// ("static" is accepted as an alias).
func (s *SyncService) Source(name string) (Directory, error) {
	switch name {
	case "api":
		return NewClient(s.cfg, s.logger), nil
	case "xlsx":
		return NewXLSXDirectory(s.cfg.LocationXLSXPath), nil
	case "seed", "static":
		return NewStaticDirectory(DefaultSeed()), nil
	default:
		return nil, fmt.Errorf("unsupported location source: %s", name)
	}
}

// Sync upserts every record of src and stamps the sync time.
func (s *SyncService) Sync(ctx context.Context, src Directory) (int, error) {
	records, err := src.ListLocations(ctx)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, ErrEmptyDirectory
	}
	if err := s.db.UpsertLocations(ctx, records); err != nil {
		return 0, err
	}
	if err := s.db.SetMetadata(ctx, lastSyncKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return 0, err
	}
	s.logger.Info("locations synced", zap.Int("count", len(records)))
	return len(records), nil
}

// ImportXLSX syncs the locations of an uploaded workbook.
func (s *SyncService) ImportXLSX(ctx context.Context, r io.Reader) (int, error) {
	records, err := ReadLocationsXLSX(r)
	if err != nil {
		return 0, err
	}
	return s.Sync(ctx, NewStaticDirectory(records))
}

func (s *SyncService) SyncFrom(ctx context.Context, source string) (int, error) {
	src, err := s.Source(source)
	if err != nil {
		return 0, err
	}
	return s.Sync(ctx, src)
}

// SeedIfEmpty loads DefaultSeed into an empty table.
func (s *SyncService) SeedIfEmpty(ctx context.Context) (int, error) {
	n, err := s.db.CountLocations(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}
	return s.Sync(ctx, NewStaticDirectory(DefaultSeed()))
}

func (s *SyncService) LastSync(ctx context.Context) (*time.Time, error) {
	v, err := s.db.GetMetadata(ctx, lastSyncKey)
	if err != nil || v == nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, *v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// NewDirectory builds the directory the application reads locations from,
// as configured by LOCATION_SOURCE.
func NewDirectory(cfg config.Config, db *storage.DB, logger *zap.Logger) (Directory, error) {
	switch cfg.LocationSource {
	case "", "db":
		if db == nil {
			return nil, fmt.Errorf("location source db needs an open database")
		}
		return db, nil
	case "api":
		return NewClient(cfg, logger), nil
	case "xlsx":
		return NewXLSXDirectory(cfg.LocationXLSXPath), nil
	case "seed", "static":
		return NewStaticDirectory(DefaultSeed()), nil
	default:
		return nil, fmt.Errorf("unsupported LOCATION_SOURCE: %s", cfg.LocationSource)
	}
}

// OpenDirectory is NewDirectory for long-running commands: a database-backed
// directory with an empty location table is seeded with DefaultSeed first.
func OpenDirectory(ctx context.Context, cfg config.Config, db *storage.DB, logger *zap.Logger) (Directory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if (cfg.LocationSource == "" || cfg.LocationSource == "db") && db != nil {
		seeded, err := NewSyncService(db, cfg, logger).SeedIfEmpty(ctx)
		if err != nil {
			return nil, fmt.Errorf("seed locations: %w", err)
		}
		if seeded > 0 {
			logger.Info("empty location table seeded", zap.Int("count", seeded))
		}
	}
	return NewDirectory(cfg, db, logger)
}
