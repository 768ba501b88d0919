package locations

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meldung/internal"
	"meldung/internal/config"
	"meldung/internal/storage"
)

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSyncServiceSeedIfEmpty(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	svc := NewSyncService(db, config.Config{}, nil)

	last, err := svc.LastSync(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	n, err := svc.SeedIfEmpty(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	n, err = svc.SeedIfEmpty(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	last, err = svc.LastSync(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)

	recs, err := db.ListLocations(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultSeed(), recs)
}

func TestSyncServiceUpserts(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	svc := NewSyncService(db, config.Config{}, nil)
	_, err := svc.SyncFrom(ctx, "seed")
	require.NoError(t, err)

	renamed := NewStaticDirectory([]internal.LocationRecord{{ID: 2, Name: "Heilbronn Nord", City: "Heilbronn", State: "Baden-Württemberg"}})
	n, err := svc.Sync(ctx, renamed)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := db.GetLocation(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "Heilbronn Nord", got.Name)
	count, _ := db.CountLocations(ctx)
	assert.Equal(t, 10, count)
}

func TestSyncServiceSourceErrors(t *testing.T) {
	ctx := context.Background()
	svc := NewSyncService(openTestDB(t), config.Config{}, nil)

	_, err := svc.SyncFrom(ctx, "ldap")
	require.Error(t, err)

	failing := DirectoryFunc(func(ctx context.Context) ([]internal.LocationRecord, error) {
		return nil, errors.New("boom")
	})
	_, err = svc.Sync(ctx, failing)
	require.Error(t, err)
	last, _ := svc.LastSync(ctx)
	assert.Nil(t, last)

	_, err = svc.Sync(ctx, NewStaticDirectory(nil))
	require.ErrorIs(t, err, ErrEmptyDirectory)
}

func TestNewDirectory(t *testing.T) {
	db := openTestDB(t)
	for source, want := range map[string]string{
		"db":   "*storage.DB",
		"":     "*storage.DB",
		"api":  "*locations.Client",
		"xlsx": "*locations.XLSXDirectory",
		"seed":   "*locations.StaticDirectory",
		"static": "*locations.StaticDirectory",
	} {
		dir, err := NewDirectory(config.Config{LocationSource: source}, db, nil)
		require.NoError(t, err, source)
		assert.Equal(t, want, typeName(dir), source)
	}
	_, err := NewDirectory(config.Config{LocationSource: "db"}, nil, nil)
	require.Error(t, err)
	_, err = NewDirectory(config.Config{LocationSource: "ftp"}, db, nil)
	require.Error(t, err)
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}

func TestOpenDirectorySeedsEmptyDatabase(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	dir, err := OpenDirectory(ctx, config.Config{LocationSource: "db"}, db, nil)
	require.NoError(t, err)
	recs, err := dir.ListLocations(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 10)

	// an existing table is left alone
	require.NoError(t, db.UpsertLocations(ctx, []internal.LocationRecord{{ID: 11, Name: "Ulm", City: "Ulm", State: "BW"}}))
	dir, err = OpenDirectory(ctx, config.Config{}, db, nil)
	require.NoError(t, err)
	recs, err = dir.ListLocations(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 11)
}

func TestOpenDirectoryOtherSourcesSkipSeeding(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	_, err := OpenDirectory(ctx, config.Config{LocationSource: "seed"}, db, nil)
	require.NoError(t, err)
	n, err := db.CountLocations(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSyncServiceImportXLSX(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	svc := NewSyncService(db, config.Config{}, nil)

	blob := mkXLSX(t, [][]any{
		{"id", "name", "city", "state"},
		{21, "Ulm Mitte", "Ulm", "Baden-Württemberg"},
		{22, "Konstanz", "Konstanz", "Baden-Württemberg"},
	})
	n, err := svc.ImportXLSX(ctx, bytes.NewReader(blob))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rec, err := db.GetLocation(ctx, 21)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Ulm Mitte", rec.Name)

	_, err = svc.ImportXLSX(ctx, bytes.NewReader(mkXLSX(t, [][]any{{"id", "name", "city", "state"}})))
	assert.ErrorIs(t, err, ErrEmptyDirectory)

	_, err = svc.ImportXLSX(ctx, bytes.NewReader(mkXLSX(t, [][]any{{"name", "state"}, {"Ulm", "BW"}})))
	var missing *MissingColumnError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "city", missing.Column)
}
