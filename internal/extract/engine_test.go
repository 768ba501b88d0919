package extract

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meldung/internal"
	"meldung/internal/locations"
)

func newSeedEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	cache := locations.NewCache(locations.NewStaticDirectory(locations.DefaultSeed()), nil)
	return NewEngine(cache, nil, opts...)
}

func TestParseEmailFileEML(t *testing.T) {
	e := newSeedEngine(t)
	content := "Content-Type: text/plain\r\n\r\nIncident at Stuttgart Mitte store_ on 09.02.2025 around 9.24 Uhr."

	res := e.ParseEmailFile(context.Background(), "incident.eml", strings.NewReader(content))

	require.True(t, res.Success, res.Error)
	require.NotNil(t, res.Date)
	require.NotNil(t, res.Time)
	require.NotNil(t, res.Location)
	require.NotNil(t, res.LocationID)
	assert.Equal(t, "2025-02-09", *res.Date)
	assert.Equal(t, "09:24", *res.Time)
	assert.Equal(t, "Stuttgart Mitte", *res.Location)
	assert.Equal(t, 3, *res.LocationID)
	assert.Equal(t, ConfidenceStoreSuffix, res.Confidence)
	assert.Equal(t, "Incident at Stuttgart Mitte store_ on 09.02.2025 around 9.24 Uhr.", res.RawText)
	assert.Empty(t, res.Error)
}

func TestParseEmailFileHTMLDropsScripts(t *testing.T) {
	e := newSeedEngine(t)
	content := "<html><script>alert(1)</script><body>Termin am 01.01.2024</body></html>"

	res := e.ParseEmailFile(context.Background(), "mail.html", strings.NewReader(content))

	require.True(t, res.Success)
	require.NotNil(t, res.Date)
	assert.Equal(t, "2024-01-01", *res.Date)
	assert.Nil(t, res.Time)
	assert.Nil(t, res.Location)
	assert.Nil(t, res.LocationID)
	assert.Equal(t, ConfidenceNoneDetected, res.Confidence)
	assert.NotContains(t, res.RawText, "alert")
}

func TestParseEmailFileHTMLNoBreakSpace(t *testing.T) {
	e := newSeedEngine(t)
	content := "<html><body>Vorfall in der Filiale&nbsp;Heilbronn am March&nbsp;3rd,&nbsp;2024 um 14:&nbsp;30&nbsp;Uhr</body></html>"

	res := e.ParseEmailFile(context.Background(), "mail.html", strings.NewReader(content))

	require.True(t, res.Success, res.Error)
	require.NotNil(t, res.Date)
	assert.Equal(t, "2024-03-03", *res.Date)
	require.NotNil(t, res.Time)
	assert.Equal(t, "14:30", *res.Time)
	require.NotNil(t, res.LocationID)
	assert.Equal(t, 2, *res.LocationID)
	assert.Equal(t, ConfidenceNameContext, res.Confidence)
}

func TestParseDocumentPlainNoBreakSpace(t *testing.T) {
	e := newSeedEngine(t)
	doc := internal.RawEmailDocument{Content: "Filiale\u00a0Mannheim, 5.\u00a0Mai\u00a02024", Filename: "note.txt"}

	res := e.ParseDocument(context.Background(), doc)

	require.True(t, res.Success)
	require.NotNil(t, res.Date)
	assert.Equal(t, "2024-05-05", *res.Date)
	require.NotNil(t, res.LocationID)
	assert.Equal(t, 8, *res.LocationID)
	assert.Equal(t, ConfidenceNameContext, res.Confidence)
}

func TestParseDocumentTruncatesRawText(t *testing.T) {
	e := newSeedEngine(t)
	content := strings.Repeat("ä", rawTextLimit+50)

	res := e.ParseDocument(context.Background(), internal.RawEmailDocument{Content: content, Filename: "long.txt"})

	require.True(t, res.Success)
	assert.Equal(t, rawTextLimit, len([]rune(res.RawText)))
}

func TestParseDocumentComposesDecomposedText(t *testing.T) {
	e := newSeedEngine(t)
	doc := internal.RawEmailDocument{Content: "Vorfall in Filiale Stuttgart Su\u0308d", Filename: "note.txt"}

	res := e.ParseDocument(context.Background(), doc)

	require.True(t, res.Success)
	require.NotNil(t, res.LocationID)
	assert.Equal(t, 7, *res.LocationID)
	assert.Equal(t, ConfidenceNameContext, res.Confidence)
}

func TestParseDocumentIdempotent(t *testing.T) {
	e := newSeedEngine(t)
	doc := internal.RawEmailDocument{
		Content:  "Subject: Diebstahl\n\nVorfall am 3. März 2024 um 14:30 Uhr in der Filiale Mannheim",
		Filename: "a.eml",
	}

	first := e.ParseDocument(context.Background(), doc)
	second := e.ParseDocument(context.Background(), doc)

	assert.Equal(t, first, second)
	require.NotNil(t, first.Date)
	require.NotNil(t, first.Time)
	require.NotNil(t, first.Location)
	assert.Equal(t, "2024-03-03", *first.Date)
	assert.Equal(t, "14:30", *first.Time)
	assert.Equal(t, "Mannheim", *first.Location)
}

func TestParseDocumentGarbageNeverPanics(t *testing.T) {
	e := newSeedEngine(t)
	rng := rand.New(rand.NewSource(7))
	names := []string{"x.eml", "x.msg", "x.html", "x.pdf", "x.txt", ""}

	for i := 0; i < 50; i++ {
		blob := make([]byte, rng.Intn(2048))
		rng.Read(blob)
		if i%5 == 0 {
			blob = append([]byte("%PDF-1.7\n"), blob...)
		}
		doc := internal.RawEmailDocument{Content: string(blob), Filename: names[i%len(names)]}

		var res internal.ExtractionResult
		require.NotPanics(t, func() { res = e.ParseDocument(context.Background(), doc) })
		if res.Success {
			assert.LessOrEqual(t, res.Confidence, 1.0)
			assert.GreaterOrEqual(t, res.Confidence, 0.0)
		}
	}
}

func TestParseDocumentDirectoryFailure(t *testing.T) {
	dir := locations.DirectoryFunc(func(ctx context.Context) ([]internal.LocationRecord, error) {
		return nil, errors.New("db locked")
	})
	e := NewEngine(locations.NewCache(dir, nil), nil)

	res := e.ParseDocument(context.Background(), internal.RawEmailDocument{Content: "Vorfall 01.01.2024", Filename: "a.txt"})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "db locked")
	assert.Nil(t, res.Date)
	assert.Empty(t, res.RawText)
}

func TestParseDocumentLoadTimeout(t *testing.T) {
	dir := locations.DirectoryFunc(func(ctx context.Context) ([]internal.LocationRecord, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e := NewEngine(locations.NewCache(dir, nil), nil, WithLoadTimeout(20*time.Millisecond))

	res := e.ParseDocument(context.Background(), internal.RawEmailDocument{Content: "x", Filename: "a.txt"})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, context.DeadlineExceeded.Error())
}

func TestParseEmailFileReadTimeout(t *testing.T) {
	e := newSeedEngine(t, WithReadTimeout(20*time.Millisecond))
	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })

	res := e.ParseEmailFile(context.Background(), "slow.eml", pr)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "read email file")
}

func TestParseEmailFileReadError(t *testing.T) {
	e := newSeedEngine(t)
	pr, pw := io.Pipe()
	_ = pw.CloseWithError(errors.New("connection reset"))

	res := e.ParseEmailFile(context.Background(), "broken.eml", pr)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "connection reset")

	res = e.ParseEmailFile(context.Background(), "none.eml", nil)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestEngineReloadLocations(t *testing.T) {
	var mu sync.Mutex
	records := []internal.LocationRecord{{ID: 1, Name: "Alpha", City: "Aachen", State: "NRW"}}
	dir := locations.DirectoryFunc(func(ctx context.Context) ([]internal.LocationRecord, error) {
		mu.Lock()
		defer mu.Unlock()
		return append([]internal.LocationRecord(nil), records...), nil
	})
	e := NewEngine(locations.NewCache(dir, nil), nil)
	doc := internal.RawEmailDocument{Content: "Vorfall in Filiale Beta", Filename: "a.txt"}

	res := e.ParseDocument(context.Background(), doc)
	require.True(t, res.Success)
	assert.Nil(t, res.Location)

	mu.Lock()
	records = append(records, internal.LocationRecord{ID: 2, Name: "Beta", City: "Bonn", State: "NRW"})
	mu.Unlock()

	res = e.ParseDocument(context.Background(), doc)
	assert.Nil(t, res.Location, "cached list must be used until reload")

	require.NoError(t, e.ReloadLocations(context.Background()))
	res = e.ParseDocument(context.Background(), doc)
	require.NotNil(t, res.LocationID)
	assert.Equal(t, 2, *res.LocationID)

	mu.Lock()
	records = records[:1]
	mu.Unlock()
	e.InvalidateLocations()
	res = e.ParseDocument(context.Background(), doc)
	assert.Nil(t, res.Location)
}

func TestParseDocumentConcurrentSingleLoad(t *testing.T) {
	var loads atomic.Int32
	dir := locations.DirectoryFunc(func(ctx context.Context) ([]internal.LocationRecord, error) {
		loads.Add(1)
		time.Sleep(10 * time.Millisecond)
		return locations.DefaultSeed(), nil
	})
	e := NewEngine(locations.NewCache(dir, nil), nil)
	doc := internal.RawEmailDocument{Content: "Filiale Karlsruhe, 12.12.2024 18:05", Filename: "a.txt"}

	var wg sync.WaitGroup
	results := make([]internal.ExtractionResult, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = e.ParseDocument(context.Background(), doc)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
	for _, res := range results {
		assert.Equal(t, results[0], res)
	}
	require.NotNil(t, results[0].LocationID)
	assert.Equal(t, 9, *results[0].LocationID)
	require.NotNil(t, results[0].Time)
	assert.Equal(t, "18:05", *results[0].Time)
}
