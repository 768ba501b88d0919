// Package extract pulls incident date, time and location out of uploaded
// email exports. Everything here is heuristic: a miss is reported as an
// absent field, never as an error.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"meldung/internal"
	"meldung/internal/locations"
	"meldung/internal/util"
)

const rawTextLimit = 1000

const defaultFailureMessage = "Fehler beim Parsen der E-Mail-Datei"

type Engine struct {
	cache       *locations.Cache
	logger      *zap.Logger
	readTimeout time.Duration
	loadTimeout time.Duration

	mu         sync.Mutex
	matcher    *Matcher
	matcherGen uint64
}

type Option func(*Engine)

// WithReadTimeout bounds reading the uploaded file. Zero disables the bound.
func WithReadTimeout(d time.Duration) Option {
	return func(e *Engine) { e.readTimeout = d }
}

// WithLoadTimeout bounds loading the location directory. Zero disables the bound.
func WithLoadTimeout(d time.Duration) Option {
	return func(e *Engine) { e.loadTimeout = d }
}

func NewEngine(cache *locations.Cache, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{cache: cache, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ParseEmailFile reads an uploaded file and extracts incident details from it.
func (e *Engine) ParseEmailFile(ctx context.Context, filename string, r io.Reader) internal.ExtractionResult {
	content, err := e.readFile(ctx, r)
	if err != nil {
		return e.failure(filename, fmt.Errorf("read email file: %w", err))
	}
	return e.ParseDocument(ctx, internal.RawEmailDocument{Content: content, Filename: filename})
}

// ParseDocument runs body extraction, the date/time extractors and the
// location matcher. Failures come back as Success=false, never as a panic.
func (e *Engine) ParseDocument(ctx context.Context, doc internal.RawEmailDocument) (result internal.ExtractionResult) {
	defer func() {
		if r := recover(); r != nil {
			result = e.failure(doc.Filename, fmt.Errorf("extraction aborted: %v", r))
		}
	}()

	plain := util.NormalizeText(ExtractPlainText(doc.Content, doc.Filename))
	date := ExtractDate(plain)
	clock := ExtractTime(plain)

	matcher, err := e.locationMatcher(ctx)
	if err != nil {
		return e.failure(doc.Filename, err)
	}
	e.logger.Debug("extracting location",
		zap.String("file", doc.Filename),
		zap.String("preview", util.TruncateRunes(plain, 200)))
	match := matcher.Match(plain)

	result = internal.ExtractionResult{
		Success:    true,
		Date:       date,
		Time:       clock,
		Location:   match.Location,
		LocationID: match.LocationID,
		Confidence: match.Confidence,
		RawText:    util.TruncateRunes(plain, rawTextLimit),
	}
	e.logger.Info("email parsed",
		zap.String("file", doc.Filename),
		zap.String("date", util.DerefString(date)),
		zap.String("time", util.DerefString(clock)),
		zap.String("location", util.DerefString(match.Location)),
		zap.Float64("confidence", match.Confidence))
	return result
}

// ReloadLocations refreshes the location cache from its directory.
func (e *Engine) ReloadLocations(ctx context.Context) error {
	ctx, cancel := e.withTimeout(ctx, e.loadTimeout)
	defer cancel()
	_, err := e.cache.Reload(ctx)
	return err
}

// InvalidateLocations empties the cache; the next parse loads it again.
func (e *Engine) InvalidateLocations() {
	e.cache.Invalidate()
}

func (e *Engine) locationMatcher(ctx context.Context) (*Matcher, error) {
	ctx, cancel := e.withTimeout(ctx, e.loadTimeout)
	defer cancel()

	records, gen, err := e.cache.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.matcher == nil || e.matcherGen != gen {
		e.matcher = NewMatcher(records)
		e.matcherGen = gen
	}
	return e.matcher, nil
}

func (e *Engine) readFile(ctx context.Context, r io.Reader) (string, error) {
	if r == nil {
		return "", errors.New("no file given")
	}
	ctx, cancel := e.withTimeout(ctx, e.readTimeout)
	defer cancel()

	type readResult struct {
		blob []byte
		err  error
	}
	done := make(chan readResult, 1)
	go func() {
		blob, err := io.ReadAll(r)
		done <- readResult{blob: blob, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-done:
		if res.err != nil {
			return "", res.err
		}
		return string(res.blob), nil
	}
}

func (e *Engine) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (e *Engine) failure(filename string, err error) internal.ExtractionResult {
	msg := defaultFailureMessage
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	e.logger.Warn("email parse failed", zap.String("file", filename), zap.Error(err))
	return internal.ExtractionResult{Success: false, Error: msg}
}
