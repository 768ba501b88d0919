package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"meldung/internal"
	"meldung/internal/extract"
)

// ParseFile runs the extraction engine over a file on disk.
func ParseFile(ctx context.Context, engine *extract.Engine, path string) (internal.ExtractionResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return internal.ExtractionResult{}, err
	}
	defer f.Close()
	return engine.ParseEmailFile(ctx, filepath.Base(path), f), nil
}
