package listener

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"meldung/internal"
	"meldung/internal/config"
	"meldung/internal/connectors"
	"meldung/internal/pipeline"
	"meldung/internal/storage"
)

// Service polls a mailbox, processes what arrived and optionally exports
// the new incidents.
type Service struct {
	db        *storage.DB
	cfg       config.Config
	connector connectors.MailConnector
	processor *pipeline.ProcessingService
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(db *storage.DB, cfg config.Config, connector connectors.MailConnector, processor *pipeline.ProcessingService, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, cfg: cfg, connector: connector, processor: processor, logger: logger, now: time.Now}
}

// Run repeats cycles until ctx is done. A failing cycle is logged and the
// loop carries on.
func (s *Service) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.MailListenerIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	s.logger.Info("mail listener started",
		zap.String("provider", s.provider()),
		zap.String("label", s.cfg.MailListenerLabel),
		zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunCycle(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("listener cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			s.logger.Info("mail listener stopped")
			return nil
		case <-ticker.C:
		}
	}
}

type CycleResult struct {
	Fetched   int
	New       int
	Processed int
	Submitted int
	Exported  string
}

func (s *Service) RunCycle(ctx context.Context) (CycleResult, error) {
	provider := s.provider()
	fetchService := connectors.NewFetchService(s.db, s.cfg.RawMailDir, s.connector, s.logger)
	fetchResult, err := fetchService.FetchAndStore(ctx, s.cfg.MailListenerLabel, s.cfg.MailListenerFetchMax)
	if err != nil {
		return CycleResult{}, fmt.Errorf("fetch: %w", err)
	}

	processed, submitted, err := s.processor.ProcessPending(ctx, s.cfg.MailListenerProcessBatch, provider)
	if err != nil {
		return CycleResult{}, fmt.Errorf("process: %w", err)
	}
	result := CycleResult{Fetched: fetchResult.Fetched, New: fetchResult.New, Processed: processed, Submitted: submitted}

	if s.cfg.MailListenerAutoExport {
		path, err := s.exportSubmitted(ctx, provider)
		if err != nil {
			return result, fmt.Errorf("export: %w", err)
		}
		result.Exported = path
	}

	s.logger.Info("listener cycle done",
		zap.String("provider", provider),
		zap.Int("fetched", result.Fetched),
		zap.Int("new", result.New),
		zap.Int("processed", result.Processed),
		zap.Int("submitted", result.Submitted),
		zap.String("exported", result.Exported))
	return result, nil
}

// exportSubmitted writes the incidents of emails submitted since the last
// export to one workbook, then marks those emails exported.
func (s *Service) exportSubmitted(ctx context.Context, provider string) (string, error) {
	emails, err := s.db.ListEmailsByStatus(ctx, internal.EmailSubmitted, provider, 200)
	if err != nil {
		return "", err
	}
	ids := make([]int, 0, len(emails))
	for _, email := range emails {
		ids = append(ids, email.ID)
	}
	if len(ids) == 0 {
		return "", nil
	}

	rows, err := s.db.GetExportRowsForEmails(ctx, ids)
	if err != nil {
		return "", err
	}
	filename := fmt.Sprintf("incidents_%s.xlsx", s.now().UTC().Format("20060102T150405Z"))
	outputPath := filepath.Join(s.cfg.OutputDir, "listener", filename)
	if err := pipeline.ExportIncidentsToXLSX(rows, outputPath); err != nil {
		return "", err
	}
	for _, id := range ids {
		if err := s.db.UpdateEmailStatus(ctx, id, internal.EmailExported); err != nil {
			return "", err
		}
	}
	return outputPath, nil
}

func (s *Service) provider() string {
	return strings.ToLower(strings.TrimSpace(s.cfg.MailListenerProvider))
}
