package connectors

import (
	"context"

	"go.uber.org/zap"

	"meldung/internal/storage"
)

type FetchService struct {
	connector MailConnector
	store     *MailStoreService
	logger    *zap.Logger
}

type FetchResult struct {
	Fetched int
	Stored  int
	New     int
}

func NewFetchService(db *storage.DB, rawMailDir string, connector MailConnector, logger *zap.Logger) *FetchService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FetchService{
		connector: connector,
		store:     NewMailStoreService(db, rawMailDir),
		logger:    logger,
	}
}

func (s *FetchService) FetchAndStore(ctx context.Context, label string, max int) (FetchResult, error) {
	messages, err := s.connector.FetchInbox(ctx, label, max)
	if err != nil {
		return FetchResult{}, err
	}

	result := FetchResult{Fetched: len(messages)}
	for _, msg := range messages {
		row, isNew, err := s.store.Store(ctx, msg)
		if err != nil {
			return result, err
		}
		result.Stored++
		if isNew {
			result.New++
		}
		s.logger.Debug("mail stored",
			zap.String("provider", msg.Provider),
			zap.String("message_id", msg.MessageID),
			zap.Int("email_id", row.ID),
			zap.Bool("new", isNew))
	}

	return result, nil
}
