package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"
	"go.uber.org/zap"

	"meldung/internal"
	"meldung/internal/config"
	"meldung/internal/extract"
	"meldung/internal/incidents"
	"meldung/internal/storage"
	"meldung/internal/util"
)

// ProcessingService turns stored mailbox messages into extractions and,
// when the extraction is complete and confident, into incidents.
type ProcessingService struct {
	db        *storage.DB
	engine    *extract.Engine
	incidents *incidents.Service
	cfg       config.Config
	logger    *zap.Logger
}

func NewProcessingService(db *storage.DB, engine *extract.Engine, inc *incidents.Service, cfg config.Config, logger *zap.Logger) *ProcessingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessingService{db: db, engine: engine, incidents: inc, cfg: cfg, logger: logger}
}

type ProcessResult struct {
	EmailID    int
	TraceID    string
	Status     internal.EmailStatus
	Detect     DetectResult
	Extraction internal.ExtractionResult
	IncidentID *int
}

func (s *ProcessingService) ProcessByProviderMessageID(ctx context.Context, provider, messageID string) (ProcessResult, error) {
	email, err := s.db.MustEmailByProviderMessageID(ctx, provider, messageID)
	if err != nil {
		return ProcessResult{}, err
	}
	return s.ProcessEmail(ctx, email)
}

// ProcessPending works through fetched emails. It returns how many were
// processed and how many of those produced an incident.
func (s *ProcessingService) ProcessPending(ctx context.Context, limit int, provider string) (int, int, error) {
	pending, err := s.db.ListEmailsByStatus(ctx, internal.EmailFetched, provider, limit)
	if err != nil {
		return 0, 0, err
	}
	processed := 0
	submitted := 0
	for _, email := range pending {
		if err := ctx.Err(); err != nil {
			return processed, submitted, err
		}
		res, err := s.ProcessEmail(ctx, email)
		if err != nil {
			return processed, submitted, err
		}
		processed++
		if res.IncidentID != nil {
			submitted++
		}
	}
	return processed, submitted, nil
}

func (s *ProcessingService) ProcessEmail(ctx context.Context, email internal.EmailRow) (ProcessResult, error) {
	start := time.Now()
	result := ProcessResult{EmailID: email.ID, TraceID: uuid.NewString()}
	log := s.logger.With(zap.String("trace_id", result.TraceID), zap.Int("email_id", email.ID))

	raw, err := os.ReadFile(email.RawRef)
	if err != nil {
		log.Warn("raw mail unreadable", zap.String("raw_ref", email.RawRef), zap.Error(err))
		result.Status = internal.EmailFailed
		return result, s.finish(ctx, email, &result, start)
	}

	msg, err := decodeMessage(raw)
	if err != nil {
		log.Warn("mail decode failed", zap.Error(err))
		result.Status = internal.EmailFailed
		return result, s.finish(ctx, email, &result, start)
	}
	subject := firstNonEmpty(msg.Subject, email.Subject)

	result.Detect = DetectIncidentReport(subject, msg.Text, msg.AttachmentNames, s.cfg.DetectThreshold)
	if !result.Detect.IsIncident {
		log.Debug("not an incident report", zap.Float64("score", result.Detect.Score))
		result.Status = internal.EmailSkipped
		return result, s.finish(ctx, email, &result, start)
	}

	// The subject carries the "<Name> Store_" marker in many reports.
	doc := internal.RawEmailDocument{
		Content:  strings.TrimSpace(subject + "\n\n" + msg.Text),
		Filename: "message.txt",
	}
	result.Extraction = s.engine.ParseDocument(ctx, doc)

	incidentType := result.Detect.IncidentType
	if incidentType == "" {
		incidentType = s.cfg.DefaultIncidentType
	}
	if err := s.db.SaveExtraction(ctx, email.ID, result.Extraction, result.Detect.Score, incidentType); err != nil {
		return ProcessResult{}, err
	}

	switch {
	case !result.Extraction.Success:
		result.Status = internal.EmailFailed
	case s.autoSubmittable(result.Extraction):
		inc, err := s.submit(ctx, email, result.Extraction, incidentType)
		switch {
		case errors.Is(err, incidents.ErrValidation):
			log.Info("extraction needs review", zap.Error(err))
			result.Status = internal.EmailReview
		case err != nil:
			return ProcessResult{}, err
		default:
			result.IncidentID = util.IntPtr(inc.ID)
			result.Status = internal.EmailSubmitted
		}
	default:
		result.Status = internal.EmailReview
	}

	return result, s.finish(ctx, email, &result, start)
}

func (s *ProcessingService) autoSubmittable(res internal.ExtractionResult) bool {
	return res.Date != nil && res.Time != nil && res.LocationID != nil &&
		res.Confidence >= s.cfg.MatchAutoSubmitThreshold
}

func (s *ProcessingService) submit(ctx context.Context, email internal.EmailRow, res internal.ExtractionResult, incidentType string) (internal.Incident, error) {
	draft, err := incidents.DraftFromExtraction(res, incidentType)
	if err != nil {
		return internal.Incident{}, err
	}
	draft.EmailID = util.IntPtr(email.ID)
	return s.incidents.Submit(ctx, draft)
}

func (s *ProcessingService) finish(ctx context.Context, email internal.EmailRow, res *ProcessResult, start time.Time) error {
	if err := s.db.UpdateEmailStatus(ctx, email.ID, res.Status); err != nil {
		return err
	}
	submitted := 0
	if res.IncidentID != nil {
		submitted = 1
	}
	located := 0
	if res.Extraction.LocationID != nil {
		located = 1
	}
	_ = s.db.InsertRun(ctx, res.TraceID, email.ID,
		map[string]float64{"totalMs": float64(time.Since(start).Milliseconds())},
		map[string]int{"located": located, "submitted": submitted})

	s.logger.Info("email processed",
		zap.String("trace_id", res.TraceID),
		zap.Int("email_id", email.ID),
		zap.String("status", string(res.Status)),
		zap.Float64("confidence", res.Extraction.Confidence))
	return nil
}

type decodedMessage struct {
	Subject         string
	Text            string
	AttachmentNames []string
}

// decodeMessage flattens a MIME message into text: the text part (or the
// HTML part rendered to text) followed by readable attachments.
func decodeMessage(raw []byte) (decodedMessage, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return decodedMessage{}, err
	}

	parts := make([]string, 0, 1+len(env.Attachments))
	switch {
	case strings.TrimSpace(env.Text) != "":
		parts = append(parts, strings.TrimSpace(env.Text))
	case strings.TrimSpace(env.HTML) != "":
		parts = append(parts, extract.ExtractPlainText(env.HTML, "body.html"))
	}

	names := make([]string, 0, len(env.Attachments))
	for _, att := range env.Attachments {
		filename := strings.TrimSpace(att.FileName)
		if filename == "" {
			filename = "attachment"
		}
		names = append(names, filename)
		switch strings.ToLower(filepath.Ext(filename)) {
		case ".txt", ".html", ".htm", ".eml", ".msg", ".pdf":
			if text := strings.TrimSpace(extract.ExtractPlainText(string(att.Content), filename)); text != "" {
				parts = append(parts, text)
			}
		}
	}

	return decodedMessage{
		Subject:         env.GetHeader("Subject"),
		Text:            strings.Join(parts, "\n\n"),
		AttachmentNames: names,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
