// Package incidents validates and records incident reports.
package incidents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"meldung/internal"
	"meldung/internal/locations"
	"meldung/internal/storage"
	"meldung/internal/util"
)

var (
	ErrValidation = errors.New("invalid incident")
	ErrNotFound   = errors.New("incident not found")
)

const (
	TypeTheft   = "diebstahl"
	TypeDamage  = "sachbeschädigung"
	TypeOther   = "sonstiges"
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

var typeAliases = map[string]string{
	TypeTheft:           TypeTheft,
	TypeDamage:          TypeDamage,
	"sachbeschaedigung": TypeDamage,
	TypeOther:           TypeOther,
}

// ValidationError names the offending field. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Draft is an incident before validation. LocationName is only used when
// LocationID is nil.
type Draft struct {
	Type         string `json:"type"`
	Date         string `json:"incident_date"`
	Time         string `json:"incident_time"`
	LocationID   *int   `json:"location_id,omitempty"`
	LocationName string `json:"location,omitempty"`
	EmailID      *int   `json:"email_id,omitempty"`
	EmailData    string `json:"email_data,omitempty"`
}

type Service struct {
	db     *storage.DB
	cache  *locations.Cache
	logger *zap.Logger
}

func NewService(db *storage.DB, cache *locations.Cache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, cache: cache, logger: logger}
}

// NormalizeType maps user input onto a known incident type.
func NormalizeType(v string) (string, bool) {
	t, ok := typeAliases[strings.ToLower(util.NormalizeText(strings.TrimSpace(v)))]
	return t, ok
}

// DraftFromExtraction turns a successful extraction into a draft of the
// given type. The full result is kept as the incident's email data.
func DraftFromExtraction(res internal.ExtractionResult, incidentType string) (Draft, error) {
	if !res.Success {
		return Draft{}, &ValidationError{Field: "extraction", Reason: res.Error}
	}
	blob, err := json.Marshal(res)
	if err != nil {
		return Draft{}, err
	}
	d := Draft{
		Type:       incidentType,
		Date:       util.DerefString(res.Date),
		Time:       util.DerefString(res.Time),
		LocationID: res.LocationID,
		EmailData:  string(blob),
	}
	if res.LocationID == nil {
		d.LocationName = util.DerefString(res.Location)
	}
	return d, nil
}

// Validate checks the draft and returns the incident it would create.
func (s *Service) Validate(ctx context.Context, d Draft) (internal.Incident, error) {
	typ, ok := NormalizeType(d.Type)
	if !ok {
		return internal.Incident{}, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown incident type %q", d.Type)}
	}
	date := strings.TrimSpace(d.Date)
	if _, err := time.Parse(dateLayout, date); err != nil {
		return internal.Incident{}, &ValidationError{Field: "incident_date", Reason: fmt.Sprintf("%q is not a valid YYYY-MM-DD date", d.Date)}
	}
	clock := strings.TrimSpace(d.Time)
	if _, err := time.Parse(clockLayout, clock); err != nil || len(clock) != len(clockLayout) {
		return internal.Incident{}, &ValidationError{Field: "incident_time", Reason: fmt.Sprintf("%q is not a valid HH:MM time", d.Time)}
	}

	locationID, err := s.resolveLocation(ctx, d)
	if err != nil {
		return internal.Incident{}, err
	}
	return internal.Incident{
		Type:         typ,
		IncidentDate: date,
		IncidentTime: clock,
		LocationID:   locationID,
		EmailID:      d.EmailID,
		EmailData:    d.EmailData,
		Status:       internal.IncidentPending,
	}, nil
}

// Submit validates and stores a draft with status pending.
func (s *Service) Submit(ctx context.Context, d Draft) (internal.Incident, error) {
	inc, err := s.Validate(ctx, d)
	if err != nil {
		return internal.Incident{}, err
	}
	stored, err := s.db.InsertIncident(ctx, inc)
	if err != nil {
		return internal.Incident{}, fmt.Errorf("store incident: %w", err)
	}
	s.logger.Info("incident submitted",
		zap.Int("id", stored.ID),
		zap.String("type", stored.Type),
		zap.String("date", stored.IncidentDate),
		zap.Intp("location_id", stored.LocationID))
	return stored, nil
}

func (s *Service) Get(ctx context.Context, id int) (internal.Incident, error) {
	inc, err := s.db.GetIncident(ctx, id)
	if err != nil {
		return internal.Incident{}, err
	}
	if inc == nil {
		return internal.Incident{}, fmt.Errorf("incident %d: %w", id, ErrNotFound)
	}
	return *inc, nil
}

func (s *Service) List(ctx context.Context, f storage.IncidentFilter) ([]internal.Incident, error) {
	return s.db.ListIncidents(ctx, f)
}

func (s *Service) UpdateStatus(ctx context.Context, id int, status internal.IncidentStatus) error {
	switch status {
	case internal.IncidentPending, internal.IncidentInReview, internal.IncidentCompleted, internal.IncidentRejected:
	default:
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}
	err := s.db.UpdateIncidentStatus(ctx, id, status)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("incident %d: %w", id, ErrNotFound)
	}
	return err
}

func (s *Service) resolveLocation(ctx context.Context, d Draft) (*int, error) {
	if d.LocationID == nil && strings.TrimSpace(d.LocationName) == "" {
		return nil, nil
	}
	if s.cache == nil {
		return nil, &ValidationError{Field: "location", Reason: "no location directory configured"}
	}
	records, err := s.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	idx := locations.BuildIndex(records)

	if d.LocationID != nil {
		if _, ok := idx.Get(*d.LocationID); !ok {
			return nil, &ValidationError{Field: "location_id", Reason: fmt.Sprintf("unknown location %d", *d.LocationID)}
		}
		id := *d.LocationID
		return &id, nil
	}
	rec, ok := idx.FindByName(d.LocationName)
	if !ok {
		return nil, &ValidationError{Field: "location", Reason: fmt.Sprintf("unknown or ambiguous location %q", d.LocationName)}
	}
	return util.IntPtr(rec.ID), nil
}
