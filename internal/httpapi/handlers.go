package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"meldung/internal"
	"meldung/internal/incidents"
	"meldung/internal/locations"
	"meldung/internal/storage"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func (s *Server) handleListLocations(c echo.Context) error {
	records, err := s.cache.Get(c.Request().Context())
	if err != nil {
		s.logger.Error("list locations failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Standortverzeichnis nicht verfügbar")
	}
	if city := c.QueryParam("city"); city != "" {
		records = locations.BuildIndex(records).InCity(city)
	}
	if records == nil {
		records = []internal.LocationRecord{}
	}
	return c.JSON(http.StatusOK, records)
}

func (s *Server) handleGetLocation(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	records, err := s.cache.Get(c.Request().Context())
	if err != nil {
		s.logger.Error("get location failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Standortverzeichnis nicht verfügbar")
	}
	loc, ok := locations.BuildIndex(records).Get(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "Standort nicht gefunden")
	}
	return c.JSON(http.StatusOK, loc)
}

type ReloadResponse struct {
	Count int `json:"count"`
}

func (s *Server) handleReloadLocations(c echo.Context) error {
	if err := s.engine.ReloadLocations(c.Request().Context()); err != nil {
		s.logger.Error("reload locations failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "Standorte konnten nicht neu geladen werden")
	}
	records, err := s.cache.Get(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Standortverzeichnis nicht verfügbar")
	}
	return c.JSON(http.StatusOK, ReloadResponse{Count: len(records)})
}

type ImportResponse struct {
	Imported int `json:"imported"`
}

// handleImportLocations upserts the locations of an uploaded Excel sheet
// and reloads the cache.
func (s *Server) handleImportLocations(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field 'file' is required")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "uploaded file could not be opened")
	}
	defer f.Close()

	ctx := c.Request().Context()
	n, err := s.sync.ImportXLSX(ctx, f)
	var missing *locations.MissingColumnError
	switch {
	case errors.As(err, &missing):
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: missing.Error(), Field: missing.Column})
	case errors.Is(err, locations.ErrEmptyDirectory):
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: "Die Datei enthält keine Standorte"})
	case err != nil:
		s.logger.Warn("location import failed", zap.String("file", fh.Filename), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "Excel-Datei konnte nicht gelesen werden")
	}

	if err := s.engine.ReloadLocations(ctx); err != nil {
		s.logger.Warn("reload after import failed", zap.Error(err))
	}
	return c.JSON(http.StatusOK, ImportResponse{Imported: n})
}

// ParseResponse is an ExtractionResult plus the low confidence flag.
type ParseResponse struct {
	internal.ExtractionResult
	LowConfidence bool `json:"lowConfidence,omitempty"`
}

func (s *Server) handleParseEmail(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field 'file' is required")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "uploaded file could not be opened")
	}
	defer f.Close()

	res := s.engine.ParseEmailFile(c.Request().Context(), fh.Filename, f)
	s.metrics.ObserveExtraction(res)

	resp := ParseResponse{ExtractionResult: res}
	if res.Success && res.Confidence < s.config.LowConfidence {
		resp.LowConfidence = true
	}
	if !res.Success {
		return c.JSON(http.StatusUnprocessableEntity, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCreateIncident(c echo.Context) error {
	var draft incidents.Draft
	if err := c.Bind(&draft); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	// Incidents tied to stored emails come from the mail pipeline.
	draft.EmailID = nil

	inc, err := s.incidents.Submit(c.Request().Context(), draft)
	if err != nil {
		return s.incidentError(c, err)
	}
	return c.JSON(http.StatusCreated, inc)
}

func (s *Server) handleListIncidents(c echo.Context) error {
	f := storage.IncidentFilter{Status: internal.IncidentStatus(c.QueryParam("status"))}
	if v := c.QueryParam("location_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "location_id must be a number")
		}
		f.LocationID = &id
	}
	var err error
	if f.Limit, err = intQuery(c, "limit", 100); err != nil {
		return err
	}
	if f.Offset, err = intQuery(c, "offset", 0); err != nil {
		return err
	}

	list, err := s.incidents.List(c.Request().Context(), f)
	if err != nil {
		return s.incidentError(c, err)
	}
	if list == nil {
		list = []internal.Incident{}
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleGetIncident(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	inc, err := s.incidents.Get(c.Request().Context(), id)
	if err != nil {
		return s.incidentError(c, err)
	}
	return c.JSON(http.StatusOK, inc)
}

type StatusUpdate struct {
	Status internal.IncidentStatus `json:"status"`
}

func (s *Server) handleUpdateIncidentStatus(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req StatusUpdate
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	if err := s.incidents.UpdateStatus(ctx, id, req.Status); err != nil {
		return s.incidentError(c, err)
	}
	inc, err := s.incidents.Get(ctx, id)
	if err != nil {
		return s.incidentError(c, err)
	}
	return c.JSON(http.StatusOK, inc)
}

func (s *Server) incidentError(c echo.Context, err error) error {
	var verr *incidents.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: verr.Reason, Field: verr.Field})
	case errors.Is(err, incidents.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Vorfall nicht gefunden")
	default:
		s.logger.Error("incident request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

func pathID(c echo.Context) (int, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "id must be a positive number")
	}
	return id, nil
}

func intQuery(c echo.Context, name string, fallback int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be a non-negative number")
	}
	return n, nil
}
