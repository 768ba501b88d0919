package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"meldung/internal"
)

// IncidentFilter narrows ListIncidents. Zero values match everything.
type IncidentFilter struct {
	Status     internal.IncidentStatus
	LocationID *int
	Limit      int
	Offset     int
}

const incidentColumns = `id, type, incidentDate, incidentTime, locationId, emailId, emailData, status, createdAt`

func scanIncident(s interface{ Scan(...any) error }) (internal.Incident, error) {
	var inc internal.Incident
	var status string
	err := s.Scan(&inc.ID, &inc.Type, &inc.IncidentDate, &inc.IncidentTime, &inc.LocationID, &inc.EmailID, &inc.EmailData, &status, &inc.CreatedAt)
	inc.Status = internal.IncidentStatus(status)
	return inc, err
}

func (d *DB) InsertIncident(ctx context.Context, inc internal.Incident) (internal.Incident, error) {
	if inc.Status == "" {
		inc.Status = internal.IncidentPending
	}
	result, err := d.conn.ExecContext(ctx, `
INSERT INTO incidents (type, incidentDate, incidentTime, locationId, emailId, emailData, status)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, inc.Type, inc.IncidentDate, inc.IncidentTime, inc.LocationID, inc.EmailID, inc.EmailData, string(inc.Status))
	if err != nil {
		return internal.Incident{}, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return internal.Incident{}, err
	}
	stored, err := d.GetIncident(ctx, int(id))
	if err != nil {
		return internal.Incident{}, err
	}
	if stored == nil {
		return internal.Incident{}, fmt.Errorf("incident %d: %w", id, ErrNotFound)
	}
	return *stored, nil
}

func (d *DB) GetIncident(ctx context.Context, id int) (*internal.Incident, error) {
	inc, err := scanIncident(d.conn.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

// GetIncidentByEmail returns the incident created from a mailbox message, if any.
func (d *DB) GetIncidentByEmail(ctx context.Context, emailID int) (*internal.Incident, error) {
	inc, err := scanIncident(d.conn.QueryRowContext(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE emailId = ? ORDER BY id DESC LIMIT 1`, emailID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

func (d *DB) ListIncidents(ctx context.Context, f IncidentFilter) ([]internal.Incident, error) {
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.LocationID != nil {
		where = append(where, "locationId = ?")
		args = append(args, *f.LocationID)
	}

	query := `SELECT ` + incidentColumns + ` FROM incidents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"
	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]internal.Incident, 0)
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

func (d *DB) UpdateIncidentStatus(ctx context.Context, id int, status internal.IncidentStatus) error {
	result, err := d.conn.ExecContext(ctx,
		`UPDATE incidents SET status = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, string(status), id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("incident %d: %w", id, ErrNotFound)
	}
	return nil
}

const exportSelect = `
SELECT
  i.id,
  i.type,
  i.incidentDate,
  i.incidentTime,
  i.status,
  i.createdAt,
  i.locationId,
  l.name,
  l.city,
  l.state,
  x.confidence,
  e.subject,
  e.sender
FROM incidents i
LEFT JOIN locations l ON l.id = i.locationId
LEFT JOIN emails e ON e.id = i.emailId
LEFT JOIN extractions x ON x.emailId = i.emailId
`

const exportOrder = `ORDER BY
  CASE i.status WHEN 'pending' THEN 1 WHEN 'in_review' THEN 2 ELSE 3 END,
  i.id ASC`

// GetExportRows joins incidents with their location, source email and
// extraction confidence. Pending incidents come first.
func (d *DB) GetExportRows(ctx context.Context, status internal.IncidentStatus) ([]internal.IncidentExportRow, error) {
	query := exportSelect
	var args []any
	if status != "" {
		query += "WHERE i.status = ?\n"
		args = append(args, string(status))
	}
	return d.queryExportRows(ctx, query+exportOrder, args...)
}

// GetExportRowsForEmails is GetExportRows limited to incidents created from
// the given emails.
func (d *DB) GetExportRowsForEmails(ctx context.Context, emailIDs []int) ([]internal.IncidentExportRow, error) {
	if len(emailIDs) == 0 {
		return nil, nil
	}
	args := make([]any, len(emailIDs))
	for i, id := range emailIDs {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(emailIDs)), ",")
	query := exportSelect + "WHERE i.emailId IN (" + placeholders + ")\n" + exportOrder
	return d.queryExportRows(ctx, query, args...)
}

func (d *DB) queryExportRows(ctx context.Context, query string, args ...any) ([]internal.IncidentExportRow, error) {
	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.IncidentExportRow
	for rows.Next() {
		var row internal.IncidentExportRow
		if err := rows.Scan(
			&row.IncidentID,
			&row.Type,
			&row.IncidentDate,
			&row.IncidentTime,
			&row.Status,
			&row.CreatedAt,
			&row.LocationID,
			&row.LocationName,
			&row.City,
			&row.State,
			&row.Confidence,
			&row.EmailSubject,
			&row.EmailSender,
		); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
