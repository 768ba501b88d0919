package locations

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"meldung/internal"
	"meldung/internal/util"
)

var requiredColumns = []string{"name", "city", "state"}

// MissingColumnError reports a required header absent from the sheet.
type MissingColumnError struct {
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("excel sheet must contain a %q column", e.Column)
}

// XLSXDirectory reads locations from an Excel workbook on disk every time it
// is listed; put a Cache in front of it.
type XLSXDirectory struct {
	Path string
}

func NewXLSXDirectory(path string) *XLSXDirectory {
	return &XLSXDirectory{Path: path}
}

func (d *XLSXDirectory) ListLocations(ctx context.Context) ([]internal.LocationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadLocationsXLSX(f)
}

// ReadLocationsXLSX parses the first sheet of a workbook. The header row
// needs name, city and state; id, postal_code and address are optional.
// Rows without a usable id are numbered after the highest id in the sheet.
func ReadLocationsXLSX(r io.Reader) ([]internal.LocationRecord, error) {
	blob, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f, err := excelize.OpenReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &MissingColumnError{Column: requiredColumns[0]}
	}

	cols := map[string]int{}
	for i, h := range rows[0] {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, dup := cols[key]; !dup && key != "" {
			cols[key] = i
		}
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, &MissingColumnError{Column: c}
		}
	}

	cell := func(row []string, col string) string {
		i, ok := cols[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	out := make([]internal.LocationRecord, 0, len(rows)-1)
	pending := make([]int, 0)
	usedIDs := map[int]struct{}{}
	maxID := 0
	for _, row := range rows[1:] {
		name := cell(row, "name")
		if name == "" {
			continue
		}
		rec := internal.LocationRecord{
			Name:  name,
			City:  cell(row, "city"),
			State: cell(row, "state"),
		}
		if v := cell(row, "postal_code"); v != "" {
			rec.PostalCode = util.StringPtr(strings.TrimSuffix(v, ".0"))
		}
		if v := cell(row, "address"); v != "" {
			rec.Address = util.StringPtr(v)
		}

		id, err := strconv.Atoi(strings.TrimSuffix(cell(row, "id"), ".0"))
		if _, dup := usedIDs[id]; err != nil || id <= 0 || dup {
			pending = append(pending, len(out))
		} else {
			rec.ID = id
			usedIDs[id] = struct{}{}
			if id > maxID {
				maxID = id
			}
		}
		out = append(out, rec)
	}
	for _, i := range pending {
		maxID++
		out[i].ID = maxID
	}
	return out, nil
}

// WriteLocationsXLSX is the inverse of ReadLocationsXLSX.
func WriteLocationsXLSX(w io.Writer, records []internal.LocationRecord) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	headers := []string{"id", "name", "city", "state", "postal_code", "address"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, rec := range records {
		r := i + 2
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(sheet, cell, value)
		}
		set(1, rec.ID)
		set(2, rec.Name)
		set(3, rec.City)
		set(4, rec.State)
		set(5, util.DerefString(rec.PostalCode))
		set(6, util.DerefString(rec.Address))
	}
	_, err := f.WriteTo(w)
	return err
}
