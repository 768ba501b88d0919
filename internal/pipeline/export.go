package pipeline

import (
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"meldung/internal"
	"meldung/internal/util"
)

func ExportIncidentsToXLSX(rows []internal.IncidentExportRow, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	headers := []string{
		"incident_id", "type", "incident_date", "incident_time", "status", "created_at",
		"location_id", "location_name", "city", "state", "confidence",
		"email_subject", "email_sender",
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, row := range rows {
		r := i + 2
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(sheet, cell, value)
		}

		set(1, row.IncidentID)
		set(2, row.Type)
		set(3, row.IncidentDate)
		set(4, row.IncidentTime)
		set(5, row.Status)
		set(6, row.CreatedAt)
		set(7, derefInt(row.LocationID))
		set(8, util.DerefString(row.LocationName))
		set(9, util.DerefString(row.City))
		set(10, util.DerefString(row.State))
		set(11, derefFloat(row.Confidence))
		set(12, util.DerefString(row.EmailSubject))
		set(13, util.DerefString(row.EmailSender))
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}

func derefFloat(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}

func derefInt(v *int) any {
	if v == nil {
		return ""
	}
	return *v
}
