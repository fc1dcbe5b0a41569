package excel

import (
	"fmt"
	"io"
	"time"

	"github.com/example/habitus/pkg/models"
	"github.com/xuri/excelize/v2"
)

// ExportSheet is the sheet written by ExportReminders.
const ExportSheet = "Sheet1"

var exportHeader = []interface{}{"Date", "Time", "Tracking", "Status", "Value", "Notes"}

// ExportReminders writes reminders as an .xlsx workbook, one row per
// reminder, with dates and times in loc. Reminders whose tracking is not in
// trackings are listed with an empty tracking name.
func ExportReminders(w io.Writer, list []models.Reminder, trackings map[int64]*models.Tracking, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetRow(ExportSheet, "A1", &exportHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	if err := f.SetCellStyle(ExportSheet, "A1", "F1", bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, r := range list {
		question := ""
		if t, ok := trackings[r.TrackingID]; ok && t != nil {
			question = t.Question
		}
		local := r.ScheduledTime.In(loc)
		row := []interface{}{
			local.Format("2006-01-02"),
			local.Format("15:04"),
			question,
			string(r.Status),
			deref(r.Value),
			deref(r.Notes),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(ExportSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetColWidth(ExportSheet, "C", "C", 40); err != nil {
		return err
	}
	if err := f.SetColWidth(ExportSheet, "F", "F", 60); err != nil {
		return err
	}
	return f.Write(w)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
