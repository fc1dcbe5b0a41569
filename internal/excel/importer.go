// Package excel moves trackings and reminder history in and out of
// spreadsheets.
package excel

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/example/habitus/internal/reminders"
	"github.com/example/habitus/internal/trackings"
	"github.com/example/habitus/pkg/models"
	"github.com/xuri/excelize/v2"
)

// File formats accepted by ImportTrackings.
const (
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"
)

// ImportConfig defines the import configuration
type ImportConfig struct {
	QuestionColumn  string // Column with the question
	TypeColumn      string // Column with yes_no or register
	FrequencyColumn string // Column with the frequency, see ParseFrequency
	TimesColumn     string // Column with the times of day, "09:00, 18:30"
	IconColumn      string // Column with the icon
	NotesColumn     string // Column with the notes
	SheetName       string // Sheet to import, the first one when empty
	StartRow        int    // The row to start importing from (1-based index)
}

// DefaultImportConfig returns the default import configuration
func DefaultImportConfig() ImportConfig {
	return ImportConfig{
		QuestionColumn:  "A",
		TypeColumn:      "B",
		FrequencyColumn: "C",
		TimesColumn:     "D",
		IconColumn:      "E",
		NotesColumn:     "F",
		StartRow:        2, // By default, start from the second row (skip header)
	}
}

// ImportResult holds the result of an import operation
type ImportResult struct {
	TotalProcessed int      `json:"total_processed"`
	Created        int      `json:"created"`
	Skipped        int      `json:"skipped"`
	Errors         []string `json:"errors"`
}

// TrackingCreator creates validated trackings.
type TrackingCreator interface {
	Create(ctx context.Context, userID int64, in trackings.Input) (*models.Tracking, error)
}

// ImportTrackings creates a tracking for every row of an .xlsx or .csv file.
// Rows that fail validation are reported in the result and do not stop the
// import.
func ImportTrackings(ctx context.Context, r io.Reader, format string, userID int64, creator TrackingCreator, config ImportConfig) (*ImportResult, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case FormatCSV:
		rows, err = readCSV(r)
	case FormatXLSX, "":
		rows, err = readXLSX(r, config.SheetName)
	default:
		return nil, fmt.Errorf("unsupported import format %q", format)
	}
	if err != nil {
		return nil, err
	}

	cols, err := resolveColumns(config)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{Errors: make([]string, 0)}
	for i, row := range rows {
		// Skip header rows
		if i < config.StartRow-1 {
			continue
		}
		if blank(row) {
			continue
		}
		result.TotalProcessed++

		in, err := cols.input(row)
		if err == nil {
			_, err = creator.Create(ctx, userID, in)
		}
		if err != nil {
			var verr *reminders.ValidationError
			if !errors.As(err, &verr) {
				return result, fmt.Errorf("row %d: %w", i+1, err)
			}
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d: %s", i+1, verr.Message))
			continue
		}
		result.Created++
	}
	return result, nil
}

func readXLSX(r io.Reader, sheet string) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}
	return rows, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // Allow variable number of fields
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("error reading CSV: %w", err)
	}
	return rows, nil
}

type columns struct {
	question, typ, freq, times, icon, notes int
}

func resolveColumns(config ImportConfig) (columns, error) {
	var cols columns
	targets := []struct {
		name string
		dst  *int
	}{
		{config.QuestionColumn, &cols.question},
		{config.TypeColumn, &cols.typ},
		{config.FrequencyColumn, &cols.freq},
		{config.TimesColumn, &cols.times},
		{config.IconColumn, &cols.icon},
		{config.NotesColumn, &cols.notes},
	}
	for _, t := range targets {
		if t.name == "" {
			*t.dst = -1
			continue
		}
		n, err := excelize.ColumnNameToNumber(t.name)
		if err != nil {
			return columns{}, fmt.Errorf("invalid column %q: %w", t.name, err)
		}
		*t.dst = n - 1
	}
	return cols, nil
}

func (c columns) input(row []string) (trackings.Input, error) {
	cell := func(i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	p, err := ParseFrequency(cell(c.freq))
	if err != nil {
		return trackings.Input{}, reminders.Invalid(err.Error())
	}
	times, err := ParseTimes(cell(c.times))
	if err != nil {
		return trackings.Input{}, reminders.Invalid(err.Error())
	}
	return trackings.Input{
		Question:  cell(c.question),
		Type:      models.TrackingType(strings.ToLower(cell(c.typ))),
		Frequency: p,
		Schedules: times,
		Icon:      cell(c.icon),
		Notes:     cell(c.notes),
	}, nil
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
