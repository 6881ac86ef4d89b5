package excel

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/example/reviewengine/pkg/models"
)

const (
	StatesSheet  = "States"
	HistorySheet = "History"
)

var stateHeader = []string{
	"Learner", "Item", "State", "Ease", "Interval (days)", "Repetitions", "Lapses",
	"Due at", "Last reviewed", "Tombstoned", "Tombstoned at", "Version",
}

var historyHeader = []string{
	"Reviewed at", "Learner", "Item", "Session", "Grade",
	"State before", "State after", "Interval before", "Interval after", "Ease before", "Ease after",
}

// ExportResult holds the outcome of an export
type ExportResult struct {
	Path        string
	StateRows   int
	HistoryRows int
}

// ExportReviews writes review states (and, for xlsx, the review history) to
// path. The format is picked from the file extension: .csv or .xlsx.
func ExportReviews(path string, states []models.ReviewState, logs []models.ReviewLog) (*ExportResult, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".csv" {
		return exportToCSV(path, states)
	}
	if ext != ".xlsx" {
		return nil, fmt.Errorf("unsupported export format %q", ext)
	}
	return exportToExcel(path, states, logs)
}

func stateRow(s models.ReviewState) []string {
	return []string{
		s.LearnerID,
		s.ItemID,
		string(s.State),
		strconv.FormatFloat(s.EaseFactor, 'f', 2, 64),
		strconv.Itoa(s.IntervalDays),
		strconv.Itoa(s.RepetitionCount),
		strconv.Itoa(s.LapseCount),
		formatTime(&s.DueAt),
		formatTime(s.LastReviewedAt),
		strconv.FormatBool(s.Tombstoned),
		formatTime(s.TombstonedAt),
		strconv.FormatInt(s.Version, 10),
	}
}

func historyRow(l models.ReviewLog) []string {
	return []string{
		formatTime(&l.ReviewedAt),
		l.LearnerID,
		l.ItemID,
		l.SessionID,
		l.Grade.String(),
		string(l.StateBefore),
		string(l.StateAfter),
		strconv.Itoa(l.IntervalBefore),
		strconv.Itoa(l.IntervalAfter),
		strconv.FormatFloat(l.EaseBefore, 'f', 2, 64),
		strconv.FormatFloat(l.EaseAfter, 'f', 2, 64),
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// exportToExcel writes one sheet of states and one of history
func exportToExcel(path string, states []models.ReviewState, logs []models.ReviewLog) (*ExportResult, error) {
	f := excelize.NewFile()
	defer f.Close()

	// The default workbook starts with "Sheet1"; rename it instead of leaving it empty
	f.SetSheetName(f.GetSheetName(0), StatesSheet)
	if _, err := f.NewSheet(HistorySheet); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	if err := writeRows(f, StatesSheet, stateHeader, len(states), func(i int) []string { return stateRow(states[i]) }); err != nil {
		return nil, err
	}
	if err := writeRows(f, HistorySheet, historyHeader, len(logs), func(i int) []string { return historyRow(logs[i]) }); err != nil {
		return nil, err
	}

	if err := f.SaveAs(path); err != nil {
		return nil, fmt.Errorf("failed to save Excel file: %w", err)
	}
	return &ExportResult{Path: path, StateRows: len(states), HistoryRows: len(logs)}, nil
}

func writeRows(f *excelize.File, sheet string, header []string, n int, row func(int) []string) error {
	if err := setRow(f, sheet, 1, header); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := setRow(f, sheet, i+2, row(i)); err != nil {
			return err
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, rowNum int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("failed to write row %d of %s: %w", rowNum, sheet, err)
	}
	return nil
}

// exportToCSV writes the states only; csv has no room for a second table
func exportToCSV(path string, states []models.ReviewState) (*ExportResult, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(stateHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV: %w", err)
	}
	for _, s := range states {
		if err := w.Write(stateRow(s)); err != nil {
			return nil, fmt.Errorf("failed to write CSV: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to write CSV: %w", err)
	}
	return &ExportResult{Path: path, StateRows: len(states)}, nil
}
