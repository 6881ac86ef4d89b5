package excel

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Enroller creates review states for (learner, item) pairs
type Enroller interface {
	Enroll(ctx context.Context, learnerID string, now time.Time, itemIDs ...string) error
}

// ImportConfig defines the enrollment import configuration
type ImportConfig struct {
	FilePath      string // Path to the Excel or CSV file
	LearnerColumn string // Column with the learner id
	ItemColumn    string // Column with the item id
	SheetName     string // Name of the sheet to import
	StartRow      int    // The row to start importing from (1-based index)
}

// DefaultImportConfig returns the default import configuration
func DefaultImportConfig() ImportConfig {
	return ImportConfig{
		LearnerColumn: "A",
		ItemColumn:    "B",
		SheetName:     "Sheet1",
		StartRow:      2, // By default, start from the second row (skip header)
	}
}

// ImportResult holds the result of an import operation
type ImportResult struct {
	TotalProcessed int
	Enrolled       int
	Skipped        int
	Errors         []string
}

// ImportEnrollments reads learner/item pairs from an Excel or CSV file and
// enrolls each of them. Rows that fail are reported and skipped.
func ImportEnrollments(ctx context.Context, config ImportConfig, enroller Enroller, now time.Time) (*ImportResult, error) {
	rows, err := readRows(config)
	if err != nil {
		return nil, err
	}

	learnerIdx := columnToIndex(config.LearnerColumn)
	itemIdx := columnToIndex(config.ItemColumn)
	result := &ImportResult{Errors: make([]string, 0)}

	for i, row := range rows {
		// Skip header rows
		if i < config.StartRow-1 {
			continue
		}
		result.TotalProcessed++

		learner, item := cell(row, learnerIdx), cell(row, itemIdx)
		if learner == "" || item == "" {
			result.Skipped++
			continue
		}
		if err := enroller.Enroll(ctx, learner, now, item); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d: %v", i+1, err))
			continue
		}
		result.Enrolled++
	}
	return result, nil
}

func readRows(config ImportConfig) ([][]string, error) {
	if strings.ToLower(filepath.Ext(config.FilePath)) == ".csv" {
		return readCSV(config.FilePath)
	}

	f, err := excelize.OpenFile(config.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(config.SheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}
	return rows, nil
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 // Allow variable number of fields

	var rows [][]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading CSV: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// columnToIndex converts a column letter (A, B, ..., AA) to a 0-based index
func columnToIndex(column string) int {
	n, err := excelize.ColumnNameToNumber(strings.ToUpper(strings.TrimSpace(column)))
	if err != nil {
		return -1
	}
	return n - 1
}
