// Package report exports a learner's progress as a spreadsheet.
package report

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/fr-k12/internal/catalog"
	"github.com/p-n-ai/fr-k12/internal/progress"
)

// Sheet names of the progress workbook.
const (
	ProgressSheet = "Progress"
	SummarySheet  = "Summary"
)

// ContentType is the MIME type of the workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Build creates a workbook listing every lesson of the catalogue with the
// learner's percentage, and a per-grade summary of completed lessons and
// stars. Lessons recorded in progress but missing from the index are listed
// after the indexed ones with an empty title. The caller closes the file.
func Build(idx catalog.Index, db progress.Database) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", ProgressSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("naming progress sheet: %w", err)
	}
	if _, err := f.NewSheet(SummarySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("creating summary sheet: %w", err)
	}

	if err := writeProgress(f, idx, db); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeSummary(f, idx, db); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// Write builds the workbook and writes it to w.
func Write(w io.Writer, idx catalog.Index, db progress.Database) error {
	f, err := Build(idx, db)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func writeProgress(f *excelize.File, idx catalog.Index, db progress.Database) error {
	rows := [][]any{{"Grade", "Lesson", "Title", "Percent"}}
	for _, g := range idx.Grades {
		gp := db.Grade(g.ID)
		listed := make(map[string]bool)
		for _, m := range idx.Lessons[g.ID] {
			listed[m.ID] = true
			rows = append(rows, []any{g.ID, m.ID, m.Title, gp.Completed[m.ID]})
		}
		for _, id := range slices.Sorted(maps.Keys(gp.Completed)) {
			if !listed[id] {
				rows = append(rows, []any{g.ID, id, "", gp.Completed[id]})
			}
		}
	}
	if err := writeRows(f, ProgressSheet, rows); err != nil {
		return err
	}
	return f.SetColWidth(ProgressSheet, "B", "C", 28)
}

func writeSummary(f *excelize.File, idx catalog.Index, db progress.Database) error {
	rows := [][]any{{"Grade", "Label", "Completed", "Stars"}}
	for _, g := range idx.Grades {
		gp := db.Grade(g.ID)
		completed := 0
		for _, pct := range gp.Completed {
			if pct == 100 {
				completed++
			}
		}
		rows = append(rows, []any{g.ID, g.Label, completed, gp.Stars})
	}
	return writeRows(f, SummarySheet, rows)
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+1, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(rows[0]), 1)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, "A1", last, bold)
}
