package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/adverant/nexus/tableprocess-worker/internal/processor"
)

const summarySheet = "Summary"

// SheetName names a table's sheet; index is zero-based within its page
func SheetName(page, index int) string {
	return fmt.Sprintf("Page%d_Table%d", page, index+1)
}

// WriteXLSX writes a workbook with a summary sheet followed by one sheet per
// table, in the given order.
func WriteXLSX(path string, tables []processor.TableDescriptor) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("failed to name summary sheet: %w", err)
	}
	header := []interface{}{"Sheet", "Page", "Rows", "Columns", "Confidence"}
	if err := f.SetSheetRow(summarySheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write summary header: %w", err)
	}

	perPage := map[int]int{}
	for i, t := range tables {
		name := SheetName(t.Page, perPage[t.Page])
		perPage[t.Page]++

		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
		for r, row := range t.Cells {
			values := make([]interface{}, len(row))
			for c, text := range row {
				values[c] = text
			}
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(name, cell, &values); err != nil {
				return fmt.Errorf("failed to write %s row %d: %w", name, r+1, err)
			}
		}

		summary := []interface{}{name, t.Page, t.RowCount, t.ColumnCount, t.Confidence}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(summarySheet, cell, &summary); err != nil {
			return fmt.Errorf("failed to write summary row: %w", err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}
