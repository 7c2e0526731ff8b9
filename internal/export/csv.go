package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/adverant/nexus/tableprocess-worker/internal/processor"
)

// WriteCSV writes one table's cell grid, one record per row
func WriteCSV(w io.Writer, table processor.TableDescriptor) error {
	cw := csv.NewWriter(w)
	for r, row := range table.Cells {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", r, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
