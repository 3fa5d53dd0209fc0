package actions

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/vigilsec/sqlsweep/internal/types"
)

// RenderTable writes a formatted ASCII table of query results.
func RenderTable(w io.Writer, table *types.Table) {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)

	fmt.Fprintln(tw, strings.Join(table.Columns, "\t"))

	dashes := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		dashes[i] = strings.Repeat("-", len(col))
	}
	fmt.Fprintln(tw, strings.Join(dashes, "\t"))

	for _, row := range table.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	tw.Flush()
}
