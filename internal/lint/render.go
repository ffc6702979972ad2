package lint

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Render prints the report for humans. Each duplicate group becomes one
// table with the kept occurrence marked.
func (r *Report) Render(w io.Writer) {
	if r.Clean() {
		fmt.Fprintln(w, "✅ No duplicates or validation findings")
		return
	}

	// Headings go above their tables: a title wider than the table wraps
	// mid-word.
	if len(r.Validation) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleRounded)
		fmt.Fprintln(w, text.FgHiCyan.Sprint("Validation Findings"))
		t.AppendHeader(table.Row{"File", "Finding"})
		for _, f := range r.Validation {
			t.AppendRow(table.Row{f.File, f.Message})
		}
		t.Render()
	}

	if len(r.NameDuplicates) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleRounded)
		fmt.Fprintln(w, text.FgHiCyan.Sprint("Duplicate Names"))
		t.AppendHeader(table.Row{"File", "Finding"})
		for _, f := range r.NameDuplicates {
			t.AppendRow(table.Row{f.File, f.Message})
		}
		t.Render()
	}

	for _, g := range r.ContentGroups {
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleRounded)
		fmt.Fprintf(w, "Identical content %s\n", g.Fingerprint)
		t.AppendHeader(table.Row{"", "File", "Test"})
		for i, occ := range g.Occurrences {
			marker := "remove"
			if i == g.Keep {
				marker = "keep"
			}
			t.AppendRow(table.Row{marker, occ.File, occ.Test})
		}
		t.Render()
	}
}
