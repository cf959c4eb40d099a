package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/compozy/tutorrag/engine/knowledge"
	"github.com/compozy/tutorrag/engine/knowledge/ingest"
	"github.com/mattn/go-isatty"
)

const (
	formatAuto    = ""
	formatTable   = "table"
	formatJSON    = "json"
	snippetLength = 80
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func checkFormat(format string) error {
	if format != formatTable && format != formatJSON {
		return fmt.Errorf("unsupported format: %s", format)
	}
	return nil
}

// resolveFormat picks table output for interactive terminals and JSON for
// pipes and CI unless the user chose a format.
func resolveFormat(w io.Writer, format string) (string, error) {
	if format != formatAuto {
		return format, checkFormat(format)
	}
	if isTerminal(w) && os.Getenv("CI") == "" {
		return formatTable, nil
	}
	return formatJSON, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func writeResults(w io.Writer, format string, results []knowledge.Result) error {
	if format == formatJSON {
		return writeJSON(w, results)
	}
	if len(results) == 0 {
		_, err := fmt.Fprintln(w, knowledge.NoMaterialsMessage)
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tSCORE\tSOURCE\tHEADING\tTEXT")
	for i, r := range results {
		heading, _ := r.Metadata[knowledge.MetaHeading].(string)
		fmt.Fprintf(tw, "%d\t%.3f\t%s\t%s\t%s\n", i+1, r.Score, knowledge.SourceOf(r.Metadata), heading, snippet(r.Text))
	}
	return tw.Flush()
}

func writeReport(w io.Writer, format string, report *ingest.Report) error {
	if format == formatJSON {
		return writeJSON(w, report)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tSTATUS\tCHUNKS\tDETAIL")
	for _, r := range report.Succeeded {
		fmt.Fprintf(tw, "%s\tingested\t%d\t%s\n", r.File, r.Chunks, r.Duration)
	}
	for _, f := range report.Skipped {
		fmt.Fprintf(tw, "%s\tskipped\t-\tunsupported format\n", f)
	}
	for _, f := range report.Failed {
		fmt.Fprintf(tw, "%s\tfailed\t-\t%s\n", f.File, f.Error)
	}
	return tw.Flush()
}

func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= snippetLength {
		return text
	}
	return string(runes[:snippetLength-3]) + "..."
}
