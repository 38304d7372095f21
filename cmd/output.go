package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/contactbook/internal/model"
)

// writeStructured encodes v as JSON or YAML. It reports false for the table
// format so the caller can render its own table.
func writeStructured(out io.Writer, format string, v any) (bool, error) {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, eris.Wrap(err, "encode yaml")
		}
		return true, enc.Close()
	case "", "table":
		return false, nil
	default:
		return true, eris.Errorf("unsupported output format %q (want table, json or yaml)", format)
	}
}

// formatContacts writes a tabular list of contacts to out.
func formatContacts(out io.Writer, contacts []model.Contact) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tREMOTE_ID\tFIRST\tLAST\tEMAIL\tDESCRIPTION")
	for _, c := range contacts {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			c.ID,
			dash(c.RemoteID),
			dash(c.FirstName),
			dash(c.LastName),
			dash(c.Email),
			dash(clip(c.Description, 40)),
		)
	}
	_ = w.Flush()
}

// formatRemoteContacts writes a tabular list of CRM records to out.
func formatRemoteContacts(out io.Writer, contacts []model.RemoteContact) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "REMOTE_ID\tFIRST\tLAST\tEMAIL")
	for _, c := range contacts {
		first, _ := c.Fields.First(model.FieldFirstName)
		last, _ := c.Fields.First(model.FieldLastName)
		email, _ := c.Fields.First(model.FieldEmail)
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, dash(first), dash(last), dash(email))
	}
	_ = w.Flush()
}

// formatRunsList writes a tabular list of runs to out.
func formatRunsList(out io.Writer, runs []model.ReconcileRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tDURATION\tTOTAL\tENRICHED\tUPDATED\tERRORS\tERROR")
	for _, r := range runs {
		dur := "-"
		if r.FinishedAt != nil {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		total, enriched, updated, errs := "-", "-", "-", "-"
		if r.Report != nil {
			total = fmt.Sprint(r.Report.Total)
			enriched = fmt.Sprint(r.Report.Enriched)
			updated = fmt.Sprint(r.Report.Updated)
			errs = fmt.Sprint(r.Report.Errors)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(r.ID),
			r.Status,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			total, enriched, updated, errs,
			dash(clip(r.Error, 60)),
		)
	}
	_ = w.Flush()
}

// formatReport writes a reconcile report as aligned key/value lines.
func formatReport(out io.Writer, r *model.ReconcileReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total:\t%d\n", r.Total)
	_, _ = fmt.Fprintf(w, "Enriched:\t%d\n", r.Enriched)
	_, _ = fmt.Fprintf(w, "Not found:\t%d\n", r.NotFound)
	_, _ = fmt.Fprintf(w, "Ambiguous:\t%d\n", r.Ambiguous)
	_, _ = fmt.Fprintf(w, "Ambiguous (skipped):\t%d\n", r.AmbiguousSkip)
	_, _ = fmt.Fprintf(w, "Unreconcilable:\t%d\n", r.Unreconcilable)
	_, _ = fmt.Fprintf(w, "Errors:\t%d\n", r.Errors)
	_, _ = fmt.Fprintf(w, "Updated:\t%d\n", r.Updated)
	_, _ = fmt.Fprintf(w, "Duration:\t%s\n", time.Duration(r.DurationMs)*time.Millisecond)
	_ = w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func clip(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
