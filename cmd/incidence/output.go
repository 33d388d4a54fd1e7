package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samirrijal/geoincidence/internal/core/domain"
	"github.com/samirrijal/geoincidence/internal/registry"
	"github.com/samirrijal/geoincidence/internal/workflows"
)

// Number of attributes shown per intersecting layer in the table.
const previewFields = 3

func progressPrinter(w io.Writer) func(domain.Progress) {
	return func(p domain.Progress) {
		if p.Last == nil {
			fmt.Fprintf(w, "[%d/%d] %s...\n", p.Done+1, p.Total, p.Current)
			return
		}
		fmt.Fprintf(w, "[%d/%d] %s: %s (%d ms)\n", p.Done, p.Total, p.Last.LayerName, p.Last.Status, p.Last.ElapsedMS)
	}
}

func printReport(w io.Writer, r *domain.Report) error {
	fmt.Fprintf(w, "Point %.6f, %.6f -> %s %.3f, %.3f\n\n",
		r.Input.Lat, r.Input.Lon, r.Projected.CRS, r.Projected.X, r.Projected.Y)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tLAYER\tSTATUS\tTIME\tDETAILS")
	for i, o := range r.Outcomes {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%dms\t%s\n", i+1, o.LayerName, o.Status, o.ElapsedMS, details(o))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	s := r.Summary
	fmt.Fprintf(w, "\n%d services: %d intersecting, %d clear, %d failed (%s)\n",
		s.Total, s.Intersecting, s.Clear, s.Failed, r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond))
	return nil
}

func details(o domain.QueryOutcome) string {
	switch o.Status {
	case domain.StatusFailed:
		return o.Error
	case domain.StatusIntersects:
		if o.Attributes == nil {
			return ""
		}
		fields := o.Attributes.Fields()
		parts := make([]string, 0, previewFields)
		for _, f := range fields {
			if len(parts) == previewFields {
				break
			}
			if f.Value.IsNull() {
				continue
			}
			parts = append(parts, f.Key+"="+f.Value.Text())
		}
		if len(fields) > len(parts) {
			parts = append(parts, fmt.Sprintf("(+%d)", len(fields)-len(parts)))
		}
		return strings.Join(parts, " ")
	}
	return ""
}

// printReportLine writes a one-line summary of a published report.
func printReportLine(w io.Writer, r *domain.Report) error {
	s := r.Summary
	_, err := fmt.Fprintf(w, "%s  %.6f,%.6f  %-10s  %d/%d intersecting  %d failed\n",
		r.CompletedAt.Format("2006-01-02 15:04:05"), r.Input.Lat, r.Input.Lon, r.Result(), s.Intersecting, s.Total, s.Failed)
	return err
}

func printServices(w io.Writer, services []registry.PublicService) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tKIND\tAUTH\tURL")
	for i, s := range services {
		auth := ""
		if s.RequiresAuth {
			auth = "yes"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i+1, s.Name, s.Kind, auth, s.URL)
	}
	return tw.Flush()
}

func printBatch(w io.Writer, result workflows.BatchResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRESULT\tINTERSECTING\tFAILED")
	for _, p := range result.Results {
		if p.Report == nil {
			fmt.Fprintf(tw, "%s\terror\t-\t-\t%s\n", p.ID, p.Error)
			continue
		}
		s := p.Report.Summary
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", p.ID, p.Report.Result(), s.Intersecting, s.Failed)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d points: %d intersecting, %d failed\n", len(result.Results), result.Intersecting, result.Failed)
	return nil
}
