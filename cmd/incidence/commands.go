package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	natsadapter "github.com/samirrijal/geoincidence/internal/adapters/nats"
	"github.com/samirrijal/geoincidence/internal/core/domain"
	"github.com/samirrijal/geoincidence/internal/pkg/geospatial"
	"github.com/samirrijal/geoincidence/internal/registry"
	"github.com/samirrijal/geoincidence/internal/workflows"
)

func newQueryCmd(app *cliApp) *cobra.Command {
	var (
		lat, lon string
		asJSON   bool
		quiet    bool
		publish  bool
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a query round for a latitude/longitude pair",
		Example: `  incidence query --lat -15.886986 --lon -47.984292
  incidence query --lat "-15,886986" --lon "-47,984292" --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			stack, err := app.buildStack(publish)
			if err != nil {
				return err
			}

			var onProgress func(domain.Progress)
			if !quiet {
				onProgress = progressPrinter(cmd.ErrOrStderr())
			}

			report, err := stack.Incidence.Run(cmd.Context(), lat, lon, onProgress)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			return printReport(out, report)
		},
	}

	cmd.Flags().StringVar(&lat, "lat", "", "latitude in decimal degrees (a decimal comma is accepted)")
	cmd.Flags().StringVar(&lon, "lon", "", "longitude in decimal degrees (a decimal comma is accepted)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print progress")
	cmd.Flags().BoolVar(&publish, "publish", false, "publish the report to NATS when enabled in config")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	return cmd
}

func newServicesCmd(app *cliApp) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "services",
		Short: "List the services checked by each round, in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.Load(app.cfg.Registry.Path)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(reg.Public())
			}
			return printServices(cmd.OutOrStdout(), reg.Public())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newTransformCmd() *cobra.Command {
	var (
		x, y     string
		from, to string
	)

	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Convert a coordinate between EPSG:4326 and EPSG:31983",
		Example: `  incidence transform -x -47.984292 -y -15.886986
  incidence transform -x 180403.357 -y 8241285.645 --from 31983 --to 4326`,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := domain.ParseCRS(from)
			if err != nil {
				return err
			}
			dst, err := domain.ParseCRS(to)
			if err != nil {
				return err
			}
			in, err := domain.ParseCoordinate(x, y, src)
			if err != nil {
				return err
			}
			out, err := geospatial.NewTransformer().Transform(in, dst)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%.3f\t%.3f\n", in.CRS, in.X, in.Y)
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%.3f\t%.3f\n", out.CRS, out.X, out.Y)
			return nil
		},
	}

	cmd.Flags().StringVarP(&x, "x", "x", "", "easting, or longitude for EPSG:4326")
	cmd.Flags().StringVarP(&y, "y", "y", "", "northing, or latitude for EPSG:4326")
	cmd.Flags().StringVar(&from, "from", domain.EPSG4326.String(), "source reference system")
	cmd.Flags().StringVar(&to, "to", domain.EPSG31983.String(), "target reference system")
	_ = cmd.MarkFlagRequired("x")
	_ = cmd.MarkFlagRequired("y")
	return cmd
}

func newWatchCmd(app *cliApp) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print reports published by other processes as they complete",
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, err := natsadapter.NewSubscriber(app.cfg.NATS.URL)
			if err != nil {
				return err
			}
			defer sub.Close()

			out := cmd.OutOrStdout()
			err = sub.SubscribeReports(cmd.Context(), func(ctx context.Context, r *domain.Report) error {
				return printReportLine(out, r)
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.ErrOrStderr(), "Watching for reports, Ctrl+C to stop")
			<-cmd.Context().Done()
			return nil
		},
	}
}

func newBatchCmd(app *cliApp) *cobra.Command {
	var (
		file   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run a round per point of a CSV file (id,lat,lon) on the batch worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			points, err := readPoints(file)
			if err != nil {
				return err
			}

			c, err := client.Dial(client.Options{HostPort: app.cfg.Temporal.HostPort})
			if err != nil {
				return fmt.Errorf("temporal client: %w", err)
			}
			defer c.Close()

			run, err := c.ExecuteWorkflow(cmd.Context(), client.StartWorkflowOptions{
				ID:        fmt.Sprintf("incidence-batch-%d", time.Now().UnixNano()),
				TaskQueue: app.cfg.Temporal.TaskQueue,
			}, workflows.BatchIncidenceWorkflow, points)
			if err != nil {
				return fmt.Errorf("start batch: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Started batch %s with %d points\n", run.GetID(), len(points))

			var result workflows.BatchResult
			if err := run.Get(cmd.Context(), &result); err != nil {
				return fmt.Errorf("batch %s: %w", run.GetID(), err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			return printBatch(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "CSV file with id,lat,lon rows; - reads stdin")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// readPoints parses id,lat,lon rows. A leading id,lat,lon header is skipped.
func readPoints(path string) ([]workflows.PointInput, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3
	cr.TrimLeadingSpace = true

	var points []workflows.PointInput
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read points: %w", err)
		}
		if line == 1 && strings.EqualFold(rec[1], "lat") {
			continue
		}
		points = append(points, workflows.PointInput{ID: rec[0], Lat: rec[1], Lon: rec[2]})
	}
	if len(points) == 0 {
		return nil, errors.New("no points in input")
	}
	return points, nil
}
