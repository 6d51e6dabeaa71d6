package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/chairwatch/internal/domain"
	"github.com/ashureev/chairwatch/internal/eventlog"
	"github.com/ashureev/chairwatch/internal/sensor"
	"github.com/ashureev/chairwatch/internal/store"
)

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify [reading.json]",
		Short: "Classify a sensor reading read from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				in = f
			}
			data, err := io.ReadAll(in)
			if err != nil {
				return err
			}
			reading, err := domain.DecodeReading(data)
			if err != nil {
				return err
			}
			return writeClassification(cmd.OutOrStdout(), &reading)
		},
	}
}

type classification struct {
	State    domain.ChairState    `json:"state"`
	Position string               `json:"position"`
	Warning  string               `json:"warning,omitempty"`
	Error    string               `json:"error,omitempty"`
	Pressure []sensor.PadPressure `json:"pressure,omitempty"`
}

func writeClassification(w io.Writer, r *domain.Reading) error {
	c, err := sensor.Classify(r)
	out := classification{
		State:    c.State,
		Position: c.Position,
		Warning:  sensor.Warning(c.Position),
		Pressure: sensor.Pressure(r),
	}
	if err != nil {
		out.Error = err.Error()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func newReportCmd() *cobra.Command {
	var dbPath, driver string

	cmd := &cobra.Command{
		Use:   "report <chair-id> [date]",
		Short: "Print a chair's daily report (today when date is omitted)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig("", dbPath, driver)
			if err != nil {
				return err
			}
			repo, err := store.Open(cfg.StoreDriver, cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			events := eventlog.NewWriter(repo, cfg.Location, cfg.StoreWriteTimeout, nil)
			date := events.DateKey(time.Now())
			if len(args) == 2 {
				date = args[1]
			}
			return printReport(cmd.Context(), cmd.OutOrStdout(), events, args[0], date)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (overrides DB_PATH)")
	cmd.Flags().StringVar(&driver, "store", "", "store driver: sqlite|memory (overrides STORE_DRIVER)")
	return cmd
}

func printReport(ctx context.Context, w io.Writer, events *eventlog.Writer, chairID, date string) error {
	if !store.ValidDateKey(date) {
		return fmt.Errorf("%w: %q", store.ErrInvalidDateKey, date)
	}
	report, err := events.Report(ctx, chairID, date)
	if err != nil {
		return err
	}
	if report == nil {
		_, err := fmt.Fprintf(w, "No report for %s on %s\n", chairID, date)
		return err
	}

	stats := eventlog.Stats(report.Events)
	_, _ = fmt.Fprintf(w, "Chair %s, %s\n", chairID, report.DateKey)
	_, _ = fmt.Fprintf(w, "Total sitting: %s\n", eventlog.FormatDuration(report.Summary.TotalMinutes))
	_, _ = fmt.Fprintf(w, "Sessions: %d  Position changes: %d  Hydration reminders: %d  Task cycles: %d\n",
		stats.Sessions, stats.PositionChanges, stats.HydrationReminders, stats.TaskCycles)
	for _, ev := range report.Events {
		if _, err := fmt.Fprintf(w, "  %s  %s\n", ev.Timestamp.Format("15:04:05"), eventlog.Describe(ev)); err != nil {
			return err
		}
	}
	return nil
}
