package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/airsense-india/airsense/src/api/config"
	"github.com/airsense-india/airsense/src/api/data"
	"github.com/airsense-india/airsense/src/aqi"
	"github.com/airsense-india/airsense/src/core"
)

func withApp(cmd *cobra.Command, opts *rootOptions, fn func(a *app) error) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	a, err := openApp(cmd.Context(), cfg, opts.logger)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				db, err := a.requireDB()
				if err != nil {
					return err
				}
				if err := data.Migrate(db, reset, a.log); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "Drop every table before migrating")
	return cmd
}

func newSeedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the sample policy set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				if a.db != nil {
					if err := data.Migrate(a.db, false, a.log); err != nil {
						return err
					}
				}
				n, err := data.Seed(cmd.Context(), a.store)
				if err != nil {
					return err
				}
				a.log.Info("seeded policies", zap.Int("inserted", n))
				fmt.Fprintf(cmd.OutOrStdout(), "inserted %d policies\n", n)
				return nil
			})
		},
	}
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print system-wide totals as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				counts, err := a.query().Stats(cmd.Context())
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(counts)
			})
		},
	}
}

func newIngestCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [file]",
		Short: "Store AQI readings from a JSON array (stdin when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			readings, err := decodeReadings(in)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(a *app) error {
				db, err := a.requireDB()
				if err != nil {
					return err
				}
				store := data.NewStore(db)
				for i := range readings {
					if err := store.InsertReading(cmd.Context(), &readings[i]); err != nil {
						return fmt.Errorf("reading %d: %w", i, err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored %d readings\n", len(readings))
				return nil
			})
		},
	}
}

func decodeReadings(r io.Reader) ([]core.AQIReading, error) {
	var readings []core.AQIReading
	if err := json.NewDecoder(r).Decode(&readings); err != nil {
		return nil, &core.ValidationError{Field: "readings", Reason: err.Error()}
	}
	for i, rd := range readings {
		if rd.City == "" {
			return nil, &core.ValidationError{Field: "city", Reason: fmt.Sprintf("reading %d has no city", i)}
		}
		if _, err := aqi.Classify(rd.AQI); err != nil {
			return nil, err
		}
		if rd.Timestamp.IsZero() {
			return nil, &core.ValidationError{Field: "timestamp", Reason: fmt.Sprintf("reading %d has no timestamp", i)}
		}
	}
	return readings, nil
}
