package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/Cover/internal/anomaly"
	"github.com/MikeSquared-Agency/Cover/internal/features"
	"github.com/MikeSquared-Agency/Cover/internal/store"
)

func trainCmd(a *app) *cobra.Command {
	var (
		historyPath string
		databaseURL string
		sinceDays   int
		outPath     string
		opts        anomaly.Options
	)
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fit the abnormality model on past assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			var samples [][]float64
			switch {
			case historyPath != "":
				f, err := os.Open(historyPath)
				if err != nil {
					return err
				}
				defer f.Close()
				samples, err = readHistoryCSV(f)
				if err != nil {
					return fmt.Errorf("read %s: %w", historyPath, err)
				}
			case databaseURL != "":
				var err error
				samples, err = readHistoryDB(cmd.Context(), databaseURL, time.Now().AddDate(0, 0, -sinceDays))
				if err != nil {
					return err
				}
			default:
				return errors.New("one of --history or --database-url is required")
			}

			m, err := anomaly.Fit(samples, opts)
			if err != nil {
				return err
			}
			if err := anomaly.SaveFile(outPath, m); err != nil {
				return err
			}
			a.logger.Info("model trained", "samples", len(samples), "trees", len(m.Forest), "out", outPath)
			fmt.Fprintf(cmd.OutOrStdout(), "trained on %d samples, wrote %s\n", len(samples), outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&historyPath, "history", "", "CSV of past assignments with one column per feature")
	cmd.Flags().StringVar(&databaseURL, "database-url", "", "read assignment history from Postgres instead of a CSV")
	cmd.Flags().IntVar(&sinceDays, "since-days", 365, "history window when reading from Postgres")
	cmd.Flags().StringVarP(&outPath, "out", "o", "models/abnormality.zst", "model output path")
	cmd.Flags().IntVar(&opts.Trees, "trees", 100, "number of isolation trees")
	cmd.Flags().IntVar(&opts.SampleSize, "sample-size", 256, "subsample size per tree")
	cmd.Flags().Float64Var(&opts.Contamination, "contamination", 0, "expected outlier share, 0 for the fixed offset")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 42, "random seed")
	return cmd
}

// readHistoryCSV reads one sample per row. The header must name every
// feature; other columns are ignored. An empty availability gap reads as 0,
// any other empty feature drops the row.
func readHistoryCSV(r io.Reader) ([][]float64, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(h)] = i
	}
	cols := make([]int, len(features.Names))
	for k, name := range features.Names {
		i, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
		cols[k] = i
	}

	var samples [][]float64
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make([]float64, len(cols))
		complete := true
		for k, i := range cols {
			cell := strings.TrimSpace(rec[i])
			if cell == "" {
				if features.Names[k] != gapColumn {
					complete = false
				}
				continue
			}
			v, err := parseCell(cell)
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, features.Names[k], err)
			}
			row[k] = v
		}
		if complete {
			samples = append(samples, row)
		}
	}
	return samples, nil
}

const gapColumn = "availability_gap"

func parseCell(s string) (float64, error) {
	switch strings.ToLower(s) {
	case "true":
		return 1, nil
	case "false":
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func readHistoryDB(ctx context.Context, url string, since time.Time) ([][]float64, error) {
	db, err := store.NewPostgresStore(ctx, url)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	rows, err := db.ListAssignmentHistory(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("list assignment history: %w", err)
	}
	samples := make([][]float64, 0, len(rows))
	for _, r := range rows {
		samples = append(samples, r.Features.Vector())
	}
	return samples, nil
}
