package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/Cover/internal/anomaly"
	"github.com/MikeSquared-Agency/Cover/internal/eligibility"
	"github.com/MikeSquared-Agency/Cover/internal/features"
)

func scoreCmd(a *app) *cobra.Command {
	var snapshotPath, modelPath string
	var abnormalOnly bool
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score every eligible pair of a snapshot with the abnormality model",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := loadSnapshot(snapshotPath, a.cfg.Backend.DistanceCutoff)
			if err != nil {
				return err
			}
			scorer, err := loadScorer(modelPath)
			if err != nil {
				return err
			}

			elig := eligibility.Filter(snap, a.logger)
			cache := features.Build(snap, elig, nil)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "EMPLOYEE\tCLIENT\tDISTANCE_KM\tSCORE\tVERDICT")
			for k := 0; k < cache.Len(); k++ {
				p := cache.Pair(k)
				f := cache.Get(k)
				verdict := scorer.Predict(f)
				if abnormalOnly && verdict != anomaly.Abnormal {
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%.2f\t%.4f\t%s\n",
					snap.Employees[p.Employee].ID, snap.Clients[p.Client].ID,
					f.TravelTime/1000, scorer.Score(f), verdict)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&snapshotPath, "snapshot", "s", "", "snapshot JSON file")
	cmd.Flags().StringVarP(&modelPath, "model", "m", "", "abnormality model")
	cmd.Flags().BoolVar(&abnormalOnly, "abnormal-only", false, "print only pairs flagged abnormal")
	_ = cmd.MarkFlagRequired("snapshot")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}
