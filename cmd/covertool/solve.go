package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/Cover/internal/anomaly"
	"github.com/MikeSquared-Agency/Cover/internal/engine"
	"github.com/MikeSquared-Agency/Cover/internal/objective"
	"github.com/MikeSquared-Agency/Cover/internal/roster"
	"github.com/MikeSquared-Agency/Cover/internal/solver"
)

type suggestionOut struct {
	EmployeeID       string   `json:"employee_id"`
	ClientID         string   `json:"client_id"`
	RecommendationID string   `json:"recommendation_id"`
	Short            string   `json:"short"`
	Lines            []string `json:"lines"`
	Verdict          string   `json:"verdict,omitempty"`
	Score            *float64 `json:"score,omitempty"`
}

type solveOut struct {
	*engine.Outcome
	Suggestions [][]suggestionOut `json:"suggestions"`
}

func solveCmd(a *app) *cobra.Command {
	var snapshotPath, modelPath string
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Run one cycle on a snapshot file and print the plans as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := loadSnapshot(snapshotPath, a.cfg.Backend.DistanceCutoff)
			if err != nil {
				return err
			}
			scorer, err := loadScorer(modelPath)
			if err != nil {
				return err
			}

			c := a.cfg.Cycle
			eng, err := engine.New(&solver.BranchAndBound{MaxNodes: c.MaxNodes, RelativeGap: c.RelativeGap}, scorer, engine.Options{
				Weights:          objective.Weights(a.cfg.Objective.Weights),
				Iterations:       c.Iterations,
				Ratchet:          c.Ratchet,
				PreserveCoverage: c.PreserveCoverage,
				SolveTimeout:     a.cfg.SolveTimeout(),
			}, a.logger)
			if err != nil {
				return err
			}

			out, err := eng.Run(cmd.Context(), snap)
			if err != nil {
				return err
			}

			res := solveOut{Outcome: out, Suggestions: make([][]suggestionOut, 0, len(out.Groups))}
			for _, g := range out.Groups {
				row := make([]suggestionOut, 0, len(g))
				for _, s := range g {
					ex := out.Explain(s)
					so := suggestionOut{
						EmployeeID:       s.EmployeeID,
						ClientID:         s.ClientID,
						RecommendationID: s.RecommendationID,
						Short:            ex.Short,
						Lines:            ex.Lines,
					}
					if v, ok := out.Verdicts[engine.PairKey(s.EmployeeID, s.ClientID)]; ok {
						score := v.Score
						so.Verdict = string(v.Verdict)
						so.Score = &score
					}
					row = append(row, so)
				}
				res.Suggestions = append(res.Suggestions, row)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVarP(&snapshotPath, "snapshot", "s", "", "snapshot JSON file")
	cmd.Flags().StringVarP(&modelPath, "model", "m", "", "abnormality model; omitted disables the abnormality term")
	_ = cmd.MarkFlagRequired("snapshot")
	return cmd
}

func loadSnapshot(path string, cutoff float64) (*roster.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap roster.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	for i := range snap.Employees {
		snap.Employees[i].CommuteTime = roster.TrimCommute(snap.Employees[i].CommuteTime, cutoff)
	}
	return &snap, nil
}

// loadScorer returns a nil scorer for an empty path.
func loadScorer(path string) (anomaly.Scorer, error) {
	if path == "" {
		return nil, nil
	}
	m, err := anomaly.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return m, nil
}
