package report

import (
	"math"
	"sort"
	"strings"

	"github.com/ogulcanaydogan/sweepctl/pkg/types"
)

// TrialRow is one line of the sweep leaderboard.
type TrialRow struct {
	Rank        int               `json:"rank,omitempty"`
	ID          string            `json:"id"`
	Status      types.TrialStatus `json:"status"`
	Value       *float64          `json:"value,omitempty"`
	Iterations  int               `json:"iterations"`
	Assignments string            `json:"assignments"`
	Error       string            `json:"error,omitempty"`
}

type SweepReport struct {
	Sweep  types.Sweep               `json:"sweep"`
	Total  int                       `json:"total"`
	Counts map[types.TrialStatus]int `json:"counts"`
	Best   *TrialRow                 `json:"best,omitempty"`
	Trials []TrialRow                `json:"trials"`
}

// BuildSweepReport ranks trials by final metric value under the sweep's
// goal. Finished and pruned trials are ranked; running and failed trials
// follow unranked in issue order.
func BuildSweepReport(sw types.Sweep, trials []types.Trial) SweepReport {
	r := SweepReport{Sweep: sw, Total: len(trials), Counts: map[types.TrialStatus]int{}}
	goal := sw.Spec.Metric.Goal
	var ranked, rest []TrialRow
	for _, t := range trials {
		r.Counts[t.Status]++
		row := TrialRow{
			ID:          t.ID,
			Status:      t.Status,
			Iterations:  t.Iterations(),
			Assignments: formatAssignments(t.Assignments),
			Error:       t.Error,
		}
		if v, ok := t.Final(); ok && !math.IsNaN(v) {
			row.Value = &v
		}
		if row.Value != nil && (t.Status == types.TrialFinished || t.Status == types.TrialPruned) {
			ranked = append(ranked, row)
			continue
		}
		rest = append(rest, row)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return goal.Better(*ranked[i].Value, *ranked[j].Value)
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	if len(ranked) > 0 {
		best := ranked[0]
		r.Best = &best
	}
	r.Trials = append(ranked, rest...)
	return r
}

func formatAssignments(a types.Assignments) string {
	parts := make([]string, 0, len(a))
	for _, v := range a {
		parts = append(parts, v.Name+"="+types.FormatValue(v.Value))
	}
	return strings.Join(parts, " ")
}
