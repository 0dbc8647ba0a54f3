// Package cli provides output helpers for the matcher command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/referwell/matcher/internal/indexer"
	"github.com/referwell/matcher/internal/models"
	"github.com/referwell/matcher/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat returns the format named by s.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (supported: text, json)", s)
	}
}

// WriteMatchResult writes a match result to w in the given format.
func WriteMatchResult(w io.Writer, result *models.MatchResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, result)
	}
	writeMatchResultText(w, result)
	return nil
}

// WriteReindexStats writes reindex counters to w in the given format.
func WriteReindexStats(w io.Writer, stats *indexer.Stats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, stats)
	}
	fmt.Fprintf(w, "Reindexed %d candidates: %d updated, %d skipped, %d failed\n",
		stats.Total, stats.Updated, stats.Skipped, stats.Failed)
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeMatchResultText(w io.Writer, result *models.MatchResult) {
	d := result.Decision
	if d == nil {
		fmt.Fprintln(w, "No decision")
		return
	}
	fmt.Fprintf(w, "\nReferral %s: %s (threshold %.2f", d.ReferralID, d.Kind, d.Threshold)
	if d.Urgency != "" {
		fmt.Fprintf(w, ", urgency %s", d.Urgency)
	}
	fmt.Fprintln(w, ")")
	fmt.Fprintf(w, "Decision: %s\n", d.ID)
	fmt.Fprintf(w, "Pool: %s | Calibration: %s\n", result.PoolVersion, result.CalibrationVersion)
	for _, c := range result.Degraded {
		fmt.Fprintf(w, "Degraded: %s (%s)\n", c.Component, c.Reason)
	}
	if len(d.CandidateIDs) > 0 {
		fmt.Fprintf(w, "Candidates: %s\n", strings.Join(d.CandidateIDs, ", "))
	}
	if len(result.Matches) == 0 {
		fmt.Fprintln(w, "\nNo eligible candidates")
		return
	}

	explanations := make(map[string]models.Explanation, len(result.Explanations))
	for _, e := range result.Explanations {
		explanations[e.CandidateID] = e
	}
	fmt.Fprintln(w)
	for i, m := range result.Matches {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | %s | Probability: %.4f (Reranked: %.4f)\n", i+1, m.CandidateID, m.Probability, m.Reranked)
		e, ok := explanations[m.CandidateID]
		if !ok {
			continue
		}
		if len(e.Dominant) > 0 {
			fmt.Fprintf(w, "Dominant: %s\n", strings.Join(e.Dominant, ", "))
		}
		for _, f := range e.Factors {
			fmt.Fprintf(w, "  %-24s %8.4f  %s\n", f.Name, f.Contribution, utils.Truncate(f.Note, 80))
		}
	}
	fmt.Fprintln(w)
}
