package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/mapharness/internal/scenario"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	formatText = "text"
	formatJSON = "json"
)

type resultJSON struct {
	Scenario string `json:"scenario"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
	LeaseID  string `json:"lease_id,omitempty"`
}

type reportJSON struct {
	RunID    string       `json:"run_id"`
	Started  time.Time    `json:"started"`
	Duration string       `json:"duration"`
	Passed   int          `json:"passed"`
	Failed   int          `json:"failed"`
	Skipped  int          `json:"skipped"`
	Results  []resultJSON `json:"results"`
}

// writeReport renders rep as an aligned table or as indented JSON.
func writeReport(w io.Writer, rep *scenario.Report, format string) error {
	switch format {
	case formatText, "":
		return writeTextReport(w, rep)
	case formatJSON:
		return writeJSONReport(w, rep)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

func writeTextReport(w io.Writer, rep *scenario.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCENARIO\tSTATUS\tDURATION\tERROR")
	for _, res := range rep.Results {
		msg := ""
		if res.Err != nil {
			msg = res.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", res.Scenario, res.Status, res.Duration.Round(time.Millisecond), msg)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nrun %s: %d passed, %d failed, %d skipped in %s\n",
		rep.RunID,
		rep.Count(scenario.StatusPassed),
		rep.Count(scenario.StatusFailed),
		rep.Count(scenario.StatusSkipped),
		rep.Duration.Round(time.Millisecond),
	)
	return err
}

func writeJSONReport(w io.Writer, rep *scenario.Report) error {
	out := reportJSON{
		RunID:    rep.RunID,
		Started:  rep.Started,
		Duration: rep.Duration.String(),
		Passed:   rep.Count(scenario.StatusPassed),
		Failed:   rep.Count(scenario.StatusFailed),
		Skipped:  rep.Count(scenario.StatusSkipped),
		Results:  make([]resultJSON, 0, len(rep.Results)),
	}
	for _, res := range rep.Results {
		r := resultJSON{
			Scenario: res.Scenario,
			Status:   string(res.Status),
			Duration: res.Duration.String(),
			LeaseID:  res.LeaseID,
		}
		if res.Err != nil {
			r.Error = res.Err.Error()
		}
		out.Results = append(out.Results, r)
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize report to JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
