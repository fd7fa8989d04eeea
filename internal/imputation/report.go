package imputation

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/smukkama/flow-imputer/internal/database"
)

// Report is the outcome of one run
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Pairs      []PairResult
}

// Totals aggregates pair outcomes
type Totals struct {
	Pairs          int
	Succeeded      int
	Skipped        int
	Failed         int
	CamerasLoaded  int
	CamerasFailing int
	HoursEstimated int
	Inserted       int
	Updated        int
}

func (r *Report) Totals() Totals {
	t := Totals{Pairs: len(r.Pairs)}
	for _, p := range r.Pairs {
		switch p.Status {
		case database.RunStatusSuccess:
			t.Succeeded++
		case database.RunStatusFailed:
			t.Failed++
		default:
			t.Skipped++
		}
		t.CamerasLoaded += p.CamerasLoaded
		t.CamerasFailing += p.CamerasFailing
		t.HoursEstimated += p.HoursEstimated
		t.Inserted += p.Inserted
		t.Updated += p.Updated
	}
	return t
}

// HasFailures reports whether any pair failed
func (r *Report) HasFailures() bool {
	return r.Totals().Failed > 0
}

// Summary prints one status line per pair followed by the run totals
func (r *Report) Summary(w io.Writer) {
	fmt.Fprintf(w, "Imputation run %s\n", r.RunID)

	for _, p := range r.Pairs {
		switch p.Status {
		case database.RunStatusSuccess:
			fmt.Fprintf(w, "  ✓ %-30s %s  cameras=%d failing=%d hours=%d inserted=%d updated=%d\n",
				p.Pair, formatDate(p), p.CamerasLoaded, p.CamerasFailing, p.HoursEstimated, p.Inserted, p.Updated)
		case database.RunStatusFailed:
			fmt.Fprintf(w, "  ✗ %-30s %v\n", p.Pair, p.Err)
		default:
			fmt.Fprintf(w, "  - %-30s %s\n", p.Pair, p.Status)
		}
	}

	t := r.Totals()
	fmt.Fprintln(w, "\nSummary:")
	fmt.Fprintf(w, "  Client locations:   %d\n", t.Pairs)
	fmt.Fprintf(w, "  Succeeded:          %d\n", t.Succeeded)
	fmt.Fprintf(w, "  Skipped:            %d\n", t.Skipped)
	fmt.Fprintf(w, "  Failed:             %d\n", t.Failed)
	fmt.Fprintf(w, "  Cameras loaded:     %d\n", t.CamerasLoaded)
	fmt.Fprintf(w, "  Failing cameras:    %d\n", t.CamerasFailing)
	fmt.Fprintf(w, "  Hours estimated:    %d\n", t.HoursEstimated)
	fmt.Fprintf(w, "  Records inserted:   %d\n", t.Inserted)
	fmt.Fprintf(w, "  Records updated:    %d\n", t.Updated)
	fmt.Fprintf(w, "  Duration:           %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
}

// WriteCSV writes one row per pair
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	header := []string{"run_id", "client", "location", "status", "target_date", "cameras_loaded",
		"cameras_failing", "hours_estimated", "records_inserted", "records_updated", "error"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write report header: %w", err)
	}

	for _, p := range r.Pairs {
		errMsg := ""
		if p.Err != nil {
			errMsg = p.Err.Error()
		}
		row := []string{
			r.RunID,
			p.Pair.Client,
			p.Pair.Location,
			p.Status,
			formatDate(p),
			strconv.Itoa(p.CamerasLoaded),
			strconv.Itoa(p.CamerasFailing),
			strconv.Itoa(p.HoursEstimated),
			strconv.Itoa(p.Inserted),
			strconv.Itoa(p.Updated),
			errMsg,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write report row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatDate(p PairResult) string {
	if p.TargetDate == nil {
		return ""
	}
	return p.TargetDate.Format("2006-01-02")
}
