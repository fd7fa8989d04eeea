package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// RunEvent is the message published to Kafka once per processed
// client location, and once more when a run completes.
type RunEvent struct {
	Type            string         `json:"type"` // PAIR_IMPUTED, PAIR_SKIPPED, PAIR_FAILED, RUN_COMPLETED
	RunID           string         `json:"run_id"`
	Client          string         `json:"client,omitempty"`
	Location        string         `json:"location,omitempty"`
	TargetDate      string         `json:"target_date,omitempty"` // YYYY-MM-DD
	Status          string         `json:"status"`
	CamerasLoaded   int            `json:"cameras_loaded"`
	CamerasFailing  int            `json:"cameras_failing"`
	HoursEstimated  int            `json:"hours_estimated"`
	RecordsInserted int            `json:"records_inserted"`
	RecordsUpdated  int            `json:"records_updated"`
	Sources         map[string]int `json:"sources,omitempty"`
	Error           string         `json:"error,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      time.Time      `json:"finished_at"`
}

const (
	EventPairImputed  = "PAIR_IMPUTED"
	EventPairSkipped  = "PAIR_SKIPPED"
	EventPairFailed   = "PAIR_FAILED"
	EventRunCompleted = "RUN_COMPLETED"
)

// Key partitions events by client location; run summaries by run ID
func (e *RunEvent) Key() string {
	if e.Client == "" && e.Location == "" {
		return e.RunID
	}
	return e.Client + "/" + e.Location
}

// EncodeRunEvent encodes a RunEvent to JSON
func EncodeRunEvent(event *RunEvent) ([]byte, error) {
	if event.Type == "" || event.RunID == "" {
		return nil, fmt.Errorf("run event needs a type and a run id")
	}
	return json.Marshal(event)
}
