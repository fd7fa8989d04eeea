package database

import (
	"time"
)

// Validity is the lifecycle state of a flow record
type Validity string

const (
	ValidityRaw         Validity = "raw"
	ValidityConfirmed   Validity = "confirmed"
	ValidityQuarantined Validity = "quarantined"
)

// Weekday names in schedule column order (0 = Monday)
var WeekdayNames = [7]string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// ScheduleEntry is one weekday's configured counting window. A nil bound
// means the entry is unset.
type ScheduleEntry struct {
	Start *int
	End   *int
}

// Camera represents a people-counting camera
type Camera struct {
	ID            int64
	Client        string
	Location      string
	LastHeartbeat *time.Time
	LastFailure   *time.Time
	Schedule      [7]ScheduleEntry
}

// FlowRecord represents one camera-hour of people flow
type FlowRecord struct {
	ID        int64
	CameraID  int64
	Timestamp time.Time
	Inside    int
	Outside   int
	Validity  Validity
	Estimated bool
}

// Total returns inside + outside
func (r *FlowRecord) Total() int {
	return r.Inside + r.Outside
}

// HourStart truncates t to the start of its hour on t's own clock, so
// zones with :30 or :45 offsets keep their local hour.
func HourStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour(), 0, 0, 0, t.Location())
}

// Pair identifies a client location
type Pair struct {
	Client   string
	Location string
}

func (p Pair) String() string {
	return p.Client + "/" + p.Location
}

// UpsertResult tells whether an upsert created or overwrote a row
type UpsertResult int

const (
	Inserted UpsertResult = iota + 1
	Updated
)

// ImputationRun is the audit row written once per processed pair
type ImputationRun struct {
	ID              int64
	RunID           string
	Client          string
	Location        string
	TargetDate      *time.Time
	CamerasLoaded   int
	CamerasFailing  int
	HoursEstimated  int
	RecordsInserted int
	RecordsUpdated  int
	Status          string
	Error           string
	StartedAt       time.Time
	FinishedAt      time.Time
}

const (
	RunStatusSuccess          = "success"
	RunStatusSkippedNoCameras = "skipped_no_cameras"
	RunStatusSkippedNoData    = "skipped_no_data"
	RunStatusFailed           = "failed"
)
