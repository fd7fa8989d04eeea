package window

import (
	"sort"
	"time"

	"github.com/smukkama/flow-imputer/internal/database"
)

// Point is one confirmed camera-hour in the window
type Point struct {
	Day       Day
	Hour      int
	Weekday   int
	Inside    int
	Outside   int
	Estimated bool
}

func (p Point) Total() int {
	return p.Inside + p.Outside
}

type dayKey struct {
	camera int64
	day    Day
	hour   int
}

type slotKey struct {
	camera  int64
	hour    int
	weekday int
}

// WorkingSet is the indexed, read-only view of one client location's
// cameras and confirmed records.
type WorkingSet struct {
	Client   string
	Location string
	TZ       *time.Location

	cameras  []database.Camera
	byID     map[int64]*database.Camera
	byDay    map[dayKey]Point
	bySlot   map[slotKey][]Point
	byCamera map[int64][]Point
	latest   Day
	records  int
}

// NewWorkingSet indexes records by (camera, day, hour) and by
// (camera, hour, weekday). Calendar fields are derived in tz. Records of
// unknown cameras are ignored; for a repeated camera-hour the first wins.
func NewWorkingSet(client, location string, cameras []database.Camera, records []database.FlowRecord, tz *time.Location) *WorkingSet {
	if tz == nil {
		tz = time.UTC
	}

	ws := &WorkingSet{
		Client:   client,
		Location: location,
		TZ:       tz,
		cameras:  make([]database.Camera, len(cameras)),
		byID:     make(map[int64]*database.Camera, len(cameras)),
		byDay:    make(map[dayKey]Point, len(records)),
		bySlot:   make(map[slotKey][]Point),
		byCamera: make(map[int64][]Point, len(cameras)),
	}

	copy(ws.cameras, cameras)
	sort.Slice(ws.cameras, func(i, j int) bool { return ws.cameras[i].ID < ws.cameras[j].ID })
	for i := range ws.cameras {
		ws.byID[ws.cameras[i].ID] = &ws.cameras[i]
	}

	sorted := make([]database.FlowRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	for _, rec := range sorted {
		if _, ok := ws.byID[rec.CameraID]; !ok {
			continue
		}

		local := rec.Timestamp.In(tz)
		day := DayOf(local, tz)
		key := dayKey{camera: rec.CameraID, day: day, hour: local.Hour()}
		if _, dup := ws.byDay[key]; dup {
			continue
		}

		p := Point{
			Day:       day,
			Hour:      local.Hour(),
			Weekday:   day.Weekday(),
			Inside:    rec.Inside,
			Outside:   rec.Outside,
			Estimated: rec.Estimated,
		}
		ws.byDay[key] = p

		slot := slotKey{camera: rec.CameraID, hour: p.Hour, weekday: p.Weekday}
		ws.bySlot[slot] = append(ws.bySlot[slot], p)
		ws.byCamera[rec.CameraID] = append(ws.byCamera[rec.CameraID], p)

		if ws.records == 0 || day > ws.latest {
			ws.latest = day
		}
		ws.records++
	}

	return ws
}

// Cameras returns the cameras ordered by ID
func (ws *WorkingSet) Cameras() []database.Camera {
	return ws.cameras
}

// Camera looks up a camera by ID
func (ws *WorkingSet) Camera(id int64) (*database.Camera, bool) {
	cam, ok := ws.byID[id]
	return cam, ok
}

// Len returns the number of indexed records
func (ws *WorkingSet) Len() int {
	return ws.records
}

// LatestDay returns the most recent day holding a record
func (ws *WorkingSet) LatestDay() (Day, bool) {
	return ws.latest, ws.records > 0
}

// Record returns the camera's record for the given day and hour
func (ws *WorkingSet) Record(camera int64, day Day, hour int) (Point, bool) {
	p, ok := ws.byDay[dayKey{camera: camera, day: day, hour: hour}]
	return p, ok
}

// Slot returns the camera's same-hour same-weekday records strictly before
// the given day, oldest first.
func (ws *WorkingSet) Slot(camera int64, hour, weekday int, before Day) []Point {
	return prior(ws.bySlot[slotKey{camera: camera, hour: hour, weekday: weekday}], before)
}

// HourAcrossWeekdays returns the camera's records at hour on every weekday
// strictly before the given day.
func (ws *WorkingSet) HourAcrossWeekdays(camera int64, hour int, before Day) []Point {
	var out []Point
	for weekday := 0; weekday < 7; weekday++ {
		out = append(out, ws.Slot(camera, hour, weekday, before)...)
	}
	return out
}

// CameraRecords returns every record of the camera strictly before the day
func (ws *WorkingSet) CameraRecords(camera int64, before Day) []Point {
	return prior(ws.byCamera[camera], before)
}

func prior(points []Point, before Day) []Point {
	n := sort.Search(len(points), func(i int) bool { return points[i].Day >= before })
	return points[:n]
}

// Totals extracts inside + outside of each point
func Totals(points []Point) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = float64(p.Total())
	}
	return out
}

// Insides extracts the inside counts
func Insides(points []Point) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = float64(p.Inside)
	}
	return out
}

// Outsides extracts the outside counts
func Outsides(points []Point) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = float64(p.Outside)
	}
	return out
}
