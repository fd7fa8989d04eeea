package imputation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/smukkama/flow-imputer/internal/database"
	"github.com/smukkama/flow-imputer/internal/detection"
	"github.com/smukkama/flow-imputer/internal/protocol"
	"github.com/smukkama/flow-imputer/internal/schedule"
	"github.com/smukkama/flow-imputer/internal/window"
)

var (
	// 2024-03-18 is a Monday
	targetMonday = time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC)
	runClock     = time.Date(2024, 3, 19, 3, 0, 0, 0, time.UTC)
)

type upsertKey struct {
	camera int64
	ts     time.Time
}

type memStore struct {
	mu          sync.Mutex
	pairs       []database.Pair
	pairsErr    error
	cameras     map[database.Pair][]database.Camera
	cameraErr   map[database.Pair]error
	records     map[upsertKey]database.FlowRecord
	upsertErr   func(rec *database.FlowRecord) error
	runs        []database.ImputationRun
	appendErr   error
	upsertCalls int
}

func newMemStore() *memStore {
	return &memStore{
		cameras:   make(map[database.Pair][]database.Camera),
		cameraErr: make(map[database.Pair]error),
		records:   make(map[upsertKey]database.FlowRecord),
	}
}

func (m *memStore) ListClientLocationPairs(ctx context.Context) ([]database.Pair, error) {
	return m.pairs, m.pairsErr
}

func (m *memStore) ListCameras(ctx context.Context, client, location string) ([]database.Camera, error) {
	pair := database.Pair{Client: client, Location: location}
	if err := m.cameraErr[pair]; err != nil {
		return nil, err
	}
	return m.cameras[pair], nil
}

func (m *memStore) LoadFlowRecords(ctx context.Context, ids []int64, since time.Time, validity database.Validity) ([]database.FlowRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[int64]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	var out []database.FlowRecord
	for _, rec := range m.records {
		if wanted[rec.CameraID] && !rec.Timestamp.Before(since) && rec.Validity == validity {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].CameraID < out[j].CameraID
	})
	return out, nil
}

func (m *memStore) UpsertFlowRecord(ctx context.Context, rec *database.FlowRecord) (database.UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.upsertCalls++
	if m.upsertErr != nil {
		if err := m.upsertErr(rec); err != nil {
			return 0, err
		}
	}

	key := upsertKey{camera: rec.CameraID, ts: database.HourStart(rec.Timestamp).UTC()}
	_, exists := m.records[key]
	stored := *rec
	stored.Timestamp = key.ts
	m.records[key] = stored
	if exists {
		return database.Updated, nil
	}
	return database.Inserted, nil
}

func (m *memStore) AppendRunLog(ctx context.Context, run *database.ImputationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.appendErr != nil {
		return m.appendErr
	}
	run.ID = int64(len(m.runs) + 1)
	m.runs = append(m.runs, *run)
	return nil
}

func (m *memStore) addCamera(pair database.Pair, cam database.Camera) {
	cam.Client, cam.Location = pair.Client, pair.Location
	m.cameras[pair] = append(m.cameras[pair], cam)
}

func (m *memStore) addRecord(cam int64, ts time.Time, inside, outside int) {
	m.UpsertFlowRecord(context.Background(), &database.FlowRecord{
		CameraID:  cam,
		Timestamp: ts,
		Inside:    inside,
		Outside:   outside,
		Validity:  database.ValidityConfirmed,
	})
}

func (m *memStore) addRawRecord(cam int64, ts time.Time, inside, outside int) {
	m.UpsertFlowRecord(context.Background(), &database.FlowRecord{
		CameraID:  cam,
		Timestamp: ts,
		Inside:    inside,
		Outside:   outside,
		Validity:  database.ValidityRaw,
	})
}

func (m *memStore) get(cam int64, ts time.Time) (database.FlowRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[upsertKey{camera: cam, ts: database.HourStart(ts).UTC()}]
	return rec, ok
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []protocol.RunEvent
	err    error
}

func (p *recordingPublisher) PublishRunEvent(ctx context.Context, event *protocol.RunEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *event)
	return p.err
}

func mondayCamera(id int64, start, end int) database.Camera {
	cam := database.Camera{ID: id}
	cam.Schedule[0] = database.ScheduleEntry{Start: &start, End: &end}
	return cam
}

type seeder interface {
	addCamera(pair database.Pair, cam database.Camera)
	addRecord(cam int64, ts time.Time, inside, outside int)
}

// seedRatioPair seeds cameras 1 and 2 with four prior Mondays where camera 2
// sees twice camera 1's traffic at 10:00, and camera 3 with zero traffic.
// On the target Monday only camera 2 reports.
func seedRatioPair(s seeder, pair database.Pair) {
	for _, id := range []int64{1, 2, 3} {
		s.addCamera(pair, mondayCamera(id, 10, 10))
	}
	for week := 1; week <= 4; week++ {
		ts := targetMonday.AddDate(0, 0, -7*week).Add(10 * time.Hour)
		s.addRecord(1, ts, 15, 12)
		s.addRecord(2, ts, 30, 24)
		s.addRecord(3, ts, 0, 0)
	}
	s.addRecord(2, targetMonday.Add(10*time.Hour), 30, 24)
}

func newTestEngine(store Store, publisher Publisher) *Engine {
	loader := window.NewLoader(store, window.DefaultMinLookbackDays, time.UTC)
	loader.SetClock(func() time.Time { return runClock })

	env := NewEnv(store, loader, zerolog.Nop())
	if publisher != nil {
		env.Publisher = publisher
	}

	engine := NewEngine(env, schedule.NewResolver(schedule.DefaultRange), detection.DefaultThresholds())
	engine.newRunID = func() string { return "run-test" }
	engine.now = func() time.Time { return runClock }
	return engine
}
