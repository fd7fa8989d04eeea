package window

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smukkama/flow-imputer/internal/database"
)

var (
	ErrNoCameras = errors.New("no cameras registered")
	ErrNoData    = errors.New("no confirmed flow records in window")
)

// DefaultMinLookbackDays is the shortest window the loader will use
const DefaultMinLookbackDays = 28

// Store is the read side of the storage layer
type Store interface {
	ListCameras(ctx context.Context, client, location string) ([]database.Camera, error)
	LoadFlowRecords(ctx context.Context, cameraIDs []int64, since time.Time, validity database.Validity) ([]database.FlowRecord, error)
}

type cacheKey struct {
	client   string
	location string
	lookback int
}

// Loader builds working sets and caches them for the lifetime of one run
type Loader struct {
	store           Store
	minLookbackDays int
	tz              *time.Location
	now             func() time.Time

	mu    sync.Mutex
	cache map[cacheKey]*WorkingSet
}

// NewLoader creates a loader. A nil tz means UTC.
func NewLoader(store Store, minLookbackDays int, tz *time.Location) *Loader {
	if minLookbackDays <= 0 {
		minLookbackDays = DefaultMinLookbackDays
	}
	if tz == nil {
		tz = time.UTC
	}
	return &Loader{
		store:           store,
		minLookbackDays: minLookbackDays,
		tz:              tz,
		now:             time.Now,
		cache:           make(map[cacheKey]*WorkingSet),
	}
}

// SetClock replaces the loader's time source
func (l *Loader) SetClock(now func() time.Time) {
	l.now = now
}

// TZ returns the time zone calendar fields are derived in
func (l *Loader) TZ() *time.Location {
	return l.tz
}

// EffectiveLookback raises lookbackDays to the configured minimum
func (l *Loader) EffectiveLookback(lookbackDays int) int {
	if lookbackDays < l.minLookbackDays {
		return l.minLookbackDays
	}
	return lookbackDays
}

// Covers reports whether t falls on a day between the start of the
// effective lookback window and today
func (l *Loader) Covers(t time.Time, lookbackDays int) bool {
	now := l.now()
	first := DayOf(now.AddDate(0, 0, -l.EffectiveLookback(lookbackDays)), l.tz)
	day := DayOf(t, l.tz)
	return day >= first && day <= DayOf(now, l.tz)
}

// Load returns the working set for a client location, reading through the cache
func (l *Loader) Load(ctx context.Context, client, location string, lookbackDays int) (*WorkingSet, error) {
	lookback := l.EffectiveLookback(lookbackDays)
	key := cacheKey{client: client, location: location, lookback: lookback}

	l.mu.Lock()
	ws, ok := l.cache[key]
	l.mu.Unlock()
	if ok {
		return ws, nil
	}

	cameras, err := l.store.ListCameras(ctx, client, location)
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras for %s/%s: %w", client, location, err)
	}
	if len(cameras) == 0 {
		return nil, ErrNoCameras
	}

	ids := make([]int64, len(cameras))
	for i, cam := range cameras {
		ids[i] = cam.ID
	}

	since := l.now().AddDate(0, 0, -lookback)
	records, err := l.store.LoadFlowRecords(ctx, ids, since, database.ValidityConfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to load flow records for %s/%s: %w", client, location, err)
	}
	if len(records) == 0 {
		return nil, ErrNoData
	}

	ws = NewWorkingSet(client, location, cameras, records, l.tz)

	l.mu.Lock()
	l.cache[key] = ws
	l.mu.Unlock()

	return ws, nil
}

// Forget drops every cached working set of a client location
func (l *Loader) Forget(client, location string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key := range l.cache {
		if key.client == client && key.location == location {
			delete(l.cache, key)
		}
	}
}
