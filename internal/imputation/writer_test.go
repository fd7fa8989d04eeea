package imputation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/smukkama/flow-imputer/internal/database"
)

func TestWriter_ForcesConfirmedEstimated(t *testing.T) {
	store := newMemStore()
	ts := targetMonday.Add(11 * time.Hour)
	store.addRecord(5, ts, 1, 1)

	records := []database.FlowRecord{
		{CameraID: 5, Timestamp: ts, Inside: 20, Outside: 18, Validity: database.ValidityRaw},
		{CameraID: 5, Timestamp: ts.Add(time.Hour), Inside: 22, Outside: 19},
	}

	stats, err := NewWriter(store, zerolog.Nop()).Write(context.Background(), records)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if stats.Inserted != 1 || stats.Updated != 1 || stats.Failed != 0 {
		t.Errorf("Unexpected stats %+v", stats)
	}

	for _, rec := range records {
		stored, ok := store.get(rec.CameraID, rec.Timestamp)
		if !ok {
			t.Fatalf("Expected record at %v", rec.Timestamp)
		}
		if stored.Validity != database.ValidityConfirmed || !stored.Estimated || stored.Inside != rec.Inside {
			t.Errorf("Unexpected stored record %+v", stored)
		}
	}
	if records[0].Validity != database.ValidityRaw {
		t.Error("Write must not modify the caller's records")
	}
}

func TestWriter_CountsRecordFailures(t *testing.T) {
	store := newMemStore()
	store.upsertErr = func(rec *database.FlowRecord) error {
		if rec.CameraID == 2 {
			return errors.New("CHECK constraint failed")
		}
		return nil
	}

	records := []database.FlowRecord{
		{CameraID: 1, Timestamp: targetMonday},
		{CameraID: 2, Timestamp: targetMonday},
		{CameraID: 3, Timestamp: targetMonday},
	}

	stats, err := NewWriter(store, zerolog.Nop()).Write(context.Background(), records)
	if err != nil {
		t.Fatalf("Expected per-record failure to be absorbed, got %v", err)
	}
	if stats.Inserted != 2 || stats.Failed != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestWriter_AbortsOnConnectivityLoss(t *testing.T) {
	store := newMemStore()
	store.upsertErr = func(rec *database.FlowRecord) error {
		if rec.CameraID == 2 {
			return database.ErrConnectivity
		}
		return nil
	}

	records := []database.FlowRecord{
		{CameraID: 1, Timestamp: targetMonday},
		{CameraID: 2, Timestamp: targetMonday},
		{CameraID: 3, Timestamp: targetMonday},
	}

	stats, err := NewWriter(store, zerolog.Nop()).Write(context.Background(), records)
	if !errors.Is(err, database.ErrConnectivity) {
		t.Fatalf("Expected connectivity error, got %v", err)
	}
	if stats.Inserted != 1 {
		t.Errorf("Expected 1 insert before abort, got %d", stats.Inserted)
	}
	if store.upsertCalls != 2 {
		t.Errorf("Expected batch to stop after the failing record, got %d calls", store.upsertCalls)
	}
}

func TestWriter_HalfHourZoneFillsLocalHour(t *testing.T) {
	store := newMemStore()
	ist := time.FixedZone("IST", 5*3600+1800)
	ts := time.Date(2024, 3, 18, 10, 0, 0, 0, ist)
	store.addRecord(1, ts.Add(-time.Hour), 20, 18)

	records := []database.FlowRecord{{CameraID: 1, Timestamp: ts, Inside: 15, Outside: 12}}
	stats, err := NewWriter(store, zerolog.Nop()).Write(context.Background(), records)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if stats.Inserted != 1 {
		t.Fatalf("Expected a new row for 10:00 IST, got %+v", stats)
	}

	stored, ok := store.get(1, ts)
	if !ok || stored.Inside != 15 || stored.Timestamp.In(ist).Hour() != 10 {
		t.Errorf("Expected estimate at 10:00 IST, got %+v", stored)
	}
	previous, _ := store.get(1, ts.Add(-time.Hour))
	if previous.Inside != 20 || previous.Estimated {
		t.Errorf("Previous hour must be untouched, got %+v", previous)
	}
}
