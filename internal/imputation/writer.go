package imputation

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/smukkama/flow-imputer/internal/database"
)

// RecordStore is the write side used by Writer
type RecordStore interface {
	UpsertFlowRecord(ctx context.Context, rec *database.FlowRecord) (database.UpsertResult, error)
}

// WriteStats counts the outcome of a batch
type WriteStats struct {
	Inserted int
	Updated  int
	Failed   int
}

// Writer upserts estimated records, overwriting any row already stored for
// the same camera and hour.
type Writer struct {
	store  RecordStore
	logger zerolog.Logger
}

func NewWriter(store RecordStore, logger zerolog.Logger) *Writer {
	return &Writer{store: store, logger: logger}
}

// Write stores every record as confirmed and estimated. A failing record is
// logged and counted; losing the store aborts the batch.
func (w *Writer) Write(ctx context.Context, records []database.FlowRecord) (WriteStats, error) {
	var stats WriteStats

	for i := range records {
		rec := records[i]
		rec.Validity = database.ValidityConfirmed
		rec.Estimated = true

		result, err := w.store.UpsertFlowRecord(ctx, &rec)
		if err != nil {
			if errors.Is(err, database.ErrConnectivity) || ctx.Err() != nil {
				return stats, fmt.Errorf("failed to write estimate for camera %d at %s: %w",
					rec.CameraID, rec.Timestamp.Format("2006-01-02 15:04"), err)
			}

			stats.Failed++
			w.logger.Warn().Err(err).
				Int64("camera_id", rec.CameraID).
				Time("timestamp", rec.Timestamp).
				Msg("Failed to write estimated record")
			continue
		}

		switch result {
		case database.Inserted:
			stats.Inserted++
		case database.Updated:
			stats.Updated++
		}
	}

	return stats, nil
}
