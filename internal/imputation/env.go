package imputation

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/smukkama/flow-imputer/internal/database"
	"github.com/smukkama/flow-imputer/internal/metrics"
	"github.com/smukkama/flow-imputer/internal/protocol"
	"github.com/smukkama/flow-imputer/internal/window"
)

// Store is the storage the engine reads from and writes to
type Store interface {
	window.Store
	ListClientLocationPairs(ctx context.Context) ([]database.Pair, error)
	UpsertFlowRecord(ctx context.Context, rec *database.FlowRecord) (database.UpsertResult, error)
	AppendRunLog(ctx context.Context, run *database.ImputationRun) error
}

// Publisher receives one event per processed pair and one per run
type Publisher interface {
	PublishRunEvent(ctx context.Context, event *protocol.RunEvent) error
}

// Env is the per-invocation context handed to the engine: storage handle,
// the working-set cache, logger and optional event and metrics sinks.
type Env struct {
	Store     Store
	Loader    *window.Loader
	Logger    zerolog.Logger
	Publisher Publisher
	Metrics   *metrics.Metrics
}

// NewEnv creates an Env whose loader reads from store
func NewEnv(store Store, loader *window.Loader, logger zerolog.Logger) *Env {
	return &Env{Store: store, Loader: loader, Logger: logger}
}
