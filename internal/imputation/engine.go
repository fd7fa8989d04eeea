package imputation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/smukkama/flow-imputer/internal/database"
	"github.com/smukkama/flow-imputer/internal/detection"
	"github.com/smukkama/flow-imputer/internal/estimation"
	"github.com/smukkama/flow-imputer/internal/protocol"
	"github.com/smukkama/flow-imputer/internal/schedule"
	"github.com/smukkama/flow-imputer/internal/window"
)

// ErrTargetOutsideWindow is returned when an explicit target date is in the
// future or older than the history window
var ErrTargetOutsideWindow = errors.New("target date outside the history window")

// Options controls one run
type Options struct {
	// Pairs to process; empty means every known client location
	Pairs        []database.Pair
	LookbackDays int
	// TargetDate overrides the most recent day in each pair's window
	TargetDate *time.Time
	Workers    int
}

// PairResult is the outcome of one client location
type PairResult struct {
	Pair           database.Pair
	Status         string
	TargetDate     *time.Time
	CamerasLoaded  int
	CamerasFailing int
	FailingHours   int
	HoursEstimated int
	// PendingSkipped counts failing hours left alone because a raw
	// reading awaits confirmation
	PendingSkipped int
	Inserted       int
	Updated        int
	WriteFailed    int
	Sources        map[estimation.Source]int
	Err            error
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Engine detects failing camera-hours and writes estimates, pair by pair
type Engine struct {
	env      *Env
	resolver *schedule.Resolver
	detector *detection.Detector
	writer   *Writer

	newRunID func() string
	now      func() time.Time
}

func NewEngine(env *Env, resolver *schedule.Resolver, thresholds detection.Thresholds) *Engine {
	return &Engine{
		env:      env,
		resolver: resolver,
		detector: detection.NewDetector(resolver, thresholds),
		writer:   NewWriter(env.Store, env.Logger),
		newRunID: uuid.NewString,
		now:      time.Now,
	}
}

// Run processes every pair and returns the report. Only an explicit target
// date outside the window or failing to enumerate the pairs is returned as
// an error; per-pair failures are recorded in the report.
func (e *Engine) Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.TargetDate != nil && !e.env.Loader.Covers(*opts.TargetDate, opts.LookbackDays) {
		return nil, fmt.Errorf("%w: %s with a %d day lookback", ErrTargetOutsideWindow,
			opts.TargetDate.Format("2006-01-02"), e.env.Loader.EffectiveLookback(opts.LookbackDays))
	}

	report := &Report{RunID: e.newRunID(), StartedAt: e.now()}
	logger := e.env.Logger.With().Str("run_id", report.RunID).Logger()

	pairs := opts.Pairs
	if len(pairs) == 0 {
		var err error
		pairs, err = e.env.Store.ListClientLocationPairs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate client locations: %w", err)
		}
	}

	logger.Info().
		Int("pairs", len(pairs)).
		Int("lookback_days", e.env.Loader.EffectiveLookback(opts.LookbackDays)).
		Int("workers", max(opts.Workers, 1)).
		Msg("Starting imputation run")

	if opts.Workers > 1 && len(pairs) > 1 {
		report.Pairs = e.runPool(ctx, report.RunID, pairs, opts)
	} else {
		report.Pairs = make([]PairResult, 0, len(pairs))
		for _, pair := range pairs {
			report.Pairs = append(report.Pairs, e.ProcessPair(ctx, report.RunID, pair, opts))
		}
	}

	report.FinishedAt = e.now()
	e.publishSummary(ctx, report)
	if e.env.Metrics != nil {
		e.env.Metrics.RunFinished(report.FinishedAt.Sub(report.StartedAt), report.FinishedAt)
	}

	totals := report.Totals()
	logger.Info().
		Int("succeeded", totals.Succeeded).
		Int("skipped", totals.Skipped).
		Int("failed", totals.Failed).
		Int("hours_estimated", totals.HoursEstimated).
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Msg("Imputation run finished")

	return report, nil
}

type pairJob struct {
	index int
	pair  database.Pair
}

// runPool spreads pairs over a fixed set of workers. Results keep input order.
func (e *Engine) runPool(ctx context.Context, runID string, pairs []database.Pair, opts Options) []PairResult {
	workers := min(opts.Workers, len(pairs))
	results := make([]PairResult, len(pairs))
	jobs := make(chan pairJob, len(pairs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				results[job.index] = e.ProcessPair(ctx, runID, job.pair, opts)
			}
		}()
	}

	for i, pair := range pairs {
		jobs <- pairJob{index: i, pair: pair}
	}
	close(jobs)
	wg.Wait()

	return results
}

// ProcessPair runs load, detect, estimate and write for one client location,
// then appends the run log row and publishes the pair event.
func (e *Engine) ProcessPair(ctx context.Context, runID string, pair database.Pair, opts Options) PairResult {
	res := PairResult{Pair: pair, StartedAt: e.now(), Sources: make(map[estimation.Source]int)}
	logger := e.env.Logger.With().Str("run_id", runID).Str("client", pair.Client).Str("location", pair.Location).Logger()

	if err := ctx.Err(); err != nil {
		res.Status, res.Err = database.RunStatusFailed, err
	} else {
		e.impute(ctx, pair, opts, &res, logger)
		// the working set is stale once estimates are written
		e.env.Loader.Forget(pair.Client, pair.Location)
	}
	res.FinishedAt = e.now()

	switch res.Status {
	case database.RunStatusFailed:
		logger.Error().Err(res.Err).Msg("Client location failed")
	case database.RunStatusSuccess:
		logger.Info().
			Int("cameras", res.CamerasLoaded).
			Int("failing_cameras", res.CamerasFailing).
			Int("hours_estimated", res.HoursEstimated).
			Int("pending_skipped", res.PendingSkipped).
			Int("inserted", res.Inserted).
			Int("updated", res.Updated).
			Msg("Client location imputed")
	default:
		logger.Info().Str("status", res.Status).Msg("Client location skipped")
	}

	if err := e.env.Store.AppendRunLog(ctx, e.runLogRow(runID, &res)); err != nil {
		logger.Error().Err(err).Msg("Failed to append run log")
		if res.Err == nil {
			res.Status = database.RunStatusFailed
			res.Err = fmt.Errorf("failed to append run log: %w", err)
		}
	}

	e.publishPair(ctx, runID, &res, logger)

	if m := e.env.Metrics; m != nil {
		m.PairProcessed(res.Status, res.FinishedAt.Sub(res.StartedAt))
		m.RecordsWritten(res.Inserted, res.Updated, res.WriteFailed)
	}

	return res
}

func (e *Engine) impute(ctx context.Context, pair database.Pair, opts Options, res *PairResult, logger zerolog.Logger) {
	ws, err := e.env.Loader.Load(ctx, pair.Client, pair.Location, opts.LookbackDays)
	switch {
	case errors.Is(err, window.ErrNoCameras):
		res.Status = database.RunStatusSkippedNoCameras
		return
	case errors.Is(err, window.ErrNoData):
		res.Status = database.RunStatusSkippedNoData
		res.CamerasLoaded = e.countCameras(ctx, pair)
		return
	case err != nil:
		res.Status, res.Err = database.RunStatusFailed, err
		return
	}
	res.CamerasLoaded = len(ws.Cameras())

	day, _ := ws.LatestDay()
	if opts.TargetDate != nil {
		day = window.DayOf(*opts.TargetDate, ws.TZ)
	}
	target := day.Start(ws.TZ)
	res.TargetDate = &target

	det := e.detector.Detect(ws, day)
	res.CamerasFailing = len(det.Failing)
	res.FailingHours = det.Hours()
	for _, camera := range det.Cameras() {
		for _, f := range det.Failing[camera] {
			logger.Debug().
				Int64("camera_id", camera).
				Int("hour", f.Hour).
				Str("reason", string(f.Reason)).
				Int("total", f.Total).
				Float64("baseline", f.Baseline).
				Msg("Failing camera-hour")
			if e.env.Metrics != nil {
				e.env.Metrics.FailingHour(string(f.Reason))
			}
		}
	}

	pending, err := e.pendingHours(ctx, ws, day)
	if err != nil {
		res.Status, res.Err = database.RunStatusFailed, err
		return
	}

	estimates := estimation.NewCombiner(ws, det, e.resolver).EstimateAll()
	records := make([]database.FlowRecord, 0, len(estimates))
	for _, est := range estimates {
		if pending[hourKey{camera: est.Record.CameraID, hour: est.Record.Timestamp.In(ws.TZ).Hour()}] {
			res.PendingSkipped++
			logger.Debug().
				Int64("camera_id", est.Record.CameraID).
				Time("timestamp", est.Record.Timestamp).
				Msg("Skipping hour with unconfirmed reading")
			continue
		}
		records = append(records, est.Record)
		res.Sources[est.Source]++
		if e.env.Metrics != nil {
			e.env.Metrics.HourEstimated(string(est.Source))
		}
	}
	res.HoursEstimated = len(records)

	stats, err := e.writer.Write(ctx, records)
	res.Inserted, res.Updated, res.WriteFailed = stats.Inserted, stats.Updated, stats.Failed
	if err != nil {
		res.Status, res.Err = database.RunStatusFailed, err
		return
	}

	res.Status = database.RunStatusSuccess
}

type hourKey struct {
	camera int64
	hour   int
}

// pendingHours finds the target day's camera-hours that hold a raw reading.
// Those are real counts awaiting confirmation and must not be overwritten.
func (e *Engine) pendingHours(ctx context.Context, ws *window.WorkingSet, day window.Day) (map[hourKey]bool, error) {
	cameras := ws.Cameras()
	ids := make([]int64, len(cameras))
	for i, cam := range cameras {
		ids[i] = cam.ID
	}

	raw, err := e.env.Store.LoadFlowRecords(ctx, ids, day.Start(ws.TZ), database.ValidityRaw)
	if err != nil {
		return nil, fmt.Errorf("failed to load unconfirmed records: %w", err)
	}

	pending := make(map[hourKey]bool)
	for _, rec := range raw {
		local := rec.Timestamp.In(ws.TZ)
		if window.DayOf(local, ws.TZ) == day {
			pending[hourKey{camera: rec.CameraID, hour: local.Hour()}] = true
		}
	}
	return pending, nil
}

// countCameras reports how many cameras a no-data pair has, best effort
func (e *Engine) countCameras(ctx context.Context, pair database.Pair) int {
	cameras, err := e.env.Store.ListCameras(ctx, pair.Client, pair.Location)
	if err != nil {
		return 0
	}
	return len(cameras)
}

func (e *Engine) runLogRow(runID string, res *PairResult) *database.ImputationRun {
	row := &database.ImputationRun{
		RunID:           runID,
		Client:          res.Pair.Client,
		Location:        res.Pair.Location,
		TargetDate:      res.TargetDate,
		CamerasLoaded:   res.CamerasLoaded,
		CamerasFailing:  res.CamerasFailing,
		HoursEstimated:  res.HoursEstimated,
		RecordsInserted: res.Inserted,
		RecordsUpdated:  res.Updated,
		Status:          res.Status,
		StartedAt:       res.StartedAt,
		FinishedAt:      res.FinishedAt,
	}
	if res.Err != nil {
		row.Error = res.Err.Error()
	}
	return row
}

func (e *Engine) publishPair(ctx context.Context, runID string, res *PairResult, logger zerolog.Logger) {
	if e.env.Publisher == nil {
		return
	}

	event := &protocol.RunEvent{
		Type:            pairEventType(res.Status),
		RunID:           runID,
		Client:          res.Pair.Client,
		Location:        res.Pair.Location,
		Status:          res.Status,
		CamerasLoaded:   res.CamerasLoaded,
		CamerasFailing:  res.CamerasFailing,
		HoursEstimated:  res.HoursEstimated,
		RecordsInserted: res.Inserted,
		RecordsUpdated:  res.Updated,
		StartedAt:       res.StartedAt,
		FinishedAt:      res.FinishedAt,
	}
	if res.TargetDate != nil {
		event.TargetDate = res.TargetDate.Format("2006-01-02")
	}
	if res.Err != nil {
		event.Error = res.Err.Error()
	}
	if len(res.Sources) > 0 {
		event.Sources = make(map[string]int, len(res.Sources))
		for source, n := range res.Sources {
			event.Sources[string(source)] = n
		}
	}

	if err := e.env.Publisher.PublishRunEvent(ctx, event); err != nil {
		logger.Warn().Err(err).Msg("Failed to publish run event")
	}
}

func (e *Engine) publishSummary(ctx context.Context, report *Report) {
	if e.env.Publisher == nil {
		return
	}

	totals := report.Totals()
	status := database.RunStatusSuccess
	if totals.Failed > 0 {
		status = database.RunStatusFailed
	}

	event := &protocol.RunEvent{
		Type:            protocol.EventRunCompleted,
		RunID:           report.RunID,
		Status:          status,
		CamerasLoaded:   totals.CamerasLoaded,
		CamerasFailing:  totals.CamerasFailing,
		HoursEstimated:  totals.HoursEstimated,
		RecordsInserted: totals.Inserted,
		RecordsUpdated:  totals.Updated,
		StartedAt:       report.StartedAt,
		FinishedAt:      report.FinishedAt,
	}
	if err := e.env.Publisher.PublishRunEvent(ctx, event); err != nil {
		e.env.Logger.Warn().Err(err).Str("run_id", report.RunID).Msg("Failed to publish run summary")
	}
}

func pairEventType(status string) string {
	switch status {
	case database.RunStatusSuccess:
		return protocol.EventPairImputed
	case database.RunStatusFailed:
		return protocol.EventPairFailed
	default:
		return protocol.EventPairSkipped
	}
}
