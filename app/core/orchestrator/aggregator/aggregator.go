package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"dockit/app/core/integration"
	"dockit/app/core/orchestrator/task"
	"dockit/app/pkg/logger"
	"dockit/app/pkg/rate"
	"dockit/app/pkg/types"
)

type Options struct {
	FetchTimeout     time.Duration
	AnalyzeTimeout   time.Duration
	RateLimitBackoff time.Duration
}

func (o *Options) applyDefaults() {
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 30 * time.Second
	}
	if o.AnalyzeTimeout <= 0 {
		o.AnalyzeTimeout = 45 * time.Second
	}
	if o.RateLimitBackoff <= 0 {
		o.RateLimitBackoff = 15 * time.Minute
	}
}

// Aggregator runs the fetch -> analyze -> dedup -> persist cycle across every
// connected source. Sources run concurrently; items within a source run
// oldest-first so the stored watermark never skips an unprocessed item.
type Aggregator struct {
	store    *task.Store
	registry *integration.Registry
	analyzer types.Analyzer
	limiter  rate.Limiter
	opts     Options
}

func New(store *task.Store, registry *integration.Registry, analyzer types.Analyzer, limiter rate.Limiter, opts Options) *Aggregator {
	opts.applyDefaults()
	if limiter == nil {
		limiter = rate.Unlimited{}
	}
	return &Aggregator{
		store:    store,
		registry: registry,
		analyzer: analyzer,
		limiter:  limiter,
		opts:     opts,
	}
}

// SourceResult is one source's share of a cycle. Dropped counts items whose
// analysis came back unusable; Error is set only for failures that ended the
// source's cycle (a rate-limit back-off is a deferral, not an error).
type SourceResult struct {
	Source     types.TaskSource
	Fetched    int
	Created    int
	Duplicates int
	Dropped    int
	Deferred   bool
	Error      string
}

type CycleReport struct {
	CycleID    string
	StartedAt  time.Time
	Duration   time.Duration
	Sources    []SourceResult
	TotalNew   int
	TotalDupes int
}

// JSON renders the report for the cycle log line.
func (r CycleReport) JSON() string {
	out, _ := sjson.Set("", "cycle_id", r.CycleID)
	out, _ = sjson.Set(out, "started_at", r.StartedAt.UTC().Format(time.RFC3339))
	out, _ = sjson.Set(out, "duration_ms", r.Duration.Milliseconds())
	out, _ = sjson.Set(out, "total_new", r.TotalNew)
	out, _ = sjson.Set(out, "total_duplicates", r.TotalDupes)
	for i, sr := range r.Sources {
		prefix := fmt.Sprintf("sources.%d.", i)
		out, _ = sjson.Set(out, prefix+"source", string(sr.Source))
		out, _ = sjson.Set(out, prefix+"fetched", sr.Fetched)
		out, _ = sjson.Set(out, prefix+"created", sr.Created)
		out, _ = sjson.Set(out, prefix+"duplicates", sr.Duplicates)
		if sr.Dropped > 0 {
			out, _ = sjson.Set(out, prefix+"dropped", sr.Dropped)
		}
		if sr.Deferred {
			out, _ = sjson.Set(out, prefix+"deferred", true)
		}
		if sr.Error != "" {
			out, _ = sjson.Set(out, prefix+"error", sr.Error)
		}
	}
	return out
}

// RunCycle executes one sync cycle over every connected integration. A failing
// source is recorded in its result and in sync_state; it never fails the cycle
// or its siblings.
func (a *Aggregator) RunCycle(ctx context.Context) CycleReport {
	report := CycleReport{
		CycleID:   uuid.NewString(),
		StartedAt: time.Now(),
	}

	sources := a.registry.Connected()
	report.Sources = make([]SourceResult, len(sources))

	var wg sync.WaitGroup
	for i, integ := range sources {
		wg.Add(1)
		go func(slot int, integ types.SourceIntegration) {
			defer wg.Done()
			report.Sources[slot] = a.syncSource(ctx, integ)
		}(i, integ)
	}
	wg.Wait()

	for _, sr := range report.Sources {
		report.TotalNew += sr.Created
		report.TotalDupes += sr.Duplicates
	}
	report.Duration = time.Since(report.StartedAt)
	logger.Info("[Aggregator] cycle finished: %s", report.JSON())
	return report
}

func (a *Aggregator) syncSource(ctx context.Context, integ types.SourceIntegration) SourceResult {
	source := integ.Source()
	result := SourceResult{Source: source}

	state, err := a.store.GetSyncState(ctx, source)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if state.DeferredUntil > time.Now().Unix() {
		result.Deferred = true
		logger.Info("[Aggregator] %s deferred until %d, skipping", source, state.DeferredUntil)
		return result
	}

	var since *time.Time
	watermark, ok, err := a.store.Watermark(ctx, source)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if ok {
		since = &watermark
	}

	fetchCtx, cancel := context.WithTimeout(ctx, a.opts.FetchTimeout)
	items, err := integ.FetchNewItems(fetchCtx, since)
	cancel()
	if err != nil {
		return a.failSource(ctx, result, err, "fetch")
	}
	result.Fetched = len(items)

	for _, item := range items {
		created, dup, err := a.processItem(ctx, integ, item)
		switch {
		case errors.Is(err, types.ErrParsing):
			// unusable analysis for one item never blocks the ones behind it
			result.Dropped++
			logger.Error("[Aggregator] %s item %s dropped: %v", source, item.ID, err)
			continue
		case err != nil:
			// network, rate limit or store trouble: stop here so the
			// unprocessed tail is re-fetched next cycle
			return a.failSource(ctx, result, err, "analyze")
		}
		if created {
			result.Created++
		}
		if dup {
			result.Duplicates++
		}
	}

	if err := a.store.RecordSyncOutcome(ctx, source, "", 0); err != nil {
		logger.Error("[Aggregator] record sync outcome for %s: %v", source, err)
	}
	logger.Info("[Aggregator] %s: fetched=%d created=%d duplicates=%d dropped=%d", source, result.Fetched, result.Created, result.Duplicates, result.Dropped)
	return result
}

// processItem returns (created, duplicate, error) for one raw item.
func (a *Aggregator) processItem(ctx context.Context, integ types.SourceIntegration, item types.RawInboxItem) (bool, bool, error) {
	externalID := types.ExternalID(item.Source, item.ID)

	// dedup before analysis so known items never cost an LLM call
	exists, err := a.store.Exists(ctx, externalID)
	if err != nil {
		return false, false, err
	}
	if exists {
		return false, true, nil
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return false, false, err
	}

	analyzeCtx, cancel := context.WithTimeout(ctx, a.opts.AnalyzeTimeout)
	analysis, err := a.analyzer.Analyze(analyzeCtx, item)
	cancel()
	if err != nil {
		return false, false, err
	}

	now := time.Now().Unix()
	t := task.UnifiedTask{
		ExternalID: externalID,
		Title:      analysis.Title,
		Summary:    analysis.Summary,
		ActionItem: analysis.ActionItem,
		Source:     item.Source,
		Priority:   analysis.Priority,
		DeepLink:   integ.DeepLink(item.ID),
		CreatedAt:  now,
		OriginTS:   item.Timestamp.Unix(),
	}
	if analysis.EstimatedDeadline != nil {
		t.Deadline = analysis.EstimatedDeadline.Unix()
	}

	created, err := a.store.CreateIfAbsent(ctx, t)
	if err != nil {
		return false, false, err
	}
	return created, !created, nil
}

func (a *Aggregator) failSource(ctx context.Context, result SourceResult, err error, stage string) SourceResult {
	source := result.Source

	var deferredUntil int64
	if errors.Is(err, types.ErrRateLimited) {
		result.Deferred = true
		deferredUntil = time.Now().Add(a.opts.RateLimitBackoff).Unix()
		logger.Info("[Aggregator] %s rate limited during %s, deferring until %d", source, stage, deferredUntil)
	} else {
		result.Error = err.Error()
		logger.Error("[Aggregator] %s %s failed: %v", source, stage, err)
	}

	if recErr := a.store.RecordSyncOutcome(ctx, source, err.Error(), deferredUntil); recErr != nil {
		logger.Error("[Aggregator] record sync outcome for %s: %v", source, recErr)
	}
	return result
}
