// Package coordinator runs batches of providers through the reconciliation
// engine and records run lifecycle and metrics.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/provider-validator/internal/classify"
	"github.com/sells-group/provider-validator/internal/confidence"
	"github.com/sells-group/provider-validator/internal/discrepancy"
	"github.com/sells-group/provider-validator/internal/model"
	"github.com/sells-group/provider-validator/internal/resilience"
	"github.com/sells-group/provider-validator/internal/review"
	"github.com/sells-group/provider-validator/internal/risk"
	"github.com/sells-group/provider-validator/internal/store"
)

const (
	defaultWorkers      = 4
	defaultStoreTimeout = 10 * time.Second
	finalizeTimeout     = 30 * time.Second
)

// Options tunes execution. Zero values select defaults.
type Options struct {
	Workers            int
	StoreTimeout       time.Duration
	ProvidersPerSecond float64
	Retry              resilience.RetryConfig
	// Now is the clock used for timestamps and evidence decay.
	Now func() time.Time
	// Scorer overrides the scorer derived from the run's decay config.
	Scorer confidence.Scorer
}

// Request describes a run to start.
type Request struct {
	ProviderIDs []string
	JobType     string
	Config      model.RunConfig
	TriggeredBy string
}

// Coordinator owns in-flight runs. It is safe for concurrent use.
type Coordinator struct {
	store store.Store
	opts  Options

	mu   sync.Mutex
	runs map[string]*handle
}

type handle struct {
	cancel  context.CancelFunc
	done    chan struct{}
	metrics *runMetrics
}

// New creates a Coordinator backed by s.
func New(s store.Store, opts Options) *Coordinator {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{store: s, opts: opts, runs: make(map[string]*handle)}
}

// Start records a new run and processes it in the background. The returned
// run ID is set whenever the run was recorded, even if it failed to start:
// an invalid config or an unreachable store leaves the run failed.
func (c *Coordinator) Start(ctx context.Context, req Request) (string, error) {
	run := &model.ValidationRun{
		JobType:     req.JobType,
		Config:      req.Config,
		ProviderIDs: req.ProviderIDs,
		TriggeredBy: req.TriggeredBy,
		CreatedAt:   c.opts.Now(),
	}
	if err := c.do(ctx, "create_run", func(ctx context.Context) error {
		return c.store.CreateRun(ctx, run)
	}); err != nil {
		return "", model.NewEngineError(model.ErrorCategoryEvidenceUnavailable, eris.Wrap(err, "coordinator: create run"))
	}
	log := zap.L().With(zap.String("run_id", run.ID))

	if err := req.Config.Validate(); err != nil {
		c.abort(ctx, run.ID, err)
		return run.ID, err
	}
	if err := c.do(ctx, "ping", c.store.Ping); err != nil {
		err = model.NewEngineError(model.ErrorCategoryEvidenceUnavailable, eris.Wrap(err, "coordinator: store unreachable"))
		c.abort(ctx, run.ID, err)
		return run.ID, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &handle{cancel: cancel, done: make(chan struct{}), metrics: &runMetrics{}}
	c.mu.Lock()
	c.runs[run.ID] = h
	c.mu.Unlock()

	log.Info("run started",
		zap.Int("providers", len(run.ProviderIDs)),
		zap.Int("workers", c.opts.Workers),
	)
	go c.execute(runCtx, run, h)
	return run.ID, nil
}

// Run starts a run and blocks until it finishes. Cancelling ctx cancels the
// run; providers already in flight still persist.
func (c *Coordinator) Run(ctx context.Context, req Request) (*model.ValidationRun, error) {
	runID, err := c.Start(ctx, req)
	if err != nil {
		if runID != "" {
			if run, gErr := c.Status(context.WithoutCancel(ctx), runID); gErr == nil {
				return run, err
			}
		}
		return nil, err
	}

	h := c.lookup(runID)
	if h != nil {
		select {
		case <-h.done:
		case <-ctx.Done():
			h.cancel()
			<-h.done
		}
	}
	return c.Status(context.WithoutCancel(ctx), runID)
}

// Wait blocks until the run finishes or ctx is done. Runs that are not in
// flight in this process return immediately.
func (c *Coordinator) Wait(ctx context.Context, runID string) error {
	h := c.lookup(runID)
	if h == nil {
		return nil
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops dispatching new providers for the run. In-flight providers
// finish and persist, then the run is marked failed.
func (c *Coordinator) Cancel(runID string) error {
	h := c.lookup(runID)
	if h == nil {
		return eris.Wrapf(store.ErrNotFound, "run %s is not in flight", runID)
	}
	h.cancel()
	zap.L().Info("run cancel requested", zap.String("run_id", runID))
	return nil
}

// Status returns the run as recorded by the store. For runs in flight in
// this process the counters come from the live aggregate.
func (c *Coordinator) Status(ctx context.Context, runID string) (*model.ValidationRun, error) {
	var run *model.ValidationRun
	err := c.do(ctx, "get_run", func(ctx context.Context) error {
		var err error
		run, err = c.store.GetRun(ctx, runID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if h := c.lookup(runID); h != nil {
		live := model.ValidationRun{}
		live.Apply(h.metrics.snapshot())
		run.ProvidersProcessed = live.ProvidersProcessed
		run.ProvidersSucceeded = live.ProvidersSucceeded
		run.ProvidersFailed = live.ProvidersFailed
		run.ProvidersFlagged = live.ProvidersFlagged
		run.ProvidersScored = live.ProvidersScored
		run.ConfidenceSum = live.ConfidenceSum
		run.DiscrepanciesFound = live.DiscrepanciesFound
		run.FieldsUpdated = live.FieldsUpdated
		run.EvidenceDiscarded = live.EvidenceDiscarded
		run.ErrorCount = live.ErrorCount
	}
	return run, nil
}

func (c *Coordinator) lookup(runID string) *handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs[runID]
}

// abort moves a pending run straight to failed.
func (c *Coordinator) abort(ctx context.Context, runID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	err := c.do(ctx, "fail_run", func(ctx context.Context) error {
		return c.store.TransitionRun(ctx, runID, model.RunStatusPending, model.RunStatusFailed, c.opts.Now(), cause.Error())
	})
	if err != nil {
		zap.L().Error("failed to record run failure", zap.String("run_id", runID), zap.Error(err))
	}
	zap.L().Warn("run failed to start", zap.String("run_id", runID), zap.Error(cause))
}

func (c *Coordinator) execute(ctx context.Context, run *model.ValidationRun, h *handle) {
	defer func() {
		h.cancel()
		c.mu.Lock()
		delete(c.runs, run.ID)
		c.mu.Unlock()
		close(h.done)
	}()
	log := zap.L().With(zap.String("run_id", run.ID))
	bg := context.WithoutCancel(ctx)

	if err := c.do(bg, "start_run", func(ctx context.Context) error {
		return c.store.TransitionRun(ctx, run.ID, model.RunStatusPending, model.RunStatusRunning, c.opts.Now(), "")
	}); err != nil {
		log.Error("failed to mark run running", zap.Error(err))
		c.abort(bg, run.ID, err)
		return
	}

	e, buildErr := c.newEngine(run)
	if buildErr != nil {
		log.Error("failed to build engine", zap.Error(buildErr))
		if err := c.do(bg, "finish_run", func(ctx context.Context) error {
			return c.store.TransitionRun(ctx, run.ID, model.RunStatusRunning, model.RunStatusFailed, c.opts.Now(), buildErr.Error())
		}); err != nil {
			log.Error("failed to finish run", zap.Error(err))
		}
		return
	}

	var limiter *rate.Limiter
	if c.opts.ProvidersPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.opts.ProvidersPerSecond), 1)
	}

	var g errgroup.Group
	var unpushed runMetrics
	sem := make(chan struct{}, c.opts.Workers)
	dispatched := 0

dispatch:
	for _, providerID := range run.ProviderIDs {
		if ctx.Err() != nil {
			break
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break dispatch
		}
		dispatched++
		g.Go(func() error {
			defer func() { <-sem }()
			// In-flight providers run to completion after a cancel.
			delta := c.processProvider(bg, e, run.ID, providerID)
			h.metrics.add(delta)
			if err := c.do(bg, "update_run_metrics", func(ctx context.Context) error {
				return c.store.UpdateRunMetrics(ctx, run.ID, delta)
			}); err != nil {
				unpushed.add(delta)
				log.Warn("failed to push run metrics", zap.String("provider_id", providerID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	m := h.metrics.snapshot()
	to, msg := model.RunStatusCompleted, ""
	if ctx.Err() != nil {
		to = model.RunStatusFailed
		msg = fmt.Sprintf("run cancelled after dispatching %d of %d providers", dispatched, len(run.ProviderIDs))
	}

	fctx, cancel := context.WithTimeout(bg, finalizeTimeout)
	defer cancel()

	// Deltas that failed to push are flushed once more while the run is
	// still running; the store only accepts increments for running runs.
	if lost := unpushed.snapshot(); lost != (model.MetricsDelta{}) {
		if err := c.do(fctx, "flush_run_metrics", func(ctx context.Context) error {
			return c.store.UpdateRunMetrics(ctx, run.ID, lost)
		}); err != nil {
			log.Error("run metrics not persisted",
				zap.Int64("processed", lost.Processed),
				zap.Int64("failed", lost.Failed),
				zap.Error(err),
			)
			note := fmt.Sprintf("metrics for %d providers were not persisted", lost.Processed)
			if msg == "" {
				msg = note
			} else {
				msg += "; " + note
			}
		}
	}

	if err := c.do(fctx, "finish_run", func(ctx context.Context) error {
		return c.store.TransitionRun(ctx, run.ID, model.RunStatusRunning, to, c.opts.Now(), msg)
	}); err != nil {
		log.Error("failed to finish run", zap.String("status", string(to)), zap.Error(err))
		return
	}

	log.Info("run finished",
		zap.String("status", string(to)),
		zap.Int64("processed", m.Processed),
		zap.Int64("succeeded", m.Succeeded),
		zap.Int64("failed", m.Failed),
		zap.Int64("flagged", m.Flagged),
		zap.Int64("errors", m.Errors),
	)
}

// engine bundles the per-run stages. Every stage is stateless.
type engine struct {
	cfg         model.RunConfig
	aggregator  *confidence.Aggregator
	detector    discrepancy.Detector
	classifier  *classify.Classifier
	risk        *risk.Detector
	prioritizer *review.Prioritizer
}

func (c *Coordinator) newEngine(run *model.ValidationRun) (*engine, error) {
	now := c.opts.Now()
	scorer := c.opts.Scorer
	if scorer == nil {
		scorer = confidence.NewScorer(run.Config.Decay, now)
	}
	rd, err := risk.New(run.Config, now)
	if err != nil {
		return nil, model.NewEngineError(model.ErrorCategoryConfiguration, err)
	}
	return &engine{
		cfg:         run.Config,
		aggregator:  confidence.NewAggregator(scorer, run.Config.DateTolerance),
		detector:    discrepancy.New(run.Config.DiscrepancyMargin),
		classifier:  classify.New(run.Config),
		risk:        rd,
		prioritizer: &review.Prioritizer{Now: c.opts.Now},
	}, nil
}

// processProvider validates one provider, retrying the whole computation
// when the conditional write loses to a concurrent run. It never returns an
// error: failures are logged to the run and counted.
func (c *Coordinator) processProvider(ctx context.Context, e *engine, runID, providerID string) model.MetricsDelta {
	log := zap.L().With(zap.String("run_id", runID), zap.String("provider_id", providerID))

	var (
		delta model.MetricsDelta
		err   error
	)
	if strings.TrimSpace(providerID) == "" {
		err = model.NewEngineError(model.ErrorCategoryMalformedEvidence, eris.New("empty provider id"))
	} else {
		for attempt := 1; attempt <= e.cfg.MaxRetryOnConflict; attempt++ {
			delta, err = c.validateOnce(ctx, e, runID, providerID, log)
			if err == nil || !eris.Is(err, store.ErrConflict) {
				break
			}
			log.Info("provider write conflict, recomputing", zap.Int("attempt", attempt))
		}
		if err != nil && eris.Is(err, store.ErrConflict) {
			err = model.NewEngineError(model.ErrorCategoryWriteConflict,
				eris.Wrapf(err, "gave up after %d attempts", e.cfg.MaxRetryOnConflict))
		}
	}

	if err == nil {
		return delta
	}

	log.Error("provider validation failed", zap.Error(err))
	runErr := model.RunError{
		RunID:      runID,
		ProviderID: providerID,
		Category:   model.CategoryOf(err),
		Message:    err.Error(),
		CreatedAt:  c.opts.Now(),
	}
	if aErr := c.do(ctx, "append_run_error", func(ctx context.Context) error {
		return c.store.AppendRunError(ctx, runErr)
	}); aErr != nil {
		log.Warn("failed to record run error", zap.Error(aErr))
	}
	return model.MetricsDelta{Processed: 1, Failed: 1, Errors: 1}
}

// validateOnce reads the provider fresh, recomputes every field and writes
// the record and any review entry in one conditional write.
func (c *Coordinator) validateOnce(ctx context.Context, e *engine, runID, providerID string, log *zap.Logger) (model.MetricsDelta, error) {
	var prev *model.ProviderRecord
	if err := c.do(ctx, "get_provider", func(ctx context.Context) error {
		var err error
		prev, err = c.store.GetProvider(ctx, providerID)
		return err
	}); err != nil {
		return model.MetricsDelta{}, unavailable(err, "read provider %s", providerID)
	}

	var evidence []model.EvidenceTuple
	if err := c.do(ctx, "list_evidence", func(ctx context.Context) error {
		var err error
		evidence, err = c.store.ListEvidence(ctx, providerID, "")
		return err
	}); err != nil {
		return model.MetricsDelta{}, unavailable(err, "read evidence for %s", providerID)
	}

	byField := make(map[string][]model.EvidenceTuple)
	for _, ev := range evidence {
		byField[ev.FieldName] = append(byField[ev.FieldName], ev)
	}
	for _, f := range e.cfg.CriticalFields {
		if _, ok := byField[f]; !ok {
			byField[f] = nil
		}
	}
	fields := make([]string, 0, len(byField))
	for f := range byField {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var discarded int64
	resolutions := make([]model.FieldResolution, 0, len(fields))
	for _, f := range fields {
		policy := confidence.PolicyFor(e.cfg, f)
		kept, dropped := confidence.Screen(providerID, f, policy.Kind, e.cfg.IdentifierChecks[f], byField[f])
		for _, d := range dropped {
			log.Warn("discarding evidence",
				zap.String("field", f),
				zap.String("source", d.Evidence.SourceName),
				zap.Error(d.Err),
			)
		}
		discarded += int64(len(dropped))
		resolutions = append(resolutions, e.aggregator.Resolve(f, policy, kept))
	}

	flagged := e.detector.Apply(resolutions)
	cls := e.classifier.Classify(resolutions, flagged)
	cls = e.classifier.Annotate(cls, e.risk.Scan(resolutions))

	now := c.opts.Now().UTC()
	rec := model.ProviderRecord{
		ProviderID:           providerID,
		Fields:               make(map[string]model.ResolvedField, len(resolutions)),
		OverallConfidence:    cls.OverallConfidence,
		ValidationStatus:     cls.Status,
		RequiresManualReview: cls.RequiresManualReview,
		FlaggedReason:        cls.FlaggedReason,
		LastRunID:            runID,
		LastValidatedAt:      now,
	}
	for _, r := range resolutions {
		rec.Fields[r.FieldName] = model.ResolvedField{
			Value:       r.ResolvedValue,
			Confidence:  r.Confidence,
			Sources:     r.ContributingSources,
			Discrepancy: r.Discrepancy,
		}
	}

	var expected int64
	if prev != nil {
		expected = prev.Version
	}
	reviews := e.prioritizer.Entries(providerID, runID, cls)

	// Conflicts are resolved by the caller with a full recompute, so only
	// transient failures are retried here.
	if err := c.do(ctx, "put_provider", func(ctx context.Context) error {
		_, err := c.store.PutProvider(ctx, rec, expected, reviews...)
		return err
	}); err != nil {
		if eris.Is(err, store.ErrConflict) {
			return model.MetricsDelta{}, err
		}
		return model.MetricsDelta{}, unavailable(err, "write provider %s", providerID)
	}

	delta := model.MetricsDelta{
		Processed:         1,
		Scored:            1,
		ConfidenceSum:     cls.OverallConfidence,
		Discrepancies:     int64(len(flagged)),
		FieldsUpdated:     changedFields(prev, rec),
		EvidenceDiscarded: discarded,
	}
	switch cls.Status {
	case model.ValidationStatusFailed:
		delta.Failed = 1
	case model.ValidationStatusFlagged:
		delta.Succeeded = 1
		delta.Flagged = 1
	default:
		delta.Succeeded = 1
	}

	log.Debug("provider validated",
		zap.String("status", string(cls.Status)),
		zap.String("outcome", string(cls.Outcome)),
		zap.Float64("overall_confidence", cls.OverallConfidence),
		zap.Int("risk_flags", len(cls.RiskFlags)),
		zap.Int("review_entries", len(reviews)),
	)
	return delta, nil
}

// do runs a store call with the per-call timeout and transient retries.
func (c *Coordinator) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	cfg := c.opts.Retry
	cfg.ShouldRetry = func(err error) bool {
		if eris.Is(err, store.ErrConflict) || eris.Is(err, store.ErrNotFound) {
			return false
		}
		return resilience.IsTransient(err)
	}
	cfg.OnRetry = resilience.RetryLogger(op)
	return resilience.Do(ctx, cfg, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, c.opts.StoreTimeout)
		defer cancel()
		return fn(cctx)
	})
}

func unavailable(err error, format string, args ...any) error {
	if model.CategoryOf(err) != model.ErrorCategoryInternal {
		return err
	}
	return model.NewEngineError(model.ErrorCategoryEvidenceUnavailable, eris.Wrapf(err, format, args...))
}

// changedFields counts fields whose resolved value differs from the
// previous record.
func changedFields(prev *model.ProviderRecord, next model.ProviderRecord) int64 {
	var n int64
	for name, f := range next.Fields {
		var old *string
		if prev != nil {
			old = prev.Fields[name].Value
		}
		switch {
		case f.Value == nil && old == nil:
		case f.Value == nil || old == nil || *f.Value != *old:
			n++
		}
	}
	return n
}
