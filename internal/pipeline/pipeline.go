// Package pipeline drives a publication date through fetch, extraction,
// indexing, matching and dispatch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-watch/internal/archive"
	"github.com/JakeFAU/gazette-watch/internal/dispatcher"
	"github.com/JakeFAU/gazette-watch/internal/gazette"
	"github.com/JakeFAU/gazette-watch/internal/metrics"
	"github.com/JakeFAU/gazette-watch/internal/notify"
)

var tracer = otel.Tracer("github.com/JakeFAU/gazette-watch/internal/pipeline")

// ReportBuilder matches a watcher's terms against an indexed date.
type ReportBuilder interface {
	Build(ctx context.Context, watcherID int64, terms []gazette.Term, date civil.Date, trigger gazette.Trigger) (gazette.Report, error)
}

// Renderer turns a report into a message.
type Renderer interface {
	Render(rep gazette.Report, recipients []string, subject string, attachExport bool) (notify.Message, error)
}

// Notifier delivers one watcher's message.
type Notifier interface {
	Dispatch(ctx context.Context, watcherID int64, msg notify.Message) error
}

// Archiver keeps a copy of the raw edition.
type Archiver interface {
	Store(ctx context.Context, doc gazette.RawDocument) (archive.Entry, error)
}

// Config tunes a Pipeline.
type Config struct {
	// WatcherConcurrency bounds per-watcher fan-out in matching and dispatch.
	WatcherConcurrency int
	// EventsTopic receives a RunSummary after every run.
	EventsTopic string
	// Location decides what "today" is.
	Location *time.Location
	// SideEffectTimeout bounds archive, mirror, event and history writes.
	SideEffectTimeout time.Duration
}

// Deps are the collaborators of a Pipeline. Archiver, Publisher, Mirror and
// History are optional.
type Deps struct {
	Fetcher   gazette.Fetcher
	Extractor gazette.Extractor
	Index     gazette.Index
	Registry  gazette.Registry
	Reports   ReportBuilder
	Renderer  Renderer
	Notifier  Notifier
	Archiver  Archiver
	Publisher gazette.Publisher
	Mirror    gazette.Mirror
	History   gazette.RunHistory
	Clock     gazette.Clock
	IDs       gazette.IDGenerator
	Logger    *zap.Logger
}

// Pipeline is safe for concurrent runs on different dates.
type Pipeline struct {
	cfg  Config
	deps Deps
	pool *dispatcher.Dispatcher[gazette.Watcher]
	log  *zap.Logger
}

// ReplayOptions control a single-watcher replay.
type ReplayOptions struct {
	// Dispatch sends the report when it has highlights and recipients.
	Dispatch bool
}

// New validates deps and returns a Pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("pipeline: fetcher is required")
	case deps.Extractor == nil:
		return nil, errors.New("pipeline: extractor is required")
	case deps.Index == nil:
		return nil, errors.New("pipeline: index is required")
	case deps.Registry == nil:
		return nil, errors.New("pipeline: registry is required")
	case deps.Reports == nil:
		return nil, errors.New("pipeline: report builder is required")
	case deps.Renderer == nil:
		return nil, errors.New("pipeline: renderer is required")
	case deps.Notifier == nil:
		return nil, errors.New("pipeline: notifier is required")
	case deps.Clock == nil:
		return nil, errors.New("pipeline: clock is required")
	case deps.IDs == nil:
		return nil, errors.New("pipeline: id generator is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.SideEffectTimeout <= 0 {
		cfg.SideEffectTimeout = 30 * time.Second
	}
	log := deps.Logger.Named("pipeline")
	return &Pipeline{
		cfg:  cfg,
		deps: deps,
		pool: dispatcher.New[gazette.Watcher](cfg.WatcherConcurrency, log),
		log:  log,
	}, nil
}

// Today is the current date in the gazette time zone.
func (p *Pipeline) Today() civil.Date {
	return civil.DateOf(p.deps.Clock.Now().In(p.cfg.Location))
}

// watcherOutcome is written only by the worker that owns its slot.
type watcherOutcome struct {
	started bool
	report  gazette.Report
	err     error
}

// RunForDate ingests date and notifies every active watcher. The returned
// error is the fatal cause for aborted and canceled runs.
func (p *Pipeline) RunForDate(ctx context.Context, date civil.Date) (summary gazette.RunSummary, err error) {
	summary = gazette.RunSummary{
		Date:      date,
		Trigger:   gazette.TriggerScheduled,
		StartedAt: p.deps.Clock.Now(),
		Failures:  []gazette.WatcherFailure{},
	}
	runID, err := p.deps.IDs.NewID()
	if err != nil {
		return summary, fmt.Errorf("generate run id: %w", err)
	}
	summary.RunID = runID

	ctx, span := tracer.Start(ctx, "pipeline.run", withDate(date))
	defer span.End()
	span.SetAttributes(attribute.String("gazette.run_id", runID))

	log := p.log.With(zap.String("run_id", runID), zap.Stringer("date", date))
	m := gazette.NewMachine()
	// Named results: the deferred writes must reach the caller.
	defer func() {
		summary.State = m.Current()
		summary.FinishedAt = p.deps.Clock.Now()
		span.SetAttributes(attribute.String("gazette.status", string(summary.Status)))
		p.finish(ctx, log, summary)
	}()

	published, err := p.ingest(ctx, m, date, &summary, log)
	if err != nil {
		summary.Status = gazette.RunStatusAborted
		summary.Error = err.Error()
		summary.ErrorCode = gazette.Classify(err)
		if ctx.Err() != nil {
			summary.ErrorCode = gazette.CodeCanceled
		}
		span.SetStatus(codes.Error, err.Error())
		log.Error("run aborted", zap.String("code", string(summary.ErrorCode)), zap.Error(err))
		return summary, err
	}
	if !published {
		summary.Status = gazette.RunStatusSkipped
		log.Info("edition not published, skipping run")
		return summary, nil
	}

	m.Advance(gazette.StateMatching)
	watchers, outcomes, err := p.matchActive(ctx, date, log)
	if err != nil {
		summary.Error = err.Error()
		summary.ErrorCode = gazette.Classify(err)
		log.Error("list active watchers failed", zap.Error(err))
	}
	summary.WatchersProcessed = len(watchers)
	if ctx.Err() != nil && !allStarted(outcomes) {
		return p.cancel(m, &summary, ctx.Err(), log)
	}
	for i, o := range outcomes {
		if !o.started {
			continue
		}
		if o.err != nil {
			summary.Failures = append(summary.Failures, failure(watchers[i].ID, gazette.StageMatch, o.err))
			continue
		}
		if o.report.Count() > 0 {
			summary.WatchersMatched++
		}
	}

	m.Advance(gazette.StateDispatching)
	var (
		pending []gazette.Watcher
		reports []gazette.Report
	)
	for i, o := range outcomes {
		w := watchers[i]
		switch {
		case !o.started || o.err != nil:
		case o.report.Count() == 0:
			log.Debug("no highlights, nothing to send", zap.Int64("watcher_id", w.ID))
		case len(w.Recipients) == 0:
			log.Info("watcher has no recipients, skipping dispatch", zap.Int64("watcher_id", w.ID))
		default:
			pending = append(pending, w)
			reports = append(reports, o.report)
		}
	}
	sendErrs := make([]error, len(pending))
	sent := make([]bool, len(pending))
	_ = p.stage(ctx, "dispatch", date, func(ctx context.Context) error {
		p.pool.Run(ctx, pending, func(ctx context.Context, i int, w gazette.Watcher) {
			sent[i] = true
			sendErrs[i] = p.dispatchWatcher(ctx, w, reports[i])
		})
		return nil
	})
	for i, w := range pending {
		switch {
		case !sent[i]:
		case sendErrs[i] != nil:
			summary.Failures = append(summary.Failures, failure(w.ID, gazette.StageDispatch, sendErrs[i]))
		default:
			summary.WatchersNotified++
		}
	}
	if ctx.Err() != nil && !allTrue(sent) {
		return p.cancel(m, &summary, ctx.Err(), log)
	}

	m.Advance(gazette.StateDone)
	summary.Status = gazette.RunStatusCompleted
	if len(summary.Failures) > 0 || summary.Error != "" {
		summary.Status = gazette.RunStatusCompletedWithFailures
	}
	log.Info("run finished",
		zap.String("status", string(summary.Status)),
		zap.Int("pages_indexed", summary.PagesIndexed),
		zap.Int("watchers_processed", summary.WatchersProcessed),
		zap.Int("watchers_notified", summary.WatchersNotified),
		zap.Int("failures", len(summary.Failures)),
	)
	return summary, nil
}

// ReplayForWatcher matches one watcher, active or not, against date,
// ingesting the edition first when the index has nothing for it.
func (p *Pipeline) ReplayForWatcher(ctx context.Context, watcherID int64, date civil.Date, opts ReplayOptions) (gazette.Report, error) {
	if date.After(p.Today()) {
		return gazette.Report{}, fmt.Errorf("replay %s: %w", date, gazette.ErrFutureDate)
	}
	ctx, span := tracer.Start(ctx, "pipeline.replay", withDate(date))
	defer span.End()
	span.SetAttributes(attribute.Int64("gazette.watcher_id", watcherID))
	log := p.log.With(zap.Int64("watcher_id", watcherID), zap.Stringer("date", date))

	w, err := p.deps.Registry.Get(ctx, watcherID)
	if err != nil {
		return gazette.Report{}, fmt.Errorf("load watcher: %w", err)
	}

	m := gazette.NewMachine()
	indexed, err := p.deps.Index.HasContent(ctx, date)
	if err != nil {
		return gazette.Report{}, fmt.Errorf("check index: %w", err)
	}
	if !indexed {
		log.Info("date not indexed, ingesting before replay")
		var summary gazette.RunSummary
		published, err := p.ingest(ctx, m, date, &summary, log)
		if err != nil {
			return gazette.Report{}, err
		}
		if !published {
			return gazette.Report{}, fmt.Errorf("replay %s: %w", date, gazette.ErrNotPublished)
		}
	}

	m.Advance(gazette.StateMatching)
	var rep gazette.Report
	err = p.stage(ctx, "match", date, func(ctx context.Context) error {
		var err error
		rep, err = p.matchWatcher(ctx, w, date, gazette.TriggerReplay)
		return err
	})
	if err != nil {
		return gazette.Report{}, err
	}

	m.Advance(gazette.StateDispatching)
	if opts.Dispatch && rep.Count() > 0 && len(w.Recipients) > 0 {
		if err := p.dispatchWatcher(ctx, w, rep); err != nil {
			return rep, err
		}
	}
	m.Advance(gazette.StateDone)
	log.Info("replay finished", zap.Int("count", rep.Count()), zap.Bool("dispatch", opts.Dispatch))
	return rep, nil
}

// ingest runs Fetching, Extracting and Indexing. It reports false when the
// edition does not exist. Archive and mirror failures are logged only.
func (p *Pipeline) ingest(ctx context.Context, m *gazette.Machine, date civil.Date, summary *gazette.RunSummary, log *zap.Logger) (bool, error) {
	m.Advance(gazette.StateFetching)
	var res gazette.FetchResult
	err := p.stage(ctx, "fetch", date, func(ctx context.Context) error {
		var err error
		res, err = p.deps.Fetcher.Fetch(ctx, date)
		return err
	})
	if err != nil {
		m.Advance(gazette.StateAborted)
		return false, err
	}
	if !res.Published() {
		m.Advance(gazette.StateSkipped)
		return false, nil
	}
	doc := res.Document
	p.archive(ctx, doc, summary, log)

	m.Advance(gazette.StateExtracting)
	var pages []gazette.Page
	err = p.stage(ctx, "extract", date, func(ctx context.Context) error {
		var err error
		pages, err = p.deps.Extractor.Extract(ctx, doc)
		return err
	})
	if err != nil {
		m.Advance(gazette.StateAborted)
		return false, err
	}

	m.Advance(gazette.StateIndexing)
	err = p.stage(ctx, "index", date, func(ctx context.Context) error {
		return p.deps.Index.Upsert(ctx, pages)
	})
	if err != nil {
		m.Advance(gazette.StateAborted)
		return false, err
	}
	summary.PagesIndexed = len(pages)
	metrics.ObservePagesIndexed(len(pages))
	log.Info("edition indexed", zap.Int("pages", len(pages)))
	p.mirror(ctx, pages, log)
	return true, nil
}

func (p *Pipeline) matchActive(ctx context.Context, date civil.Date, log *zap.Logger) ([]gazette.Watcher, []watcherOutcome, error) {
	var (
		watchers []gazette.Watcher
		outcomes []watcherOutcome
	)
	err := p.stage(ctx, "match", date, func(ctx context.Context) error {
		var err error
		watchers, err = p.deps.Registry.ListActive(ctx)
		if err != nil {
			return fmt.Errorf("list active watchers: %w", err)
		}
		outcomes = make([]watcherOutcome, len(watchers))
		p.pool.Run(ctx, watchers, func(ctx context.Context, i int, w gazette.Watcher) {
			rep, err := p.matchWatcher(ctx, w, date, gazette.TriggerScheduled)
			outcomes[i] = watcherOutcome{started: true, report: rep, err: err}
			if err != nil {
				log.Warn("watcher match failed", zap.Int64("watcher_id", w.ID), zap.Error(err))
			}
		})
		return nil
	})
	return watchers, outcomes, err
}

// matchWatcher is shared by scheduled runs and replays.
func (p *Pipeline) matchWatcher(ctx context.Context, w gazette.Watcher, date civil.Date, trigger gazette.Trigger) (gazette.Report, error) {
	rep, err := p.deps.Reports.Build(ctx, w.ID, w.Terms, date, trigger)
	if err != nil {
		metrics.ObserveWatcher(string(gazette.StageMatch), string(gazette.Classify(err)))
		return gazette.Report{}, err
	}
	metrics.ObserveWatcher(string(gazette.StageMatch), "ok")
	metrics.ObserveHighlights(rep.Count())
	return rep, nil
}

// dispatchWatcher renders and sends one report. The send is detached from
// ctx cancellation so a message is never abandoned halfway; the notifier's
// own timeout still bounds it.
func (p *Pipeline) dispatchWatcher(ctx context.Context, w gazette.Watcher, rep gazette.Report) error {
	msg, err := p.deps.Renderer.Render(rep, w.Recipients, w.Subject, w.AttachExport)
	if err != nil {
		err = &gazette.DeliveryError{WatcherID: w.ID, Err: err}
	} else {
		err = p.deps.Notifier.Dispatch(context.WithoutCancel(ctx), w.ID, msg)
	}
	if err != nil {
		metrics.ObserveWatcher(string(gazette.StageDispatch), string(gazette.Classify(err)))
		p.log.Warn("watcher dispatch failed", zap.Int64("watcher_id", w.ID), zap.Error(err))
		return err
	}
	metrics.ObserveWatcher(string(gazette.StageDispatch), "ok")
	return nil
}

func (p *Pipeline) archive(ctx context.Context, doc gazette.RawDocument, summary *gazette.RunSummary, log *zap.Logger) {
	if p.deps.Archiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.SideEffectTimeout)
	defer cancel()
	entry, err := p.deps.Archiver.Store(ctx, doc)
	if err != nil {
		log.Warn("archive edition failed", zap.Error(err))
		return
	}
	summary.EditionDigest = entry.Digest
	log.Info("edition archived", zap.String("uri", entry.URI), zap.Int("bytes", entry.Size))
}

func (p *Pipeline) mirror(ctx context.Context, pages []gazette.Page, log *zap.Logger) {
	if p.deps.Mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.SideEffectTimeout)
	defer cancel()
	if err := p.deps.Mirror.MirrorPages(ctx, pages); err != nil {
		log.Warn("mirror pages failed", zap.Error(err))
	}
}

// finish records the run outside ctx cancellation.
func (p *Pipeline) finish(ctx context.Context, log *zap.Logger, summary gazette.RunSummary) {
	metrics.ObserveRun(string(summary.Trigger), string(summary.Status))
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.SideEffectTimeout)
	defer cancel()
	if p.deps.History != nil {
		if err := p.deps.History.Record(ctx, summary); err != nil {
			log.Warn("record run failed", zap.Error(err))
		}
	}
	if p.deps.Publisher != nil && p.cfg.EventsTopic != "" {
		id, err := p.deps.Publisher.Publish(ctx, p.cfg.EventsTopic, summary)
		if err != nil {
			log.Warn("publish run event failed", zap.Error(err))
			return
		}
		log.Debug("run event published", zap.String("message_id", id))
	}
}

func (p *Pipeline) cancel(m *gazette.Machine, summary *gazette.RunSummary, cause error, log *zap.Logger) (gazette.RunSummary, error) {
	m.Advance(gazette.StateCanceled)
	summary.Status = gazette.RunStatusCanceled
	summary.Error = cause.Error()
	summary.ErrorCode = gazette.CodeCanceled
	log.Warn("run canceled between watchers", zap.Error(cause))
	return *summary, fmt.Errorf("run canceled: %w", cause)
}

// stage wraps fn in a span and records its duration.
func (p *Pipeline) stage(ctx context.Context, name string, date civil.Date, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "pipeline."+name, withDate(date))
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	outcome := "ok"
	if err != nil {
		outcome = string(gazette.Classify(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.ObserveStage(name, outcome, time.Since(start))
	return err
}

func failure(watcherID int64, stage gazette.Stage, err error) gazette.WatcherFailure {
	return gazette.WatcherFailure{
		WatcherID: watcherID,
		Stage:     stage,
		Code:      gazette.Classify(err),
		Error:     err.Error(),
	}
}

func allStarted(outcomes []watcherOutcome) bool {
	for _, o := range outcomes {
		if !o.started {
			return false
		}
	}
	return true
}

func allTrue(flags []bool) bool {
	for _, f := range flags {
		if !f {
			return false
		}
	}
	return true
}

func withDate(date civil.Date) trace.SpanStartOption {
	return trace.WithAttributes(attribute.String("gazette.date", date.String()))
}
