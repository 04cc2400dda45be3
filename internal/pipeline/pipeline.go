// Package pipeline sequences fetch, datamart assembly, insight generation and
// persistence for a single run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/insightops/kpipulse/internal/artifact"
	"github.com/insightops/kpipulse/internal/datamart"
	"github.com/insightops/kpipulse/internal/fetch"
	"github.com/insightops/kpipulse/internal/insight"
	"github.com/insightops/kpipulse/internal/metrics"
	"github.com/insightops/kpipulse/internal/models"
	"github.com/insightops/kpipulse/internal/social"
)

// InsightGenerator is the narrow contract the orchestrator needs; tests plug
// in a deterministic stub.
type InsightGenerator interface {
	Generate(ctx context.Context, dm *models.KpiDatamart) (*models.InsightReport, error)
}

// RunLog records run outcomes. Failures here are logged, never surfaced.
type RunLog interface {
	RecordRun(ctx context.Context, res *models.RunResult) error
}

type Pipeline struct {
	Web       fetch.Source
	Payments  fetch.Source
	Generator InsightGenerator
	Store     *artifact.Store

	// Optional collaborators.
	History RunLog
	Poster  social.Poster
	Metrics *metrics.Metrics

	Log *slog.Logger

	WindowDays int

	// RetryModelOnce allows one delayed retry when the model service is
	// unavailable. MalformedResponse is never retried.
	RetryModelOnce  bool
	ModelRetryDelay time.Duration

	Now func() time.Time
}

// DefaultRange is the trailing window ending yesterday.
func (p *Pipeline) DefaultRange() models.DateRange {
	days := p.WindowDays
	if days <= 0 {
		days = 30
	}
	return models.LastNDays(days, p.now())
}

// Run executes one pipeline pass. Fetch and build failures abort before any
// artifact is written and return an error alongside the failed result.
// Insight failures degrade: the datamart is already persisted, the previous
// insight artifact is left untouched, and no error is returned.
func (p *Pipeline) Run(ctx context.Context, r models.DateRange) (*models.RunResult, error) {
	res := &models.RunResult{
		RunID:      uuid.NewString(),
		Range:      r,
		RangeStart: r.Start.Format("2006-01-02"),
		RangeEnd:   r.End.Format("2006-01-02"),
		StartedAt:  p.now().UTC(),
	}
	log := p.Log.With(slog.String("run_id", res.RunID), slog.String("range", r.String()))

	// The two sources are independent; fetch them concurrently.
	fetchStart := p.now()
	var (
		wg               sync.WaitGroup
		webRecs, payRecs []models.RawMetricRecord
		webErr, payErr   error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		webRecs, webErr = p.Web.Fetch(ctx, r)
	}()
	go func() {
		defer wg.Done()
		payRecs, payErr = p.Payments.Fetch(ctx, r)
	}()
	wg.Wait()
	p.observe("fetch", p.now().Sub(fetchStart))

	if webErr != nil {
		return p.fail(ctx, res, log, fmt.Errorf("fetching %s: %w", models.SourceWebAnalytics, webErr))
	}
	if payErr != nil {
		return p.fail(ctx, res, log, fmt.Errorf("fetching %s: %w", models.SourcePayments, payErr))
	}

	buildStart := p.now()
	dm, err := datamart.Build(append(webRecs, payRecs...), r)
	p.observe("build", p.now().Sub(buildStart))
	if err != nil {
		return p.fail(ctx, res, log, fmt.Errorf("building datamart: %w", err))
	}
	res.Rows = len(dm.Rows)

	// Persist the datamart before calling the model so an insight failure
	// still leaves the dashboard with fresh KPI numbers.
	if err := p.Store.SaveDatamart(dm); err != nil {
		return p.fail(ctx, res, log, fmt.Errorf("persisting datamart: %w", err))
	}

	genStart := p.now()
	rep, err := p.generate(ctx, dm)
	p.observe("insight", p.now().Sub(genStart))
	if err != nil {
		return p.degrade(ctx, res, log, err)
	}
	if err := p.Store.SaveInsights(rep); err != nil {
		return p.degrade(ctx, res, log, fmt.Errorf("persisting insights: %w", err))
	}
	res.ActionItems = len(rep.ActionItems)

	p.publish(ctx, log, rep)

	res.Status = models.RunSuccess
	p.finish(ctx, res, log)
	return res, nil
}

// Regenerate re-runs insight generation against the persisted datamart and
// overwrites the insight artifacts only. The KPI CSV is not touched.
func (p *Pipeline) Regenerate(ctx context.Context) (*models.InsightReport, error) {
	dm, _, err := p.Store.LoadArtifacts()
	if err != nil {
		return nil, err
	}
	rep, err := p.generate(ctx, dm)
	if err != nil {
		return nil, err
	}
	if err := p.Store.SaveInsights(rep); err != nil {
		return nil, err
	}
	p.Log.Info("regenerated insights", slog.Int("action_items", len(rep.ActionItems)))
	return rep, nil
}

func (p *Pipeline) generate(ctx context.Context, dm *models.KpiDatamart) (*models.InsightReport, error) {
	rep, err := p.Generator.Generate(ctx, dm)
	if err == nil || !p.RetryModelOnce || !errors.Is(err, insight.ErrModelUnavailable) {
		return rep, err
	}

	delay := p.ModelRetryDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	p.Log.Warn("model unavailable, retrying once", slog.Duration("delay", delay))
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(delay):
	}
	return p.Generator.Generate(ctx, dm)
}

func (p *Pipeline) publish(ctx context.Context, log *slog.Logger, rep *models.InsightReport) {
	if p.Poster == nil {
		return
	}
	posts := insight.ExtractPosts(rep.Narrative)
	if len(posts) == 0 {
		log.Info("no social posts found in narrative")
		return
	}
	if err := p.Poster.Post(ctx, posts[0]); err != nil {
		log.Warn("social post failed", slog.String("err", err.Error()))
	}
}

func (p *Pipeline) fail(ctx context.Context, res *models.RunResult, log *slog.Logger, err error) (*models.RunResult, error) {
	res.Status = models.RunFailed
	res.Error = err.Error()
	p.finish(ctx, res, log)
	return res, err
}

func (p *Pipeline) degrade(ctx context.Context, res *models.RunResult, log *slog.Logger, err error) (*models.RunResult, error) {
	res.Status = models.RunDegraded
	res.Error = err.Error()
	p.finish(ctx, res, log)
	return res, nil
}

func (p *Pipeline) finish(ctx context.Context, res *models.RunResult, log *slog.Logger) {
	res.FinishedAt = p.now().UTC()
	if p.Metrics != nil {
		p.Metrics.RunsTotal.WithLabelValues(string(res.Status)).Inc()
	}
	if p.History != nil {
		if err := p.History.RecordRun(ctx, res); err != nil {
			log.Warn("recording run history failed", slog.String("err", err.Error()))
		}
	}
	switch res.Status {
	case models.RunSuccess:
		log.Info("run complete", slog.Int("rows", res.Rows), slog.Int("action_items", res.ActionItems))
	case models.RunDegraded:
		log.Warn("run degraded, insights unavailable", slog.String("err", res.Error))
	default:
		log.Error("run failed", slog.String("err", res.Error))
	}
}

func (p *Pipeline) observe(stage string, d time.Duration) {
	if p.Metrics != nil {
		p.Metrics.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
