package pipeline

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/insightops/kpipulse/internal/artifact"
	"github.com/insightops/kpipulse/internal/insight"
	"github.com/insightops/kpipulse/internal/models"
)

func testLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type stubSource struct {
	name models.Source
	recs []models.RawMetricRecord
	err  error
}

func (s *stubSource) Name() models.Source { return s.name }

func (s *stubSource) Fetch(_ context.Context, _ models.DateRange) ([]models.RawMetricRecord, error) {
	return s.recs, s.err
}

type stubGenerator struct {
	rep   *models.InsightReport
	errs  []error
	calls int
}

func (g *stubGenerator) Generate(_ context.Context, _ *models.KpiDatamart) (*models.InsightReport, error) {
	g.calls++
	if len(g.errs) > 0 {
		err := g.errs[0]
		g.errs = g.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return g.rep, nil
}

type stubHistory struct {
	recorded []models.RunResult
}

func (h *stubHistory) RecordRun(_ context.Context, res *models.RunResult) error {
	h.recorded = append(h.recorded, *res)
	return nil
}

type stubPoster struct {
	posts []string
}

func (p *stubPoster) Post(_ context.Context, text string) error {
	p.posts = append(p.posts, text)
	return nil
}

func testReport() *models.InsightReport {
	return &models.InsightReport{
		GeneratedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Narrative:   "Sessions grew.\n\nPost: Growth keeps compounding, see what changed this month!",
		ActionItems: []models.ActionItem{
			{Priority: models.PriorityHigh, Description: "Flat conversion: test checkout changes"},
		},
	}
}

func testRange(t *testing.T) models.DateRange {
	t.Helper()
	r, err := models.NewDateRange(
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func rec(day int, src models.Source, metric string, v int64) models.RawMetricRecord {
	return models.RawMetricRecord{
		Date:       time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC),
		Source:     src,
		MetricName: metric,
		Value:      decimal.NewFromInt(v),
	}
}

func newTestPipeline(t *testing.T, gen *stubGenerator) (*Pipeline, *artifact.Store, *stubHistory) {
	t.Helper()
	store := artifact.NewStore(t.TempDir(), testLog())
	hist := &stubHistory{}
	p := &Pipeline{
		Web: &stubSource{name: models.SourceWebAnalytics, recs: []models.RawMetricRecord{
			rec(1, models.SourceWebAnalytics, "sessions", 100),
			rec(1, models.SourceWebAnalytics, "new_users", 20),
		}},
		Payments: &stubSource{name: models.SourcePayments, recs: []models.RawMetricRecord{
			rec(1, models.SourcePayments, "gross_revenue", 200),
			rec(1, models.SourcePayments, "transactions", 5),
		}},
		Generator: gen,
		Store:     store,
		History:   hist,
		Log:       testLog(),
	}
	return p, store, hist
}

func TestRunSuccess(t *testing.T) {
	gen := &stubGenerator{rep: testReport()}
	p, store, hist := newTestPipeline(t, gen)

	res, err := p.Run(context.Background(), testRange(t))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != models.RunSuccess {
		t.Fatalf("expected success, got %s (%s)", res.Status, res.Error)
	}
	if res.RunID == "" || res.FinishedAt.IsZero() {
		t.Fatalf("incomplete result %+v", res)
	}
	if res.Rows != 2 || res.ActionItems != 1 {
		t.Fatalf("unexpected counts: rows=%d items=%d", res.Rows, res.ActionItems)
	}

	dm, rep, err := store.LoadArtifacts()
	if err != nil {
		t.Fatal(err)
	}
	if len(dm.Rows) != 2 || rep == nil {
		t.Fatal("expected both artifacts persisted")
	}
	if len(hist.recorded) != 1 || hist.recorded[0].Status != models.RunSuccess {
		t.Fatalf("expected one success recorded, got %+v", hist.recorded)
	}
}

func TestRunDegradedWhenModelUnavailable(t *testing.T) {
	gen := &stubGenerator{errs: []error{insight.ErrModelUnavailable}}
	p, store, hist := newTestPipeline(t, gen)

	res, err := p.Run(context.Background(), testRange(t))
	if err != nil {
		t.Fatalf("degraded runs must not return an error, got %v", err)
	}
	if res.Status != models.RunDegraded {
		t.Fatalf("expected degraded, got %s", res.Status)
	}

	// KPI artifact present, insights absent.
	dm, rep, loadErr := store.LoadArtifacts()
	if loadErr != nil {
		t.Fatal(loadErr)
	}
	if len(dm.Rows) != 2 {
		t.Fatal("datamart must be persisted before the model call")
	}
	if rep != nil {
		t.Fatal("no insight artifact should exist after a degraded run")
	}
	if len(hist.recorded) != 1 || hist.recorded[0].Status != models.RunDegraded {
		t.Fatalf("expected one degraded run recorded, got %+v", hist.recorded)
	}
}

func TestRunFailedWhenFetchFails(t *testing.T) {
	gen := &stubGenerator{rep: testReport()}
	p, store, hist := newTestPipeline(t, gen)
	p.Web = &stubSource{name: models.SourceWebAnalytics, err: errors.New("upstream down")}

	res, err := p.Run(context.Background(), testRange(t))
	if err == nil {
		t.Fatal("failed runs must return an error")
	}
	if res.Status != models.RunFailed {
		t.Fatalf("expected failed, got %s", res.Status)
	}
	if gen.calls != 0 {
		t.Fatal("model must not be called when fetch fails")
	}
	if _, statErr := os.Stat(store.KpiPath()); !errors.Is(statErr, fs.ErrNotExist) {
		t.Fatal("no artifacts should be written on a failed run")
	}
	if len(hist.recorded) != 1 || hist.recorded[0].Error == "" {
		t.Fatalf("expected a failed run with an error recorded, got %+v", hist.recorded)
	}
}

func TestRunRetriesModelOnceWhenEnabled(t *testing.T) {
	gen := &stubGenerator{rep: testReport(), errs: []error{insight.ErrModelUnavailable, nil}}
	p, _, _ := newTestPipeline(t, gen)
	p.RetryModelOnce = true
	p.ModelRetryDelay = time.Millisecond

	res, err := p.Run(context.Background(), testRange(t))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != models.RunSuccess {
		t.Fatalf("expected recovery on retry, got %s", res.Status)
	}
	if gen.calls != 2 {
		t.Fatalf("expected exactly 2 model calls, got %d", gen.calls)
	}
}

func TestRunDoesNotRetryMalformedReplies(t *testing.T) {
	gen := &stubGenerator{errs: []error{&insight.MalformedResponseError{Reason: "no table"}}}
	p, _, _ := newTestPipeline(t, gen)
	p.RetryModelOnce = true
	p.ModelRetryDelay = time.Millisecond

	res, err := p.Run(context.Background(), testRange(t))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != models.RunDegraded {
		t.Fatalf("expected degraded, got %s", res.Status)
	}
	if gen.calls != 1 {
		t.Fatalf("malformed replies must not be retried, got %d calls", gen.calls)
	}
}

func TestRunNoRetryByDefault(t *testing.T) {
	gen := &stubGenerator{errs: []error{insight.ErrModelUnavailable, nil}, rep: testReport()}
	p, _, _ := newTestPipeline(t, gen)

	res, err := p.Run(context.Background(), testRange(t))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != models.RunDegraded {
		t.Fatalf("expected degraded without retries, got %s", res.Status)
	}
	if gen.calls != 1 {
		t.Fatalf("expected a single model call, got %d", gen.calls)
	}
}

func TestRunPublishesFirstPost(t *testing.T) {
	gen := &stubGenerator{rep: testReport()}
	p, _, _ := newTestPipeline(t, gen)
	poster := &stubPoster{}
	p.Poster = poster

	if _, err := p.Run(context.Background(), testRange(t)); err != nil {
		t.Fatal(err)
	}
	if len(poster.posts) != 1 {
		t.Fatalf("expected one social post, got %d", len(poster.posts))
	}
	if poster.posts[0] != "Growth keeps compounding, see what changed this month!" {
		t.Fatalf("unexpected post %q", poster.posts[0])
	}
}

func TestRegenerateLeavesDatamartUntouched(t *testing.T) {
	gen := &stubGenerator{rep: testReport()}
	p, store, _ := newTestPipeline(t, gen)

	if _, err := p.Run(context.Background(), testRange(t)); err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(store.KpiPath())
	if err != nil {
		t.Fatal(err)
	}

	next := testReport()
	next.Narrative = "A fresh look at the same numbers."
	gen.rep = next
	rep, err := p.Regenerate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Narrative != next.Narrative {
		t.Fatalf("unexpected narrative %q", rep.Narrative)
	}

	after, err := os.ReadFile(store.KpiPath())
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Fatal("regeneration must not rewrite the KPI artifact")
	}

	_, loaded, err := store.LoadArtifacts()
	if err != nil {
		t.Fatal(err)
	}
	if loaded == nil || loaded.Narrative != next.Narrative {
		t.Fatalf("expected overwritten insights, got %+v", loaded)
	}
}

func TestRegenerateWithoutDatamart(t *testing.T) {
	gen := &stubGenerator{rep: testReport()}
	p, _, _ := newTestPipeline(t, gen)

	if _, err := p.Regenerate(context.Background()); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
}

func TestDefaultRange(t *testing.T) {
	now := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	p := &Pipeline{WindowDays: 7, Now: func() time.Time { return now }}

	r := p.DefaultRange()
	if r.Days() != 7 {
		t.Fatalf("expected 7 days, got %d", r.Days())
	}
	if want := time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC); !r.End.Equal(want) {
		t.Fatalf("expected end %v, got %v", want, r.End)
	}

	p.WindowDays = 0
	if got := p.DefaultRange().Days(); got != 30 {
		t.Fatalf("expected default window of 30 days, got %d", got)
	}
}
