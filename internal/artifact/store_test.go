package artifact

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/insightops/kpipulse/internal/models"
)

func testLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testDatamart() *models.KpiDatamart {
	d1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)
	return &models.KpiDatamart{
		Range: models.DateRange{Start: d1, End: d2},
		Rows: []models.KpiRow{
			{
				Date: d1, Sessions: 100, NewUsers: 20,
				GrossRevenue: decimal.NewFromInt(200), Transactions: 5,
				ConversionRate: 0.05, RevenuePerSession: 2.0, LtvCacRatio: math.NaN(),
			},
			{
				Date: d2, GrossRevenue: decimal.Zero,
				ConversionRate: math.NaN(), RevenuePerSession: math.NaN(), LtvCacRatio: math.NaN(),
			},
		},
	}
}

func testReport() *models.InsightReport {
	return &models.InsightReport{
		GeneratedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Narrative:   "Sessions grew steadily while conversion held flat.",
		ActionItems: []models.ActionItem{
			{Priority: models.PriorityHigh, Description: "Checkout friction: simplify the flow"},
			{Priority: models.PriorityLow, Description: "Weekend dip: schedule promotions"},
		},
	}
}

func TestSaveDatamartRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir(), testLog())
	if err := s.SaveDatamart(testDatamart()); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(s.KpiPath())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "NaN") {
		t.Fatalf("NaN sentinel must survive in the CSV:\n%s", raw)
	}
	if !strings.Contains(string(raw), "200.00") {
		t.Fatalf("revenue must be written with two decimals:\n%s", raw)
	}

	dm, rep, err := s.LoadArtifacts()
	if err != nil {
		t.Fatal(err)
	}
	if rep != nil {
		t.Fatal("no insights were saved, expected nil report")
	}
	if len(dm.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(dm.Rows))
	}
	if dm.Rows[0].Sessions != 100 || !dm.Rows[0].GrossRevenue.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("unexpected first row %+v", dm.Rows[0])
	}
	if !math.IsNaN(dm.Rows[1].ConversionRate) || !math.IsNaN(dm.Rows[0].LtvCacRatio) {
		t.Fatal("NaN cells must round-trip as NaN")
	}
}

func TestSaveInsightsRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir(), testLog())
	if err := s.SaveDatamart(testDatamart()); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveInsights(testReport()); err != nil {
		t.Fatal(err)
	}

	md, err := os.ReadFile(s.InsightsPath())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(md), "# AI-Powered Insights") {
		t.Fatalf("unexpected markdown header:\n%s", md)
	}

	_, rep, err := s.LoadArtifacts()
	if err != nil {
		t.Fatal(err)
	}
	if rep == nil {
		t.Fatal("expected a report")
	}
	if rep.Narrative != testReport().Narrative {
		t.Fatalf("narrative changed in round trip: %q", rep.Narrative)
	}
	if !rep.GeneratedAt.Equal(testReport().GeneratedAt) {
		t.Fatalf("generated_at changed: %v", rep.GeneratedAt)
	}
	if len(rep.ActionItems) != 2 || rep.ActionItems[0].Priority != models.PriorityHigh {
		t.Fatalf("unexpected action items %+v", rep.ActionItems)
	}
}

func TestSaveOverwritesPreviousRun(t *testing.T) {
	s := NewStore(t.TempDir(), testLog())
	if err := s.SaveDatamart(testDatamart()); err != nil {
		t.Fatal(err)
	}

	next := testDatamart()
	next.Rows = next.Rows[:1]
	next.Rows[0].Sessions = 999
	if err := s.SaveDatamart(next); err != nil {
		t.Fatal(err)
	}

	dm, _, err := s.LoadArtifacts()
	if err != nil {
		t.Fatal(err)
	}
	if len(dm.Rows) != 1 || dm.Rows[0].Sessions != 999 {
		t.Fatalf("expected overwritten datamart, got %+v", dm.Rows)
	}
}

func TestLoadArtifactsMissingDatamart(t *testing.T) {
	s := NewStore(t.TempDir(), testLog())
	_, _, err := s.LoadArtifacts()
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected fs.ErrNotExist, got %v", err)
	}
}

func TestLoadArtifactsInsightsWithoutActionPlan(t *testing.T) {
	s := NewStore(t.TempDir(), testLog())
	if err := s.SaveDatamart(testDatamart()); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveInsights(testReport()); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(s.ActionsPath()); err != nil {
		t.Fatal(err)
	}

	_, rep, err := s.LoadArtifacts()
	if err != nil {
		t.Fatal(err)
	}
	if rep == nil || len(rep.ActionItems) != 0 {
		t.Fatalf("expected report without action items, got %+v", rep)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, testLog())
	if err := s.SaveDatamart(testDatamart()); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveInsights(testReport()); err != nil {
		t.Fatal(err)
	}

	leftovers, err := filepath.Glob(filepath.Join(dir, ".tmp-*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}
}
