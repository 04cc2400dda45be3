// Package artifact persists the run outputs the dashboard consumes: the KPI
// table as CSV, the insight narrative as markdown, and the action plan as CSV.
// Each run overwrites the previous artifacts; there is no versioning.
package artifact

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/insightops/kpipulse/internal/models"
)

const (
	kpiFile        = "kpi_daily.csv"
	insightsFile   = "insights.md"
	actionPlanFile = "action_plan.csv"
)

var kpiHeader = []string{
	"date", "sessions", "new_users", "gross_revenue", "transactions",
	"conversion_rate", "revenue_per_session", "ltv_cac_ratio",
}

type Store struct {
	dir string
	log *slog.Logger
}

func NewStore(dir string, log *slog.Logger) *Store {
	return &Store{dir: dir, log: log}
}

func (s *Store) KpiPath() string      { return filepath.Join(s.dir, kpiFile) }
func (s *Store) InsightsPath() string { return filepath.Join(s.dir, insightsFile) }
func (s *Store) ActionsPath() string  { return filepath.Join(s.dir, actionPlanFile) }

// SaveDatamart writes the KPI CSV atomically: a temp file is renamed into
// place, so a crash mid-write never leaves a partial datamart behind.
func (s *Store) SaveDatamart(dm *models.KpiDatamart) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	rows := make([][]string, 0, len(dm.Rows)+1)
	rows = append(rows, kpiHeader)
	for _, r := range dm.Rows {
		rows = append(rows, []string{
			r.Date.Format("2006-01-02"),
			strconv.Itoa(r.Sessions),
			strconv.Itoa(r.NewUsers),
			r.GrossRevenue.StringFixed(2),
			strconv.Itoa(r.Transactions),
			formatRatio(r.ConversionRate),
			formatRatio(r.RevenuePerSession),
			formatRatio(r.LtvCacRatio),
		})
	}
	if err := s.writeCSV(s.KpiPath(), rows); err != nil {
		return err
	}
	s.log.Info("saved kpi datamart",
		slog.Int("rows", len(dm.Rows)), slog.String("path", s.KpiPath()))
	return nil
}

// SaveInsights writes the narrative markdown and the action-plan CSV.
func (s *Store) SaveInsights(rep *models.InsightReport) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	md := "# AI-Powered Insights\n\nGenerated: " +
		rep.GeneratedAt.UTC().Format(time.RFC3339) + "\n\n" + rep.Narrative + "\n"
	if err := s.writeFile(s.InsightsPath(), []byte(md)); err != nil {
		return err
	}

	rows := make([][]string, 0, len(rep.ActionItems)+1)
	rows = append(rows, []string{"priority", "description"})
	for _, it := range rep.ActionItems {
		rows = append(rows, []string{string(it.Priority), it.Description})
	}
	if err := s.writeCSV(s.ActionsPath(), rows); err != nil {
		return err
	}
	s.log.Info("saved insights",
		slog.Int("action_items", len(rep.ActionItems)), slog.String("path", s.InsightsPath()))
	return nil
}

// LoadArtifacts reads the persisted datamart and, when present, the insight
// report. Absent insight files yield a nil report: the dashboard stays usable
// with KPI numbers even when the last generation failed.
func (s *Store) LoadArtifacts() (*models.KpiDatamart, *models.InsightReport, error) {
	dm, err := s.loadDatamart()
	if err != nil {
		return nil, nil, err
	}
	rep, err := s.loadInsights()
	if err != nil {
		return nil, nil, err
	}
	return dm, rep, nil
}

func (s *Store) loadDatamart() (*models.KpiDatamart, error) {
	f, err := os.Open(s.KpiPath())
	if err != nil {
		return nil, fmt.Errorf("opening kpi artifact: %w", err)
	}
	defer f.Close()

	recs, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading kpi artifact: %w", err)
	}
	if len(recs) < 2 {
		return nil, fmt.Errorf("kpi artifact %s has no rows", s.KpiPath())
	}

	rows := make([]models.KpiRow, 0, len(recs)-1)
	for _, rec := range recs[1:] {
		if len(rec) != len(kpiHeader) {
			return nil, fmt.Errorf("kpi artifact row has %d columns, want %d", len(rec), len(kpiHeader))
		}
		d, err := time.Parse("2006-01-02", rec[0])
		if err != nil {
			return nil, fmt.Errorf("kpi artifact: bad date %q: %w", rec[0], err)
		}
		revenue, err := decimal.NewFromString(rec[3])
		if err != nil {
			return nil, fmt.Errorf("kpi artifact: bad revenue %q: %w", rec[3], err)
		}
		rows = append(rows, models.KpiRow{
			Date:              models.DayUTC(d),
			Sessions:          atoi(rec[1]),
			NewUsers:          atoi(rec[2]),
			GrossRevenue:      revenue,
			Transactions:      atoi(rec[4]),
			ConversionRate:    parseRatio(rec[5]),
			RevenuePerSession: parseRatio(rec[6]),
			LtvCacRatio:       parseRatio(rec[7]),
		})
	}
	return &models.KpiDatamart{
		Range: models.DateRange{Start: rows[0].Date, End: rows[len(rows)-1].Date},
		Rows:  rows,
	}, nil
}

func (s *Store) loadInsights() (*models.InsightReport, error) {
	md, err := os.ReadFile(s.InsightsPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading insights artifact: %w", err)
	}

	rep := &models.InsightReport{}
	lines := strings.Split(string(md), "\n")
	body := make([]string, 0, len(lines))
	for _, line := range lines {
		if t, ok := strings.CutPrefix(line, "Generated: "); ok && rep.GeneratedAt.IsZero() {
			if ts, err := time.Parse(time.RFC3339, t); err == nil {
				rep.GeneratedAt = ts
				continue
			}
		}
		if line == "# AI-Powered Insights" {
			continue
		}
		body = append(body, line)
	}
	rep.Narrative = strings.TrimSpace(strings.Join(body, "\n"))

	f, err := os.Open(s.ActionsPath())
	if os.IsNotExist(err) {
		return rep, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading action plan artifact: %w", err)
	}
	defer f.Close()

	recs, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading action plan artifact: %w", err)
	}
	for i, rec := range recs {
		if i == 0 || len(rec) != 2 {
			continue
		}
		prio, ok := models.ParsePriority(rec[0])
		if !ok {
			continue
		}
		rep.ActionItems = append(rep.ActionItems, models.ActionItem{
			Priority:    prio,
			Description: rec[1],
		})
	}
	return rep, nil
}

func (s *Store) writeCSV(path string, rows [][]string) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), path)
}

func (s *Store) writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), path)
}

// formatRatio keeps the NaN sentinel visible in the CSV instead of writing a
// misleading zero.
func formatRatio(f float64) string {
	if math.IsNaN(f) {
		return "NaN"
	}
	return strconv.FormatFloat(f, 'f', 4, 64)
}

func parseRatio(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
