// Package insight turns a KPI datamart into a model-written recommendation
// report.
package insight

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/insightops/kpipulse/internal/models"
)

// ModelClient is the narrow capability the generator needs from the
// language-model service. Tests substitute a deterministic stub.
type ModelClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type Generator struct {
	mc  ModelClient
	log *slog.Logger
	now func() time.Time
}

func NewGenerator(mc ModelClient, log *slog.Logger) *Generator {
	return &Generator{mc: mc, log: log, now: time.Now}
}

const promptInstructions = `You are a data analysis and marketing expert.
Analyze the KPI summary above and answer in exactly this format:

1. Up to 5 improvement points as a markdown table:
| priority | issue | recommended_action |
|----------|-------|--------------------|
| high | <issue, max 40 chars> | <action, max 80 chars> |
| medium | <issue, max 40 chars> | <action, max 80 chars> |
| low | <issue, max 40 chars> | <action, max 80 chars> |

2. Two short social posts, each on its own line starting with "Post:",
max 280 characters, one emoji, with a call to action.`

// Generate makes one outbound model call per invocation. There is no caching:
// calling it twice on the same datamart produces a new, generally different,
// report.
func (g *Generator) Generate(ctx context.Context, dm *models.KpiDatamart) (*models.InsightReport, error) {
	prompt := Summarize(dm) + "\n" + promptInstructions

	text, err := g.mc.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	items, err := parseActionItems(text)
	if err != nil {
		return nil, err
	}

	g.log.Info("generated insights", slog.Int("action_items", len(items)))
	return &models.InsightReport{
		GeneratedAt: g.now().UTC(),
		Narrative:   strings.TrimSpace(text),
		ActionItems: items,
	}, nil
}

var actionRowRe = regexp.MustCompile(`(?m)^\s*\|\s*([^|]+?)\s*\|\s*([^|]+?)\s*\|\s*([^|]+?)\s*\|\s*$`)

// parseActionItems extracts prioritized rows from the markdown table in the
// model reply. A reply with no parseable rows is malformed, not empty.
func parseActionItems(text string) ([]models.ActionItem, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &MalformedResponseError{Reason: "empty reply"}
	}

	var items []models.ActionItem
	for _, m := range actionRowRe.FindAllStringSubmatch(text, -1) {
		prio, ok := models.ParsePriority(m[1])
		if !ok {
			continue // header and separator rows land here
		}
		issue := strings.TrimSpace(m[2])
		action := strings.TrimSpace(m[3])
		desc := issue
		if action != "" {
			desc = issue + ": " + action
		}
		items = append(items, models.ActionItem{Description: desc, Priority: prio})
	}
	if len(items) == 0 {
		return nil, &MalformedResponseError{Reason: "no action-item table found"}
	}
	return items, nil
}
