// Command pipeline runs one pipeline pass and exits. Exit codes: 0 success,
// 2 degraded (KPI artifact written, insights unavailable), 1 failed.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/insightops/kpipulse/internal/artifact"
	"github.com/insightops/kpipulse/internal/config"
	"github.com/insightops/kpipulse/internal/fetch"
	"github.com/insightops/kpipulse/internal/history"
	"github.com/insightops/kpipulse/internal/insight"
	"github.com/insightops/kpipulse/internal/metrics"
	"github.com/insightops/kpipulse/internal/models"
	"github.com/insightops/kpipulse/internal/pipeline"
	"github.com/insightops/kpipulse/internal/social"
	"github.com/insightops/kpipulse/internal/utils"
)

func main() {
	var from, to string
	flag.StringVar(&from, "from", "", "range start (YYYY-MM-DD); defaults to the trailing window")
	flag.StringVar(&to, "to", "", "range end (YYYY-MM-DD)")
	flag.Parse()

	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	cl := fetch.NewHTTPClient(cfg.HTTPTimeout)
	bo := utils.NewBackoff(cfg.RetryBase, cfg.FetchRetries)

	p := &pipeline.Pipeline{
		Web:             fetch.NewWebAnalytics(cl, cfg.WebAnalyticsURL, cfg.WebPropertyID, bo, logger),
		Payments:        fetch.NewPayments(cl, cfg.PaymentsURL, cfg.PaymentsAPIKey, bo, logger),
		Generator:       insight.NewGenerator(insight.NewChatClient(cfg.ModelURL, cfg.ModelAPIKey, cfg.ModelName, cfg.HTTPTimeout), logger),
		Store:           artifact.NewStore(cfg.OutputDir, logger),
		Metrics:         metrics.New(),
		Log:             logger,
		WindowDays:      cfg.WindowDays,
		RetryModelOnce:  cfg.RetryModelOnce,
		ModelRetryDelay: cfg.RetryBase,
	}
	if hist, err := history.Open(cfg.HistoryDBPath); err != nil {
		logger.Warn("run history disabled", slog.String("err", err.Error()))
	} else {
		defer hist.Close()
		p.History = hist
	}
	if cfg.SocialToken != "" {
		p.Poster = social.NewLogPoster(logger)
	}

	rng := p.DefaultRange()
	if from != "" || to != "" {
		start, err1 := time.Parse("2006-01-02", from)
		end, err2 := time.Parse("2006-01-02", to)
		if err1 != nil || err2 != nil {
			logger.Error("both -from and -to must be YYYY-MM-DD")
			os.Exit(1)
		}
		r, err := models.NewDateRange(start, end)
		if err != nil {
			logger.Error("invalid range", slog.String("err", err.Error()))
			os.Exit(1)
		}
		rng = r
	}

	res, _ := p.Run(context.Background(), rng)
	switch res.Status {
	case models.RunSuccess:
		os.Exit(0)
	case models.RunDegraded:
		os.Exit(2)
	default:
		os.Exit(1)
	}
}
