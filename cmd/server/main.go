package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/insightops/kpipulse/internal/artifact"
	"github.com/insightops/kpipulse/internal/config"
	"github.com/insightops/kpipulse/internal/fetch"
	"github.com/insightops/kpipulse/internal/history"
	"github.com/insightops/kpipulse/internal/httpx"
	"github.com/insightops/kpipulse/internal/insight"
	"github.com/insightops/kpipulse/internal/metrics"
	"github.com/insightops/kpipulse/internal/pipeline"
	"github.com/insightops/kpipulse/internal/social"
	"github.com/insightops/kpipulse/internal/utils"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	m := metrics.New()
	cl := fetch.NewHTTPClient(cfg.HTTPTimeout)

	webBackoff := utils.NewBackoff(cfg.RetryBase, cfg.FetchRetries)
	webBackoff.OnRetry = func(int) { m.FetchRetriesTotal.WithLabelValues("web_analytics").Inc() }
	payBackoff := utils.NewBackoff(cfg.RetryBase, cfg.FetchRetries)
	payBackoff.OnRetry = func(int) { m.FetchRetriesTotal.WithLabelValues("payments").Inc() }

	web := fetch.NewWebAnalytics(cl, cfg.WebAnalyticsURL, cfg.WebPropertyID, webBackoff, logger)
	pay := fetch.NewPayments(cl, cfg.PaymentsURL, cfg.PaymentsAPIKey, payBackoff, logger)
	gen := insight.NewGenerator(
		insight.NewChatClient(cfg.ModelURL, cfg.ModelAPIKey, cfg.ModelName, cfg.HTTPTimeout), logger)
	store := artifact.NewStore(cfg.OutputDir, logger)

	var hist *history.Store
	if h, err := history.Open(cfg.HistoryDBPath); err != nil {
		logger.Warn("run history disabled", slog.String("err", err.Error()))
	} else {
		hist = h
		defer hist.Close()
	}

	p := &pipeline.Pipeline{
		Web:             web,
		Payments:        pay,
		Generator:       gen,
		Store:           store,
		Metrics:         m,
		Log:             logger,
		WindowDays:      cfg.WindowDays,
		RetryModelOnce:  cfg.RetryModelOnce,
		ModelRetryDelay: cfg.RetryBase,
	}
	if hist != nil {
		p.History = hist
	}
	if cfg.SocialToken != "" {
		p.Poster = social.NewLogPoster(logger)
	}

	var histAPI httpx.RunHistory
	if hist != nil {
		histAPI = hist
	}
	r := httpx.NewRouter(logger, p, store, histAPI, m.Handler())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting server", slog.String("port", cfg.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", slog.String("err", err.Error()))
		os.Exit(1)
	}
}
