package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/insightops/kpipulse/internal/artifact"
	"github.com/insightops/kpipulse/internal/models"
	"github.com/insightops/kpipulse/internal/pipeline"
	"github.com/insightops/kpipulse/internal/utils"
)

// RunHistory is what the router needs from the run log; nil disables /runs.
type RunHistory interface {
	RecentRuns(ctx context.Context, limit int) ([]models.RunResult, error)
}

func NewRouter(log *slog.Logger, p *pipeline.Pipeline, st *artifact.Store, hist RunHistory, promHandler http.Handler) http.Handler {
	mux := chi.NewRouter()
	mux.Use(utils.RequestID)
	mux.Use(utils.Logger(log))

	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
	mux.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ready")) })

	mux.Post("/pipeline/run", func(w http.ResponseWriter, r *http.Request) {
		rng, err := rangeFromQuery(r, p)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		res, _ := p.Run(r.Context(), rng)
		switch res.Status {
		case models.RunSuccess:
			writeJSON(w, http.StatusOK, res)
		case models.RunDegraded:
			writeJSON(w, http.StatusMultiStatus, res)
		default:
			writeJSON(w, http.StatusBadGateway, res)
		}
	})

	mux.Post("/insights/regenerate", func(w http.ResponseWriter, r *http.Request) {
		rep, err := p.Regenerate(r.Context())
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				http.Error(w, "no kpi datamart yet, run the pipeline first", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	})

	mux.Get("/artifacts/kpi", func(w http.ResponseWriter, r *http.Request) {
		dm, _, err := st.LoadArtifacts()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				http.Error(w, "no kpi artifact", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, dm)
	})

	mux.Get("/artifacts/insights", func(w http.ResponseWriter, r *http.Request) {
		_, rep, err := st.LoadArtifacts()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				http.Error(w, "no artifacts", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if rep == nil {
			http.Error(w, "insights unavailable, retry", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	})

	if hist != nil {
		mux.Get("/runs", func(w http.ResponseWriter, r *http.Request) {
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			runs, err := hist.RecentRuns(r.Context(), limit)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, runs)
		})
	}

	if promHandler != nil {
		mux.Get("/metrics", promHandler.ServeHTTP)
	}

	return mux
}

func rangeFromQuery(r *http.Request, p *pipeline.Pipeline) (models.DateRange, error) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" && to == "" {
		return p.DefaultRange(), nil
	}
	start, err := time.Parse("2006-01-02", from)
	if err != nil {
		return models.DateRange{}, err
	}
	end, err := time.Parse("2006-01-02", to)
	if err != nil {
		return models.DateRange{}, err
	}
	return models.NewDateRange(start, end)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	enc.Encode(v)
}
