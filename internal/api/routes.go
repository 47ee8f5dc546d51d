package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/longtake/longtake-agent/internal/config"
	"github.com/longtake/longtake-agent/internal/generate"
	"github.com/longtake/longtake-agent/internal/ledger"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))
	r.Get("/status", statusHandler(cfg))
	r.Post("/runs", startRunHandler(cfg))
	r.Get("/runs", listRunsHandler(cfg))
	r.Get("/runs/{id}", getRunHandler(cfg))
	r.Get("/runs/{id}/chunks", listChunksHandler(cfg))
	r.Post("/runs/{id}/stop", stopRunHandler(cfg))

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: config.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{State: "idle"}

		if active := cfg.Runner.Current(); active != nil {
			resp.State = "generating"
			resp.ActiveRun = active
		}

		if runs, err := cfg.Repository.ListRuns(r.Context(), 10); err == nil {
			for _, run := range runs {
				if run.Status == ledger.RunStatusFailed {
					resp.LastError = run.Error
					break
				}
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func startRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generate.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		id, err := cfg.Runner.Start(req)
		if errors.Is(err, generate.ErrRunActive) {
			WriteError(w, http.StatusConflict, "a run is already active", "RUN_ACTIVE")
			return
		}
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		WriteJSON(w, http.StatusAccepted, StartRunResponse{RunID: id})
	}
}

func listRunsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := cfg.Repository.ListRuns(r.Context(), 50)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list runs", "INTERNAL_ERROR")
			return
		}

		resp := RunsResponse{Runs: make([]RunResponse, len(runs))}
		for i, run := range runs {
			resp.Runs[i] = RunToResponse(run)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		run, err := cfg.Repository.GetRun(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if run == nil {
			WriteError(w, http.StatusNotFound, "run not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, RunToResponse(run))
	}
}

func listChunksHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		run, err := cfg.Repository.GetRun(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if run == nil {
			WriteError(w, http.StatusNotFound, "run not found", "NOT_FOUND")
			return
		}

		chunks, err := cfg.Repository.ListChunksByRun(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		resp := ChunksResponse{RunID: id, Chunks: make([]ChunkResponse, len(chunks))}
		for i, c := range chunks {
			resp.Chunks[i] = ChunkToResponse(c)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func stopRunHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := cfg.Runner.Stop(id)
		switch {
		case errors.Is(err, generate.ErrRunNotActive):
			WriteError(w, http.StatusNotFound, "run is not active", "NOT_FOUND")
		case errors.Is(err, generate.ErrNotStoppable):
			WriteError(w, http.StatusConflict, "only continuous runs accept a stop request", "NOT_STOPPABLE")
		case err != nil:
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		default:
			WriteJSON(w, http.StatusAccepted, StopRunResponse{RunID: id, Status: "stopping"})
		}
	}
}
