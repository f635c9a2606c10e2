// Package handler exposes the tracking service over HTTP.
package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Schera-ole/trainkit/internal/config"
	internalerrors "github.com/Schera-ole/trainkit/internal/errors"
	middlewareinternal "github.com/Schera-ole/trainkit/internal/middleware"
	models "github.com/Schera-ole/trainkit/internal/model"
	"github.com/Schera-ole/trainkit/internal/service"
)

// Router builds the HTTP API of the tracking server. metricsHandler serves
// /metrics when not nil.
func Router(
	trackingService *service.TrackingService,
	logger *zap.SugaredLogger,
	config *config.ServerConfig,
	metricsHandler http.Handler,
) chi.Router {
	router := chi.NewRouter()
	router.Use(middlewareinternal.LoggingMiddleware(logger))

	// the metrics handler negotiates its own compression
	if metricsHandler != nil {
		router.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	router.Group(func(api chi.Router) {
		api.Use(middlewareinternal.HashMiddleware(config.Key))
		api.Use(middlewareinternal.DecompressMiddleware)
		api.Use(middlewareinternal.GzipMiddleware)
		api.Use(middleware.StripSlashes)
		api.Use(middleware.Timeout(15 * time.Second))
		apiRoutes(api, trackingService, logger, config)
	})
	return router
}

func apiRoutes(
	router chi.Router,
	trackingService *service.TrackingService,
	logger *zap.SugaredLogger,
	config *config.ServerConfig,
) {
	router.Route("/runs", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, trackingService.Runs())
		})
		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			CreateRunHandler(w, r, trackingService, logger, config)
		})
		r.Route("/{run}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				GetRunHandler(w, r, trackingService, logger)
			})
			r.Delete("/", func(w http.ResponseWriter, r *http.Request) {
				DeleteRunHandler(w, r, trackingService, logger, config)
			})
			r.Post("/updates", func(w http.ResponseWriter, r *http.Request) {
				UpdatesHandler(w, r, trackingService, logger, config)
			})
			r.Get("/avg/{metric}", func(w http.ResponseWriter, r *http.Request) {
				AvgHandler(w, r, trackingService, logger)
			})
			r.Post("/reset", func(w http.ResponseWriter, r *http.Request) {
				ResetHandler(w, r, trackingService, logger, config)
			})
			r.Post("/checkpoint/{epoch}", func(w http.ResponseWriter, r *http.Request) {
				CheckpointHandler(w, r, trackingService, logger, config)
			})
			r.Get("/history", func(w http.ResponseWriter, r *http.Request) {
				HistoryHandler(w, r, trackingService, logger)
			})
		})
	})
	router.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		PingHandler(w, r, trackingService, logger)
	})
}

// CreateRunHandler starts a run from a RunRequest body.
func CreateRunHandler(
	w http.ResponseWriter,
	r *http.Request,
	trackingService *service.TrackingService,
	logger *zap.SugaredLogger,
	config *config.ServerConfig,
) {
	var request models.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid JSON format: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := trackingService.CreateRun(request.ID, request.Metrics); err != nil {
		writeError(w, logger, err)
		return
	}
	records, err := trackingService.Records(request.ID)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.RunSnapshot{ID: request.ID, Records: records})
	saveIfSynchronous(trackingService, logger, config)
}

// GetRunHandler returns every record of a run.
func GetRunHandler(w http.ResponseWriter, r *http.Request, trackingService *service.TrackingService, logger *zap.SugaredLogger) {
	run := chi.URLParam(r, "run")
	records, err := trackingService.Records(run)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, models.RunSnapshot{ID: run, Records: records})
}

// DeleteRunHandler forgets a run and its checkpoints.
func DeleteRunHandler(
	w http.ResponseWriter,
	r *http.Request,
	trackingService *service.TrackingService,
	logger *zap.SugaredLogger,
	config *config.ServerConfig,
) {
	if err := trackingService.DeleteRun(r.Context(), chi.URLParam(r, "run")); err != nil {
		writeError(w, logger, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	saveIfSynchronous(trackingService, logger, config)
}

// UpdatesHandler applies a batch of observations to a run.
func UpdatesHandler(
	w http.ResponseWriter,
	r *http.Request,
	trackingService *service.TrackingService,
	logger *zap.SugaredLogger,
	config *config.ServerConfig,
) {
	run := chi.URLParam(r, "run")
	var observations []models.Observation
	if err := json.NewDecoder(r.Body).Decode(&observations); err != nil {
		http.Error(w, "Invalid JSON format: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := trackingService.Update(run, observations); err != nil {
		writeError(w, logger, err)
		return
	}
	result, err := trackingService.Result(run)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
	saveIfSynchronous(trackingService, logger, config)
}

// AvgHandler writes the current average of one metric as plain text.
func AvgHandler(w http.ResponseWriter, r *http.Request, trackingService *service.TrackingService, logger *zap.SugaredLogger) {
	avg, err := trackingService.Avg(chi.URLParam(r, "run"), chi.URLParam(r, "metric"))
	if err != nil {
		writeError(w, logger, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(strconv.FormatFloat(avg, 'g', -1, 64)))
}

// ResetHandler zeroes every metric of a run.
func ResetHandler(
	w http.ResponseWriter,
	r *http.Request,
	trackingService *service.TrackingService,
	logger *zap.SugaredLogger,
	config *config.ServerConfig,
) {
	if err := trackingService.Reset(chi.URLParam(r, "run")); err != nil {
		writeError(w, logger, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	saveIfSynchronous(trackingService, logger, config)
}

// CheckpointHandler stores the results of an epoch. The query parameter
// reset=true starts the next epoch from zero.
func CheckpointHandler(
	w http.ResponseWriter,
	r *http.Request,
	trackingService *service.TrackingService,
	logger *zap.SugaredLogger,
	config *config.ServerConfig,
) {
	epoch, err := strconv.Atoi(chi.URLParam(r, "epoch"))
	if err != nil {
		http.Error(w, "Epoch should be an integer", http.StatusBadRequest)
		return
	}
	reset := false
	if value := r.URL.Query().Get("reset"); value != "" {
		reset, err = strconv.ParseBool(value)
		if err != nil {
			http.Error(w, "Reset should be a boolean", http.StatusBadRequest)
			return
		}
	}
	results, err := trackingService.Checkpoint(r.Context(), chi.URLParam(r, "run"), epoch, reset)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
	if reset {
		saveIfSynchronous(trackingService, logger, config)
	}
}

// HistoryHandler returns the stored checkpoints of a run.
func HistoryHandler(w http.ResponseWriter, r *http.Request, trackingService *service.TrackingService, logger *zap.SugaredLogger) {
	history, err := trackingService.History(r.Context(), chi.URLParam(r, "run"))
	if err != nil {
		writeError(w, logger, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// PingHandler checks the repository connection.
func PingHandler(w http.ResponseWriter, r *http.Request, trackingService *service.TrackingService, logger *zap.SugaredLogger) {
	if err := trackingService.Ping(r.Context()); err != nil {
		logger.Errorw("ping failed", "error", err)
		http.Error(w, "Failed to connect to storage: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// writeJSON encodes v before sending the status, so an encoding failure
// still reaches the client as a 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, "error encoding response: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, logger *zap.SugaredLogger, err error) {
	switch {
	case errors.Is(err, internalerrors.ErrRunNotFound), errors.Is(err, internalerrors.ErrKeyNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, internalerrors.ErrRunExists):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, internalerrors.ErrInvalidArgument):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		logger.Errorw("request failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// saveIfSynchronous writes the snapshot after every change when the store
// interval is zero.
func saveIfSynchronous(trackingService *service.TrackingService, logger *zap.SugaredLogger, config *config.ServerConfig) {
	if config.StoreInterval != 0 || config.SnapshotPath == "" {
		return
	}
	if err := trackingService.SaveSnapshot(config.SnapshotPath); err != nil {
		logger.Infof("couldn't save to file %s", err)
	}
}
