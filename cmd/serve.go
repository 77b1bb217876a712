package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/provider-validator/internal/coordinator"
	"github.com/sells-group/provider-validator/internal/model"
	"github.com/sells-group/provider-validator/internal/monitoring"
	"github.com/sells-group/provider-validator/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP trigger API for validation runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		st, err := openStore(ctx, "serve")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(st),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		coord := coordinator.New(st, coordinatorOptions())
		router := buildRouter(&api{
			store:    st,
			coord:    coord,
			defaults: cfg.Validation.RunConfig(),
		}, cfg.Server.AllowedOrigins)

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// api holds the dependencies of the HTTP handlers.
type api struct {
	store    store.Store
	coord    *coordinator.Coordinator
	defaults model.RunConfig
}

// buildRouter wires the trigger API routes.
func buildRouter(a *api, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", a.health)

	r.Route("/runs", func(r chi.Router) {
		r.Post("/", a.startRun)
		r.Get("/", a.listRuns)
		r.Get("/{id}", a.getRun)
		r.Delete("/{id}", a.cancelRun)
		r.Get("/{id}/errors", a.runErrors)
	})

	r.Route("/queue", func(r chi.Router) {
		r.Get("/", a.listQueue)
		r.Post("/{id}/transition", a.transitionReview)
	})

	r.Get("/providers/{id}", a.getProvider)

	return r
}

type startRunRequest struct {
	ProviderIDs []string         `json:"provider_ids"`
	JobType     string           `json:"job_type"`
	TriggeredBy string           `json:"triggered_by"`
	Config      *model.RunConfig `json:"config"`
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) startRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(req.ProviderIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "provider_ids is required"})
		return
	}

	runCfg := a.defaults
	if req.Config != nil {
		runCfg = *req.Config
	}
	triggeredBy := req.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = "api"
	}

	runID, err := a.coord.Start(r.Context(), coordinator.Request{
		ProviderIDs: req.ProviderIDs,
		JobType:     req.JobType,
		Config:      runCfg,
		TriggeredBy: triggeredBy,
	})
	if err != nil {
		zap.L().Warn("start run rejected", zap.String("run_id", runID), zap.Error(err))
		body := map[string]string{"error": err.Error(), "category": string(model.CategoryOf(err))}
		if runID != "" {
			body["run_id"] = runID
		}
		writeJSON(w, statusFor(err), body)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": string(model.RunStatusPending)})
}

func (a *api) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := model.RunStatus(q.Get("status"))
	if status != "" && !status.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown run status"})
		return
	}
	runs, err := a.store.ListRuns(r.Context(), store.RunFilter{
		Status: status,
		Limit:  queryInt(q.Get("limit")),
		Offset: queryInt(q.Get("offset")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []model.ValidationRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (a *api) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := a.coord.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	now := time.Now()
	writeJSON(w, http.StatusOK, runView{
		ValidationRun:     run,
		AvgConfidence:     run.AvgConfidence(),
		DurationSecs:      run.Duration(now).Seconds(),
		ThroughputPerHour: run.ThroughputPerHour(now),
	})
}

func (a *api) cancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.coord.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": id, "status": "cancelling"})
}

func (a *api) runErrors(w http.ResponseWriter, r *http.Request) {
	errs, err := a.store.ListRunErrors(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if errs == nil {
		errs = []model.RunError{}
	}
	writeJSON(w, http.StatusOK, errs)
}

func (a *api) listQueue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := model.ReviewStatus(q.Get("status"))
	if status != "" && !status.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown review status"})
		return
	}
	open, _ := strconv.ParseBool(q.Get("open"))
	entries, err := a.store.ListReviewQueue(r.Context(), store.ReviewFilter{
		Status:     status,
		ProviderID: q.Get("provider_id"),
		OpenOnly:   open,
		Limit:      queryInt(q.Get("limit")),
		Offset:     queryInt(q.Get("offset")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []model.ReviewQueueEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *api) transitionReview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status model.ReviewStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Status.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "a valid status is required"})
		return
	}
	entry, err := a.store.TransitionReview(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *api) getProvider(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := a.store.GetProvider(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "provider not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// statusFor maps engine and store errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case eris.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case eris.Is(err, store.ErrConflict), eris.Is(err, model.ErrIllegalTransition):
		return http.StatusConflict
	}
	switch model.CategoryOf(err) {
	case model.ErrorCategoryConfiguration, model.ErrorCategoryMalformedEvidence:
		return http.StatusUnprocessableEntity
	case model.ErrorCategoryEvidenceUnavailable:
		return http.StatusServiceUnavailable
	case model.ErrorCategoryWriteConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		zap.L().Error("request failed", zap.Error(err))
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
