package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eatplanted/venuescout/internal/model"
	"github.com/eatplanted/venuescout/internal/resilience"
	"github.com/eatplanted/venuescout/internal/store"
	"github.com/eatplanted/venuescout/internal/strategy"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the control-plane HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		api := &apiServer{env: env, baseCtx: ctx}
		go api.runQueueWorker(ctx)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: api.router(),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

type apiServer struct {
	env *pipelineEnv
	// baseCtx outlives individual requests; background run execution is
	// bound to it so a disconnecting client does not kill the run.
	baseCtx context.Context
}

// runQueueWorker claims pending runs left behind by an earlier process and
// dispatches them. Freshly created runs are dispatched by their handler; the
// guarded start transition makes double-claims impossible, so losing a race
// here is harmless.
func (a *apiServer) runQueueWorker(ctx context.Context) {
	sweep := func() {
		pending, err := a.env.Tracker.List(ctx, store.RunFilter{Status: model.RunStatusPending})
		if err != nil {
			zap.L().Error("run queue sweep failed", zap.Error(err))
			return
		}
		for _, run := range pending {
			run := run
			go func() {
				var err error
				switch run.Kind {
				case model.RunKindDiscovery:
					err = a.env.Discovery.Execute(ctx, run.ID)
				case model.RunKindExtraction:
					err = a.env.Extraction.Execute(ctx, run.ID)
				}
				if err != nil && !eris.Is(err, store.ErrInvalidTransition) {
					zap.L().Error("queued run failed",
						zap.String("run_id", run.ID), zap.Error(err))
				}
			}()
		}
	}

	sweep()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

func (a *apiServer) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/discovery/start", a.startDiscovery)
	r.Post("/extraction/start", a.startExtraction)

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", a.listRuns)
		r.Get("/{id}", a.getRun)
		r.Get("/{id}/stream", a.streamRun)
		r.Post("/{id}/cancel", a.cancelRun)
	})

	r.Route("/strategies", func(r chi.Router) {
		r.Get("/", a.listStrategies)
		r.Get("/tiers", a.strategyTiers)
		r.Post("/evolve", a.evolveStrategy)
		r.Post("/{id}/deprecate", a.deprecateStrategy)
		r.Post("/apply-feedback", a.applyFeedback)
	})

	r.Route("/entities", func(r chi.Router) {
		r.Get("/", a.listEntities)
		r.Post("/{id}/feedback", a.submitFeedback)
	})

	r.Route("/budget", func(r chi.Router) {
		r.Get("/", a.budgetStatus)
		r.Get("/events", a.budgetEvents)
	})

	return r
}

// acceptedRun is the 202 body for run-starting endpoints: enough for a
// client to follow the run without constructing URLs itself.
func acceptedRun(run *model.ScraperRun) map[string]string {
	return map[string]string{
		"run_id":     run.ID,
		"status_url": "/runs/" + run.ID,
		"stream_url": "/runs/" + run.ID + "/stream",
	}
}

// writeJSON writes a JSON body with the given status.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps pipeline errors onto HTTP statuses: validation 400, not
// found 404, budget refusals 429, everything else 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var ve *resilience.ValidationError
	switch {
	case eris.As(err, &ve):
		status = http.StatusBadRequest
	case eris.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case eris.Is(err, store.ErrInvalidTransition):
		status = http.StatusConflict
	case resilience.IsBudgetRefusal(err):
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type startRunRequest struct {
	Countries     []string `json:"countries"`
	Platforms     []string `json:"platforms"`
	Target        string   `json:"target,omitempty"`
	VenueID       string   `json:"venue_id,omitempty"`
	ChainID       string   `json:"chain_id,omitempty"`
	MaxQueries    int      `json:"max_queries,omitempty"`
	MaxVenues     int      `json:"max_venues,omitempty"`
	MaxChainDepth int      `json:"max_chain_depth,omitempty"`
	DryRun        bool     `json:"dry_run,omitempty"`
}

func (req startRunRequest) config() model.RunConfig {
	return model.RunConfig{
		Countries:     req.Countries,
		Platforms:     req.Platforms,
		Target:        req.Target,
		VenueID:       req.VenueID,
		ChainID:       req.ChainID,
		MaxQueries:    req.MaxQueries,
		MaxVenues:     req.MaxVenues,
		MaxChainDepth: req.MaxChainDepth,
		DryRun:        req.DryRun,
	}
}

func (a *apiServer) startDiscovery(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	// Refuse before creating the run so a throttled system stays quiet.
	planned := req.MaxQueries
	if planned <= 0 {
		planned = cfg.Discovery.MaxQueries
	}
	if !req.DryRun {
		if err := a.env.Governor.CanAffordScraperRun(r.Context(), planned, 0, a.env.Searcher.FreeTier()); err != nil {
			writeError(w, err)
			return
		}
	}

	run, err := a.env.Tracker.Create(r.Context(), model.RunKindDiscovery, req.config())
	if err != nil {
		writeError(w, err)
		return
	}

	go func() {
		if err := a.env.Discovery.Execute(a.baseCtx, run.ID); err != nil {
			zap.L().Error("discovery run failed",
				zap.String("run_id", run.ID), zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, acceptedRun(run))
}

func (a *apiServer) startExtraction(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	// Extraction spends no search queries but may spend classifier calls,
	// at most one per target venue.
	maxVenues := req.MaxVenues
	if maxVenues <= 0 {
		maxVenues = cfg.Extraction.MaxVenues
	}
	if !req.DryRun {
		if err := a.env.Governor.CanAffordScraperRun(r.Context(), 0, maxVenues, true); err != nil {
			writeError(w, err)
			return
		}
	}

	run, err := a.env.Tracker.Create(r.Context(), model.RunKindExtraction, req.config())
	if err != nil {
		writeError(w, err)
		return
	}

	go func() {
		if err := a.env.Extraction.Execute(a.baseCtx, run.ID); err != nil {
			zap.L().Error("extraction run failed",
				zap.String("run_id", run.ID), zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, acceptedRun(run))
}

func (a *apiServer) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := a.env.Tracker.List(r.Context(), store.RunFilter{
		Status: model.RunStatus(q.Get("status")),
		Kind:   model.RunKind(q.Get("kind")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *apiServer) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := a.env.Tracker.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// streamRun serves run progress as server-sent events. The current snapshot
// is sent immediately; the stream closes when the run reaches a terminal
// state or the client disconnects.
func (a *apiServer) streamRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := a.env.Tracker.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(run *model.ScraperRun) {
		payload, err := json.Marshal(run)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: run\ndata: %s\n\n", payload)
		flusher.Flush()
	}

	send(run)
	if run.Status.Terminal() {
		return
	}

	updates, cancel := a.env.Tracker.Hub().Subscribe(id)
	defer cancel()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case update, open := <-updates:
			if !open {
				return
			}
			send(update)
			if update.Status.Terminal() {
				return
			}
		}
	}
}

func (a *apiServer) cancelRun(w http.ResponseWriter, r *http.Request) {
	if err := a.env.Tracker.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancellation requested"})
}

func (a *apiServer) listStrategies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	strategies, err := a.env.Strategies.GetActiveStrategies(r.Context(), q.Get("platform"), q.Get("country"), strategy.ListOptions{})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"strategies": strategies})
}

func (a *apiServer) strategyTiers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tiers, err := a.env.Strategies.GetStrategyTiers(r.Context(), q.Get("platform"), q.Get("country"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tiers)
}

func (a *apiServer) evolveStrategy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParentID string   `json:"parent_id"`
		Template string   `json:"template"`
		Tags     []string `json:"tags,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.ParentID == "" || req.Template == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "parent_id and template are required"})
		return
	}

	child, err := a.env.Strategies.CreateEvolved(r.Context(), req.ParentID, req.Template, req.Tags)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, child)
}

func (a *apiServer) deprecateStrategy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := a.env.Strategies.Deprecate(r.Context(), chi.URLParam(r, "id"), req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deprecated"})
}

func (a *apiServer) applyFeedback(w http.ResponseWriter, r *http.Request) {
	n, err := a.env.Feedback.ApplyToStrategies(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

func (a *apiServer) listEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entities, err := a.env.Store.ListEntities(r.Context(), store.EntityFilter{
		Status:   model.EntityStatus(q.Get("status")),
		Kind:     model.EntityKind(q.Get("kind")),
		Platform: q.Get("platform"),
		RunID:    q.Get("run"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entities)
}

func (a *apiServer) submitFeedback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Result   string `json:"result"`
		Reviewer string `json:"reviewer"`
		Notes    string `json:"notes,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	rec := &model.FeedbackRecord{
		EntityID: chi.URLParam(r, "id"),
		Result:   model.FeedbackResult(req.Result),
		Reviewer: req.Reviewer,
		Notes:    req.Notes,
	}
	if err := a.env.Feedback.Submit(r.Context(), rec); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (a *apiServer) budgetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.env.Governor.ShouldThrottle(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *apiServer) budgetEvents(w http.ResponseWriter, r *http.Request) {
	events, err := a.env.Store.ListBudgetEvents(r.Context(), 100)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
