package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gridwise/sheetctx/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve <workbook.xlsx>",
	Short: "Serve context builds for one workbook over HTTP",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initBuilder(ctx, args[0])
		if err != nil {
			return err
		}
		defer env.Close()

		srv := newContextServer(env)

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.RealIP)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		r.Post("/v1/context", srv.handleBuild)
		r.Get("/v1/builds", srv.handleListBuilds)
		r.Get("/v1/builds/{id}", srv.handleGetBuild)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		httpSrv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = httpSrv.Shutdown(ctx)
		}()

		zap.L().Info("starting server",
			zap.Int("port", port),
			zap.String("workbook", env.Workbook.WorkbookID()),
		)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// contextServer serializes builds: the builder's caches are not safe for
// concurrent Build calls, and serializing keeps them warm across requests.
type contextServer struct {
	mu  sync.Mutex
	env *builderEnv
}

func newContextServer(env *builderEnv) *contextServer {
	return &contextServer{env: env}
}

type buildRequest struct {
	Sheet     string `json:"sheet"`
	Selection string `json:"selection"`
	Question  string `json:"question"`
}

func (s *contextServer) handleBuild(w http.ResponseWriter, r *http.Request) {
	var req buildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	input, err := resolveInput(s.env, req.Sheet, req.Selection, req.Question)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.mu.Lock()
	result, err := s.env.Builder.Build(r.Context(), input)
	s.mu.Unlock()
	if err != nil {
		zap.L().Error("context build failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"payload": result.Payload,
		"prompt":  result.PromptContext,
	})
}

func (s *contextServer) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	filter := store.BuildFilter{
		WorkbookID: r.URL.Query().Get("workbook"),
		Mode:       r.URL.Query().Get("mode"),
		FailedOnly: r.URL.Query().Get("failed") == "true",
		Limit:      limit,
	}

	builds, err := s.env.Store.ListBuilds(r.Context(), filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, builds)
}

func (s *contextServer) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	record, err := s.env.Store.GetBuild(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
