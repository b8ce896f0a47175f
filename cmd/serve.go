package main

import (
	"context"
	"encoding/json"
	"errors"
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

	"github.com/sells-group/insider-cli/internal/export"
	"github.com/sells-group/insider-cli/internal/lookup"
	"github.com/sells-group/insider-cli/internal/pipeline"
)

var servePort int

// insiderQuerier answers insider queries for the HTTP API.
type insiderQuerier interface {
	Run(ctx context.Context, q pipeline.Query) (*pipeline.Result, error)
}

// insidersResponse is the body of GET /v1/insiders/{symbol}.
type insidersResponse struct {
	EntityID   string       `json:"entity_id"`
	FromCache  bool         `json:"from_cache"`
	Incomplete bool         `json:"incomplete"`
	Records    []export.Row `json:"records"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("serve: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// queryFromRequest reads the filter parameters of an insiders request.
func queryFromRequest(r *http.Request) (pipeline.Query, error) {
	params := r.URL.Query()
	start, err := parseDate(params.Get("start"))
	if err != nil {
		return pipeline.Query{}, eris.Wrap(err, "start")
	}
	end, err := parseDate(params.Get("end"))
	if err != nil {
		return pipeline.Query{}, eris.Wrap(err, "end")
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return pipeline.Query{}, eris.New("end is before start")
	}
	var refresh bool
	if raw := params.Get("refresh"); raw != "" {
		refresh, err = strconv.ParseBool(raw)
		if err != nil {
			return pipeline.Query{}, eris.Errorf("refresh: invalid boolean %q", raw)
		}
	}
	return pipeline.Query{
		Symbol:   chi.URLParam(r, "symbol"),
		Start:    start,
		End:      end,
		Position: params.Get("position"),
		TypeCode: params.Get("type"),
		Refresh:  refresh,
	}, nil
}

// buildRouter wires the API routes. q may be nil, in which case only the
// health endpoint answers successfully.
func buildRouter(q insiderQuerier) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/v1/insiders/{symbol}", func(w http.ResponseWriter, req *http.Request) {
		if q == nil {
			writeError(w, http.StatusServiceUnavailable, "pipeline not configured")
			return
		}
		query, err := queryFromRequest(req)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		res, err := q.Run(req.Context(), query)
		switch {
		case errors.Is(err, lookup.ErrNotFound):
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown symbol %q", query.Symbol))
			return
		case err != nil:
			zap.L().Error("serve: insiders query failed",
				zap.String("symbol", query.Symbol),
				zap.String("request_id", middleware.GetReqID(req.Context())),
				zap.Error(err),
			)
			writeError(w, http.StatusInternalServerError, "query failed")
			return
		}

		writeJSON(w, http.StatusOK, insidersResponse{
			EntityID:   res.EntityID,
			FromCache:  res.FromCache,
			Incomplete: res.Incomplete,
			Records:    export.Rows(res.Records),
		})
	})

	return r
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve insider queries over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		cfg.Server.Port = port

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(env.Pipeline),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
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

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
