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
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telephis/telephis/internal/model"
	"github.com/telephis/telephis/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the detection API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      newRouter(env),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 120 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("server listening", zap.Int("port", port))
			errCh <- srv.ListenAndServe()
		}()

		select {
		case <-ctx.Done():
			zap.L().Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func newRouter(env *env) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/analyze", handleAnalyze(env))
		r.Get("/detections", handleListDetections(env))
		r.Get("/detections/{id}", handleGetDetection(env))
		r.Get("/usage", handleUsage(env))
	})

	return r
}

type analyzeRequest struct {
	Text      string     `json:"text"`
	MessageID string     `json:"message_id"`
	ChatID    string     `json:"chat_id"`
	SenderID  string     `json:"sender_id"`
	Username  string     `json:"username"`
	SentAt    *time.Time `json:"sent_at"`
}

func handleAnalyze(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req analyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Text == "" {
			writeError(w, http.StatusBadRequest, "text is required")
			return
		}

		sentAt := time.Now()
		if req.SentAt != nil {
			sentAt = *req.SentAt
		}
		if req.MessageID == "" {
			req.MessageID = uuid.NewString()
		}

		msg := model.Message{
			ID:       req.MessageID,
			ChatID:   req.ChatID,
			SenderID: req.SenderID,
			Text:     req.Text,
			SentAt:   sentAt,
		}

		var sender *model.Sender
		var snapshot *model.BaselineSnapshot
		if req.SenderID != "" {
			sender = &model.Sender{ID: req.SenderID, Username: req.Username}
			acc, err := env.Store.LoadBaseline(r.Context(), req.SenderID)
			if err != nil {
				zap.L().Warn("baseline load failed", zap.Error(err))
			}
			snapshot = acc.Snapshot()
		}

		result := env.Pipeline.Analyze(r.Context(), msg, sender, snapshot)

		if err := env.Guard.Record(r.Context(), result.Stage, env.ModelName, result.Usage); err != nil {
			zap.L().Warn("usage accounting failed", zap.Error(err))
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func handleListDetections(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := store.DetectionFilter{
			Label:    model.Label(q.Get("label")),
			ChatID:   q.Get("chat_id"),
			SenderID: q.Get("sender_id"),
		}
		if v := q.Get("limit"); v != "" {
			filter.Limit, _ = strconv.Atoi(v)
		}
		if v := q.Get("offset"); v != "" {
			filter.Offset, _ = strconv.Atoi(v)
		}

		results, err := env.Store.ListResults(r.Context(), filter)
		if err != nil {
			zap.L().Error("list detections failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "query failed")
			return
		}
		if results == nil {
			results = []model.DetectionResult{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"detections": results})
	}
}

func handleGetDetection(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		result, err := env.Store.GetResult(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusNotFound, "detection not found")
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleUsage(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().UTC()
		since := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		if v := r.URL.Query().Get("since"); v != "" {
			parsed, err := time.Parse("2006-01-02", v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "since must be YYYY-MM-DD")
				return
			}
			since = parsed
		}

		stats, err := env.Store.UsageSince(r.Context(), since)
		if err != nil {
			zap.L().Error("usage query failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "query failed")
			return
		}
		if stats == nil {
			stats = []store.UsageStat{}
		}

		monthToDate, err := env.Guard.MonthToDate(r.Context())
		if err != nil {
			zap.L().Warn("month-to-date query failed", zap.Error(err))
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"since":             since.Format("2006-01-02"),
			"daily":             stats,
			"month_to_date_usd": monthToDate,
			"budget_usd":        cfg.Budget.MonthlyUSD,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Warn("write response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
