package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/enforcement-sync/internal/ingest"
	"github.com/sells-group/enforcement-sync/internal/matcher"
	"github.com/sells-group/enforcement-sync/internal/metrics"
	"github.com/sells-group/enforcement-sync/internal/model"
	"github.com/sells-group/enforcement-sync/internal/store"
)

// maxUploadBytes bounds a multipart delivery held in memory.
const maxUploadBytes = 64 << 20

var servePort int

type deliveryIngestor interface {
	IngestDelivery(ctx context.Context, d ingest.Delivery) ([]ingest.Result, error)
}

type reviewResolver interface {
	Resolve(ctx context.Context, reviewID, ticketID int64, note string) (*model.ReviewItem, error)
}

// apiStore is the read and review surface the HTTP API needs.
type apiStore interface {
	Ping(ctx context.Context) error
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.RunLog, error)
	ListReviews(ctx context.Context, status model.ReviewStatus, limit int) ([]model.ReviewItem, error)
	GetReview(ctx context.Context, id int64) (*model.ReviewItem, error)
	SkipReview(ctx context.Context, id int64, note string) error
	MatchLogs(ctx context.Context, key string) ([]model.MatchLogEntry, error)
}

type server struct {
	ingestor deliveryIngestor
	resolver reviewResolver
	store    apiStore
	// ingestMu serializes deliveries; runs for one record type must not overlap.
	ingestMu *sync.Mutex
	log      *zap.Logger
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the inbound delivery webhook and review API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initSync(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		startMonitoring(ctx, env.Store)

		srv := &server{
			ingestor: env.Ingestor,
			resolver: env.Matcher,
			store:    env.Store,
			ingestMu: &sync.Mutex{},
			log:      zap.L().With(zap.String("component", "server")),
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           srv.routes(cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func (s *server) routes(origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Post("/webhook/inbound", s.handleInbound)

	r.Route("/api", func(r chi.Router) {
		if len(origins) > 0 {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: origins,
				AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
				AllowedHeaders: []string{"Accept", "Content-Type"},
				MaxAge:         300,
			}))
		}
		r.Get("/runs", s.handleListRuns)
		r.Get("/reviews", s.handleListReviews)
		r.Get("/reviews/{id}", s.handleGetReview)
		r.Post("/reviews/{id}/resolve", s.handleResolveReview)
		r.Post("/reviews/{id}/skip", s.handleSkipReview)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleInbound accepts a multipart delivery: an optional "subject" and
// "delivery_id" plus any number of file parts. It responds once every
// attachment has been reconciled; a 500 tells the sender to redeliver.
func (s *server) handleInbound(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	d := ingest.Delivery{
		ID:      r.FormValue("delivery_id"),
		Subject: r.FormValue("subject"),
	}
	if d.ID == "" {
		d.ID = middleware.GetReqID(r.Context())
	}
	// Field order is not preserved by the parsed form; sort so a delivery
	// always replays its attachments in the same order.
	fields := make([]string, 0, len(r.MultipartForm.File))
	for name := range r.MultipartForm.File {
		fields = append(fields, name)
	}
	sort.Strings(fields)
	for _, name := range fields {
		for _, fh := range r.MultipartForm.File[name] {
			f, err := fh.Open()
			if err != nil {
				writeError(w, http.StatusBadRequest, "unreadable attachment "+fh.Filename)
				return
			}
			data, err := io.ReadAll(f)
			f.Close() //nolint:errcheck
			if err != nil {
				writeError(w, http.StatusBadRequest, "unreadable attachment "+fh.Filename)
				return
			}
			d.Attachments = append(d.Attachments, ingest.Attachment{Filename: fh.Filename, Data: data})
		}
	}
	if len(d.Attachments) == 0 {
		writeError(w, http.StatusBadRequest, "no attachments")
		return
	}

	// The run outlives the request: a client that hangs up must not abort a
	// reconciliation halfway through its changes.
	s.ingestMu.Lock()
	results, err := s.ingestor.IngestDelivery(context.WithoutCancel(r.Context()), d)
	s.ingestMu.Unlock()
	if err != nil {
		s.log.Error("delivery failed", zap.String("delivery_id", d.ID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"status":      "error",
			"delivery_id": d.ID,
			"error":       err.Error(),
			"results":     results,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"delivery_id": d.ID,
		"results":     results,
	})
}

func queryInt(r *http.Request, name string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(name)); err == nil && v > 0 {
		return v
	}
	return def
}

func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := store.RunFilter{
		Status: model.RunStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", 50),
	}
	if v := r.URL.Query().Get("record_type"); v != "" {
		t, err := model.ParseRecordType(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.RecordType = t
	}
	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": nonNil(runs)})
}

func (s *server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	status := model.ReviewStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = model.ReviewPending
	}
	if status == "all" {
		status = ""
	}
	items, err := s.store.ListReviews(r.Context(), status, queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reviews": nonNil(items)})
}

func reviewID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid review id")
		return 0, false
	}
	return id, true
}

// reviewDetail is a review item with its match history.
type reviewDetail struct {
	model.ReviewItem `yaml:",inline"`
	MatchLog         []model.MatchLogEntry `json:"match_log" yaml:"match_log"`
}

func loadReviewDetail(ctx context.Context, st apiStore, id int64) (*reviewDetail, error) {
	item, err := st.GetReview(ctx, id)
	if err != nil {
		return nil, err
	}
	logs, err := st.MatchLogs(ctx, item.Key)
	if err != nil {
		return nil, err
	}
	return &reviewDetail{ReviewItem: *item, MatchLog: nonNil(logs)}, nil
}

func (s *server) handleGetReview(w http.ResponseWriter, r *http.Request) {
	id, ok := reviewID(w, r)
	if !ok {
		return
	}
	detail, err := loadReviewDetail(r.Context(), s.store, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

type reviewDecision struct {
	TicketID int64  `json:"ticket_id"`
	Note     string `json:"note"`
}

func (s *server) handleResolveReview(w http.ResponseWriter, r *http.Request) {
	id, ok := reviewID(w, r)
	if !ok {
		return
	}
	var req reviewDecision
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TicketID <= 0 {
		writeError(w, http.StatusBadRequest, "ticket_id is required")
		return
	}
	item, err := s.resolver.Resolve(r.Context(), id, req.TicketID, req.Note)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *server) handleSkipReview(w http.ResponseWriter, r *http.Request) {
	id, ok := reviewID(w, r)
	if !ok {
		return
	}
	var req reviewDecision
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if err := s.store.SkipReview(r.Context(), id, req.Note); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": model.ReviewSkipped})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, matcher.ErrReviewClosed):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
