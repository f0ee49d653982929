package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"github.com/pricewatch/pricewatch/internal/models"
	"github.com/pricewatch/pricewatch/internal/runner"
)

// runListLimit bounds the run history endpoint.
const runListLimit = 50

// Store is the persistence surface the handlers need.
type Store interface {
	CreateTarget(ctx context.Context, url, name string) (*models.Target, error)
	ListTargets(ctx context.Context) ([]models.Target, error)
	ToggleTarget(ctx context.Context, id int64) error
	DeleteTarget(ctx context.Context, id int64) error

	CreateRegion(ctx context.Context, name, storagePath string) (*models.RegionProfile, error)
	ListRegions(ctx context.Context) ([]models.RegionProfile, error)

	GetRun(ctx context.Context, id int64) (*models.Run, error)
	ListRuns(ctx context.Context, limit int) ([]models.Run, error)
	LatestCompletedRun(ctx context.Context) (*models.Run, error)
	ListPricePoints(ctx context.Context, runID int64) ([]models.PricePoint, error)
}

// Starter admits collection runs.
type Starter interface {
	Start(ctx context.Context, regionID int64) (*models.Run, error)
}

// OutboxStats exposes relay queue depths for the health endpoint.
type OutboxStats interface {
	GetPendingCount(ctx context.Context) (int64, error)
	GetDeadLetterCount(ctx context.Context) (int64, error)
}

type Handlers struct {
	store      Store
	starter    Starter
	outbox     OutboxStats
	regionRoot string
	logger     *slog.Logger
}

func NewHandlers(store Store, starter Starter, outbox OutboxStats, regionRoot string, logger *slog.Logger) *Handlers {
	return &Handlers{
		store:      store,
		starter:    starter,
		outbox:     outbox,
		regionRoot: regionRoot,
		logger:     logger,
	}
}

// Routes mounts all v1 endpoints.
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/targets", func(r chi.Router) {
		r.Post("/", h.CreateTarget)
		r.Get("/", h.ListTargets)
		r.Post("/{targetID}/toggle", h.ToggleTarget)
		r.Delete("/{targetID}", h.DeleteTarget)
	})

	r.Route("/regions", func(r chi.Router) {
		r.Post("/", h.CreateRegion)
		r.Get("/", h.ListRegions)
	})

	r.Route("/runs", func(r chi.Router) {
		r.Post("/", h.StartRun)
		r.Get("/", h.ListRuns)
		r.Get("/{runID}", h.GetRun)
	})

	r.Get("/prices/latest", h.LatestPrices)

	return r
}

// --- Targets ---

type CreateTargetRequest struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

func (h *Handlers) CreateTarget(w http.ResponseWriter, r *http.Request) {
	var req CreateTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	normalized, err := normalizeURL(req.URL)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	target, err := h.store.CreateTarget(r.Context(), normalized, req.Name)
	if err != nil {
		h.logger.Error("failed to create target", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create target")
		return
	}

	h.respondJSON(w, http.StatusCreated, target)
}

func (h *Handlers) ListTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := h.store.ListTargets(r.Context())
	if err != nil {
		h.logger.Error("failed to list targets", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list targets")
		return
	}
	if targets == nil {
		targets = []models.Target{}
	}

	h.respondJSON(w, http.StatusOK, targets)
}

func (h *Handlers) ToggleTarget(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "targetID"), 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid target ID")
		return
	}

	if err := h.store.ToggleTarget(r.Context(), id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			h.respondError(w, http.StatusNotFound, "target not found")
			return
		}
		h.logger.Error("failed to toggle target", "target_id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to toggle target")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) DeleteTarget(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "targetID"), 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid target ID")
		return
	}

	if err := h.store.DeleteTarget(r.Context(), id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			h.respondError(w, http.StatusNotFound, "target not found")
			return
		}
		h.logger.Error("failed to delete target", "target_id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to delete target")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- Regions ---

type CreateRegionRequest struct {
	Name string `json:"name"`
}

func (h *Handlers) CreateRegion(w http.ResponseWriter, r *http.Request) {
	var req CreateRegionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		h.respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	storagePath := filepath.Join(h.regionRoot, slugify(name))
	if err := os.MkdirAll(storagePath, 0o755); err != nil {
		h.logger.Error("failed to create region storage", "path", storagePath, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create region storage")
		return
	}

	region, err := h.store.CreateRegion(r.Context(), name, storagePath)
	if err != nil {
		h.logger.Error("failed to create region", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create region")
		return
	}

	h.respondJSON(w, http.StatusCreated, region)
}

func (h *Handlers) ListRegions(w http.ResponseWriter, r *http.Request) {
	regions, err := h.store.ListRegions(r.Context())
	if err != nil {
		h.logger.Error("failed to list regions", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list regions")
		return
	}
	if regions == nil {
		regions = []models.RegionProfile{}
	}

	h.respondJSON(w, http.StatusOK, regions)
}

// --- Runs ---

type StartRunRequest struct {
	RegionID int64 `json:"region_id"`
}

type StartRunResponse struct {
	RunID  int64  `json:"run_id"`
	Status string `json:"status"`
}

func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	var req StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	run, err := h.starter.Start(r.Context(), req.RegionID)
	if err != nil {
		switch {
		case errors.Is(err, runner.ErrRunLimitReached):
			h.respondError(w, http.StatusConflict, "a run is already in progress")
		case errors.Is(err, runner.ErrRegionNotFound):
			h.respondError(w, http.StatusNotFound, "region profile not found")
		default:
			h.logger.Error("failed to start run", "error", err)
			h.respondError(w, http.StatusInternalServerError, "failed to start run")
		}
		return
	}

	h.respondJSON(w, http.StatusAccepted, StartRunResponse{
		RunID:  run.ID,
		Status: string(run.Status),
	})
}

type runView struct {
	ID           int64   `json:"id"`
	RegionID     int64   `json:"region_id"`
	Status       string  `json:"status"`
	StartedAt    *string `json:"started_at,omitempty"`
	FinishedAt   *string `json:"finished_at,omitempty"`
	Error        string  `json:"error,omitempty"`
	TotalTargets int     `json:"total_targets"`
	SuccessCount int     `json:"success_count"`
	FailCount    int     `json:"fail_count"`
}

type pricePointView struct {
	ID          int64    `json:"id"`
	TargetID    int64    `json:"target_id"`
	Price       *float64 `json:"price"`
	OldPrice    *float64 `json:"old_price"`
	CardPrice   *float64 `json:"card_price"`
	InStock     bool     `json:"in_stock"`
	CollectedAt string   `json:"collected_at"`
	Error       string   `json:"error,omitempty"`
}

type runDetailView struct {
	runView
	Points []pricePointView `json:"points"`
}

func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.ListRuns(r.Context(), runListLimit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	views := make([]runView, 0, len(runs))
	for i := range runs {
		views = append(views, toRunView(&runs[i]))
	}

	h.respondJSON(w, http.StatusOK, views)
}

func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "runID"), 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid run ID")
		return
	}

	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get run", "run_id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	if run == nil {
		h.respondError(w, http.StatusNotFound, "run not found")
		return
	}

	points, err := h.store.ListPricePoints(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to list price points", "run_id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list price points")
		return
	}

	h.respondJSON(w, http.StatusOK, runDetailView{
		runView: toRunView(run),
		Points:  toPointViews(points),
	})
}

// LatestPrices returns the points of the most recent completed run.
func (h *Handlers) LatestPrices(w http.ResponseWriter, r *http.Request) {
	run, err := h.store.LatestCompletedRun(r.Context())
	if err != nil {
		h.logger.Error("failed to get latest run", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get latest prices")
		return
	}
	if run == nil {
		h.respondError(w, http.StatusNotFound, "no completed run yet")
		return
	}

	points, err := h.store.ListPricePoints(r.Context(), run.ID)
	if err != nil {
		h.logger.Error("failed to list price points", "run_id", run.ID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get latest prices")
		return
	}

	h.respondJSON(w, http.StatusOK, runDetailView{
		runView: toRunView(run),
		Points:  toPointViews(points),
	})
}

// --- Health ---

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}

	if h.outbox != nil {
		if pending, err := h.outbox.GetPendingCount(r.Context()); err == nil {
			resp["outbox_pending"] = pending
		}
		if dead, err := h.outbox.GetDeadLetterCount(r.Context()); err == nil {
			resp["outbox_dead_letter"] = dead
		}
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// --- Helpers ---

func toRunView(run *models.Run) runView {
	v := runView{
		ID:           run.ID,
		RegionID:     run.RegionID,
		Status:       string(run.Status),
		Error:        run.Error,
		TotalTargets: run.TotalTargets,
		SuccessCount: run.SuccessCount,
		FailCount:    run.FailCount,
	}
	if run.StartedAt != nil {
		s := run.StartedAt.UTC().Format(time.RFC3339)
		v.StartedAt = &s
	}
	if run.FinishedAt != nil {
		f := run.FinishedAt.UTC().Format(time.RFC3339)
		v.FinishedAt = &f
	}
	return v
}

func toPointViews(points []models.PricePoint) []pricePointView {
	views := make([]pricePointView, 0, len(points))
	for _, p := range points {
		views = append(views, pricePointView{
			ID:          p.ID,
			TargetID:    p.TargetID,
			Price:       models.MinorToMajor(p.Price),
			OldPrice:    models.MinorToMajor(p.OldPrice),
			CardPrice:   models.MinorToMajor(p.CardPrice),
			InStock:     p.InStock,
			CollectedAt: p.CollectedAt.UTC().Format(time.RFC3339),
			Error:       p.Error,
		})
	}
	return views
}

// normalizeURL canonicalizes a target URL: https is assumed when no scheme
// is given, query string and fragment are dropped so the same product page
// always stores as one target.
func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("url must be http or https")
	}
	if u.Host == "" {
		return "", fmt.Errorf("url must include a host")
	}

	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")

	return u.String(), nil
}

// slugPattern keeps letters and digits of any script; region names are
// usually Cyrillic.
var slugPattern = regexp.MustCompile(`[^\p{L}\p{N}]+`)

func slugify(name string) string {
	slug := slugPattern.ReplaceAllString(strings.ToLower(name), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "region"
	}
	return slug
}

// --- Responses ---

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, msg string) {
	h.respondJSON(w, status, map[string]string{"error": msg})
}
