package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bldg_sync/models"
	"bldg_sync/scraper"
	"bldg_sync/services"
	"bldg_sync/storage"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Runner is the orchestrator surface the API triggers
type Runner interface {
	RunBatch(ctx context.Context, sel models.Selection) (models.ScrapeJob, error)
	RunTarget(ctx context.Context, id uuid.UUID, mode models.ScrapeMode) (*scraper.TargetResult, error)
}

type catalog interface {
	storage.TargetStore
	storage.UnitStore
}

// Handlers holds all HTTP handlers and their dependencies
type Handlers struct {
	runner   Runner
	catalog  catalog
	status   *services.StatusRecorder
	jobs     *services.JobTracker
	prices   *services.PriceHistory
	admin    *services.Admin
	defaults models.Selection
}

type HandlerDeps struct {
	Runner   Runner
	Catalog  catalog
	Status   *services.StatusRecorder
	Jobs     *services.JobTracker
	Prices   *services.PriceHistory
	Admin    *services.Admin
	Defaults models.Selection
}

func NewHandlers(d HandlerDeps) *Handlers {
	return &Handlers{
		runner:   d.Runner,
		catalog:  d.Catalog,
		status:   d.Status,
		jobs:     d.Jobs,
		prices:   d.Prices,
		admin:    d.Admin,
		defaults: d.Defaults,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload) //nolint:errcheck
	}
}

func httpError(w http.ResponseWriter, message string, code int) {
	respondJSON(w, code, errorResponse{Error: message, Code: strconv.Itoa(code)})
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type batchCounts struct {
	Processed  int `json:"processed"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	UnitsFound int `json:"units_found"`
}

type batchResponse struct {
	JobID   uuid.UUID         `json:"job_id"`
	Status  models.JobStatus  `json:"status"`
	Message string            `json:"message"`
	Counts  batchCounts       `json:"counts"`
	Errors  []models.JobError `json:"errors"`
}

// CronScrape runs one batch synchronously and answers with the job summary.
// Parameters come from the query string, or a JSON body on POST.
func (h *Handlers) CronScrape(w http.ResponseWriter, r *http.Request) {
	params, err := batchParams(r)
	if err != nil {
		httpError(w, err.Error(), http.StatusBadRequest)
		return
	}
	sel, err := scraper.SelectionFromParams(params, h.defaults)
	if err != nil {
		httpError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// a dropped connection does not abandon the job
	job, err := h.runner.RunBatch(context.WithoutCancel(r.Context()), sel)
	switch {
	case errors.Is(err, scraper.ErrPaused):
		httpError(w, "scraping is paused", http.StatusConflict)
		return
	case err != nil:
		zap.L().Error("batch run failed", zap.String("job_id", job.ID.String()), zap.Error(err))
		httpError(w, "scrape job failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	msg := "Processed " + strconv.Itoa(job.Processed) + " targets"
	if job.Processed == 0 {
		msg = "No targets due for scraping"
	}
	errs := job.Errors
	if errs == nil {
		errs = []models.JobError{}
	}
	respondJSON(w, http.StatusOK, batchResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: msg,
		Counts: batchCounts{
			Processed:  job.Processed,
			Succeeded:  job.Succeeded,
			Failed:     job.Failed,
			UnitsFound: job.UnitsFound,
		},
		Errors: errs,
	})
}

func batchParams(r *http.Request) (*models.CommandParams, error) {
	p := &models.CommandParams{}
	if r.Method == http.MethodPost {
		var body struct {
			Group     string `json:"group"`
			City      string `json:"city"`
			Mode      string `json:"mode"`
			Limit     int    `json:"limit"`
			DaysStale int    `json:"days_stale"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return nil, errors.New("invalid JSON body")
		}
		p.Group, p.City, p.Mode, p.Limit, p.DaysStale = body.Group, body.City, body.Mode, body.Limit, body.DaysStale
	}

	q := r.URL.Query()
	if v := q.Get("group"); v != "" {
		p.Group = v
	}
	if v := q.Get("city"); v != "" {
		p.City = v
	}
	if v := q.Get("mode"); v != "" {
		p.Mode = v
	}
	var err error
	if p.Limit, err = intParam(q.Get("limit"), p.Limit); err != nil {
		return nil, errors.New("limit must be a positive integer")
	}
	if p.DaysStale, err = intParam(q.Get("days_stale"), p.DaysStale); err != nil {
		return nil, errors.New("days_stale must be a positive integer")
	}
	return p, nil
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("bad integer")
	}
	return n, nil
}

type targetResult struct {
	UnitsFound      int     `json:"units_found"`
	UnitsCreated    int     `json:"units_created"`
	UnitsUpdated    int     `json:"units_updated"`
	UnitsRetired    int     `json:"units_retired"`
	UnitsSkipped    int     `json:"units_skipped"`
	AmenitiesFound  int     `json:"amenities_found"`
	AmenitiesLinked int     `json:"amenities_linked"`
	PetPolicy       *string `json:"pet_policy"`
	ParkingPolicy   *string `json:"parking_policy"`
	MoveInSpecials  *string `json:"move_in_specials"`
}

type targetMetadata struct {
	SourceURL string    `json:"source_url"`
	ScrapedAt time.Time `json:"scraped_at"`
	Method    string    `json:"method"`
}

type targetResponse struct {
	Success   bool            `json:"success"`
	Target    targetRef       `json:"target"`
	Result    *targetResult   `json:"result"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Metadata  *targetMetadata `json:"metadata,omitempty"`
}

type targetRef struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// ScrapeTarget runs one target outside any job
func (h *Handlers) ScrapeTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		httpError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	mode, valid := models.ParseScrapeMode(body.Mode, models.ModeFull)
	if !valid {
		httpError(w, "mode must be one of units, amenities, full", http.StatusBadRequest)
		return
	}

	res, err := h.runner.RunTarget(context.WithoutCancel(r.Context()), id, mode)
	if errors.Is(err, scraper.ErrTargetNotFound) {
		httpError(w, "target not found", http.StatusNotFound)
		return
	}
	if err != nil {
		zap.L().Error("single target run failed", zap.String("target_id", id.String()), zap.Error(err))
		httpError(w, "failed to scrape target", http.StatusInternalServerError)
		return
	}

	resp := targetResponse{
		Success: res.Success(),
		Target:  targetRef{ID: res.Target.ID, Name: res.Target.Name},
		Result:  &targetResult{},
	}
	if res.Units != nil {
		resp.Result.UnitsFound = res.Units.UnitsFound
		resp.Result.UnitsCreated = res.Units.UnitsCreated
		resp.Result.UnitsUpdated = res.Units.UnitsUpdated
		resp.Result.UnitsRetired = res.Units.UnitsRetired
		resp.Result.UnitsSkipped = res.Units.UnitsSkipped
	}
	if res.Amenities != nil {
		resp.Result.AmenitiesFound = res.Amenities.AmenitiesFound
		resp.Result.AmenitiesLinked = res.Amenities.AmenitiesLinked
	}
	if ex := res.Extract; ex != nil {
		resp.Result.PetPolicy = ex.PetPolicy
		resp.Result.ParkingPolicy = ex.ParkingPolicy
		resp.Result.MoveInSpecials = ex.MoveInSpecials
		resp.Metadata = &targetMetadata{SourceURL: ex.SourceURL, ScrapedAt: ex.ScrapedAt, Method: ex.Method}
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
		resp.ErrorKind = string(scraper.KindOf(res.Err))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handlers) TargetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var mode models.ScrapeMode
	if raw := r.URL.Query().Get("mode"); raw != "" {
		m, valid := models.ParseScrapeMode(raw, "")
		if !valid {
			httpError(w, "mode must be one of units, amenities, full", http.StatusBadRequest)
			return
		}
		mode = m
	}

	rows, err := h.status.Get(r.Context(), id, mode)
	if err != nil {
		zap.L().Error("status lookup failed", zap.Error(err))
		httpError(w, "failed to load status", http.StatusInternalServerError)
		return
	}
	if len(rows) == 0 {
		httpError(w, "no scrape status for target", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

func (h *Handlers) TargetUnits(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	t, err := h.catalog.GetTarget(r.Context(), id)
	if err != nil {
		httpError(w, "failed to load target", http.StatusInternalServerError)
		return
	}
	if t == nil {
		httpError(w, "target not found", http.StatusNotFound)
		return
	}

	units, err := h.catalog.ListUnits(r.Context(), id)
	if err != nil {
		httpError(w, "failed to load units", http.StatusInternalServerError)
		return
	}
	onlyAvailable := r.URL.Query().Get("available") == "true"
	out := make([]models.UnitWithPrice, 0, len(units))
	for _, u := range units {
		if onlyAvailable && !u.IsAvailable {
			continue
		}
		cur, err := h.prices.Current(r.Context(), u.ID)
		if err != nil {
			httpError(w, "failed to load prices", http.StatusInternalServerError)
			return
		}
		out = append(out, models.UnitWithPrice{Unit: u, CurrentPrice: cur})
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		httpError(w, "failed to load job", http.StatusInternalServerError)
		return
	}
	if job == nil {
		httpError(w, "job not found", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (h *Handlers) AdminSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), 0)
	if err != nil {
		httpError(w, "limit must be a positive integer", http.StatusBadRequest)
		return
	}
	state := q.Get("state")
	switch state {
	case "", services.StateNeverScraped, services.StateSuccess, services.StateStale, services.StateFailed, services.StatePending:
	default:
		httpError(w, "unknown state "+state, http.StatusBadRequest)
		return
	}

	sum, err := h.admin.Summary(r.Context(), models.TargetFilter{City: q.Get("city"), Group: q.Get("group")}, state, limit)
	if err != nil {
		zap.L().Error("admin summary failed", zap.Error(err))
		httpError(w, "failed to build summary", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, sum)
}

type adminActionRequest struct {
	Action    string   `json:"action"`
	TargetIDs []string `json:"target_ids"`
	Mode      string   `json:"mode"`
}

// AdminAction enables, disables or queues scrapes for targets
func (h *Handlers) AdminAction(w http.ResponseWriter, r *http.Request) {
	var req adminActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	ids := make([]uuid.UUID, 0, len(req.TargetIDs))
	for _, raw := range req.TargetIDs {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			httpError(w, "invalid target id "+raw, http.StatusBadRequest)
			return
		}
		ids = append(ids, id)
	}

	switch req.Action {
	case "enable", "disable":
		if len(ids) == 0 {
			httpError(w, "target_ids is required", http.StatusBadRequest)
			return
		}
		if err := h.admin.SetEnabled(r.Context(), ids, req.Action == "enable"); err != nil {
			zap.L().Error("admin set enabled failed", zap.Error(err))
			httpError(w, "failed to update targets", http.StatusInternalServerError)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"success": true, "updated": len(ids)})
	case "scrape":
		mode, valid := models.ParseScrapeMode(req.Mode, h.defaults.Mode)
		if !valid {
			httpError(w, "mode must be one of units, amenities, full", http.StatusBadRequest)
			return
		}
		sel := h.defaults
		sel.Mode = mode
		queued, err := h.admin.Trigger(r.Context(), ids, sel)
		if err != nil {
			zap.L().Error("admin trigger failed", zap.Error(err))
			httpError(w, "failed to queue scrape", http.StatusInternalServerError)
			return
		}
		respondJSON(w, http.StatusAccepted, map[string]any{"success": true, "queued": queued})
	default:
		httpError(w, "action must be enable, disable or scrape", http.StatusBadRequest)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, "invalid id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}
