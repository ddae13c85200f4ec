package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"bldg_sync/models"
	"bldg_sync/scraper"
	"bldg_sync/services"
	"bldg_sync/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const testSecret = "s3cret"

type fakeRunner struct {
	mu      sync.Mutex
	batches []models.Selection
	job     models.ScrapeJob
	err     error
	result  *scraper.TargetResult
	runErr  error
}

func (f *fakeRunner) RunBatch(ctx context.Context, sel models.Selection) (models.ScrapeJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, sel)
	return f.job, f.err
}

func (f *fakeRunner) RunTarget(ctx context.Context, id uuid.UUID, mode models.ScrapeMode) (*scraper.TargetResult, error) {
	if f.runErr != nil {
		return nil, f.runErr
	}
	res := *f.result
	res.Mode = mode
	return &res, nil
}

type testAPI struct {
	store  *storage.MemoryStore
	runner *fakeRunner
	srv    *httptest.Server
}

func newTestAPI(t *testing.T, secret string) *testAPI {
	t.Helper()
	store := storage.NewMemoryStore()
	runner := &fakeRunner{}
	h := NewHandlers(HandlerDeps{
		Runner:   runner,
		Catalog:  store,
		Status:   services.NewStatusRecorder(store),
		Jobs:     services.NewJobTracker(store, 1, 10),
		Prices:   services.NewPriceHistory(store),
		Admin:    services.NewAdmin(store),
		Defaults: models.Selection{Mode: models.ModeUnits, Limit: 20, DaysStale: 7},
	})
	srv := httptest.NewServer(NewRouter(secret, h))
	t.Cleanup(srv.Close)
	return &testAPI{store: store, runner: runner, srv: srv}
}

func (a *testAPI) do(t *testing.T, method, path, body, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, a.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, testSecret)
	resp := api.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth(t *testing.T) {
	cases := []struct {
		name   string
		secret string
		header string
		msg    string
	}{
		{"missing header", testSecret, "", "Missing authorization header"},
		{"not bearer", testSecret, "Basic abc", "Invalid authorization header"},
		{"wrong token", testSecret, "Bearer nope", "Invalid authorization token"},
		{"no secret configured", "", "Bearer anything", "Invalid authorization token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := newTestAPI(t, tc.secret)
			resp := api.do(t, http.MethodPost, "/api/cron/scrape", "", tc.header)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			body := decode[errorResponse](t, resp)
			assert.Equal(t, tc.msg, body.Error)
			assert.Empty(t, api.runner.batches, "rejected before any selection")
		})
	}
}

func TestCronScrape(t *testing.T) {
	api := newTestAPI(t, testSecret)
	jobID := uuid.New()
	api.runner.job = models.ScrapeJob{
		ID:        jobID,
		Status:    models.JobStatusCompleted,
		JobCounts: models.JobCounts{Processed: 3, Succeeded: 2, Failed: 1, UnitsFound: 41},
		Errors:    []models.JobError{{TargetName: "cove", Error: "network error: timeout"}},
	}

	resp := api.do(t, http.MethodPost, "/api/cron/scrape?limit=5", `{"group":"uptown","mode":"full","days_stale":2}`, "Bearer "+testSecret)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[batchResponse](t, resp)
	assert.Equal(t, jobID, body.JobID)
	assert.Equal(t, batchCounts{Processed: 3, Succeeded: 2, Failed: 1, UnitsFound: 41}, body.Counts)
	require.Len(t, body.Errors, 1)

	require.Len(t, api.runner.batches, 1)
	assert.Equal(t, models.Selection{Group: "uptown", Mode: models.ModeFull, Limit: 5, DaysStale: 2}, api.runner.batches[0])
}

func TestCronScrape_GetUsesDefaults(t *testing.T) {
	api := newTestAPI(t, testSecret)
	api.runner.job = models.ScrapeJob{ID: uuid.New(), Status: models.JobStatusCompleted}

	resp := api.do(t, http.MethodGet, "/api/cron/scrape", "", "Bearer "+testSecret)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[batchResponse](t, resp)
	assert.Equal(t, "No targets due for scraping", body.Message)
	assert.NotNil(t, body.Errors)
	assert.Equal(t, models.Selection{Mode: models.ModeUnits, Limit: 20, DaysStale: 7}, api.runner.batches[0])
}

func TestCronScrape_BadParams(t *testing.T) {
	api := newTestAPI(t, testSecret)

	resp := api.do(t, http.MethodGet, "/api/cron/scrape?mode=hourly", "", "Bearer "+testSecret)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = api.do(t, http.MethodGet, "/api/cron/scrape?limit=-1", "", "Bearer "+testSecret)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = api.do(t, http.MethodPost, "/api/cron/scrape", "{", "Bearer "+testSecret)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, api.runner.batches)
}

func TestCronScrape_Paused(t *testing.T) {
	api := newTestAPI(t, testSecret)
	api.runner.err = scraper.ErrPaused

	resp := api.do(t, http.MethodPost, "/api/cron/scrape", "", "Bearer "+testSecret)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestScrapeTarget(t *testing.T) {
	api := newTestAPI(t, testSecret)
	target := models.Target{ID: uuid.New(), Name: "Harbor View"}
	pet := "Cats welcome"
	api.runner.result = &scraper.TargetResult{
		Target: target,
		Extract: &models.ExtractResult{
			Units:     []models.ExtractedUnit{{UnitNumber: "1A"}},
			PetPolicy: &pet,
			SourceURL: "https://harborview.example",
			ScrapedAt: time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC),
			Method:    "heuristic",
		},
		Units:     &services.ReconcileResult{UnitsFound: 1, UnitsCreated: 1},
		Amenities: &services.AmenityResult{AmenitiesFound: 4, AmenitiesLinked: 4},
	}

	resp := api.do(t, http.MethodPost, "/api/targets/"+target.ID.String()+"/scrape", `{"mode":"full"}`, "Bearer "+testSecret)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[targetResponse](t, resp)
	assert.True(t, body.Success)
	assert.Equal(t, "Harbor View", body.Target.Name)
	assert.Equal(t, 1, body.Result.UnitsCreated)
	assert.Equal(t, 4, body.Result.AmenitiesLinked)
	assert.Equal(t, "Cats welcome", *body.Result.PetPolicy)
	require.NotNil(t, body.Metadata)
	assert.Equal(t, "https://harborview.example", body.Metadata.SourceURL)
}

func TestScrapeTarget_Errors(t *testing.T) {
	api := newTestAPI(t, testSecret)
	id := uuid.New().String()

	resp := api.do(t, http.MethodPost, "/api/targets/not-a-uuid/scrape", "", "Bearer "+testSecret)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/api/targets/"+id+"/scrape", `{"mode":"weekly"}`, "Bearer "+testSecret)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	api.runner.runErr = scraper.ErrTargetNotFound
	resp = api.do(t, http.MethodPost, "/api/targets/"+id+"/scrape", "", "Bearer "+testSecret)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestScrapeTarget_ExtractionFailureIsReported(t *testing.T) {
	api := newTestAPI(t, testSecret)
	target := models.Target{ID: uuid.New(), Name: "No Site"}
	_, err := scraper.NewExtractor(nil).ExtractTarget(context.Background(), &target, models.ModeUnits)
	require.Error(t, err)
	api.runner.result = &scraper.TargetResult{Target: target, Err: err}

	resp := api.do(t, http.MethodPost, "/api/targets/"+target.ID.String()+"/scrape", "", "Bearer "+testSecret)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[targetResponse](t, resp)
	assert.False(t, body.Success)
	assert.Equal(t, "config", body.ErrorKind)
	assert.Nil(t, body.Metadata)
}

func TestTargetStatusAndUnits(t *testing.T) {
	api := newTestAPI(t, testSecret)
	ctx := context.Background()
	site := "https://harborview.example"
	target := models.Target{Name: "Harbor View", WebsiteURL: &site}
	require.NoError(t, api.store.UpsertTarget(ctx, &target))
	auth := "Bearer " + testSecret

	resp := api.do(t, http.MethodGet, "/api/targets/"+target.ID.String()+"/status", "", auth)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, services.NewStatusRecorder(api.store).Success(ctx, &target, models.ModeUnits, 2))
	resp = api.do(t, http.MethodGet, "/api/targets/"+target.ID.String()+"/status?mode=units", "", auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows := decode[[]models.ScrapeStatus](t, resp)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].LastUnitCount)

	rec := services.NewReconciler(api.store, services.NewPriceHistory(api.store), 1)
	rent := 2500.0
	_, err := rec.Reconcile(ctx, target.ID, []models.ExtractedUnit{{UnitNumber: "1A", Rent: &rent}, {UnitNumber: "2A"}}, time.Now(), nil)
	require.NoError(t, err)

	resp = api.do(t, http.MethodGet, "/api/targets/"+target.ID.String()+"/units", "", auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	units := decode[[]models.UnitWithPrice](t, resp)
	require.Len(t, units, 2)
	require.NotNil(t, units[0].CurrentPrice)
	assert.Equal(t, 2500.0, units[0].CurrentPrice.Rent)
	assert.Nil(t, units[1].CurrentPrice)

	resp = api.do(t, http.MethodGet, "/api/targets/"+uuid.New().String()+"/units", "", auth)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetJob(t *testing.T) {
	api := newTestAPI(t, testSecret)
	tracker := services.NewJobTracker(api.store, 1, 10)
	run, err := tracker.Open(context.Background(), models.Selection{Mode: models.ModeUnits})
	require.NoError(t, err)
	_, err = run.Finish(context.Background())
	require.NoError(t, err)

	resp := api.do(t, http.MethodGet, "/api/jobs/"+run.ID().String(), "", "Bearer "+testSecret)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	job := decode[models.ScrapeJob](t, resp)
	assert.Equal(t, models.JobStatusCompleted, job.Status)

	resp = api.do(t, http.MethodGet, "/api/jobs/"+uuid.New().String(), "", "Bearer "+testSecret)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdmin(t *testing.T) {
	api := newTestAPI(t, testSecret)
	ctx := context.Background()
	target := models.Target{Name: "Harbor View"}
	require.NoError(t, api.store.UpsertTarget(ctx, &target))
	auth := "Bearer " + testSecret

	resp := api.do(t, http.MethodGet, "/api/admin/scrape?state=never_scraped", "", auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sum := decode[services.Summary](t, resp)
	assert.Equal(t, 1, sum.Summary.NeverScraped)
	require.Len(t, sum.Targets, 1)
	assert.True(t, sum.Targets[0].ScrapeEnabled)

	resp = api.do(t, http.MethodGet, "/api/admin/scrape?state=sideways", "", auth)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/api/admin/scrape", `{"action":"disable","target_ids":["`+target.ID.String()+`"]}`, auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = api.do(t, http.MethodGet, "/api/admin/scrape", "", auth)
	sum = decode[services.Summary](t, resp)
	assert.False(t, sum.Targets[0].ScrapeEnabled)

	resp = api.do(t, http.MethodPost, "/api/admin/scrape", `{"action":"scrape","target_ids":["`+target.ID.String()+`"],"mode":"amenities"}`, auth)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	cmds, err := api.store.GetPendingCommands(ctx)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, models.CmdScrapeTarget, cmds[0].Command)

	resp = api.do(t, http.MethodPost, "/api/admin/scrape", `{"action":"explode"}`, auth)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = api.do(t, http.MethodPost, "/api/admin/scrape", `{"action":"enable","target_ids":["nope"]}`, auth)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
