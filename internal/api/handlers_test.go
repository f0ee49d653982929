package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricewatch/pricewatch/internal/models"
	"github.com/pricewatch/pricewatch/internal/runner"
)

type fakeStore struct {
	targets     []models.Target
	regions     []models.RegionProfile
	runs        map[int64]*models.Run
	points      map[int64][]models.PricePoint
	latest      *models.Run
	createdURLs []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		runs:   make(map[int64]*models.Run),
		points: make(map[int64][]models.PricePoint),
	}
}

func (s *fakeStore) CreateTarget(ctx context.Context, url, name string) (*models.Target, error) {
	s.createdURLs = append(s.createdURLs, url)
	t := models.Target{ID: int64(len(s.createdURLs)), URL: url, Name: name, Enabled: true}
	s.targets = append(s.targets, t)
	return &t, nil
}

func (s *fakeStore) ListTargets(ctx context.Context) ([]models.Target, error) {
	return s.targets, nil
}

func (s *fakeStore) ToggleTarget(ctx context.Context, id int64) error {
	for _, t := range s.targets {
		if t.ID == id {
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (s *fakeStore) DeleteTarget(ctx context.Context, id int64) error {
	for i, t := range s.targets {
		if t.ID == id {
			s.targets = append(s.targets[:i], s.targets[i+1:]...)
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (s *fakeStore) CreateRegion(ctx context.Context, name, storagePath string) (*models.RegionProfile, error) {
	r := models.RegionProfile{ID: int64(len(s.regions) + 1), Name: name, StoragePath: storagePath}
	s.regions = append(s.regions, r)
	return &r, nil
}

func (s *fakeStore) ListRegions(ctx context.Context) ([]models.RegionProfile, error) {
	return s.regions, nil
}

func (s *fakeStore) GetRun(ctx context.Context, id int64) (*models.Run, error) {
	return s.runs[id], nil
}

func (s *fakeStore) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	var out []models.Run
	for _, r := range s.runs {
		out = append(out, *r)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) LatestCompletedRun(ctx context.Context) (*models.Run, error) {
	return s.latest, nil
}

func (s *fakeStore) ListPricePoints(ctx context.Context, runID int64) ([]models.PricePoint, error) {
	return s.points[runID], nil
}

type fakeStarter struct {
	err error
	run *models.Run
}

func (s *fakeStarter) Start(ctx context.Context, regionID int64) (*models.Run, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.run, nil
}

func newTestHandlers(t *testing.T, store Store, starter Starter) *Handlers {
	t.Helper()
	return NewHandlers(store, starter, nil, t.TempDir(), slog.Default())
}

func doRequest(h *Handlers, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func TestCreateTarget(t *testing.T) {
	t.Run("normalizes the url", func(t *testing.T) {
		store := newFakeStore()
		h := newTestHandlers(t, store, &fakeStarter{})

		rec := doRequest(h, http.MethodPost, "/targets/", CreateTargetRequest{
			URL:  "https://www.ozon.ru/product/item-123/?asb=abc&tracking=1#reviews",
			Name: "Item",
		})

		require.Equal(t, http.StatusCreated, rec.Code)
		require.Len(t, store.createdURLs, 1)
		assert.Equal(t, "https://www.ozon.ru/product/item-123", store.createdURLs[0])
	})

	t.Run("rejects invalid urls", func(t *testing.T) {
		h := newTestHandlers(t, newFakeStore(), &fakeStarter{})

		for _, raw := range []string{"", "ftp://example.test/x", "not a url at all", "/relative/path"} {
			rec := doRequest(h, http.MethodPost, "/targets/", CreateTargetRequest{URL: raw})
			assert.Equal(t, http.StatusBadRequest, rec.Code, "url %q", raw)
		}
	})
}

func TestToggleTarget(t *testing.T) {
	store := newFakeStore()
	store.targets = []models.Target{{ID: 5, URL: "https://example.test/p"}}
	h := newTestHandlers(t, store, &fakeStarter{})

	rec := doRequest(h, http.MethodPost, "/targets/5/toggle", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(h, http.MethodPost, "/targets/99/toggle", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(h, http.MethodPost, "/targets/abc/toggle", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteTarget(t *testing.T) {
	store := newFakeStore()
	store.targets = []models.Target{{ID: 5, URL: "https://example.test/p"}}
	price := int64(162900)
	store.points[1] = []models.PricePoint{{ID: 10, RunID: 1, TargetID: 5, Price: &price}}
	h := newTestHandlers(t, store, &fakeStarter{})

	rec := doRequest(h, http.MethodDelete, "/targets/5", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, store.targets)

	// Collected history outlives the target.
	points, err := store.ListPricePoints(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, int64(5), points[0].TargetID)

	rec = doRequest(h, http.MethodDelete, "/targets/5", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartRun(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		starter := &fakeStarter{run: &models.Run{ID: 7, Status: models.RunStatusRunning}}
		h := newTestHandlers(t, newFakeStore(), starter)

		rec := doRequest(h, http.MethodPost, "/runs/", StartRunRequest{RegionID: 1})

		require.Equal(t, http.StatusAccepted, rec.Code)
		var resp StartRunResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, int64(7), resp.RunID)
		assert.Equal(t, "running", resp.Status)
	})

	t.Run("conflict when the slot is occupied", func(t *testing.T) {
		h := newTestHandlers(t, newFakeStore(), &fakeStarter{err: runner.ErrRunLimitReached})

		rec := doRequest(h, http.MethodPost, "/runs/", StartRunRequest{RegionID: 1})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("not found for unknown region", func(t *testing.T) {
		h := newTestHandlers(t, newFakeStore(), &fakeStarter{err: runner.ErrRegionNotFound})

		rec := doRequest(h, http.MethodPost, "/runs/", StartRunRequest{RegionID: 99})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGetRun(t *testing.T) {
	store := newFakeStore()
	started := time.Date(2025, 6, 1, 1, 0, 0, 0, time.UTC)
	finished := started.Add(10 * time.Minute)
	price := int64(162900)
	store.runs[1] = &models.Run{
		ID: 1, RegionID: 1, Status: models.RunStatusDone,
		StartedAt: &started, FinishedAt: &finished,
		TotalTargets: 1, SuccessCount: 1,
	}
	store.points[1] = []models.PricePoint{
		{ID: 10, RunID: 1, TargetID: 4, Price: &price, InStock: true, CollectedAt: started},
	}
	h := newTestHandlers(t, store, &fakeStarter{})

	rec := doRequest(h, http.MethodGet, "/runs/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var detail struct {
		Status    string `json:"status"`
		StartedAt string `json:"started_at"`
		Points    []struct {
			TargetID int64    `json:"target_id"`
			Price    *float64 `json:"price"`
		} `json:"points"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))

	assert.Equal(t, "done", detail.Status)
	assert.Equal(t, "2025-06-01T01:00:00Z", detail.StartedAt)
	require.Len(t, detail.Points, 1)
	require.NotNil(t, detail.Points[0].Price)
	// Minor units become decimal rubles at the boundary.
	assert.Equal(t, 1629.0, *detail.Points[0].Price)

	rec = doRequest(h, http.MethodGet, "/runs/42", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLatestPrices(t *testing.T) {
	t.Run("no completed run yet", func(t *testing.T) {
		h := newTestHandlers(t, newFakeStore(), &fakeStarter{})

		rec := doRequest(h, http.MethodGet, "/prices/latest", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("returns the latest completed run", func(t *testing.T) {
		store := newFakeStore()
		store.latest = &models.Run{ID: 2, Status: models.RunStatusDone, TotalTargets: 1}
		price := int64(99900)
		store.points[2] = []models.PricePoint{{ID: 1, RunID: 2, TargetID: 1, Price: &price, CollectedAt: time.Now()}}
		h := newTestHandlers(t, store, &fakeStarter{})

		rec := doRequest(h, http.MethodGet, "/prices/latest", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"price":999`)
	})
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"https://www.ozon.ru/product/x-1/?a=b#f", "https://www.ozon.ru/product/x-1", false},
		{"http://example.test/path/", "http://example.test/path", false},
		{"  https://example.test  ", "https://example.test", false},
		{"www.ozon.ru/product/x-1", "https://www.ozon.ru/product/x-1", false},
		{"ftp://example.test", "", true},
		{"", "", true},
		{"/no-host", "", true},
	}

	for _, tt := range tests {
		got, err := normalizeURL(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "moscow", slugify("Moscow"))
	assert.Equal(t, "st-petersburg", slugify("St. Petersburg"))
	assert.Equal(t, "москва", slugify("Москва"))
	assert.Equal(t, "region", slugify("!!!"))
}
