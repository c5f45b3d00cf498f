package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pulsefeed/pulsefeed/internal/orchestrator"
	"github.com/pulsefeed/pulsefeed/internal/ratelimit"
	"github.com/pulsefeed/pulsefeed/internal/scheduler"
	"github.com/pulsefeed/pulsefeed/internal/sentiment"
	"github.com/pulsefeed/pulsefeed/internal/source"
	"github.com/pulsefeed/pulsefeed/internal/storage"
)

type stubAdapter struct{}

func (stubAdapter) Name() string                 { return "reddit" }
func (stubAdapter) Endpoint() string             { return "listing_new" }
func (stubAdapter) Criteria() []source.Criterion { return []source.Criterion{{Target: "all"}} }

func (stubAdapter) Fetch(context.Context, source.Criterion, source.Pacing) ([]source.RawItem, source.QuotaReport, error) {
	return []source.RawItem{{
		NativeID: "x1",
		Text:     "Bitcoin holding steady",
		PostedAt: time.Now().UTC(),
		Language: "en",
	}}, source.QuotaReport{}, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *storage.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := filepath.Join(t.TempDir(), "api.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	store, err := storage.NewStoreWithDB(db)
	require.NoError(t, err)

	orch := orchestrator.New(store, ratelimit.NewTracker(store, nil), sentiment.NewScorer(nil), source.Pacing{MaxItems: 10}, nil)
	sched, err := scheduler.New("@every 1h", []source.Adapter{stubAdapter{}}, orch, store, nil)
	require.NoError(t, err)

	r := gin.New()
	NewServer(store, sched, nil).RegisterRoutes(r)
	return r, store
}

func doRequest(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doRequest(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCollectThenListItems(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(r, http.MethodPost, "/api/v1/collect/reddit", "")
	require.Equal(t, http.StatusOK, w.Code)

	var collectResp struct {
		Data storage.Job `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &collectResp))
	assert.Equal(t, storage.JobCompleted, collectResp.Data.State)
	assert.Equal(t, 1, collectResp.Data.ItemsIngested)

	w = doRequest(r, http.MethodGet, "/api/v1/items?source=reddit&limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)

	var listResp struct {
		Data  []storage.EnrichedItem `json:"data"`
		Count int                    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	require.Equal(t, 1, listResp.Count)
	assert.Equal(t, "reddit_x1", listResp.Data[0].ID)
	assert.NotEmpty(t, listResp.Data[0].Label)
}

func TestCollectUnknownSource(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doRequest(r, http.MethodPost, "/api/v1/collect/myspace", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestKeywordLifecycle(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(r, http.MethodPost, "/api/v1/keywords", `{"term":"Solana","category":"crypto"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var createResp struct {
		Data storage.Keyword `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &createResp))
	require.NotZero(t, createResp.Data.ID)
	assert.True(t, createResp.Data.Active)

	id := createResp.Data.ID
	w = doRequest(r, http.MethodPost, "/api/v1/keywords/"+uintString(id)+"/deactivate", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodGet, "/api/v1/keywords", "")
	require.Equal(t, http.StatusOK, w.Code)
	var listResp struct {
		Data []storage.Keyword `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	require.Len(t, listResp.Data, 1)
	assert.False(t, listResp.Data[0].Active)
}

func uintString(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}

func TestCreateKeywordRequiresTerm(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doRequest(r, http.MethodPost, "/api/v1/keywords", `{"category":"crypto"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListJobsUnknownSourceCreatesNothing(t *testing.T) {
	r, store := newTestRouter(t)

	w := doRequest(r, http.MethodGet, "/api/v1/jobs?source=ghost", "")
	require.Equal(t, http.StatusOK, w.Code)

	var listResp struct {
		Data []storage.Job `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	assert.Empty(t, listResp.Data)

	// The read must not have minted a Source row for the query string.
	src, err := store.GetSourceByName(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, src)
}

func TestStatsEmpty(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doRequest(r, http.MethodGet, "/api/v1/stats", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
