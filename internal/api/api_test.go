package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftedinit/credledger/internal/api"
	"github.com/liftedinit/credledger/internal/config"
	"github.com/liftedinit/credledger/internal/ledger"
	"github.com/liftedinit/credledger/internal/models"
	"github.com/liftedinit/credledger/internal/store/memory"
	tu "github.com/liftedinit/credledger/internal/testutil"
)

const secret = "s3cr3t"

type envelope struct {
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
}

type findData struct {
	Blocks struct {
		Total int64           `json:"total"`
		Page  int64           `json:"page"`
		Limit int64           `json:"limit"`
		Items []*models.Block `json:"items"`
	} `json:"blocks"`
}

func newLedger(t *testing.T) (*memory.Store, *ledger.Builder) {
	t.Helper()
	store := memory.New()
	return store, ledger.NewBuilder(store, ledger.DefaultMaxRetries)
}

func appendBlock(t *testing.T, b *ledger.Builder, collection, id, prev, cur string) {
	t.Helper()
	_, err := b.AppendBlock(context.Background(), models.Subject{Collection: collection, CollectionID: id}, prev, cur, "u1")
	require.NoError(t, err)
}

func do(t *testing.T, handler http.Handler, target, token string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	assert.Equal(t, rec.Code, env.StatusCode)
	assert.Equal(t, "application/json; charset=UTF-8", rec.Header().Get("Content-Type"))
	return rec, env
}

func TestEndToEnd(t *testing.T) {
	store, b := newLedger(t)
	router := api.NewRouter(store, []byte(secret), prometheus.NewRegistry())
	token := tu.BearerToken(t, secret, "u1")

	appendBlock(t, b, "degrees", "d1", ledger.GenesisHash, "h1")
	appendBlock(t, b, "degrees", "d1", "h1", "h2")

	rec, env := do(t, router, "/v1/blocks/get-blocks-quantity/degrees/d1", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Success", env.Message)
	assert.JSONEq(t, `{"quantity":2}`, string(env.Data))

	rec, env = do(t, router, "/v1/blocks/check-blocks/degrees/d1", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, string(env.Data))

	rec, env = do(t, router, "/v1/blocks/check-blocks/degrees/unknown", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, string(env.Data))

	rec, env = do(t, router, "/v1/blocks/get-blocks-quantity/degrees/unknown", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"quantity":0}`, string(env.Data))

	appendBlock(t, b, "degrees", "d1", "WRONG", "h3")
	rec, env = do(t, router, "/v1/blocks/check-blocks/degrees/d1", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":false}`, string(env.Data))
}

func TestFindBlocks(t *testing.T) {
	store, b := newLedger(t)
	router := api.NewRouter(store, []byte(secret), prometheus.NewRegistry())
	token := tu.BearerToken(t, secret, "u1")

	appendBlock(t, b, "degrees", "d1", ledger.GenesisHash, "h1")
	appendBlock(t, b, "certificates", "c1", ledger.GenesisHash, "x1")
	appendBlock(t, b, "degrees", "d1", "h1", "h2")
	appendBlock(t, b, "degrees", "d2", ledger.GenesisHash, "k1")

	find := func(t *testing.T, query url.Values) findData {
		t.Helper()
		rec, env := do(t, router, "/v1/blocks/find?"+query.Encode(), token)
		require.Equal(t, http.StatusOK, rec.Code, env.Message)
		var data findData
		require.NoError(t, json.Unmarshal(env.Data, &data))
		return data
	}

	t.Run("Defaults", func(t *testing.T) {
		data := find(t, url.Values{})
		assert.EqualValues(t, 4, data.Blocks.Total)
		assert.EqualValues(t, 1, data.Blocks.Page)
		assert.EqualValues(t, 20, data.Blocks.Limit)
		require.Len(t, data.Blocks.Items, 4)
		for i, block := range data.Blocks.Items {
			assert.EqualValues(t, i, block.Index)
		}
	})

	t.Run("JSONFilter", func(t *testing.T) {
		data := find(t, url.Values{"filter": {`{"collection":"degrees","collectionId":"d1","unknown":1}`}})
		assert.EqualValues(t, 2, data.Blocks.Total)
		require.Len(t, data.Blocks.Items, 2)
		assert.Equal(t, "h1", data.Blocks.Items[1].PreviousHash)
	})

	t.Run("BracketFilter", func(t *testing.T) {
		data := find(t, url.Values{"filter[collection]": {"degrees"}})
		assert.EqualValues(t, 3, data.Blocks.Total)
	})

	t.Run("Pagination", func(t *testing.T) {
		data := find(t, url.Values{"filter[collection]": {"degrees"}, "page": {"2"}, "limit": {"2"}})
		assert.EqualValues(t, 3, data.Blocks.Total)
		assert.EqualValues(t, 2, data.Blocks.Page)
		assert.EqualValues(t, 2, data.Blocks.Limit)
		require.Len(t, data.Blocks.Items, 1)
		assert.EqualValues(t, 3, data.Blocks.Items[0].Index)
	})

	t.Run("NoMatch", func(t *testing.T) {
		rec, env := do(t, router, "/v1/blocks/find?filter[collection]=diplomas", token)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"blocks":{"total":0,"page":1,"limit":20,"items":[]}}`, string(env.Data))
	})

	t.Run("InvalidQuery", func(t *testing.T) {
		for _, query := range []string{"page=0", "limit=0", "limit=101", "page=abc", "filter=notjson"} {
			rec, env := do(t, router, "/v1/blocks/find?"+query, token)
			assert.Equal(t, http.StatusBadRequest, rec.Code, query)
			assert.Equal(t, "Bad Request", env.Error)
		}
	})

	t.Run("PageOverflow", func(t *testing.T) {
		for _, query := range []string{"page=92233720368547760&limit=100", "page=9223372036854775807&limit=2"} {
			rec, env := do(t, router, "/v1/blocks/find?"+query, token)
			assert.Equal(t, http.StatusBadRequest, rec.Code, query)
			assert.Equal(t, "page out of range", env.Message)
		}

		// The last page whose offset still fits is served.
		data := find(t, url.Values{"page": {"9223372036854775807"}, "limit": {"1"}})
		assert.EqualValues(t, 4, data.Blocks.Total)
		assert.Empty(t, data.Blocks.Items)
	})
}

func TestAuthentication(t *testing.T) {
	router := api.NewRouter(memory.New(), []byte(secret), prometheus.NewRegistry())
	target := "/v1/blocks/get-blocks-quantity/degrees/d1"

	rec, env := do(t, router, target, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", env.Message)

	rec, _ = do(t, router, target, "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, router, target, tu.BearerToken(t, "other-secret", "u1"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, router, target, tu.BearerToken(t, secret, ""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "a token without identity is rejected")

	rec, _ = do(t, router, target, tu.BearerToken(t, secret, "u1"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, router, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNotFound(t *testing.T) {
	router := api.NewRouter(memory.New(), []byte(secret), prometheus.NewRegistry())
	rec, env := do(t, router, "/v1/blocks/nope", tu.BearerToken(t, secret, "u1"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not Found", env.Error)
}

func TestMethodNotAllowed(t *testing.T) {
	router := api.NewRouter(memory.New(), []byte(secret), prometheus.NewRegistry())

	req := httptest.NewRequest(http.MethodPost, "/v1/blocks/find", nil)
	req.Header.Set("Authorization", "Bearer "+tu.BearerToken(t, secret, "u1"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "application/json; charset=UTF-8", rec.Header().Get("Content-Type"))
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	assert.Equal(t, http.StatusMethodNotAllowed, env.StatusCode)
	assert.Equal(t, "Method Not Allowed", env.Error)
	assert.Equal(t, "Cannot POST /v1/blocks/find", env.Message)
}

func TestStorageFailure(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	store := memory.New()
	require.NoError(t, store.Close())
	router := api.NewRouter(store, []byte(secret), prometheus.NewRegistry())
	token := tu.BearerToken(t, secret, "u1")

	for _, target := range []string{
		"/v1/blocks/find",
		"/v1/blocks/get-blocks-quantity/degrees/d1",
		"/v1/blocks/check-blocks/degrees/d1",
	} {
		rec, env := do(t, router, target, token)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, target)
		assert.Equal(t, "block store unavailable", env.Message)
		assert.NotContains(t, rec.Body.String(), ledger.ErrStoreClosed.Error())
	}
	assert.Equal(t, 3, strings.Count(logs.String(), `"user":"u1"`), logs.String())
}

func TestRequestID(t *testing.T) {
	router := api.NewRouter(memory.New(), []byte(secret), prometheus.NewRegistry())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(api.RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(api.RequestIDHeader))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Len(t, rec.Header().Get(api.RequestIDHeader), 36)
}

func TestHTTPMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	router := api.NewRouter(memory.New(), []byte(secret), reg)
	token := tu.BearerToken(t, secret, "u1")

	do(t, router, "/v1/blocks/check-blocks/degrees/d1", token)
	do(t, router, "/v1/blocks/check-blocks/degrees/d2", token)
	do(t, router, "/v1/blocks/check-blocks/degrees/d2", "")

	expected := `
# HELP credledger_http_requests_total Tracks the number of HTTP requests.
# TYPE credledger_http_requests_total counter
credledger_http_requests_total{code="200",method="GET",route="/v1/blocks/check-blocks/{collection}/{collectionId}"} 2
credledger_http_requests_total{code="401",method="GET",route="/v1/blocks/check-blocks/{collection}/{collectionId}"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "credledger_http_requests_total"))
}

func TestNewServer(t *testing.T) {
	srv := api.NewServer(config.ServeConfig{Addr: ":0", Secret: secret}, memory.New(), prometheus.NewRegistry())
	assert.Equal(t, ":0", srv.Addr)
	assert.NotZero(t, srv.ReadTimeout)
	assert.NotZero(t, srv.WriteTimeout)

	req := httptest.NewRequest(http.MethodOptions, "/v1/blocks/find", nil)
	req.Header.Set("Origin", "https://example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
