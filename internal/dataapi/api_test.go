package dataapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostuk/visibility/internal/cache"
	"github.com/hostuk/visibility/internal/config"
	"github.com/hostuk/visibility/internal/targeting"
	"github.com/hostuk/visibility/internal/testsupport"
	"github.com/hostuk/visibility/internal/visitor"
)

// Tests in this file are not parallel: L1 and decision metrics are global.

const (
	uaIPhone  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1"
	uaDesktop = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// fixedNow is a Saturday.
var fixedNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

type env struct {
	api *API
	l1  *cache.MemoryCache
	l2  *cache.RedisCache
}

func newEnv(t *testing.T) *env {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l2 := cache.NewRedisCache(client, &config.RedisConfig{
		KeyPrefix:           "visibility",
		QueueKey:            "queue:page_updates",
		InvalidationChannel: "events:page_invalidation",
	})

	l1, err := cache.NewMemoryCache(100, time.Minute)
	require.NoError(t, err)
	t.Cleanup(l1.Close)

	extractor := visitor.NewExtractor(nil, time.UTC, func() time.Time { return fixedNow })
	cfg := &config.DataPlaneConfig{L2Timeout: time.Second, MaxBodyBytes: 4096}

	return &env{
		api: NewAPI(nil, l1, l2, targeting.New(nil), extractor, cfg),
		l1:  l1,
		l2:  l2,
	}
}

func (e *env) seed(t *testing.T, rules *targeting.PageRules) {
	t.Helper()
	_, err := e.l2.SetPageRulesSafely(context.Background(), rules)
	require.NoError(t, err)
}

func (e *env) get(path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.api.Router.ServeHTTP(rr, req)
	return rr
}

func (e *env) post(path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.api.Router.ServeHTTP(rr, req)
	return rr
}

func landingPage(version int64) *targeting.PageRules {
	return &targeting.PageRules{
		PageID:  7,
		Version: version,
		Targeting: targeting.RuleSet{
			Countries:      []string{"GB"},
			FallbackTarget: "https://example.com/unavailable",
		},
		Blocks: []targeting.Block{
			{ID: 1, Enabled: true, Conditions: targeting.RuleSet{Devices: []targeting.DeviceType{targeting.DeviceMobile}}},
			{ID: 2, Enabled: false},
			{ID: 3, Enabled: true},
		},
	}
}

func TestNewAPI_PanicsOnNilDependencies(t *testing.T) {
	e := newEnv(t)
	extractor := visitor.NewExtractor(nil, nil, nil)
	cfg := &config.DataPlaneConfig{}

	assert.Panics(t, func() { NewAPI(nil, nil, e.l2, targeting.New(nil), extractor, cfg) })
	assert.Panics(t, func() { NewAPI(nil, e.l1, nil, targeting.New(nil), extractor, cfg) })
	assert.Panics(t, func() { NewAPI(nil, e.l1, e.l2, nil, extractor, cfg) })
	assert.Panics(t, func() { NewAPI(nil, e.l1, e.l2, targeting.New(nil), nil, cfg) })
	assert.Panics(t, func() { NewAPI(nil, e.l1, e.l2, targeting.New(nil), extractor, nil) })
}

func TestPageAccess(t *testing.T) {
	e := newEnv(t)
	e.seed(t, landingPage(3))

	t.Run("Should allow a listed country", func(t *testing.T) {
		rr := e.get("/v1/pages/7/access", map[string]string{"CF-IPCountry": "GB"})
		require.Equal(t, http.StatusOK, rr.Code)

		var resp AccessResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.True(t, resp.Allowed)
		assert.Equal(t, int64(3), resp.Version)
		assert.Empty(t, resp.Message)
	})

	t.Run("Should deny with message and fallback", func(t *testing.T) {
		labels := map[string]string{"scope": "page", "reason": "country_not_allowed"}
		var rr *httptest.ResponseRecorder
		testsupport.AssertMetricDelta(t, "visibility_data_plane_decisions_total", labels, 1, func() {
			rr = e.get("/v1/pages/7/access", map[string]string{"X-Vercel-IP-Country": "us"})
		})
		require.Equal(t, http.StatusOK, rr.Code)

		var resp AccessResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.False(t, resp.Allowed)
		assert.Equal(t, targeting.ReasonCountryNotAllowed, resp.Reason)
		assert.Equal(t, "This content is not available in your region.", resp.Message)
		assert.Equal(t, "https://example.com/unavailable", resp.FallbackTarget)
	})

	t.Run("Should allow an undetectable country", func(t *testing.T) {
		rr := e.get("/v1/pages/7/access", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"allowed":true`)
	})

	t.Run("Should serve from L1 after the first read", func(t *testing.T) {
		_, ok := e.l1.Get(7)
		require.True(t, ok)

		testsupport.AssertMetricDelta(t, "visibility_data_plane_l1_cache_hits_total", nil, 1, func() {
			e.get("/v1/pages/7/access", nil)
		})
	})

	t.Run("Should answer 404 for an unknown page", func(t *testing.T) {
		rr := e.get("/v1/pages/404/access", nil)
		require.Equal(t, http.StatusNotFound, rr.Code)
		assert.Contains(t, rr.Body.String(), codeNotFound)
	})

	t.Run("Should answer 400 for a bad id", func(t *testing.T) {
		rr := e.get("/v1/pages/zero/access", nil)
		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), codeInvalidParam)
	})
}

type failingReader struct{}

func (failingReader) GetPageRules(context.Context, int64) (*targeting.PageRules, error) {
	return nil, errors.New("i/o timeout")
}

// racingReader serves a stale snapshot and invalidates the page mid-read,
// the way the listener would when a newer version is published.
type racingReader struct {
	l1    *cache.MemoryCache
	rules *targeting.PageRules
}

func (r racingReader) GetPageRules(context.Context, int64) (*targeting.PageRules, error) {
	r.l1.Del(r.rules.PageID)
	return r.rules, nil
}

func TestPageAccess_InvalidationDuringFill(t *testing.T) {
	e := newEnv(t)
	stale := &targeting.PageRules{PageID: 11, Version: 1}
	api := NewAPI(nil, e.l1, racingReader{l1: e.l1, rules: stale}, targeting.New(nil), visitor.NewExtractor(nil, nil, nil), &config.DataPlaneConfig{})

	req := httptest.NewRequest(http.MethodGet, "/v1/pages/11/access", nil)
	rr := httptest.NewRecorder()
	api.Router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	_, ok := e.l1.Get(11)
	assert.False(t, ok, "a snapshot read before the invalidation must not be cached")
}

func TestPageAccess_L2Failure(t *testing.T) {
	e := newEnv(t)
	api := NewAPI(nil, e.l1, failingReader{}, targeting.New(nil), visitor.NewExtractor(nil, nil, nil), &config.DataPlaneConfig{})

	req := httptest.NewRequest(http.MethodGet, "/v1/pages/9/access", nil)
	rr := httptest.NewRecorder()
	api.Router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), codeInternal)
}

func TestVisibleBlocks(t *testing.T) {
	e := newEnv(t)
	e.seed(t, landingPage(1))

	tests := []struct {
		name    string
		ua      string
		visible []int64
		hidden  []HiddenBlock
	}{
		{
			name:    "mobile sees the mobile block",
			ua:      uaIPhone,
			visible: []int64{1, 3},
			hidden:  []HiddenBlock{{ID: 2, Reason: targeting.ReasonBlockDisabled}},
		},
		{
			name:    "desktop does not",
			ua:      uaDesktop,
			visible: []int64{3},
			hidden: []HiddenBlock{
				{ID: 1, Reason: targeting.ReasonDeviceNotAllowed},
				{ID: 2, Reason: targeting.ReasonBlockDisabled},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := e.get("/v1/pages/7/blocks", map[string]string{"User-Agent": tt.ua})
			require.Equal(t, http.StatusOK, rr.Code)

			var resp BlocksResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.visible, resp.Visible)
			assert.Equal(t, tt.hidden, resp.Hidden)
		})
	}
}

func TestEvaluate(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name    string
		body    string
		headers map[string]string
		allowed bool
		reason  targeting.ReasonCode
	}{
		{
			name:    "explicit country outside the list",
			body:    `{"rules":{"countries":["GB"]},"context":{"country":"us"}}`,
			reason:  targeting.ReasonCountryNotAllowed,
			allowed: false,
		},
		{
			name:    "unknown country passes",
			body:    `{"rules":{"countries":["GB"]},"context":{}}`,
			allowed: true,
		},
		{
			name:    "headers are used without explicit context",
			body:    `{"rules":{"devices":["mobile"]}}`,
			headers: map[string]string{"User-Agent": uaDesktop},
			reason:  targeting.ReasonDeviceNotAllowed,
		},
		{
			name:    "absent Accept-Language passes",
			body:    `{"rules":{"languages":["en","es"]}}`,
			allowed: true,
		},
		{
			name:   "weekday schedule on a saturday",
			body:   `{"scope":"block","rules":{"schedule":{"days":[1,2,3,4,5]}}}`,
			reason: targeting.ReasonScheduleInactive,
		},
		{
			name:    "wildcard Accept-Language names no language",
			body:    `{"rules":{"languages":["en"]}}`,
			headers: map[string]string{"Accept-Language": "*"},
			reason:  targeting.ReasonLanguageNotAllowed,
		},
		{
			name:    "bare weight Accept-Language names no language",
			body:    `{"rules":{"languages":["en"]}}`,
			headers: map[string]string{"Accept-Language": ";q=0.5"},
			reason:  targeting.ReasonLanguageNotAllowed,
		},
		{
			name:   "explicit wildcard language names no language",
			body:   `{"rules":{"languages":["en"]},"context":{"languages":["*"]}}`,
			reason: targeting.ReasonLanguageNotAllowed,
		},
		{
			name:   "weekday page schedule on a saturday",
			body:   `{"scope":"page","rules":{"schedule":{"days":[1,2,3,4,5]}}}`,
			reason: targeting.ReasonScheduleInactive,
		},
		{
			name:   "disabled block",
			body:   `{"scope":"block","rules":{},"block":{"enabled":false}}`,
			reason: targeting.ReasonBlockDisabled,
		},
		{
			name:   "block past its end date",
			body:   `{"scope":"block","rules":{},"block":{"end_date":"2024-06-14"}}`,
			reason: targeting.ReasonBlockOutOfRange,
		},
		{
			name:    "explicit instant overrides the clock",
			body:    `{"scope":"block","rules":{"schedule":{"days":[1]}},"context":{"now":"2024-06-17T10:00:00Z"}}`,
			allowed: true,
		},
		{
			name:    "malformed key degrades to no constraint",
			body:    `{"rules":{"countries":{"GB":true},"devices":["mobile"]},"context":{"device":"mobile"}}`,
			allowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := e.post("/v1/evaluate", tt.body, tt.headers)
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

			var resp EvaluateResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.allowed, resp.Allowed)
			assert.Equal(t, tt.reason, resp.Reason)
			if !tt.allowed {
				assert.Equal(t, targeting.Message(tt.reason), resp.Message)
			}
		})
	}

	t.Run("Should normalise explicit languages like the header", func(t *testing.T) {
		rr := e.post("/v1/evaluate", `{"rules":{},"context":{"languages":["en-GB","EN","fr","en-US"," "]}}`, nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp EvaluateResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, []string{"en", "fr"}, resp.Context.Languages)
		assert.True(t, resp.Context.LanguagesPresent)
	})

	t.Run("Should reject an unknown scope", func(t *testing.T) {
		rr := e.post("/v1/evaluate", `{"scope":"site","rules":{}}`, nil)
		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), codeInvalidInput)
	})

	t.Run("Should reject malformed json", func(t *testing.T) {
		rr := e.post("/v1/evaluate", `{"rules":`, nil)
		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), codeInvalidJSON)
	})

	t.Run("Should reject oversized bodies", func(t *testing.T) {
		rr := e.post("/v1/evaluate", `{"rules":{"browsers":["`+strings.Repeat("x", 5000)+`"]}}`, nil)
		require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	})
}

func TestMetrics(t *testing.T) {
	e := newEnv(t)

	labels := map[string]string{"method": "POST", "route": "/v1/evaluate", "code": "200"}
	testsupport.AssertMetricDelta(t, "visibility_data_plane_http_requests_total", labels, 1, func() {
		e.post("/v1/evaluate", `{"rules":{}}`, nil)
	})
}
