package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/example/ytdash/internal/cache"
	"github.com/example/ytdash/internal/credential"
	"github.com/example/ytdash/internal/dashboard"
	"github.com/example/ytdash/internal/model"
	"github.com/example/ytdash/internal/oauth"
	"github.com/example/ytdash/internal/secret"
	"github.com/example/ytdash/internal/storage"
	"github.com/example/ytdash/internal/syncjob"
	"github.com/example/ytdash/internal/youtube"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
)

const frontend = "http://front.test"

// fakeGoogle serves the token endpoint and the slice of the Data and
// Analytics APIs the dashboard calls.
type fakeGoogle struct {
	*httptest.Server
	mu      sync.Mutex
	reports int
	bearers []string
}

func (g *fakeGoogle) reportCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reports
}

func (g *fakeGoogle) reportBearers() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.bearers...)
}

func newFakeGoogle(t *testing.T) *fakeGoogle {
	g := &fakeGoogle{}
	encode := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("grant_type") != "authorization_code" || r.PostForm.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		encode(w, map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})
	mux.HandleFunc("/youtube/v3/channels", func(w http.ResponseWriter, r *http.Request) {
		encode(w, map[string]any{"items": []any{map[string]any{
			"id":      "UCXYZ",
			"snippet": map[string]any{"title": "XYZ", "thumbnails": map[string]any{"default": map[string]any{"url": "https://img/xyz"}}},
		}}})
	})
	mux.HandleFunc("/v2/reports", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.reports++
		g.bearers = append(g.bearers, r.Header.Get("Authorization"))
		g.mu.Unlock()
		q := r.URL.Query()
		encode(w, map[string]any{
			"columnHeaders": []any{
				map[string]any{"name": "day"}, map[string]any{"name": "views"}, map[string]any{"name": "likes"},
				map[string]any{"name": "comments"}, map[string]any{"name": "subscribersGained"},
			},
			"rows": []any{
				[]any{q.Get("startDate"), 10, 1, 0, 2},
				[]any{q.Get("endDate"), 20, 3, 1, 0},
			},
		})
	})
	g.Server = httptest.NewServer(mux)
	t.Cleanup(g.Close)
	return g
}

type countingStore[T any] struct {
	cache.Store[T]
	mu   sync.Mutex
	puts int
}

func (s *countingStore[T]) Put(ctx context.Context, id model.ChannelID, records []T, writtenAt time.Time) error {
	s.mu.Lock()
	s.puts++
	s.mu.Unlock()
	return s.Store.Put(ctx, id, records, writtenAt)
}

func (s *countingStore[T]) putCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

type testApp struct {
	*App
	handler http.Handler
	db      *storage.MemDB
	google  *fakeGoogle
	metrics *countingStore[model.DailyMetric]
}

func newTestApp(t *testing.T, clientID string) *testApp {
	t.Helper()
	logger := zap.NewNop()
	g := newFakeGoogle(t)
	db := storage.NewMemoryDB()

	sealer, err := secret.New("test-key")
	require.NoError(t, err)
	store := credential.NewStore(db, sealer, logger)
	endpoint := oauth.NewEndpoint(clientID, "client-secret", g.Client(), oauth.WithProviderEndpoint(oauth2.Endpoint{
		AuthURL:   g.URL + "/auth",
		TokenURL:  g.URL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}))
	yt := youtube.New(g.Client(), "", logger, youtube.WithEndpoints(g.URL+"/", g.URL+"/"))
	broker := credential.NewBroker(store, endpoint, logger)

	metricStore := &countingStore[model.DailyMetric]{Store: storage.DailyMetricStore{DB: db}}
	videos := cache.New[model.Video](cache.Videos, storage.VideoStore{DB: db}, 0, logger)
	metrics := cache.New[model.DailyMetric](cache.DailyMetrics, metricStore, 4*time.Hour, logger)
	start, _ := model.ParseDay("2022-12-31")
	svc := dashboard.NewService(videos, metrics, yt, broker, dashboard.Options{MetricsStartDate: start}, logger)

	a := &App{
		DB:          db,
		Auth:        oauth.NewController(endpoint, oauth.NewStateSigner([]byte("state-secret")), yt, store, logger),
		Dashboard:   svc,
		Sync:        syncjob.New(store, svc, 3, logger),
		Logger:      logger,
		FrontendURL: frontend,
		rateLimiter: NewRateLimiter(1),
	}
	return &testApp{App: a, handler: a.Router(), db: db, google: g, metrics: metricStore}
}

func (ta *testApp) do(method, target string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)
	return rec
}

// authorize runs login and callback and returns the frontend redirect.
func (ta *testApp) authorize(t *testing.T) *url.URL {
	t.Helper()
	login := ta.do("GET", "http://api.test/api/auth/login", nil)
	require.Equal(t, http.StatusFound, login.Code)
	provider, err := url.Parse(login.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "http://api.test/api/auth/callback", provider.Query().Get("redirect_uri"))

	cb := ta.do("GET", "http://api.test/api/auth/callback?"+url.Values{
		"code":  {"good-code"},
		"state": {provider.Query().Get("state")},
	}.Encode(), nil)
	require.Equal(t, http.StatusFound, cb.Code, cb.Body.String())
	back, err := url.Parse(cb.Header().Get("Location"))
	require.NoError(t, err)
	return back
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	var e APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e
}

func TestAuthorizeThenAnalytics(t *testing.T) {
	ta := newTestApp(t, "client-id")

	back := ta.authorize(t)
	require.Equal(t, frontend+"/", back.Scheme+"://"+back.Host+back.Path)
	require.Equal(t, "true", back.Query().Get("auth_success"))
	require.Equal(t, "UCXYZ", back.Query().Get("channel_id"))

	rec, err := ta.db.GetChannel(context.Background(), "UCXYZ")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NotEmpty(t, rec.AccessTokenEnc)
	require.NotEqual(t, "access-1", rec.AccessTokenEnc)
	require.Equal(t, "XYZ", rec.Title)

	res := ta.do("GET", "/api/analytics", map[string]string{headerChannelID: "UCXYZ"})
	require.Equal(t, http.StatusOK, res.Code)
	var rows []model.DailyMetric
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	require.Equal(t, int64(10), rows[0].Views)
	require.Equal(t, 1, ta.google.reportCalls())
	require.Equal(t, 1, ta.metrics.putCalls())
	require.Equal(t, []string{"Bearer access-1"}, ta.google.reportBearers())

	// fresh entry: served from cache
	res = ta.do("GET", "/api/analytics", map[string]string{headerChannelID: "UCXYZ"})
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, 1, ta.google.reportCalls())
}

func TestCallbackErrors(t *testing.T) {
	ta := newTestApp(t, "client-id")

	res := ta.do("GET", "/api/auth/callback?code=good-code&state=forged", nil)
	require.Equal(t, http.StatusBadRequest, res.Code)
	require.Equal(t, "INVALID_STATE", decodeError(t, res).Code)

	state, err := oauth.NewStateSigner([]byte("state-secret")).Sign("http://example.com/api/auth/callback")
	require.NoError(t, err)
	res = ta.do("GET", "http://example.com/api/auth/callback?state="+url.QueryEscape(state), nil)
	require.Equal(t, http.StatusBadRequest, res.Code)
	require.Equal(t, "MISSING_CODE", decodeError(t, res).Code)

	res = ta.do("GET", "http://example.com/api/auth/callback?code=bad-code&state="+url.QueryEscape(state), nil)
	require.Equal(t, http.StatusBadGateway, res.Code)
	require.Equal(t, "EXCHANGE_FAILED", decodeError(t, res).Code)

	res = ta.do("GET", "/api/auth/callback?error=access_denied", nil)
	require.Equal(t, http.StatusBadRequest, res.Code)
	require.Equal(t, "AUTHORIZATION_DENIED", decodeError(t, res).Code)

	channels, err := ta.db.ListChannels(context.Background())
	require.NoError(t, err)
	require.Empty(t, channels)
}

func TestLoginWithoutClientCredentials(t *testing.T) {
	ta := newTestApp(t, "")
	res := ta.do("GET", "/api/auth/login", nil)
	require.Equal(t, http.StatusInternalServerError, res.Code)
	require.Equal(t, "OAUTH_NOT_CONFIGURED", decodeError(t, res).Code)
}

func TestLoginPrefersConfiguredBaseURL(t *testing.T) {
	ta := newTestApp(t, "client-id")
	ta.APIBaseURL = "https://api.example.com"
	res := ta.do("GET", "http://internal:8080/api/auth/login", nil)
	require.Equal(t, http.StatusFound, res.Code)
	u, err := url.Parse(res.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "https://api.example.com/api/auth/callback", u.Query().Get("redirect_uri"))
	require.Equal(t, "offline", u.Query().Get("access_type"))
}

func TestReadEndpointsNeverFail(t *testing.T) {
	ta := newTestApp(t, "client-id")

	for _, path := range []string{"/api/videos", "/api/analytics"} {
		res := ta.do("GET", path, nil)
		require.Equal(t, http.StatusOK, res.Code, path)
		require.JSONEq(t, "[]", res.Body.String(), path)

		res = ta.do("GET", path, map[string]string{headerChannelID: "UCunknown"})
		require.Equal(t, http.StatusOK, res.Code, path)
		require.JSONEq(t, "[]", res.Body.String(), path)
	}

	res := ta.do("GET", "/api/channel", map[string]string{headerChannelID: "UC1"})
	require.Equal(t, http.StatusOK, res.Code)
	var stats model.ChannelStats
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &stats))
	require.Equal(t, "Custom channel", stats.ChannelTitle)
	require.Equal(t, "UC1", stats.ChannelID)
}

func TestRefresh(t *testing.T) {
	ta := newTestApp(t, "client-id")

	res := ta.do("POST", "/api/refresh", nil)
	require.Equal(t, http.StatusBadRequest, res.Code)
	require.Equal(t, "CHANNEL_REQUIRED", decodeError(t, res).Code)

	// no API key and no stored credential: every kind fails
	res = ta.do("POST", "/api/refresh", map[string]string{headerChannelID: "UC1"})
	require.Equal(t, http.StatusBadGateway, res.Code)
	var body refreshResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	require.Len(t, body.Results, 2)
	require.Contains(t, body.Message, "Refresh failed")

	res = ta.do("POST", "/api/refresh", map[string]string{headerChannelID: "UC1"})
	require.Equal(t, http.StatusTooManyRequests, res.Code)

	// limits are per channel
	res = ta.do("POST", "/api/refresh", map[string]string{headerChannelID: "UC2"})
	require.Equal(t, http.StatusBadGateway, res.Code)
}

func TestRefreshPartialSuccess(t *testing.T) {
	ta := newTestApp(t, "client-id")
	ta.authorize(t)

	res := ta.do("POST", "/api/refresh", map[string]string{headerChannelID: "UCXYZ"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var body refreshResponse
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	require.Equal(t, model.ChannelID("UCXYZ"), body.ChannelID)
	require.Equal(t, "Partially refreshed: 2 daily metric rows for UCXYZ", body.Message)
	require.Equal(t, 1, ta.google.reportCalls())
}

func TestSyncEndpoint(t *testing.T) {
	ta := newTestApp(t, "client-id")
	ta.authorize(t)

	res := ta.do("POST", "/api/sync", nil)
	require.Equal(t, http.StatusForbidden, res.Code)

	hash, err := bcrypt.GenerateFromPassword([]byte("op-key"), bcrypt.MinCost)
	require.NoError(t, err)
	ta.OperatorKeyHash = string(hash)

	res = ta.do("POST", "/api/sync", nil)
	require.Equal(t, http.StatusUnauthorized, res.Code)
	res = ta.do("POST", "/api/sync", map[string]string{headerOperatorKey: "wrong"})
	require.Equal(t, http.StatusUnauthorized, res.Code)

	res = ta.do("POST", "/api/sync", map[string]string{headerOperatorKey: "op-key"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	var report syncjob.Report
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &report))
	require.Equal(t, 1, report.Channels)
	require.Equal(t, 1, report.Refreshed)
	require.Empty(t, report.Failed)
	require.Equal(t, 1, ta.google.reportCalls())
}

func TestHealthAndMiddleware(t *testing.T) {
	ta := newTestApp(t, "client-id")

	res := ta.do("GET", "/health", nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "nosniff", res.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, res.Header().Get(headerRequestID))

	res = ta.do("GET", "/ready", nil)
	require.Equal(t, http.StatusOK, res.Code)
	require.JSONEq(t, `{"ready":true}`, res.Body.String())

	res = ta.do("OPTIONS", "/api/videos", map[string]string{"Origin": frontend})
	require.Equal(t, http.StatusNoContent, res.Code)
	assert.Equal(t, frontend, res.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, res.Header().Get("Access-Control-Allow-Headers"), headerChannelID)

	res = ta.do("GET", "/api/videos", map[string]string{"Origin": "http://evil.test"})
	assert.Empty(t, res.Header().Get("Access-Control-Allow-Origin"))
}
