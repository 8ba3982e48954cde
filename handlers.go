package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/example/ytdash/internal/cache"
	"github.com/example/ytdash/internal/dashboard"
	"github.com/example/ytdash/internal/model"
	"github.com/example/ytdash/internal/oauth"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Router wires every endpoint. CORS wraps the router so preflight requests
// are answered before method matching.
func (a *App) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(SecurityHeaders)
	r.Use(a.Logging)

	r.HandleFunc("/", a.HandleRoot).Methods("GET")
	r.HandleFunc("/health", a.HandleHealth).Methods("GET")
	r.HandleFunc("/ready", a.HandleReady).Methods("GET")

	auth := r.PathPrefix("/api/auth").Subrouter()
	auth.HandleFunc("/login", a.HandleLogin).Methods("GET")
	auth.HandleFunc("/callback", a.HandleCallback).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/videos", a.HandleVideos).Methods("GET")
	api.HandleFunc("/analytics", a.HandleAnalytics).Methods("GET")
	api.HandleFunc("/channel", a.HandleChannel).Methods("GET")
	api.Handle("/refresh", a.RateLimit(http.HandlerFunc(a.HandleRefresh))).Methods("POST")
	api.Handle("/sync", a.OperatorAuth(http.HandlerFunc(a.HandleSync))).Methods("POST")

	return a.CORS(r)
}

func channelHeaders(r *http.Request) (model.ChannelID, string) {
	return model.ChannelID(strings.TrimSpace(r.Header.Get(headerChannelID))), strings.TrimSpace(r.Header.Get(headerAPIKey))
}

// callbackBase prefers the configured public URL and falls back to the
// request's own scheme and host.
func (a *App) callbackBase(r *http.Request) string {
	if a.APIBaseURL != "" {
		return a.APIBaseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + r.Host
}

func (a *App) HandleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "ytdash analytics API", "status": "online"})
}

func (a *App) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) HandleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.DB.Ping(r.Context()); err != nil {
		a.Logger.Warn("readiness ping failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

func (a *App) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.Auth.Configured() {
		writeError(w, http.StatusInternalServerError, "OAUTH_NOT_CONFIGURED", "Google OAuth credentials are not set")
		return
	}
	base := a.callbackBase(r)
	a.Logger.Info("starting authorization", zap.String("callback", oauth.CallbackURL(base)))
	target, err := a.Auth.Start(base).BeginAuthorization()
	if err != nil {
		a.Logger.Error("begin authorization", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Could not start authorization")
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (a *App) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if !a.Auth.Configured() {
		writeError(w, http.StatusInternalServerError, "OAUTH_NOT_CONFIGURED", "Google OAuth credentials are not set")
		return
	}
	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		writeError(w, http.StatusBadRequest, "AUTHORIZATION_DENIED", "Authorization was not granted: "+reason)
		return
	}

	rec, err := a.Auth.Resume(a.callbackBase(r)).HandleCallback(r.Context(), q.Get("code"), q.Get("state"))
	if err != nil {
		a.Logger.Warn("authorization callback failed", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		status, code := callbackError(err)
		writeError(w, status, code, "Authentication failed: "+err.Error())
		return
	}

	target := a.FrontendURL + "/?" + url.Values{
		"auth_success": {"true"},
		"channel_id":   {string(rec.ChannelID)},
	}.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}

func callbackError(err error) (int, string) {
	switch {
	case errors.Is(err, oauth.ErrMissingCode):
		return http.StatusBadRequest, "MISSING_CODE"
	case errors.Is(err, oauth.ErrInvalidState):
		return http.StatusBadRequest, "INVALID_STATE"
	case errors.Is(err, oauth.ErrNoChannelFound):
		return http.StatusBadRequest, "NO_CHANNEL_FOUND"
	case errors.Is(err, oauth.ErrExchangeFailed):
		return http.StatusBadGateway, "EXCHANGE_FAILED"
	}
	return http.StatusInternalServerError, "AUTHENTICATION_FAILED"
}

func (a *App) HandleVideos(w http.ResponseWriter, r *http.Request) {
	channelID, apiKey := channelHeaders(r)
	writeJSON(w, http.StatusOK, a.Dashboard.GetVideos(r.Context(), channelID, apiKey))
}

func (a *App) HandleAnalytics(w http.ResponseWriter, r *http.Request) {
	channelID, _ := channelHeaders(r)
	writeJSON(w, http.StatusOK, a.Dashboard.GetDailyMetrics(r.Context(), channelID))
}

func (a *App) HandleChannel(w http.ResponseWriter, r *http.Request) {
	channelID, apiKey := channelHeaders(r)
	writeJSON(w, http.StatusOK, a.Dashboard.ChannelStats(r.Context(), channelID, apiKey))
}

type refreshResponse struct {
	Message string `json:"message"`
	*dashboard.RefreshStatus
}

func (a *App) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	channelID, apiKey := channelHeaders(r)
	if channelID == "" {
		writeError(w, http.StatusBadRequest, "CHANNEL_REQUIRED", "Channel ID required")
		return
	}

	status, err := a.Dashboard.Refresh(r.Context(), channelID, apiKey)
	if status == nil {
		writeError(w, http.StatusBadRequest, "CHANNEL_REQUIRED", err.Error())
		return
	}
	if !status.Succeeded() {
		writeJSON(w, http.StatusBadGateway, refreshResponse{
			Message:       "Refresh failed: " + err.Error(),
			RefreshStatus: status,
		})
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{
		Message:       refreshMessage(status, err),
		RefreshStatus: status,
	})
}

func refreshMessage(status *dashboard.RefreshStatus, err error) string {
	var parts []string
	for _, k := range status.Results {
		if k.Error != "" {
			continue
		}
		switch k.Kind {
		case cache.Videos:
			parts = append(parts, fmt.Sprintf("%d videos", k.Records))
		case cache.DailyMetrics:
			parts = append(parts, fmt.Sprintf("%d daily metric rows", k.Records))
		}
	}
	msg := fmt.Sprintf("Successfully refreshed %s for %s", strings.Join(parts, " and "), status.ChannelID)
	if err != nil {
		msg = "Partially refreshed: " + strings.Join(parts, " and ") + " for " + string(status.ChannelID)
	}
	return msg
}

func (a *App) HandleSync(w http.ResponseWriter, r *http.Request) {
	report, err := a.Sync.RunOnce(r.Context())
	if err != nil {
		a.Logger.Error("sync run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "SYNC_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}
