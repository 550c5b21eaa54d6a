// Package api exposes HTTP handlers for the strava sync service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/stravasync/internal/auth"
	"example.com/stravasync/internal/domain"
	"example.com/stravasync/internal/persistence"
	"example.com/stravasync/internal/strava"
	"example.com/stravasync/internal/syncer"
	"example.com/stravasync/internal/webhook"
)

// Exchanger trades an authorization code for tokens and the athlete document.
type Exchanger interface {
	ExchangeAuthCode(ctx context.Context, code string) (domain.TokenBundle, *strava.Athlete, error)
}

// SyncRunner runs a bulk sync for one user.
type SyncRunner interface {
	Run(ctx context.Context, userID string, window syncer.Window) (syncer.Result, error)
}

// ResyncPublisher enqueues resync work items.
type ResyncPublisher interface {
	PublishResync(ctx context.Context, topic, userID string, activityIDs []int64) error
}

// EventReconciler applies webhook events to local storage.
type EventReconciler interface {
	Apply(ctx context.Context, event webhook.Event) (webhook.Outcome, error)
}

// Config carries handler tunables.
type Config struct {
	ResyncTopic        string
	WebhookVerifyToken string
	OnboardSyncTimeout time.Duration
}

// Handler coordinates HTTP requests with the sync pipeline.
type Handler struct {
	cfg         Config
	exchanger   Exchanger
	credentials domain.CredentialStore
	profiles    domain.ProfileStore
	activities  domain.ActivityStore
	syncer      SyncRunner
	publisher   ResyncPublisher
	reconciler  EventReconciler
	logger      *log.Logger
}

// NewHandler builds a Handler.
func NewHandler(
	cfg Config,
	exchanger Exchanger,
	credentials domain.CredentialStore,
	profiles domain.ProfileStore,
	activities domain.ActivityStore,
	runner SyncRunner,
	publisher ResyncPublisher,
	reconciler EventReconciler,
	logger *log.Logger,
) *Handler {
	if cfg.OnboardSyncTimeout <= 0 {
		cfg.OnboardSyncTimeout = 10 * time.Minute
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		cfg:         cfg,
		exchanger:   exchanger,
		credentials: credentials,
		profiles:    profiles,
		activities:  activities,
		syncer:      runner,
		publisher:   publisher,
		reconciler:  reconciler,
		logger:      logger,
	}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/strava/webhook", h.webhook)
	mux.HandleFunc("/v1/strava/callback", h.callback)
	mux.HandleFunc("/v1/strava/sync", h.sync)
	mux.HandleFunc("/v1/strava/resync", h.resync)
	mux.HandleFunc("/v1/strava/activities", h.listActivities)
	mux.HandleFunc("/v1/strava/activities/", h.activityByID)
	mux.HandleFunc("/v1/strava/profile", h.profile)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.verifyWebhook(w, r)
	case http.MethodPost:
		h.receiveWebhook(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) verifyWebhook(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	challenge, err := webhook.VerifySubscription(
		query.Get("hub.mode"),
		query.Get("hub.verify_token"),
		query.Get("hub.challenge"),
		h.cfg.WebhookVerifyToken,
	)
	if err != nil {
		if errors.Is(err, webhook.ErrVerifyTokenMismatch) {
			writeError(w, http.StatusForbidden, "forbidden", "verify token mismatch")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"hub.challenge": challenge})
}

func (h *Handler) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	var event webhook.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	outcome, err := h.reconciler.Apply(r.Context(), event)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	status := http.StatusOK
	if outcome.Status == webhook.StatusNotFound {
		status = http.StatusNotFound
	}
	writeJSON(w, status, WebhookResponse{
		Status: string(outcome.Status),
		Action: string(outcome.Action),
	})
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := h.requireScope(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	var req CallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "code is required")
		return
	}

	bundle, athlete, err := h.exchanger.ExchangeAuthCode(r.Context(), req.Code)
	if err != nil {
		writeError(w, http.StatusBadGateway, "exchange_failed", "authorization code exchange failed")
		return
	}

	if err := h.credentials.Store(r.Context(), claims.Subject, bundle); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	profile := profileFromAthlete(claims.Subject, athlete)
	if existing, err := h.profiles.Get(r.Context(), claims.Subject); err == nil {
		profile.WebhookOnboarded = existing.WebhookOnboarded
	}

	created, err := h.profiles.Put(r.Context(), profile)
	if err != nil {
		if errors.Is(err, domain.ErrAthleteConflict) {
			writeError(w, http.StatusConflict, "athlete_conflict", "strava athlete already linked to another user")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	if created {
		go h.onboardSync(claims.Subject)
	}

	writeJSON(w, http.StatusOK, CallbackResponse{
		AthleteID:    athlete.ID,
		FirstLink:    created,
		SyncStarted:  created,
		TokenExpires: bundle.ExpiresAt,
	})
}

// onboardSync backfills activities for a newly linked account off the request
// path. Failures are logged; the user can always trigger a sync explicitly.
func (h *Handler) onboardSync(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.OnboardSyncTimeout)
	defer cancel()

	result, err := h.syncer.Run(ctx, userID, syncer.Window{})
	if err != nil {
		h.logger.Printf("onboarding sync for user %s failed: %v", userID, err)
		return
	}
	h.logger.Printf("onboarding sync for user %s: fetched=%d created=%d updated=%d failed=%d",
		userID, result.Fetched, result.Created, result.Updated, result.Failed)
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := h.requireScope(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	window := syncer.Window{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&window); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
			return
		}
	}

	result, err := h.syncer.Run(r.Context(), claims.Subject, window)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrCredentialsNotFound):
			writeError(w, http.StatusNotFound, "not_found", "no strava credentials linked")
		case errors.Is(err, syncer.ErrInvalidWindow):
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		case errors.Is(err, strava.ErrActivityFetch):
			writeError(w, http.StatusBadGateway, "upstream_unavailable", "activity listing failed")
		default:
			writeError(w, http.StatusInternalServerError, "server_error", "sync failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) resync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := h.requireScope(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	ids, err := h.activities.ListIDs(r.Context(), claims.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	if err := h.publisher.PublishResync(r.Context(), h.cfg.ResyncTopic, claims.Subject, ids); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, ResyncResponse{Enqueued: len(ids)})
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := h.requireScope(w, r, auth.ScopeActivitiesRead, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 200 {
				parsed = 200
			}
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	records, next, err := h.activities.List(r.Context(), claims.Subject, cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]ActivityView, 0, len(records))
	for _, record := range records {
		items = append(items, toActivityView(record))
	}

	writeJSON(w, http.StatusOK, ListActivitiesResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) activityByID(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/v1/strava/activities/")
	activityID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || activityID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid activity id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getActivity(w, r, activityID)
	case http.MethodDelete:
		h.deleteActivity(w, r, activityID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request, activityID int64) {
	claims, ok := h.requireScope(w, r, auth.ScopeActivitiesRead, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	record, err := h.activities.Get(r.Context(), claims.Subject, activityID)
	if err != nil {
		if errors.Is(err, domain.ErrActivityNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "activity not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toActivityView(*record))
}

func (h *Handler) deleteActivity(w http.ResponseWriter, r *http.Request, activityID int64) {
	claims, ok := h.requireScope(w, r, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	deleted, err := h.activities.Delete(r.Context(), claims.Subject, activityID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "not_found", "activity not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := h.requireScope(w, r, auth.ScopeActivitiesRead, auth.ScopeActivitiesWrite)
	if !ok {
		return
	}

	profile, err := h.profiles.Get(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrProfileNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no strava profile linked")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toProfileView(*profile))
}

func (h *Handler) requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return claims, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
	return nil, false
}

func profileFromAthlete(userID string, athlete *strava.Athlete) domain.AthleteProfile {
	return domain.AthleteProfile{
		UserID:        userID,
		AthleteID:     athlete.ID,
		Username:      athlete.Username,
		Firstname:     athlete.Firstname,
		Lastname:      athlete.Lastname,
		Bio:           athlete.Bio,
		City:          athlete.City,
		State:         athlete.State,
		Country:       athlete.Country,
		Sex:           athlete.Sex,
		Premium:       athlete.Premium,
		Summit:        athlete.Summit,
		Weight:        athlete.Weight,
		ProfileMedium: athlete.ProfileMedium,
		Profile:       athlete.Profile,
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
