package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"example.com/stravasync/internal/auth"
	"example.com/stravasync/internal/domain"
	"example.com/stravasync/internal/strava"
	"example.com/stravasync/internal/syncer"
	"example.com/stravasync/internal/webhook"
)

type stubExchanger struct {
	bundle  domain.TokenBundle
	athlete *strava.Athlete
	err     error
}

func (s *stubExchanger) ExchangeAuthCode(ctx context.Context, code string) (domain.TokenBundle, *strava.Athlete, error) {
	return s.bundle, s.athlete, s.err
}

type memCredentials struct {
	stored map[string]domain.TokenBundle
}

func (m *memCredentials) Store(ctx context.Context, userID string, bundle domain.TokenBundle) error {
	if m.stored == nil {
		m.stored = map[string]domain.TokenBundle{}
	}
	m.stored[userID] = bundle
	return nil
}

func (m *memCredentials) Fetch(ctx context.Context, userID string, forceRefresh bool) (*domain.TokenBundle, error) {
	bundle, ok := m.stored[userID]
	if !ok {
		return nil, domain.ErrCredentialsNotFound
	}
	return &bundle, nil
}

type memProfiles struct {
	profiles map[string]domain.AthleteProfile
	putErr   error
}

func (m *memProfiles) Put(ctx context.Context, profile domain.AthleteProfile) (bool, error) {
	if m.putErr != nil {
		return false, m.putErr
	}
	if m.profiles == nil {
		m.profiles = map[string]domain.AthleteProfile{}
	}
	_, existed := m.profiles[profile.UserID]
	m.profiles[profile.UserID] = profile
	return !existed, nil
}

func (m *memProfiles) Get(ctx context.Context, userID string) (*domain.AthleteProfile, error) {
	profile, ok := m.profiles[userID]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	return &profile, nil
}

func (m *memProfiles) Update(ctx context.Context, userID string, update domain.ProfileUpdate) (*domain.AthleteProfile, error) {
	profile, ok := m.profiles[userID]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	update.Apply(&profile)
	m.profiles[userID] = profile
	return &profile, nil
}

func (m *memProfiles) UserIDByAthleteID(ctx context.Context, athleteID int64) (string, error) {
	for userID, profile := range m.profiles {
		if profile.AthleteID == athleteID {
			return userID, nil
		}
	}
	return "", domain.ErrProfileNotFound
}

type memActivities struct {
	records map[int64]domain.ActivityRecord
	ids     []int64
	listErr error
}

func (m *memActivities) Upsert(ctx context.Context, userID string, payload json.RawMessage) (*domain.ActivityRecord, domain.Action, error) {
	return nil, domain.ActionCreate, nil
}

func (m *memActivities) Get(ctx context.Context, userID string, activityID int64) (*domain.ActivityRecord, error) {
	record, ok := m.records[activityID]
	if !ok {
		return nil, domain.ErrActivityNotFound
	}
	return &record, nil
}

func (m *memActivities) List(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.ActivityRecord, *domain.Cursor, error) {
	if m.listErr != nil {
		return nil, nil, m.listErr
	}
	out := make([]domain.ActivityRecord, 0, len(m.records))
	for _, record := range m.records {
		out = append(out, record)
	}
	return out, nil, nil
}

func (m *memActivities) ListIDs(ctx context.Context, userID string) ([]int64, error) {
	return m.ids, nil
}

func (m *memActivities) Delete(ctx context.Context, userID string, activityID int64) (bool, error) {
	if _, ok := m.records[activityID]; !ok {
		return false, nil
	}
	delete(m.records, activityID)
	return true, nil
}

type stubRunner struct {
	result syncer.Result
	err    error
	calls  chan string
}

func (s *stubRunner) Run(ctx context.Context, userID string, window syncer.Window) (syncer.Result, error) {
	if s.calls != nil {
		s.calls <- userID
	}
	return s.result, s.err
}

type stubPublisher struct {
	topic  string
	userID string
	ids    []int64
	err    error
}

func (s *stubPublisher) PublishResync(ctx context.Context, topic, userID string, activityIDs []int64) error {
	s.topic = topic
	s.userID = userID
	s.ids = activityIDs
	return s.err
}

type stubReconciler struct {
	outcome webhook.Outcome
	err     error
	last    webhook.Event
}

func (s *stubReconciler) Apply(ctx context.Context, event webhook.Event) (webhook.Outcome, error) {
	s.last = event
	return s.outcome, s.err
}

type handlerDeps struct {
	exchanger   *stubExchanger
	credentials *memCredentials
	profiles    *memProfiles
	activities  *memActivities
	runner      *stubRunner
	publisher   *stubPublisher
	reconciler  *stubReconciler
}

func newTestHandler(t *testing.T, deps handlerDeps) *Handler {
	t.Helper()
	if deps.exchanger == nil {
		deps.exchanger = &stubExchanger{}
	}
	if deps.credentials == nil {
		deps.credentials = &memCredentials{}
	}
	if deps.profiles == nil {
		deps.profiles = &memProfiles{}
	}
	if deps.activities == nil {
		deps.activities = &memActivities{}
	}
	if deps.runner == nil {
		deps.runner = &stubRunner{}
	}
	if deps.publisher == nil {
		deps.publisher = &stubPublisher{}
	}
	if deps.reconciler == nil {
		deps.reconciler = &stubReconciler{}
	}
	// The onboarding sync goroutine may outlive the request, so the handler
	// logger must not write through t.Log.
	return NewHandler(
		Config{ResyncTopic: "strava_resync", WebhookVerifyToken: "verify-me"},
		deps.exchanger,
		deps.credentials,
		deps.profiles,
		deps.activities,
		deps.runner,
		deps.publisher,
		deps.reconciler,
		log.New(io.Discard, "", 0),
	)
}

func authed(req *http.Request, scopes ...string) *http.Request {
	scopeSet := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		scopeSet[scope] = struct{}{}
	}
	claims := &auth.Claims{
		Subject:   "user-1",
		Scopes:    scopeSet,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func TestCallbackFirstLinkStartsOnboardingSync(t *testing.T) {
	runner := &stubRunner{calls: make(chan string, 1)}
	exchanger := &stubExchanger{
		bundle:  domain.TokenBundle{AccessToken: "at-1", ExpiresAt: 123},
		athlete: &strava.Athlete{ID: 42, Username: "runner"},
	}
	credentials := &memCredentials{}
	profiles := &memProfiles{}
	handler := newTestHandler(t, handlerDeps{exchanger: exchanger, credentials: credentials, profiles: profiles, runner: runner})

	req := authed(httptest.NewRequest(http.MethodPut, "/v1/strava/callback", strings.NewReader(`{"code":"abc"}`)), auth.ScopeActivitiesWrite)
	rr := httptest.NewRecorder()
	handler.callback(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp CallbackResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.AthleteID != 42 || !resp.FirstLink || !resp.SyncStarted {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if _, ok := credentials.stored["user-1"]; !ok {
		t.Fatal("credentials were not stored")
	}
	if profiles.profiles["user-1"].AthleteID != 42 {
		t.Fatal("profile was not stored")
	}

	select {
	case userID := <-runner.calls:
		if userID != "user-1" {
			t.Fatalf("onboarding sync ran for wrong user %s", userID)
		}
	case <-time.After(time.Second):
		t.Fatal("onboarding sync never started")
	}
}

func TestCallbackRelinkDoesNotResync(t *testing.T) {
	runner := &stubRunner{calls: make(chan string, 1)}
	exchanger := &stubExchanger{
		bundle:  domain.TokenBundle{AccessToken: "at-1"},
		athlete: &strava.Athlete{ID: 42},
	}
	profiles := &memProfiles{profiles: map[string]domain.AthleteProfile{
		"user-1": {UserID: "user-1", AthleteID: 42, WebhookOnboarded: true},
	}}
	handler := newTestHandler(t, handlerDeps{exchanger: exchanger, profiles: profiles, runner: runner})

	req := authed(httptest.NewRequest(http.MethodPut, "/v1/strava/callback", strings.NewReader(`{"code":"abc"}`)), auth.ScopeActivitiesWrite)
	rr := httptest.NewRecorder()
	handler.callback(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	if !profiles.profiles["user-1"].WebhookOnboarded {
		t.Fatal("relink lost webhook onboarding flag")
	}

	select {
	case <-runner.calls:
		t.Fatal("relink should not trigger onboarding sync")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCallbackAthleteConflict(t *testing.T) {
	exchanger := &stubExchanger{
		bundle:  domain.TokenBundle{AccessToken: "at-1"},
		athlete: &strava.Athlete{ID: 42},
	}
	profiles := &memProfiles{putErr: domain.ErrAthleteConflict}
	handler := newTestHandler(t, handlerDeps{exchanger: exchanger, profiles: profiles})

	req := authed(httptest.NewRequest(http.MethodPut, "/v1/strava/callback", strings.NewReader(`{"code":"abc"}`)), auth.ScopeActivitiesWrite)
	rr := httptest.NewRecorder()
	handler.callback(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rr.Code)
	}
}

func TestCallbackExchangeFailure(t *testing.T) {
	exchanger := &stubExchanger{err: strava.ErrAuthExchange}
	handler := newTestHandler(t, handlerDeps{exchanger: exchanger})

	req := authed(httptest.NewRequest(http.MethodPut, "/v1/strava/callback", strings.NewReader(`{"code":"bad"}`)), auth.ScopeActivitiesWrite)
	rr := httptest.NewRecorder()
	handler.callback(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 got %d", rr.Code)
	}
}

func TestCallbackRequiresCode(t *testing.T) {
	handler := newTestHandler(t, handlerDeps{})

	req := authed(httptest.NewRequest(http.MethodPut, "/v1/strava/callback", strings.NewReader(`{}`)), auth.ScopeActivitiesWrite)
	rr := httptest.NewRecorder()
	handler.callback(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestSyncReturnsResult(t *testing.T) {
	runner := &stubRunner{result: syncer.Result{Fetched: 3, Created: 2, Updated: 1}}
	handler := newTestHandler(t, handlerDeps{runner: runner})

	req := authed(httptest.NewRequest(http.MethodPut, "/v1/strava/sync", strings.NewReader(`{"days_back":3}`)), auth.ScopeActivitiesWrite)
	rr := httptest.NewRecorder()
	handler.sync(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var result syncer.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result != runner.result {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestSyncWithoutCredentials(t *testing.T) {
	runner := &stubRunner{err: domain.ErrCredentialsNotFound}
	handler := newTestHandler(t, handlerDeps{runner: runner})

	req := authed(httptest.NewRequest(http.MethodPut, "/v1/strava/sync", nil), auth.ScopeActivitiesWrite)
	rr := httptest.NewRecorder()
	handler.sync(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestSyncRejectsConflictingWindow(t *testing.T) {
	runner := &stubRunner{err: syncer.ErrConflictingWindow}
	handler := newTestHandler(t, handlerDeps{runner: runner})

	req := authed(httptest.NewRequest(http.MethodPut, "/v1/strava/sync", strings.NewReader(`{"days_back":3,"all":true}`)), auth.ScopeActivitiesWrite)
	rr := httptest.NewRecorder()
	handler.sync(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestSyncInfrastructureFailureIsServerError(t *testing.T) {
	runner := &stubRunner{err: errors.New("decrypt credentials: message authentication failed")}
	handler := newTestHandler(t, handlerDeps{runner: runner})

	req := authed(httptest.NewRequest(http.MethodPut, "/v1/strava/sync", nil), auth.ScopeActivitiesWrite)
	rr := httptest.NewRecorder()
	handler.sync(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestResyncEnqueuesStoredActivities(t *testing.T) {
	activities := &memActivities{ids: []int64{1, 2, 3}}
	publisher := &stubPublisher{}
	handler := newTestHandler(t, handlerDeps{activities: activities, publisher: publisher})

	req := authed(httptest.NewRequest(http.MethodPost, "/v1/strava/resync", nil), auth.ScopeActivitiesWrite)
	rr := httptest.NewRecorder()
	handler.resync(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d", rr.Code)
	}
	if publisher.topic != "strava_resync" || publisher.userID != "user-1" {
		t.Fatalf("unexpected publish target %s/%s", publisher.topic, publisher.userID)
	}
	if len(publisher.ids) != 3 {
		t.Fatalf("expected 3 ids got %d", len(publisher.ids))
	}

	var resp ResyncResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Enqueued != 3 {
		t.Fatalf("expected enqueued 3 got %d", resp.Enqueued)
	}
}

func TestListActivitiesRequiresAuth(t *testing.T) {
	handler := newTestHandler(t, handlerDeps{})

	req := httptest.NewRequest(http.MethodGet, "/v1/strava/activities", nil)
	rr := httptest.NewRecorder()
	handler.listActivities(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}

func TestListActivitiesRequiresScope(t *testing.T) {
	handler := newTestHandler(t, handlerDeps{})

	req := authed(httptest.NewRequest(http.MethodGet, "/v1/strava/activities", nil), "profile:read")
	rr := httptest.NewRecorder()
	handler.listActivities(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
}

func TestListActivitiesReturnsItems(t *testing.T) {
	activities := &memActivities{records: map[int64]domain.ActivityRecord{
		77: {UserID: "user-1", ActivityID: 77, Name: "Morning Run", Payload: json.RawMessage(`{"id":77}`)},
	}}
	handler := newTestHandler(t, handlerDeps{activities: activities})

	req := authed(httptest.NewRequest(http.MethodGet, "/v1/strava/activities?limit=10", nil), auth.ScopeActivitiesRead)
	rr := httptest.NewRecorder()
	handler.listActivities(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}

	var resp ListActivitiesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ActivityID != 77 {
		t.Fatalf("unexpected items %+v", resp.Items)
	}
}

func TestListActivitiesRejectsBadCursor(t *testing.T) {
	handler := newTestHandler(t, handlerDeps{})

	req := authed(httptest.NewRequest(http.MethodGet, "/v1/strava/activities?cursor=!!!", nil), auth.ScopeActivitiesRead)
	rr := httptest.NewRecorder()
	handler.listActivities(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestGetActivityNotFound(t *testing.T) {
	handler := newTestHandler(t, handlerDeps{})

	req := authed(httptest.NewRequest(http.MethodGet, "/v1/strava/activities/77", nil), auth.ScopeActivitiesRead)
	rr := httptest.NewRecorder()
	handler.activityByID(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestDeleteActivity(t *testing.T) {
	activities := &memActivities{records: map[int64]domain.ActivityRecord{
		77: {UserID: "user-1", ActivityID: 77},
	}}
	handler := newTestHandler(t, handlerDeps{activities: activities})

	req := authed(httptest.NewRequest(http.MethodDelete, "/v1/strava/activities/77", nil), auth.ScopeActivitiesWrite)
	rr := httptest.NewRecorder()
	handler.activityByID(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rr.Code)
	}

	req = authed(httptest.NewRequest(http.MethodDelete, "/v1/strava/activities/77", nil), auth.ScopeActivitiesWrite)
	rr = httptest.NewRecorder()
	handler.activityByID(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestProfileNotLinked(t *testing.T) {
	handler := newTestHandler(t, handlerDeps{})

	req := authed(httptest.NewRequest(http.MethodGet, "/v1/strava/profile", nil), auth.ScopeActivitiesRead)
	rr := httptest.NewRecorder()
	handler.profile(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestWebhookVerification(t *testing.T) {
	handler := newTestHandler(t, handlerDeps{})

	req := httptest.NewRequest(http.MethodGet, "/strava/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=c-1", nil)
	rr := httptest.NewRecorder()
	handler.webhook(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["hub.challenge"] != "c-1" {
		t.Fatalf("unexpected challenge %q", resp["hub.challenge"])
	}

	req = httptest.NewRequest(http.MethodGet, "/strava/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=c-1", nil)
	rr = httptest.NewRecorder()
	handler.webhook(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
}

func TestWebhookEventStatusMapping(t *testing.T) {
	reconciler := &stubReconciler{outcome: webhook.Outcome{Status: webhook.StatusApplied, Action: domain.ActionCreate}}
	handler := newTestHandler(t, handlerDeps{reconciler: reconciler})

	body := `{"object_type":"activity","object_id":77,"aspect_type":"create","owner_id":42}`
	req := httptest.NewRequest(http.MethodPost, "/strava/webhook", strings.NewReader(body))
	rr := httptest.NewRecorder()
	handler.webhook(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	if reconciler.last.ObjectID != 77 {
		t.Fatalf("event not forwarded: %+v", reconciler.last)
	}

	reconciler.outcome = webhook.Outcome{Status: webhook.StatusNotFound}
	req = httptest.NewRequest(http.MethodPost, "/strava/webhook", strings.NewReader(body))
	rr = httptest.NewRecorder()
	handler.webhook(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestWebhookReconcilerFailure(t *testing.T) {
	reconciler := &stubReconciler{err: errors.New("db down")}
	handler := newTestHandler(t, handlerDeps{reconciler: reconciler})

	body := `{"object_type":"activity","object_id":77,"aspect_type":"create","owner_id":42}`
	req := httptest.NewRequest(http.MethodPost, "/strava/webhook", strings.NewReader(body))
	rr := httptest.NewRecorder()
	handler.webhook(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rr.Code)
	}
}
