package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type stubSecrets struct{}

func (stubSecrets) Get(ctx context.Context, name string) (map[string]string, error) {
	return map[string]string{
		"STRAVA_CLIENT_ID":     "12345",
		"STRAVA_CLIENT_SECRET": "shhh",
	}, nil
}

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func newTestClient(t *testing.T, baseURL string, sleeps *[]time.Duration) *Client {
	t.Helper()
	return NewClient(
		&http.Client{},
		stubSecrets{},
		"strava-keys",
		Config{BaseURL: baseURL, PageSize: 2, MaxRetries429: 2},
		WithLogger(log.New(testWriter{t}, "", 0)),
		WithLimiter(rate.NewLimiter(rate.Inf, 0)),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			if sleeps != nil {
				*sleeps = append(*sleeps, d)
			}
			return nil
		}),
	)
}

func TestListActivitiesWalksAllPages(t *testing.T) {
	pages := map[string]string{
		"1": `[{"id": 1}, {"id": 2}]`,
		"2": `[{"id": 3}]`,
		"3": `[]`,
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/athlete/activities", r.URL.Path)
		require.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		require.Equal(t, "2", r.URL.Query().Get("per_page"))
		fmt.Fprint(w, pages[r.URL.Query().Get("page")])
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	activities, err := client.ListActivities(context.Background(), "token-1", ListOptions{})
	require.NoError(t, err)
	require.Len(t, activities, 3)
}

func TestListActivitiesRetriesSamePageAfterRateLimit(t *testing.T) {
	var rateLimited bool
	var secondPageHits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			fmt.Fprint(w, `[{"id": 1}]`)
		case "2":
			secondPageHits++
			if !rateLimited {
				rateLimited = true
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			fmt.Fprint(w, `[{"id": 2}]`)
		default:
			fmt.Fprint(w, `[]`)
		}
	}))
	defer server.Close()

	var sleeps []time.Duration
	client := newTestClient(t, server.URL, &sleeps)
	activities, err := client.ListActivities(context.Background(), "token-1", ListOptions{})
	require.NoError(t, err)
	require.Len(t, activities, 2)
	require.Equal(t, 2, secondPageHits)
	require.Equal(t, []time.Duration{15 * time.Minute}, sleeps)
}

func TestListActivitiesGivesUpAfterBoundedRateLimitRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "1" {
			fmt.Fprint(w, `[{"id": 1}]`)
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	var sleeps []time.Duration
	client := newTestClient(t, server.URL, &sleeps)
	activities, err := client.ListActivities(context.Background(), "token-1", ListOptions{})
	require.NoError(t, err)
	require.Len(t, activities, 1)
	require.Len(t, sleeps, 2)
}

func TestListActivitiesStopsOnServerErrorWithPartialResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "1" {
			fmt.Fprint(w, `[{"id": 1}, {"id": 2}]`)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	activities, err := client.ListActivities(context.Background(), "token-1", ListOptions{})
	require.NoError(t, err)
	require.Len(t, activities, 2)
}

func TestListActivitiesSurfacesTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := newTestClient(t, server.URL, nil)
	_, err := client.ListActivities(context.Background(), "token-1", ListOptions{})
	require.ErrorIs(t, err, ErrActivityFetch)
}

func TestListActivitiesForwardsWindowBounds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "100", r.URL.Query().Get("after"))
		require.Equal(t, "200", r.URL.Query().Get("before"))
		fmt.Fprint(w, `[]`)
	}))
	defer server.Close()

	after, before := int64(100), int64(200)
	client := newTestClient(t, server.URL, nil)
	_, err := client.ListActivities(context.Background(), "token-1", ListOptions{After: &after, Before: &before})
	require.NoError(t, err)
}

func TestExchangeAuthCodeReturnsTokensAndAthlete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		require.Equal(t, "abc", r.Form.Get("code"))
		json.NewEncoder(w).Encode(map[string]any{
			"token_type":    "Bearer",
			"access_token":  "at-1",
			"refresh_token": "rt-1",
			"expires_at":    1893456000,
			"expires_in":    21600,
			"athlete":       map[string]any{"id": 42, "username": "runner"},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	bundle, athlete, err := client.ExchangeAuthCode(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, "at-1", bundle.AccessToken)
	require.Equal(t, "rt-1", bundle.RefreshToken)
	require.Equal(t, int64(42), athlete.ID)
	require.Equal(t, "runner", athlete.Username)
}

func TestExchangeAuthCodeFailsWithoutAthlete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "at-1"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	_, _, err := client.ExchangeAuthCode(context.Background(), "abc")
	require.ErrorIs(t, err, ErrAuthExchange)
}

func TestExchangeAuthCodeFailsOnRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message": "Bad Request"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	_, _, err := client.ExchangeAuthCode(context.Background(), "bad")
	require.ErrorIs(t, err, ErrAuthExchange)
}

func TestRefreshReturnsNewBundle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		require.Equal(t, "rt-old", r.Form.Get("refresh_token"))
		json.NewEncoder(w).Encode(map[string]any{
			"token_type":    "Bearer",
			"access_token":  "at-2",
			"refresh_token": "rt-new",
			"expires_at":    1893456000,
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	bundle, err := client.Refresh(context.Background(), "rt-old")
	require.NoError(t, err)
	require.Equal(t, "at-2", bundle.AccessToken)
	require.Equal(t, "rt-new", bundle.RefreshToken)
}

func TestFetchActivityReturnsDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/activities/77", r.URL.Path)
		fmt.Fprint(w, `{"id": 77, "name": "Morning Run"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	payload, err := client.FetchActivity(context.Background(), "token-1", 77)
	require.NoError(t, err)
	require.JSONEq(t, `{"id": 77, "name": "Morning Run"}`, string(payload))
}

func TestFetchActivityAbsentOnNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	payload, err := client.FetchActivity(context.Background(), "token-1", 77)
	require.NoError(t, err)
	require.Nil(t, payload)
}

func TestFetchActivityAbsentOnUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	payload, err := client.FetchActivity(context.Background(), "token-1", 77)
	require.NoError(t, err)
	require.Nil(t, payload)
}

func TestFetchActivitySurfacesTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := newTestClient(t, server.URL, nil)
	_, err := client.FetchActivity(context.Background(), "token-1", 77)
	require.ErrorIs(t, err, ErrActivityFetch)
}
