package strava

import "errors"

var (
	// ErrAuthExchange covers failed token grants: transport failures, non-2xx
	// responses, or responses missing the access token or athlete document.
	ErrAuthExchange = errors.New("strava auth exchange failed")

	// ErrActivityFetch marks transport-level failures while fetching activity
	// data. HTTP error statuses are not transport failures and never raise it.
	ErrActivityFetch = errors.New("strava activity fetch failed")

	// ErrSubscription covers push-subscription management failures.
	ErrSubscription = errors.New("strava subscription request failed")
)
