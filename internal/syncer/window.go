// Package syncer implements bulk reconciliation of a user's upstream
// activities into local storage.
package syncer

import (
	"errors"
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// ErrInvalidWindow marks window selections the caller got wrong, as opposed
// to failures resolving the window.
var ErrInvalidWindow = errors.New("invalid sync window")

// ErrConflictingWindow is returned when more than one window selector is set.
var ErrConflictingWindow = fmt.Errorf("%w: specify at most one of date range, days back, or all", ErrInvalidWindow)

// Window selects the time span of a bulk sync. At most one selector may be
// set; with none set the window defaults to the last seven days. Dates are
// interpreted in Timezone (IANA name, default UTC).
type Window struct {
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
	DaysBack  int    `json:"days_back,omitempty"`
	All       bool   `json:"all,omitempty"`
	Timezone  string `json:"timezone,omitempty"`
}

const defaultDaysBack = 7

// Bounds resolves the window to optional epoch-second bounds. A nil bound
// means unbounded on that side.
func (w Window) Bounds(now time.Time) (after, before *int64, err error) {
	selectors := 0
	if w.StartDate != "" || w.EndDate != "" {
		selectors++
	}
	if w.DaysBack > 0 {
		selectors++
	}
	if w.All {
		selectors++
	}
	if selectors > 1 {
		return nil, nil, ErrConflictingWindow
	}

	loc := time.UTC
	if w.Timezone != "" {
		loc, err = time.LoadLocation(w.Timezone)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: unknown timezone %q: %v", ErrInvalidWindow, w.Timezone, err)
		}
	}

	switch {
	case w.All:
		return nil, nil, nil
	case w.StartDate != "" || w.EndDate != "":
		if w.StartDate == "" || w.EndDate == "" {
			return nil, nil, fmt.Errorf("%w: date range requires both start_date and end_date", ErrInvalidWindow)
		}
		start, err := time.ParseInLocation(dateLayout, w.StartDate, loc)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: invalid start_date: %v", ErrInvalidWindow, err)
		}
		end, err := time.ParseInLocation(dateLayout, w.EndDate, loc)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: invalid end_date: %v", ErrInvalidWindow, err)
		}
		if end.Before(start) {
			return nil, nil, fmt.Errorf("%w: end_date precedes start_date", ErrInvalidWindow)
		}
		// The end date is inclusive: the window closes at the following midnight.
		return epoch(start), epoch(end.AddDate(0, 0, 1)), nil
	default:
		days := w.DaysBack
		if days <= 0 {
			days = defaultDaysBack
		}
		return epoch(now.In(loc).AddDate(0, 0, -days)), nil, nil
	}
}

func epoch(t time.Time) *int64 {
	v := t.Unix()
	return &v
}
