// Package domain defines the records and store contracts for the strava sync
// pipeline.
package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrMissingActivityID is returned for activity payloads without a usable id.
	ErrMissingActivityID = errors.New("activity payload must include an 'id' field")
	// ErrActivityNotFound is returned when an activity cannot be located.
	ErrActivityNotFound = errors.New("activity not found")
)

// Action classifies the outcome of an upsert.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

// ActivityRecord is one upstream activity stored per user. The upstream
// document is kept verbatim in Payload; the typed columns are a summary
// extracted for listing and ordering.
type ActivityRecord struct {
	UserID             string
	ActivityID         int64
	Name               string
	SportType          string
	Distance           float64
	MovingTime         int
	ElapsedTime        int
	TotalElevationGain float64
	StartDate          time.Time
	Payload            json.RawMessage
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ActivitySummary carries the fields the store indexes out of an upstream
// activity document. Everything else rides along opaquely in the payload.
type ActivitySummary struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	SportType          string    `json:"sport_type"`
	Type               string    `json:"type"`
	Distance           float64   `json:"distance"`
	MovingTime         int       `json:"moving_time"`
	ElapsedTime        int       `json:"elapsed_time"`
	TotalElevationGain float64   `json:"total_elevation_gain"`
	StartDate          time.Time `json:"start_date"`
}

// ParseActivitySummary extracts the indexed fields from an upstream document.
// A payload without a positive id fails validation before any write happens.
func ParseActivitySummary(payload json.RawMessage) (ActivitySummary, error) {
	var summary ActivitySummary
	if err := json.Unmarshal(payload, &summary); err != nil {
		return ActivitySummary{}, err
	}
	if summary.ID <= 0 {
		return ActivitySummary{}, ErrMissingActivityID
	}
	// Older upstream documents carry "type" instead of "sport_type".
	if summary.SportType == "" {
		summary.SportType = summary.Type
	}
	return summary, nil
}

// ForceActivityID rewrites the id field of an upstream document. Webhook detail
// payloads occasionally omit or mismatch it, so the event's object id wins.
func ForceActivityID(payload json.RawMessage, id int64) (json.RawMessage, error) {
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, err
	}
	doc["id"] = id
	return json.Marshal(doc)
}

// Cursor models the pagination token over (start_date, activity_id).
type Cursor struct {
	StartDate  time.Time
	ActivityID int64
}

// ActivityStore captures persistence operations for activity records.
type ActivityStore interface {
	Upsert(ctx context.Context, userID string, payload json.RawMessage) (*ActivityRecord, Action, error)
	Get(ctx context.Context, userID string, activityID int64) (*ActivityRecord, error)
	List(ctx context.Context, userID string, cursor *Cursor, limit int) ([]ActivityRecord, *Cursor, error)
	ListIDs(ctx context.Context, userID string) ([]int64, error)
	Delete(ctx context.Context, userID string, activityID int64) (bool, error)
}
