package api

import (
	"encoding/json"
	"time"

	"example.com/stravasync/internal/domain"
)

// CallbackRequest is the payload for PUT /v1/strava/callback.
type CallbackRequest struct {
	Code string `json:"code"`
}

// CallbackResponse reports the result of linking a Strava account.
type CallbackResponse struct {
	AthleteID    int64 `json:"athlete_id"`
	FirstLink    bool  `json:"first_link"`
	SyncStarted  bool  `json:"sync_started"`
	TokenExpires int64 `json:"token_expires_at"`
}

// ResyncResponse reports how many resync work items were enqueued.
type ResyncResponse struct {
	Enqueued int `json:"enqueued"`
}

// WebhookResponse reports the reconciliation outcome for one event.
type WebhookResponse struct {
	Status string `json:"status"`
	Action string `json:"action,omitempty"`
}

// ActivityView exposes one stored activity.
type ActivityView struct {
	ActivityID         int64           `json:"activity_id"`
	Name               string          `json:"name"`
	SportType          string          `json:"sport_type"`
	Distance           float64         `json:"distance"`
	MovingTime         int             `json:"moving_time"`
	ElapsedTime        int             `json:"elapsed_time"`
	TotalElevationGain float64         `json:"total_elevation_gain"`
	StartDate          time.Time       `json:"start_date"`
	Payload            json.RawMessage `json:"payload"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items      []ActivityView `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// ProfileView exposes the linked athlete profile.
type ProfileView struct {
	AthleteID        int64     `json:"athlete_id"`
	Username         string    `json:"username"`
	Firstname        string    `json:"firstname"`
	Lastname         string    `json:"lastname"`
	Bio              string    `json:"bio,omitempty"`
	City             string    `json:"city,omitempty"`
	State            string    `json:"state,omitempty"`
	Country          string    `json:"country,omitempty"`
	Sex              string    `json:"sex,omitempty"`
	Premium          bool      `json:"premium"`
	Summit           bool      `json:"summit"`
	Weight           float64   `json:"weight,omitempty"`
	ProfileMedium    string    `json:"profile_medium,omitempty"`
	Profile          string    `json:"profile,omitempty"`
	WebhookOnboarded bool      `json:"webhook_onboarded"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func toActivityView(record domain.ActivityRecord) ActivityView {
	return ActivityView{
		ActivityID:         record.ActivityID,
		Name:               record.Name,
		SportType:          record.SportType,
		Distance:           record.Distance,
		MovingTime:         record.MovingTime,
		ElapsedTime:        record.ElapsedTime,
		TotalElevationGain: record.TotalElevationGain,
		StartDate:          record.StartDate,
		Payload:            record.Payload,
		CreatedAt:          record.CreatedAt,
		UpdatedAt:          record.UpdatedAt,
	}
}

func toProfileView(profile domain.AthleteProfile) ProfileView {
	return ProfileView{
		AthleteID:        profile.AthleteID,
		Username:         profile.Username,
		Firstname:        profile.Firstname,
		Lastname:         profile.Lastname,
		Bio:              profile.Bio,
		City:             profile.City,
		State:            profile.State,
		Country:          profile.Country,
		Sex:              profile.Sex,
		Premium:          profile.Premium,
		Summit:           profile.Summit,
		Weight:           profile.Weight,
		ProfileMedium:    profile.ProfileMedium,
		Profile:          profile.Profile,
		WebhookOnboarded: profile.WebhookOnboarded,
		CreatedAt:        profile.CreatedAt,
		UpdatedAt:        profile.UpdatedAt,
	}
}
