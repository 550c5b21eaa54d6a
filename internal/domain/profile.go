package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrProfileNotFound is returned when a user has no athlete profile.
	ErrProfileNotFound = errors.New("athlete profile not found")
	// ErrAthleteConflict is returned when a Strava athlete id is already bound
	// to a different user. The first binding wins; the write must fail.
	ErrAthleteConflict = errors.New("strava athlete id already bound to another user")
)

// AthleteProfile mirrors the upstream athlete document for one user.
type AthleteProfile struct {
	UserID           string
	AthleteID        int64
	Username         string
	Firstname        string
	Lastname         string
	Bio              string
	City             string
	State            string
	Country          string
	Sex              string
	Premium          bool
	Summit           bool
	Weight           float64
	ProfileMedium    string
	Profile          string
	WebhookOnboarded bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ProfileUpdate is an explicit optional-field update. Each setter is applied
// only when the pointer is non-nil.
type ProfileUpdate struct {
	Username         *string
	Firstname        *string
	Lastname         *string
	Bio              *string
	City             *string
	State            *string
	Country          *string
	Sex              *string
	Premium          *bool
	Summit           *bool
	Weight           *float64
	ProfileMedium    *string
	Profile          *string
	WebhookOnboarded *bool
}

// Empty reports whether the update carries no changes.
func (u ProfileUpdate) Empty() bool {
	return u.Username == nil && u.Firstname == nil && u.Lastname == nil &&
		u.Bio == nil && u.City == nil && u.State == nil && u.Country == nil &&
		u.Sex == nil && u.Premium == nil && u.Summit == nil && u.Weight == nil &&
		u.ProfileMedium == nil && u.Profile == nil && u.WebhookOnboarded == nil
}

// Apply copies the set fields onto the profile.
func (u ProfileUpdate) Apply(p *AthleteProfile) {
	if u.Username != nil {
		p.Username = *u.Username
	}
	if u.Firstname != nil {
		p.Firstname = *u.Firstname
	}
	if u.Lastname != nil {
		p.Lastname = *u.Lastname
	}
	if u.Bio != nil {
		p.Bio = *u.Bio
	}
	if u.City != nil {
		p.City = *u.City
	}
	if u.State != nil {
		p.State = *u.State
	}
	if u.Country != nil {
		p.Country = *u.Country
	}
	if u.Sex != nil {
		p.Sex = *u.Sex
	}
	if u.Premium != nil {
		p.Premium = *u.Premium
	}
	if u.Summit != nil {
		p.Summit = *u.Summit
	}
	if u.Weight != nil {
		p.Weight = *u.Weight
	}
	if u.ProfileMedium != nil {
		p.ProfileMedium = *u.ProfileMedium
	}
	if u.Profile != nil {
		p.Profile = *u.Profile
	}
	if u.WebhookOnboarded != nil {
		p.WebhookOnboarded = *u.WebhookOnboarded
	}
}

// ProfileStore persists athlete profiles with the one-user-per-athlete-id
// invariant enforced at write time.
type ProfileStore interface {
	Put(ctx context.Context, profile AthleteProfile) (created bool, err error)
	Get(ctx context.Context, userID string) (*AthleteProfile, error)
	Update(ctx context.Context, userID string, update ProfileUpdate) (*AthleteProfile, error)
	UserIDByAthleteID(ctx context.Context, athleteID int64) (string, error)
}
