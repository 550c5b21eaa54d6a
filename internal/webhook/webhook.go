// Package webhook reconciles push events from the upstream provider against
// local storage. Events are hints, not payloads: the current activity state is
// always re-fetched from the API before writing.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"example.com/stravasync/internal/domain"
)

// Event is the notification body posted by the provider.
type Event struct {
	ObjectType     string            `json:"object_type"`
	ObjectID       int64             `json:"object_id"`
	AspectType     string            `json:"aspect_type"`
	OwnerID        int64             `json:"owner_id"`
	SubscriptionID int64             `json:"subscription_id"`
	EventTime      int64             `json:"event_time"`
	Updates        map[string]string `json:"updates,omitempty"`
}

// Status classifies how an event was handled.
type Status string

const (
	// StatusApplied means local storage changed in response to the event.
	StatusApplied Status = "applied"
	// StatusIgnored means the event shape carries nothing actionable.
	StatusIgnored Status = "ignored"
	// StatusNotFound means the event was actionable but its referent is gone:
	// no such user, no credentials, or the activity vanished upstream.
	StatusNotFound Status = "not_found"
)

// Outcome reports the reconciliation result for one event.
type Outcome struct {
	Status Status
	Action domain.Action
}

// ActivityFetcher is the slice of the upstream client the reconciler needs.
type ActivityFetcher interface {
	FetchActivity(ctx context.Context, accessToken string, activityID int64) (json.RawMessage, error)
}

// UserResolver maps upstream athlete ids onto local users.
type UserResolver interface {
	UserIDByAthleteID(ctx context.Context, athleteID int64) (string, error)
}

// Reconciler applies events to local storage. Replaying an event converges to
// the same stored state.
type Reconciler struct {
	users       UserResolver
	credentials domain.CredentialStore
	client      ActivityFetcher
	activities  domain.ActivityStore
	logger      *log.Logger
}

// NewReconciler constructs a Reconciler.
func NewReconciler(users UserResolver, credentials domain.CredentialStore, client ActivityFetcher, activities domain.ActivityStore, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.Default()
	}
	return &Reconciler{
		users:       users,
		credentials: credentials,
		client:      client,
		activities:  activities,
		logger:      logger,
	}
}

// Apply runs one event through the state machine. Errors are reserved for
// infrastructure failures; every expected shape maps to an Outcome.
func (r *Reconciler) Apply(ctx context.Context, event Event) (Outcome, error) {
	if event.ObjectType != "activity" {
		if event.ObjectType != "athlete" {
			r.logger.Printf("webhook: ignoring event with object_type %q", event.ObjectType)
		}
		recordEvent(event.ObjectType, event.AspectType, string(StatusIgnored))
		return Outcome{Status: StatusIgnored}, nil
	}

	switch event.AspectType {
	case "delete":
		return r.applyDelete(ctx, event)
	case "create", "update":
		return r.applyUpsert(ctx, event)
	default:
		r.logger.Printf("webhook: ignoring activity event with aspect_type %q", event.AspectType)
		recordEvent(event.ObjectType, event.AspectType, string(StatusIgnored))
		return Outcome{Status: StatusIgnored}, nil
	}
}

func (r *Reconciler) applyDelete(ctx context.Context, event Event) (Outcome, error) {
	userID, err := r.users.UserIDByAthleteID(ctx, event.OwnerID)
	if err != nil {
		if errors.Is(err, domain.ErrProfileNotFound) {
			recordEvent(event.ObjectType, event.AspectType, string(StatusNotFound))
			return Outcome{Status: StatusNotFound}, nil
		}
		return Outcome{}, err
	}

	deleted, err := r.activities.Delete(ctx, userID, event.ObjectID)
	if err != nil {
		return Outcome{}, err
	}
	if !deleted {
		recordEvent(event.ObjectType, event.AspectType, string(StatusNotFound))
		return Outcome{Status: StatusNotFound}, nil
	}
	recordEvent(event.ObjectType, event.AspectType, string(StatusApplied))
	return Outcome{Status: StatusApplied, Action: "delete"}, nil
}

func (r *Reconciler) applyUpsert(ctx context.Context, event Event) (Outcome, error) {
	userID, err := r.users.UserIDByAthleteID(ctx, event.OwnerID)
	if err != nil {
		if errors.Is(err, domain.ErrProfileNotFound) {
			r.logger.Printf("webhook: no user bound to athlete %d", event.OwnerID)
			recordEvent(event.ObjectType, event.AspectType, string(StatusNotFound))
			return Outcome{Status: StatusNotFound}, nil
		}
		return Outcome{}, err
	}

	bundle, err := r.credentials.Fetch(ctx, userID, false)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialsNotFound) {
			r.logger.Printf("webhook: no usable credentials for user %s", userID)
			recordEvent(event.ObjectType, event.AspectType, string(StatusNotFound))
			return Outcome{Status: StatusNotFound}, nil
		}
		return Outcome{}, err
	}

	payload, err := r.client.FetchActivity(ctx, bundle.AccessToken, event.ObjectID)
	if err != nil {
		return Outcome{}, err
	}
	if payload == nil {
		recordEvent(event.ObjectType, event.AspectType, string(StatusNotFound))
		return Outcome{Status: StatusNotFound}, nil
	}

	// Detail payloads occasionally disagree with the event's object id; the
	// event wins so replays stay idempotent.
	payload, err = domain.ForceActivityID(payload, event.ObjectID)
	if err != nil {
		return Outcome{}, err
	}

	_, action, err := r.activities.Upsert(ctx, userID, payload)
	if err != nil {
		return Outcome{}, err
	}
	recordEvent(event.ObjectType, event.AspectType, string(StatusApplied))
	return Outcome{Status: StatusApplied, Action: action}, nil
}
