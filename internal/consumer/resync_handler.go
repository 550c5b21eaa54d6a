package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"example.com/stravasync/internal/domain"
)

// ActivityFetcher is the slice of the upstream client the handler needs.
type ActivityFetcher interface {
	FetchActivity(ctx context.Context, accessToken string, activityID int64) (json.RawMessage, error)
}

// ResyncHandler re-fetches one activity and upserts it. Tokens are refreshed
// up front: resync messages may sit on the queue long past token expiry.
type ResyncHandler struct {
	credentials domain.CredentialStore
	client      ActivityFetcher
	activities  domain.ActivityStore
	logger      *log.Logger
}

// NewResyncHandler constructs a ResyncHandler.
func NewResyncHandler(credentials domain.CredentialStore, client ActivityFetcher, activities domain.ActivityStore, logger *log.Logger) *ResyncHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &ResyncHandler{
		credentials: credentials,
		client:      client,
		activities:  activities,
		logger:      logger,
	}
}

// Handle processes one resync work item. A missing user, missing credentials,
// or vanished activity is terminal for the message and returns nil so the
// processor commits it; infrastructure failures return an error for redelivery.
func (h *ResyncHandler) Handle(ctx context.Context, msg Message) error {
	bundle, err := h.credentials.Fetch(ctx, msg.UserID, true)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialsNotFound) {
			h.logger.Printf("resync: no usable credentials for user %s, dropping activity %d", msg.UserID, msg.ActivityID)
			recordResync("no_credentials")
			return nil
		}
		return err
	}

	payload, err := h.client.FetchActivity(ctx, bundle.AccessToken, msg.ActivityID)
	if err != nil {
		return err
	}
	if payload == nil {
		h.logger.Printf("resync: activity %d for user %s vanished upstream", msg.ActivityID, msg.UserID)
		recordResync("vanished")
		return nil
	}

	payload, err = domain.ForceActivityID(payload, msg.ActivityID)
	if err != nil {
		return err
	}

	if _, _, err := h.activities.Upsert(ctx, msg.UserID, payload); err != nil {
		return err
	}
	recordResync("applied")
	return nil
}
