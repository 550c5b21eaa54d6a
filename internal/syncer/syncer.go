package syncer

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"example.com/stravasync/internal/domain"
	"example.com/stravasync/internal/strava"
)

// ActivityLister is the slice of the upstream client the syncer needs.
type ActivityLister interface {
	ListActivities(ctx context.Context, accessToken string, opts strava.ListOptions) ([]json.RawMessage, error)
}

// Result summarises one bulk sync run.
type Result struct {
	Fetched int `json:"fetched"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// Syncer pulls a window of upstream activities and upserts each one. A bad
// activity never aborts the run; failures are counted and the rest proceed.
type Syncer struct {
	credentials domain.CredentialStore
	client      ActivityLister
	activities  domain.ActivityStore
	pageSize    int
	logger      *log.Logger
	now         func() time.Time
}

// Option configures optional behaviour for the Syncer.
type Option func(*Syncer)

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Syncer) {
		s.logger = logger
	}
}

// WithPageSize overrides the listing page size.
func WithPageSize(size int) Option {
	return func(s *Syncer) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

// New constructs a Syncer.
func New(credentials domain.CredentialStore, client ActivityLister, activities domain.ActivityStore, opts ...Option) *Syncer {
	s := &Syncer{
		credentials: credentials,
		client:      client,
		activities:  activities,
		pageSize:    200,
		logger:      log.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run fetches the user's activities inside the window and upserts them one by
// one. The returned result counts every activity seen; an error means the run
// could not start or was cancelled, not that individual activities failed.
func (s *Syncer) Run(ctx context.Context, userID string, window Window) (Result, error) {
	after, before, err := window.Bounds(s.now())
	if err != nil {
		return Result{}, err
	}

	bundle, err := s.credentials.Fetch(ctx, userID, false)
	if err != nil {
		return Result{}, err
	}

	activities, err := s.client.ListActivities(ctx, bundle.AccessToken, strava.ListOptions{
		PerPage: s.pageSize,
		After:   after,
		Before:  before,
	})
	if err != nil {
		return Result{}, err
	}

	result := Result{Fetched: len(activities)}
	for _, payload := range activities {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		_, action, err := s.activities.Upsert(ctx, userID, payload)
		if err != nil {
			result.Failed++
			s.logger.Printf("sync: upsert for user %s failed: %v", userID, err)
			recordActivity("failed")
			continue
		}
		switch action {
		case domain.ActionCreate:
			result.Created++
			recordActivity("created")
		case domain.ActionUpdate:
			result.Updated++
			recordActivity("updated")
		}
	}

	recordRun(result.Failed == 0)
	s.logger.Printf("sync: user %s fetched=%d created=%d updated=%d failed=%d",
		userID, result.Fetched, result.Created, result.Updated, result.Failed)
	return result, nil
}
