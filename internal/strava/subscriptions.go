package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// CreateSubscription registers a push-subscription callback with the provider.
func (c *Client) CreateSubscription(ctx context.Context, callbackURL, verifyToken string) (*Subscription, error) {
	clientID, clientSecret, err := c.apiKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubscription, err)
	}

	form := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"callback_url":  {callbackURL},
		"verify_token":  {verifyToken},
	}

	var sub Subscription
	if err := c.postForm(ctx, "/api/v3/push_subscriptions", form, &sub); err != nil {
		recordCall("push_subscriptions", "error")
		return nil, fmt.Errorf("%w: %v", ErrSubscription, err)
	}
	recordCall("push_subscriptions", "success")
	return &sub, nil
}

// ListSubscriptions returns the subscriptions registered for the application.
func (c *Client) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	clientID, clientSecret, err := c.apiKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubscription, err)
	}

	query := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/v3/push_subscriptions?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubscription, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		recordCall("push_subscriptions", "error")
		return nil, fmt.Errorf("%w: %v", ErrSubscription, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		recordCall("push_subscriptions", "error")
		return nil, fmt.Errorf("%w: status %d", ErrSubscription, resp.StatusCode)
	}

	var subs []Subscription
	if err := json.NewDecoder(resp.Body).Decode(&subs); err != nil {
		recordCall("push_subscriptions", "error")
		return nil, fmt.Errorf("%w: %v", ErrSubscription, err)
	}
	recordCall("push_subscriptions", "success")
	return subs, nil
}

// DeleteSubscription removes a registered push subscription.
func (c *Client) DeleteSubscription(ctx context.Context, subscriptionID int64) error {
	clientID, clientSecret, err := c.apiKeys(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSubscription, err)
	}

	query := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
	}
	endpoint := c.cfg.BaseURL + "/api/v3/push_subscriptions/" + strconv.FormatInt(subscriptionID, 10) + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSubscription, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		recordCall("push_subscriptions", "error")
		return fmt.Errorf("%w: %v", ErrSubscription, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		recordCall("push_subscriptions", "error")
		return fmt.Errorf("%w: status %d", ErrSubscription, resp.StatusCode)
	}
	recordCall("push_subscriptions", "success")
	return nil
}
