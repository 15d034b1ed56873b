package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gutorka/internal/models"
)

const defaultTimeout = 10 * time.Second

// Client talks to the directory service over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

func (c *Client) ResolveUser(ctx context.Context, contactID string) (models.User, error) {
	var user models.User
	err := c.getJSON(ctx, fmt.Sprintf("/api/users/%s", contactID), &user)
	return user, err
}

func (c *Client) IsContactOf(ctx context.Context, actingUserID, contactID string) (bool, error) {
	var resp struct {
		IsContact bool `json:"isContact"`
	}
	err := c.getJSON(ctx, fmt.Sprintf("/api/users/%s/contacts/%s", actingUserID, contactID), &resp)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return resp.IsContact, nil
}

func (c *Client) GetDisplayInfo(ctx context.Context, contactID string) (DisplayInfo, error) {
	var info DisplayInfo
	err := c.getJSON(ctx, fmt.Sprintf("/api/users/%s/display", contactID), &info)
	return info, err
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrDirectoryUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return models.ErrNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: directory returned status %d", models.ErrDirectoryUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("directory returned status %d for %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode directory response: %w", err)
	}
	return nil
}
