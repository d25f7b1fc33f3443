// Package webex implements qa.ChatPort with Webex messages.
package webex

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fyrsmithlabs/qaflow/internal/backends/rest"
	"github.com/fyrsmithlabs/qaflow/internal/config"
	"github.com/fyrsmithlabs/qaflow/internal/qa"
)

// DefaultBaseURL is the public Webex API.
const DefaultBaseURL = "https://webexapis.com/v1"

// Client posts to Webex rooms.
type Client struct {
	api *rest.Client
}

var _ qa.ChatPort = (*Client)(nil)

// New creates a client. baseURL defaults to DefaultBaseURL.
func New(baseURL, token string, httpClient *http.Client) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("webex token not configured")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		api: rest.New(rest.Options{
			BaseURL:    baseURL,
			Auth:       rest.BearerAuth(token),
			HTTPClient: httpClient,
			UserAgent:  "qaflow-webex/1.0",
		}),
	}, nil
}

// FromConfig creates a client from loaded configuration.
func FromConfig(cfg config.WebexConfig) (*Client, error) {
	return New(cfg.BaseURL, cfg.Token.Value(), nil)
}

// PostMessage posts markdown to a room.
func (c *Client) PostMessage(ctx context.Context, roomID, markdown string) error {
	if roomID == "" {
		return qa.InvalidInput("webex.post_message", "room id is required")
	}
	err := c.api.JSON(ctx, rest.Request{
		Method: http.MethodPost,
		Path:   "messages",
		Body:   map[string]string{"roomId": roomID, "markdown": markdown},
	}, nil)
	return rest.Classify("webex.post_message", err, roomID)
}
