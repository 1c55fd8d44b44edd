package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tiongMax/stockwatch/internal/alert"
)

const DefaultSlackAPI = "https://slack.com/api"

// ErrSlackAuth is returned when Slack rejects the bot token.
var ErrSlackAuth = errors.New("slack credential rejected")

// SlackClient is a minimal Slack Web API client.
type SlackClient struct {
	token   string
	baseURL string
	client  *http.Client
}

func NewSlackClient(token string, httpClient *http.Client) *SlackClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &SlackClient{token: token, baseURL: DefaultSlackAPI, client: httpClient}
}

// WithBaseURL points the client at a different API root.
func (c *SlackClient) WithBaseURL(u string) *SlackClient {
	c.baseURL = u
	return c
}

// AuthInfo identifies the bot behind a token.
type AuthInfo struct {
	Team   string `json:"team"`
	User   string `json:"user"`
	UserID string `json:"user_id"`
}

type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	AuthInfo
}

// AuthTest validates the bot token.
func (c *SlackClient) AuthTest(ctx context.Context) (AuthInfo, error) {
	resp, err := c.call(ctx, "auth.test", map[string]interface{}{})
	if err != nil {
		return AuthInfo{}, err
	}
	return resp.AuthInfo, nil
}

// PostMessage sends text to a channel.
func (c *SlackClient) PostMessage(ctx context.Context, channel, text string) error {
	_, err := c.call(ctx, "chat.postMessage", map[string]interface{}{
		"channel": channel,
		"text":    text,
	})
	return err
}

// Respond replies to a slash command through its response_url.
func (c *SlackClient) Respond(ctx context.Context, responseURL, text string, ephemeral bool) error {
	body := map[string]interface{}{"text": text}
	if ephemeral {
		body["response_type"] = "ephemeral"
	} else {
		body["response_type"] = "in_channel"
	}
	_, err := c.postJSON(ctx, responseURL, body, false)
	return err
}

func (c *SlackClient) call(ctx context.Context, method string, body map[string]interface{}) (apiResponse, error) {
	raw, err := c.postJSON(ctx, c.baseURL+"/"+method, body, true)
	if err != nil {
		return apiResponse{}, err
	}
	var resp apiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return apiResponse{}, fmt.Errorf("slack %s: decode: %w", method, err)
	}
	if !resp.OK {
		if resp.Error == "invalid_auth" || resp.Error == "not_authed" || resp.Error == "account_inactive" || resp.Error == "token_revoked" {
			return resp, fmt.Errorf("%w: %s", ErrSlackAuth, resp.Error)
		}
		return resp, fmt.Errorf("slack %s: %s", method, resp.Error)
	}
	return resp, nil
}

func (c *SlackClient) postJSON(ctx context.Context, url string, body map[string]interface{}, auth bool) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("postJSON (Marshal): %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("postJSON (NewRequest): %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if auth {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("postJSON (Do): %w", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("postJSON (ReadAll): %w", err)
	}
	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("postJSON: status %d: %s", res.StatusCode, string(raw))
	}
	return raw, nil
}

// SlackSink posts alerts to one channel.
type SlackSink struct {
	client  *SlackClient
	channel string
}

func NewSlackSink(client *SlackClient, channel string) *SlackSink {
	return &SlackSink{client: client, channel: channel}
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Deliver(ctx context.Context, a alert.PriceAlert) error {
	return s.client.PostMessage(ctx, s.channel, FormatAlert(a))
}
