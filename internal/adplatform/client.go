package adplatform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/attribution-backend/pkg/config"
)

const (
	defaultTimeout      = 8 * time.Second
	maxResponseBytes    = 1 << 20
	actionSourceWebsite = "website"
)

var (
	errAccessTokenRequired = errors.New("access token is required")
	errPixelIDRequired     = errors.New("pixel id is required")
	errEntityIDRequired    = errors.New("entity id is required")
)

// Credentials authorize calls on behalf of one store.
type Credentials struct {
	PixelID     string
	AccessToken string
}

// UserData carries the matching keys sent with a conversion.
type UserData struct {
	FBC       string   `json:"fbc,omitempty"`
	FBP       string   `json:"fbp,omitempty"`
	Email     []string `json:"em,omitempty"`
	Phone     []string `json:"ph,omitempty"`
	UserAgent string   `json:"client_user_agent,omitempty"`
}

// CustomData carries the commerce values of a conversion.
type CustomData struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency,omitempty"`
	OrderID  string  `json:"order_id,omitempty"`
}

// Conversion is one server-side event sent to the ads platform.
type Conversion struct {
	EventName    string     `json:"event_name"`
	EventTime    int64      `json:"event_time"`
	EventID      string     `json:"event_id"`
	ActionSource string     `json:"action_source"`
	UserData     UserData   `json:"user_data"`
	CustomData   CustomData `json:"custom_data"`
}

// APIError is a non-2xx response from the ads platform.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ads platform returned status %d", e.Status)
	}
	return fmt.Sprintf("ads platform returned status %d: %s", e.Status, e.Message)
}

// Retryable reports whether the request may succeed when repeated.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// Client talks to the ads platform graph API.
type Client struct {
	http    *http.Client
	baseURL string
	version string
}

// NewClient builds a client from config. A nil httpClient gets one with the
// configured timeout.
func NewClient(cfg config.AdPlatformConfig, httpClient *http.Client) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("ads platform base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse ads platform base url: %w", err)
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		http:    httpClient,
		baseURL: base,
		version: strings.Trim(strings.TrimSpace(cfg.APIVersion), "/"),
	}, nil
}

// SendConversion posts one conversion event for the store's pixel.
func (c *Client) SendConversion(ctx context.Context, creds Credentials, conversion Conversion) error {
	if strings.TrimSpace(creds.PixelID) == "" {
		return errPixelIDRequired
	}
	if strings.TrimSpace(creds.AccessToken) == "" {
		return errAccessTokenRequired
	}
	if conversion.ActionSource == "" {
		conversion.ActionSource = actionSourceWebsite
	}

	body, err := json.Marshal(map[string]any{"data": []Conversion{conversion}})
	if err != nil {
		return fmt.Errorf("encode conversion: %w", err)
	}

	endpoint := c.endpoint(creds.PixelID, "events", url.Values{"access_token": {creds.AccessToken}})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build conversion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, nil)
}

// EntityName returns the display name of a campaign, ad set or ad.
func (c *Client) EntityName(ctx context.Context, accessToken, entityID string) (string, error) {
	if strings.TrimSpace(accessToken) == "" {
		return "", errAccessTokenRequired
	}
	if strings.TrimSpace(entityID) == "" {
		return "", errEntityIDRequired
	}

	endpoint := c.endpoint(entityID, "", url.Values{
		"fields":       {"name"},
		"access_token": {accessToken},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build entity request: %w", err)
	}

	var out struct {
		Name string `json:"name"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Name), nil
}

func (c *Client) endpoint(node, edge string, query url.Values) string {
	parts := []string{c.baseURL}
	if c.version != "" {
		parts = append(parts, c.version)
	}
	parts = append(parts, url.PathEscape(strings.TrimSpace(node)))
	if edge != "" {
		parts = append(parts, edge)
	}
	endpoint := strings.Join(parts, "/")
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	return endpoint
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ads platform request: %w", redactToken(err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read ads platform response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var envelope struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(payload, &envelope)
		return &APIError{Status: resp.StatusCode, Message: envelope.Error.Message}
	}

	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode ads platform response: %w", err)
	}
	return nil
}

// redactToken drops the request URL from transport errors so access tokens
// never reach logs or the event store.
func redactToken(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
	}
	return err
}
