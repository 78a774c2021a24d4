package auth0

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// UserInfoClient calls the provider's /userinfo endpoint on behalf of a caller.
type UserInfoClient struct {
	endpoint   string
	httpClient *http.Client
}

// NewUserInfoClient creates a client for {issuer}/userinfo.
func NewUserInfoClient(issuer string, httpClient *http.Client) *UserInfoClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &UserInfoClient{
		endpoint:   strings.TrimSuffix(issuer, "/") + "/userinfo",
		httpClient: httpClient,
	}
}

// Endpoint returns the userinfo URL.
func (c *UserInfoClient) Endpoint() string {
	return c.endpoint
}

// Fetch forwards the caller's Authorization header value and returns the
// decoded profile object. Any failure is a *UserInfoError.
func (c *UserInfoClient) Fetch(ctx context.Context, authorization string) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, &UserInfoError{URL: c.endpoint, Err: err}
	}
	req.Header.Set("Authorization", authorization)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UserInfoError{URL: c.endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &UserInfoError{URL: c.endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status code: %d", resp.StatusCode)}
	}

	var info map[string]interface{}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&info); err != nil {
		return nil, &UserInfoError{URL: c.endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("malformed userinfo response: %w", err)}
	}
	return info, nil
}
