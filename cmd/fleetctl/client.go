package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/nexodus-io/fleetops/internal/models"
)

// APIError is a non-2xx reply decoded from one of the error bodies the
// server sends. Every body carries code and error; the rest depend on code.
type APIError struct {
	Status   int    `json:"-"`
	Message  string `json:"error"`
	Code     string `json:"code"`
	Field    string `json:"field,omitempty"`
	Resource string `json:"resource,omitempty"`
	ID       string `json:"id,omitempty"`
	Reason   string `json:"reason,omitempty"`
	TraceId  string `json:"trace_id,omitempty"`
}

func (e *APIError) Error() string {
	message := fmt.Sprintf("error: %s", e.Message)
	switch {
	case e.Field != "":
		message += fmt.Sprintf(", field: %s", e.Field)
	case e.Resource != "":
		message += fmt.Sprintf(", resource: %s", e.Resource)
	case e.ID != "":
		message += fmt.Sprintf(", conflicting id: %s", e.ID)
	case e.TraceId != "":
		message += fmt.Sprintf(", trace id: %s", e.TraceId)
	}
	if e.Reason != "" {
		message += fmt.Sprintf(", reason: %s", e.Reason)
	}
	if e.Code != "" {
		message += fmt.Sprintf(", code: %s", e.Code)
	}
	return message + fmt.Sprintf(", status: %d", e.Status)
}

type Client struct {
	baseURL   *url.URL
	token     string
	userAgent string
	http      *http.Client
}

type ClientOption func(*Client)

func WithTLSConfig(config *tls.Config) ClientOption {
	return func(c *Client) {
		c.http.Transport = &http.Transport{TLSClientConfig: config}
	}
}

func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

func NewClient(serviceURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(serviceURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("'http://' or 'https://' URL scheme is required")
	}
	c := &Client{
		baseURL:   u,
		userAgent: fmt.Sprintf("fleetctl/%s (%s; %s)", Version, runtime.GOOS, runtime.GOARCH),
		http:      &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) do(req *http.Request, result any) error {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return apiErr
	}
	return json.Unmarshal(body, result)
}

// Call runs a named operation. A nil payload sends an empty object.
func (c *Client) Call(ctx context.Context, name string, payload map[string]any) (models.CallResponse, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/v1/call/"+url.PathEscape(name), nil), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	result := models.CallResponse{}
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// WatchNotifications long-polls the caller's inbox for entries past the
// cursor (since, seen) of the previous response.
func (c *Client) WatchNotifications(ctx context.Context, since int64, seen []string, timeout time.Duration) (models.InboxWatch, error) {
	query := url.Values{}
	if since > 0 {
		query.Set("since", strconv.FormatInt(since, 10))
	}
	for _, id := range seen {
		query.Add("seen", id)
	}
	if timeout > 0 {
		query.Set("timeout", timeout.String())
	}
	var result models.InboxWatch
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/v1/notifications/watch", query), nil)
	if err != nil {
		return result, err
	}
	err = c.do(req, &result)
	return result, err
}

func (c *Client) FeatureFlags(ctx context.Context) (map[string]bool, error) {
	result := map[string]bool{}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/fflags", nil), nil)
	if err != nil {
		return nil, err
	}
	err = c.do(req, &result)
	return result, err
}
