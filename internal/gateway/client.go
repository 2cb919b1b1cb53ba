// Package gateway talks to the SMS provider over HTTP.
package gateway

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

	appErrors "github.com/unclebandit/smsleopard-delivery/internal/errors"
)

// SendRequest is one outbound message.
type SendRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
	From    string `json:"from,omitempty"`
}

// SendResult is the provider's acknowledgement of a send.
type SendResult struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// StatusResult is the provider's current view of a message.
type StatusResult struct {
	Status      string     `json:"status"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
}

type Client struct {
	baseURL  string
	apiKey   string
	senderID string
	timeout  time.Duration
	http     *http.Client
}

type Options struct {
	BaseURL  string
	APIKey   string
	SenderID string
	// Timeout bounds every call, on top of whatever deadline ctx carries.
	Timeout time.Duration
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("gateway base url is empty")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("gateway base url: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		baseURL:  base,
		apiKey:   opts.APIKey,
		senderID: opts.SenderID,
		timeout:  timeout,
		http:     hc,
	}, nil
}

// Send submits a message. An empty From uses the configured sender id.
func (c *Client) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	if req.From == "" {
		req.From = c.senderID
	}
	body, err := json.Marshal(req)
	if err != nil {
		return SendResult{}, err
	}

	var res SendResult
	if err := c.do(ctx, "send", http.MethodPost, "/messages", body, &res); err != nil {
		return SendResult{}, err
	}
	if res.MessageID == "" {
		return SendResult{}, &appErrors.TransientGatewayError{Op: "send", Err: errors.New("response without messageId")}
	}
	return res, nil
}

// Status asks the provider for the latest status of a message.
func (c *Client) Status(ctx context.Context, providerMessageID string) (StatusResult, error) {
	var res StatusResult
	path := "/messages/" + url.PathEscape(providerMessageID)
	if err := c.do(ctx, "status", http.MethodGet, path, nil, &res); err != nil {
		return StatusResult{}, err
	}
	return res, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return appErrors.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// network failures and deadline expiry are worth another attempt
		return &appErrors.TransientGatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode >= 500:
		return &appErrors.TransientGatewayError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(raw))),
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &appErrors.TransientGatewayError{Op: op, StatusCode: resp.StatusCode, Err: errors.New("rate limited")}
	case resp.StatusCode >= 400:
		return &appErrors.GatewayRejected{Op: op, StatusCode: resp.StatusCode, Reason: strings.TrimSpace(string(raw))}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &appErrors.TransientGatewayError{Op: op, StatusCode: resp.StatusCode, Err: errors.New("unexpected status")}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &appErrors.TransientGatewayError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
