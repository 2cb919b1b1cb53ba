// Package feed reads a tenant's e-commerce event feed.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	appErrors "github.com/unclebandit/smsleopard-delivery/internal/errors"
)

// Subject types and actions used by the feed.
const (
	SubjectOrder    = "order"
	SubjectCustomer = "customer"

	ActionCreated   = "created"
	ActionFulfilled = "fulfilled"
)

type Event struct {
	ID          string    `json:"id"`
	SubjectType string    `json:"subjectType"`
	SubjectID   string    `json:"subjectId"`
	Action      string    `json:"action"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// EventPage is one page of events. NextPage is 0 on the last page.
type EventPage struct {
	Events   []Event `json:"events"`
	NextPage int     `json:"nextPage"`
}

// Subject is an order or customer as far as message templates care.
type Subject struct {
	ID          string      `json:"id"`
	Phone       string      `json:"phone"`
	FirstName   string      `json:"firstName"`
	LastName    string      `json:"lastName"`
	OrderNumber string      `json:"orderNumber,omitempty"`
	Total       json.Number `json:"total,omitempty"`
}

// TemplateData is the placeholder set available to automation templates.
func (s Subject) TemplateData() map[string]string {
	return map[string]string{
		"first_name":   s.FirstName,
		"last_name":    s.LastName,
		"order_number": s.OrderNumber,
		"total":        s.Total.String(),
	}
}

// Connection is a tenant's feed endpoint.
type Connection struct {
	BaseURL string
	Token   string
}

type Client struct {
	http     *http.Client
	timeout  time.Duration
	pageSize int
	limiter  *rate.Limiter
}

// NewClient builds a feed client. requestsPerSecond is shared across all
// tenants served by this process.
func NewClient(timeout time.Duration, requestsPerSecond float64, pageSize int) *Client {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Client{
		http:     &http.Client{},
		timeout:  timeout,
		pageSize: pageSize,
		limiter:  rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

// Events returns one page of events that occurred at or after since.
func (c *Client) Events(ctx context.Context, conn Connection, since time.Time, page int) (EventPage, error) {
	params := url.Values{}
	params.Set("since", since.UTC().Format(time.RFC3339))
	params.Set("page", strconv.Itoa(page))
	params.Set("limit", strconv.Itoa(c.pageSize))

	var out EventPage
	if err := c.get(ctx, conn, "/events", params, &out); err != nil {
		return EventPage{}, err
	}
	return out, nil
}

// Subject fetches the order or customer an event refers to.
func (c *Client) Subject(ctx context.Context, conn Connection, subjectType, id string) (Subject, error) {
	var collection string
	switch subjectType {
	case SubjectOrder:
		collection = "orders"
	case SubjectCustomer:
		collection = "customers"
	default:
		return Subject{}, appErrors.Permanent(fmt.Errorf("unknown subject type %q", subjectType))
	}
	var out Subject
	if err := c.get(ctx, conn, "/"+collection+"/"+url.PathEscape(id), nil, &out); err != nil {
		return Subject{}, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, conn Connection, path string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := strings.TrimRight(conn.BaseURL, "/") + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return appErrors.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if conn.Token != "" {
		req.Header.Set("Authorization", "Bearer "+conn.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("feed %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("feed api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return appErrors.Permanent(err)
		}
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("feed %s: decode: %w", path, err)
	}
	return nil
}

// ErrNoConnection is returned for tenants without a feed.
var ErrNoConnection = errors.New("tenant has no feed connection")
