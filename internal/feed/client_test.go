package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appErrors "github.com/unclebandit/smsleopard-delivery/internal/errors"
)

func TestEventsSendsWindowAndDecodesPage(t *testing.T) {
	since := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("since") != "2024-03-01T08:00:00Z" || q.Get("page") != "2" || q.Get("limit") != "50" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		if r.Header.Get("Authorization") != "Bearer shop-token" {
			t.Errorf("missing token")
		}
		w.Write([]byte(`{"events":[{"id":"e1","subjectType":"order","subjectId":"o1","action":"created","occurredAt":"2024-03-01T09:00:00Z"}],"nextPage":3}`))
	}))
	defer srv.Close()

	c := NewClient(time.Second, 100, 50)
	page, err := c.Events(context.Background(), Connection{BaseURL: srv.URL, Token: "shop-token"}, since, 2)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(page.Events) != 1 || page.NextPage != 3 {
		t.Fatalf("page = %+v", page)
	}
	e := page.Events[0]
	if e.ID != "e1" || e.SubjectType != SubjectOrder || e.Action != ActionCreated || !e.OccurredAt.Equal(since.Add(time.Hour)) {
		t.Errorf("event = %+v", e)
	}
}

func TestSubjectRoutesByType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/orders/o1":
			w.Write([]byte(`{"id":"o1","phone":"0712345678","firstName":"Amina","orderNumber":"#1001","total":2500}`))
		case "/customers/c1":
			w.Write([]byte(`{"id":"c1","phone":"+254712345678","firstName":"Juma"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(time.Second, 100, 50)
	conn := Connection{BaseURL: srv.URL + "/"}

	order, err := c.Subject(context.Background(), conn, SubjectOrder, "o1")
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	data := order.TemplateData()
	if data["order_number"] != "#1001" || data["total"] != "2500" || data["first_name"] != "Amina" {
		t.Errorf("template data = %v", data)
	}

	customer, err := c.Subject(context.Background(), conn, SubjectCustomer, "c1")
	if err != nil || customer.FirstName != "Juma" {
		t.Fatalf("customer = %+v, %v", customer, err)
	}

	_, err = c.Subject(context.Background(), conn, SubjectCustomer, "missing")
	if !appErrors.IsPermanent(err) {
		t.Errorf("404 should be permanent, got %v", err)
	}
	if _, err := c.Subject(context.Background(), conn, "invoice", "x"); !appErrors.IsPermanent(err) {
		t.Errorf("unknown subject type should be permanent, got %v", err)
	}
}

func TestServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(time.Second, 100, 50)
	_, err := c.Events(context.Background(), Connection{BaseURL: srv.URL}, time.Now(), 1)
	if err == nil || appErrors.IsPermanent(err) {
		t.Errorf("err = %v, want retryable error", err)
	}
}
