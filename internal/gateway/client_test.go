package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appErrors "github.com/unclebandit/smsleopard-delivery/internal/errors"
	"github.com/unclebandit/smsleopard-delivery/internal/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Options{BaseURL: srv.URL + "/", APIKey: "k", SenderID: "LEOPARD", Timeout: 500 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestSendPostsMessageWithDefaultSender(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/messages" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k" {
			t.Errorf("Authorization = %q", got)
		}
		var req SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.To != "+254700000001" || req.Message != "hi" || req.From != "LEOPARD" {
			t.Errorf("request body = %+v", req)
		}
		w.Write([]byte(`{"messageId":"m-1","status":"Queued"}`))
	})

	res, err := c.Send(context.Background(), SendRequest{To: "+254700000001", Message: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.MessageID != "m-1" || res.Status != "Queued" {
		t.Errorf("result = %+v", res)
	}
}

func TestSendServerErrorIsTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	_, err := c.Send(context.Background(), SendRequest{To: "+1", Message: "x"})
	var transient *appErrors.TransientGatewayError
	if !errors.As(err, &transient) {
		t.Fatalf("err = %v, want TransientGatewayError", err)
	}
	if transient.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d", transient.StatusCode)
	}
	if appErrors.IsPermanent(err) {
		t.Error("5xx must not be permanent")
	}
}

func TestSendClientErrorIsRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid destination", http.StatusUnprocessableEntity)
	})

	_, err := c.Send(context.Background(), SendRequest{To: "bad", Message: "x"})
	var rejected *appErrors.GatewayRejected
	if !errors.As(err, &rejected) {
		t.Fatalf("err = %v, want GatewayRejected", err)
	}
	if !appErrors.IsPermanent(err) {
		t.Error("4xx should be permanent")
	}
}

func TestSendTimeoutIsTransient(t *testing.T) {
	block := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	})
	defer close(block)

	_, err := c.Send(context.Background(), SendRequest{To: "+1", Message: "x"})
	var transient *appErrors.TransientGatewayError
	if !errors.As(err, &transient) {
		t.Fatalf("err = %v, want transient", err)
	}
}

func TestStatusDecodesDeliveredAt(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages/m-9" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"status":"DELIVRD","deliveredAt":"2024-03-01T10:00:00Z"}`))
	})

	res, err := c.Status(context.Background(), "m-9")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if res.Status != "DELIVRD" || res.DeliveredAt == nil {
		t.Fatalf("result = %+v", res)
	}
	if got, _ := MapStatus(res.Status); got != model.DeliveryDelivered {
		t.Errorf("MapStatus = %q", got)
	}
}

func TestMapStatus(t *testing.T) {
	tests := []struct {
		raw   string
		want  string
		known bool
	}{
		{"Queued", model.DeliverySent, true},
		{"Sent", model.DeliverySent, true},
		{"Delivered", model.DeliveryDelivered, true},
		{"Success", model.DeliveryDelivered, true},
		{"Failed", model.DeliveryFailed, true},
		{" undeliv ", model.DeliveryFailed, true},
		{"Expired", model.DeliveryFailed, true},
		{"SomethingNew", model.DeliverySent, false},
		{"", model.DeliverySent, false},
	}
	for _, tt := range tests {
		got, known := MapStatus(tt.raw)
		if got != tt.want || known != tt.known {
			t.Errorf("MapStatus(%q) = %q, %v; want %q, %v", tt.raw, got, known, tt.want, tt.known)
		}
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Options{}); err == nil {
		t.Fatal("expected error for empty base url")
	}
}
