package command

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSendPostsEnvelopeAndReturnsPayload(t *testing.T) {
	var got Request
	var requestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected json content type, got %q", ct)
		}
		requestID = r.Header.Get("X-Request-Id")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = io.WriteString(w, `{"payload":{"sid":"WKxxx","activity_name":"Idle"}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, ClientOptions{})
	payload, err := c.Send(context.Background(), Request{
		URL:       "https://taskrouter.example/v1/Workspaces/WSxxx/Workers/WKxxx",
		Method:    http.MethodPost,
		Params:    Params{}.Set("ActivitySid", "WAxxx").Set("RejectPendingReservations", ""),
		EventType: "",
		Token:     "tok",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	var decoded map[string]string
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded["activity_name"] != "Idle" {
		t.Fatalf("expected activity_name Idle, got %q", decoded["activity_name"])
	}

	if got.Method != http.MethodPost || got.Token != "tok" {
		t.Fatalf("unexpected envelope %+v", got)
	}
	if got.Params["ActivitySid"] != "WAxxx" {
		t.Fatalf("expected ActivitySid param, got %v", got.Params)
	}
	if _, ok := got.Params["RejectPendingReservations"]; ok {
		t.Fatal("expected empty param to be omitted")
	}
	if _, err := uuid.Parse(requestID); err != nil {
		t.Fatalf("expected uuid request id, got %q", requestID)
	}
}

func TestSendOmitsEmptyEventType(t *testing.T) {
	var raw map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&raw)
		_, _ = io.WriteString(w, `{"payload":null}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, ClientOptions{})
	if _, err := c.Send(context.Background(), Request{URL: "u", Method: http.MethodGet, Token: "t"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, ok := raw["event_type"]; ok {
		t.Fatal("expected event_type to be omitted")
	}
	if _, ok := raw["params"]; ok {
		t.Fatal("expected params to be omitted")
	}
}

func TestSendMapsStatusCodes(t *testing.T) {
	tests := []struct {
		status int
		want   error
		kind   Kind
	}{
		{http.StatusBadRequest, ErrMalformedRequest, KindMalformedRequest},
		{http.StatusUnauthorized, ErrTokenExpired, KindTokenExpired},
		{http.StatusForbidden, ErrInvalidToken, KindInvalidToken},
		{http.StatusNotFound, ErrNotFound, KindNotFound},
		{http.StatusInternalServerError, ErrInternal, KindInternal},
		{http.StatusBadGateway, ErrRequestFailed, KindRequestFailed},
		{http.StatusTeapot, ErrRequestFailed, KindRequestFailed},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, ClientOptions{}).Send(context.Background(), Request{URL: "u", Method: http.MethodGet})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			var cmdErr *Error
			if !errors.As(err, &cmdErr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if cmdErr.Kind != tt.kind || cmdErr.StatusCode != tt.status {
				t.Fatalf("expected kind %s status %d, got %s %d", tt.kind, tt.status, cmdErr.Kind, cmdErr.StatusCode)
			}
		})
	}
}

func TestSendTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL, ClientOptions{Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := c.Send(context.Background(), Request{URL: "u", Method: http.MethodGet})
	if !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("expected ErrRequestFailed, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("expected timeout to bound the call")
	}
}

func TestSendTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, ClientOptions{}).Send(context.Background(), Request{URL: "u", Method: http.MethodGet})
	if !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("expected ErrRequestFailed, got %v", err)
	}
	var cmdErr *Error
	if !errors.As(err, &cmdErr) || cmdErr.StatusCode != 0 {
		t.Fatalf("expected transport error without status, got %v", err)
	}
}

func TestSendInvalidResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>")
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, ClientOptions{}).Send(context.Background(), Request{URL: "u", Method: http.MethodGet})
	if !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("expected ErrRequestFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid response body") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestSendTracksConnectivity(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, `{"payload":{}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, ClientOptions{})
	for i := 0; i < 3; i++ {
		_, _ = c.Send(context.Background(), Request{URL: "https://tr/Workers/WKxxx", Method: http.MethodGet})
	}

	stats := c.Connectivity().Snapshot()
	if len(stats) != 1 {
		t.Fatalf("expected 1 endpoint, got %d", len(stats))
	}
	if stats[0].TotalCalls != 3 {
		t.Fatalf("expected 3 calls, got %d", stats[0].TotalCalls)
	}
	if len(stats[0].RecentErrors) != 1 {
		t.Fatalf("expected 1 recent error, got %v", stats[0].RecentErrors)
	}
	if stats[0].Status != "unhealthy" {
		t.Fatalf("expected unhealthy, got %s", stats[0].Status)
	}
}

func TestSenderFunc(t *testing.T) {
	var s Sender = SenderFunc(func(ctx context.Context, req Request) (json.RawMessage, error) {
		return json.RawMessage(`"ok"`), nil
	})
	out, err := s.Send(context.Background(), Request{})
	if err != nil || string(out) != `"ok"` {
		t.Fatalf("unexpected result %s %v", out, err)
	}
}
