package notifyclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestEdgeTrigger_Sequence(t *testing.T) {
	cases := []struct {
		name   string
		counts []int
		fires  int
	}{
		{"zero one two", []int{0, 1, 2}, 1},
		{"cold start high", []int{5}, 0},
		{"cold start then rise", []int{3, 4}, 1},
		{"steady", []int{2, 2, 2}, 0},
		{"drop then rise", []int{2, 0, 1, 3}, 1},
		{"repeated rises", []int{1, 2, 3}, 2},
	}
	for _, tc := range cases {
		var e EdgeTrigger
		fires := 0
		for _, c := range tc.counts {
			if e.Observe(c) {
				fires++
			}
		}
		if fires != tc.fires {
			t.Fatalf("%s: expected %d fires, got %d", tc.name, tc.fires, fires)
		}
	}
}

func TestEdgeTrigger_FiresOnOneToTwo(t *testing.T) {
	var e EdgeTrigger
	if e.Observe(0) || e.Observe(1) {
		t.Fatal("0 and 0->1 must not fire")
	}
	if !e.Observe(2) {
		t.Fatal("1->2 must fire")
	}
}

func TestPoller_StopsAndAlerts(t *testing.T) {
	var calls atomic.Int32
	seq := []int{0, 1, 2, 2}
	var mu sync.Mutex
	var alerts []int

	p := NewPoller(PollerConfig{
		Interval: 5 * time.Millisecond,
		Fetch: func(context.Context) (int, error) {
			n := int(calls.Add(1)) - 1
			if n >= len(seq) {
				return seq[len(seq)-1], nil
			}
			return seq[n], nil
		},
		OnAlert: func(c int) {
			mu.Lock()
			alerts = append(alerts, c)
			mu.Unlock()
		},
	})

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Start(context.Background()); !errors.Is(err, ErrPollerRunning) {
		t.Fatalf("expected ErrPollerRunning, got %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < int32(len(seq)) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()
	p.Stop()

	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	if calls.Load() != after {
		t.Fatal("poller kept running after Stop")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(alerts) != 1 || alerts[0] != 2 {
		t.Fatalf("expected a single alert at 2, got %v", alerts)
	}
}

func TestPoller_StopsWithSessionContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPoller(PollerConfig{
		Interval: time.Millisecond,
		Fetch:    func(context.Context) (int, error) { return 0, nil },
	})
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()
	p.Stop()
}

func TestClient_UnreadCountAndErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "authentication required"})
			return
		}
		switch r.URL.Path {
		case "/api/v1/notifications/unread-count":
			_ = json.NewEncoder(w).Encode(map[string]int{"count": 3})
		case "/api/v1/notifications/abc/read":
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "forbidden"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", WithHTTPClient(srv.Client()))
	n, err := c.UnreadCount(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("expected 3, got %d (%v)", n, err)
	}

	err = c.MarkRead(context.Background(), "abc")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden {
		t.Fatalf("expected 403 APIError, got %v", err)
	}

	if _, err := New(srv.URL, "").UnreadCount(context.Background()); err == nil {
		t.Fatal("expected error without token")
	}
}
