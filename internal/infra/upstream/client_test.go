//go:build !integration

package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"gpt-subscription-orchestrator/internal/domain/model"
)

func testLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func newTestClient(baseURL string, limiter RateLimiter) *Client {
	return NewClient(Options{
		BaseURL:      baseURL,
		Token:        "test-token",
		Timeout:      2 * time.Second,
		PollInterval: 5 * time.Millisecond,
		MaxPolls:     5,
	}, limiter, testLogger())
}

func TestClient_Activate(t *testing.T) {
	ctx := context.Background()
	payload := `{"accessToken":"tok"}`

	t.Run("synchronous fulfillment", func(t *testing.T) {
		var gotAuth string
		var gotBody submitRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
			_ = json.NewEncoder(w).Encode(taskResponse{TaskID: "t-1", Status: "fulfilled"})
		}))
		defer srv.Close()

		out, err := newTestClient(srv.URL, nil).Activate(ctx, "AAAA-BBBB", payload)
		if err != nil {
			t.Fatalf("activate: %v", err)
		}
		if !out.Success || out.TaskID != "t-1" {
			t.Errorf("outcome = %+v, want success t-1", out)
		}
		if gotAuth != "Bearer test-token" {
			t.Errorf("auth header = %q", gotAuth)
		}
		if gotBody.Code != "AAAA-BBBB" || string(gotBody.Session) != payload {
			t.Errorf("submit body = %+v", gotBody)
		}
	})

	t.Run("pending task settles after a few polls", func(t *testing.T) {
		var polls int32
		mux := http.NewServeMux()
		mux.HandleFunc("POST /v1/activations", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(taskResponse{TaskID: "t-2", Status: "pending"})
		})
		mux.HandleFunc("GET /v1/activations/t-2", func(w http.ResponseWriter, r *http.Request) {
			status := "pending"
			if atomic.AddInt32(&polls, 1) >= 3 {
				status = "fulfilled"
			}
			_ = json.NewEncoder(w).Encode(taskResponse{TaskID: "t-2", Status: status})
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		out, err := newTestClient(srv.URL, nil).Activate(ctx, "CODE", payload)
		if err != nil {
			t.Fatalf("activate: %v", err)
		}
		if !out.Success || out.TaskID != "t-2" {
			t.Errorf("outcome = %+v, want success t-2", out)
		}
		if n := atomic.LoadInt32(&polls); n != 3 {
			t.Errorf("polls = %d, want 3", n)
		}
	})

	t.Run("domain rejection is final, no retry", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			_ = json.NewEncoder(w).Encode(taskResponse{TaskID: "t-3", Status: "rejected", Reason: model.ReasonCodeAlreadyUsed})
		}))
		defer srv.Close()

		out, err := newTestClient(srv.URL, nil).Activate(ctx, "CODE", payload)
		if err != nil {
			t.Fatalf("activate: %v", err)
		}
		if out.Success || out.Ambiguous {
			t.Errorf("outcome = %+v, want plain rejection", out)
		}
		if out.Reason != model.ReasonCodeAlreadyUsed {
			t.Errorf("reason = %q", out.Reason)
		}
		if n := atomic.LoadInt32(&calls); n != 1 {
			t.Errorf("submit calls = %d, want 1", n)
		}
	})

	t.Run("structured 4xx maps to a rejection", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(taskResponse{Error: model.ReasonInvalidSession})
		}))
		defer srv.Close()

		out, err := newTestClient(srv.URL, nil).Activate(ctx, "CODE", payload)
		if err != nil {
			t.Fatalf("activate: %v", err)
		}
		if out.Success || out.Ambiguous {
			t.Errorf("outcome = %+v, want rejection", out)
		}
		if out.Reason != model.ReasonInvalidSession {
			t.Errorf("reason = %q", out.Reason)
		}
	})

	t.Run("persistent 5xx on submit is ambiguous after one retry", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(taskResponse{})
		}))
		defer srv.Close()

		out, err := newTestClient(srv.URL, nil).Activate(ctx, "CODE", payload)
		if err != nil {
			t.Fatalf("activate: %v", err)
		}
		if !out.Ambiguous {
			t.Errorf("outcome = %+v, want ambiguous", out)
		}
		if n := atomic.LoadInt32(&calls); n != 2 {
			t.Errorf("submit calls = %d, want 2 (one retry)", n)
		}
	})

	t.Run("task never settling exhausts the poll budget as ambiguous", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("POST /v1/activations", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(taskResponse{TaskID: "t-4", Status: "pending"})
		})
		mux.HandleFunc("GET /v1/activations/t-4", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(taskResponse{TaskID: "t-4", Status: "pending"})
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		out, err := newTestClient(srv.URL, nil).Activate(ctx, "CODE", payload)
		if err != nil {
			t.Fatalf("activate: %v", err)
		}
		if !out.Ambiguous {
			t.Errorf("outcome = %+v, want ambiguous", out)
		}
	})
}

type deniedLimiter struct{}

func (deniedLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return false, nil
}

func TestClient_ActivateRateBudget(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	c := NewClient(Options{
		BaseURL:    srv.URL,
		Timeout:    50 * time.Millisecond,
		RateLimit:  1,
		RateWindow: time.Minute,
	}, deniedLimiter{}, testLogger())

	out, err := c.Activate(context.Background(), "CODE", `{}`)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if out.Success || out.Ambiguous {
		t.Errorf("outcome = %+v, want plain rejection", out)
	}
	if out.Reason != "rate_limited" {
		t.Errorf("reason = %q, want rate_limited", out.Reason)
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("requests = %d, want 0 (never reached the wire)", n)
	}
}
