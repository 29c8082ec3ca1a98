package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/pulse/internal/circuitbreaker"
	"github.com/lalithlochan/pulse/internal/signer"
)

func TestPostSignsExactBodyBytes(t *testing.T) {
	const secret = "test-secret"

	var gotSig, gotTS string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotTS = r.Header.Get(TimestampHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(Config{}, nil, zap.NewNop())

	result, err := client.Post(context.Background(), srv.URL, secret, map[string]any{"hello": "world"})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if !result.OK() {
		t.Errorf("expected success for 200, got status %d", result.StatusCode)
	}

	if !signer.Verify(gotBody, gotSig, secret) {
		t.Error("signature does not verify against received body bytes")
	}
	if _, err := time.Parse(time.RFC3339, gotTS); err != nil {
		t.Errorf("timestamp header not RFC3339: %q", gotTS)
	}
}

func TestPostClassifiesStatusCodes(t *testing.T) {
	tests := []struct {
		status int
		ok     bool
	}{
		{200, true},
		{204, true},
		{302, true},
		{400, false},
		{404, false},
		{500, false},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		client := NewClient(Config{}, nil, zap.NewNop())
		result, err := client.Post(context.Background(), srv.URL, "s", map[string]int{"a": 1})
		srv.Close()

		if err != nil {
			t.Fatalf("Post with status %d: %v", tt.status, err)
		}
		if result.OK() != tt.ok {
			t.Errorf("status %d: OK() = %t, want %t", tt.status, result.OK(), tt.ok)
		}
	}
}

func TestPostTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewClient(Config{Timeout: 20 * time.Millisecond}, nil, zap.NewNop())

	_, err := client.Post(context.Background(), srv.URL, "s", map[string]int{"a": 1})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestPostTruncatesResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		for i := 0; i < 200; i++ {
			w.Write([]byte("0123456789"))
		}
	}))
	defer srv.Close()

	client := NewClient(Config{}, nil, zap.NewNop())
	result, err := client.Post(context.Background(), srv.URL, "s", map[string]int{"a": 1})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if len(result.Body) > 1000 {
		t.Errorf("response body not truncated: %d bytes", len(result.Body))
	}
}

func TestPostFailsFastWhenBreakerOpen(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:            "webhook",
		MaxFailures:     2,
		RecoveryTimeout: time.Minute,
	}, zap.NewNop())

	client := NewClient(Config{}, breaker, zap.NewNop())

	for i := 0; i < 2; i++ {
		if _, err := client.Post(context.Background(), srv.URL, "s", map[string]int{"a": 1}); err != nil {
			t.Fatalf("Post %d: %v", i, err)
		}
	}

	_, err := client.Post(context.Background(), srv.URL, "s", map[string]int{"a": 1})
	if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 2 {
		t.Errorf("breaker did not stop requests, server saw %d calls", calls)
	}
}
