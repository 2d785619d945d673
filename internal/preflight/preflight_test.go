package preflight

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHealthURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "http://localhost:3000", want: "http://localhost:3000/health"},
		{in: "http://localhost:3000/", want: "http://localhost:3000/health"},
		{in: "https://runner.example.com/api?x=1", want: "https://runner.example.com/api/health"},
		{in: "ws://localhost:3000", want: "http://localhost:3000/health"},
		{in: "wss://runner.example.com", want: "https://runner.example.com/health"},
		{in: "ftp://localhost", wantErr: true},
		{in: "http://", wantErr: true},
	}
	for _, tt := range tests {
		got, err := HealthURL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("HealthURL(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("HealthURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCheckHealthy(t *testing.T) {
	var gotPath, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeader = r.Header.Get("X-Api-Key")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	headers := http.Header{}
	headers.Set("X-Api-Key", "secret")
	if err := New(time.Second, headers).Check(context.Background(), srv.URL); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if gotPath != "/health" {
		t.Errorf("path = %q, want /health", gotPath)
	}
	if gotHeader != "secret" {
		t.Errorf("X-Api-Key = %q, want secret", gotHeader)
	}
}

func TestCheckNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := Check(context.Background(), srv.URL, time.Second)
	if !errors.Is(err, ErrUnhealthy) {
		t.Fatalf("Check() error = %v, want ErrUnhealthy", err)
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error should mention the status: %v", err)
	}
}

func TestCheckUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if err := Check(context.Background(), url, 500*time.Millisecond); !errors.Is(err, ErrUnhealthy) {
		t.Fatalf("Check() error = %v, want ErrUnhealthy", err)
	}
}

func TestCheckTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	err := Check(context.Background(), srv.URL, 100*time.Millisecond)
	if !errors.Is(err, ErrUnhealthy) {
		t.Fatalf("Check() error = %v, want ErrUnhealthy", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("Check() took %v, expected the timeout to apply", time.Since(start))
	}
}
