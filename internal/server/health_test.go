package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakePinger struct {
	name string
	err  error
}

func (f *fakePinger) Name() string               { return f.name }
func (f *fakePinger) Ping(context.Context) error { return f.err }

// slowPinger blocks until its context ends.
type slowPinger struct{ name string }

func (p slowPinger) Name() string { return p.name }
func (p slowPinger) Ping(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func Test_Health_Liveness(t *testing.T) {
	t.Parallel()
	s := newTestServer()
	s.pingers = []Pinger{&fakePinger{name: "vector_store", err: errors.New("down")}}

	w := httptest.NewRecorder()
	s.handleHealth(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("liveness must not depend on pingers, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q", ct)
	}
	var body healthResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Version == "" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func Test_Health_Readiness(t *testing.T) {
	t.Parallel()
	down := errors.New("connection refused")

	tests := []struct {
		name       string
		pingers    []Pinger
		wantStatus int
		wantOK     []bool
	}{
		{"no dependencies", nil, http.StatusOK, []bool{}},
		{
			"all healthy",
			[]Pinger{&fakePinger{name: "vector_store"}, &fakePinger{name: "llm"}},
			http.StatusOK, []bool{true, true},
		},
		{
			"qdrant down",
			[]Pinger{&fakePinger{name: "vector_store"}, &fakePinger{name: "qdrant", err: down}, &fakePinger{name: "llm"}},
			http.StatusServiceUnavailable, []bool{true, false, true},
		},
		{
			"everything down",
			[]Pinger{&fakePinger{name: "vector_store", err: down}, &fakePinger{name: "llm", err: down}},
			http.StatusServiceUnavailable, []bool{false, false},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer()
			s.pingers = tc.pingers

			w := httptest.NewRecorder()
			s.handleReady(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))

			if w.Code != tc.wantStatus {
				t.Fatalf("status: want %d, got %d (%s)", tc.wantStatus, w.Code, w.Body.String())
			}
			var body readyResponse
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Ready != (tc.wantStatus == http.StatusOK) {
				t.Errorf("ready flag %v disagrees with status %d", body.Ready, w.Code)
			}
			if body.Checks == nil || len(body.Checks) != len(tc.wantOK) {
				t.Fatalf("checks: want %d, got %+v", len(tc.wantOK), body.Checks)
			}
			for i, c := range body.Checks {
				if c.Name != tc.pingers[i].Name() {
					t.Errorf("check %d: want name %q, got %q", i, tc.pingers[i].Name(), c.Name)
				}
				if c.OK != tc.wantOK[i] {
					t.Errorf("check %s: want ok=%v", c.Name, tc.wantOK[i])
				}
				if !c.OK && c.Error != down.Error() {
					t.Errorf("check %s: want error %q, got %q", c.Name, down, c.Error)
				}
			}
		})
	}
}

func Test_Health_ReadinessHonoursRequestDeadline(t *testing.T) {
	t.Parallel()
	s := newTestServer()
	s.pingers = []Pinger{slowPinger{name: "llm"}, &fakePinger{name: "vector_store"}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.handleReady(w, req)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("readiness check did not return after the request deadline")
	}

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("want 503 for a timed-out probe, got %d", w.Code)
	}
}
