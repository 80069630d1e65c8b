package server

import (
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// counterValue returns the value of the counter family name whose labels
// include want, or -1 when absent.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return -1
}

func Test_Metrics_EndpointReturns200(t *testing.T) {
	t.Parallel()
	s, _ := newRoutedServer(t, Deps{Engine: &fakeEngine{}, Vectors: &fakeVectors{}, Metadata: &fakeMeta{}}, "")
	serve(s, http.MethodGet, "/api/health", "")

	w := serve(s, http.MethodGet, "/metrics", "")

	if w.Code != http.StatusOK {
		t.Errorf("want 200, got %d", w.Code)
	}
	ct := w.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
	if !strings.Contains(w.Body.String(), "ragstore_http_requests_total") {
		t.Errorf("http counter missing from exposition:\n%s", w.Body.String())
	}
}

func Test_Metrics_QueryCounterByOutcome(t *testing.T) {
	t.Parallel()
	s, reg := newRoutedServer(t, Deps{Engine: &fakeEngine{}, Vectors: &fakeVectors{}, Metadata: &fakeMeta{}}, "")

	serve(s, http.MethodPost, "/api/query", `{"query":"anything"}`)

	if got := counterValue(t, reg, "ragstore_query_requests_total", map[string]string{"outcome": "no_results"}); got != 1 {
		t.Errorf("want no_results counter=1, got %v", got)
	}
}

func Test_Metrics_HandlerLabelUsesRoutePattern(t *testing.T) {
	t.Parallel()
	s, reg := newRoutedServer(t, Deps{Engine: &fakeEngine{}, Vectors: &fakeVectors{}, Metadata: &fakeMeta{}}, "")

	serve(s, http.MethodPatch, "/api/vectors/41", `{"a":1}`)
	serve(s, http.MethodPatch, "/api/vectors/42", `{"a":1}`)

	want := map[string]string{"method": "PATCH", labelHandler: "/api/vectors/{id}", "code": "204"}
	if got := counterValue(t, reg, "ragstore_http_requests_total", want); got != 2 {
		t.Errorf("want 2 requests under the route pattern, got %v", got)
	}
}
