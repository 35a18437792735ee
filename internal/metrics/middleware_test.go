package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newRouter(t *testing.T) (*chi.Mux, *HTTP) {
	t.Helper()
	m, err := NewHTTP(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}
	r := chi.NewRouter()
	r.Use(m.Middleware())
	return r, m
}

func TestMiddleware_RecordsRoutePattern(t *testing.T) {
	r, m := newRouter(t)
	r.Get("/collections/{name}/indexes", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("[]"))
	})

	for _, name := range []string{"people", "notes"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest("GET", "/collections/"+name+"/indexes", http.NoBody))
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rr.Code)
		}
	}

	got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "/collections/{name}/indexes", "200"))
	if got != 2 {
		t.Errorf("requests = %v, want 2", got)
	}
	if testutil.CollectAndCount(m.duration) == 0 {
		t.Error("expected duration observations")
	}
}

func TestMiddleware_StatusCodes(t *testing.T) {
	r, m := newRouter(t)
	r.Post("/reconcile", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	tests := []struct {
		method, path, status string
	}{
		{"POST", "/reconcile", "502"},
		{"GET", "/missing", "404"},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tc.method, tc.path, http.NoBody))
			if got := testutil.ToFloat64(m.requests.WithLabelValues(tc.method, tc.path, tc.status)); got != 1 {
				t.Errorf("requests{%s} = %v, want 1", tc.status, got)
			}
		})
	}
}

func TestNewHTTP_ReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewHTTP(reg)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	b, err := NewHTTP(reg)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if a.requests != b.requests {
		t.Error("second registration did not reuse the counter")
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"", "unknown"},
		{"/healthz", "/healthz"},
	}
	for _, tc := range tests {
		if got := normalizePath(tc.input); got != tc.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}
