package httpx

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

// TestCorrelationIDMiddleware covers behavior of CorrelationIDMiddleware and GetCorrelationID.
func TestCorrelationIDMiddleware(t *testing.T) {
	tests := []struct {
		name                string
		requestHeaders      map[string]string
		expectReuseHeader   bool
		providedValue       string
		expectGeneratedUUID bool
	}{
		{
			name:                "generate when header missing",
			requestHeaders:      nil,
			expectGeneratedUUID: true,
		},
		{
			name:              "reuse X-Correlation-ID header",
			requestHeaders:    map[string]string{CorrelationIDHeader: "abc123"},
			expectReuseHeader: true,
			providedValue:     "abc123",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			var handlerCtxID string
			final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				id, ok := GetCorrelationID(r.Context())
				if !ok {
					t.Errorf("expected correlation ID in context")
				}
				handlerCtxID = id
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.requestHeaders {
				req.Header.Set(k, v)
			}

			rr := httptest.NewRecorder()
			CorrelationIDMiddleware(final).ServeHTTP(rr, req)

			resp := rr.Result()
			gotHeader := resp.Header.Get(CorrelationIDHeader)
			if gotHeader == "" {
				t.Fatalf("expected response header %s to be set", CorrelationIDHeader)
			}

			if handlerCtxID == "" {
				t.Fatalf("expected context correlation ID to be set in handler")
			}

			// Reuse case: value should match provided internal header.
			if tt.expectReuseHeader && gotHeader != tt.providedValue {
				t.Errorf("expected middleware to reuse provided value %q, got %q", tt.providedValue, gotHeader)
			}

			if tt.expectGeneratedUUID {
				if _, err := uuid.Parse(gotHeader); err != nil {
					t.Errorf("expected generated correlation ID to be a UUID, got %q: %v", gotHeader, err)
				}
			}

			// Handler context ID should always match header set by middleware.
			if handlerCtxID != gotHeader {
				t.Errorf("expected handler context ID %q to equal response header %q", handlerCtxID, gotHeader)
			}
		})
	}
}

func TestRouteOf(t *testing.T) {
	tests := map[string]string{
		"/upload":                   "/upload",
		"/download/abc/0011":        "/download/{id}/{key}",
		"/download/":                "/download/{id}/{key}",
		"/healthz":                  "/healthz",
		"/downloadx/should/not/map": "/downloadx/should/not/map",
	}
	for in, want := range tests {
		if got := routeOf(in); got != want {
			t.Errorf("routeOf(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStatusRecorder(t *testing.T) {
	rr := httptest.NewRecorder()
	rec := &statusRecorder{ResponseWriter: rr, status: http.StatusOK}
	rec.WriteHeader(http.StatusTeapot)
	if rec.status != http.StatusTeapot || rr.Code != http.StatusTeapot {
		t.Fatalf("status not recorded: rec=%d rr=%d", rec.status, rr.Code)
	}
}

func TestCorrelationIDMiddlewareRejectsUnsafeValues(t *testing.T) {
	inbound := []string{
		strings.Repeat("a", 65),
		"abc def",
		"line\r\nbreak",
		"<script>",
		`quote"d`,
	}
	for _, in := range inbound {
		var ctxID string
		final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctxID, _ = GetCorrelationID(r.Context())
		})
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header[CorrelationIDHeader] = []string{in}
		rr := httptest.NewRecorder()
		CorrelationIDMiddleware(final).ServeHTTP(rr, req)

		got := rr.Header().Get(CorrelationIDHeader)
		if got == in {
			t.Fatalf("unsafe correlation id %q was echoed back", in)
		}
		if _, err := uuid.Parse(got); err != nil {
			t.Fatalf("expected a generated UUID for %q, got %q", in, got)
		}
		if ctxID != got {
			t.Fatalf("context id %q != header %q", ctxID, got)
		}
	}
}

func TestValidCorrelationID(t *testing.T) {
	tests := map[string]bool{
		"":                                     false,
		"abc123":                               true,
		"req-42_a.b":                           true,
		"0b7a3c52-4a3e-4d6e-9f0a-6c1d2e3f4a5b": true,
		strings.Repeat("x", 64):                true,
		strings.Repeat("x", 65):                false,
		"a b":                                  false,
		"a/b":                                  false,
	}
	for in, want := range tests {
		if got := validCorrelationID(in); got != want {
			t.Errorf("validCorrelationID(%q) = %v, want %v", in, got, want)
		}
	}
}
