// Package httpx contains the HTTP delivery layer (net/http handlers) for the oneshot service.
// It maps HTTP requests to the application service while enforcing authentication, size
// limits, security headers and error translation.
// Handlers are split across files (upload.go, download.go, register.go, health.go, errors.go).
package httpx

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/haukened/oneshot/internal/app"
	"github.com/haukened/oneshot/internal/auth"
)

// ServicePort abstracts the subset of app.Service used by the HTTP layer.
// It is satisfied by *app.Service in production and mocked in tests.
type ServicePort interface {
	Upload(ctx context.Context, caller app.Caller, plaintext []byte) (app.Receipt, error)
	Download(ctx context.Context, idStr, keyStr string) ([]byte, error)
}

// UserPort abstracts the user directory. *auth.Users satisfies it.
type UserPort interface {
	Authenticate(ctx context.Context, username, password string) (auth.User, error)
	Create(ctx context.Context, username, password string) (auth.User, error)
}

// Handler wires HTTP endpoints to the application service.
// It is safe for concurrent use. Zero-value is not valid; construct via New.
type Handler struct {
	Service       ServicePort
	Users         UserPort
	MaxBody       int64                       // largest accepted file (0 disables the check)
	Readiness     func(context.Context) error // optional readiness probe
	AllowRegister bool                        // mount POST /register
	Metrics       http.Handler                // optional /metrics handler
	Logger        *slog.Logger                // optional (defaults to slog.Default())
}

// New returns a configured Handler.
// svc: application service port implementation.
// users: user directory for Basic auth and registration.
// maxBody: maximum accepted file size (0 disables extra check).
// readiness: optional probe function for /readyz (nil => always ready).
func New(svc ServicePort, users UserPort, maxBody int64, readiness func(context.Context) error) *Handler {
	return &Handler{Service: svc, Users: users, MaxBody: maxBody, Readiness: readiness}
}

// Router constructs and returns an http.Handler with all routes mounted and
// the correlation, access log and security header middleware applied.
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", h.handleUpload)
	mux.HandleFunc("/download/", h.handleDownload) // expect /download/{id}/{key}
	if h.AllowRegister {
		mux.HandleFunc("/register", h.handleRegister)
	}
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/readyz", h.handleReady)
	if h.Metrics != nil {
		mux.Handle("/metrics", h.Metrics)
	}
	return CorrelationIDMiddleware(h.accessLog(h.secureHeaders(mux)))
}

func (h *Handler) log() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// secureHeaders middleware adds standard security & cache control headers.
// No route serves markup, so the policy denies everything.
func (h *Handler) secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")
		next.ServeHTTP(w, r)
	})
}
