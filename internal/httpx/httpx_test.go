package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/haukened/oneshot/internal/app"
	"github.com/haukened/oneshot/internal/auth"
	"github.com/haukened/oneshot/internal/domain"
)

// --- fakes ---

type fakeService struct {
	mu        sync.Mutex
	uploadErr error
	uploads   []uploadCall
	files     map[string][]byte // id/key -> plaintext
	dlErr     error
}

type uploadCall struct {
	caller app.Caller
	data   []byte
}

func (f *fakeService) Upload(_ context.Context, caller app.Caller, plaintext []byte) (app.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return app.Receipt{}, f.uploadErr
	}
	f.uploads = append(f.uploads, uploadCall{caller: caller, data: append([]byte(nil), plaintext...)})
	return app.Receipt{FileID: "id-1", Key: "00112233445566778899aabbccddeeff"}, nil
}

func (f *fakeService) Download(_ context.Context, idStr, keyStr string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dlErr != nil {
		return nil, f.dlErr
	}
	data, ok := f.files[idStr+"/"+keyStr]
	if !ok {
		return nil, domain.ErrNotFound
	}
	delete(f.files, idStr+"/"+keyStr)
	return data, nil
}

type fakeUsers struct {
	users   map[string]string
	authErr error
}

func (f *fakeUsers) Authenticate(_ context.Context, username, password string) (auth.User, error) {
	if f.authErr != nil {
		return auth.User{}, f.authErr
	}
	if p, ok := f.users[username]; ok && p == password {
		return auth.User{ID: 1, Username: username}, nil
	}
	return auth.User{}, auth.ErrInvalidCredentials
}

func (f *fakeUsers) Create(_ context.Context, username, password string) (auth.User, error) {
	if err := auth.ValidateUsername(username); err != nil {
		return auth.User{}, err
	}
	if len(password) < 8 {
		return auth.User{}, auth.ErrWeakPassword
	}
	if _, ok := f.users[username]; ok {
		return auth.User{}, auth.ErrUserExists
	}
	f.users[username] = password
	return auth.User{ID: int64(len(f.users)), Username: username}, nil
}

func newTestRouter(svc *fakeService, users *fakeUsers) (*Handler, http.Handler) {
	h := New(svc, users, 1024, nil)
	h.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return h, h.Router()
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(content); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	} else if err := mw.WriteField("other", "x"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func uploadRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	body, ctype := multipartBody(t, field, filename, content)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ctype)
	req.SetBasicAuth("alice", "correct horse")
	return req
}

func errorBody(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error
}

// --- tests ---

func TestUploadSuccess(t *testing.T) {
	svc := &fakeService{}
	_, router := newTestRouter(svc, &fakeUsers{users: map[string]string{"alice": "correct horse"}})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, uploadRequest(t, "file", "notes.txt", []byte("hello")))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rr.Code, rr.Body.String())
	}
	var receipt app.Receipt
	if err := json.NewDecoder(rr.Body).Decode(&receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if receipt.FileID != "id-1" || len(receipt.Key) != 32 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if len(svc.uploads) != 1 || svc.uploads[0].caller.Username != "alice" || string(svc.uploads[0].data) != "hello" {
		t.Fatalf("unexpected upload calls %+v", svc.uploads)
	}
}

func TestUploadEmptyFile(t *testing.T) {
	svc := &fakeService{}
	_, router := newTestRouter(svc, &fakeUsers{users: map[string]string{"alice": "correct horse"}})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, uploadRequest(t, "file", "empty.bin", nil))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 for empty file, got %d", rr.Code)
	}
	if len(svc.uploads) != 1 || len(svc.uploads[0].data) != 0 {
		t.Fatalf("unexpected upload calls %+v", svc.uploads)
	}
}

func TestUploadAuth(t *testing.T) {
	users := &fakeUsers{users: map[string]string{"alice": "correct horse"}}
	tests := []struct {
		name     string
		user     string
		password string
		noAuth   bool
		authErr  error
		want     int
	}{
		{name: "missing", noAuth: true, want: http.StatusUnauthorized},
		{name: "wrong password", user: "alice", password: "nope", want: http.StatusUnauthorized},
		{name: "unknown user", user: "bob", password: "correct horse", want: http.StatusUnauthorized},
		{name: "directory failure", user: "alice", password: "correct horse", authErr: errors.New("db"), want: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			users.authErr = tc.authErr
			svc := &fakeService{}
			_, router := newTestRouter(svc, users)
			req := uploadRequest(t, "file", "a.txt", []byte("x"))
			req.Header.Del("Authorization")
			if !tc.noAuth {
				req.SetBasicAuth(tc.user, tc.password)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
			if tc.want == http.StatusUnauthorized && !strings.HasPrefix(rr.Header().Get("WWW-Authenticate"), "Basic") {
				t.Fatalf("missing Basic challenge, got %q", rr.Header().Get("WWW-Authenticate"))
			}
			if len(svc.uploads) != 0 {
				t.Fatalf("service must not be called without valid credentials")
			}
		})
	}
}

func TestUploadFormErrors(t *testing.T) {
	users := &fakeUsers{users: map[string]string{"alice": "correct horse"}}
	tests := []struct {
		name string
		req  func(t *testing.T) *http.Request
		code int
		msg  string
	}{
		{
			name: "no file part",
			req:  func(t *testing.T) *http.Request { return uploadRequest(t, "", "", nil) },
			code: http.StatusBadRequest,
			msg:  "No file part",
		},
		{
			name: "no selected file",
			req:  func(t *testing.T) *http.Request { return uploadRequest(t, "file", "", []byte("x")) },
			code: http.StatusBadRequest,
			msg:  "No selected file",
		},
		{
			name: "not multipart",
			req: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("raw"))
				req.SetBasicAuth("alice", "correct horse")
				return req
			},
			code: http.StatusBadRequest,
			msg:  "No file part",
		},
		{
			name: "too large",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "file", "big.bin", bytes.Repeat([]byte("a"), 1025))
			},
			code: http.StatusRequestEntityTooLarge,
			msg:  "size exceeded",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, router := newTestRouter(&fakeService{}, users)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, tc.req(t))
			if rr.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, rr.Code)
			}
			if got := errorBody(t, rr); got != tc.msg {
				t.Fatalf("expected %q, got %q", tc.msg, got)
			}
		})
	}
}

func TestUploadMethodAndPath(t *testing.T) {
	_, router := newTestRouter(&fakeService{}, &fakeUsers{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/upload", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestUploadServiceError(t *testing.T) {
	svc := &fakeService{uploadErr: domain.ErrCollision}
	_, router := newTestRouter(svc, &fakeUsers{users: map[string]string{"alice": "correct horse"}})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, uploadRequest(t, "file", "a.txt", []byte("x")))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestDownloadOnce(t *testing.T) {
	svc := &fakeService{files: map[string][]byte{"abc/k3y": []byte("payload")}}
	_, router := newTestRouter(svc, &fakeUsers{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/download/abc/k3y", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Body.String() != "payload" {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); cd != `attachment; filename="downloaded_file"` {
		t.Fatalf("unexpected disposition %q", cd)
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("expected no-store")
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/download/abc/k3y", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second download, got %d", rr.Code)
	}
	if got := errorBody(t, rr); got != "File not found" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestDownloadErrors(t *testing.T) {
	tests := []struct {
		name string
		path string
		err  error
		code int
		msg  string
	}{
		{"bad key", "/download/abc/def", domain.ErrAuthenticationFailed, http.StatusBadRequest, "Key incorrect or message corrupted"},
		{"malformed key", "/download/abc/zz", domain.ErrMalformedKey, http.StatusBadRequest, "Key incorrect or message corrupted"},
		{"invalid id", "/download/abc/def", domain.ErrInvalidID, http.StatusNotFound, "File not found"},
		{"unknown id malformed key", "/download/0b7a3c52-4a3e-4d6e-9f0a-6c1d2e3f4a5b/zz", nil, http.StatusNotFound, "File not found"},
		{"missing key", "/download/abc", nil, http.StatusNotFound, "File not found"},
		{"empty key", "/download/abc/", nil, http.StatusNotFound, "File not found"},
		{"extra segment", "/download/abc/def/ghi", nil, http.StatusNotFound, "File not found"},
		{"internal", "/download/abc/def", errors.New("disk on fire"), http.StatusInternalServerError, "internal"},
		{"timeout", "/download/abc/def", context.DeadlineExceeded, http.StatusServiceUnavailable, "try again"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, router := newTestRouter(&fakeService{dlErr: tc.err}, &fakeUsers{})
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tc.path, nil))
			if rr.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, rr.Code)
			}
			if got := errorBody(t, rr); got != tc.msg {
				t.Fatalf("expected %q, got %q", tc.msg, got)
			}
			if strings.Contains(rr.Body.String(), "disk on fire") {
				t.Fatalf("raw error leaked to client")
			}
		})
	}
}

func TestDownloadMethod(t *testing.T) {
	_, router := newTestRouter(&fakeService{}, &fakeUsers{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/download/a/b", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestRegister(t *testing.T) {
	users := &fakeUsers{users: map[string]string{"alice": "correct horse"}}
	h, _ := newTestRouter(&fakeService{}, users)
	h.AllowRegister = true
	router := h.Router()

	post := func(form string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(form))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	if rr := post("username=bob&password=longenough"); rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rr.Code, rr.Body.String())
	}
	if rr := post("username=bob&password=longenough"); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate, got %d", rr.Code)
	}
	if rr := post("username=carol&password=short"); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on weak password, got %d", rr.Code)
	}
	if rr := post("username=&password=longenough"); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on empty username, got %d", rr.Code)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/register", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestRegisterDisabled(t *testing.T) {
	_, router := newTestRouter(&fakeService{}, &fakeUsers{users: map[string]string{}})
	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader("username=bob&password=longenough"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when registration is disabled, got %d", rr.Code)
	}
}

func TestMetricsMounted(t *testing.T) {
	h, _ := newTestRouter(&fakeService{}, &fakeUsers{})
	h.Metrics = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("metrics"))
	})
	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "metrics" {
		t.Fatalf("unexpected metrics response %d %q", rr.Code, rr.Body.String())
	}
}

func TestRouterHeaders(t *testing.T) {
	_, router := newTestRouter(&fakeService{}, &fakeUsers{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("unexpected health response %d %q", rr.Code, rr.Body.String())
	}
	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"Referrer-Policy":        "no-referrer",
		"Cache-Control":          "no-store",
	} {
		if got := rr.Header().Get(header); got != want {
			t.Errorf("%s: expected %q, got %q", header, want, got)
		}
	}
	if rr.Header().Get(CorrelationIDHeader) == "" {
		t.Errorf("expected correlation id header")
	}
}

func TestAccessLogRedactsKey(t *testing.T) {
	var buf bytes.Buffer
	h, _ := newTestRouter(&fakeService{files: map[string][]byte{}}, &fakeUsers{})
	h.Logger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/download/some-id/secretkeymaterial", nil))
	out := buf.String()
	if strings.Contains(out, "secretkeymaterial") {
		t.Fatalf("key leaked into logs: %s", out)
	}
	if !strings.Contains(out, "/download/{id}/{key}") {
		t.Fatalf("expected route label in logs: %s", out)
	}
}
