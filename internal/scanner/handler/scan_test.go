package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/hashverdict/internal/digest"
	"github.com/jmerrifield20/hashverdict/internal/scanner/handler"
	"github.com/jmerrifield20/hashverdict/internal/scanner/service"
	"github.com/jmerrifield20/hashverdict/internal/threat"
	"go.uber.org/zap"
)

const testToken = "test"

// ── Stub provider ─────────────────────────────────────────────────────────

type countingProvider struct {
	res   *threat.Result
	err   error
	calls int
	last  string
}

func (p *countingProvider) Lookup(_ context.Context, d string) (*threat.Result, error) {
	p.calls++
	p.last = d
	return p.res, p.err
}

// ── Test setup ────────────────────────────────────────────────────────────

func setupScanRouter(t *testing.T, p threat.Provider, cfg handler.Config) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if cfg.AuthToken == "" {
		cfg.AuthToken = testToken
	}
	svc := service.NewScanService(p, zap.NewNop())
	h := handler.NewScanHandler(svc, cfg, zap.NewNop())

	r := gin.New()
	h.Register(r.Group(""))
	return r
}

func jsonScan(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/scan", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Bearer", testToken)
	return req
}

func fileScan(t *testing.T, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "upload.bin")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(content)) //nolint:errcheck
	mw.Close()                //nolint:errcheck

	req := httptest.NewRequest(http.MethodPost, "/scan", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Bearer", testToken)
	return req
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func messageOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	msg, _ := body["message"].(string)
	return msg
}

// ── Authentication ────────────────────────────────────────────────────────

func TestScan_Unauthorized_NeverReachesProvider(t *testing.T) {
	p := &countingProvider{res: threat.Unknown()}
	router := setupScanRouter(t, p, handler.Config{})

	for name, token := range map[string]string{"missing": "", "wrong": "nope", "prefix": "tes"} {
		req := jsonScan(`{"hash":"abc"}`)
		if token == "" {
			req.Header.Del("Bearer")
		} else {
			req.Header.Set("Bearer", token)
		}
		w := serve(router, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", name, w.Code)
		}
		if msg := messageOf(t, w); msg != "Unauthorized" {
			t.Errorf("%s: message %q", name, msg)
		}
	}
	if p.calls != 0 {
		t.Errorf("provider called %d times for unauthenticated requests", p.calls)
	}
}

func TestScan_AuthorizationBearerScheme(t *testing.T) {
	p := &countingProvider{res: threat.Unknown()}
	router := setupScanRouter(t, p, handler.Config{AuthHeader: "Authorization", AuthToken: "s3cret"})

	req := jsonScan(`{"hash":"abc"}`)
	req.Header.Set("Authorization", "Bearer s3cret")
	if w := serve(router, req); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	req = jsonScan(`{"hash":"abc"}`)
	req.Header.Set("Authorization", "s3cret")
	if w := serve(router, req); w.Code != http.StatusUnauthorized {
		t.Errorf("token without scheme: expected 401, got %d", w.Code)
	}
}

// ── Classification ────────────────────────────────────────────────────────

func TestScan_MissingHash_400(t *testing.T) {
	p := &countingProvider{res: threat.Unknown()}
	w := serve(setupScanRouter(t, p, handler.Config{}), jsonScan(`{}`))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if msg := messageOf(t, w); msg != "No hash provided" {
		t.Errorf("message %q", msg)
	}
	if p.calls != 0 {
		t.Error("provider must not be called")
	}
}

func TestScan_UnsupportedMediaType_415(t *testing.T) {
	p := &countingProvider{res: threat.Unknown()}
	req := httptest.NewRequest(http.MethodPost, "/scan", strings.NewReader("abc"))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Bearer", testToken)

	w := serve(setupScanRouter(t, p, handler.Config{}), req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", w.Code)
	}
	if msg := messageOf(t, w); msg != "Unsupported Media Type" {
		t.Errorf("message %q", msg)
	}
}

// ── Lookup outcomes ───────────────────────────────────────────────────────

func TestScan_Verdict_200(t *testing.T) {
	stats := threat.Stats{"malicious": 0, "suspicious": 0, "undetected": 5, "harmless": 70}
	p := &countingProvider{res: threat.Verdict(stats)}
	w := serve(setupScanRouter(t, p, handler.Config{}), jsonScan(`{"hash":"abc"}`))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var got map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 || got["undetected"] != 5 || got["harmless"] != 70 {
		t.Errorf("body: got %v", got)
	}
	if p.last != "abc" {
		t.Errorf("provider saw %q, want abc", p.last)
	}
	if w.Header().Get(handler.HeaderSeverity) != "clean" {
		t.Errorf("severity header: %q", w.Header().Get(handler.HeaderSeverity))
	}
	if w.Header().Get(handler.HeaderRequestID) == "" {
		t.Error("expected request ID header")
	}
}

func TestScan_GETIsAccepted(t *testing.T) {
	p := &countingProvider{res: threat.Unknown()}
	req := jsonScan(`{"hash":"abc"}`)
	req.Method = http.MethodGet

	if w := serve(setupScanRouter(t, p, handler.Config{}), req); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestScan_EmptyFileUnknownUpstream_EndToEnd(t *testing.T) {
	var paths []string
	vt := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"code":"NotFoundError"}}`)
	}))
	defer vt.Close()

	provider := threat.NewVirusTotalClient(vt.URL, "key", nil, zap.NewNop())
	router := setupScanRouter(t, provider, handler.Config{})

	w := serve(router, fileScan(t, ""))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if strings.TrimSpace(w.Body.String()) != "null" {
		t.Errorf("body: got %q, want null", w.Body.String())
	}
	if got := w.Header().Get(handler.HeaderDigest); got != string(digest.Empty) {
		t.Errorf("digest header: got %q", got)
	}
	if len(paths) != 1 || paths[0] != "/files/"+string(digest.Empty) {
		t.Errorf("upstream paths: %v", paths)
	}
}

func TestScan_UpstreamError_Strict502(t *testing.T) {
	p := &countingProvider{res: threat.UpstreamError(500, "server error")}
	w := serve(setupScanRouter(t, p, handler.Config{}), jsonScan(`{"hash":"abc"}`))

	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	var body struct {
		Message string `json:"message"`
		Status  int    `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != 500 {
		t.Errorf("upstream status: got %d, want 500", body.Status)
	}
}

func TestScan_UpstreamError_CollapsedToNull(t *testing.T) {
	p := &countingProvider{res: threat.UpstreamError(500, "server error")}
	w := serve(setupScanRouter(t, p, handler.Config{CollapseUpstreamErrors: true}), jsonScan(`{"hash":"abc"}`))

	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "null" {
		t.Fatalf("expected 200 null, got %d %q", w.Code, w.Body.String())
	}
}

func TestScan_ProviderErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"malformed", fmt.Errorf("x: %w", threat.ErrMalformedPayload), http.StatusBadGateway},
		{"transport", fmt.Errorf("%w: refused", threat.ErrTransport), http.StatusBadGateway},
		{"timeout", fmt.Errorf("%w: %w", threat.ErrTransport, context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"rate limited", fmt.Errorf("%w: wait", threat.ErrRateLimited), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &countingProvider{err: tc.err}
			w := serve(setupScanRouter(t, p, handler.Config{}), jsonScan(`{"hash":"abc"}`))
			if w.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, w.Code)
			}

			p = &countingProvider{err: tc.err}
			w = serve(setupScanRouter(t, p, handler.Config{CollapseUpstreamErrors: true}), jsonScan(`{"hash":"abc"}`))
			if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "null" {
				t.Errorf("collapsed: expected 200 null, got %d %q", w.Code, w.Body.String())
			}
		})
	}
}

func TestScan_ReadFailure_500(t *testing.T) {
	p := &countingProvider{res: threat.Unknown()}
	router := setupScanRouter(t, p, handler.Config{})

	// A truncated multipart body surfaces as a read error mid-part.
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "cut.bin")
	fw.Write(bytes.Repeat([]byte("a"), 10000)) //nolint:errcheck
	truncated := buf.Bytes()[:buf.Len()-10]

	req := httptest.NewRequest(http.MethodPost, "/scan", bytes.NewReader(truncated))
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Bearer", testToken)

	w := serve(router, req)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", w.Code, w.Body.String())
	}
	if p.calls != 0 {
		t.Error("provider must not be called after a read failure")
	}
}

func TestObserveLookup_DoesNotPanic(t *testing.T) {
	handler.ObserveLookup(threat.Unknown(), nil, 0)
	handler.ObserveLookup(nil, errors.New("boom"), 0)
	handler.ObserveLookup(nil, threat.ErrMalformedPayload, 0)
}
