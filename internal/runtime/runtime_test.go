package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/orderdesk/config"
)

func TestSignAndParseJWT(t *testing.T) {
	secret := []byte("s3cret")
	tok, err := SignJWT("alex@example.com", secret, time.Minute)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	sub, err := ParseJWT(tok, secret)
	if err != nil {
		t.Fatalf("ParseJWT: %v", err)
	}
	if sub != "alex@example.com" {
		t.Fatalf("unexpected subject %q", sub)
	}
	if _, err := ParseJWT(tok, []byte("other")); err == nil {
		t.Fatalf("expected wrong secret to fail")
	}
	expired, err := SignJWT("alex@example.com", secret, -time.Minute)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	if _, err := ParseJWT(expired, secret); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, header string) (int, string) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	var seen string
	err := mw(func(c echo.Context) error {
		seen, _ = SubjectFromContext(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	})(c)
	if err != nil {
		he, ok := err.(*echo.HTTPError)
		if !ok {
			t.Fatalf("unexpected error type %T", err)
		}
		return he.Code, seen
	}
	return rec.Code, seen
}

func TestEchoAuthMiddleware(t *testing.T) {
	secret := []byte("s3cret")
	tok, err := SignJWT("sam@example.com", secret, time.Minute)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}

	code, sub := runMiddleware(t, EchoAuthMiddleware(secret, false), "Bearer "+tok)
	if code != http.StatusNoContent || sub != "sam@example.com" {
		t.Fatalf("valid token: code=%d sub=%q", code, sub)
	}
	if code, _ := runMiddleware(t, EchoAuthMiddleware(secret, false), ""); code != http.StatusUnauthorized {
		t.Fatalf("missing token on required auth: %d", code)
	}
	code, sub = runMiddleware(t, EchoAuthMiddleware(secret, true), "")
	if code != http.StatusNoContent || sub != "" {
		t.Fatalf("optional auth without token: code=%d sub=%q", code, sub)
	}
	if code, _ := runMiddleware(t, EchoAuthMiddleware(secret, true), "Bearer garbage"); code != http.StatusUnauthorized {
		t.Fatalf("invalid token on optional auth: %d", code)
	}
}

func TestLoadJWTSecret(t *testing.T) {
	if _, err := LoadJWTSecret(&config.Config{}); err == nil {
		t.Fatalf("expected missing secret error")
	}
	cfg := &config.Config{Server: config.ServerConfig{JWTSecret: "x"}}
	got, err := LoadJWTSecret(cfg)
	if err != nil || string(got) != "x" {
		t.Fatalf("LoadJWTSecret: %q %v", got, err)
	}
}

func TestSetupTelemetry(t *testing.T) {
	ctx := context.Background()
	tel, tracer, err := SetupTelemetry(ctx, config.TelemetryConfig{Enabled: false, ServiceName: "orderdesk"}, TelemetryOptions{})
	if err != nil || tracer == nil {
		t.Fatalf("disabled telemetry: %v", err)
	}
	if err := tel.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	tel, tracer, err = SetupTelemetry(ctx, config.TelemetryConfig{Enabled: true, ServiceName: "orderdesk"}, TelemetryOptions{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("SetupTelemetry: %v", err)
	}
	_, span := tracer.Start(ctx, "test")
	if !span.SpanContext().IsValid() {
		t.Fatalf("expected a recording span")
	}
	span.End()
	if err := tel.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

type fakeService struct {
	started  chan struct{}
	stop     chan struct{}
	shutdown bool
}

func (f *fakeService) Start(string) error {
	close(f.started)
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeService) Shutdown(context.Context) error {
	f.shutdown = true
	close(f.stop)
	return nil
}

func TestServeStopsOnContextCancel(t *testing.T) {
	svc := &fakeService{started: make(chan struct{}), stop: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "test", ":0", svc, time.Second) }()
	<-svc.started
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return")
	}
	if !svc.shutdown {
		t.Fatalf("expected Shutdown to be called")
	}
}
