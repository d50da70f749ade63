package app

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"huddle/internal/config"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(dir, "huddle.db")
	cfg.Files.Dir = filepath.Join(dir, "files")
	cfg.Unread.Path = filepath.Join(dir, "unread")
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = freePort(t)
	cfg.HTTP.ShutdownTimeout = 2 * time.Second
	cfg.Auth.JWTSecret = "application-test-secret"
	return cfg
}

func TestNewApplication_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"bad port", func(c *config.Config) { c.HTTP.Port = -1 }},
		{"short secret", func(c *config.Config) { c.Auth.JWTSecret = "short" }},
		{"unknown bus", func(c *config.Config) { c.Bus.Driver = "kafka" }},
		{"unknown unread driver", func(c *config.Config) { c.Unread.Driver = "redis" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			a, err := NewApplication(cfg)
			if err == nil || a != nil {
				t.Fatalf("expected error, got app=%v err=%v", a, err)
			}
		})
	}
}

func TestApplication_ServesHandlerWithoutListener(t *testing.T) {
	cfg := testConfig(t)
	cfg.Unread.Driver = "badger"

	a, err := NewApplication(cfg)
	if err != nil {
		t.Fatalf("NewApplication: %v", err)
	}
	defer a.Close()

	token, err := a.Tokens().Issue("alice")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if a.Handler() == nil {
		t.Fatal("nil handler")
	}
	if _, err := a.Tokens().Authenticate(token); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if a.Addr() != nil {
		t.Errorf("Addr before Run = %v", a.Addr())
	}
}

func TestApplication_RunAndShutdown(t *testing.T) {
	cfg := testConfig(t)
	a, err := NewApplication(cfg)
	if err != nil {
		t.Fatalf("NewApplication: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case <-a.Ready():
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("listener not ready")
	}

	resp, err := http.Get("http://" + a.Addr().String() + "/health")
	if err != nil {
		cancel()
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	resp, err = http.Get("http://" + a.Addr().String() + "/unread")
	if err != nil {
		cancel()
		t.Fatalf("GET /unread: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
