package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"perceptor/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = freePort(t)
	cfg.Database.Path = filepath.Join(dir, "db", "perceptor.db")
	cfg.Engine.AlertDir = filepath.Join(dir, "alerts")
	// nothing listens here; the client connects lazily
	cfg.Classifier.Address = "127.0.0.1:1"
	return cfg
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewApplication_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.HTTP.Port = 0
	if _, err := NewApplication(context.Background(), cfg, quietLogger()); err == nil {
		t.Error("Expected invalid configuration error")
	}
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	cfg := config.DefaultConfig().Database
	cfg.Driver = "oracle"
	if _, err := OpenStore(context.Background(), cfg, nil, nil); err == nil {
		t.Error("Expected unsupported driver error")
	}
}

func TestApplication_StartStop(t *testing.T) {
	ctx := context.Background()
	app, err := NewApplication(ctx, testConfig(t), quietLogger())
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	base := "http://" + app.Addr()

	resp, err := http.Get(base + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	var health map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 from /health, got %d (%v)", resp.StatusCode, health)
	}
	if health["database"] != "healthy" {
		t.Errorf("Expected healthy database, got %v", health["database"])
	}

	resp, err = http.Get(base + "/api/alerts")
	if err != nil {
		t.Fatalf("GET /api/alerts failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 from /api/alerts, got %d", resp.StatusCode)
	}

	// kind is checked before the upgrade
	resp, err = http.Get(base + "/ws?kind=thermal")
	if err != nil {
		t.Fatalf("GET /ws failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 from /ws, got %d", resp.StatusCode)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if _, err := http.Get(base + "/health"); err == nil {
		t.Error("Expected server to stop accepting connections")
	}
}

func TestApplication_StartPortInUse(t *testing.T) {
	cfg := testConfig(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	cfg.HTTP.Port = ln.Addr().(*net.TCPAddr).Port

	ctx := context.Background()
	app, err := NewApplication(ctx, cfg, quietLogger())
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	defer app.Stop(ctx)

	if err := app.Start(ctx); err == nil {
		t.Error("Expected listen error for a port in use")
	}
}
