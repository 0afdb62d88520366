package influxdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/infrastructure/config"
)

// fakeInflux answers /ping and captures line protocol posted to /api/v2/write.
func fakeInflux(t *testing.T) (*httptest.Server, <-chan string) {
	t.Helper()
	writes := make(chan string, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body)
			writes <- r.URL.Query().Get("bucket") + "\n" + string(body)
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, writes
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "test-token",
		Org:           "home",
		Bucket:        "hasnapshot",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://localhost:8086")
	cfg.Enabled = false

	if _, err := Connect(cfg); !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if _, err := Connect(testConfig(url)); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWriteRun(t *testing.T) {
	srv, writes := fakeInflux(t)

	client, err := Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	client.WriteRun(RunPoint{
		Operation: "import_data",
		Status:    "success",
		Source:    "api",
		Duration:  1500 * time.Millisecond,
		Total:     3,
		Updated:   1,
		Skipped:   2,
	})
	client.Flush()

	select {
	case got := <-writes:
		bucket, line, _ := strings.Cut(got, "\n")
		if bucket != "hasnapshot" {
			t.Errorf("bucket = %q, want hasnapshot", bucket)
		}
		for _, want := range []string{
			"snapshot_runs,",
			"operation=import_data",
			"status=success",
			"duration_ms=1500i",
			"updated=1i",
			"skipped=2i",
		} {
			if !strings.Contains(line, want) {
				t.Errorf("line protocol %q missing %q", line, want)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no write received")
	}
}

func TestClose(t *testing.T) {
	srv, _ := fakeInflux(t)

	client, err := Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}

	// Writes and flushes after close are dropped silently.
	client.WritePoint("registry_size", nil, map[string]any{"entities": 1})
	client.Flush()

	var nilClient *Client
	if err := nilClient.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}
