package webcmd

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saveenergy/speedgauge/internal/cli"
	"github.com/saveenergy/speedgauge/internal/config"
)

func TestArgsApply(t *testing.T) {
	cfg := config.DefaultConfig()
	args{Listen: ":9999", WebRoot: "/srv/www", NoMetrics: true}.apply(cfg)

	assert.Equal(t, ":9999", cfg.ListenAddress)
	assert.Equal(t, "/srv/www", cfg.WebRoot)
	assert.False(t, cfg.MetricsEnabled)
}

func TestRunServesDisplayUntilCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("title: Bench\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, args{Common: cli.Common{Config: path}, Listen: "127.0.0.1:0", version: "test"}, ready)
	}()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("server exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + addr + "/api/v1/version")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"title":"Bench"`)

	resp, err = http.Get("http://" + addr + "/api/v1/display")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.True(t, strings.Contains(string(body), `"state":"idle"`), string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
